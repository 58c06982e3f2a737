package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seclens/seclens/internal/domain/workflow"
)

// WorkflowStore is a SQLite-backed workflow.Store. First-writer-wins is
// enforced by the database: every transition is a conditional UPDATE on
// status and version, and the winner is whoever gets RowsAffected == 1.
type WorkflowStore struct {
	db *sql.DB
}

// NewWorkflowStore creates a workflow store on an opened database.
func NewWorkflowStore(db *sql.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

const requestColumns = `id, vulnerability_id, requester_id, justification, scope,
	expires_at, status, auto_approved, reviewed_by, review_comment, reviewed_at,
	version, created_at, updated_at`

// Insert implements workflow.Store.
func (s *WorkflowStore) Insert(ctx context.Context, req *workflow.ExceptionRequest, grant *workflow.ExceptionGrant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Uniqueness is checked inside the transaction; with a single write
	// connection the check-then-insert pair is not interleaved.
	var n int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM exception_requests
		WHERE vulnerability_id = ? AND requester_id = ? AND status IN ('PENDING', 'APPROVED')`,
		req.VulnerabilityID, req.RequesterID).Scan(&n)
	if err != nil {
		return fmt.Errorf("check active requests: %w", err)
	}
	if n > 0 {
		return workflow.ErrDuplicateActive
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exception_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.VulnerabilityID, req.RequesterID, req.Justification, string(req.Scope),
		req.ExpiresAt.UnixMicro(), string(req.Status), boolToInt(req.AutoApproved),
		req.ReviewedBy, req.ReviewComment, nullableMicros(req.ReviewedAt),
		req.Version, req.CreatedAt.UnixMicro(), req.UpdatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	if grant != nil {
		if err := insertGrant(ctx, tx, grant); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get implements workflow.Store.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*workflow.ExceptionRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM exception_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ApplyTransition implements workflow.Store. The UPDATE carries the full
// transition precondition; zero rows affected means another writer moved
// first and the caller re-reads for attribution.
func (s *WorkflowStore) ApplyTransition(ctx context.Context, id string, expectedVersion int64, tr workflow.Transition) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE exception_requests
		SET status = ?, reviewed_by = ?, review_comment = ?, reviewed_at = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND status = 'PENDING' AND version = ?`,
		string(tr.ToStatus), tr.ReviewedBy, tr.ReviewComment, tr.ReviewedAt.UnixMicro(),
		tr.ReviewedAt.UnixMicro(), id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("apply transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if tr.Grant != nil {
		if err := insertGrant(ctx, tx, tr.Grant); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

// ExpirePending implements workflow.Store.
func (s *WorkflowStore) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE exception_requests
		SET status = 'EXPIRED', version = version + 1, updated_at = ?
		WHERE status = 'PENDING' AND expires_at < ?`,
		now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("expire pending requests: %w", err)
	}
	return res.RowsAffected()
}

// List implements workflow.Store.
func (s *WorkflowStore) List(ctx context.Context, filter workflow.ListFilter) ([]*workflow.ExceptionRequest, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.RequesterID != "" {
		conds = append(conds, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if filter.VulnerabilityID != "" {
		conds = append(conds, "vulnerability_id = ?")
		args = append(args, filter.VulnerabilityID)
	}
	query := `SELECT ` + requestColumns + ` FROM exception_requests`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*workflow.ExceptionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// GetGrantByRequest implements workflow.Store.
func (s *WorkflowStore) GetGrantByRequest(ctx context.Context, requestID string) (*workflow.ExceptionGrant, error) {
	g := &workflow.ExceptionGrant{}
	var scope string
	var expiresAt, createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, vulnerability_id, scope, granted_by, expires_at, created_at
		FROM exception_grants WHERE request_id = ?`, requestID).
		Scan(&g.ID, &g.RequestID, &g.VulnerabilityID, &scope, &g.GrantedBy, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	g.Scope = workflow.Scope(scope)
	g.ExpiresAt = time.UnixMicro(expiresAt).UTC()
	g.CreatedAt = time.UnixMicro(createdAt).UTC()
	return g, nil
}

func insertGrant(ctx context.Context, tx *sql.Tx, grant *workflow.ExceptionGrant) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO exception_grants (id, request_id, vulnerability_id, scope, granted_by, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		grant.ID, grant.RequestID, grant.VulnerabilityID, string(grant.Scope),
		grant.GrantedBy, grant.ExpiresAt.UnixMicro(), grant.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*workflow.ExceptionRequest, error) {
	req := &workflow.ExceptionRequest{}
	var (
		scope, status                 string
		autoApproved                  int
		expiresAt, createdAt, updated int64
		reviewedAt                    sql.NullInt64
	)
	err := row.Scan(&req.ID, &req.VulnerabilityID, &req.RequesterID, &req.Justification,
		&scope, &expiresAt, &status, &autoApproved, &req.ReviewedBy, &req.ReviewComment,
		&reviewedAt, &req.Version, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	req.Scope = workflow.Scope(scope)
	req.Status = workflow.Status(status)
	req.AutoApproved = autoApproved == 1
	req.ExpiresAt = time.UnixMicro(expiresAt).UTC()
	req.CreatedAt = time.UnixMicro(createdAt).UTC()
	req.UpdatedAt = time.UnixMicro(updated).UTC()
	if reviewedAt.Valid {
		t := time.UnixMicro(reviewedAt.Int64).UTC()
		req.ReviewedAt = &t
	}
	return req, nil
}

func nullableMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

var _ workflow.Store = (*WorkflowStore)(nil)
