package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/seclens/seclens/internal/domain/session"
)

// SessionStore implements session.Store on SQLite.
// Sweep phases are single conditional statements, so a session touched
// concurrently with the sweep keeps its fresh last_activity and survives.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a SessionStore over an opened database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, credential_id, conn_type, client_ip, user_agent, created_at, last_activity, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CredentialID, string(sess.ConnType), sess.ClientIP, sess.UserAgent,
		sess.CreatedAt.UnixMicro(), sess.LastActivity.UnixMicro(), boolToInt(sess.Active),
	)
	return err
}

// Get retrieves a session by ID, active or not.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, credential_id, conn_type, client_ip, user_agent, created_at, last_activity, active
		FROM sessions WHERE id = ?`, id)

	var sess session.Session
	var connType string
	var createdAt, lastActivity int64
	var active int
	err := row.Scan(&sess.ID, &sess.CredentialID, &connType, &sess.ClientIP, &sess.UserAgent,
		&createdAt, &lastActivity, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ConnType = session.ConnType(connType)
	sess.CreatedAt = time.UnixMicro(createdAt).UTC()
	sess.LastActivity = time.UnixMicro(lastActivity).UTC()
	sess.Active = active != 0
	return &sess, nil
}

// Touch advances last_activity iff the session is active. The MAX keeps
// last_activity monotonic even with skewed callers.
func (s *SessionStore) Touch(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = MAX(last_activity, ?)
		WHERE id = ? AND active = 1`,
		now.UnixMicro(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// Deactivate marks the session inactive.
func (s *SessionStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// DeactivateIdle marks inactive every active session idle past the cutoff.
func (s *SessionStore) DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET active = 0
		WHERE active = 1 AND last_activity < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteInactiveBefore hard-deletes inactive sessions past retention.
func (s *SessionStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE active = 0 AND last_activity < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountActive returns the number of active sessions for a credential.
func (s *SessionStore) CountActive(ctx context.Context, credentialID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE credential_id = ? AND active = 1`,
		credentialID).Scan(&count)
	return count, err
}

// Stats returns aggregate counts over the session population.
func (s *SessionStore) Stats(ctx context.Context) (*session.Stats, error) {
	stats := &session.Stats{}
	var oldest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(active), 0),
		       COALESCE(SUM(CASE WHEN active = 1 AND conn_type = 'stream' THEN 1 ELSE 0 END), 0),
		       MIN(CASE WHEN active = 1 THEN created_at END)
		FROM sessions`).Scan(&stats.Total, &stats.Active, &stats.Streams, &oldest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid && oldest.Int64 > 0 {
		stats.OldestActive = time.UnixMicro(oldest.Int64).UTC()
	}
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
