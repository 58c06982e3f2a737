package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seclens/seclens/internal/domain/audit"
	"github.com/seclens/seclens/internal/domain/delegation"
	"github.com/seclens/seclens/internal/domain/tool"
)

// DefaultExpirySweepInterval is how often the background expiry sweep runs.
const DefaultExpirySweepInterval = 1 * time.Minute

// SubmitInput carries the fields for a new exception request.
type SubmitInput struct {
	VulnerabilityID string
	Justification   string
	Scope           Scope
	ExpiresAt       time.Time
}

// Engine executes the exception-request lifecycle with first-writer-wins
// concurrency: transitions are conditional on the loaded version, the
// store is the single source of truth for who moved first, and the loser
// gets an attributable conflict error.
type Engine struct {
	store   Store
	logger  *slog.Logger
	auditor audit.Store

	sweepInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once

	onExpire func(count int64)
}

// SetExpireObserver installs a callback invoked after every expiry sweep
// with the expired count. Set before StartExpirySweeper; feeds metrics.
func (e *Engine) SetExpireObserver(fn func(count int64)) {
	e.onExpire = fn
}

// SetAuditor installs an audit store for the workflow.* event trail.
// Set before the engine serves requests; nil disables auditing.
func (e *Engine) SetAuditor(a audit.Store) {
	e.auditor = a
}

// NewEngine creates a new Engine.
func NewEngine(store Store, sweepInterval time.Duration, logger *slog.Logger) *Engine {
	if sweepInterval <= 0 {
		sweepInterval = DefaultExpirySweepInterval
	}
	return &Engine{
		store:         store,
		logger:        logger,
		sweepInterval: sweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// Submit creates an exception request on behalf of the delegated user.
//
// Fast path: when the requester's context already satisfies the approver
// predicate, the request is created directly APPROVED with
// AutoApproved=true and ReviewedBy=requester, together with its grant,
// skipping PENDING entirely. The record still exists for audit review.
func (e *Engine) Submit(ctx context.Context, execCtx *delegation.ExecutionContext, input SubmitInput) (*ExceptionRequest, error) {
	if !execCtx.Delegated() {
		return nil, tool.E(tool.CodeDelegationRequired, "exception requests require a delegated user context")
	}
	if !input.Scope.IsValid() {
		return nil, tool.E(tool.CodeValidation, "unknown exception scope %q", input.Scope)
	}

	now := time.Now().UTC()
	if !input.ExpiresAt.After(now) {
		return nil, tool.E(tool.CodeValidation, "expiration must be in the future")
	}

	req := &ExceptionRequest{
		ID:              uuid.New().String(),
		VulnerabilityID: input.VulnerabilityID,
		RequesterID:     execCtx.DelegatedUserID,
		Justification:   input.Justification,
		Scope:           input.Scope,
		ExpiresAt:       input.ExpiresAt,
		Status:          StatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var grant *ExceptionGrant
	if execCtx.IsApprover {
		req.Status = StatusApproved
		req.AutoApproved = true
		req.ReviewedBy = execCtx.DelegatedUserID
		req.ReviewedAt = &now
		grant = e.grantFor(req, execCtx.DelegatedUserID, now)
	}

	if err := e.store.Insert(ctx, req, grant); err != nil {
		return nil, fmt.Errorf("insert exception request: %w", err)
	}

	e.logger.Info("exception request submitted",
		"request_id", req.ID,
		"vulnerability_id", req.VulnerabilityID,
		"requester_id", req.RequesterID,
		"status", req.Status,
		"auto_approved", req.AutoApproved,
	)
	e.record(ctx, audit.Record{
		EventType:       audit.EventTypeExceptionSubmit,
		CredentialID:    execCtx.CredentialID,
		DelegatedUserID: req.RequesterID,
		TargetID:        req.ID,
		Outcome:         audit.OutcomeOK,
	})
	if req.AutoApproved {
		e.record(ctx, audit.Record{
			EventType:       audit.EventTypeExceptionApprove,
			CredentialID:    execCtx.CredentialID,
			DelegatedUserID: req.RequesterID,
			TargetID:        req.ID,
			Outcome:         audit.OutcomeOK,
			Reason:          "auto-approved: requester is an approver",
		})
	}
	return req, nil
}

// Approve transitions a PENDING request to APPROVED and creates the grant
// atomically. Requires an approver context. A concurrent decision on the
// same request returns *ConflictError naming the winning reviewer.
func (e *Engine) Approve(ctx context.Context, execCtx *delegation.ExecutionContext, requestID, comment string) (*ExceptionRequest, error) {
	if err := requireApprover(execCtx); err != nil {
		return nil, err
	}
	return e.decide(ctx, execCtx, requestID, comment, StatusApproved, "approve")
}

// Reject transitions a PENDING request to REJECTED. Requires an approver
// context. No grant is created.
func (e *Engine) Reject(ctx context.Context, execCtx *delegation.ExecutionContext, requestID, comment string) (*ExceptionRequest, error) {
	if err := requireApprover(execCtx); err != nil {
		return nil, err
	}
	return e.decide(ctx, execCtx, requestID, comment, StatusRejected, "reject")
}

// decide loads the request and applies a conditional terminal transition.
func (e *Engine) decide(ctx context.Context, execCtx *delegation.ExecutionContext, requestID, comment string, to Status, verb string) (*ExceptionRequest, error) {
	req, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, &InvalidStateError{RequestID: requestID, Status: req.Status, Transition: verb}
	}

	now := time.Now().UTC()
	tr := Transition{
		ToStatus:      to,
		ReviewedBy:    execCtx.DelegatedUserID,
		ReviewComment: comment,
		ReviewedAt:    now,
	}
	if to == StatusApproved {
		tr.Grant = e.grantFor(req, execCtx.DelegatedUserID, now)
	}

	applied, err := e.store.ApplyTransition(ctx, requestID, req.Version, tr)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", verb, err)
	}
	if !applied {
		// Another writer won. Re-read to attribute the conflict.
		return nil, e.conflictFor(ctx, requestID, verb)
	}

	updated, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("exception request decided",
		"request_id", requestID,
		"decision", to,
		"reviewer_id", execCtx.DelegatedUserID,
	)
	eventType := audit.EventTypeExceptionApprove
	if to == StatusRejected {
		eventType = audit.EventTypeExceptionReject
	}
	e.record(ctx, audit.Record{
		EventType:       eventType,
		CredentialID:    execCtx.CredentialID,
		DelegatedUserID: execCtx.DelegatedUserID,
		TargetID:        requestID,
		Outcome:         audit.OutcomeOK,
		Reason:          comment,
	})
	return updated, nil
}

// Cancel withdraws a PENDING request. Only the requester may cancel;
// ownership replaces the approver-role check.
func (e *Engine) Cancel(ctx context.Context, execCtx *delegation.ExecutionContext, requestID string) (*ExceptionRequest, error) {
	if !execCtx.Delegated() {
		return nil, tool.E(tool.CodeDelegationRequired, "cancel requires a delegated user context")
	}

	req, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != execCtx.DelegatedUserID {
		return nil, tool.E(tool.CodeForbidden, "only the requester may cancel an exception request")
	}
	if req.Status != StatusPending {
		return nil, &InvalidStateError{RequestID: requestID, Status: req.Status, Transition: "cancel"}
	}

	now := time.Now().UTC()
	applied, err := e.store.ApplyTransition(ctx, requestID, req.Version, Transition{
		ToStatus:   StatusCancelled,
		ReviewedBy: execCtx.DelegatedUserID,
		ReviewedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("apply cancel: %w", err)
	}
	if !applied {
		return nil, e.conflictFor(ctx, requestID, "cancel")
	}

	updated, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("exception request cancelled",
		"request_id", requestID,
		"requester_id", execCtx.DelegatedUserID,
	)
	e.record(ctx, audit.Record{
		EventType:       audit.EventTypeExceptionCancel,
		CredentialID:    execCtx.CredentialID,
		DelegatedUserID: execCtx.DelegatedUserID,
		TargetID:        requestID,
		Outcome:         audit.OutcomeOK,
	})
	return updated, nil
}

// Get retrieves a request by ID.
func (e *Engine) Get(ctx context.Context, id string) (*ExceptionRequest, error) {
	return e.store.Get(ctx, id)
}

// List returns requests matching the filter, newest first.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]*ExceptionRequest, error) {
	return e.store.List(ctx, filter)
}

// GrantFor retrieves the grant for an approved request.
func (e *Engine) GrantFor(ctx context.Context, requestID string) (*ExceptionGrant, error) {
	return e.store.GetGrantByRequest(ctx, requestID)
}

// ExpireSweep marks EXPIRED every PENDING request past its expiration, as
// a single conditional update in the store. Idempotent.
func (e *Engine) ExpireSweep(ctx context.Context) (int64, error) {
	expired, err := e.store.ExpirePending(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire pending requests: %w", err)
	}
	if e.onExpire != nil {
		e.onExpire(expired)
	}
	if expired > 0 {
		e.logger.Info("expired pending exception requests", "count", expired)
		e.record(ctx, audit.Record{
			EventType: audit.EventTypeExceptionExpire,
			Outcome:   audit.OutcomeOK,
			Reason:    fmt.Sprintf("%d pending requests past expiration", expired),
		})
	}
	return expired, nil
}

// StartExpirySweeper starts the background expiry sweep goroutine.
// The goroutine runs until ctx is canceled or Stop() is called.
func (e *Engine) StartExpirySweeper(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopChan:
				return
			case <-ticker.C:
				if _, err := e.ExpireSweep(ctx); err != nil {
					e.logger.Error("expiry sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop signals the sweep goroutine to stop and waits for it to exit.
// Safe to call multiple times.
func (e *Engine) Stop() {
	e.once.Do(func() {
		close(e.stopChan)
	})
	e.wg.Wait()
}

// record appends a workflow audit event. Append failures are logged, not
// surfaced; the transition itself has already committed.
func (e *Engine) record(ctx context.Context, rec audit.Record) {
	if e.auditor == nil {
		return
	}
	rec.Timestamp = time.Now().UTC()
	if err := e.auditor.Append(ctx, rec); err != nil {
		e.logger.Error("audit append failed", "event_type", rec.EventType, "error", err)
	}
}

// conflictFor re-reads a request after a lost conditional update and
// builds the attributable error.
func (e *Engine) conflictFor(ctx context.Context, requestID, verb string) error {
	current, err := e.store.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("request %s changed concurrently and re-read failed: %w", requestID, err)
	}
	if current.Status == StatusPending {
		// Version moved but the state is still PENDING: a touch we do not
		// model. Treat as conflict without attribution.
		return &ConflictError{RequestID: requestID, Status: current.Status}
	}
	reviewedAt := current.UpdatedAt
	if current.ReviewedAt != nil {
		reviewedAt = *current.ReviewedAt
	}
	e.logger.Info("conditional transition lost",
		"request_id", requestID,
		"attempted", verb,
		"winner", current.ReviewedBy,
		"status", current.Status,
	)
	return &ConflictError{
		RequestID:  requestID,
		Status:     current.Status,
		ReviewedBy: current.ReviewedBy,
		ReviewedAt: reviewedAt,
	}
}

// grantFor builds the grant record for an approval.
func (e *Engine) grantFor(req *ExceptionRequest, grantedBy string, now time.Time) *ExceptionGrant {
	return &ExceptionGrant{
		ID:              uuid.New().String(),
		RequestID:       req.ID,
		VulnerabilityID: req.VulnerabilityID,
		Scope:           req.Scope,
		GrantedBy:       grantedBy,
		ExpiresAt:       req.ExpiresAt,
		CreatedAt:       now,
	}
}

// requireApprover rejects non-approver contexts.
func requireApprover(execCtx *delegation.ExecutionContext) error {
	if !execCtx.Delegated() {
		return tool.E(tool.CodeDelegationRequired, "exception review requires a delegated user context")
	}
	if !execCtx.IsApprover {
		return tool.E(tool.CodeAuthorization, "approver role required")
	}
	return nil
}
