// Package service wires the domain layers into the operations the inbound
// transports expose: authentication, session admission, tool dispatch and
// statistics.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seclens/seclens/internal/domain/audit"
	"github.com/seclens/seclens/internal/domain/auth"
	"github.com/seclens/seclens/internal/domain/delegation"
	"github.com/seclens/seclens/internal/domain/session"
	"github.com/seclens/seclens/internal/domain/tool"
)

// DefaultResolveTimeout bounds credential store lookups. A slow store must
// fail the request as retryable infrastructure trouble, not hang it.
const DefaultResolveTimeout = 5 * time.Second

// ErrUnauthenticated is returned for any terminal authentication failure:
// unknown, revoked or expired credentials. The cases are deliberately not
// distinguishable by the caller.
var ErrUnauthenticated = errors.New("authentication failed")

// ErrAuthUnavailable is returned when authentication could not complete
// because a backing store failed or timed out. Retryable, unlike
// ErrUnauthenticated.
var ErrAuthUnavailable = errors.New("authentication temporarily unavailable")

// InvocationService orchestrates the full invocation path: credential
// resolution, optional delegation, session admission and tool dispatch.
type InvocationService struct {
	credentials    *auth.CredentialService
	delegation     *delegation.Validator
	sessions       *session.Manager
	dispatcher     *tool.Dispatcher
	registry       *tool.Registry
	auditor        audit.Store
	logger         *slog.Logger
	resolveTimeout time.Duration
}

// NewInvocationService creates an InvocationService.
func NewInvocationService(
	credentials *auth.CredentialService,
	delegationValidator *delegation.Validator,
	sessions *session.Manager,
	dispatcher *tool.Dispatcher,
	registry *tool.Registry,
	auditor audit.Store,
	logger *slog.Logger,
	resolveTimeout time.Duration,
) *InvocationService {
	if resolveTimeout <= 0 {
		resolveTimeout = DefaultResolveTimeout
	}
	return &InvocationService{
		credentials:    credentials,
		delegation:     delegationValidator,
		sessions:       sessions,
		dispatcher:     dispatcher,
		registry:       registry,
		auditor:        auditor,
		logger:         logger,
		resolveTimeout: resolveTimeout,
	}
}

// Authenticate resolves a raw credential token and, when delegateEmail is
// non-empty, validates the delegation. The returned execution context
// carries the effective permission set for the whole request.
//
// Error classes:
//   - ErrUnauthenticated: bad token. Terminal; the reason is logged but
//     never surfaced to the client.
//   - *delegation.Error: delegation rejected. Terminal, with a typed code.
//   - ErrAuthUnavailable: a store failed or timed out. Retryable.
func (s *InvocationService) Authenticate(ctx context.Context, rawToken, delegateEmail, sourceIP string) (*delegation.ExecutionContext, error) {
	if rawToken == "" {
		s.recordAuthFailure(ctx, "", sourceIP, "missing credential token")
		return nil, ErrUnauthenticated
	}

	resolveCtx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
	defer cancel()

	cred, err := s.credentials.Resolve(resolveCtx, rawToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			s.recordAuthFailure(ctx, "", sourceIP, "invalid credential")
			return nil, ErrUnauthenticated
		}
		s.logger.Error("credential resolution failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}

	if delegateEmail == "" {
		return s.delegation.ContextFor(cred), nil
	}

	execCtx, err := s.delegation.Validate(ctx, cred, delegateEmail)
	if err != nil {
		var delegErr *delegation.Error
		if errors.As(err, &delegErr) {
			s.recordDelegationDenied(ctx, cred.ID, sourceIP, delegErr)
			return nil, delegErr
		}
		s.logger.Error("delegation validation failed", "credential_id", cred.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}
	return execCtx, nil
}

// OpenSession admits a new session for an authenticated context.
// Returns session.ErrSessionLimit when the credential is at its cap.
func (s *InvocationService) OpenSession(ctx context.Context, execCtx *delegation.ExecutionContext, connType session.ConnType, clientIP, userAgent string) (*session.Session, error) {
	sess, err := s.sessions.Create(ctx, execCtx.CredentialID, connType, clientIP, userAgent)
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			s.record(ctx, &audit.Record{
				EventType:    audit.EventTypeSessionLimit,
				CredentialID: execCtx.CredentialID,
				Outcome:      audit.OutcomeError,
				Reason:       "session limit reached",
				SourceIP:     clientIP,
			})
		}
		return nil, err
	}
	s.record(ctx, &audit.Record{
		EventType:    audit.EventTypeSessionCreate,
		CredentialID: execCtx.CredentialID,
		SessionID:    sess.ID,
		Outcome:      audit.OutcomeOK,
		SourceIP:     clientIP,
	})
	return sess, nil
}

// CloseSession deactivates a session. Closing an unknown or already closed
// session is not an error.
func (s *InvocationService) CloseSession(ctx context.Context, sessionID string) {
	if err := s.sessions.Close(ctx, sessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		s.logger.Warn("session close failed", "session_id", sessionID, "error", err)
		return
	}
	s.record(ctx, &audit.Record{
		EventType: audit.EventTypeSessionClose,
		SessionID: sessionID,
		Outcome:   audit.OutcomeOK,
	})
}

// Call dispatches a tool invocation. When meta.SessionID is set the
// session must still be valid; activity touching happens inside dispatch,
// after authorization, exactly once per authorized call.
func (s *InvocationService) Call(ctx context.Context, execCtx *delegation.ExecutionContext, name string, args map[string]any, meta tool.Meta) *tool.Result {
	if meta.SessionID != "" && !s.sessions.Validate(ctx, meta.SessionID) {
		return &tool.Result{
			Tool: name,
			Err:  tool.E(tool.CodeAuthorization, "session is closed or idle-expired"),
		}
	}
	return s.dispatcher.Dispatch(ctx, name, args, execCtx, meta)
}

// ListTools returns the definitions the context is authorized to call.
func (s *InvocationService) ListTools(execCtx *delegation.ExecutionContext) []tool.Definition {
	return s.registry.List(execCtx)
}

func (s *InvocationService) recordAuthFailure(ctx context.Context, credentialID, sourceIP, reason string) {
	s.record(ctx, &audit.Record{
		EventType:    audit.EventTypeAuthFailed,
		CredentialID: credentialID,
		Outcome:      audit.OutcomeError,
		Reason:       reason,
		SourceIP:     sourceIP,
	})
}

func (s *InvocationService) recordDelegationDenied(ctx context.Context, credentialID, sourceIP string, delegErr *delegation.Error) {
	s.record(ctx, &audit.Record{
		EventType:    audit.EventTypeDelegationDenied,
		CredentialID: credentialID,
		Outcome:      audit.OutcomeError,
		Code:         string(delegErr.Code),
		Reason:       delegErr.Message,
		SourceIP:     sourceIP,
	})
}

func (s *InvocationService) record(ctx context.Context, rec *audit.Record) {
	if s.auditor == nil {
		return
	}
	rec.Timestamp = time.Now().UTC()
	if err := s.auditor.Append(ctx, *rec); err != nil {
		s.logger.Error("audit append failed", "event_type", rec.EventType, "error", err)
	}
}
