package tool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/seclens/seclens/internal/domain/audit"
	"github.com/seclens/seclens/internal/domain/delegation"
)

// DefaultCallTimeout bounds a single handler execution.
const DefaultCallTimeout = 30 * time.Second

// Toucher records session activity. Implemented by session.Manager.
type Toucher interface {
	Touch(ctx context.Context, sessionID string) error
}

// Meta carries request-scoped metadata for auditing.
type Meta struct {
	// RequestID correlates the dispatch across logs and audit records.
	RequestID string
	// SessionID is the connection session, empty for sessionless calls.
	SessionID string
	// SourceIP is the client address, when known.
	SourceIP string
}

// Observer receives dispatch outcomes, e.g. for Prometheus counters.
type Observer func(toolName string, code Code, elapsed time.Duration)

// Dispatcher validates, authorizes, and executes tool invocations.
// Every outcome is a *Result with either a payload or a typed error; raw
// handler failures never cross the dispatch boundary.
type Dispatcher struct {
	registry *Registry
	auditor  audit.Store
	toucher  Toucher
	observer Observer
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout overrides the per-call handler timeout.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithToucher wires session activity recording.
func WithToucher(t Toucher) Option {
	return func(disp *Dispatcher) { disp.toucher = t }
}

// WithObserver wires a metrics callback.
func WithObserver(o Observer) Option {
	return func(disp *Dispatcher) { disp.observer = o }
}

// WithTracer wires an OpenTelemetry tracer around handler execution.
func WithTracer(t trace.Tracer) Option {
	return func(disp *Dispatcher) { disp.tracer = t }
}

// NewDispatcher creates a Dispatcher over a sealed registry.
func NewDispatcher(registry *Registry, auditor audit.Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		auditor:  auditor,
		timeout:  DefaultCallTimeout,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer("seclens"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes a named tool under an execution context:
//
//  1. registry lookup (unknown name → TOOL_NOT_FOUND)
//  2. schema validation with field-level detail (never runs the handler)
//  3. authorization predicate, then the optional CEL guard
//  4. session touch, exactly once past authorization
//  5. handler execution under the per-call timeout, panics recovered
//  6. audit record with the execution outcome and handler latency
//
// The returned Result always carries either a payload or a typed error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, rawArgs map[string]any, execCtx *delegation.ExecutionContext, meta Meta) *Result {
	start := time.Now()
	result := d.dispatch(ctx, name, rawArgs, execCtx, meta)
	elapsed := time.Since(start)

	if d.observer != nil {
		code := Code("")
		if result.Err != nil {
			code = result.Err.Code
		}
		d.observer(name, code, elapsed)
	}
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, rawArgs map[string]any, execCtx *delegation.ExecutionContext, meta Meta) *Result {
	def := d.registry.Get(name)
	if def == nil {
		return &Result{Tool: name, Err: E(CodeToolNotFound, "unknown tool %q", name)}
	}

	if rawArgs == nil {
		rawArgs = map[string]any{}
	}
	if failures := def.InputSchema.Validate(rawArgs); len(failures) > 0 {
		return &Result{Tool: name, Err: ValidationError(failures)}
	}

	if err := def.Auth.Authorize(execCtx); err != nil {
		d.logger.Debug("tool call denied",
			"tool", name,
			"credential_id", execCtx.CredentialID,
			"code", err.Code,
		)
		return &Result{Tool: name, Err: err}
	}

	if entry := d.registry.tools[name]; entry.guard != nil {
		allowed, guardErr := d.registry.guardEval.Evaluate(entry.guard, execCtx, rawArgs)
		if guardErr != nil {
			d.logger.Error("guard evaluation failed", "tool", name, "error", guardErr)
			return &Result{Tool: name, Err: E(CodeExecution, "guard evaluation failed")}
		}
		if !allowed {
			return &Result{Tool: name, Err: E(CodeAuthorization, "denied by tool guard")}
		}
	}

	// Past authorization: touch the session, once.
	if d.toucher != nil && meta.SessionID != "" {
		if err := d.toucher.Touch(ctx, meta.SessionID); err != nil {
			d.logger.Debug("session touch failed", "session_id", meta.SessionID, "error", err)
		}
	}

	callStart := time.Now()
	payload, err := d.execute(ctx, def, rawArgs, execCtx)
	elapsed := time.Since(callStart)
	if err != nil {
		te := AsToolError(err)
		d.logger.Info("tool call failed",
			"tool", name,
			"credential_id", execCtx.CredentialID,
			"code", te.Code,
		)
		d.recordCall(ctx, name, rawArgs, execCtx, meta, te, elapsed)
		return &Result{Tool: name, Err: te}
	}

	d.recordCall(ctx, name, rawArgs, execCtx, meta, nil, elapsed)
	return &Result{Tool: name, Payload: payload}
}

// execute runs the handler under the per-call timeout with panic recovery.
// On timeout the call is failed without assuming whether the handler's side
// effects committed; retried calls rely on the handlers' natural
// idempotency keys.
func (d *Dispatcher) execute(ctx context.Context, def *Definition, args map[string]any, execCtx *delegation.ExecutionContext) (payload any, err error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	callCtx, span := d.tracer.Start(callCtx, "tool.dispatch",
		trace.WithAttributes(
			attribute.String("tool.name", def.Name),
			attribute.Bool("context.delegated", execCtx.Delegated()),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "tool", def.Name, "panic", r)
			payload = nil
			err = E(CodeExecution, "internal error in tool %q", def.Name)
		}
	}()

	payload, err = def.Handler(callCtx, args, execCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, E(CodeExecution, "tool %q timed out after %s", def.Name, d.timeout)
	}
	return payload, err
}

// recordCall appends the tool-call audit record with redacted arguments
// and the execution outcome. terr is nil for a successful call.
func (d *Dispatcher) recordCall(ctx context.Context, name string, args map[string]any, execCtx *delegation.ExecutionContext, meta Meta, terr *Error, elapsed time.Duration) {
	if d.auditor == nil {
		return
	}
	rec := audit.Record{
		Timestamp:       time.Now().UTC(),
		EventType:       audit.EventTypeToolCall,
		RequestID:       meta.RequestID,
		CredentialID:    execCtx.CredentialID,
		DelegatedUserID: execCtx.DelegatedUserID,
		SessionID:       meta.SessionID,
		ToolName:        name,
		ToolArguments:   audit.RedactSensitiveArgs(args),
		Outcome:         audit.OutcomeOK,
		LatencyMicros:   elapsed.Microseconds(),
		SourceIP:        meta.SourceIP,
	}
	if terr != nil {
		rec.Outcome = audit.OutcomeError
		rec.Code = string(terr.Code)
		rec.Reason = terr.Message
	}
	if err := d.auditor.Append(ctx, rec); err != nil {
		d.logger.Error("audit append failed", "tool", name, "error", err)
	}
}

// SafeErrorMessage returns a client-safe message for an error.
// Typed tool errors carry curated messages already; anything else maps to
// a generic internal error so stack traces and paths never leak.
func SafeErrorMessage(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	return "internal error"
}
