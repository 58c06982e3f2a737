package tool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/seclens/seclens/internal/domain/audit"
	"github.com/seclens/seclens/internal/domain/auth"
	"github.com/seclens/seclens/internal/domain/delegation"
)

type captureAuditor struct {
	mu      sync.Mutex
	records []audit.Record
}

func (c *captureAuditor) Append(ctx context.Context, records ...audit.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	return nil
}

func (c *captureAuditor) Flush(ctx context.Context) error { return nil }
func (c *captureAuditor) Close() error                    { return nil }

func (c *captureAuditor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

type captureToucher struct {
	mu  sync.Mutex
	ids []string
}

func (c *captureToucher) Touch(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, sessionID)
	return nil
}

func readerCtx() *delegation.ExecutionContext {
	return &delegation.ExecutionContext{
		CredentialID:         "cred-1",
		EffectivePermissions: auth.NewPermissionSet(auth.PermRead),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dispatcherWith(t *testing.T, defs []Definition, opts ...Option) (*Dispatcher, *captureAuditor) {
	t.Helper()
	r := mustRegistry(t)
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			t.Fatalf("Register %s failed: %v", def.Name, err)
		}
	}
	r.Seal()
	auditor := &captureAuditor{}
	return NewDispatcher(r, auditor, discardLogger(), opts...), auditor
}

func TestDispatcher_Success(t *testing.T) {
	echo := Definition{
		Name: "echo",
		InputSchema: Schema{
			Properties: map[string]Property{"msg": {Type: "string", MinLength: 1}},
			Required:   []string{"msg"},
		},
		Auth: RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			return map[string]any{"msg": args["msg"]}, nil
		},
	}
	toucher := &captureToucher{}
	d, auditor := dispatcherWith(t, []Definition{echo}, WithToucher(toucher))

	result := d.Dispatch(context.Background(), "echo", map[string]any{"msg": "hi"}, readerCtx(), Meta{RequestID: "r1", SessionID: "s1"})
	if !result.OK() {
		t.Fatalf("dispatch failed: %v", result.Err)
	}
	payload, ok := result.Payload.(map[string]any)
	if !ok || payload["msg"] != "hi" {
		t.Errorf("payload = %v", result.Payload)
	}
	if auditor.count() != 1 {
		t.Fatalf("audit records = %d, want 1", auditor.count())
	}
	rec := auditor.records[0]
	if rec.Outcome != audit.OutcomeOK || rec.Code != "" {
		t.Errorf("record outcome = %q code = %q, want ok with no code", rec.Outcome, rec.Code)
	}
	if rec.LatencyMicros < 0 {
		t.Errorf("LatencyMicros = %d", rec.LatencyMicros)
	}
	if len(toucher.ids) != 1 || toucher.ids[0] != "s1" {
		t.Errorf("touched sessions = %v, want [s1]", toucher.ids)
	}
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d, auditor := dispatcherWith(t, nil)

	result := d.Dispatch(context.Background(), "nope", nil, readerCtx(), Meta{})
	if result.OK() || result.Err.Code != CodeToolNotFound {
		t.Errorf("result = %+v, want TOOL_NOT_FOUND", result.Err)
	}
	if auditor.count() != 0 {
		t.Error("failed lookup must not audit a tool call")
	}
}

func TestDispatcher_ValidationShortCircuits(t *testing.T) {
	var ran bool
	def := Definition{
		Name: "strict",
		InputSchema: Schema{
			Properties: map[string]Property{"n": {Type: "integer"}},
			Required:   []string{"n"},
		},
		Auth: RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			ran = true
			return nil, nil
		},
	}
	d, auditor := dispatcherWith(t, []Definition{def})

	result := d.Dispatch(context.Background(), "strict", map[string]any{"n": "NaN"}, readerCtx(), Meta{})
	if result.OK() || result.Err.Code != CodeValidation {
		t.Fatalf("result = %+v, want VALIDATION_ERROR", result.Err)
	}
	if result.Err.Fields["n"] == "" {
		t.Errorf("fields = %v, want detail for n", result.Err.Fields)
	}
	if ran {
		t.Error("handler must not run on validation failure")
	}
	if auditor.count() != 0 {
		t.Error("validation failure must not audit a tool call")
	}
}

func TestDispatcher_AuthorizationDenied(t *testing.T) {
	var ran bool
	def := Definition{
		Name: "locked",
		Auth: RequireAdmin(),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			ran = true
			return nil, nil
		},
	}
	toucher := &captureToucher{}
	d, auditor := dispatcherWith(t, []Definition{def}, WithToucher(toucher))

	// Non-delegated context: delegation is required before the role check.
	result := d.Dispatch(context.Background(), "locked", nil, readerCtx(), Meta{SessionID: "s1"})
	if result.OK() || result.Err.Code != CodeDelegationRequired {
		t.Fatalf("result = %+v, want DELEGATION_REQUIRED", result.Err)
	}

	delegated := readerCtx()
	delegated.DelegatedUserID = "user-1"
	result = d.Dispatch(context.Background(), "locked", nil, delegated, Meta{SessionID: "s1"})
	if result.OK() || result.Err.Code != CodeAuthorization {
		t.Fatalf("result = %+v, want AUTHORIZATION_ERROR", result.Err)
	}

	if ran {
		t.Error("handler must not run when denied")
	}
	if auditor.count() != 0 || len(toucher.ids) != 0 {
		t.Error("denied calls must neither audit nor touch")
	}
}

func TestDispatcher_GuardDenies(t *testing.T) {
	def := Definition{
		Name:    "guarded",
		Auth:    RequirePermission(auth.PermRead),
		Guard:   "is_admin",
		Handler: noopHandler,
	}
	d, _ := dispatcherWith(t, []Definition{def})

	result := d.Dispatch(context.Background(), "guarded", nil, readerCtx(), Meta{})
	if result.OK() || result.Err.Code != CodeAuthorization {
		t.Errorf("result = %+v, want AUTHORIZATION_ERROR from guard", result.Err)
	}
}

func TestDispatcher_AuditRecordsFailureOutcome(t *testing.T) {
	failing := Definition{
		Name: "flaky",
		Auth: RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			return nil, E(CodeNotFound, "no such entity")
		},
	}
	panicking := Definition{
		Name:    "boom",
		Auth:    RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) { panic("boom") },
	}
	d, auditor := dispatcherWith(t, []Definition{failing, panicking})

	d.Dispatch(context.Background(), "flaky", nil, readerCtx(), Meta{})
	d.Dispatch(context.Background(), "boom", nil, readerCtx(), Meta{})

	if auditor.count() != 2 {
		t.Fatalf("audit records = %d, want 2", auditor.count())
	}
	flakyRec := auditor.records[0]
	if flakyRec.Outcome != audit.OutcomeError || flakyRec.Code != string(CodeNotFound) {
		t.Errorf("failed call record: outcome = %q code = %q, want error/NOT_FOUND", flakyRec.Outcome, flakyRec.Code)
	}
	boomRec := auditor.records[1]
	if boomRec.Outcome != audit.OutcomeError || boomRec.Code != string(CodeExecution) {
		t.Errorf("panicked call record: outcome = %q code = %q, want error/EXECUTION_ERROR", boomRec.Outcome, boomRec.Code)
	}
}

func TestDispatcher_HandlerErrorNormalized(t *testing.T) {
	typed := Definition{
		Name: "typed_fail",
		Auth: RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			return nil, E(CodeNotFound, "no such entity")
		},
	}
	raw := Definition{
		Name: "raw_fail",
		Auth: RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			return nil, errors.New("disk on fire")
		},
	}
	d, _ := dispatcherWith(t, []Definition{typed, raw})

	result := d.Dispatch(context.Background(), "typed_fail", nil, readerCtx(), Meta{})
	if result.Err == nil || result.Err.Code != CodeNotFound {
		t.Errorf("typed error = %+v, want NOT_FOUND preserved", result.Err)
	}

	result = d.Dispatch(context.Background(), "raw_fail", nil, readerCtx(), Meta{})
	if result.Err == nil || result.Err.Code != CodeExecution {
		t.Errorf("raw error = %+v, want EXECUTION_ERROR", result.Err)
	}
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	def := Definition{
		Name: "boom",
		Auth: RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			panic("kaboom")
		},
	}
	d, _ := dispatcherWith(t, []Definition{def})

	result := d.Dispatch(context.Background(), "boom", nil, readerCtx(), Meta{})
	if result.OK() || result.Err.Code != CodeExecution {
		t.Errorf("result = %+v, want EXECUTION_ERROR", result.Err)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	def := Definition{
		Name: "slow",
		Auth: RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return "done", nil
			}
		},
	}
	d, _ := dispatcherWith(t, []Definition{def}, WithTimeout(20*time.Millisecond))

	result := d.Dispatch(context.Background(), "slow", nil, readerCtx(), Meta{})
	if result.OK() || result.Err.Code != CodeExecution {
		t.Errorf("result = %+v, want EXECUTION_ERROR on timeout", result.Err)
	}
}

func TestDispatcher_ObserverSeesOutcome(t *testing.T) {
	def := Definition{
		Name:    "ok_tool",
		Auth:    RequirePermission(auth.PermRead),
		Handler: noopHandler,
	}
	var gotTool string
	var gotCode Code
	d, _ := dispatcherWith(t, []Definition{def}, WithObserver(func(toolName string, code Code, elapsed time.Duration) {
		gotTool, gotCode = toolName, code
	}))

	d.Dispatch(context.Background(), "ok_tool", nil, readerCtx(), Meta{})
	if gotTool != "ok_tool" || gotCode != "" {
		t.Errorf("observer saw (%q, %q), want (ok_tool, empty)", gotTool, gotCode)
	}

	d.Dispatch(context.Background(), "missing", nil, readerCtx(), Meta{})
	if gotCode != CodeToolNotFound {
		t.Errorf("observer code = %q, want TOOL_NOT_FOUND", gotCode)
	}
}

func TestDispatcher_AuditRedactsSensitiveArgs(t *testing.T) {
	def := Definition{
		Name: "login",
		InputSchema: Schema{
			Properties: map[string]Property{
				"user":     {Type: "string"},
				"password": {Type: "string"},
			},
		},
		Auth:    RequirePermission(auth.PermRead),
		Handler: noopHandler,
	}
	d, auditor := dispatcherWith(t, []Definition{def})

	d.Dispatch(context.Background(), "login", map[string]any{"user": "alice", "password": "hunter2"}, readerCtx(), Meta{})
	if auditor.count() != 1 {
		t.Fatalf("audit records = %d, want 1", auditor.count())
	}
	rec := auditor.records[0]
	if rec.ToolArguments["password"] != "***REDACTED***" {
		t.Errorf("password = %v, want redacted", rec.ToolArguments["password"])
	}
	if rec.ToolArguments["user"] != "alice" {
		t.Errorf("user = %v, want preserved", rec.ToolArguments["user"])
	}
}

func TestSafeErrorMessage(t *testing.T) {
	if got := SafeErrorMessage(E(CodeNotFound, "request missing")); got != "request missing" {
		t.Errorf("typed message = %q", got)
	}
	if got := SafeErrorMessage(errors.New("/etc/shadow: permission denied")); got != "internal error" {
		t.Errorf("raw message = %q, must not leak", got)
	}
}
