package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/seclens/seclens/internal/adapter/outbound/memory"
	"github.com/seclens/seclens/internal/domain/audit"
	"github.com/seclens/seclens/internal/domain/auth"
	"github.com/seclens/seclens/internal/domain/delegation"
	"github.com/seclens/seclens/internal/domain/tool"
	"github.com/seclens/seclens/internal/domain/workflow"
)

func testEngine() (*workflow.Engine, *memory.WorkflowStore) {
	store := memory.NewWorkflowStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return workflow.NewEngine(store, time.Minute, logger), store
}

func requesterCtx(userID string) *delegation.ExecutionContext {
	return &delegation.ExecutionContext{
		CredentialID:         "cred-1",
		EffectivePermissions: auth.NewPermissionSet(auth.PermVulnWrite),
		DelegatedUserID:      userID,
		DelegatedEmail:       userID + "@example.com",
	}
}

func approverCtx(userID string) *delegation.ExecutionContext {
	execCtx := requesterCtx(userID)
	execCtx.IsApprover = true
	return execCtx
}

func submitInput() workflow.SubmitInput {
	return workflow.SubmitInput{
		VulnerabilityID: "CVE-2025-1234",
		Justification:   "compensating control in place",
		Scope:           workflow.ScopeSingleVuln,
		ExpiresAt:       time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestEngine_SubmitPending(t *testing.T) {
	engine, _ := testEngine()

	req, err := engine.Submit(context.Background(), requesterCtx("alice"), submitInput())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if req.Status != workflow.StatusPending {
		t.Errorf("status = %s, want PENDING", req.Status)
	}
	if req.AutoApproved {
		t.Error("non-approver submit must not auto-approve")
	}
	if req.Version != 1 {
		t.Errorf("version = %d, want 1", req.Version)
	}
	if req.RequesterID != "alice" {
		t.Errorf("requester = %q, want alice", req.RequesterID)
	}
}

func TestEngine_SubmitAutoApproval(t *testing.T) {
	engine, store := testEngine()

	req, err := engine.Submit(context.Background(), approverCtx("carol"), submitInput())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if req.Status != workflow.StatusApproved {
		t.Errorf("status = %s, want APPROVED", req.Status)
	}
	if !req.AutoApproved {
		t.Error("AutoApproved must be set")
	}
	if req.ReviewedBy != "carol" {
		t.Errorf("reviewer = %q, want the requester", req.ReviewedBy)
	}

	// The grant exists atomically with the approval.
	grant, err := engine.GrantFor(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GrantFor failed: %v", err)
	}
	if grant.VulnerabilityID != req.VulnerabilityID || grant.GrantedBy != "carol" {
		t.Errorf("grant = %+v", grant)
	}
	if store.GrantCount() != 1 {
		t.Errorf("grants = %d, want 1", store.GrantCount())
	}
}

func TestEngine_SubmitValidation(t *testing.T) {
	engine, _ := testEngine()
	ctx := context.Background()

	undelegated := &delegation.ExecutionContext{CredentialID: "cred-1"}
	if _, err := engine.Submit(ctx, undelegated, submitInput()); toolCode(err) != tool.CodeDelegationRequired {
		t.Errorf("undelegated submit: %v, want DELEGATION_REQUIRED", err)
	}

	badScope := submitInput()
	badScope.Scope = "GLOBAL"
	if _, err := engine.Submit(ctx, requesterCtx("alice"), badScope); toolCode(err) != tool.CodeValidation {
		t.Errorf("bad scope: %v, want VALIDATION_ERROR", err)
	}

	past := submitInput()
	past.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	if _, err := engine.Submit(ctx, requesterCtx("alice"), past); toolCode(err) != tool.CodeValidation {
		t.Errorf("past expiry: %v, want VALIDATION_ERROR", err)
	}
}

func TestEngine_SubmitDuplicateActive(t *testing.T) {
	engine, _ := testEngine()
	ctx := context.Background()

	if _, err := engine.Submit(ctx, requesterCtx("alice"), submitInput()); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	_, err := engine.Submit(ctx, requesterCtx("alice"), submitInput())
	if !errors.Is(err, workflow.ErrDuplicateActive) {
		t.Errorf("duplicate submit: %v, want ErrDuplicateActive", err)
	}

	// A different requester for the same vulnerability is fine.
	if _, err := engine.Submit(ctx, requesterCtx("bob"), submitInput()); err != nil {
		t.Errorf("other requester blocked: %v", err)
	}
}

func TestEngine_ApproveCreatesGrant(t *testing.T) {
	engine, store := testEngine()
	ctx := context.Background()

	req, _ := engine.Submit(ctx, requesterCtx("alice"), submitInput())

	updated, err := engine.Approve(ctx, approverCtx("carol"), req.ID, "risk accepted")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if updated.Status != workflow.StatusApproved {
		t.Errorf("status = %s, want APPROVED", updated.Status)
	}
	if updated.ReviewedBy != "carol" || updated.ReviewComment != "risk accepted" {
		t.Errorf("review fields = %q / %q", updated.ReviewedBy, updated.ReviewComment)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if store.GrantCount() != 1 {
		t.Errorf("grants = %d, want exactly 1", store.GrantCount())
	}
}

func TestEngine_RejectCreatesNoGrant(t *testing.T) {
	engine, store := testEngine()
	ctx := context.Background()

	req, _ := engine.Submit(ctx, requesterCtx("alice"), submitInput())

	updated, err := engine.Reject(ctx, approverCtx("carol"), req.ID, "not justified")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if updated.Status != workflow.StatusRejected {
		t.Errorf("status = %s, want REJECTED", updated.Status)
	}
	if store.GrantCount() != 0 {
		t.Error("rejection must not create a grant")
	}
	if _, err := engine.GrantFor(ctx, req.ID); !errors.Is(err, workflow.ErrGrantNotFound) {
		t.Errorf("GrantFor = %v, want ErrGrantNotFound", err)
	}
}

func TestEngine_DecideRequiresApprover(t *testing.T) {
	engine, _ := testEngine()
	ctx := context.Background()

	req, _ := engine.Submit(ctx, requesterCtx("alice"), submitInput())

	if _, err := engine.Approve(ctx, requesterCtx("alice"), req.ID, ""); toolCode(err) != tool.CodeAuthorization {
		t.Errorf("non-approver approve: %v, want AUTHORIZATION_ERROR", err)
	}
	undelegated := &delegation.ExecutionContext{CredentialID: "cred-1", IsApprover: true}
	if _, err := engine.Reject(ctx, undelegated, req.ID, ""); toolCode(err) != tool.CodeDelegationRequired {
		t.Errorf("undelegated reject: %v, want DELEGATION_REQUIRED", err)
	}
}

func TestEngine_DecideTerminalStates(t *testing.T) {
	engine, _ := testEngine()
	ctx := context.Background()

	req, _ := engine.Submit(ctx, requesterCtx("alice"), submitInput())
	if _, err := engine.Approve(ctx, approverCtx("carol"), req.ID, ""); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	_, err := engine.Reject(ctx, approverCtx("dave"), req.ID, "")
	var stateErr *workflow.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("reject after approve: %v, want *InvalidStateError", err)
	}
	if stateErr.Status != workflow.StatusApproved {
		t.Errorf("state = %s, want APPROVED", stateErr.Status)
	}

	if _, err := engine.Approve(ctx, approverCtx("dave"), "no-such-id", ""); !errors.Is(err, workflow.ErrRequestNotFound) {
		t.Errorf("unknown request: %v, want ErrRequestNotFound", err)
	}
}

func TestEngine_ConcurrentDecisionsSingleWinner(t *testing.T) {
	engine, store := testEngine()
	ctx := context.Background()

	req, err := engine.Submit(ctx, requesterCtx("alice"), submitInput())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	const reviewers = 8
	var wg sync.WaitGroup
	outcomes := make([]error, reviewers)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reviewer := approverCtx("reviewer")
			if i%2 == 0 {
				_, outcomes[i] = engine.Approve(ctx, reviewer, req.ID, "yes")
			} else {
				_, outcomes[i] = engine.Reject(ctx, reviewer, req.ID, "no")
			}
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range outcomes {
		switch {
		case err == nil:
			wins++
		default:
			var conflict *workflow.ConflictError
			var stateErr *workflow.InvalidStateError
			if errors.As(err, &conflict) || errors.As(err, &stateErr) {
				conflicts++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if conflicts != reviewers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, reviewers-1)
	}

	// Grant count matches the final state: 1 iff approved, else 0.
	final, _ := engine.Get(ctx, req.ID)
	wantGrants := 0
	if final.Status == workflow.StatusApproved {
		wantGrants = 1
	}
	if store.GrantCount() != wantGrants {
		t.Errorf("grants = %d, want %d for final state %s", store.GrantCount(), wantGrants, final.Status)
	}
}

// racingStore simulates a reviewer that lands between the engine's load and
// its conditional update: ApplyTransition always loses, and the re-read sees
// the winner's decision.
type racingStore struct {
	workflow.Store
	winner workflow.ExceptionRequest
	reads  int
}

func (s *racingStore) Get(ctx context.Context, id string) (*workflow.ExceptionRequest, error) {
	s.reads++
	req := s.winner
	if s.reads == 1 {
		// First load still observes PENDING at version 1.
		req.Status = workflow.StatusPending
		req.Version = 1
		req.ReviewedBy = ""
		req.ReviewedAt = nil
	}
	return &req, nil
}

func (s *racingStore) ApplyTransition(ctx context.Context, id string, expectedVersion int64, tr workflow.Transition) (bool, error) {
	return false, nil
}

func TestEngine_ConflictAttribution(t *testing.T) {
	reviewedAt := time.Now().UTC().Add(-time.Second)
	store := &racingStore{winner: workflow.ExceptionRequest{
		ID:         "req-1",
		Status:     workflow.StatusApproved,
		ReviewedBy: "carol",
		ReviewedAt: &reviewedAt,
		Version:    2,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := workflow.NewEngine(store, time.Minute, logger)

	_, err := engine.Reject(context.Background(), approverCtx("dave"), "req-1", "no")
	var conflict *workflow.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want *ConflictError", err)
	}
	if conflict.ReviewedBy != "carol" || conflict.Status != workflow.StatusApproved {
		t.Errorf("conflict = %+v, want attribution to carol's approval", conflict)
	}
	if !conflict.ReviewedAt.Equal(reviewedAt) {
		t.Errorf("ReviewedAt = %v, want winner's decision time", conflict.ReviewedAt)
	}
}

func TestEngine_CancelOwnership(t *testing.T) {
	engine, _ := testEngine()
	ctx := context.Background()

	req, _ := engine.Submit(ctx, requesterCtx("alice"), submitInput())

	if _, err := engine.Cancel(ctx, requesterCtx("mallory"), req.ID); toolCode(err) != tool.CodeForbidden {
		t.Errorf("non-owner cancel: %v, want FORBIDDEN", err)
	}

	// Even an approver cannot cancel another user's request.
	if _, err := engine.Cancel(ctx, approverCtx("carol"), req.ID); toolCode(err) != tool.CodeForbidden {
		t.Errorf("approver cancel of foreign request: %v, want FORBIDDEN", err)
	}

	updated, err := engine.Cancel(ctx, requesterCtx("alice"), req.ID)
	if err != nil {
		t.Fatalf("owner cancel failed: %v", err)
	}
	if updated.Status != workflow.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", updated.Status)
	}
}

func TestEngine_ResubmitAfterTerminal(t *testing.T) {
	engine, _ := testEngine()
	ctx := context.Background()

	req, _ := engine.Submit(ctx, requesterCtx("alice"), submitInput())
	if _, err := engine.Cancel(ctx, requesterCtx("alice"), req.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// Cancelled is not active; the uniqueness constraint no longer blocks.
	if _, err := engine.Submit(ctx, requesterCtx("alice"), submitInput()); err != nil {
		t.Errorf("resubmit after cancel failed: %v", err)
	}
}

func TestEngine_ExpireSweep(t *testing.T) {
	engine, _ := testEngine()
	ctx := context.Background()

	input := submitInput()
	input.ExpiresAt = time.Now().UTC().Add(30 * time.Millisecond)
	req, err := engine.Submit(ctx, requesterCtx("alice"), input)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var observed int64
	engine.SetExpireObserver(func(count int64) { observed = count })

	time.Sleep(50 * time.Millisecond)
	expired, err := engine.ExpireSweep(ctx)
	if err != nil {
		t.Fatalf("ExpireSweep failed: %v", err)
	}
	if expired != 1 || observed != 1 {
		t.Errorf("expired = %d, observed = %d, want 1/1", expired, observed)
	}

	final, _ := engine.Get(ctx, req.ID)
	if final.Status != workflow.StatusExpired {
		t.Errorf("status = %s, want EXPIRED", final.Status)
	}

	// Idempotent.
	if again, _ := engine.ExpireSweep(ctx); again != 0 {
		t.Errorf("second sweep expired %d, want 0", again)
	}
}

func TestEngine_AuditTrail(t *testing.T) {
	engine, _ := testEngine()
	auditor := memory.NewAuditStoreWithWriter(io.Discard)
	engine.SetAuditor(auditor)
	ctx := context.Background()

	approved, err := engine.Submit(ctx, requesterCtx("alice"), submitInput())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := engine.Approve(ctx, approverCtx("carol"), approved.ID, "compensating control verified"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	rejectInput := submitInput()
	rejectInput.VulnerabilityID = "CVE-2025-1235"
	rejected, err := engine.Submit(ctx, requesterCtx("alice"), rejectInput)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := engine.Reject(ctx, approverCtx("carol"), rejected.ID, "insufficient justification"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	cancelInput := submitInput()
	cancelInput.VulnerabilityID = "CVE-2025-1236"
	cancelled, err := engine.Submit(ctx, requesterCtx("alice"), cancelInput)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := engine.Cancel(ctx, requesterCtx("alice"), cancelled.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	autoInput := submitInput()
	autoInput.VulnerabilityID = "CVE-2025-1237"
	auto, err := engine.Submit(ctx, approverCtx("carol"), autoInput)
	if err != nil {
		t.Fatalf("auto-approved Submit failed: %v", err)
	}

	expiring := submitInput()
	expiring.VulnerabilityID = "CVE-2025-1238"
	expiring.ExpiresAt = time.Now().UTC().Add(30 * time.Millisecond)
	if _, err := engine.Submit(ctx, requesterCtx("alice"), expiring); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := engine.ExpireSweep(ctx); err != nil {
		t.Fatalf("ExpireSweep failed: %v", err)
	}

	records := auditor.Recent()
	wantTypes := []string{
		audit.EventTypeExceptionSubmit,
		audit.EventTypeExceptionApprove,
		audit.EventTypeExceptionSubmit,
		audit.EventTypeExceptionReject,
		audit.EventTypeExceptionSubmit,
		audit.EventTypeExceptionCancel,
		audit.EventTypeExceptionSubmit,
		audit.EventTypeExceptionApprove, // auto-approval
		audit.EventTypeExceptionSubmit,
		audit.EventTypeExceptionExpire,
	}
	if len(records) != len(wantTypes) {
		t.Fatalf("got %d audit records, want %d", len(records), len(wantTypes))
	}
	for i, want := range wantTypes {
		if records[i].EventType != want {
			t.Errorf("records[%d].EventType = %s, want %s", i, records[i].EventType, want)
		}
	}

	submit := records[0]
	if submit.TargetID != approved.ID || submit.DelegatedUserID != "alice" {
		t.Errorf("submit record target = %q user = %q, want %q/alice",
			submit.TargetID, submit.DelegatedUserID, approved.ID)
	}
	if submit.Timestamp.IsZero() {
		t.Error("submit record has zero timestamp")
	}

	decision := records[1]
	if decision.TargetID != approved.ID || decision.DelegatedUserID != "carol" {
		t.Errorf("approve record target = %q reviewer = %q, want %q/carol",
			decision.TargetID, decision.DelegatedUserID, approved.ID)
	}
	if decision.Reason != "compensating control verified" {
		t.Errorf("approve record reason = %q", decision.Reason)
	}

	if records[3].Reason != "insufficient justification" {
		t.Errorf("reject record reason = %q", records[3].Reason)
	}
	if records[5].TargetID != cancelled.ID {
		t.Errorf("cancel record target = %q, want %q", records[5].TargetID, cancelled.ID)
	}

	autoApprove := records[7]
	if autoApprove.TargetID != auto.ID || autoApprove.Reason != "auto-approved: requester is an approver" {
		t.Errorf("auto-approve record target = %q reason = %q", autoApprove.TargetID, autoApprove.Reason)
	}
}

func TestEngine_List(t *testing.T) {
	engine, _ := testEngine()
	ctx := context.Background()

	first, _ := engine.Submit(ctx, requesterCtx("alice"), submitInput())
	otherVuln := submitInput()
	otherVuln.VulnerabilityID = "CVE-2025-9999"
	_, _ = engine.Submit(ctx, requesterCtx("bob"), otherVuln)
	if _, err := engine.Approve(ctx, approverCtx("carol"), first.ID, ""); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	all, err := engine.List(ctx, workflow.ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("listed %d, want 2", len(all))
	}

	approved, _ := engine.List(ctx, workflow.ListFilter{Status: workflow.StatusApproved})
	if len(approved) != 1 || approved[0].ID != first.ID {
		t.Errorf("approved filter = %v", approved)
	}

	byRequester, _ := engine.List(ctx, workflow.ListFilter{RequesterID: "bob"})
	if len(byRequester) != 1 || byRequester[0].RequesterID != "bob" {
		t.Errorf("requester filter = %v", byRequester)
	}
}

func TestEngine_ExpirySweeperStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine, _ := testEngine()
	ctx, cancel := context.WithCancel(context.Background())
	engine.StartExpirySweeper(ctx)
	cancel()
	engine.Stop()
	engine.Stop()
}

// toolCode extracts the taxonomy code from a typed tool error.
func toolCode(err error) tool.Code {
	var te *tool.Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
