package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/seclens/seclens/internal/adapter/outbound/memory"
	"github.com/seclens/seclens/internal/domain/auth"
	"github.com/seclens/seclens/internal/domain/catalog"
	"github.com/seclens/seclens/internal/domain/delegation"
	"github.com/seclens/seclens/internal/domain/tool"
	"github.com/seclens/seclens/internal/domain/workflow"
)

type catalogFixture struct {
	dispatcher *tool.Dispatcher
	registry   *tool.Registry
	engine     *workflow.Engine
}

// newCatalogFixture registers the full tool set over in-memory stores
// seeded with one requirement, one asset and one risk assessment.
func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()

	store := memory.NewCatalogStore()
	if err := store.Create(context.Background(), &catalog.Requirement{
		ShortText: "Encrypt data in transit",
		Details:   "All service-to-service traffic must use TLS 1.2 or later.",
		Category:  "Cryptography",
	}); err != nil {
		t.Fatalf("seed requirement: %v", err)
	}
	store.AddAsset(&catalog.Asset{
		ID:          "asset-payments",
		Name:        "Payments Gateway",
		Description: "Card payment processing service",
		Owner:       "payments-team",
	})
	store.AddRisk(&catalog.RiskAssessment{
		ID:         "risk-0001",
		AssetID:    "asset-payments",
		Threat:     "Credential stuffing",
		Likelihood: "MEDIUM",
		Impact:     "HIGH",
		Mitigation: "Rate limiting and MFA",
	})

	logger := discardLogger()
	engine := workflow.NewEngine(memory.NewWorkflowStore(), time.Minute, logger)

	registry, err := tool.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	err = RegisterCatalog(registry, CatalogDeps{
		Requirements: store,
		Assets:       memory.AssetView{CatalogStore: store},
		Risks:        store,
		Exceptions:   engine,
	})
	if err != nil {
		t.Fatalf("RegisterCatalog: %v", err)
	}
	registry.Seal()

	return &catalogFixture{
		dispatcher: tool.NewDispatcher(registry, memory.NewAuditStore(), logger),
		registry:   registry,
		engine:     engine,
	}
}

func catalogReaderCtx() *delegation.ExecutionContext {
	return &delegation.ExecutionContext{
		CredentialID:         "cred-1",
		EffectivePermissions: auth.NewPermissionSet(auth.PermRead, auth.PermVulnRead),
	}
}

func catalogAdminCtx() *delegation.ExecutionContext {
	return &delegation.ExecutionContext{
		CredentialID:         "cred-1",
		DelegatedUserID:      "user-admin",
		DelegatedEmail:       "admin@example.com",
		IsAdmin:              true,
		IsApprover:           true,
		EffectivePermissions: auth.DefaultRolePermissionTable().PermissionsFor([]auth.Role{auth.RoleAdmin}),
	}
}

func catalogRequesterCtx() *delegation.ExecutionContext {
	return &delegation.ExecutionContext{
		CredentialID:         "cred-1",
		DelegatedUserID:      "user-alice",
		DelegatedEmail:       "alice@example.com",
		EffectivePermissions: auth.NewPermissionSet(auth.PermRead, auth.PermVulnRead, auth.PermVulnWrite),
	}
}

func catalogApproverCtx() *delegation.ExecutionContext {
	return &delegation.ExecutionContext{
		CredentialID:         "cred-1",
		DelegatedUserID:      "user-carol",
		DelegatedEmail:       "carol@example.com",
		IsApprover:           true,
		EffectivePermissions: auth.NewPermissionSet(auth.PermRead, auth.PermApprove, auth.PermVulnRead, auth.PermVulnWrite),
	}
}

func (f *catalogFixture) call(t *testing.T, execCtx *delegation.ExecutionContext, name string, args map[string]any) map[string]any {
	t.Helper()
	res := f.dispatcher.Dispatch(context.Background(), name, args, execCtx, tool.Meta{})
	if !res.OK() {
		t.Fatalf("%s failed: %v", name, res.Err)
	}
	payload, ok := res.Payload.(map[string]any)
	if !ok {
		t.Fatalf("%s payload is %T, want map", name, res.Payload)
	}
	return payload
}

func (f *catalogFixture) callErr(t *testing.T, execCtx *delegation.ExecutionContext, name string, args map[string]any) *tool.Error {
	t.Helper()
	res := f.dispatcher.Dispatch(context.Background(), name, args, execCtx, tool.Meta{})
	if res.OK() {
		t.Fatalf("%s succeeded, want error", name)
	}
	return res.Err
}

func submitArgs() map[string]any {
	return map[string]any{
		"vulnerability_id": "CVE-2025-1234",
		"justification":    "Patch window is scheduled for next sprint.",
		"scope":            "SINGLE_VULN",
		"expires_at":       time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	}
}

func TestRegisterCatalog_RegistersAllTools(t *testing.T) {
	fix := newCatalogFixture(t)
	if n := fix.registry.Len(); n != 9 {
		t.Errorf("registry holds %d tools, want 9", n)
	}
	if defs := fix.registry.List(catalogAdminCtx()); len(defs) != 9 {
		t.Errorf("admin sees %d tools, want 9", len(defs))
	}
	// Without VULN_WRITE or approver status the workflow mutations drop out.
	reader := fix.registry.List(catalogReaderCtx())
	for _, def := range reader {
		switch def.Name {
		case "create_requirement", "request_vulnerability_exception", "approve_exception",
			"reject_exception", "cancel_exception":
			t.Errorf("reader must not see %s", def.Name)
		}
	}
}

func TestCatalogTools_SearchRequirements(t *testing.T) {
	fix := newCatalogFixture(t)

	payload := fix.call(t, catalogReaderCtx(), "search_requirements", map[string]any{"query": "tls"})
	if payload["count"] != 1 {
		t.Errorf("count = %v, want 1", payload["count"])
	}

	if err := fix.callErr(t, catalogReaderCtx(), "search_requirements", nil); err.Code != tool.CodeValidation {
		t.Errorf("missing query: code = %q, want VALIDATION_ERROR", err.Code)
	}
}

func TestCatalogTools_CreateRequirement(t *testing.T) {
	fix := newCatalogFixture(t)
	args := map[string]any{"text": "Rotate credentials every 90 days.", "category": "Access"}

	payload := fix.call(t, catalogAdminCtx(), "create_requirement", args)
	if id, _ := payload["id"].(string); id == "" {
		t.Error("created requirement has no ID")
	}

	if err := fix.callErr(t, catalogReaderCtx(), "create_requirement", args); err.Code != tool.CodeDelegationRequired {
		t.Errorf("undelegated: code = %q, want DELEGATION_REQUIRED", err.Code)
	}
	if err := fix.callErr(t, catalogRequesterCtx(), "create_requirement", args); err.Code != tool.CodeAuthorization {
		t.Errorf("non-admin delegate: code = %q, want AUTHORIZATION_ERROR", err.Code)
	}
}

func TestCatalogTools_SearchAssets(t *testing.T) {
	fix := newCatalogFixture(t)

	payload := fix.call(t, catalogReaderCtx(), "search_assets", map[string]any{"query": "payment"})
	if payload["count"] != 1 {
		t.Fatalf("count = %v, want 1", payload["count"])
	}
	assets := payload["assets"].([]map[string]any)
	if assets[0]["id"] != "asset-payments" {
		t.Errorf("asset id = %v, want asset-payments", assets[0]["id"])
	}
}

func TestCatalogTools_GetRiskAssessment(t *testing.T) {
	fix := newCatalogFixture(t)

	payload := fix.call(t, catalogReaderCtx(), "get_risk_assessment", map[string]any{"asset_id": "asset-payments"})
	if payload["count"] != 1 {
		t.Errorf("count = %v, want 1", payload["count"])
	}

	if err := fix.callErr(t, catalogReaderCtx(), "get_risk_assessment", map[string]any{"asset_id": "asset-missing"}); err.Code != tool.CodeNotFound {
		t.Errorf("unknown asset: code = %q, want NOT_FOUND", err.Code)
	}
}

func TestExceptionTools_SubmitAndApprove(t *testing.T) {
	fix := newCatalogFixture(t)

	payload := fix.call(t, catalogRequesterCtx(), "request_vulnerability_exception", submitArgs())
	if payload["status"] != "PENDING" {
		t.Fatalf("status = %v, want PENDING", payload["status"])
	}
	requestID := payload["request_id"].(string)

	payload = fix.call(t, catalogApproverCtx(), "approve_exception", map[string]any{
		"request_id": requestID,
		"comment":    "approved for one sprint",
	})
	if payload["status"] != "APPROVED" {
		t.Errorf("status = %v, want APPROVED", payload["status"])
	}
	if payload["reviewed_by"] != "user-carol" {
		t.Errorf("reviewed_by = %v, want user-carol", payload["reviewed_by"])
	}
	if grantID, _ := payload["grant_id"].(string); grantID == "" {
		t.Error("approval payload missing grant_id")
	}
}

func TestExceptionTools_SubmitValidation(t *testing.T) {
	fix := newCatalogFixture(t)

	args := submitArgs()
	args["expires_at"] = "next tuesday"
	err := fix.callErr(t, catalogRequesterCtx(), "request_vulnerability_exception", args)
	if err.Code != tool.CodeValidation {
		t.Errorf("bad timestamp: code = %q, want VALIDATION_ERROR", err.Code)
	}
	if err.Fields["expires_at"] == "" {
		t.Errorf("Fields = %v, want expires_at detail", err.Fields)
	}

	args = submitArgs()
	args["scope"] = "GLOBAL"
	if err := fix.callErr(t, catalogRequesterCtx(), "request_vulnerability_exception", args); err.Code != tool.CodeValidation {
		t.Errorf("bad scope: code = %q, want VALIDATION_ERROR", err.Code)
	}
}

func TestExceptionTools_DuplicateActiveConflict(t *testing.T) {
	fix := newCatalogFixture(t)

	fix.call(t, catalogRequesterCtx(), "request_vulnerability_exception", submitArgs())
	if err := fix.callErr(t, catalogRequesterCtx(), "request_vulnerability_exception", submitArgs()); err.Code != tool.CodeConflict {
		t.Errorf("duplicate submit: code = %q, want CONCURRENT_MODIFICATION", err.Code)
	}
}

func TestExceptionTools_DecisionErrors(t *testing.T) {
	fix := newCatalogFixture(t)

	if err := fix.callErr(t, catalogApproverCtx(), "approve_exception", map[string]any{"request_id": "no-such-id"}); err.Code != tool.CodeNotFound {
		t.Errorf("unknown request: code = %q, want NOT_FOUND", err.Code)
	}

	payload := fix.call(t, catalogRequesterCtx(), "request_vulnerability_exception", submitArgs())
	requestID := payload["request_id"].(string)

	fix.call(t, catalogApproverCtx(), "reject_exception", map[string]any{"request_id": requestID})
	if err := fix.callErr(t, catalogApproverCtx(), "approve_exception", map[string]any{"request_id": requestID}); err.Code != tool.CodeInvalidState {
		t.Errorf("decide rejected request: code = %q, want INVALID_STATE", err.Code)
	}
}

func TestExceptionTools_CancelOwnership(t *testing.T) {
	fix := newCatalogFixture(t)

	payload := fix.call(t, catalogRequesterCtx(), "request_vulnerability_exception", submitArgs())
	requestID := payload["request_id"].(string)

	// The approver holds VULN_WRITE so the predicate passes; ownership is
	// enforced inside the workflow.
	if err := fix.callErr(t, catalogApproverCtx(), "cancel_exception", map[string]any{"request_id": requestID}); err.Code != tool.CodeForbidden {
		t.Errorf("non-owner cancel: code = %q, want FORBIDDEN", err.Code)
	}

	payload = fix.call(t, catalogRequesterCtx(), "cancel_exception", map[string]any{"request_id": requestID})
	if payload["status"] != "CANCELLED" {
		t.Errorf("status = %v, want CANCELLED", payload["status"])
	}
}

func TestExceptionTools_List(t *testing.T) {
	fix := newCatalogFixture(t)

	fix.call(t, catalogRequesterCtx(), "request_vulnerability_exception", submitArgs())

	// Approver submissions auto-approve.
	args := submitArgs()
	args["vulnerability_id"] = "CVE-2025-9999"
	payload := fix.call(t, catalogApproverCtx(), "request_vulnerability_exception", args)
	if payload["auto_approved"] != true {
		t.Fatalf("approver submission not auto-approved: %v", payload)
	}

	payload = fix.call(t, catalogReaderCtx(), "list_exception_requests", map[string]any{"status": "PENDING"})
	if payload["count"] != 1 {
		t.Errorf("PENDING count = %v, want 1", payload["count"])
	}
	payload = fix.call(t, catalogReaderCtx(), "list_exception_requests", nil)
	if payload["count"] != 2 {
		t.Errorf("unfiltered count = %v, want 2", payload["count"])
	}
}

func TestShorten_RuneBoundary(t *testing.T) {
	if got := shorten("short", 10); got != "short" {
		t.Errorf("shorten(short, 10) = %q", got)
	}
	if got := shorten("abcdef", 3); got != "abc..." {
		t.Errorf("shorten(abcdef, 3) = %q", got)
	}

	// Truncation must not split a multi-byte character.
	multi := strings.Repeat("é", 8) // 2 bytes per rune
	got := shorten(multi, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("shorten produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("é", 5)+"..." {
		t.Errorf("shorten(%q, 5) = %q", multi, got)
	}
}
