package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/seclens/seclens/internal/domain/auth"
	"github.com/seclens/seclens/internal/domain/delegation"
)

func noopHandler(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
	return map[string]any{}, nil
}

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func TestRegistry_Register(t *testing.T) {
	r := mustRegistry(t)

	def := Definition{
		Name:    "search_requirements",
		Auth:    RequirePermission(auth.PermRead),
		Handler: noopHandler,
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if r.Get("search_requirements") == nil {
		t.Error("registered tool not found")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	if err := r.Register(def); err == nil {
		t.Error("duplicate registration must fail")
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"empty name", Definition{Auth: RequireAdmin(), Handler: noopHandler}, "name"},
		{"nil handler", Definition{Name: "t", Auth: RequireAdmin()}, "handler"},
		{"nil predicate", Definition{Name: "t", Handler: noopHandler}, "predicate"},
		{"bad guard", Definition{Name: "t", Auth: RequireAdmin(), Handler: noopHandler, Guard: "not valid ("}, "guard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRegistry(t)
			err := r.Register(tt.def)
			if err == nil {
				t.Fatal("expected registration error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestRegistry_SealRejectsRegistration(t *testing.T) {
	r := mustRegistry(t)
	r.Seal()

	err := r.Register(Definition{Name: "late", Auth: RequireAdmin(), Handler: noopHandler})
	if err == nil {
		t.Error("registration after Seal must fail")
	}
}

func TestRegistry_ListFiltersByAuthorization(t *testing.T) {
	r := mustRegistry(t)
	mustRegister := func(def Definition) {
		t.Helper()
		if err := r.Register(def); err != nil {
			t.Fatalf("Register %s failed: %v", def.Name, err)
		}
	}
	mustRegister(Definition{Name: "b_read", Auth: RequirePermission(auth.PermRead), Handler: noopHandler})
	mustRegister(Definition{Name: "a_read", Auth: RequirePermission(auth.PermRead), Handler: noopHandler})
	mustRegister(Definition{Name: "admin_only", Auth: RequireAdmin(), Handler: noopHandler})
	r.Seal()

	reader := &delegation.ExecutionContext{
		EffectivePermissions: auth.NewPermissionSet(auth.PermRead),
	}
	listed := r.List(reader)
	if len(listed) != 2 {
		t.Fatalf("listed %d tools, want 2", len(listed))
	}
	// Sorted by name, restricted tools not advertised.
	if listed[0].Name != "a_read" || listed[1].Name != "b_read" {
		t.Errorf("order = [%s %s], want [a_read b_read]", listed[0].Name, listed[1].Name)
	}

	admin := &delegation.ExecutionContext{
		EffectivePermissions: auth.NewPermissionSet(auth.PermRead),
		DelegatedUserID:      "user-1",
		IsAdmin:              true,
	}
	if got := len(r.List(admin)); got != 3 {
		t.Errorf("admin sees %d tools, want 3", got)
	}
}

func TestGuardEvaluator_Evaluate(t *testing.T) {
	eval, err := NewGuardEvaluator()
	if err != nil {
		t.Fatalf("NewGuardEvaluator failed: %v", err)
	}

	execCtx := &delegation.ExecutionContext{
		EffectivePermissions: auth.NewPermissionSet(auth.PermRead, auth.PermVulnWrite),
		DelegatedUserID:      "user-1",
	}

	tests := []struct {
		name string
		expr string
		args map[string]any
		want bool
	}{
		{"delegated check", "delegated", nil, true},
		{"admin check", "is_admin", nil, false},
		{"permission membership", `"VULN_WRITE" in permissions`, nil, true},
		{"argument inspection", `args.status == "PENDING"`, map[string]any{"status": "PENDING"}, true},
		{"argument mismatch", `args.status == "PENDING"`, map[string]any{"status": "APPROVED"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := eval.Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) failed: %v", tt.expr, err)
			}
			got, err := eval.Evaluate(prg, execCtx, tt.args)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestGuardEvaluator_CompileRejects(t *testing.T) {
	eval, err := NewGuardEvaluator()
	if err != nil {
		t.Fatalf("NewGuardEvaluator failed: %v", err)
	}

	if _, err := eval.Compile(""); err == nil {
		t.Error("empty expression must not compile")
	}
	if _, err := eval.Compile("1 +"); err == nil {
		t.Error("syntax error must not compile")
	}
	if _, err := eval.Compile(strings.Repeat("delegated && ", 200) + "delegated"); err == nil {
		t.Error("oversized expression must not compile")
	}
}

func TestGuardEvaluator_NonBooleanResult(t *testing.T) {
	eval, err := NewGuardEvaluator()
	if err != nil {
		t.Fatalf("NewGuardEvaluator failed: %v", err)
	}
	prg, err := eval.Compile(`"a string"`)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	execCtx := &delegation.ExecutionContext{EffectivePermissions: auth.NewPermissionSet()}
	if _, err := eval.Evaluate(prg, execCtx, nil); err == nil {
		t.Error("non-boolean guard result must error")
	}
}
