// Package tool holds the tool registry and the schema-validated,
// authorization-gated dispatcher.
package tool

import (
	"context"

	"github.com/seclens/seclens/internal/domain/auth"
	"github.com/seclens/seclens/internal/domain/delegation"
)

// Handler executes a tool with validated arguments under an execution
// context. It returns a structured payload or an error; raw errors are
// normalized to the typed taxonomy at the dispatch boundary.
type Handler func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error)

// Definition describes a named server operation.
// Definitions are registered at process start and read-only thereafter.
type Definition struct {
	// Name uniquely identifies the tool.
	Name string
	// Description is shown to clients in tools/list.
	Description string
	// InputSchema validates the raw arguments before the handler runs.
	InputSchema Schema
	// Auth is the authorization predicate evaluated against the
	// execution context.
	Auth Predicate
	// Guard is an optional CEL expression evaluated against the context
	// and validated arguments. Empty means no guard.
	Guard string
	// Handler executes the tool.
	Handler Handler
}

// Predicate authorizes an execution context for a tool.
type Predicate interface {
	// Authorize returns nil when the context may run the tool, or a typed
	// *Error (AUTHORIZATION_ERROR or DELEGATION_REQUIRED) otherwise.
	Authorize(execCtx *delegation.ExecutionContext) *Error
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(execCtx *delegation.ExecutionContext) *Error

// Authorize implements Predicate.
func (f PredicateFunc) Authorize(execCtx *delegation.ExecutionContext) *Error {
	return f(execCtx)
}

// RequirePermission authorizes contexts whose effective permission set
// contains the permission.
func RequirePermission(p auth.Permission) Predicate {
	return PredicateFunc(func(execCtx *delegation.ExecutionContext) *Error {
		if execCtx.Has(p) {
			return nil
		}
		return E(CodeAuthorization, "missing permission %s", p)
	})
}

// RequireAdmin authorizes only delegated admin contexts.
func RequireAdmin() Predicate {
	return PredicateFunc(func(execCtx *delegation.ExecutionContext) *Error {
		if !execCtx.Delegated() {
			return E(CodeDelegationRequired, "tool requires a delegated user context")
		}
		if execCtx.IsAdmin {
			return nil
		}
		return E(CodeAuthorization, "admin role required")
	})
}

// RequireApprover authorizes only delegated approver contexts.
func RequireApprover() Predicate {
	return PredicateFunc(func(execCtx *delegation.ExecutionContext) *Error {
		if !execCtx.Delegated() {
			return E(CodeDelegationRequired, "tool requires a delegated user context")
		}
		if execCtx.IsApprover {
			return nil
		}
		return E(CodeAuthorization, "approver role required")
	})
}

// RequireDelegation wraps another predicate with a delegated-context check.
func RequireDelegation(next Predicate) Predicate {
	return PredicateFunc(func(execCtx *delegation.ExecutionContext) *Error {
		if !execCtx.Delegated() {
			return E(CodeDelegationRequired, "tool requires a delegated user context")
		}
		return next.Authorize(execCtx)
	})
}

// AnyOf authorizes a context that satisfies at least one predicate.
// The first predicate's error is returned when none match.
func AnyOf(preds ...Predicate) Predicate {
	return PredicateFunc(func(execCtx *delegation.ExecutionContext) *Error {
		var first *Error
		for _, p := range preds {
			err := p.Authorize(execCtx)
			if err == nil {
				return nil
			}
			if first == nil {
				first = err
			}
		}
		return first
	})
}

// Result is the normalized outcome of a dispatch: a success payload or a
// typed error, never both.
type Result struct {
	// Tool is the dispatched tool name.
	Tool string
	// Payload is the handler's structured result on success.
	Payload any
	// Err is the typed failure, nil on success.
	Err *Error
}

// OK returns true when the dispatch succeeded.
func (r *Result) OK() bool {
	return r.Err == nil
}
