// Package delegation validates delegated-identity requests and produces
// the execution context that authorizes a single tool invocation.
package delegation

import (
	"github.com/seclens/seclens/internal/domain/auth"
)

// ExecutionContext is the request-scoped authorization context for a single
// tool invocation. It is computed once per invocation and never persisted.
type ExecutionContext struct {
	// CredentialID identifies the authenticating credential.
	CredentialID string
	// EffectivePermissions is the credential's grant, intersected with the
	// delegated identity's role-implied permissions when delegating.
	EffectivePermissions auth.PermissionSet
	// DelegatedUserID is set when the invocation runs on behalf of a user.
	DelegatedUserID string
	// DelegatedEmail is the lower-cased email of the delegated user.
	DelegatedEmail string
	// IsAdmin is true when the delegated identity holds the ADMIN role.
	IsAdmin bool
	// IsApprover is true when the delegated identity may review exception
	// requests (ADMIN or SECCHAMP).
	IsApprover bool
}

// Delegated returns true if the context carries a delegated identity.
func (c *ExecutionContext) Delegated() bool {
	return c.DelegatedUserID != ""
}

// Has returns true if the effective permission set contains the permission.
func (c *ExecutionContext) Has(p auth.Permission) bool {
	return c.EffectivePermissions.Contains(p)
}
