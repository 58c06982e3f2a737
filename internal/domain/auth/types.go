package auth

import (
	"strings"
	"time"
)

// Credential is a long-lived API credential granting a permission ceiling.
// Credentials are provisioned administratively and immutable except for
// revocation (Active true→false, one-way).
type Credential struct {
	// ID is the unique identifier for this credential.
	ID string
	// Name is a human-readable label.
	Name string
	// SecretHash is the hashed secret (Argon2id PHC format or SHA-256 hex).
	SecretHash string
	// Permissions are the granted permissions (the ceiling).
	Permissions PermissionSet
	// DelegationEnabled allows invocations on behalf of a delegated user.
	DelegationEnabled bool
	// AllowedDelegationDomains restricts delegation to these email domains,
	// lower-cased. An empty list disables delegation regardless of flag.
	AllowedDelegationDomains []string
	// ExpiresAt is when the credential expires (nil = never expires).
	ExpiresAt *time.Time
	// Active is false once the credential has been revoked.
	Active bool
	// CreatedAt is when the credential was provisioned (UTC).
	CreatedAt time.Time
}

// IsExpired returns true if the credential has expired.
// A credential with nil ExpiresAt never expires.
func (c *Credential) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*c.ExpiresAt)
}

// AllowsDomain returns true if the email domain is on the credential's
// delegation allow-list. Matching is case-insensitive and exact.
func (c *Credential) AllowsDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for _, allowed := range c.AllowedDelegationDomains {
		if strings.ToLower(allowed) == domain {
			return true
		}
	}
	return false
}

// Identity represents an end user that a credential may delegate to.
type Identity struct {
	// ID is the unique identifier for this identity.
	ID string
	// Email is the case-insensitive lookup key, stored lower-cased.
	Email string
	// Roles are the roles assigned to this identity.
	Roles []Role
	// Active is false for deactivated users.
	Active bool
}

// HasRole returns true if the identity has the specified role.
func (i *Identity) HasRole(role Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole returns true if the identity has any of the specified roles.
func (i *Identity) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// IsApprover returns true if the identity holds an exception-approver role.
func (i *Identity) IsApprover() bool {
	return i.HasAnyRole(ApproverRoles...)
}
