package auth

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Role represents a user role for authorization purposes.
type Role string

const (
	// RoleAdmin has full access to all operations.
	RoleAdmin Role = "ADMIN"
	// RoleVuln manages vulnerability data and exception requests.
	RoleVuln Role = "VULN"
	// RoleSecChamp is a security champion, a designated exception approver.
	RoleSecChamp Role = "SECCHAMP"
	// RoleReq manages requirements and standards.
	RoleReq Role = "REQ"
	// RoleViewer has read-only access.
	RoleViewer Role = "VIEWER"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleVuln, RoleSecChamp, RoleReq, RoleViewer:
		return true
	default:
		return false
	}
}

// ApproverRoles are the roles allowed to review exception requests.
var ApproverRoles = []Role{RoleAdmin, RoleSecChamp}

// RolePermissionTable maps roles to the permissions they imply.
// The table is static configuration loaded at startup; it is never
// mutated afterwards and is safe for concurrent reads.
type RolePermissionTable struct {
	version string
	grants  map[Role]PermissionSet
}

// NewRolePermissionTable builds a table from an explicit role→permission
// mapping. The version string identifies the configuration revision.
func NewRolePermissionTable(version string, grants map[Role]PermissionSet) *RolePermissionTable {
	copied := make(map[Role]PermissionSet, len(grants))
	for role, perms := range grants {
		copied[role] = perms.Clone()
	}
	return &RolePermissionTable{version: version, grants: copied}
}

// DefaultRolePermissionTable returns the built-in role→permission mapping.
func DefaultRolePermissionTable() *RolePermissionTable {
	return NewRolePermissionTable("builtin-v1", map[Role]PermissionSet{
		RoleAdmin: NewPermissionSet(
			PermRead, PermWrite, PermDelete, PermApprove, PermAdmin,
			PermVulnRead, PermVulnWrite, PermReleaseRead, PermReleaseWrite, PermUserRead,
		),
		RoleVuln: NewPermissionSet(
			PermRead, PermVulnRead, PermVulnWrite,
		),
		RoleSecChamp: NewPermissionSet(
			PermRead, PermApprove, PermVulnRead, PermVulnWrite,
		),
		RoleReq: NewPermissionSet(
			PermRead, PermWrite, PermReleaseRead,
		),
		RoleViewer: NewPermissionSet(
			PermRead,
		),
	})
}

// Version returns the configuration revision identifier.
func (t *RolePermissionTable) Version() string {
	return t.version
}

// PermissionsFor returns the union of permissions implied by the given
// roles. Unknown roles contribute nothing (fail-closed).
func (t *RolePermissionTable) PermissionsFor(roles []Role) PermissionSet {
	result := make(PermissionSet)
	for _, role := range roles {
		if perms, ok := t.grants[role]; ok {
			result = result.Union(perms)
		}
	}
	return result
}

// Fingerprint returns a stable xxhash of the table contents.
// Logged at startup so operators can tell which mapping revision is live.
func (t *RolePermissionTable) Fingerprint() string {
	roles := make([]Role, 0, len(t.grants))
	for role := range t.grants {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	h := xxhash.New()
	_, _ = h.WriteString(t.version)
	for _, role := range roles {
		_, _ = h.WriteString(string(role))
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(t.grants[role].String())
		_, _ = h.WriteString(";")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// EffectivePermissions computes the permission set for a tool invocation.
// Without delegation the credential's grants apply verbatim. With
// delegation the result is the intersection of the credential's grants and
// the delegated identity's role-implied permissions: a credential cannot
// grant a delegated user more than its own ceiling, and a user's roles
// cannot exceed what the credential was provisioned for.
func EffectivePermissions(table *RolePermissionTable, cred *Credential, identity *Identity) PermissionSet {
	if identity == nil {
		return cred.Permissions.Clone()
	}
	return cred.Permissions.Intersect(table.PermissionsFor(identity.Roles))
}
