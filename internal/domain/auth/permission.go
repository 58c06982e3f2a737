// Package auth contains the domain types and logic for credential
// authentication and the role/permission model.
package auth

import (
	"sort"
	"strings"
)

// Permission represents a single grantable capability.
type Permission string

const (
	// PermRead grants read access to compliance data.
	PermRead Permission = "READ"
	// PermWrite grants write access to compliance data.
	PermWrite Permission = "WRITE"
	// PermDelete grants delete access to compliance data.
	PermDelete Permission = "DELETE"
	// PermApprove grants the ability to review exception requests.
	PermApprove Permission = "APPROVE"
	// PermAdmin grants administrative operations.
	PermAdmin Permission = "ADMIN"
	// PermVulnRead grants read access to vulnerability data.
	PermVulnRead Permission = "VULN_READ"
	// PermVulnWrite grants write access to vulnerability data.
	PermVulnWrite Permission = "VULN_WRITE"
	// PermReleaseRead grants read access to releases.
	PermReleaseRead Permission = "RELEASE_READ"
	// PermReleaseWrite grants write access to releases.
	PermReleaseWrite Permission = "RELEASE_WRITE"
	// PermUserRead grants read access to user records.
	PermUserRead Permission = "USER_READ"
)

// IsValid returns true if the permission is a known permission.
func (p Permission) IsValid() bool {
	switch p {
	case PermRead, PermWrite, PermDelete, PermApprove, PermAdmin,
		PermVulnRead, PermVulnWrite, PermReleaseRead, PermReleaseWrite, PermUserRead:
		return true
	default:
		return false
	}
}

// PermissionSet is a set of permissions. The zero value is the empty set.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Contains returns true if the set contains the permission.
func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Intersect returns a new set containing permissions present in both sets.
func (s PermissionSet) Intersect(other PermissionSet) PermissionSet {
	result := make(PermissionSet)
	for p := range s {
		if other.Contains(p) {
			result[p] = struct{}{}
		}
	}
	return result
}

// Union returns a new set containing permissions present in either set.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	result := make(PermissionSet, len(s)+len(other))
	for p := range s {
		result[p] = struct{}{}
	}
	for p := range other {
		result[p] = struct{}{}
	}
	return result
}

// Clone returns a copy of the set.
func (s PermissionSet) Clone() PermissionSet {
	result := make(PermissionSet, len(s))
	for p := range s {
		result[p] = struct{}{}
	}
	return result
}

// Slice returns the permissions in sorted order for stable output.
func (s PermissionSet) Slice() []Permission {
	result := make([]Permission, 0, len(s))
	for p := range s {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// String returns a comma-separated stable representation, for logging.
func (s PermissionSet) String() string {
	perms := s.Slice()
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}
