// Package workflow implements the concurrency-guarded approval workflow
// for vulnerability exception requests.
package workflow

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an exception request.
type Status string

const (
	// StatusPending awaits a reviewer decision.
	StatusPending Status = "PENDING"
	// StatusApproved is terminal; an exception grant exists.
	StatusApproved Status = "APPROVED"
	// StatusRejected is terminal; no grant was created.
	StatusRejected Status = "REJECTED"
	// StatusCancelled is terminal; the requester withdrew the request.
	StatusCancelled Status = "CANCELLED"
	// StatusExpired is terminal; the request aged past its expiration.
	StatusExpired Status = "EXPIRED"
)

// Terminal returns true for the four terminal states.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Scope describes what an exception covers.
type Scope string

const (
	// ScopeSingleVuln covers one vulnerability finding.
	ScopeSingleVuln Scope = "SINGLE_VULN"
	// ScopeAsset covers all findings on one asset.
	ScopeAsset Scope = "ASSET"
	// ScopeProduct covers all findings on a product.
	ScopeProduct Scope = "PRODUCT"
)

// IsValid returns true if the scope is a known value.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeSingleVuln, ScopeAsset, ScopeProduct:
		return true
	default:
		return false
	}
}

// ExceptionRequest is a multi-party approval workflow item.
//
// Created PENDING (or directly APPROVED when the requester's context is an
// approver — auto-approval). Mutated only via the four terminal
// transitions; once terminal it is immutable. The Version counter
// implements optimistic locking: every successful transition increments it
// and transitions are conditioned on the observed value.
type ExceptionRequest struct {
	// ID is the unique identifier for this request.
	ID string
	// VulnerabilityID references the subject vulnerability finding.
	VulnerabilityID string
	// RequesterID is the delegated user that submitted the request.
	RequesterID string
	// Justification is the requester's free-text reasoning.
	Justification string
	// Scope describes what the exception would cover.
	Scope Scope
	// ExpiresAt is when the requested exception would lapse, and also when
	// a still-PENDING request expires.
	ExpiresAt time.Time
	// Status is the current lifecycle state.
	Status Status
	// AutoApproved is true when the request was approved at creation
	// because the requester was an approver.
	AutoApproved bool
	// ReviewedBy is the reviewer's user ID once a decision exists.
	ReviewedBy string
	// ReviewComment is the reviewer's optional comment.
	ReviewComment string
	// ReviewedAt is when the decision was made.
	ReviewedAt *time.Time
	// Version is the optimistic-lock counter.
	Version int64
	// CreatedAt / UpdatedAt are maintained by the store (UTC).
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExceptionGrant is the durable record created as an atomic side effect of
// approving a request. Approve succeeds and the grant exists, or neither.
type ExceptionGrant struct {
	// ID is the unique identifier for this grant.
	ID string
	// RequestID references the approved exception request.
	RequestID string
	// VulnerabilityID is copied from the request.
	VulnerabilityID string
	// Scope is copied from the request.
	Scope Scope
	// GrantedBy is the approving reviewer's user ID.
	GrantedBy string
	// ExpiresAt is when the grant lapses.
	ExpiresAt time.Time
	// CreatedAt is when the grant was created (UTC).
	CreatedAt time.Time
}

// ConflictError reports that a concurrent reviewer won the conditional
// update. It names the actual reviewer and decision so the loser gets an
// attributable error instead of a silent overwrite.
type ConflictError struct {
	// RequestID is the contested request.
	RequestID string
	// Status is the state the winner left the request in.
	Status Status
	// ReviewedBy is the winning reviewer's user ID.
	ReviewedBy string
	// ReviewedAt is when the winning decision was made.
	ReviewedAt time.Time
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("request %s was concurrently %s by %s", e.RequestID, e.Status, e.ReviewedBy)
}

// InvalidStateError reports a transition attempted on a non-PENDING
// request, naming the current status.
type InvalidStateError struct {
	// RequestID is the request.
	RequestID string
	// Status is the request's current state.
	Status Status
	// Transition is the attempted transition ("approve", "reject", "cancel").
	Transition string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s request %s in state %s", e.Transition, e.RequestID, e.Status)
}
