package workflow

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for workflow store operations.
var (
	// ErrRequestNotFound is returned when no request matches an ID.
	ErrRequestNotFound = errors.New("exception request not found")
	// ErrGrantNotFound is returned when no grant matches a request.
	ErrGrantNotFound = errors.New("exception grant not found")
	// ErrDuplicateActive is returned when the requester already has a
	// PENDING or APPROVED request for the vulnerability.
	ErrDuplicateActive = errors.New("active exception request already exists")
)

// Transition describes a conditional state change applied by the store.
// The store commits the transition iff the request is still PENDING at the
// expected version; Grant, when non-nil, is inserted in the same
// transaction or lock scope.
type Transition struct {
	// ToStatus is the target terminal status.
	ToStatus Status
	// ReviewedBy is the deciding user (empty for expiry).
	ReviewedBy string
	// ReviewComment is the reviewer's optional comment.
	ReviewComment string
	// ReviewedAt is the decision time (UTC).
	ReviewedAt time.Time
	// AutoApproved marks approval-at-creation (unused by Apply; recorded
	// on the request for audit symmetry).
	AutoApproved bool
	// Grant is inserted atomically with an APPROVED transition.
	Grant *ExceptionGrant
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	// Status filters by lifecycle state.
	Status Status
	// RequesterID filters by submitting user.
	RequesterID string
	// VulnerabilityID filters by subject.
	VulnerabilityID string
}

// Store persists exception requests and grants.
// The interface is defined in the domain to avoid circular imports.
// Implementations: in-memory (mutex as single-process CAS), SQLite
// (conditional UPDATE on status and version).
type Store interface {
	// Insert stores a new request, and its grant when the request is
	// created directly APPROVED (auto-approval). Enforces the natural
	// uniqueness constraint: one PENDING-or-APPROVED request per
	// (vulnerability, requester) pair; violations return ErrDuplicateActive.
	Insert(ctx context.Context, req *ExceptionRequest, grant *ExceptionGrant) error

	// Get retrieves a request by ID.
	// Returns ErrRequestNotFound if no request matches.
	Get(ctx context.Context, id string) (*ExceptionRequest, error)

	// ApplyTransition atomically commits the transition iff the request's
	// status is PENDING and its version equals expectedVersion. Returns
	// false (and no error) when the conditional update affects zero rows:
	// another writer moved first, or the state changed since the load.
	ApplyTransition(ctx context.Context, id string, expectedVersion int64, tr Transition) (bool, error)

	// ExpirePending marks EXPIRED every PENDING request whose ExpiresAt
	// is before now, as a single conditional update. Returns the number
	// of requests expired.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)

	// List returns requests matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*ExceptionRequest, error)

	// GetGrantByRequest retrieves the grant created for an approved
	// request. Returns ErrGrantNotFound if none exists.
	GetGrantByRequest(ctx context.Context, requestID string) (*ExceptionGrant, error)
}
