package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for session operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist or is inactive.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionLimit is returned when a credential has reached its
	// concurrent-session cap.
	ErrSessionLimit = errors.New("session limit reached")
)

// Store provides session persistence.
// The interface is defined in the domain to avoid circular imports.
// Implementations: in-memory (dev/test), SQLite (persistent).
//
// The bulk operations take a cutoff and apply a single conditional
// predicate inside the store's own lock or transaction scope. Sweeps must
// never read-then-write per row: a session touched concurrently with the
// sweep has a fresh LastActivity and must survive.
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, sess *Session) error

	// Get retrieves a session by ID, active or not.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch sets LastActivity to now iff the session exists and is active.
	// LastActivity never moves backwards.
	// Returns ErrSessionNotFound if the session doesn't exist or is inactive.
	Touch(ctx context.Context, id string, now time.Time) error

	// Deactivate marks the session inactive (explicit close).
	// Returns ErrSessionNotFound if the session doesn't exist.
	Deactivate(ctx context.Context, id string) error

	// DeactivateIdle marks inactive every active session with
	// LastActivity before the cutoff. Returns the number affected.
	DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteInactiveBefore hard-deletes inactive sessions with
	// LastActivity before the cutoff. Returns the number deleted.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CountActive returns the number of active sessions for a credential.
	CountActive(ctx context.Context, credentialID string) (int, error)

	// Stats returns aggregate counts over the session population.
	Stats(ctx context.Context) (*Stats, error)
}
