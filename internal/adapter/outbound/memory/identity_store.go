package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/seclens/seclens/internal/domain/auth"
)

// IdentityStore implements auth.IdentityStore with in-memory maps.
// Thread-safe for concurrent access. For development/testing only.
type IdentityStore struct {
	byID    map[string]*auth.Identity
	byEmail map[string]*auth.Identity // lower-cased email -> Identity
	mu      sync.RWMutex
}

// NewIdentityStore creates a new in-memory identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		byID:    make(map[string]*auth.Identity),
		byEmail: make(map[string]*auth.Identity),
	}
}

// FindActiveByEmail retrieves an active identity by lower-cased email.
func (s *IdentityStore) FindActiveByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byEmail[strings.ToLower(email)]
	if !ok || !identity.Active {
		return nil, auth.ErrIdentityNotFound
	}
	return copyIdentity(identity), nil
}

// Get retrieves an identity by ID.
func (s *IdentityStore) Get(ctx context.Context, id string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	return copyIdentity(identity), nil
}

// Add seeds an identity (for testing/startup seeding).
// The email is stored lower-cased.
func (s *IdentityStore) Add(identity *auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyIdentity(identity)
	stored.Email = strings.ToLower(identity.Email)
	s.byID[identity.ID] = stored
	s.byEmail[stored.Email] = stored
}

// Deactivate marks an identity inactive.
func (s *IdentityStore) Deactivate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return false
	}
	identity.Active = false
	return true
}

// copyIdentity creates a deep copy of an identity.
func copyIdentity(identity *auth.Identity) *auth.Identity {
	identityCopy := *identity
	identityCopy.Roles = make([]auth.Role, len(identity.Roles))
	copy(identityCopy.Roles, identity.Roles)
	return &identityCopy
}

// Compile-time interface verification.
var _ auth.IdentityStore = (*IdentityStore)(nil)
