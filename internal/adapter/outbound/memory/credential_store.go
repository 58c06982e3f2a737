// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/seclens/seclens/internal/domain/auth"
)

// CredentialStore implements auth.CredentialStore with in-memory maps.
// Thread-safe for concurrent access. For development/testing only.
type CredentialStore struct {
	byID   map[string]*auth.Credential
	byHash map[string]*auth.Credential
	mu     sync.RWMutex
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byID:   make(map[string]*auth.Credential),
		byHash: make(map[string]*auth.Credential),
	}
}

// GetBySecretHash retrieves a credential by its secret hash.
func (s *CredentialStore) GetBySecretHash(ctx context.Context, secretHash string) (*auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byHash[secretHash]
	if !ok {
		return nil, auth.ErrCredentialNotFound
	}
	return copyCredential(cred), nil
}

// Get retrieves a credential by ID.
func (s *CredentialStore) Get(ctx context.Context, id string) (*auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrCredentialNotFound
	}
	return copyCredential(cred), nil
}

// List returns all stored credentials.
func (s *CredentialStore) List(ctx context.Context) ([]*auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*auth.Credential, 0, len(s.byID))
	for _, cred := range s.byID {
		result = append(result, copyCredential(cred))
	}
	return result, nil
}

// Add seeds a credential (for testing/startup seeding).
func (s *CredentialStore) Add(cred *auth.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyCredential(cred)
	s.byID[cred.ID] = stored
	s.byHash[cred.SecretHash] = stored
}

// Revoke marks a credential inactive. One-way.
func (s *CredentialStore) Revoke(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok {
		return false
	}
	cred.Active = false
	return true
}

// copyCredential creates a deep copy of a credential.
func copyCredential(cred *auth.Credential) *auth.Credential {
	credCopy := *cred
	credCopy.Permissions = cred.Permissions.Clone()
	credCopy.AllowedDelegationDomains = make([]string, len(cred.AllowedDelegationDomains))
	copy(credCopy.AllowedDelegationDomains, cred.AllowedDelegationDomains)
	if cred.ExpiresAt != nil {
		t := *cred.ExpiresAt
		credCopy.ExpiresAt = &t
	}
	return &credCopy
}

// Compile-time interface verification.
var _ auth.CredentialStore = (*CredentialStore)(nil)
