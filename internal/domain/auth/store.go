package auth

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
var (
	// ErrCredentialNotFound is returned when no credential matches a hash or ID.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrIdentityNotFound is returned when no identity matches an email or ID.
	ErrIdentityNotFound = errors.New("identity not found")
)

// CredentialStore provides credential lookup for authentication.
// The interface is defined in the domain to avoid circular imports.
// Implementations: in-memory (dev/test), YAML-seeded.
type CredentialStore interface {
	// GetBySecretHash retrieves a credential by its secret hash.
	// Returns ErrCredentialNotFound if no credential matches.
	GetBySecretHash(ctx context.Context, secretHash string) (*Credential, error)

	// Get retrieves a credential by ID.
	// Returns ErrCredentialNotFound if no credential matches.
	Get(ctx context.Context, id string) (*Credential, error)

	// List returns all stored credentials for iteration-based verification.
	List(ctx context.Context) ([]*Credential, error)
}

// IdentityStore resolves delegated user identities.
// Implementations: in-memory (dev/test), YAML-seeded.
type IdentityStore interface {
	// FindActiveByEmail retrieves an active identity by lower-cased email.
	// Returns ErrIdentityNotFound if no active identity matches.
	FindActiveByEmail(ctx context.Context, email string) (*Identity, error)

	// Get retrieves an identity by ID.
	// Returns ErrIdentityNotFound if no identity matches.
	Get(ctx context.Context, id string) (*Identity, error)
}
