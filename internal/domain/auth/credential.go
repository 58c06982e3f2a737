package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidCredential is returned when a credential token is invalid,
// expired, or revoked. Callers must not distinguish these cases to clients.
var ErrInvalidCredential = errors.New("invalid credential")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// CredentialService resolves opaque credential tokens to credential records.
type CredentialService struct {
	store CredentialStore
}

// NewCredentialService creates a new CredentialService with the given store.
func NewCredentialService(store CredentialStore) *CredentialService {
	return &CredentialService{store: store}
}

// Resolve checks a raw credential token and returns the credential record.
// Returns ErrInvalidCredential if the token is unknown, expired, or revoked.
//
// Supports both SHA-256 (direct lookup) and Argon2id (iteration) hashes.
func (s *CredentialService) Resolve(ctx context.Context, rawToken string) (*Credential, error) {
	// Fast path: direct SHA-256 lookup for seeded credentials.
	cred, err := s.store.GetBySecretHash(ctx, HashSecret(rawToken))
	if err == nil {
		return s.validate(cred)
	}
	if !errors.Is(err, ErrCredentialNotFound) {
		// Infrastructure failure, not an unknown token. Surface as-is so the
		// caller can treat it as retryable.
		return nil, fmt.Errorf("credential lookup: %w", err)
	}

	// Fallback: iterate all credentials and verify (supports Argon2id hashes).
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential list: %w", err)
	}
	for _, candidate := range all {
		match, verifyErr := VerifySecret(rawToken, candidate.SecretHash)
		if verifyErr != nil {
			continue
		}
		if match {
			return s.validate(candidate)
		}
	}

	return nil, ErrInvalidCredential
}

// validate checks revocation and expiry.
func (s *CredentialService) validate(cred *Credential) (*Credential, error) {
	if !cred.Active {
		return nil, ErrInvalidCredential
	}
	if cred.IsExpired() {
		return nil, ErrInvalidCredential
	}
	return cred, nil
}

// HashSecret returns the SHA-256 hex hash of the raw secret.
// Used for seeded credentials where a fast deterministic lookup is needed.
func HashSecret(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashSecretArgon2id returns an Argon2id hash of the raw secret in PHC format.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashSecretArgon2id(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" for unrecognized formats.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	// Bare SHA-256 hex is exactly 64 hex characters.
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifySecret verifies a raw secret against a stored hash.
// Supports Argon2id (PHC format), SHA-256 prefixed, and bare SHA-256 hex.
// Returns (false, ErrUnknownHashType) for unrecognized hash formats.
func VerifySecret(raw, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(raw, storedHash)

	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashSecret(raw)
		// Constant-time comparison to prevent timing attacks.
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery. The underlying argon2 library panics on malformed hashes with
// invalid parameters (e.g. t=0 rounds); those become errors here so
// VerifySecret never panics.
func safeArgon2idCompare(raw, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, storedHash)
}
