package yamlcfg

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seclens/seclens/internal/adapter/outbound/memory"
	"github.com/seclens/seclens/internal/domain/auth"
)

// seedFile is the YAML shape of a seed file.
type seedFile struct {
	Credentials []seedCredential `yaml:"credentials" validate:"dive"`
	Identities  []seedIdentity   `yaml:"identities" validate:"dive"`
}

type seedCredential struct {
	ID          string   `yaml:"id" validate:"required"`
	Name        string   `yaml:"name" validate:"required"`
	SecretHash  string   `yaml:"secret_hash" validate:"required"`
	Permissions []string `yaml:"permissions" validate:"required,min=1"`
	// Delegation settings; an empty domain list with delegation enabled
	// is rejected at load time.
	DelegationEnabled        bool     `yaml:"delegation_enabled"`
	AllowedDelegationDomains []string `yaml:"allowed_delegation_domains"`
	// ExpiresAt uses RFC 3339; empty means no expiry.
	ExpiresAt string `yaml:"expires_at"`
	Active    *bool  `yaml:"active"`
}

type seedIdentity struct {
	ID     string   `yaml:"id" validate:"required"`
	Email  string   `yaml:"email" validate:"required,email"`
	Roles  []string `yaml:"roles" validate:"required,min=1"`
	Active *bool    `yaml:"active"`
}

// Seed holds the stores populated from a seed file.
type Seed struct {
	Credentials *memory.CredentialStore
	Identities  *memory.IdentityStore
}

// LoadSeed reads credentials and identities from path into fresh in-memory
// stores. Secret hashes are stored as given: SHA-256 hex or an argon2id
// encoded string, detected per lookup.
func LoadSeed(path string, logger *slog.Logger) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}

	seed := &Seed{
		Credentials: memory.NewCredentialStore(),
		Identities:  memory.NewIdentityStore(),
	}

	now := time.Now().UTC()
	credIDs := make(map[string]bool, len(file.Credentials))
	for i, sc := range file.Credentials {
		if credIDs[sc.ID] {
			return nil, fmt.Errorf("seed file %s: duplicate credential id %q", path, sc.ID)
		}
		credIDs[sc.ID] = true
		cred, err := sc.toCredential(now)
		if err != nil {
			return nil, fmt.Errorf("seed file %s: credential %d (%s): %w", path, i, sc.ID, err)
		}
		seed.Credentials.Add(cred)
	}

	identIDs := make(map[string]bool, len(file.Identities))
	emails := make(map[string]bool, len(file.Identities))
	for i, si := range file.Identities {
		if identIDs[si.ID] {
			return nil, fmt.Errorf("seed file %s: duplicate identity id %q", path, si.ID)
		}
		identIDs[si.ID] = true
		email := strings.ToLower(strings.TrimSpace(si.Email))
		if emails[email] {
			return nil, fmt.Errorf("seed file %s: duplicate identity email %q", path, email)
		}
		emails[email] = true
		identity, err := si.toIdentity()
		if err != nil {
			return nil, fmt.Errorf("seed file %s: identity %d (%s): %w", path, i, si.ID, err)
		}
		seed.Identities.Add(identity)
	}

	logger.Info("seed data loaded",
		"path", path,
		"credentials", len(file.Credentials),
		"identities", len(file.Identities),
	)
	return seed, nil
}

func (sc *seedCredential) toCredential(now time.Time) (*auth.Credential, error) {
	perms := make(auth.PermissionSet, len(sc.Permissions))
	for _, permName := range sc.Permissions {
		perm := auth.Permission(permName)
		if !perm.IsValid() {
			return nil, fmt.Errorf("unknown permission %q", permName)
		}
		perms[perm] = struct{}{}
	}

	if auth.DetectHashType(sc.SecretHash) == "unknown" {
		return nil, fmt.Errorf("secret_hash is neither SHA-256 hex nor argon2id")
	}
	// Bare hex keys the store's hash index, enabling the direct lookup.
	secretHash := strings.TrimPrefix(sc.SecretHash, "sha256:")
	if sc.DelegationEnabled && len(sc.AllowedDelegationDomains) == 0 {
		return nil, fmt.Errorf("delegation_enabled requires allowed_delegation_domains")
	}

	domains := make([]string, 0, len(sc.AllowedDelegationDomains))
	for _, d := range sc.AllowedDelegationDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			return nil, fmt.Errorf("empty delegation domain")
		}
		domains = append(domains, d)
	}

	var expiresAt *time.Time
	if sc.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, sc.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		t = t.UTC()
		expiresAt = &t
	}

	active := true
	if sc.Active != nil {
		active = *sc.Active
	}

	return &auth.Credential{
		ID:                       sc.ID,
		Name:                     sc.Name,
		SecretHash:               secretHash,
		Permissions:              perms,
		DelegationEnabled:        sc.DelegationEnabled,
		AllowedDelegationDomains: domains,
		ExpiresAt:                expiresAt,
		Active:                   active,
		CreatedAt:                now,
	}, nil
}

func (si *seedIdentity) toIdentity() (*auth.Identity, error) {
	roles := make([]auth.Role, 0, len(si.Roles))
	for _, roleName := range si.Roles {
		role := auth.Role(roleName)
		if !role.IsValid() {
			return nil, fmt.Errorf("unknown role %q", roleName)
		}
		roles = append(roles, role)
	}

	active := true
	if si.Active != nil {
		active = *si.Active
	}

	return &auth.Identity{
		ID:     si.ID,
		Email:  strings.ToLower(strings.TrimSpace(si.Email)),
		Roles:  roles,
		Active: active,
	}, nil
}
