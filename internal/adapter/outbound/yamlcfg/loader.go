// Package yamlcfg loads authorization data from YAML files: the
// role→permission table and the seed file of credentials and identities.
// Both are read once at startup; the resulting domain objects are
// immutable afterwards.
package yamlcfg

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/seclens/seclens/internal/domain/auth"
)

// roleTableFile is the YAML shape of a role-permission table file.
type roleTableFile struct {
	Version string              `yaml:"version" validate:"required"`
	Roles   map[string][]string `yaml:"roles" validate:"required,min=1"`
}

// LoadRoleTable reads a role→permission table from path. Unknown roles or
// permissions are rejected at load time rather than silently dropped; a
// typo in the table must not widen or narrow access unnoticed.
func LoadRoleTable(path string, logger *slog.Logger) (*auth.RolePermissionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role table %s: %w", path, err)
	}

	var file roleTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse role table %s: %w", path, err)
	}
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid role table %s: %w", path, err)
	}

	grants := make(map[auth.Role]auth.PermissionSet, len(file.Roles))
	for roleName, permNames := range file.Roles {
		role := auth.Role(roleName)
		if !role.IsValid() {
			return nil, fmt.Errorf("role table %s: unknown role %q", path, roleName)
		}
		perms := make(auth.PermissionSet, len(permNames))
		for _, permName := range permNames {
			perm := auth.Permission(permName)
			if !perm.IsValid() {
				return nil, fmt.Errorf("role table %s: role %s: unknown permission %q", path, roleName, permName)
			}
			perms[perm] = struct{}{}
		}
		grants[role] = perms
	}

	table := auth.NewRolePermissionTable(file.Version, grants)
	logger.Info("role table loaded",
		"path", path,
		"version", table.Version(),
		"roles", len(grants),
		"fingerprint", table.Fingerprint(),
	)
	return table, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())
