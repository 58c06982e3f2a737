package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for seclens.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type without
		// search paths so ReadInConfig returns ConfigFileNotFoundError
		// (handled gracefully by callers).
		viper.SetConfigName("seclens")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SECLENS_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("SECLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a seclens config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".seclens"),
		"/etc/seclens",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "seclens"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable
// support. Example: SECLENS_SESSION_IDLE_CUTOFF overrides
// session.idle_cutoff.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("auth.role_table_file")
	_ = viper.BindEnv("auth.seed_file")
	_ = viper.BindEnv("auth.resolve_timeout")

	_ = viper.BindEnv("session.store")
	_ = viper.BindEnv("session.sqlite_path")
	_ = viper.BindEnv("session.idle_cutoff")
	_ = viper.BindEnv("session.retention")
	_ = viper.BindEnv("session.sweep_interval")
	_ = viper.BindEnv("session.max_per_credential")

	_ = viper.BindEnv("workflow.expiry_sweep_interval")
	_ = viper.BindEnv("dispatch.call_timeout")
	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides
// and defaults, and returns the Config. Callers apply CLI flag overrides,
// then call Validate.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file: run on env vars and defaults alone.
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// ConfigFileUsed returns the path of the loaded config file, or "".
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
