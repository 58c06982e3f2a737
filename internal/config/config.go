// Package config provides configuration types and loading for seclens.
//
// Configuration is file-based (seclens.yaml) with environment variable
// overrides under the SECLENS_ prefix. Authorization data (the role table
// and seeded credentials/identities) lives in separate files referenced
// from here, loaded by the yamlcfg adapter.
package config

import (
	"time"
)

// Config is the top-level configuration for seclens.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Auth configures credential/identity sources.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Session configures session lifecycle and storage.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Workflow configures the exception-request workflow.
	Workflow WorkflowConfig `yaml:"workflow" mapstructure:"workflow"`

	// Dispatch configures tool dispatch.
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`

	// Audit configures where audit logs are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Tracing configures the OpenTelemetry stdout exporter.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development features (verbose logging, built-in
	// role table when none is configured).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server listener.
type ServerConfig struct {
	// HTTPAddr is the listen address. Default "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr"`
	// LogLevel is debug, info, warn, or error. Default "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// AuthConfig configures authorization data sources.
type AuthConfig struct {
	// RoleTableFile is the YAML role→permission table. Empty uses the
	// built-in table.
	RoleTableFile string `yaml:"role_table_file" mapstructure:"role_table_file"`
	// SeedFile is the YAML credentials/identities seed file.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
	// ResolveTimeout bounds credential store lookups. Default 5s.
	ResolveTimeout time.Duration `yaml:"resolve_timeout" mapstructure:"resolve_timeout"`
}

// SessionConfig configures session lifecycle and storage.
type SessionConfig struct {
	// Store is "memory" or "sqlite". Default "memory".
	Store string `yaml:"store" mapstructure:"store" validate:"omitempty,oneof=memory sqlite"`
	// SQLitePath is the database file, used when Store is "sqlite".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	// IdleCutoff deactivates sessions idle longer than this. Default 30m.
	IdleCutoff time.Duration `yaml:"idle_cutoff" mapstructure:"idle_cutoff"`
	// Retention deletes inactive sessions older than this. Default 24h.
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`
	// SweepInterval is how often the sweeper runs. Default 1m.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// MaxPerCredential caps concurrent active sessions. Default 10.
	MaxPerCredential int `yaml:"max_per_credential" mapstructure:"max_per_credential" validate:"omitempty,min=1"`
}

// WorkflowConfig configures the exception-request workflow.
type WorkflowConfig struct {
	// ExpirySweepInterval is how often pending requests are expired.
	// Default 1m.
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval" mapstructure:"expiry_sweep_interval"`
}

// DispatchConfig configures tool dispatch.
type DispatchConfig struct {
	// CallTimeout bounds a single tool handler. Default 30s.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// AuditConfig configures audit log output.
type AuditConfig struct {
	// Output is "stdout" or "file://<absolute-path>". Default "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_output"`
}

// TracingConfig configures the OpenTelemetry stdout exporter.
type TracingConfig struct {
	// Enabled turns on span export to stderr. Default false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults fills zero values with production defaults.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Auth.ResolveTimeout == 0 {
		c.Auth.ResolveTimeout = 5 * time.Second
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.SQLitePath == "" {
		c.Session.SQLitePath = "seclens.db"
	}
	if c.Session.IdleCutoff == 0 {
		c.Session.IdleCutoff = 30 * time.Minute
	}
	if c.Session.Retention == 0 {
		c.Session.Retention = 24 * time.Hour
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Session.MaxPerCredential == 0 {
		c.Session.MaxPerCredential = 10
	}
	if c.Workflow.ExpirySweepInterval == 0 {
		c.Workflow.ExpirySweepInterval = time.Minute
	}
	if c.Dispatch.CallTimeout == 0 {
		c.Dispatch.CallTimeout = 30 * time.Second
	}
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
}
