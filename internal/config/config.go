// Package config provides configuration types and loading for the Agora
// governance server.
//
// Configuration comes from a YAML file (agora.yaml), environment variables
// with the AGORA_ prefix, or both. The schema is deliberately small: the
// listener, the persistence backend, batch defaults, and an optional seed
// file that bootstraps communities, roles, and permissions at startup.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the Agora server.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store configures action and entity persistence.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Containers configures batch submission defaults.
	Containers ContainerConfig `yaml:"containers" mapstructure:"containers"`

	// Seed is the path to a YAML seed file applied at startup.
	// Optional: when empty, the server starts with no entities and
	// everything must be created through trusted bootstrap calls.
	Seed string `yaml:"seed" mapstructure:"seed"`

	// Tracing configures OpenTelemetry trace export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// Only plain HTTP is supported; terminate TLS in a reverse proxy.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	// Defaults to "10s" if not specified.
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend selects the store implementation.
	// Valid values: "memory" (volatile, for development and tests) or
	// "sqlite" (single-file durable store).
	// Defaults to "memory" if empty.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite"`

	// SQLitePath is the database file path for the sqlite backend.
	// Required when backend is "sqlite"; ignored otherwise.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ContainerConfig configures batch submission defaults.
type ContainerConfig struct {
	// DefaultMode is used when a batch request does not name a mode.
	// Valid values: "partial_apply" or "all_or_nothing".
	// Defaults to "partial_apply" if empty.
	DefaultMode string `yaml:"default_mode" mapstructure:"default_mode" validate:"omitempty,container_mode"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	// Enabled turns span export on or off. When off, spans are still
	// created but never exported.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Exporter selects the span exporter.
	// Only "stdout" is supported.
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"omitempty,oneof=stdout"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless explicitly configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}

	if c.Containers.DefaultMode == "" {
		c.Containers.DefaultMode = "partial_apply"
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
}

// SetDevDefaults applies development-mode overrides. Applied before
// validation so a bare `agora serve --dev` works with no config file.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if !viper.IsSet("tracing.enabled") {
		c.Tracing.Enabled = true
	}
}
