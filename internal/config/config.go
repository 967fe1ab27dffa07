// Package config handles loading and validating Attest configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Attest.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.attest/workspace. Override: ATTEST_WORKSPACE env var.
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Runner        RunnerConfig         `json:"runner" yaml:"runner"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from workspace)
	Enrichment    *EnrichmentConfig    `json:"enrichment,omitempty" yaml:"enrichment,omitempty"`       // nil = enrichment disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Server        *ServerConfig        `json:"server,omitempty" yaml:"server,omitempty"`               // nil = HTTP API disabled
	Retention     *RetentionConfig     `json:"retention,omitempty" yaml:"retention,omitempty"`         // nil = no scheduled pruning
}

// SandboxConfig mirrors the sandbox policy. Mapped onto the sandbox
// package's Config at startup; kept separate so this package stays
// self-contained.
type SandboxConfig struct {
	MaxCPUSeconds   int      `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`     // Default: 120
	MaxMemoryBytes  int64    `json:"max_memory_bytes" yaml:"max_memory_bytes"`   // Default: 2 GiB
	MaxWallSeconds  int      `json:"max_wall_seconds" yaml:"max_wall_seconds"`   // Default: 45
	MaxFileBytes    int64    `json:"max_file_bytes" yaml:"max_file_bytes"`       // Default: 256 MiB
	MaxProcesses    int      `json:"max_processes" yaml:"max_processes"`         // Default: 128
	AllowedDirs     []string `json:"allowed_dirs" yaml:"allowed_dirs"`           // Roots test targets must live under.
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`   // Default: ["npx", "node"]
}

// RunnerConfig describes how the browser-test runner is invoked and
// where it leaves its output.
type RunnerConfig struct {
	Command    string   `json:"command" yaml:"command"`         // Default: "npx"
	Args       []string `json:"args" yaml:"args"`               // Default: ["playwright", "test", "--reporter=json"]
	ResultsDir string   `json:"results_dir" yaml:"results_dir"` // Runner output dir. Default: "test-results"
}

// StorageConfig configures the result history backend. When nil,
// defaults to SQLite with the database path derived from the workspace.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Overridable by ATTEST_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// EnrichmentConfig configures the optional vision-model pass over
// evidence screenshots.
type EnrichmentConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"` // OpenAI-compatible endpoint. Default: api.openai.com
	Model   string `json:"model" yaml:"model"`                           // Vision-capable model name.
	// APIKey is resolved from the ATTEST_VISION_API_KEY env var, never
	// from the config file.
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "attest"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr string           `json:"listen_addr" yaml:"listen_addr"` // Default: ":8091"
	EnableDocs bool             `json:"enable_docs" yaml:"enable_docs"`
	RateLimit  *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // nil = unlimited
	// API keys come from the ATTEST_API_KEYS env var (comma-separated),
	// never from the config file.
}

// RateLimitConfig configures per-caller request throttling.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// Addr returns the listen address, defaulting to ":8091".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8091"
}

// RetentionConfig configures scheduled pruning of old runs and results.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Schedule string `json:"schedule" yaml:"schedule"`   // Cron expression. Default: "0 3 * * *"
	MaxAgeH  int    `json:"max_age_hours" yaml:"max_age_hours"` // Default: 168 (7 days)
}

// CronSchedule returns the cron expression, defaulting to 03:00 daily.
func (r *RetentionConfig) CronSchedule() string {
	if r != nil && r.Schedule != "" {
		return r.Schedule
	}
	return "0 3 * * *"
}

// MaxAge returns the retention window as a duration, defaulting to 7 days.
func (r *RetentionConfig) MaxAge() time.Duration {
	if r != nil && r.MaxAgeH > 0 {
		return time.Duration(r.MaxAgeH) * time.Hour
	}
	return 168 * time.Hour
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/attest.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".attest", "config.yaml")
}

// Default returns a config with sensible defaults for local use.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			AllowedCommands: []string{"npx", "node"},
		},
		Runner: RunnerConfig{
			Command:    "npx",
			Args:       []string{"playwright", "test", "--reporter=json"},
			ResultsDir: "test-results",
		},
	}
}

// Load reads a config file (JSON or YAML by extension), applies env
// overrides, and validates. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps ATTEST_* env vars over file values.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("ATTEST_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if dsn := os.Getenv("ATTEST_DB_DSN"); dsn != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = dsn
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if len(c.Sandbox.AllowedCommands) == 0 {
		return fmt.Errorf("sandbox.allowed_commands must not be empty (nothing could ever run)")
	}
	if c.Runner.Command == "" {
		return fmt.Errorf("runner.command must not be empty")
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.driver is postgres but no DSN is configured")
		}
	}
	if c.Enrichment != nil && c.Enrichment.Enabled && c.Enrichment.Model == "" {
		return fmt.Errorf("enrichment.enabled requires enrichment.model")
	}
	if c.Retention != nil && c.Retention.Enabled && c.Retention.MaxAgeH < 0 {
		return fmt.Errorf("retention.max_age_hours must not be negative")
	}
	return nil
}
