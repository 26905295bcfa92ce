// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Everything except the raw sheet layout is configured via environment variables;
// the layout comes from the YAML file named by RAW_LAYOUT_FILE, or its defaults.
type Config struct {
	Server   ServerConfig
	Jobs     JobsConfig
	Upload   UploadConfig
	Pipeline PipelineConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig

	// Layout is not env-driven; see LoadRawLayout.
	Layout RawLayout
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, pipeline runs inline)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds a whole request, including an inline pipeline run (default: 30m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30m"`
}

// JobsConfig holds job directory settings.
type JobsConfig struct {
	// Dir is where one directory per job is created (default: jobs)
	Dir string `env:"JOBS_DIR" default:"jobs"`
}

// UploadConfig holds upload validation settings.
type UploadConfig struct {
	// MaxFileSize is the maximum request body size in bytes (default: 16MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"16777216"`

	// AllowedExtensions lists accepted file extensions without the dot (default: xlsx,csv)
	AllowedExtensions []string `env:"UPLOAD_ALLOWED_EXTENSIONS" default:"xlsx,csv"`
}

// PipelineConfig holds pipeline execution settings.
type PipelineConfig struct {
	// StageTimeout bounds a single pipeline stage (default: 5m)
	StageTimeout time.Duration `env:"PIPELINE_STAGE_TIMEOUT" default:"5m"`

	// MaxConcurrent is the maximum number of pipeline runs in flight (default: 2)
	MaxConcurrent int `env:"PIPELINE_MAX_CONCURRENT" default:"2"`

	// MaxWait is how long a run waits for a free slot (default: 30s)
	MaxWait time.Duration `env:"PIPELINE_MAX_WAIT" default:"30s"`

	// LinkWindow is the forward window of the cleaner/developer/etcher linker (default: 60s)
	LinkWindow time.Duration `env:"LINK_WINDOW" default:"60s"`

	// MergeWindow is the forward window of the lot/event expansion merge (default: 6h)
	MergeWindow time.Duration `env:"MERGE_WINDOW" default:"6h"`

	// LayoutFile optionally points at a YAML raw sheet layout
	LayoutFile string `env:"RAW_LAYOUT_FILE"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are honored
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// DatabaseConfig holds the optional archive database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Archiving is disabled when empty.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" default:"true"`
	Path    string `env:"METRICS_PATH" default:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ArchiveEnabled reports whether final tables should be copied to Postgres.
func (c *DatabaseConfig) ArchiveEnabled() bool {
	return c.URL != ""
}
