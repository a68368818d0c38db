// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Jobs     JobsConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Security SecurityConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`

	// MaxUploadBytes caps the size of an uploaded import file (default: 50MB)
	MaxUploadBytes int64 `env:"SERVER_MAX_UPLOAD_BYTES" envDefault:"52428800"`

	// MaxConcurrentUploads caps uploads being stored at once (default: 5)
	MaxConcurrentUploads int `env:"SERVER_MAX_CONCURRENT_UPLOADS" envDefault:"5"`

	// UploadWaitTimeout is how long an upload waits for a free slot (default: 30s)
	UploadWaitTimeout time.Duration `env:"SERVER_UPLOAD_WAIT_TIMEOUT" envDefault:"30s"`

	// RateLimitPerMinute is the per-client request budget, 0 disables (default: 300)
	RateLimitPerMinute int `env:"SERVER_RATE_LIMIT_PER_MINUTE" envDefault:"300"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Required by the server;
	// the CLI falls back to the in-memory entity store without it.
	URL string `env:"DATABASE_URL"`

	// SQLitePath is where the CLI keeps its job history (default: impex.db)
	SQLitePath string `env:"SQLITE_PATH" envDefault:"impex.db"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" envDefault:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" envDefault:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// ConnectAttempts is how many times the startup ping is tried (default: 5)
	ConnectAttempts uint `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
}

// JobsConfig holds import/export job processing settings.
type JobsConfig struct {
	// MaxDatasetRows is the row ceiling for a single import (default: 100000)
	MaxDatasetRows int `env:"IMPORT_EXPORT_MAX_DATASET_ROWS" envDefault:"100000"`

	// StatusUpdateRowCount is how many rows pass between progress publishes (default: 100)
	StatusUpdateRowCount int `env:"STATUS_UPDATE_ROW_COUNT" envDefault:"100"`

	// Workers is the number of concurrently running job phases (default: 4)
	Workers int `env:"JOB_WORKERS" envDefault:"4"`

	// ErrorMessageLimit truncates stored job error messages (default: 128)
	ErrorMessageLimit int `env:"JOB_ERROR_MESSAGE_LIMIT" envDefault:"128"`

	// ResultRowCap bounds how many row outcomes a stored result keeps (default: 1000)
	ResultRowCap int `env:"JOB_RESULT_ROW_CAP" envDefault:"1000"`

	// ReconcileInterval is how often running jobs are checked for lost
	// runner failures, 0 disables (default: 1m)
	ReconcileInterval time.Duration `env:"JOB_RECONCILE_INTERVAL" envDefault:"1m"`

	// LostTaskGrace is how long a freshly scheduled job may poll an unknown
	// task before it is failed as lost (default: 1m)
	LostTaskGrace time.Duration `env:"JOB_LOST_TASK_GRACE" envDefault:"1m"`

	// TaskRetention is how long finished tasks stay in the worker pool
	// (default: 1h)
	TaskRetention time.Duration `env:"JOB_TASK_RETENTION" envDefault:"1h"`
}

// StorageConfig holds file storage settings for uploads and export output.
type StorageConfig struct {
	// Dir is the root directory for stored files (default: ./data)
	Dir string `env:"STORAGE_DIR" envDefault:"./data"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`

	// File enables a rotating log file in addition to stdout
	File string `env:"LOG_FILE"`

	// MaxSizeMB is the size at which the log file rotates (default: 100)
	MaxSizeMB int `env:"LOG_MAX_SIZE_MB" envDefault:"100"`

	// MaxBackups is the number of rotated files kept (default: 5)
	MaxBackups int `env:"LOG_MAX_BACKUPS" envDefault:"5"`

	// MaxAgeDays is how long rotated files are kept (default: 28)
	MaxAgeDays int `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// RequireAPIKey rejects requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" envDefault:"false"`

	// APIKeys are "name:key" pairs; the name is recorded as the job creator
	APIKeys []string `env:"API_KEYS" envSeparator:","`

	// TrustedProxies are CIDRs whose X-Real-IP / X-Forwarded-For headers are honored
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
