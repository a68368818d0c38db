package config

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/JonMunkholm/impex/internal/logging"
	"github.com/caarlos0/env/v9"
)

// Load reads configuration from environment variables.
// It applies defaults for missing values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics on error.
// Use this in main() where configuration errors should be fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Validate checks all configuration values for consistency.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.ConnectAttempts == 0 {
		errs = append(errs, "DB_CONNECT_ATTEMPTS must be positive")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, "SERVER_MAX_UPLOAD_BYTES must be positive")
	}
	if c.Server.MaxConcurrentUploads <= 0 {
		errs = append(errs, "SERVER_MAX_CONCURRENT_UPLOADS must be positive")
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT_PER_MINUTE must be non-negative")
	}

	// Jobs validation
	if c.Jobs.MaxDatasetRows <= 0 {
		errs = append(errs, "IMPORT_EXPORT_MAX_DATASET_ROWS must be positive")
	}
	if c.Jobs.StatusUpdateRowCount <= 0 {
		errs = append(errs, "STATUS_UPDATE_ROW_COUNT must be positive")
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, "JOB_WORKERS must be positive")
	}
	if c.Jobs.ErrorMessageLimit <= 0 {
		errs = append(errs, "JOB_ERROR_MESSAGE_LIMIT must be positive")
	}
	if c.Jobs.ResultRowCap < 0 {
		errs = append(errs, "JOB_RESULT_ROW_CAP must be non-negative")
	}
	if c.Jobs.ReconcileInterval < 0 {
		errs = append(errs, "JOB_RECONCILE_INTERVAL must be non-negative")
	}
	if c.Jobs.LostTaskGrace < 0 {
		errs = append(errs, "JOB_LOST_TASK_GRACE must be non-negative")
	}
	if c.Jobs.TaskRetention <= 0 {
		errs = append(errs, "JOB_TASK_RETENTION must be positive")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "API_KEYS must be set when REQUIRE_API_KEY is true")
	}
	for _, k := range c.Security.APIKeys {
		if name, key, ok := strings.Cut(k, ":"); !ok || name == "" || key == "" {
			errs = append(errs, "API_KEYS entries must be name:key pairs")
			break
		}
	}

	if strings.TrimSpace(c.Storage.Dir) == "" {
		errs = append(errs, "STORAGE_DIR must not be empty")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// RequireDatabase reports an error when no Postgres connection string is set.
// The server cannot run without one.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("validation failed:\n  - DATABASE_URL is required")
	}
	return nil
}

// String returns a safe string representation with sensitive fields masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	dbURL := ""
	if c.Database.URL != "" {
		dbURL = "[MASKED]"
	}
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		dbURL, c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Jobs: {MaxDatasetRows: %d, StatusUpdateRowCount: %d, Workers: %d}, ",
		c.Jobs.MaxDatasetRows, c.Jobs.StatusUpdateRowCount, c.Jobs.Workers))
	b.WriteString(fmt.Sprintf("Storage: {Dir: %q}, ", c.Storage.Dir))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}, ",
		c.Logging.Level, c.Logging.Format))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %t, APIKeys: %d configured}",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString("}")
	return b.String()
}

// ServiceConfig returns the job service thresholds.
func (c JobsConfig) ServiceConfig() core.Config {
	return core.Config{
		MaxDatasetRows:       c.MaxDatasetRows,
		StatusUpdateRowCount: c.StatusUpdateRowCount,
		ErrorMessageLimit:    c.ErrorMessageLimit,
		ResultRowCap:         c.ResultRowCap,
		LostTaskGrace:        c.LostTaskGrace,
	}
}

// Options returns the logger setup options.
func (c LoggingConfig) Options() logging.Options {
	return logging.Options{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}
