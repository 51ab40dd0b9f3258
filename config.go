package brigade

import (
	"os"
	"path/filepath"
	"time"
)

// Config configures the Brigade client.
type Config struct {
	// LocalPath is the path to the local SQLite database.
	// Defaults to ~/.brigade/<tenant>.db.
	LocalPath string

	// ServerURL is the base URL of the central sync service.
	// If empty, the client operates in offline-only mode.
	ServerURL string

	// APIKey authenticates with the sync service.
	APIKey string

	// TenantID scopes every push and pull to one restaurant account.
	TenantID string

	// SourceID identifies this client device. Defaults to hostname.
	SourceID string

	// SyncInterval is how often the orchestrator runs a cycle while online.
	// Defaults to 2 minutes.
	SyncInterval time.Duration

	// StartupDelay is how long after Start the first cycle runs.
	// Defaults to 5 seconds.
	StartupDelay time.Duration

	// RequestTimeout bounds each network call, not the whole cycle, so one
	// slow request cannot starve the rest of the batch. Defaults to 30s.
	RequestTimeout time.Duration

	// MaxRetries is the ceiling after which a FAILED mutation is excluded
	// from automatic drains and surfaced as needing attention. Defaults to 5.
	MaxRetries int

	// Retention is how long SYNCED mutations are kept before the age-based
	// sweep deletes them. Defaults to 7 days.
	Retention time.Duration

	// SettingsTTL bounds the settings cache freshness. Defaults to 5 minutes.
	SettingsTTL time.Duration

	// AutoSync enables the background orchestrator loop. Defaults to true.
	AutoSync bool

	// Debug enables verbose logging of all sync API communications.
	Debug bool

	// DebugLogPath is the path to write debug logs. Defaults to stderr.
	DebugLogPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		SyncInterval:   2 * time.Minute,
		StartupDelay:   5 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     5,
		Retention:      7 * 24 * time.Hour,
		SettingsTTL:    5 * time.Minute,
		AutoSync:       true,
		SourceID:       hostname,
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	BRIGADE_DB_PATH    → LocalPath
//	BRIGADE_SERVER_URL → ServerURL
//	BRIGADE_API_KEY    → APIKey
//	BRIGADE_TENANT     → TenantID
//	BRIGADE_SOURCE_ID  → SourceID
//	BRIGADE_DEBUG      → Debug (any non-empty value enables)
//	BRIGADE_DEBUG_LOG  → DebugLogPath
func ConfigFromEnv() Config {
	return Config{
		LocalPath:    os.Getenv("BRIGADE_DB_PATH"),
		ServerURL:    os.Getenv("BRIGADE_SERVER_URL"),
		APIKey:       os.Getenv("BRIGADE_API_KEY"),
		TenantID:     os.Getenv("BRIGADE_TENANT"),
		SourceID:     os.Getenv("BRIGADE_SOURCE_ID"),
		Debug:        os.Getenv("BRIGADE_DEBUG") != "",
		DebugLogPath: os.Getenv("BRIGADE_DEBUG_LOG"),
	}
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return &ValidationError{Field: "TenantID", Message: "required"}
	}
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}
	if c.ServerURL != "" && c.APIKey == "" {
		return &ValidationError{Field: "APIKey", Message: "required when ServerURL is set"}
	}
	if c.SyncInterval < 0 {
		return &ValidationError{Field: "SyncInterval", Message: "must be non-negative"}
	}
	if c.MaxRetries < 1 {
		return &ValidationError{Field: "MaxRetries", Message: "must be at least 1"}
	}
	return nil
}

// IsOffline reports whether the client operates in offline-only mode.
func (c *Config) IsOffline() bool {
	return c.ServerURL == ""
}

// WithDefaults fills in default values for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.LocalPath == "" && c.TenantID != "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.LocalPath = filepath.Join(home, ".brigade", c.TenantID+".db")
		}
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = defaults.SyncInterval
	}
	if c.StartupDelay == 0 {
		c.StartupDelay = defaults.StartupDelay
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.Retention == 0 {
		c.Retention = defaults.Retention
	}
	if c.SettingsTTL == 0 {
		c.SettingsTTL = defaults.SettingsTTL
	}
	if c.SourceID == "" {
		c.SourceID = defaults.SourceID
	}

	return c
}
