// Package config provides the configuration schema, loader, and detector
// registry for the VerseCatch server.
package config

import "time"

// LogLevel controls log verbosity for the VerseCatch server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// StorageDriver selects the ledger backend.
type StorageDriver string

const (
	DriverPostgres StorageDriver = "postgres"
	DriverSQLite   StorageDriver = "sqlite"
	DriverMemory   StorageDriver = "memory"
)

// IsValid reports whether d is a recognised storage driver.
func (d StorageDriver) IsValid() bool {
	switch d {
	case DriverPostgres, DriverSQLite, DriverMemory:
		return true
	}
	return false
}

// AnonymousScope mirrors identity.Scope so the schema stays free of domain
// imports.
type AnonymousScope string

const (
	ScopeConnection AnonymousScope = "connection"
	ScopeEvent      AnonymousScope = "event"
)

// IsValid reports whether s is a recognised anonymous scope.
func (s AnonymousScope) IsValid() bool {
	return s == ScopeConnection || s == ScopeEvent
}

// Config is the root configuration structure for VerseCatch.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Detector DetectorConfig `yaml:"detector"`
	Stream   StreamConfig   `yaml:"stream"`
	Identity IdentityConfig `yaml:"identity"`
	Ledger   LedgerConfig   `yaml:"ledger"`

	// Achievements overrides rule thresholds keyed by tag
	// (e.g. verse_catcher: 50). Unknown tags are rejected.
	Achievements map[string]int64 `yaml:"achievements"`
}

// ServerConfig holds network, logging, and authentication settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output.
	LogFormat LogFormat `yaml:"log_format"`

	// APIKeyHash is the lower-case hex SHA-256 digest of the shared API key
	// clients present as the api_key query parameter. Generate one with
	// "versecatch keygen". Overridden by VERSECATCH_API_KEY_HASH.
	APIKeyHash string `yaml:"api_key_hash"`

	// ShutdownTimeout bounds graceful shutdown, including session drain.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the ledger backend.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`

	// DSN is the PostgreSQL connection string. Overridden by
	// VERSECATCH_DATABASE_DSN.
	DSN string `yaml:"dsn"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// MaxConns caps the PostgreSQL pool. 0 keeps the pgxpool default.
	MaxConns int32 `yaml:"max_conns"`
}

// DetectorEntry is the configuration block of one detection backend. The
// Name field is used to look up the constructor in the [Registry].
type DetectorEntry struct {
	// Name selects the registered detector implementation ("remote", "mock").
	Name string `yaml:"name"`

	// BaseURL is the detection service endpoint for the remote detector.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token. The primary entry's key is
	// overridden by VERSECATCH_DETECTOR_API_KEY.
	APIKey string `yaml:"api_key"`

	// Options holds detector-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig tunes the circuit breaker in front of every detector.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// DetectorConfig declares the primary detector, its fallbacks, and the
// per-call deadline.
type DetectorConfig struct {
	DetectorEntry `yaml:",inline"`

	// Timeout bounds a single detection call.
	Timeout time.Duration `yaml:"timeout"`

	// Fallbacks are tried in order when the primary fails or its breaker
	// is open.
	Fallbacks []DetectorEntry `yaml:"fallbacks"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// StreamConfig tunes the per-connection session.
type StreamConfig struct {
	// QueueSize is the capacity of the segment queue. A full queue blocks
	// the network reader.
	QueueSize int `yaml:"queue_size"`

	// MaxMessageBytes is the WebSocket read limit per frame.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// DrainTimeout bounds how long a closing session waits for its worker.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// ReplyOnNoMatch sends an empty JSON array for segments without a match.
	ReplyOnNoMatch bool `yaml:"reply_on_no_match"`

	// DefaultVersion is used when the client omits the version parameter.
	DefaultVersion string `yaml:"default_version"`

	// OriginPatterns lists host patterns (e.g. "*.example.com") allowed to
	// open a stream from a browser. Clients that send no Origin header are
	// always allowed.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// IdentityConfig controls identity resolution.
type IdentityConfig struct {
	AnonymousScope AnonymousScope `yaml:"anonymous_scope"`

	// CacheTTL is how long an e-mail lookup is cached. Negative disables
	// the cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// LedgerConfig bounds retries of transient storage failures.
type LedgerConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}
