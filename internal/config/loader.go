package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/versecatch/internal/achievement"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvAPIKeyHash     = "VERSECATCH_API_KEY_HASH"
	EnvDatabaseDSN    = "VERSECATCH_DATABASE_DSN"
	EnvDetectorAPIKey = "VERSECATCH_DETECTOR_API_KEY"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultSQLitePath      = "versecatch.db"
	DefaultDetector        = "remote"
	DefaultDetectTimeout   = 15 * time.Second
	DefaultQueueSize       = 64
	DefaultMaxMessageBytes = 1 << 20
	DefaultDrainTimeout    = 30 * time.Second
	DefaultVersion         = "ASV_bible"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultBaseBackoff     = 50 * time.Millisecond
)

// ValidDetectorNames lists the detector names known to this build.
// Used by [Validate] to warn about unrecognised names.
var ValidDetectorNames = []string{"remote", "mock"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overwrites secrets in cfg with the values of the VERSECATCH_*
// environment variables that lookup reports as set.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKeyHash); ok {
		cfg.Server.APIKeyHash = v
	}
	if v, ok := lookup(EnvDatabaseDSN); ok {
		cfg.Storage.DSN = v
	}
	if v, ok := lookup(EnvDetectorAPIKey); ok {
		cfg.Detector.APIKey = v
	}
}

// ApplyDefaults fills every zero-valued setting that has a default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.LogFormat, LogFormatText)
	setDefault(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)
	cfg.Server.APIKeyHash = strings.ToLower(strings.TrimSpace(cfg.Server.APIKeyHash))

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
		if cfg.Storage.DSN != "" {
			cfg.Storage.Driver = DriverPostgres
		}
	}
	if cfg.Storage.Driver == DriverSQLite {
		setDefault(&cfg.Storage.Path, DefaultSQLitePath)
	}

	setDefault(&cfg.Detector.Name, DefaultDetector)
	setDefault(&cfg.Detector.Timeout, DefaultDetectTimeout)

	setDefault(&cfg.Stream.QueueSize, DefaultQueueSize)
	setDefault(&cfg.Stream.MaxMessageBytes, DefaultMaxMessageBytes)
	setDefault(&cfg.Stream.DrainTimeout, DefaultDrainTimeout)
	setDefault(&cfg.Stream.DefaultVersion, DefaultVersion)

	setDefault(&cfg.Identity.AnonymousScope, ScopeConnection)
	setDefault(&cfg.Identity.CacheTTL, DefaultCacheTTL)

	setDefault(&cfg.Ledger.MaxAttempts, DefaultMaxAttempts)
	setDefault(&cfg.Ledger.BaseBackoff, DefaultBaseBackoff)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if h := cfg.Server.APIKeyHash; h != "" {
		if b, err := hex.DecodeString(h); err != nil || len(b) != 32 {
			errs = append(errs, errors.New("server.api_key_hash must be a hex-encoded SHA-256 digest (64 characters)"))
		}
	} else {
		slog.Warn("server.api_key_hash is empty; every stream connection will be rejected")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Storage
	switch cfg.Storage.Driver {
	case DriverPostgres:
		if cfg.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required when driver is postgres (or set %s)", EnvDatabaseDSN))
		}
	case DriverSQLite:
		if cfg.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required when driver is sqlite"))
		}
	case DriverMemory:
		slog.Warn("storage.driver is memory; capture counters and achievements are lost on restart")
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: postgres, sqlite, memory", cfg.Storage.Driver))
	}
	if cfg.Storage.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("storage.max_conns %d must not be negative", cfg.Storage.MaxConns))
	}

	// Detector
	errs = append(errs, validateDetectorEntry("detector", cfg.Detector.DetectorEntry)...)
	for i, fb := range cfg.Detector.Fallbacks {
		errs = append(errs, validateDetectorEntry(fmt.Sprintf("detector.fallbacks[%d]", i), fb)...)
	}
	if cfg.Detector.Timeout < 0 {
		errs = append(errs, fmt.Errorf("detector.timeout %s must not be negative", cfg.Detector.Timeout))
	}
	b := cfg.Detector.Breaker
	if b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("detector.breaker values must not be negative"))
	}

	// Stream
	if cfg.Stream.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("stream.queue_size %d must not be negative", cfg.Stream.QueueSize))
	}
	if cfg.Stream.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("stream.max_message_bytes %d must not be negative", cfg.Stream.MaxMessageBytes))
	}
	if cfg.Stream.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("stream.drain_timeout %s must not be negative", cfg.Stream.DrainTimeout))
	}

	// Identity
	if cfg.Identity.AnonymousScope != "" && !cfg.Identity.AnonymousScope.IsValid() {
		errs = append(errs, fmt.Errorf("identity.anonymous_scope %q is invalid; valid values: connection, event", cfg.Identity.AnonymousScope))
	}

	// Ledger
	if cfg.Ledger.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("ledger.max_attempts %d must not be negative", cfg.Ledger.MaxAttempts))
	}
	if cfg.Ledger.BaseBackoff < 0 {
		errs = append(errs, fmt.Errorf("ledger.base_backoff %s must not be negative", cfg.Ledger.BaseBackoff))
	}

	// Achievements
	if len(cfg.Achievements) > 0 {
		if _, err := achievement.DefaultRules().WithThresholds(cfg.Achievements); err != nil {
			errs = append(errs, fmt.Errorf("achievements: %w", err))
		}
	}

	return errors.Join(errs...)
}

func validateDetectorEntry(prefix string, e DetectorEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	if e.Name == "remote" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for the remote detector", prefix))
	}
	validateDetectorName(prefix, e.Name)
	return errs
}

// validateDetectorName logs a warning if name is non-empty and not found in
// [ValidDetectorNames].
func validateDetectorName(prefix, name string) {
	if name == "" || slices.Contains(ValidDetectorNames, name) {
		return
	}
	slog.Warn("unknown detector name; may be a typo or a third-party detector",
		"field", prefix+".name",
		"name", name,
		"known", ValidDetectorNames,
	)
}
