// Copyright 2025 Certen Protocol
//
// Ambient configuration — a Config struct populated by getEnv*/YAML
// helpers with explicit empty defaults for security-sensitive fields and
// a Validate() accumulating error strings.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names which storage.Backend implementation to construct.
type Backend string

const (
	BackendCometBFT Backend = "cometbft"
	BackendPostgres Backend = "postgres"
)

// Config holds everything needed to wire a sync controller: transport
// endpoints, the local DBLog store path, the key-material/group-state
// backend, and polling cadence.
type Config struct {
	// Transport Configuration
	APIBaseURL     string        // REST base URL, e.g. https://api.example.com
	PushURL        string        // bidirectional push-channel URL (ws(s)://...)
	RequestTimeout time.Duration

	// Local Store Configuration
	DataDir         string // base directory for the SQLite DBLog file and identity key
	DBLogPath       string // explicit override for the SQLite file; defaults under DataDir
	IdentityKeyPath string // path to the owner's secp256k1 private key file

	// Storage Backend Configuration (group state / BBS+ credentials / keys)
	StorageBackend Backend
	DatabaseURL    string // Postgres DSN, used when StorageBackend == BackendPostgres
	KVDir          string // cometbft-db directory, used when StorageBackend == BackendCometBFT

	// Sync Controller Configuration
	PollInterval time.Duration

	// Logging
	LogLevel string

	// AuthToken Configuration. The core only consumes a bearer token; the
	// value here is a static token suitable for local/dev use. Production
	// deployments should supply a transport.AuthTokenProvider instead of
	// relying on this field.
	StaticAuthToken string
}

// Load reads configuration from environment variables, with production
// defaults for non-sensitive fields and empty defaults for anything
// security-sensitive so Validate can catch missing requireds.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:     getEnv("LOGCHAIN_API_URL", ""),
		PushURL:        getEnv("LOGCHAIN_PUSH_URL", ""),
		RequestTimeout: getEnvDuration("LOGCHAIN_REQUEST_TIMEOUT", 30*time.Second),

		DataDir:         getEnv("LOGCHAIN_DATA_DIR", "./data"),
		DBLogPath:       getEnv("LOGCHAIN_DBLOG_PATH", ""),
		IdentityKeyPath: getEnv("LOGCHAIN_IDENTITY_KEY_PATH", ""),

		StorageBackend: Backend(getEnv("LOGCHAIN_STORAGE_BACKEND", string(BackendCometBFT))),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		KVDir:          getEnv("LOGCHAIN_KV_DIR", "./data/kv"),

		PollInterval: getEnvDuration("LOGCHAIN_POLL_INTERVAL", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		StaticAuthToken: getEnv("LOGCHAIN_AUTH_TOKEN", ""),
	}
	return cfg, nil
}

// LoadFile reads YAML configuration from path and overlays it onto
// process-environment defaults (Load()'s result).
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.APIBaseURL == "" {
		errs = append(errs, "LOGCHAIN_API_URL is required but not set")
	}
	if c.IdentityKeyPath == "" {
		errs = append(errs, "LOGCHAIN_IDENTITY_KEY_PATH is required but not set")
	}
	if c.DataDir == "" {
		errs = append(errs, "LOGCHAIN_DATA_DIR is required but not set")
	}

	switch c.StorageBackend {
	case BackendCometBFT:
		if c.KVDir == "" {
			errs = append(errs, "LOGCHAIN_KV_DIR is required when LOGCHAIN_STORAGE_BACKEND=cometbft")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when LOGCHAIN_STORAGE_BACKEND=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("LOGCHAIN_STORAGE_BACKEND %q is not one of cometbft, postgres", c.StorageBackend))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, "LOGCHAIN_POLL_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ResolvedDBLogPath returns DBLogPath if set, else a default path under
// DataDir.
func (c *Config) ResolvedDBLogPath() string {
	if c.DBLogPath != "" {
		return c.DBLogPath
	}
	return c.DataDir + "/logchain.sqlite"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
