package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hq-analytics/hqbridge/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// HQ platform configuration
	HQ HQConfig

	// Storage configuration
	Storage StorageConfig

	// Ingestion configuration
	Ingest IngestConfig

	// Encryption keyring (ordered, first key encrypts)
	EncryptionKeys []string

	// Observability configuration
	LogLevel observability.LogLevel
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// PublicBaseURL is the externally reachable base URL of this service,
	// used to build webhook and token URLs handed to HQ.
	PublicBaseURL string
}

// HQConfig holds configuration for the CommCare HQ platform integration
type HQConfig struct {
	// APIBaseURL is the root of HQ's REST API, e.g. https://www.commcarehq.org/
	APIBaseURL string

	// OAuth client registered with HQ, used to refresh user tokens
	OAuthClientID     string
	OAuthClientSecret string
	TokenURL          string

	// DomainRoleExpiry is how long a synced domain role set stays fresh
	DomainRoleExpiry time.Duration
}

// StorageConfig holds database and cache configuration
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// IngestConfig holds dataset ingestion configuration
type IngestConfig struct {
	// SharedDir is where downloaded exports are staged
	SharedDir string

	// AsyncThresholdBytes routes exports at or above this size to the
	// background queue instead of running inline.
	AsyncThresholdBytes int64

	// ChunkSize is the number of CSV rows written per transaction
	ChunkSize int

	// Workers is the size of the background ingestion worker pool
	Workers int

	// DatabaseID is the BI catalog id of the database datasets are
	// registered under
	DatabaseID int64
}

type keyringFile struct {
	Keys []string `yaml:"keys"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HQBRIDGE_HOST", "0.0.0.0"),
			Port:            getEnv("HQBRIDGE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("HQBRIDGE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HQBRIDGE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("HQBRIDGE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HQBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
			PublicBaseURL:   getEnv("HQBRIDGE_PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		HQ: HQConfig{
			APIBaseURL:        getEnv("HQBRIDGE_HQ_API_BASE_URL", "https://www.commcarehq.org/"),
			OAuthClientID:     getEnv("HQBRIDGE_HQ_OAUTH_CLIENT_ID", ""),
			OAuthClientSecret: getEnv("HQBRIDGE_HQ_OAUTH_CLIENT_SECRET", ""),
			TokenURL:          getEnv("HQBRIDGE_HQ_TOKEN_URL", ""),
			DomainRoleExpiry:  getEnvDuration("HQBRIDGE_DOMAIN_ROLE_EXPIRY", 60*time.Minute),
		},
		Storage: StorageConfig{
			PostgresURL:      getEnv("HQBRIDGE_POSTGRES_URL", ""),
			PostgresMaxConns: getEnvInt("HQBRIDGE_POSTGRES_MAX_CONNS", 20),
			PostgresMinConns: getEnvInt("HQBRIDGE_POSTGRES_MIN_CONNS", 2),
			PostgresTimeout:  getEnvDuration("HQBRIDGE_POSTGRES_TIMEOUT", 5*time.Second),
			RedisURL:         getEnv("HQBRIDGE_REDIS_URL", "redis://localhost:6379"),
			RedisPassword:    getEnv("HQBRIDGE_REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("HQBRIDGE_REDIS_DB", 0),
		},
		Ingest: IngestConfig{
			SharedDir:           getEnv("HQBRIDGE_SHARED_DIR", os.TempDir()),
			AsyncThresholdBytes: getEnvInt64("HQBRIDGE_ASYNC_THRESHOLD_BYTES", 5_000_000),
			ChunkSize:           getEnvInt("HQBRIDGE_INGEST_CHUNK_SIZE", 10_000),
			Workers:             getEnvInt("HQBRIDGE_INGEST_WORKERS", 4),
			DatabaseID:          getEnvInt64("HQBRIDGE_BI_DATABASE_ID", 1),
		},
		LogLevel: observability.ParseLogLevel(getEnv("HQBRIDGE_LOG_LEVEL", "info")),
	}

	keys, err := loadEncryptionKeys()
	if err != nil {
		return nil, err
	}
	cfg.EncryptionKeys = keys

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadEncryptionKeys reads the ordered symmetric key list either from a
// comma-separated env var or from a YAML keyring file. The first key is the
// current encryption key; the rest are retained for decrypting old secrets.
func loadEncryptionKeys() ([]string, error) {
	if raw := getEnv("HQBRIDGE_ENCRYPTION_KEYS", ""); raw != "" {
		var keys []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		return keys, nil
	}

	if path := getEnv("HQBRIDGE_KEYRING_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read keyring file: %w", err)
		}
		var kf keyringFile
		if err := yaml.Unmarshal(data, &kf); err != nil {
			return nil, fmt.Errorf("failed to parse keyring file: %w", err)
		}
		return kf.Keys, nil
	}

	return nil, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.HQ.APIBaseURL == "" {
		return fmt.Errorf("HQ API base URL is required")
	}
	if !strings.HasSuffix(c.HQ.APIBaseURL, "/") {
		c.HQ.APIBaseURL += "/"
	}
	if c.HQ.TokenURL == "" {
		c.HQ.TokenURL = c.HQ.APIBaseURL + "oauth/token/"
	}
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if len(c.EncryptionKeys) == 0 {
		return fmt.Errorf("at least one encryption key is required")
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest chunk size must be positive")
	}
	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable with a fallback default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable with a fallback default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
