package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the querydock binaries.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Classify  ClassifyConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Publisher PublisherConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ClassifyConfig configures the external classification service client.
type ClassifyConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	// JWTPublicKeyPEM is the PEM-encoded RSA public key used to verify
	// publisher bearer tokens.
	JWTPublicKeyPEM string
	// InternalAPIKey authenticates the classification workers' callbacks.
	InternalAPIKey string
}

// StorageConfig configures the S3-compatible object store the catalog
// ingestion sweep reads from. Only validated by the loader command.
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

type PublisherConfig struct {
	BatchSize int
	Schedule  string
	LockTTL   time.Duration
}

// Load reads configuration from environment variables. Only DATABASE_URL is
// validated here; each binary validates the rest of what it needs via
// ValidateServer or ValidateLoader.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("QUERYDOCK_PORT", 8080),
			Env:  envString("QUERYDOCK_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Classify: ClassifyConfig{
			BaseURL: os.Getenv("CLASSIFY_BASE_URL"),
			Timeout: envDuration("CLASSIFY_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTPublicKeyPEM: os.Getenv("AUTH_JWT_PUBLIC_KEY"),
			InternalAPIKey:  os.Getenv("INTERNAL_API_KEY"),
		},
		Storage: StorageConfig{
			Endpoint:        os.Getenv("STORAGE_ENDPOINT"),
			Region:          envString("STORAGE_REGION", "auto"),
			AccessKeyID:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
			Bucket:          os.Getenv("STORAGE_BUCKET"),
		},
		Publisher: PublisherConfig{
			BatchSize: envInt("PUBLISH_BATCH_SIZE", 1000),
			Schedule:  envString("PUBLISH_SCHEDULE", "@every 1m"),
			LockTTL:   envDuration("PUBLISH_LOCK_TTL", 10*time.Minute),
		},
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// ValidateServer checks everything the API server needs at startup.
// The process fails closed if any secret or endpoint is missing.
func (c *Config) ValidateServer() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Classify.BaseURL == "" {
		return fmt.Errorf("CLASSIFY_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Classify.BaseURL, "http://") && !strings.HasPrefix(c.Classify.BaseURL, "https://") {
		return fmt.Errorf("CLASSIFY_BASE_URL must start with http:// or https://, got %q", c.Classify.BaseURL)
	}

	if c.Auth.JWTPublicKeyPEM == "" {
		return fmt.Errorf("AUTH_JWT_PUBLIC_KEY is required")
	}
	if c.Auth.InternalAPIKey == "" {
		return fmt.Errorf("INTERNAL_API_KEY is required")
	}

	if c.Publisher.BatchSize <= 0 {
		return fmt.Errorf("PUBLISH_BATCH_SIZE must be positive, got %d", c.Publisher.BatchSize)
	}

	return nil
}

// ValidateLoader checks everything the catalog loader needs at startup.
func (c *Config) ValidateLoader() error {
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("STORAGE_ENDPOINT is required")
	}
	if c.Storage.AccessKeyID == "" {
		return fmt.Errorf("STORAGE_ACCESS_KEY_ID is required")
	}
	if c.Storage.SecretAccessKey == "" {
		return fmt.Errorf("STORAGE_SECRET_ACCESS_KEY is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
