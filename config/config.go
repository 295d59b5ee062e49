// Package config reads service settings from the environment. main loads
// .env with godotenv before calling FromEnv.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"mrv/lifecycle"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	BlobMemory = "memory"
	BlobFS     = "fs"
	BlobS3     = "s3"

	devSigningKey = "dev-secret-key-change-in-production"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	LogLevel       string
	StorageDriver  string
	DatabaseURL    string
	RedisURL       string
	ReverifyPolicy lifecycle.ReverifyPolicy

	JWTSigningKey string
	JWTIssuer     string
	TokenTTL      time.Duration

	Blob BlobConfig
	AI   AIConfig
}

type BlobConfig struct {
	Driver     string
	Dir        string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
}

// AIConfig points at an OpenAI-compatible chat completions endpoint. An empty
// APIKey disables analysis.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:          getenv("ADDR", ":8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		StorageDriver: strings.ToLower(getenv("STORAGE_DRIVER", "")),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSigningKey: getenv("JWT_SIGNING_KEY", devSigningKey),
		JWTIssuer:     getenv("JWT_ISSUER", "mrv"),
		Blob: BlobConfig{
			Driver:     strings.ToLower(getenv("BLOB_DRIVER", BlobMemory)),
			Dir:        getenv("BLOB_DIR", "uploads"),
			S3Bucket:   os.Getenv("BLOB_S3_BUCKET"),
			S3Region:   os.Getenv("BLOB_S3_REGION"),
			S3Endpoint: os.Getenv("BLOB_S3_ENDPOINT"),
			S3Prefix:   os.Getenv("BLOB_S3_PREFIX"),
		},
		AI: AIConfig{
			BaseURL: getenv("AI_BASE_URL", "https://api.mistral.ai/v1"),
			APIKey:  os.Getenv("AI_API_KEY"),
			Model:   getenv("AI_MODEL", "mistral-small-latest"),
		},
	}

	// Without a database URL the service falls back to the in-memory store.
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageMemory
		if cfg.DatabaseURL != "" {
			cfg.StorageDriver = StoragePostgres
		}
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", 24*time.Hour); err != nil {
		return Server{}, err
	}
	if cfg.AI.Timeout, err = durationEnv("AI_TIMEOUT", 30*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.ReverifyPolicy, err = lifecycle.ParseReverifyPolicy(os.Getenv("REVERIFY_POLICY")); err != nil {
		return Server{}, fmt.Errorf("REVERIFY_POLICY: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// DevSigningKey reports whether the built-in development key is in use.
func (s Server) DevSigningKey() bool {
	return s.JWTSigningKey == devSigningKey
}

func (s Server) validate() error {
	switch s.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("STORAGE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", s.StorageDriver)
	}

	switch s.Blob.Driver {
	case BlobMemory, BlobFS:
	case BlobS3:
		if s.Blob.S3Bucket == "" {
			return fmt.Errorf("BLOB_DRIVER=s3 requires BLOB_S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown BLOB_DRIVER %q", s.Blob.Driver)
	}

	if s.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
