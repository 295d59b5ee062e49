package config

import (
	"testing"
	"time"

	"mrv/lifecycle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"ADDR", "LOG_LEVEL", "STORAGE_DRIVER", "DATABASE_URL", "REDIS_URL", "REVERIFY_POLICY",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "TOKEN_TTL", "BLOB_DRIVER", "BLOB_DIR", "BLOB_S3_BUCKET",
	"BLOB_S3_REGION", "BLOB_S3_ENDPOINT", "BLOB_S3_PREFIX", "AI_BASE_URL", "AI_API_KEY", "AI_MODEL", "AI_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, lifecycle.ReverifyNoop, cfg.ReverifyPolicy)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, BlobMemory, cfg.Blob.Driver)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.True(t, cfg.DevSigningKey())
}

func TestFromEnv_DatabaseURLSelectsPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/mrv")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADDR", ":9090")
	t.Setenv("STORAGE_DRIVER", "MEMORY")
	t.Setenv("REVERIFY_POLICY", "record")
	t.Setenv("JWT_SIGNING_KEY", "s3cret")
	t.Setenv("TOKEN_TTL", "15m")
	t.Setenv("BLOB_DRIVER", "s3")
	t.Setenv("BLOB_S3_BUCKET", "mrv-uploads")
	t.Setenv("AI_TIMEOUT", "5s")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, lifecycle.ReverifyRecord, cfg.ReverifyPolicy)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "mrv-uploads", cfg.Blob.S3Bucket)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.False(t, cfg.DevSigningKey())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "unknown storage", env: map[string]string{"STORAGE_DRIVER": "sqlite"}, want: "STORAGE_DRIVER"},
		{name: "postgres without url", env: map[string]string{"STORAGE_DRIVER": "postgres"}, want: "DATABASE_URL"},
		{name: "bad ttl", env: map[string]string{"TOKEN_TTL": "a day"}, want: "TOKEN_TTL"},
		{name: "negative ttl", env: map[string]string{"TOKEN_TTL": "-1h"}, want: "TOKEN_TTL"},
		{name: "bad policy", env: map[string]string{"REVERIFY_POLICY": "twice"}, want: "REVERIFY_POLICY"},
		{name: "s3 without bucket", env: map[string]string{"BLOB_DRIVER": "s3"}, want: "BLOB_S3_BUCKET"},
		{name: "unknown blob", env: map[string]string{"BLOB_DRIVER": "ftp"}, want: "BLOB_DRIVER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
