package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATALAKE_CONFIG", "")
	t.Setenv("CACHE_BLOB_COUNT", "")
	t.Setenv("DATALAKE_LOCATION", "EEUR")
	t.Setenv("EVENT_WORKER_RETRY_DELAYS", "1s, 10s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":4030", cfg.HTTPAddr)
	assert.Equal(t, defaultCacheControl, cfg.CacheControl)
	assert.Equal(t, 1000, cfg.Cache.BlobCount)
	assert.Equal(t, int64(64*1024), cfg.Cache.BlobSize)
	assert.Equal(t, []time.Duration{time.Second, 10 * time.Second}, cfg.Worker.RetryDelays)
	require.Len(t, cfg.Buckets, 1)
	assert.Equal(t, "eeur", cfg.Buckets[0].Location)
}

func TestLoadBucketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datalake.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[buckets]]
bucket = "lake-eu"
location = "WEUR"
endpoint = "s3.eu.example.com"
access_key = "ak"
secret_key = "sk"
use_ssl = true

[[buckets]]
bucket = "lake-us"
location = "enam"
endpoint = "s3.us.example.com"
region = "us-east-1"
`), 0o600))
	t.Setenv("DATALAKE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Buckets, 2)
	assert.Equal(t, "weur", cfg.Buckets[0].Location)
	assert.True(t, cfg.Buckets[0].UseSSL)
	assert.Equal(t, "us-east-1", cfg.Buckets[1].Region)
}

func TestParseBucketsRejects(t *testing.T) {
	_, err := ParseBuckets(nil)
	assert.Error(t, err)

	_, err = ParseBuckets([]BucketConfig{{Bucket: "a", Location: "weur"}})
	assert.Error(t, err)

	_, err = ParseBuckets([]BucketConfig{
		{Bucket: "a", Location: "weur", Endpoint: "x"},
		{Bucket: "b", Location: "WEUR", Endpoint: "y"},
	})
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "off")
	t.Setenv("X_INT", "nope")
	assert.False(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, 7, getEnvInt("X_INT", 7))
	assert.Equal(t, time.Minute, getEnvDuration("X_MISSING", time.Minute))
}
