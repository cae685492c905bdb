package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func load(t *testing.T, env map[string]string) (Config, error) {
	t.Helper()
	l := loader{getenv: envFrom(env)}
	return l.load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"S3_TRACING_BUCKET": "logs"})
	require.NoError(t, err)

	assert.Equal(t, BackendS3, cfg.Backend)
	assert.Equal(t, "us-west-2", cfg.AWSRegion)
	assert.Equal(t, "logs", cfg.Bucket)
	assert.Equal(t, "log", cfg.Prefix)
	assert.Equal(t, "jsonl", cfg.Postfix)
	assert.Equal(t, int64(64<<20), cfg.ObjectSizeLimit)
	assert.Equal(t, int64(1<<20), cfg.BufferSizeLimit)
	assert.Equal(t, time.Second, cfg.FlushInterval)
	assert.Equal(t, "drop-newest", cfg.OverflowPolicy)
	assert.Equal(t, 3, cfg.S3AppRetries)
	assert.Equal(t, int64(0), cfg.MaxPendingBytes)
	assert.False(t, cfg.HTTPSpans)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"S3_TRACING_BUCKET":            "logs",
		"S3_TRACING_BACKEND":           "MinIO",
		"S3_TRACING_ENDPOINT":          "localhost:9000",
		"S3_TRACING_OBJECT_SIZE_LIMIT": "100B",
		"S3_TRACING_BUFFER_SIZE_LIMIT": "512KB",
		"S3_TRACING_FLUSH_INTERVAL":    "50ms",
		"S3_TRACING_OVERFLOW_POLICY":   "Block",
		"S3_TRACING_COMPRESS":          "true",
		"S3_TRACING_MAX_PENDING_BYTES": "16MB",
		"S3_TRACING_HTTP_SPANS":        "true",
		"LOG_SAMPLE_N":                 "10",
	})
	require.NoError(t, err)

	assert.Equal(t, BackendMinIO, cfg.Backend)
	assert.Equal(t, int64(100), cfg.ObjectSizeLimit)
	assert.Equal(t, int64(512<<10), cfg.BufferSizeLimit)
	assert.Equal(t, 50*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, "block", cfg.OverflowPolicy)
	assert.True(t, cfg.Compress)
	assert.Equal(t, int64(16<<20), cfg.MaxPendingBytes)
	assert.True(t, cfg.HTTPSpans)
	assert.Equal(t, uint32(10), cfg.LogSampleN)
}

func TestLoad_MissingBucket(t *testing.T) {
	_, err := load(t, map[string]string{})

	var missing *ErrMissingRequiredEnvVar
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "S3_TRACING_BUCKET", missing.Name)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero interval", "S3_TRACING_FLUSH_INTERVAL", "0s"},
		{"bad interval", "S3_TRACING_FLUSH_INTERVAL", "soon"},
		{"zero object size", "S3_TRACING_OBJECT_SIZE_LIMIT", "0"},
		{"object size too large", "S3_TRACING_OBJECT_SIZE_LIMIT", "60000MB"},
		{"buffer too large", "S3_TRACING_BUFFER_SIZE_LIMIT", "60000KB"},
		{"unknown backend", "S3_TRACING_BACKEND", "gcs"},
		{"bad bool", "S3_TRACING_COMPRESS", "maybe"},
		{"zero queue", "S3_TRACING_QUEUE_SIZE", "0"},
		{"pending below buffer", "S3_TRACING_MAX_PENDING_BYTES", "100KB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, map[string]string{"S3_TRACING_BUCKET": "logs", tt.key: tt.val})

			var invalid *ErrInvalidEnvVar
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.key, invalid.Name)
		})
	}
}

func TestLoad_MinIORequiresEndpoint(t *testing.T) {
	_, err := load(t, map[string]string{"S3_TRACING_BUCKET": "logs", "S3_TRACING_BACKEND": "minio"})

	var missing *ErrMissingRequiredEnvVar
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "S3_TRACING_ENDPOINT", missing.Name)
}
