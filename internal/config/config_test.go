package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/chunkvault/internal/chunker"
	"github.com/tunnelmesh/chunkvault/internal/store"
	"github.com/tunnelmesh/chunkvault/pkg/bytesize"
	"github.com/tunnelmesh/chunkvault/testutil"
)

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := `
root: "/srv/vault"
size: 10GB
shard_depth: 3
log_level: debug
cache_chunks: 16
high_water_mark: 4Mi
chunking:
  min_size: 256KB
  max_size: 4MB
  average_bits: 20
  window: 8MB
retry:
  max_retries: 5
  initial_backoff: 10ms
  max_backoff: 1s
`
	configPath := testutil.TempFile(t, dir, "chunkvault.yaml", content)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/vault", cfg.Root)
	assert.Equal(t, 10*bytesize.GB, cfg.Size.Bytes())
	assert.Equal(t, 3, cfg.ShardDepth)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 16, cfg.CacheChunks)
	assert.Equal(t, 4*bytesize.MB, cfg.HighWaterMark.Bytes())

	p := cfg.ChunkParams()
	assert.Equal(t, 256<<10, p.MinSize)
	assert.Equal(t, 4<<20, p.MaxSize)
	assert.Equal(t, 20, p.AverageBits)
	assert.Equal(t, chunker.DefaultPolynomial, p.Polynomial)
	assert.Equal(t, 8<<20, p.Window)

	retry, err := cfg.StoreRetry()
	require.NoError(t, err)
	assert.Equal(t, store.RetryConfig{MaxRetries: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second}, retry)
}

func TestLoad_Defaults(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	configPath := testutil.TempFile(t, dir, "chunkvault.yaml", "size: 1GB\n")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultRoot, cfg.Root)
	assert.Equal(t, store.DefaultShardDepth, cfg.ShardDepth)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultCacheChunks, cfg.CacheChunks)
	assert.Equal(t, DefaultHighWaterMark, cfg.HighWaterMark.Bytes())
	assert.Equal(t, chunker.DefaultParams(), cfg.ChunkParams())

	retry, err := cfg.StoreRetry()
	require.NoError(t, err)
	assert.Equal(t, store.DefaultRetryConfig(), retry)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/chunkvault.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	configPath := testutil.TempFile(t, dir, "chunkvault.yaml", "size: [invalid yaml\n")

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing size", func(c *Config) { c.Size = 0 }, "size"},
		{"shard depth too deep", func(c *Config) { c.ShardDepth = 6 }, "shard_depth"},
		{"negative cache", func(c *Config) { c.CacheChunks = -1 }, "cache_chunks"},
		{"window below max", func(c *Config) { c.Chunking.Window = c.Chunking.MaxSize }, "chunking"},
		{"bad backoff", func(c *Config) { c.Retry.MaxBackoff = "soon" }, "max_backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Size = bytesize.Size(bytesize.GB)
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ChunkingWrapsParamsError(t *testing.T) {
	cfg := Default()
	cfg.Size = bytesize.Size(bytesize.GB)
	cfg.Chunking.AverageBits = 40

	assert.ErrorIs(t, cfg.Validate(), chunker.ErrInvalidParams)
}
