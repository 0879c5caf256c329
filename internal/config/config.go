// Package config handles configuration loading and validation for chunkvault.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tunnelmesh/chunkvault/internal/chunker"
	"github.com/tunnelmesh/chunkvault/internal/store"
	"github.com/tunnelmesh/chunkvault/pkg/bytesize"
)

// Defaults applied by Load and Default.
const (
	DefaultRoot          = "/var/lib/chunkvault"
	DefaultLogLevel      = "info"
	DefaultCacheChunks   = 8
	DefaultHighWaterMark = 2 * bytesize.MB
)

// ChunkingConfig holds the content-defined chunking parameters.
type ChunkingConfig struct {
	MinSize     bytesize.Size `yaml:"min_size"`
	MaxSize     bytesize.Size `yaml:"max_size"`
	AverageBits int           `yaml:"average_bits"`
	Polynomial  uint64        `yaml:"polynomial"`
	Window      bytesize.Size `yaml:"window"`
}

// RetryConfig holds the retry policy for filesystem scans.
type RetryConfig struct {
	MaxRetries     int    `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"` // Duration string, e.g. "5ms"
	MaxBackoff     string `yaml:"max_backoff"`
}

// Config holds the configuration of a chunk store.
type Config struct {
	Root          string         `yaml:"root"`
	Size          bytesize.Size  `yaml:"size"`
	ShardDepth    int            `yaml:"shard_depth"`
	LogLevel      string         `yaml:"log_level"`
	CacheChunks   int            `yaml:"cache_chunks"`
	HighWaterMark bytesize.Size  `yaml:"high_water_mark"`
	Chunking      ChunkingConfig `yaml:"chunking"`
	Retry         RetryConfig    `yaml:"retry"`
}

// Default returns a configuration with every default applied. Size is
// left unset; it has no sensible default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = DefaultRoot
	}
	// Expand home directory in root
	if strings.HasPrefix(c.Root, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.Root = filepath.Join(homeDir, c.Root[2:])
		}
	}
	if c.ShardDepth == 0 {
		c.ShardDepth = store.DefaultShardDepth
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.CacheChunks == 0 {
		c.CacheChunks = DefaultCacheChunks
	}
	if c.HighWaterMark == 0 {
		c.HighWaterMark = bytesize.Size(DefaultHighWaterMark)
	}

	def := chunker.DefaultParams()
	if c.Chunking.MinSize == 0 {
		c.Chunking.MinSize = bytesize.Size(def.MinSize)
	}
	if c.Chunking.MaxSize == 0 {
		c.Chunking.MaxSize = bytesize.Size(def.MaxSize)
	}
	if c.Chunking.AverageBits == 0 {
		c.Chunking.AverageBits = def.AverageBits
	}
	if c.Chunking.Polynomial == 0 {
		c.Chunking.Polynomial = def.Polynomial
	}
	if c.Chunking.Window == 0 {
		c.Chunking.Window = bytesize.Size(def.Window)
	}

	retry := store.DefaultRetryConfig()
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = retry.MaxRetries
	}
	if c.Retry.InitialBackoff == "" {
		c.Retry.InitialBackoff = retry.InitialBackoff.String()
	}
	if c.Retry.MaxBackoff == "" {
		c.Retry.MaxBackoff = retry.MaxBackoff.String()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.Size <= 0 {
		return fmt.Errorf("size is required and must be positive")
	}
	if c.ShardDepth < 1 || c.ShardDepth > store.MaxShardDepth {
		return fmt.Errorf("shard_depth must be between 1 and %d", store.MaxShardDepth)
	}
	if c.CacheChunks < 0 {
		return fmt.Errorf("cache_chunks must not be negative")
	}
	if c.HighWaterMark <= 0 {
		return fmt.Errorf("high_water_mark must be positive")
	}
	if err := c.ChunkParams().Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if _, err := c.StoreRetry(); err != nil {
		return err
	}
	return nil
}

// ChunkParams returns the chunking parameters.
func (c *Config) ChunkParams() chunker.Params {
	return chunker.Params{
		MinSize:     int(c.Chunking.MinSize),
		MaxSize:     int(c.Chunking.MaxSize),
		AverageBits: c.Chunking.AverageBits,
		Polynomial:  c.Chunking.Polynomial,
		Window:      int(c.Chunking.Window),
	}
}

// StoreRetry returns the scan retry policy.
func (c *Config) StoreRetry() (store.RetryConfig, error) {
	initial, err := time.ParseDuration(c.Retry.InitialBackoff)
	if err != nil {
		return store.RetryConfig{}, fmt.Errorf("invalid retry.initial_backoff: %w", err)
	}
	maxBackoff, err := time.ParseDuration(c.Retry.MaxBackoff)
	if err != nil {
		return store.RetryConfig{}, fmt.Errorf("invalid retry.max_backoff: %w", err)
	}
	if c.Retry.MaxRetries < 0 {
		return store.RetryConfig{}, fmt.Errorf("retry.max_retries must not be negative")
	}
	return store.RetryConfig{
		MaxRetries:     c.Retry.MaxRetries,
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
	}, nil
}
