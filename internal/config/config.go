// Package config loads storage engine settings from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/myuser/shardkv/internal/storage"
	"github.com/myuser/shardkv/internal/storage/wal"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level configuration file.
type Config struct {
	Store StoreConfig `yaml:"store"`
	WAL   WALConfig   `yaml:"wal"`
}

// StoreConfig sizes the replicated store. The topology is fixed for the
// life of the store; changing Shards remaps almost every key.
type StoreConfig struct {
	Shards   int `yaml:"shards"`
	Replicas int `yaml:"replicas"`
}

// WALConfig configures the write-ahead log.
type WALConfig struct {
	Path             string  `yaml:"path"`
	MaxSize          int64   `yaml:"max_size"`
	MaxFiles         int     `yaml:"max_files"`
	CompactThreshold float64 `yaml:"compact_threshold"`
	Sync             bool    `yaml:"sync"`
	BufferSize       int     `yaml:"buffer_size"`
}

// Default returns the configuration used for fields a file leaves out.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Shards:   4,
			Replicas: 2,
		},
		WAL: WALConfig{
			Path:       "data/wal.log",
			MaxSize:    64 << 20,
			MaxFiles:   5,
			BufferSize: 64 << 10,
		},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Store.Shards <= 0 {
		errs = append(errs, fmt.Errorf("%w: store.shards must be positive, got %d", ErrInvalidConfig, c.Store.Shards))
	}
	if c.Store.Replicas <= 0 {
		errs = append(errs, fmt.Errorf("%w: store.replicas must be positive, got %d", ErrInvalidConfig, c.Store.Replicas))
	}
	if c.WAL.Path == "" {
		errs = append(errs, fmt.Errorf("%w: wal.path is required", ErrInvalidConfig))
	}
	if c.WAL.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: wal.max_size must be positive, got %d", ErrInvalidConfig, c.WAL.MaxSize))
	}
	if c.WAL.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("%w: wal.max_files must not be negative, got %d", ErrInvalidConfig, c.WAL.MaxFiles))
	}
	if c.WAL.CompactThreshold < 0 || c.WAL.CompactThreshold >= 1 {
		errs = append(errs, fmt.Errorf("%w: wal.compact_threshold must be in [0, 1), got %v", ErrInvalidConfig, c.WAL.CompactThreshold))
	}
	return errors.Join(errs...)
}

// OpenStore builds the store described by c.
func (c StoreConfig) OpenStore(logger *slog.Logger) (*storage.Store, error) {
	return storage.New(c.Shards, c.Replicas, storage.WithLogger(logger))
}

// OpenLog opens the write-ahead log described by c.
func (c WALConfig) OpenLog(logger *slog.Logger) (*wal.Log, error) {
	return wal.Open(c.Path, c.MaxSize, c.MaxFiles,
		wal.WithCompactThreshold(c.CompactThreshold),
		wal.WithSync(c.Sync),
		wal.WithBufferSize(c.BufferSize),
		wal.WithLogger(logger),
	)
}
