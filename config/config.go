package config

import (
	"errors"
	"fmt"
	"heapdb/common"
	"heapdb/logger"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type WALConfig struct {
	// Path of the log file. Relative paths are resolved against DataDir. Empty disables logging.
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
	Sync     bool   `yaml:"sync"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Config struct {
	DataDir  string `yaml:"data_dir"`
	PageSize int    `yaml:"page_size"`
	PoolSize int    `yaml:"pool_size"`

	// FsyncPages makes every page write durable before it returns.
	FsyncPages bool `yaml:"fsync_pages"`

	LockWaitMin      time.Duration `yaml:"lock_wait_min"`
	LockWaitMax      time.Duration `yaml:"lock_wait_max"`
	LockPollInterval time.Duration `yaml:"lock_poll_interval"`

	// Schema is an optional catalog file loaded on open, relative to DataDir.
	Schema string `yaml:"schema"`

	WAL     WALConfig     `yaml:"wal"`
	Logger  logger.Config `yaml:"logger"`
	Metrics MetricsConfig `yaml:"metrics"`
}

func Default() *Config {
	return &Config{
		DataDir:          "data",
		PageSize:         common.DefaultPageSize,
		PoolSize:         common.DefaultPoolPages,
		FsyncPages:       true,
		LockWaitMin:      0,
		LockWaitMax:      common.DefaultLockWaitMax,
		LockPollInterval: common.DefaultLockPollInterval,
		WAL: WALConfig{
			Path:     "heapdb.wal",
			Compress: true,
			Sync:     true,
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads a yaml file on top of Default, so a file only needs the keys it changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: data_dir is empty", ErrInvalidConfig)
	case c.PageSize <= 0:
		return fmt.Errorf("%w: page_size must be positive, got %d", ErrInvalidConfig, c.PageSize)
	case c.PoolSize <= 0:
		return fmt.Errorf("%w: pool_size must be positive, got %d", ErrInvalidConfig, c.PoolSize)
	case c.LockWaitMin < 0 || c.LockWaitMax < c.LockWaitMin:
		return fmt.Errorf("%w: lock wait window [%v, %v]", ErrInvalidConfig, c.LockWaitMin, c.LockWaitMax)
	case c.LockPollInterval <= 0:
		return fmt.Errorf("%w: lock_poll_interval must be positive", ErrInvalidConfig)
	case c.Metrics.Enabled && c.Metrics.Addr == "":
		return fmt.Errorf("%w: metrics enabled without addr", ErrInvalidConfig)
	}
	return nil
}

// Resolve returns p as is when it is absolute and joined to DataDir otherwise.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
