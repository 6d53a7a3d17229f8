package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig identifies the process in logs and metrics
type NodeConfig struct {
	ID string `yaml:"id"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	FilterDir string `yaml:"filter_dir"`
}

// FilterConfig holds existence filter configuration
type FilterConfig struct {
	ExpectedInsertions int     `yaml:"expected_insertions"`
	FalsePositiveRate  float64 `yaml:"false_positive_rate"`
	Persistent         *bool   `yaml:"persistent"`
}

// IsPersistent reports whether filters are file-backed. Unset means true.
func (f FilterConfig) IsPersistent() bool {
	return f.Persistent == nil || *f.Persistent
}

// LocksConfig holds lock registry configuration
type LocksConfig struct {
	Shards         int           `yaml:"shards"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// ValidationConfig holds write validation limits
type ValidationConfig struct {
	MaxKeySize   int `yaml:"max_key_size"`
	MaxValueSize int `yaml:"max_value_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for the indexing core
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Storage    StorageConfig    `yaml:"storage"`
	Filter     FilterConfig     `yaml:"filter"`
	Locks      LocksConfig      `yaml:"locks"`
	Validation ValidationConfig `yaml:"validation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default(nodeID string) *Config {
	cfg := &Config{Node: NodeConfig{ID: nodeID}}
	setDefaults(cfg)
	return cfg
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/pairdb/index"
	}
	if cfg.Storage.FilterDir == "" {
		cfg.Storage.FilterDir = filepath.Join(cfg.Storage.DataDir, "filters")
	}

	if cfg.Filter.ExpectedInsertions == 0 {
		cfg.Filter.ExpectedInsertions = 100000
	}
	if cfg.Filter.FalsePositiveRate == 0 {
		cfg.Filter.FalsePositiveRate = 0.03
	}

	if cfg.Locks.Shards == 0 {
		cfg.Locks.Shards = 64
	}

	if cfg.Validation.MaxKeySize == 0 {
		cfg.Validation.MaxKeySize = 1024 // 1KB
	}
	if cfg.Validation.MaxValueSize == 0 {
		cfg.Validation.MaxValueSize = 10 * 1024 * 1024 // 10MB
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Filter.ExpectedInsertions < 0 {
		return fmt.Errorf("filter.expected_insertions must not be negative")
	}
	if c.Filter.FalsePositiveRate <= 0 || c.Filter.FalsePositiveRate >= 1 {
		return fmt.Errorf("filter.false_positive_rate must be between 0 and 1 exclusive")
	}
	if c.Locks.Shards < 1 || c.Locks.Shards&(c.Locks.Shards-1) != 0 {
		return fmt.Errorf("locks.shards must be a power of two")
	}
	if c.Locks.AcquireTimeout < 0 {
		return fmt.Errorf("locks.acquire_timeout must not be negative")
	}
	if c.Validation.MaxKeySize < 1 || c.Validation.MaxValueSize < 1 {
		return fmt.Errorf("validation limits must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}
