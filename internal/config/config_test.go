package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node:\n  id: node-1\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-1", cfg.Node.ID)
	assert.Equal(t, "/var/lib/pairdb/index", cfg.Storage.DataDir)
	assert.Equal(t, "/var/lib/pairdb/index/filters", cfg.Storage.FilterDir)
	assert.Equal(t, 100000, cfg.Filter.ExpectedInsertions)
	assert.Equal(t, 0.03, cfg.Filter.FalsePositiveRate)
	assert.True(t, cfg.Filter.IsPersistent())
	assert.Equal(t, 64, cfg.Locks.Shards)
	assert.Zero(t, cfg.Locks.AcquireTimeout)
	assert.Equal(t, 1024, cfg.Validation.MaxKeySize)
	assert.Equal(t, 10*1024*1024, cfg.Validation.MaxValueSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
node:
  id: node-2
storage:
  data_dir: /tmp/index
filter:
  expected_insertions: 500
  false_positive_rate: 0.01
  persistent: false
locks:
  shards: 16
  acquire_timeout: 250ms
logging:
  level: debug
  format: console
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/index/filters", cfg.Storage.FilterDir)
	assert.Equal(t, 500, cfg.Filter.ExpectedInsertions)
	assert.Equal(t, 0.01, cfg.Filter.FalsePositiveRate)
	assert.False(t, cfg.Filter.IsPersistent())
	assert.Equal(t, 16, cfg.Locks.Shards)
	assert.Equal(t, 250*time.Millisecond, cfg.Locks.AcquireTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing node id", func(c *Config) { c.Node.ID = "" }},
		{"false positive rate of one", func(c *Config) { c.Filter.FalsePositiveRate = 1 }},
		{"negative false positive rate", func(c *Config) { c.Filter.FalsePositiveRate = -0.1 }},
		{"negative expected insertions", func(c *Config) { c.Filter.ExpectedInsertions = -1 }},
		{"shards not a power of two", func(c *Config) { c.Locks.Shards = 12 }},
		{"negative acquire timeout", func(c *Config) { c.Locks.AcquireTimeout = -time.Second }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	require.NoError(t, Default("node").Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("node")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Parse([]byte("node: ["))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Parse([]byte("filter:\n  expected_insertions: 10\n"))
	assert.ErrorContains(t, err, "node.id is required")
}
