package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad root", func(c *Config) { c.Root = "sandbox" }, "root"},
		{"chunk too small", func(c *Config) { c.ChunkSize = "1KiB" }, "chunk_size"},
		{"chunk too big", func(c *Config) { c.ChunkSize = "151MiB" }, "chunk_size"},
		{"chunk unparsable", func(c *Config) { c.ChunkSize = "lots" }, "chunk_size"},
		{"no parallelism", func(c *Config) { c.ParallelUploads = 0 }, "parallel_uploads"},
		{"too much parallelism", func(c *Config) { c.ParallelUploads = 17 }, "parallel_uploads"},
		{"negative retries", func(c *Config) { c.MaxStepRetries = -1 }, "max_step_retries"},
		{"longpoll too short", func(c *Config) { c.LongPollTimeout = "10s" }, "longpoll_timeout"},
		{"longpoll too long", func(c *Config) { c.LongPollTimeout = "10m" }, "longpoll_timeout"},
		{"backoff unparsable", func(c *Config) { c.DefaultBackoff = "soon" }, "default_backoff"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"connect timeout", func(c *Config) { c.ConnectTimeout = "100ms" }, "connect_timeout"},
		{"data timeout", func(c *Config) { c.DataTimeout = "1s" }, "data_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidate_RootSentinel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Root = "nope"

	assert.ErrorIs(t, Validate(cfg), dropbox.ErrInvalidRoot)
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.ParallelUploads = 0
	cfg.ChunkSize = "1B"

	err := Validate(cfg)
	assert.ErrorContains(t, err, "log_level")
	assert.ErrorContains(t, err, "parallel_uploads")
	assert.ErrorContains(t, err, "chunk_size")
}
