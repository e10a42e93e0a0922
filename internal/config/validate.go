package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

// Limits enforced by Validate.
const (
	minChunkSize       = 64 * kibibyte
	maxChunkSize       = 150 * mebibyte
	minParallelUploads = 1
	maxParallelUploads = 16
	maxStepRetries     = 20
	minLongPollTimeout = 30 * time.Second
	maxLongPollTimeout = 480 * time.Second
	minDefaultBackoff  = time.Second
	minConnectTimeout  = time.Second
	minDataTimeout     = 5 * time.Second
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks every field and reports all problems at once.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := dropbox.ParseRoot(cfg.Root); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateTransfers(&cfg.TransfersConfig)...)
	errs = append(errs, validateSync(&cfg.SyncConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

func validateTransfers(c *TransfersConfig) []error {
	var errs []error

	n, err := ParseSize(c.ChunkSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("chunk_size: %w", err))
	case n < minChunkSize || n > maxChunkSize:
		errs = append(errs, fmt.Errorf("chunk_size: must be between 64KiB and 150MiB, got %s", c.ChunkSize))
	}

	if c.ParallelUploads < minParallelUploads || c.ParallelUploads > maxParallelUploads {
		errs = append(errs, fmt.Errorf("parallel_uploads: must be between %d and %d, got %d",
			minParallelUploads, maxParallelUploads, c.ParallelUploads))
	}

	if c.MaxStepRetries < 0 || c.MaxStepRetries > maxStepRetries {
		errs = append(errs, fmt.Errorf("max_step_retries: must be between 0 and %d, got %d",
			maxStepRetries, c.MaxStepRetries))
	}

	return errs
}

func validateSync(c *SyncConfig) []error {
	var errs []error

	if err := durationInRange("longpoll_timeout", c.LongPollTimeout, minLongPollTimeout, maxLongPollTimeout); err != nil {
		errs = append(errs, err)
	}

	if err := durationInRange("default_backoff", c.DefaultBackoff, minDefaultBackoff, 0); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateLogging(c *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", c.LogLevel))
	}

	if !validLogFormats[c.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", c.LogFormat))
	}

	return errs
}

func validateNetwork(c *NetworkConfig) []error {
	var errs []error

	if err := durationInRange("connect_timeout", c.ConnectTimeout, minConnectTimeout, 0); err != nil {
		errs = append(errs, err)
	}

	if err := durationInRange("data_timeout", c.DataTimeout, minDataTimeout, 0); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// durationInRange parses s and checks lo <= d, and d <= hi when hi > 0.
func durationInRange(field, s string, lo, hi time.Duration) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}

	if d < lo {
		return fmt.Errorf("%s: must be at least %s, got %s", field, lo, s)
	}

	if hi > 0 && d > hi {
		return fmt.Errorf("%s: must be at most %s, got %s", field, hi, s)
	}

	return nil
}
