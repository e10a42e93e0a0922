package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Environment variable names for overrides.
const (
	EnvConfig      = "DROPBOX_GO_CONFIG"
	EnvAccessToken = "DROPBOX_GO_ACCESS_TOKEN"
	EnvStateDir    = "DROPBOX_GO_STATE_DIR"
	EnvLogLevel    = "DROPBOX_GO_LOG_LEVEL"
)

// EnvOverrides holds values read from the environment. AccessToken, when
// set, is used instead of the saved login.
type EnvOverrides struct {
	ConfigPath  string `env:"DROPBOX_GO_CONFIG"`
	AccessToken string `env:"DROPBOX_GO_ACCESS_TOKEN"`
	StateDir    string `env:"DROPBOX_GO_STATE_DIR"`
	LogLevel    string `env:"DROPBOX_GO_LOG_LEVEL"`
}

// ReadEnvOverrides reads the DROPBOX_GO_* variables.
func ReadEnvOverrides() (EnvOverrides, error) {
	var e EnvOverrides
	if err := env.Parse(&e); err != nil {
		return EnvOverrides{}, fmt.Errorf("reading environment: %w", err)
	}

	return e, nil
}
