package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appName        = "dropbox-go"
	configFileName = "config.toml"
)

// DefaultConfigDir is $XDG_CONFIG_HOME/dropbox-go on Linux and
// ~/Library/Application Support/dropbox-go on macOS.
func DefaultConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir is where the token, mirror database and upload records
// live: $XDG_DATA_HOME/dropbox-go on Linux, the same directory as the config
// on macOS.
func DefaultDataDir() string {
	return appDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// DefaultConfigPath is used when neither DROPBOX_GO_CONFIG nor --config is
// given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

func appDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return platformDir(runtime.GOOS, home, os.Getenv(xdgVar), homeRel)
}

// platformDir picks the directory for goos. xdg is only honored on Linux.
func platformDir(goos, home, xdg, homeRel string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	case "linux":
		if xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(home, homeRel, appName)
}

// expandTilde replaces a leading "~/" with the home directory. The path is
// returned as-is when the home directory is unknown.
func expandTilde(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, rest)
}
