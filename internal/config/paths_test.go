package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHome = "/home/testuser"

func TestDefaultDirs_ContainAppName(t *testing.T) {
	assert.Contains(t, DefaultConfigDir(), appName)
	assert.Contains(t, DefaultDataDir(), appName)
	assert.True(t, strings.HasSuffix(DefaultConfigPath(), "config.toml"))
}

func TestPlatformDir(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		xdg     string
		homeRel string
		want    string
	}{
		{"linux xdg", "linux", "/custom/config", ".config", "/custom/config/dropbox-go"},
		{"linux fallback", "linux", "", ".config", testHome + "/.config/dropbox-go"},
		{"linux data", "linux", "", ".local/share", testHome + "/.local/share/dropbox-go"},
		{"darwin ignores xdg", "darwin", "/custom", ".config", testHome + "/Library/Application Support/dropbox-go"},
		{"other", "freebsd", "/custom", ".config", testHome + "/.config/dropbox-go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.want), platformDir(tt.goos, testHome, tt.xdg, tt.homeRel))
		})
	}
}

func TestExpandTilde(t *testing.T) {
	t.Setenv("HOME", testHome)

	assert.Equal(t, filepath.Join(testHome, "state"), expandTilde("~/state"))
	assert.Equal(t, "/abs/path", expandTilde("/abs/path"))
	assert.Equal(t, "~user/x", expandTilde("~user/x"))
	assert.Empty(t, expandTilde(""))
}

func TestDefaultDataDir_XDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	got := DefaultDataDir()
	require.NotEmpty(t, got)

	if strings.HasPrefix(got, dir) {
		assert.Equal(t, filepath.Join(dir, appName), got)
	}
}
