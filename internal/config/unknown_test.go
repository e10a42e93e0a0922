package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"chunk_size", "chunk_size", 0},
		{"chunk_sise", "chunk_size", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "log_level", closestMatch("log_levl", knownKeys))
	assert.Equal(t, "app_key", closestMatch("appkey", knownKeys))
	assert.Empty(t, closestMatch("completely_unrelated", knownKeys))
}

func TestLoad_UnknownKeys(t *testing.T) {
	path := writeTestConfig(t, `
chunk_sise = "8MiB"
nonsense_key_here = 1

[drive]
sync_dir = "~/Dropbox"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "chunk_sise" (did you mean "chunk_size"?)`)
	assert.Contains(t, err.Error(), `unknown config key "nonsense_key_here"`)
	assert.Contains(t, err.Error(), `unknown config key "drive"`)
}
