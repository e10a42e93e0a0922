package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective(t *testing.T) {
	path := writeTestConfig(t, `
app_key = "my-key"
app_secret = "top-secret"
chunk_size = "8MiB"
`)

	r, err := Resolve(EnvOverrides{ConfigPath: path, AccessToken: "env-tok"}, CLIOverrides{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	out := buf.String()
	assert.Contains(t, out, path)
	assert.Contains(t, out, `app_key          = "my-key"`)
	assert.Contains(t, out, `"<redacted>"`)
	assert.NotContains(t, out, "top-secret")
	assert.NotContains(t, out, "env-tok")
	assert.Contains(t, out, `chunk_size       = "8MiB"`)
	assert.Contains(t, out, `longpoll_timeout = "30s"`)
	assert.Contains(t, out, `api_host         = "(default)"`)
	assert.Contains(t, out, EnvAccessToken)
}

type failWriter struct{ n int }

func (f *failWriter) Write(p []byte) (int, error) {
	f.n++
	return 0, errors.New("disk full")
}

func TestRenderEffective_StopsOnFirstError(t *testing.T) {
	r, err := resolve(DefaultConfig())
	require.NoError(t, err)

	fw := &failWriter{}
	assert.EqualError(t, RenderEffective(r, fw), "disk full")
	assert.Equal(t, 1, fw.n)
}
