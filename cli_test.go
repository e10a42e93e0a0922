package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tonimelisma/dropbox-go/internal/config"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

// testCLI runs the command tree against a stub Dropbox server with a
// preset CLIContext.
type testCLI struct {
	cc     *CLIContext
	stdout bytes.Buffer
	stderr bytes.Buffer
	stdin  io.Reader
}

func newTestCLI(t *testing.T, h http.Handler) *testCLI {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")

	tc := &testCLI{}
	tc.cc = &CLIContext{
		Cfg: &config.Resolved{
			ConfigPath:      "test.toml",
			AccessToken:     "test-token",
			AppKey:          "app-key",
			AppSecret:       "app-secret",
			Root:            dropbox.RootDropbox,
			ChunkSize:       4,
			ParallelUploads: 2,
			MaxStepRetries:  2,
			LongPollTimeout: 30 * time.Second,
			DefaultBackoff:  10 * time.Millisecond,
			StateDir:        t.TempDir(),
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Stdout: &tc.stdout,
		Stderr: &tc.stderr,
		clientConfigHook: func(cfg *dropbox.Config) {
			cfg.APIHost, cfg.ContentHost, cfg.NotifyHost, cfg.WebHost = host, host, host, host
			cfg.Scheme = "http"
		},
		retryBase: time.Millisecond,
	}

	return tc
}

func (tc *testCLI) run(args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&tc.stdout)
	cmd.SetErr(&tc.stderr)

	if tc.stdin != nil {
		cmd.SetIn(tc.stdin)
	}

	return cmd.ExecuteContext(withCLIContext(context.Background(), tc.cc))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
