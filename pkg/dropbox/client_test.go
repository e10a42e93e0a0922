package dropbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingToken is a CredentialSource that always errors.
type failingToken struct{}

func (failingToken) Token() (string, error) {
	return "", errors.New("token error")
}

// testConfig points every host role at srv.
func testConfig(srv *httptest.Server) Config {
	host := strings.TrimPrefix(srv.URL, "http://")

	return Config{
		APIHost:     host,
		ContentHost: host,
		NotifyHost:  host,
		WebHost:     host,
		Scheme:      "http",
	}
}

// newTestClient starts a server for h and returns a client pointed at it.
// mutate adjusts the config before the client is built.
func newTestClient(t *testing.T, h http.Handler, mutate ...func(*Config)) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv)
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := NewClient(cfg, srv.Client(), StaticToken("test-token"), slog.Default())
	require.NoError(t, err)

	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewClient_RejectsNilCredentials(t *testing.T) {
	_, err := NewClient(Config{}, nil, nil, nil)
	require.Error(t, err)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "credential", ce.Field)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestNewClient_RejectsBadRoot(t *testing.T) {
	_, err := NewClient(Config{Root: "home"}, nil, StaticToken("t"), nil)
	assert.ErrorIs(t, err, ErrInvalidRoot)
}

func TestNewClient_FillsDefaults(t *testing.T) {
	c, err := NewClient(Config{Locale: "fr"}, nil, StaticToken("t"), nil)
	require.NoError(t, err)

	cfg := c.Config()
	assert.Equal(t, DefaultAPIHost, cfg.APIHost)
	assert.Equal(t, DefaultContentHost, cfg.ContentHost)
	assert.Equal(t, DefaultNotifyHost, cfg.NotifyHost)
	assert.Equal(t, RootAuto, cfg.Root)
	assert.Equal(t, "https", cfg.Scheme)
	assert.Equal(t, "fr", cfg.Locale)
	assert.Equal(t, DefaultLongPollGrace, cfg.LongPollGrace)
	assert.True(t, strings.HasPrefix(cfg.UserAgent, "dropbox-go/"))
}

func TestDo_SetsHeadersAndQuery(t *testing.T) {
	var got *http.Request

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		writeJSON(w, http.StatusOK, `{}`)
	}), func(cfg *Config) {
		cfg.Locale = "de"
		cfg.UserAgent = "test-agent"
	})

	resp, err := c.Do(context.Background(), http.MethodGet, RoleAPI, "/metadata/auto/a", map[string][]string{"list": {"false"}}, nil, nil)
	require.NoError(t, err)
	drain(resp)

	require.NotNil(t, got)
	assert.Equal(t, "/1/metadata/auto/a", got.URL.Path)
	assert.Equal(t, "Bearer test-token", got.Header.Get("Authorization"))
	assert.Equal(t, "test-agent", got.Header.Get("User-Agent"))
	assert.Equal(t, "false", got.URL.Query().Get("list"))
	assert.Equal(t, "de", got.URL.Query().Get("locale"))
}

func TestDo_PostFormEncodesParams(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.URL.RawQuery)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "c1", r.PostForm.Get("cursor"))
		writeJSON(w, http.StatusOK, `{}`)
	}))

	resp, err := c.Do(context.Background(), http.MethodPost, RoleAPI, "/delta", map[string][]string{"cursor": {"c1"}}, nil, nil)
	require.NoError(t, err)
	drain(resp)
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
		user     string
	}{
		{"not found string error", 404, `{"error": "Path not found"}`, ErrNotFound, "Path not found", ""},
		{"bad request object error", 400, `{"error": {"path": "bad"}, "user_error": "Try again"}`, ErrBadRequest, `{"path": "bad"}`, "Try again"},
		{"unauthorized", 401, `{"error": "expired"}`, ErrUnauthorized, "expired", ""},
		{"throttled", 429, `{"error": "slow down"}`, ErrThrottled, "slow down", ""},
		{"over quota", 507, `{"error": "full"}`, ErrInsufficientStorage, "full", ""},
		{"server error plain body", 502, `<html>bad gateway</html>`, ErrServerError, "<html>bad gateway</html>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set(headerRequestID, "req-1")
				writeJSON(w, tt.status, tt.body)
			}))

			_, err := c.Do(context.Background(), http.MethodGet, RoleAPI, "/x", nil, nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "req-1", apiErr.RequestID)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.user, apiErr.UserMessage)
			assert.Contains(t, apiErr.Error(), "req-1")
		})
	}
}

func TestDo_RetryAfterHeader(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		writeJSON(w, http.StatusServiceUnavailable, `{"error": "busy"}`)
	}))

	_, err := c.Do(context.Background(), http.MethodGet, RoleAPI, "/x", nil, nil, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
	assert.True(t, IsRetryable(err))
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig(srv)
	srv.Close()

	c, err := NewClient(cfg, http.DefaultClient, StaticToken("t"), nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), http.MethodGet, RoleAPI, "/x", nil, nil, nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "/x", te.Path)
	assert.True(t, IsRetryable(err))
}

func TestDo_Canceled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.Do(ctx, http.MethodGet, RoleAPI, "/x", nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.False(t, IsRetryable(err))
}

func TestDo_TokenError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	c, err := NewClient(testConfig(srv), srv.Client(), failingToken{}, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), http.MethodGet, RoleAPI, "/x", nil, nil, nil)
	assert.ErrorContains(t, err, "token error")
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&APIError{StatusCode: 404, Err: ErrNotFound}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 500, Err: ErrServerError}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 429, Err: ErrThrottled}))
	assert.False(t, IsRetryable(&MalformedResponseError{StatusCode: 200}))
}

func TestMalformedResponseError_MatchesSentinel(t *testing.T) {
	inner := errors.New("bad json")
	err := error(&MalformedResponseError{StatusCode: 200, Body: "x", Err: inner})

	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.ErrorIs(t, err, inner)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", maxErrorBody+10)
	assert.Len(t, truncate(long), maxErrorBody+3)
	assert.Equal(t, "short", truncate("short"))
}

func TestDecodeResponse_Malformed(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `not json`)
	}))

	_, err := c.AccountInfo(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
