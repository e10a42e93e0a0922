package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	headerRequestID = "X-Dropbox-Request-Id"
	headerMetadata  = "X-Dropbox-Metadata"
)

// Client is an HTTP client for the Dropbox v1 API. It attaches the bearer
// token, User-Agent and locale to every request and classifies failures
// into *TransportError, *APIError and ErrCanceled. It does not retry.
//
// A Client is safe for concurrent use; its configuration is fixed at
// construction.
type Client struct {
	cfg        Config
	httpClient *http.Client
	creds      CredentialSource
	logger     *slog.Logger
}

// NewClient creates a Client. Empty Config fields take the production
// defaults; an invalid root is reported as a *ConfigError.
func NewClient(cfg Config, httpClient *http.Client, creds CredentialSource, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if creds == nil {
		return nil, &ConfigError{Field: "credential", Err: fmt.Errorf("%w: nil", ErrInvalidCredential)}
	}

	resolved, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:        resolved,
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
	}, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Do sends one request to the host selected by role. path is appended to
// "/<version>" and must already be escaped (see FormatPath). For POST
// requests without a body, params are sent form-encoded in the body;
// otherwise they go in the query string.
//
// A 2xx response is returned with its body open; the caller closes it.
// Any other status is returned as *APIError with the body consumed.
func (c *Client) Do(
	ctx context.Context, method string, role HostRole, path string,
	params url.Values, headers http.Header, body io.Reader,
) (*http.Response, error) {
	return c.do(ctx, c.httpClient, method, role, path, params, headers, body)
}

func (c *Client) do(
	ctx context.Context, hc *http.Client, method string, role HostRole, path string,
	params url.Values, headers http.Header, body io.Reader,
) (*http.Response, error) {
	host := c.cfg.host(role)

	req, err := c.newRequest(ctx, method, host, path, params, body)
	if err != nil {
		return nil, err
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// A declared length lets streamed bodies go out without chunked encoding.
	if cl := req.Header.Get("Content-Length"); cl != "" {
		if n, parseErr := strconv.ParseInt(cl, 10, 64); parseErr == nil && n > 0 {
			req.ContentLength = n
		}

		req.Header.Del("Content-Length")
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}

		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("host", host),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, &TransportError{Method: method, Host: host, Path: path, Err: err}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("role", role.String()),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	defer resp.Body.Close()

	errBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}

		return nil, &TransportError{Method: method, Host: host, Path: path, Err: readErr}
	}

	apiErr := newAPIError(resp, errBody)

	c.logger.Debug("request returned error status",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", apiErr.RequestID),
	)

	return nil, apiErr
}

func (c *Client) newRequest(
	ctx context.Context, method, host, path string, params url.Values, body io.Reader,
) (*http.Request, error) {
	query := url.Values{}
	for k, vs := range params {
		query[k] = append([]string(nil), vs...)
	}

	if c.cfg.Locale != "" && query.Get("locale") == "" {
		query.Set("locale", c.cfg.Locale)
	}

	contentType := ""

	if method == http.MethodPost && body == nil && len(query) > 0 {
		body = strings.NewReader(query.Encode())
		contentType = "application/x-www-form-urlencoded"
		query = nil
	}

	rawURL := c.cfg.Scheme + "://" + host + "/" + c.cfg.APIVersion + path
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("dropbox: creating request: %w", err)
	}

	tok, err := c.creds.Token()
	if err != nil {
		return nil, fmt.Errorf("dropbox: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// errorBody is the JSON shape of v1 error responses. error may be a string
// or an object; offset appears on chunked-upload rejections.
type errorBody struct {
	Error     json.RawMessage `json:"error"`
	UserError string          `json:"user_error"`
	Offset    *int64          `json:"offset"`
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get(headerRequestID),
		Body:       body,
		Err:        classifyStatus(resp.StatusCode),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = truncate(strings.TrimSpace(string(body)))
		return apiErr
	}

	apiErr.UserMessage = eb.UserError
	apiErr.Offset = eb.Offset

	var msg string
	if json.Unmarshal(eb.Error, &msg) == nil {
		apiErr.Message = msg
	} else if len(eb.Error) > 0 {
		apiErr.Message = string(eb.Error)
	}

	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}

	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	return 0
}

// rootPath builds "/<endpoint>/<root><formatted path>".
func (c *Client) rootPath(endpoint, path string) string {
	return "/" + endpoint + "/" + c.cfg.Root.urlComponent() + FormatPath(path, true)
}

// decodeResponse reads and closes resp.Body and decodes it with dec. A body
// that does not decode is a *MalformedResponseError.
func decodeResponse[T any](resp *http.Response, dec func(json.RawMessage) (T, error)) (T, error) {
	defer resp.Body.Close()

	var zero T

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, &TransportError{
			Method: resp.Request.Method, Host: resp.Request.URL.Host, Path: resp.Request.URL.Path, Err: err,
		}
	}

	v, err := dec(bytes.TrimSpace(body))
	if err != nil {
		return zero, &MalformedResponseError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
	}

	return v, nil
}

// callJSON performs a request and decodes the 2xx body with dec.
func callJSON[T any](
	ctx context.Context, c *Client, method string, role HostRole, path string,
	params url.Values, dec func(json.RawMessage) (T, error),
) (T, error) {
	resp, err := c.Do(ctx, method, role, path, params, nil, nil)
	if err != nil {
		var zero T
		return zero, err
	}

	return decodeResponse(resp, dec)
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// IsRetryable reports whether err is worth retrying: transport failures,
// 5xx responses and throttling. Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCanceled) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsServerError() || apiErr.StatusCode == http.StatusTooManyRequests
	}

	return false
}
