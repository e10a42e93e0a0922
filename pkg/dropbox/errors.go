// Package dropbox provides an HTTP client for the Dropbox v1 REST API with
// typed errors, a resumable chunked uploader and delta/long-poll sync.
package dropbox

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, dropbox.ErrNotFound) to check.
var (
	ErrBadRequest          = errors.New("dropbox: bad request")
	ErrUnauthorized        = errors.New("dropbox: unauthorized")
	ErrForbidden           = errors.New("dropbox: forbidden")
	ErrNotFound            = errors.New("dropbox: not found")
	ErrNotModified         = errors.New("dropbox: not modified")
	ErrConflict            = errors.New("dropbox: conflict")
	ErrThrottled           = errors.New("dropbox: throttled")
	ErrInsufficientStorage = errors.New("dropbox: insufficient storage")
	ErrServerError         = errors.New("dropbox: server error")
)

// Protocol and local-state errors.
var (
	// ErrMalformedResponse matches any *MalformedResponseError.
	ErrMalformedResponse = errors.New("dropbox: malformed server response")

	// ErrCanceled is returned when the caller's context ends a blocking call.
	ErrCanceled = errors.New("dropbox: canceled")

	ErrInvalidCredential = errors.New("dropbox: unsupported credential type")
	ErrInvalidRoot       = errors.New("dropbox: root must be dropbox, app_folder or auto")
)

// APIError is a non-2xx response from the server. Err is a sentinel from
// classifyStatus (nil for unclassified codes). Offset is set when the body
// carried a chunked-upload offset. RetryAfter is the server's Retry-After
// hint, zero when absent.
type APIError struct {
	StatusCode  int
	RequestID   string
	Message     string
	UserMessage string
	Body        []byte
	Offset      *int64
	RetryAfter  time.Duration
	Err         error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}

	if e.RequestID != "" {
		return fmt.Sprintf("dropbox: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, msg)
	}

	return fmt.Sprintf("dropbox: HTTP %d: %s", e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsServerError reports whether the response was a 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// TransportError is a failure below HTTP: DNS, TCP, TLS, or a body that
// could not be read. No status code exists for these.
type TransportError struct {
	Method string
	Host   string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dropbox: %s %s%s: %v", e.Method, e.Host, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError means the server answered, but the body could not
// be understood where structured data was required.
type MalformedResponseError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dropbox: malformed server response (HTTP %d): %v: %s", e.StatusCode, e.Err, truncate(e.Body))
	}

	return fmt.Sprintf("dropbox: malformed server response (HTTP %d): %s", e.StatusCode, truncate(e.Body))
}

func (e *MalformedResponseError) Unwrap() []error {
	return []error{ErrMalformedResponse, e.Err}
}

// ConfigError reports an invalid client construction argument.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dropbox: invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// maxErrorBody bounds how much of a response body ends up in error strings.
const maxErrorBody = 512

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}

	return s[:maxErrorBody] + "..."
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusNotModified:
		return ErrNotModified
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusInsufficientStorage:
		return ErrInsufficientStorage
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
