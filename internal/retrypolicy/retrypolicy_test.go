package retrypolicy

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

func serverError() error {
	return &dropbox.APIError{StatusCode: http.StatusServiceUnavailable, Err: dropbox.ErrServerError}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	p := Policy{MaxRetries: 3, Base: time.Millisecond, Max: 5 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "step", func(context.Context) error {
		calls++
		if calls < 3 {
			return serverError()
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	p := Policy{MaxRetries: 2, Base: time.Millisecond, Max: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "step", func(context.Context) error {
		calls++
		return serverError()
	})

	require.ErrorIs(t, err, dropbox.ErrServerError)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	p := Policy{MaxRetries: 5, Base: time.Millisecond}

	calls := 0
	perm := &dropbox.APIError{StatusCode: http.StatusNotFound, Err: dropbox.ErrNotFound}
	err := p.Do(context.Background(), "stat", func(context.Context) error {
		calls++
		return perm
	})

	require.ErrorIs(t, err, dropbox.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroRetries(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), "step", func(context.Context) error {
		calls++
		return serverError()
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	p := Policy{MaxRetries: 1, Base: time.Millisecond, Max: time.Millisecond}

	calls := 0
	start := time.Now()
	err := p.Do(context.Background(), "step", func(context.Context) error {
		calls++
		if calls == 1 {
			return &dropbox.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 80 * time.Millisecond}
		}

		return nil
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 10, Base: time.Hour, Max: time.Hour}

	err := p.Do(ctx, "step", func(context.Context) error {
		cancel()
		return serverError()
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, dropbox.ErrServerError))
}
