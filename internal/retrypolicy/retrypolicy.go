// Package retrypolicy retries Dropbox calls that failed transiently. The
// dropbox package never retries on its own; callers wrap single steps
// (one chunk, one delta page) in a Policy.
package retrypolicy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

// Defaults used when a Policy field is zero.
const (
	DefaultBase = time.Second
	DefaultMax  = time.Minute

	jitterPercent = 25
)

// Policy is exponential backoff with jitter, capped per wait and bounded in
// attempts. A server Retry-After hint raises the next wait.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Logger     *slog.Logger
}

// Do calls fn until it succeeds, fails with an error dropbox.IsRetryable
// rejects, or the retries run out. The last error is returned.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var hint time.Duration

	attempt := 0

	return retry.Do(ctx, p.backoff(&hint), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !dropbox.IsRetryable(err) {
			return err
		}

		attempt++
		hint = retryAfter(err)

		logger.Warn("retrying after transient error",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", p.MaxRetries),
			slog.String("error", err.Error()),
		)

		return retry.RetryableError(err)
	})
}

func (p Policy) backoff(hint *time.Duration) retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}

	maxWait := p.Max
	if maxWait <= 0 {
		maxWait = DefaultMax
	}

	var b retry.Backoff = retry.NewExponential(base)
	b = retry.WithJitterPercent(jitterPercent, b)
	b = retry.WithCappedDuration(maxWait, b)
	b = retry.WithMaxRetries(uint64(max(p.MaxRetries, 0)), b)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := b.Next()
		if stop {
			return 0, true
		}

		if *hint > next {
			next = *hint
		}

		*hint = 0

		return next, false
	})
}

func retryAfter(err error) time.Duration {
	var apiErr *dropbox.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}

	return 0
}
