package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/dropbox-go/internal/retrypolicy"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

// DefaultCooldown is the wait after a failed sync or long-poll.
const DefaultCooldown = 60 * time.Second

// SyncerOptions configures a Syncer. Zero values take defaults.
type SyncerOptions struct {
	PathPrefix      string
	LongPollTimeout time.Duration
	Cooldown        time.Duration
	Retry           retrypolicy.Policy

	// OnPage, when set, is called after each page is stored.
	OnPage func(page *dropbox.DeltaPage, sum Summary)
}

// Syncer keeps a Store in step with the server: it drains delta pages, then
// long-polls for the next change.
type Syncer struct {
	client *dropbox.Client
	store  *Store
	delta  *dropbox.DeltaSync
	opts   SyncerOptions
	logger *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewSyncer resumes the lineage saved in store. When the saved prefix
// differs from opts.PathPrefix the store is reset and a new enumeration
// starts, because a cursor is only valid with its own prefix.
func NewSyncer(ctx context.Context, c *dropbox.Client, store *Store, opts SyncerOptions, logger *slog.Logger) (*Syncer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.LongPollTimeout <= 0 {
		opts.LongPollTimeout = dropbox.DefaultLongPollTimeout
	}

	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}

	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger
	}

	s := &Syncer{
		client:    c,
		store:     store,
		opts:      opts,
		logger:    logger,
		sleepFunc: timeSleep,
	}

	saved, err := store.Lineage(ctx)
	if err != nil {
		return nil, err
	}

	fresh := dropbox.NewDeltaSync(c, opts.PathPrefix)

	switch {
	case saved == nil:
		s.delta = fresh
	case fresh.MatchPrefix(saved.PathPrefix) != nil:
		logger.Warn("path prefix changed, starting over",
			slog.String("saved", saved.PathPrefix),
			slog.String("wanted", fresh.Prefix()),
		)

		if err := store.Reset(ctx); err != nil {
			return nil, err
		}

		s.delta = fresh
	default:
		s.delta = dropbox.ResumeDeltaSync(c, saved.Cursor, saved.PathPrefix)
	}

	return s, nil
}

// Cursor is the cursor of the last stored page.
func (s *Syncer) Cursor() string { return s.delta.Cursor() }

// SyncOnce fetches and stores pages until the server reports no more.
func (s *Syncer) SyncOnce(ctx context.Context) (Summary, error) {
	var total Summary

	for {
		page, err := s.pollPage(ctx)
		if err != nil {
			return total, err
		}

		sum, err := s.store.ApplyPage(ctx, s.delta.Prefix(), page)
		if err != nil {
			return total, s.rollback(err)
		}

		total.add(sum)

		s.logger.Info("delta page applied",
			slog.Bool("reset", sum.Reset),
			slog.Int("puts", sum.Puts),
			slog.Int("deletes", sum.Deletes),
			slog.Bool("has_more", page.HasMore),
		)

		if s.opts.OnPage != nil {
			s.opts.OnPage(page, sum)
		}

		if !page.HasMore {
			return total, nil
		}
	}
}

func (s *Syncer) pollPage(ctx context.Context) (*dropbox.DeltaPage, error) {
	var page *dropbox.DeltaPage

	err := s.opts.Retry.Do(ctx, "delta", func(ctx context.Context) error {
		var err error
		page, err = s.delta.Poll(ctx)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: fetching delta: %w", err)
	}

	return page, nil
}

// rollback rewinds the in-memory cursor to the stored one after a page
// failed to persist, so the page is fetched again.
func (s *Syncer) rollback(cause error) error {
	saved, err := s.store.Lineage(context.Background())
	if err != nil {
		return errors.Join(cause, err)
	}

	if saved == nil {
		s.delta = dropbox.NewDeltaSync(s.client, s.delta.Prefix())
	} else {
		s.delta = dropbox.ResumeDeltaSync(s.client, saved.Cursor, saved.PathPrefix)
	}

	return cause
}

// Run syncs, then long-polls and syncs again whenever changes arrive, until
// ctx is done. Failures are logged and retried after the cooldown; only
// cancellation ends the loop, returning nil.
func (s *Syncer) Run(ctx context.Context) error {
	needSync := true

	for {
		if needSync {
			if _, err := s.SyncOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				s.logger.Warn("sync failed", slog.String("error", err.Error()),
					slog.Duration("cooldown", s.opts.Cooldown))

				if s.sleepFunc(ctx, s.opts.Cooldown) != nil {
					return nil
				}

				continue
			}
		}

		res, err := s.delta.LongPoll(ctx, s.opts.LongPollTimeout)

		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			s.logger.Warn("long-poll failed", slog.String("error", err.Error()),
				slog.Duration("cooldown", s.opts.Cooldown))

			needSync = false

			if s.sleepFunc(ctx, s.opts.Cooldown) != nil {
				return nil
			}

			continue
		}

		needSync = res.Changes

		if res.Backoff > 0 {
			s.logger.Debug("server requested backoff", slog.Duration("backoff", res.Backoff))

			if s.sleepFunc(ctx, res.Backoff) != nil {
				return nil
			}
		}
	}
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
