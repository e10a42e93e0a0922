package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

func newDeltaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delta",
		Short: "Print changes since a cursor",
		Long: `Print delta entries since --cursor, or the full listing when no cursor
is given, and finish with the new cursor. With --follow, wait for further
changes with long-polls until interrupted.

Output lines are "+ path" for added or changed entries and "- path" for
removed ones. A "reset" line means the local state must be cleared first.
With --json every page is printed as one JSON object per line.`,
		Args: cobra.NoArgs,
		RunE: runDelta,
	}

	cmd.Flags().String("cursor", "", "cursor returned by an earlier call")
	cmd.Flags().Bool("follow", false, "keep waiting for changes")

	return cmd
}

// deltaPageOutput is the JSON line for one page.
type deltaPageOutput struct {
	Reset   bool               `json:"reset"`
	Cursor  string             `json:"cursor"`
	HasMore bool               `json:"has_more"`
	Entries []deltaEntryOutput `json:"entries"`
}

type deltaEntryOutput struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
	IsDir   bool   `json:"is_dir,omitempty"`
	Bytes   int64  `json:"bytes,omitempty"`
	Rev     string `json:"rev,omitempty"`
}

func runDelta(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	s, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}

	cursor, _ := cmd.Flags().GetString("cursor")
	follow, _ := cmd.Flags().GetBool("follow")

	d := dropbox.ResumeDeltaSync(s.Client, cursor, cc.Cfg.PathPrefix)

	for {
		if err := drainDelta(ctx, cc, d); err != nil {
			return err
		}

		if !follow {
			break
		}

		if err := waitForChanges(ctx, cc, d); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, dropbox.ErrCanceled) {
				break
			}

			return err
		}
	}

	if !cc.Flags.JSON {
		fmt.Fprintf(cc.Stdout, "cursor %s\n", d.Cursor())
	}

	return nil
}

// drainDelta prints pages until the server reports no more.
func drainDelta(ctx context.Context, cc *CLIContext, d *dropbox.DeltaSync) error {
	policy := cc.retryPolicy()

	for {
		var page *dropbox.DeltaPage

		err := policy.Do(ctx, "delta", func(ctx context.Context) error {
			var pollErr error
			page, pollErr = d.Poll(ctx)

			return pollErr
		})
		if err != nil {
			return fmt.Errorf("fetching delta: %w", err)
		}

		if err := printDeltaPage(cc, page); err != nil {
			return err
		}

		if !page.HasMore {
			return nil
		}
	}
}

func printDeltaPage(cc *CLIContext, page *dropbox.DeltaPage) error {
	if cc.Flags.JSON {
		out := deltaPageOutput{
			Reset:   page.Reset,
			Cursor:  page.Cursor,
			HasMore: page.HasMore,
			Entries: make([]deltaEntryOutput, 0, len(page.Entries)),
		}

		for _, e := range page.Entries {
			eo := deltaEntryOutput{Path: e.Path, Deleted: e.Metadata == nil}
			if e.Metadata != nil {
				eo.Path = e.Metadata.Path
				eo.IsDir, eo.Bytes, eo.Rev = e.Metadata.IsDir, e.Metadata.Bytes, e.Metadata.Rev
			}

			out.Entries = append(out.Entries, eo)
		}

		return jsonLine(cc.Stdout, out)
	}

	ew := &errWriter{w: cc.Stdout}

	if page.Reset {
		ew.printf("reset\n")
	}

	for _, e := range page.Entries {
		if e.Metadata == nil {
			ew.printf("- %s\n", e.Path)
			continue
		}

		ew.printf("+ %s\n", e.Metadata.Path)
	}

	return ew.err
}

// waitForChanges long-polls until the server reports changes, honoring
// the backoff it asks for.
func waitForChanges(ctx context.Context, cc *CLIContext, d *dropbox.DeltaSync) error {
	for {
		res, err := d.LongPoll(ctx, cc.Cfg.LongPollTimeout)
		if err != nil {
			return fmt.Errorf("waiting for changes: %w", err)
		}

		if res.Backoff > 0 {
			cc.Logger.Debug("server requested backoff", slog.Duration("backoff", res.Backoff))

			if err := sleepCtx(ctx, res.Backoff); err != nil {
				return err
			}
		}

		if res.Changes {
			return nil
		}
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
