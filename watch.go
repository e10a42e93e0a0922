package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/dropbox-go/internal/uploadstore"
	"github.com/tonimelisma/dropbox-go/internal/watch"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <local-dir> <remote-dir>",
		Short: "Upload local changes as they happen",
		Long: `Watch a local directory and upload every created or modified file to
the matching path under remote-dir, overwriting the remote copy. Hidden
files are ignored. With --delete, local deletions are mirrored remotely.`,
		Args: cobra.ExactArgs(2),
		RunE: runWatch,
	}

	cmd.Flags().Bool("delete", false, "delete remote files removed locally")
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before a batch is uploaded")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	localDir, remoteDir := args[0], args[1]

	del, _ := cmd.Flags().GetBool("delete")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	if err := watch.Check(localDir); err != nil {
		return err
	}

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	release, err := cc.stateLock(watchLockName, "watch")
	if err != nil {
		return err
	}
	defer release()

	p := &watchPusher{
		cc:        cc,
		client:    s.Client,
		store:     uploadstore.New(cc.Cfg.UploadsDir(), cc.Logger),
		remoteDir: remoteDir,
		delete:    del,
		opts: uploadOptions{
			policy:    model.Overwrite(),
			chunkSize: int(cc.Cfg.ChunkSize),
		},
	}

	w := watch.New(localDir, debounce, cc.Logger)
	batches := make(chan []watch.Event)

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		defer close(batches)
		return w.Run(ctx, batches)
	})

	g.Go(func() error {
		for batch := range batches {
			p.push(ctx, batch)
		}

		return nil
	})

	cc.Statusf("Watching %s -> %s. Press Ctrl-C to stop.\n", localDir, remoteDir)

	return g.Wait()
}

// watchPusher applies batches of local events to Dropbox. Failures are
// logged and the next batch proceeds.
type watchPusher struct {
	cc        *CLIContext
	client    *dropbox.Client
	store     *uploadstore.Store
	remoteDir string
	delete    bool
	opts      uploadOptions
}

func (p *watchPusher) push(ctx context.Context, batch []watch.Event) {
	var jobs []uploadJob

	for _, ev := range batch {
		remote := path.Join("/", p.remoteDir, ev.Rel)

		if ev.Op == watch.Removed {
			if p.delete {
				p.remove(ctx, remote)
			}

			continue
		}

		fi, err := os.Stat(ev.Path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}

		jobs = append(jobs, uploadJob{local: ev.Path, remote: remote})
	}

	if len(jobs) == 0 {
		return
	}

	start := time.Now()

	if _, err := uploadAll(ctx, p.cc, p.client, p.store, jobs, p.opts); err != nil {
		p.cc.Logger.Warn("some uploads failed", slog.String("error", err.Error()))
	}

	p.cc.Logger.Info("batch pushed",
		slog.Int("files", len(jobs)),
		slog.Duration("elapsed", time.Since(start)),
	)
}

func (p *watchPusher) remove(ctx context.Context, remote string) {
	_, err := p.client.Delete(ctx, remote)

	switch {
	case err == nil:
		p.cc.Statusf("Deleted %s\n", remote)
	case errors.Is(err, dropbox.ErrNotFound):
		p.cc.Logger.Debug("already gone", slog.String("path", remote))
	default:
		p.cc.Logger.Warn("remote delete failed", slog.String("path", remote), slog.String("error", err.Error()))
	}
}

