package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/internal/mirror"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

func newMirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Keep a local index of the account's metadata",
		Long: `Maintain a local SQLite index of every file and folder, kept current
with delta pages. "mirror sync --follow" waits for changes with long-polls.
Set --path-prefix (or path_prefix in the config) to index one folder only;
changing the prefix rebuilds the index.`,
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the index up to date",
		Args:  cobra.NoArgs,
		RunE:  runMirrorSync,
	}
	syncCmd.Flags().Bool("follow", false, "keep syncing as changes arrive until interrupted")

	lsCmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder from the index",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMirrorLs,
	}
	lsCmd.Flags().BoolP("recursive", "r", false, "print every indexed path")

	cmd.AddCommand(syncCmd, lsCmd,
		&cobra.Command{
			Use:   "status",
			Short: "Show the index cursor and size",
			Args:  cobra.NoArgs,
			RunE:  runMirrorStatus,
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Drop the index so the next sync starts over",
			Args:  cobra.NoArgs,
			RunE:  runMirrorReset,
		},
	)

	return cmd
}

// openMirror opens the index in the state directory.
func openMirror(ctx context.Context, cc *CLIContext) (*mirror.Store, error) {
	if err := os.MkdirAll(cc.Cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	return mirror.Open(ctx, cc.Cfg.MirrorDBPath(), cc.Logger)
}

func runMirrorSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	follow, _ := cmd.Flags().GetBool("follow")

	s, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}

	release, err := cc.stateLock(mirrorLockName, "mirror sync")
	if err != nil {
		return err
	}
	defer release()

	store, err := openMirror(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	syncer, err := mirror.NewSyncer(ctx, s.Client, store, mirror.SyncerOptions{
		PathPrefix:      cc.Cfg.PathPrefix,
		LongPollTimeout: cc.Cfg.LongPollTimeout,
		Cooldown:        cc.Cfg.DefaultBackoff,
		Retry:           cc.retryPolicy(),
		OnPage: func(_ *dropbox.DeltaPage, sum mirror.Summary) {
			if sum.Reset {
				cc.Statusf("Index reset by server\n")
			}

			cc.Statusf("Applied %d change(s), %d removal(s)\n", sum.Puts, sum.Deletes)
		},
	}, cc.Logger)
	if err != nil {
		return err
	}

	if follow {
		cc.Statusf("Watching for changes. Press Ctrl-C to stop.\n")
		return syncer.Run(ctx)
	}

	sum, err := syncer.SyncOnce(ctx)
	if err != nil {
		return err
	}

	n, err := store.Count(ctx)
	if err != nil {
		return err
	}

	cc.Logger.Debug("mirror synced", slog.Int("entries", n))
	cc.Statusf("Index up to date: %d entries (%d changed, %d removed)\n", n, sum.Puts, sum.Deletes)

	return nil
}

func runMirrorLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	recursive, _ := cmd.Flags().GetBool("recursive")

	dir := "/"
	if len(args) > 0 {
		dir = args[0]
	}

	store, err := openMirror(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	if recursive {
		tree, err := store.LoadTree(ctx)
		if err != nil {
			return err
		}

		ew := &errWriter{w: cc.Stdout}

		for _, p := range tree.Paths() {
			ew.printf("%s\n", p)
		}

		return ew.err
	}

	if dir != "/" {
		md, err := store.Get(ctx, dir)
		if err != nil {
			return err
		}

		if md == nil {
			return fmt.Errorf("%q is not in the index", dir)
		}

		if !md.IsDir {
			return printMetadata(cc, md)
		}
	}

	children, err := store.Children(ctx, dir)
	if err != nil {
		return err
	}

	entries := make([]model.Metadata, 0, len(children))
	for _, c := range children {
		entries = append(entries, *c)
	}

	sortEntries(entries)

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, entries)
	}

	printEntries(cc.Stdout, entries)

	return nil
}

// mirrorStatus is the JSON schema for `mirror status`.
type mirrorStatus struct {
	Synced     bool   `json:"synced"`
	PathPrefix string `json:"path_prefix"`
	Cursor     string `json:"cursor,omitempty"`
	Entries    int    `json:"entries"`
	Database   string `json:"database"`
}

func runMirrorStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openMirror(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	lineage, err := store.Lineage(ctx)
	if err != nil {
		return err
	}

	n, err := store.Count(ctx)
	if err != nil {
		return err
	}

	st := mirrorStatus{Entries: n, Database: cc.Cfg.MirrorDBPath()}
	if lineage != nil {
		st.Synced, st.Cursor, st.PathPrefix = true, lineage.Cursor, lineage.PathPrefix
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, st)
	}

	ew := &errWriter{w: cc.Stdout}
	ew.printf("Database: %s\n", st.Database)

	if !st.Synced {
		ew.printf("Never synced. Run 'dropbox-go mirror sync'.\n")
		return ew.err
	}

	prefix := st.PathPrefix
	if prefix == "" {
		prefix = "(whole account)"
	}

	ew.printf("Prefix:   %s\n", prefix)
	ew.printf("Entries:  %d\n", st.Entries)
	ew.printf("Cursor:   %s\n", abbreviate(st.Cursor, 24))

	return ew.err
}

func runMirrorReset(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	release, err := cc.stateLock(mirrorLockName, "mirror sync")
	if err != nil {
		return err
	}
	defer release()

	store, err := openMirror(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Reset(ctx); err != nil {
		return err
	}

	cc.Statusf("Index cleared\n")

	return nil
}

// abbreviate shortens s to n bytes with an ellipsis.
func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
