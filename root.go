package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/internal/config"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagRoot       string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
	flagChunkSize  string
	flagPathPrefix string
)

// CLIFlags is a snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext carries what every command needs. It is built once in the
// root pre-run and stored in the command's context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer

	// clientConfigHook adjusts the client configuration; tests point it at
	// a local server.
	clientConfigHook func(*dropbox.Config)

	// retryBase overrides the retry backoff; zero keeps the default.
	retryBase time.Duration
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext installed by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with every subcommand registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dropbox-go",
		Short:   "Dropbox command-line client",
		Long:    "A Dropbox client with resumable chunked uploads and a delta-synced local mirror.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A caller that embeds the command tree may supply its own
			// context; it still sees this invocation's flags.
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok {
				cc.Flags = snapshotFlags()
				return nil
			}

			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVar(&flagRoot, "root", "", "namespace: dropbox, app_folder or auto")
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log informational messages")
	pf.BoolVar(&flagDebug, "debug", false, "log debug messages")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors and suppress status output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	pf.StringVar(&flagChunkSize, "chunk-size", "", "upload chunk size, e.g. 8MiB")
	pf.StringVar(&flagPathPrefix, "path-prefix", "", "limit delta and mirror to this folder")

	cmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newLsCmd(),
		newStatCmd(),
		newGetCmd(),
		newPutCmd(),
		newUploadsCmd(),
		newRmCmd(),
		newMkdirCmd(),
		newMvCmd(),
		newCpCmd(),
		newSearchCmd(),
		newRevisionsCmd(),
		newRestoreCmd(),
		newShareCmd(),
		newCopyRefCmd(),
		newMediaCmd(),
		newThumbnailCmd(),
		newDeltaCmd(),
		newMirrorCmd(),
		newWatchCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadCLIContext resolves configuration through defaults, file, environment
// and flags, then builds the logger from the result.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := snapshotFlags()

	env, err := config.ReadEnvOverrides()
	if err != nil {
		return nil, err
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if cmd.Flags().Changed("root") {
		cli.Root = &flagRoot
	}

	if cmd.Flags().Changed("chunk-size") {
		cli.ChunkSize = &flagChunkSize
	}

	if cmd.Flags().Changed("path-prefix") {
		cli.PathPrefix = &flagPathPrefix
	}

	if lvl, ok := flagLogLevel(flags); ok {
		cli.LogLevel = &lvl
	}

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(resolved, os.Stderr)
	logger.Debug("config resolved", slog.String("path", resolved.ConfigPath))

	return &CLIContext{
		Flags:  flags,
		Cfg:    resolved,
		Logger: logger,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}, nil
}

func snapshotFlags() CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Debug:      flagDebug,
		Quiet:      flagQuiet,
	}
}

// flagLogLevel maps --debug, --verbose and --quiet to a level. --quiet wins.
func flagLogLevel(f CLIFlags) (string, bool) {
	switch {
	case f.Quiet:
		return "error", true
	case f.Debug:
		return "debug", true
	case f.Verbose:
		return "info", true
	default:
		return "", false
	}
}

// buildLogger creates the logger for the resolved level and format. The
// "auto" format is text on a terminal and JSON otherwise.
func buildLogger(cfg *config.Resolved, w *os.File) *slog.Logger {
	var level slog.Level

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(cfg.LogFormat, w.Fd()) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func useJSONLogs(format string, fd uintptr) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	}
}

// exitCode maps an error to the process exit status: 2 for usage and
// configuration problems, 3 when not logged in, 1 otherwise.
func exitCode(err error) int {
	var cfgErr *dropbox.ConfigError

	switch {
	case errors.As(err, &cfgErr):
		return 2
	case errors.Is(err, errNotLoggedIn), errors.Is(err, dropbox.ErrUnauthorized):
		return 3
	default:
		return 1
	}
}
