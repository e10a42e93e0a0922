package main

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share <path>",
		Short: "Print a shareable preview link",
		Args:  cobra.ExactArgs(1),
		RunE:  runShare,
	}

	cmd.Flags().Bool("short", true, "return a shortened db.tt link")

	return cmd
}

func newMediaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "media <path>",
		Short: "Print a short-lived direct link for streaming",
		Args:  cobra.ExactArgs(1),
		RunE:  runMedia,
	}
}

func newCopyRefCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copyref <path>",
		Short: "Create a copy reference for \"cp --ref\"",
		Args:  cobra.ExactArgs(1),
		RunE:  runCopyRef,
	}
}

func newThumbnailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thumbnail <path> [local-path]",
		Short: "Download a thumbnail of an image",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runThumbnail,
	}

	cmd.Flags().String("size", "large", "xs, s, m, l, xl, small, medium or large")

	return cmd
}

func runShare(cmd *cobra.Command, args []string) error {
	short, _ := cmd.Flags().GetBool("short")

	return runLink(cmd, func(s *Session) (*model.Link, error) {
		return s.Client.Shares(cmd.Context(), args[0], short)
	})
}

func runMedia(cmd *cobra.Command, args []string) error {
	return runLink(cmd, func(s *Session) (*model.Link, error) {
		return s.Client.Media(cmd.Context(), args[0])
	})
}

// runLink prints the URL on stdout and its expiry on stderr.
func runLink(cmd *cobra.Command, call func(*Session) (*model.Link, error)) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	link, err := call(s)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, link)
	}

	fmt.Fprintln(cc.Stdout, link.URL)
	cc.Statusf("Expires %s\n", link.Expires.Local().Format(time.RFC1123))

	return nil
}

func runCopyRef(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	ref, err := s.Client.CreateCopyRef(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("copyref: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, ref)
	}

	fmt.Fprintln(cc.Stdout, ref.Ref)
	cc.Statusf("Expires %s\n", ref.Expires.Local().Format(time.RFC1123))

	return nil
}

func runThumbnail(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	s, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}

	size, _ := cmd.Flags().GetString("size")

	// Thumbnails are always JPEG or PNG; default to a .jpg next to the name.
	base := path.Base(dropbox.FormatPath(args[0], false))
	localPath := strings.TrimSuffix(base, path.Ext(base)) + ".thumb.jpg"

	if len(args) > 1 {
		localPath = args[1]
	}

	body, md, err := s.Client.ThumbnailAndMetadata(ctx, args[0], size)
	if err != nil {
		return fmt.Errorf("thumbnail %q: %w", args[0], err)
	}
	defer body.Close()

	n, err := writePartial(localPath, body)
	if err != nil {
		return err
	}

	if err := os.Rename(localPath+partialSuffix, localPath); err != nil {
		return fmt.Errorf("renaming thumbnail to %q: %w", localPath, err)
	}

	cc.Logger.Debug("thumbnail saved", slog.String("local_path", localPath), slog.Int64("bytes", n))

	if md != nil {
		cc.Statusf("Saved %s thumbnail of %s to %s\n", size, md.Path, localPath)
	}

	return nil
}
