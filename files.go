package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}

	cmd.Flags().Bool("deleted", false, "include deleted entries")
	cmd.Flags().Int("limit", 0, "maximum number of entries (server default when 0)")

	return cmd
}

func newStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Show metadata for a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}

	cmd.Flags().String("rev", "", "describe this revision of a file")

	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}

	cmd.Flags().String("rev", "", "download this revision")

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder. Folders are deleted with their contents.
Deleted files can be brought back with "restore".`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from> <to>",
		Short: "Move or rename a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

func newCpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cp <from> <to>",
		Short: "Copy a file or folder",
		Long: `Copy a file or folder. With --ref the source is a copy reference made
by "copyref", possibly in another account.`,
		Args: cobra.ExactArgs(2),
		RunE: runCp,
	}

	cmd.Flags().Bool("ref", false, "treat <from> as a copy reference")

	return cmd
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query> [path]",
		Short: "Find entries whose names contain query",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSearch,
	}

	cmd.Flags().Bool("deleted", false, "include deleted entries")
	cmd.Flags().Int("limit", 0, "maximum number of results (server default when 0)")

	return cmd
}

func newRevisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revisions <path>",
		Short: "List earlier versions of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRevisions,
	}

	cmd.Flags().Int("limit", 0, "maximum number of revisions (server default when 0)")

	return cmd
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path> <rev>",
		Short: "Restore a file to an earlier revision",
		Args:  cobra.ExactArgs(2),
		RunE:  runRestore,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	cc := mustCLIContext(cmd.Context())

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	deleted, _ := cmd.Flags().GetBool("deleted")
	limit, _ := cmd.Flags().GetInt("limit")

	md, err := s.Client.Metadata(cmd.Context(), remotePath, dropbox.MetadataOptions{
		FileLimit:      limit,
		IncludeDeleted: deleted,
	})
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	entries := md.Contents
	if !md.IsDir {
		entries = []model.Metadata{*md}
	}

	sortEntries(entries)

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, nonNil(entries))
	}

	printEntries(cc.Stdout, entries)

	return nil
}

// sortEntries orders folders first, then by path.
func sortEntries(entries []model.Metadata) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}

		return entries[i].Path < entries[j].Path
	})
}

func printEntries(w io.Writer, entries []model.Metadata) {
	rows := make([][]string, 0, len(entries))
	for i := range entries {
		rows = append(rows, metadataRow(entries[i]))
	}

	printTable(w, metadataHeaders, rows)
}

// nonNil keeps JSON output an array when there are no entries.
func nonNil(entries []model.Metadata) []model.Metadata {
	if entries == nil {
		return []model.Metadata{}
	}

	return entries
}

func runStat(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	rev, _ := cmd.Flags().GetString("rev")

	md, err := s.Client.Metadata(cmd.Context(), args[0], dropbox.MetadataOptions{NoList: true, Rev: rev})
	if err != nil {
		return fmt.Errorf("stat %q: %w", args[0], err)
	}

	return printMetadata(cc, md)
}

// printMetadata shows a single entry as JSON or as key/value lines.
func printMetadata(cc *CLIContext, md *model.Metadata) error {
	if cc.Flags.JSON {
		return printJSON(cc.Stdout, md)
	}

	kind := "file"
	if md.IsDir {
		kind = "folder"
	}

	ew := &errWriter{w: cc.Stdout}
	ew.printf("Path:     %s\n", md.Path)
	ew.printf("Type:     %s\n", kind)

	if !md.IsDir {
		ew.printf("Size:     %s (%d bytes)\n", formatSize(md.Bytes), md.Bytes)
	}

	ew.printf("Modified: %s\n", formatModified(md.Modified))

	if md.Rev != "" {
		ew.printf("Rev:      %s\n", md.Rev)
	}

	if md.MimeType != "" {
		ew.printf("MIME:     %s\n", md.MimeType)
	}

	if md.IsDeleted {
		ew.printf("Deleted:  yes\n")
	}

	return ew.err
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	s, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}

	rev, _ := cmd.Flags().GetString("rev")

	name := path.Base(dropbox.FormatPath(remotePath, false))
	if name == "/" || name == "." {
		return fmt.Errorf("get: %q is not a file path", remotePath)
	}

	localPath := name
	if len(args) > 1 {
		localPath = args[1]
	}

	if fi, statErr := os.Stat(localPath); statErr == nil && fi.IsDir() {
		localPath = filepath.Join(localPath, name)
	}

	body, md, err := s.Client.GetFileAndMetadata(ctx, remotePath, rev)
	if err != nil {
		return fmt.Errorf("downloading %q: %w", remotePath, err)
	}
	defer body.Close()

	n, err := writePartial(localPath, body)
	if err != nil {
		return err
	}

	if md != nil && n != md.Bytes {
		os.Remove(localPath + partialSuffix)
		return fmt.Errorf("downloading %q: got %d bytes, expected %d", remotePath, n, md.Bytes)
	}

	if err := os.Rename(localPath+partialSuffix, localPath); err != nil {
		return fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	if md != nil && md.ClientMtime != nil {
		if err := os.Chtimes(localPath, *md.ClientMtime, *md.ClientMtime); err != nil {
			cc.Logger.Debug("setting mtime failed", slog.String("error", err.Error()))
		}
	}

	cc.Logger.Debug("download complete", slog.String("local_path", localPath), slog.Int64("bytes", n))
	cc.Statusf("Downloaded %s (%s)\n", localPath, formatSize(n))

	return nil
}

const partialSuffix = ".partial"

// writePartial copies r into localPath.partial. The partial file is removed
// on failure.
func writePartial(localPath string, r io.Reader) (int64, error) {
	partial := localPath + partialSuffix

	f, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", partial, err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(partial)
		return n, fmt.Errorf("writing %s: %w", partial, err)
	}

	return n, nil
}

func runRm(cmd *cobra.Command, args []string) error {
	return runFileop(cmd, "rm", args, func(s *Session) (*model.Metadata, error) {
		return s.Client.Delete(cmd.Context(), args[0])
	}, "Deleted %s\n")
}

func runMkdir(cmd *cobra.Command, args []string) error {
	return runFileop(cmd, "mkdir", args, func(s *Session) (*model.Metadata, error) {
		return s.Client.CreateFolder(cmd.Context(), args[0])
	}, "Created %s\n")
}

func runMv(cmd *cobra.Command, args []string) error {
	return runFileop(cmd, "mv", args, func(s *Session) (*model.Metadata, error) {
		return s.Client.Move(cmd.Context(), args[0], args[1])
	}, "Moved to %s\n")
}

func runCp(cmd *cobra.Command, args []string) error {
	byRef, _ := cmd.Flags().GetBool("ref")

	return runFileop(cmd, "cp", args, func(s *Session) (*model.Metadata, error) {
		if byRef {
			return s.Client.AddCopyRef(cmd.Context(), args[1], args[0])
		}

		return s.Client.Copy(cmd.Context(), args[0], args[1])
	}, "Copied to %s\n")
}

func runRestore(cmd *cobra.Command, args []string) error {
	return runFileop(cmd, "restore", args, func(s *Session) (*model.Metadata, error) {
		return s.Client.Restore(cmd.Context(), args[0], args[1])
	}, "Restored %s\n")
}

// runFileop runs a call that returns the affected entry and reports it.
// done is a status format taking the entry's path.
func runFileop(
	cmd *cobra.Command, name string, args []string,
	call func(*Session) (*model.Metadata, error), done string,
) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	cc.Logger.Debug(name, slog.Any("args", args))

	md, err := call(s)
	if err != nil {
		if errors.Is(err, dropbox.ErrNotFound) {
			return fmt.Errorf("%s: %q not found: %w", name, args[0], err)
		}

		return fmt.Errorf("%s: %w", name, err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, md)
	}

	cc.Statusf(done, md.Path)

	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	under := "/"
	if len(args) > 1 {
		under = args[1]
	}

	deleted, _ := cmd.Flags().GetBool("deleted")
	limit, _ := cmd.Flags().GetInt("limit")

	results, err := s.Client.Search(cmd.Context(), under, args[0], limit, deleted)
	if err != nil {
		return fmt.Errorf("searching %q: %w", under, err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, nonNil(results))
	}

	rows := make([][]string, 0, len(results))
	for i := range results {
		row := metadataRow(results[i])
		row[0] = results[i].Path

		rows = append(rows, row)
	}

	printTable(cc.Stdout, []string{"PATH", "SIZE", "MODIFIED", "REV"}, rows)

	return nil
}

func runRevisions(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")

	revs, err := s.Client.Revisions(cmd.Context(), args[0], limit)
	if err != nil {
		return fmt.Errorf("listing revisions of %q: %w", args[0], err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, nonNil(revs))
	}

	rows := make([][]string, 0, len(revs))
	for i := range revs {
		r := revs[i]

		state := ""
		if r.IsDeleted {
			state = "deleted"
		}

		rows = append(rows, []string{r.Rev, formatSize(r.Bytes), formatModified(r.Modified), state})
	}

	printTable(cc.Stdout, []string{"REV", "SIZE", "MODIFIED", "STATE"}, rows)

	return nil
}
