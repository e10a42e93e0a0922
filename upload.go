package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/dropbox-go/internal/retrypolicy"
	"github.com/tonimelisma/dropbox-go/internal/uploadstore"
	"github.com/tonimelisma/dropbox-go/pkg/contenthash"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path>... [remote-path]",
		Short: "Upload files",
		Long: `Upload one or more files. Files larger than one chunk go through a
resumable chunked upload; if the transfer is interrupted, re-running the
same command continues from the last acknowledged byte.

With a single file the remote path names the destination file, unless it
ends in "/". With several files the last argument is the remote folder.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPut,
	}

	cmd.Flags().String("conflict", string(model.ConflictRename), "on an existing file: reject, overwrite or rename")
	cmd.Flags().String("parent-rev", "", "only replace the file if it is still at this revision")
	cmd.Flags().Bool("chunked", false, "use a chunked upload even for small files")
	cmd.Flags().Bool("no-resume", false, "discard saved progress and start over")

	return cmd
}

// uploadJob is one local file and its destination.
type uploadJob struct {
	local  string
	remote string
}

// uploadOptions control uploadFile.
type uploadOptions struct {
	policy    model.WriteConflictPolicy
	chunkSize int
	chunked   bool
	noResume  bool
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	opts, err := putOptions(cmd, cc)
	if err != nil {
		return err
	}

	jobs, err := planUploads(args)
	if err != nil {
		return err
	}

	s, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}

	store := uploadstore.New(cc.Cfg.UploadsDir(), cc.Logger)

	results, err := uploadAll(ctx, cc, s.Client, store, jobs, opts)

	if cc.Flags.JSON {
		if jsonErr := printJSON(cc.Stdout, results); jsonErr != nil && err == nil {
			err = jsonErr
		}
	}

	return err
}

// putOptions reads the conflict flags into a write policy.
func putOptions(cmd *cobra.Command, cc *CLIContext) (uploadOptions, error) {
	conflict, _ := cmd.Flags().GetString("conflict")
	parentRev, _ := cmd.Flags().GetString("parent-rev")
	chunked, _ := cmd.Flags().GetBool("chunked")
	noResume, _ := cmd.Flags().GetBool("no-resume")

	opts := uploadOptions{
		chunkSize: int(cc.Cfg.ChunkSize),
		chunked:   chunked,
		noResume:  noResume,
	}

	if parentRev != "" {
		opts.policy = model.UpdateIfMatchingParentRev(model.UpdateParentRev{
			ParentRev:  parentRev,
			AutoRename: conflict == string(model.ConflictRename),
		})

		return opts, nil
	}

	policy, ok := model.ParseWriteConflictTag(conflict)
	if !ok {
		return opts, fmt.Errorf("invalid --conflict %q: want reject, overwrite or rename", conflict)
	}

	opts.policy = policy

	return opts, nil
}

// planUploads maps arguments to jobs. A lone argument uploads to the root;
// the last of several arguments is the destination.
func planUploads(args []string) ([]uploadJob, error) {
	locals := args
	dest := "/"

	if len(args) > 1 {
		locals = args[:len(args)-1]
		dest = args[len(args)-1]
	}

	asFolder := len(locals) > 1 || len(args) == 1 || strings.HasSuffix(dest, "/")

	jobs := make([]uploadJob, 0, len(locals))
	seen := make(map[string]string, len(locals))

	for _, local := range locals {
		remote := dest
		if asFolder {
			remote = path.Join("/", dest, filepath.Base(local))
		}

		key := strings.ToLower(dropbox.FormatPath(remote, false))
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%q and %q would both upload to %s", prev, local, remote)
		}

		seen[key] = local

		jobs = append(jobs, uploadJob{local: local, remote: remote})
	}

	return jobs, nil
}

// putResult is the JSON schema for one uploaded file.
type putResult struct {
	Local  string `json:"local"`
	Remote string `json:"remote,omitempty"`
	Rev    string `json:"rev,omitempty"`
	Bytes  int64  `json:"bytes"`
	Error  string `json:"error,omitempty"`
}

// uploadAll runs up to ParallelUploads uploads at once. A failed file does
// not stop the others; every failure is returned.
func uploadAll(
	ctx context.Context, cc *CLIContext, client *dropbox.Client, store *uploadstore.Store,
	jobs []uploadJob, opts uploadOptions,
) ([]putResult, error) {
	results := make([]putResult, len(jobs))

	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(max(1, cc.Cfg.ParallelUploads))

	for i, job := range jobs {
		g.Go(func() error {
			res := putResult{Local: job.local}

			md, err := uploadFile(ctx, cc, client, store, job, opts)
			if err != nil {
				res.Error = err.Error()

				mu.Lock()
				errs = append(errs, fmt.Errorf("uploading %s: %w", job.local, err))
				mu.Unlock()
			} else {
				res.Remote, res.Rev, res.Bytes = md.Path, md.Rev, md.Bytes
				cc.Statusf("Uploaded %s (%s)\n", md.Path, formatSize(md.Bytes))
			}

			results[i] = res

			return nil
		})
	}

	_ = g.Wait()

	return results, errors.Join(errs...)
}

// retryPolicy retries a single upload step or delta page up to
// max_step_retries times.
func (cc *CLIContext) retryPolicy() retrypolicy.Policy {
	return retrypolicy.Policy{
		MaxRetries: cc.Cfg.MaxStepRetries,
		Base:       cc.retryBase,
		Max:        cc.retryBase,
		Logger:     cc.Logger,
	}
}

// uploadFile uploads one local file. Files that fit in a chunk use a single
// request; larger ones go through a chunked session saved to store after
// every acknowledged chunk.
func uploadFile(
	ctx context.Context, cc *CLIContext, client *dropbox.Client, store *uploadstore.Store,
	job uploadJob, opts uploadOptions,
) (*model.Metadata, error) {
	f, err := os.Open(job.local)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return nil, fmt.Errorf("%q is a directory", job.local)
	}

	cc.Logger.Debug("put",
		slog.String("local_path", job.local),
		slog.String("remote_path", job.remote),
		slog.Int64("size", fi.Size()),
	)

	policy := cc.retryPolicy()

	if fi.Size() <= int64(opts.chunkSize) && !opts.chunked {
		var md *model.Metadata

		err := policy.Do(ctx, "files_put", func(ctx context.Context) error {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}

			var putErr error
			md, putErr = client.PutFile(ctx, job.remote, f, fi.Size(), opts.policy)

			return putErr
		})

		return md, err
	}

	return chunkedUpload(ctx, cc, client, store, f, fi, job, opts)
}

// chunkedUpload runs or resumes a chunked session for f.
func chunkedUpload(
	ctx context.Context, cc *CLIContext, client *dropbox.Client, store *uploadstore.Store,
	f *os.File, fi os.FileInfo, job uploadJob, opts uploadOptions,
) (*model.Metadata, error) {
	localPath, err := filepath.Abs(job.local)
	if err != nil {
		return nil, err
	}

	hash, err := contenthash.Reader(f)
	if err != nil {
		return nil, fmt.Errorf("hashing local file: %w", err)
	}

	rec := &uploadstore.Record{
		LocalPath:   localPath,
		RemotePath:  job.remote,
		TotalSize:   fi.Size(),
		ContentHash: hash,
		ModTime:     fi.ModTime(),
	}

	u, resumed, err := startUploader(cc, client, store, f, rec, opts.noResume)
	if err != nil {
		return nil, err
	}

	md, err := completeUpload(ctx, cc, store, u, rec, job.remote, opts)
	if err == nil || !resumed || !sessionGone(err) {
		return md, err
	}

	// The saved session is unknown to the server; start over once.
	cc.Logger.Info("upload session expired, starting fresh", slog.String("remote_path", job.remote))
	discardRecord(cc, store, rec)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	*rec = uploadstore.Record{
		LocalPath: rec.LocalPath, RemotePath: rec.RemotePath,
		TotalSize: rec.TotalSize, ContentHash: rec.ContentHash, ModTime: rec.ModTime,
	}

	return completeUpload(ctx, cc, store, dropbox.NewChunkedUploader(client, f, fi.Size()), rec, job.remote, opts)
}

// startUploader resumes from a saved record when it still describes this
// file, otherwise discards it and starts a new session. f is positioned for
// the returned uploader.
func startUploader(
	cc *CLIContext, client *dropbox.Client, store *uploadstore.Store,
	f *os.File, rec *uploadstore.Record, noResume bool,
) (*dropbox.ChunkedUploader, bool, error) {
	saved, err := store.Load(rec.LocalPath, rec.RemotePath)
	if err != nil && !errors.Is(err, uploadstore.ErrCorruptRecord) {
		return nil, false, err
	}

	fresh := func() (*dropbox.ChunkedUploader, bool, error) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, false, err
		}

		return dropbox.NewChunkedUploader(client, f, rec.TotalSize), false, nil
	}

	switch {
	case saved == nil:
		return fresh()
	case noResume, !saved.Matches(rec.TotalSize, rec.ContentHash, rec.ModTime), saved.Expired(time.Now()):
		cc.Logger.Info("discarding saved upload", slog.String("remote_path", rec.RemotePath))
		discardRecord(cc, store, saved)

		return fresh()
	}

	if _, err := f.Seek(saved.Offset, io.SeekStart); err != nil {
		return nil, false, err
	}

	u, err := dropbox.ResumeChunkedUploader(client, f, saved.Snapshot())
	if err != nil {
		discardRecord(cc, store, saved)
		return fresh()
	}

	*rec = *saved

	cc.Statusf("Resuming %s at %s of %s\n", rec.RemotePath, formatSize(rec.Offset), formatSize(rec.TotalSize))

	return u, true, nil
}

// completeUpload steps u to completion with retries, saving progress after
// each chunk, then commits. The record is deleted once committed.
func completeUpload(
	ctx context.Context, cc *CLIContext, store *uploadstore.Store,
	u *dropbox.ChunkedUploader, rec *uploadstore.Record, remote string, opts uploadOptions,
) (*model.Metadata, error) {
	policy := cc.retryPolicy()

	for !u.Done() {
		err := policy.Do(ctx, "chunked_upload", func(ctx context.Context) error {
			return u.Step(ctx, opts.chunkSize)
		})
		if err != nil {
			return nil, err
		}

		snap := u.Snapshot()
		rec.UploadID, rec.Offset, rec.Expires = snap.UploadID, snap.Offset, u.Expires()

		if err := store.Save(rec); err != nil {
			cc.Logger.Warn("saving upload progress failed", slog.String("error", err.Error()))
		}

		cc.Logger.Info("upload progress",
			slog.String("remote_path", remote),
			slog.Int64("offset", snap.Offset),
			slog.Int64("total", snap.TotalSize),
		)
	}

	var md *model.Metadata

	err := policy.Do(ctx, "commit_chunked_upload", func(ctx context.Context) error {
		var commitErr error
		md, commitErr = u.Commit(ctx, remote, opts.policy)

		return commitErr
	})
	if err != nil {
		return nil, err
	}

	discardRecord(cc, store, rec)

	return md, nil
}

// sessionGone reports whether err means the server no longer knows the
// upload id.
func sessionGone(err error) bool {
	return errors.Is(err, dropbox.ErrNotFound) || errors.Is(err, dropbox.ErrBadRequest)
}

func discardRecord(cc *CLIContext, store *uploadstore.Store, rec *uploadstore.Record) {
	if err := store.Delete(rec.LocalPath, rec.RemotePath); err != nil {
		cc.Logger.Warn("deleting upload record failed", slog.String("error", err.Error()))
	}
}

func newUploadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Manage interrupted uploads",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List uploads that can be resumed",
		Args:  cobra.NoArgs,
		RunE:  runUploadsList,
	}, &cobra.Command{
		Use:   "clean",
		Short: "Forget uploads untouched for two days or past their expiry",
		Args:  cobra.NoArgs,
		RunE:  runUploadsClean,
	})

	return cmd
}

func runUploadsList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	recs, err := uploadstore.New(cc.Cfg.UploadsDir(), cc.Logger).List()
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if recs == nil {
			recs = []*uploadstore.Record{}
		}

		return printJSON(cc.Stdout, recs)
	}

	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.LocalPath,
			r.RemotePath,
			fmt.Sprintf("%s / %s", formatSize(r.Offset), formatSize(r.TotalSize)),
			formatTime(r.UpdatedAt.Local(), time.Now()),
		})
	}

	printTable(cc.Stdout, []string{"LOCAL", "REMOTE", "PROGRESS", "UPDATED"}, rows)

	return nil
}

func runUploadsClean(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	n, err := uploadstore.New(cc.Cfg.UploadsDir(), cc.Logger).CleanStale(uploadstore.StaleAge)
	if err != nil {
		return err
	}

	cc.Statusf("Removed %d stale upload record(s)\n", n)

	return nil
}
