package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

// DefaultChunkSize is the chunk size used when callers have no preference.
const DefaultChunkSize = 4 * 1024 * 1024

// Chunked upload errors.
var (
	ErrSourceTruncated  = errors.New("dropbox: upload source ended before total size")
	ErrUploadCommitted  = errors.New("dropbox: upload already committed")
	ErrUploadIncomplete = errors.New("dropbox: upload incomplete")
	ErrInvalidChunkSize = errors.New("dropbox: chunk size must be positive")
	ErrInvalidSnapshot  = errors.New("dropbox: invalid upload snapshot")
)

// UploadState is the lifecycle position of a ChunkedUploader.
type UploadState int

const (
	UploadEmpty UploadState = iota
	UploadInProgress
	UploadComplete
	UploadCommitted
)

func (s UploadState) String() string {
	switch s {
	case UploadEmpty:
		return "empty"
	case UploadInProgress:
		return "in_progress"
	case UploadComplete:
		return "complete"
	case UploadCommitted:
		return "committed"
	default:
		return fmt.Sprintf("UploadState(%d)", int(s))
	}
}

// UploadSnapshot is the persistable part of an upload session.
type UploadSnapshot struct {
	UploadID  string
	Offset    int64
	TotalSize int64
}

// ChunkedUploader sends a stream of known size to /chunked_upload in
// pieces and commits it to a path. Each Step sends at most one request and
// never retries; on any error the uploader is left in a state from which the
// next Step resends exactly the bytes the server has not acknowledged.
//
// Bytes in [offset, readPos) have been read from the source but not yet
// acknowledged and are kept in pending. offset never decreases.
//
// A ChunkedUploader is not safe for concurrent use.
type ChunkedUploader struct {
	client    *Client
	src       io.Reader
	totalSize int64

	uploadID  string
	offset    int64
	readPos   int64
	pending   []byte
	expires   time.Time
	committed bool
}

// NewChunkedUploader prepares an upload of totalSize bytes read from src.
func NewChunkedUploader(c *Client, src io.Reader, totalSize int64) *ChunkedUploader {
	return &ChunkedUploader{client: c, src: src, totalSize: totalSize}
}

// ResumeChunkedUploader continues the session in snap. src must be
// positioned at snap.Offset.
func ResumeChunkedUploader(c *Client, src io.Reader, snap UploadSnapshot) (*ChunkedUploader, error) {
	switch {
	case snap.TotalSize < 0, snap.Offset < 0, snap.Offset > snap.TotalSize:
		return nil, fmt.Errorf("%w: offset %d, total %d", ErrInvalidSnapshot, snap.Offset, snap.TotalSize)
	case snap.UploadID == "" && snap.Offset > 0:
		return nil, fmt.Errorf("%w: offset %d without upload id", ErrInvalidSnapshot, snap.Offset)
	}

	return &ChunkedUploader{
		client:    c,
		src:       src,
		totalSize: snap.TotalSize,
		uploadID:  snap.UploadID,
		offset:    snap.Offset,
		readPos:   snap.Offset,
	}, nil
}

// UploadID is the server session id, empty until the first successful step.
func (u *ChunkedUploader) UploadID() string { return u.uploadID }

// Offset is the number of bytes the server has acknowledged.
func (u *ChunkedUploader) Offset() int64 { return u.offset }

// TotalSize is the size of the source.
func (u *ChunkedUploader) TotalSize() int64 { return u.totalSize }

// Expires is the session expiry last reported by the server.
func (u *ChunkedUploader) Expires() time.Time { return u.expires }

// Done reports whether the server holds every byte and a session exists.
func (u *ChunkedUploader) Done() bool {
	return u.uploadID != "" && u.offset == u.totalSize
}

// State reports the lifecycle position.
func (u *ChunkedUploader) State() UploadState {
	switch {
	case u.committed:
		return UploadCommitted
	case u.Done():
		return UploadComplete
	case u.uploadID == "":
		return UploadEmpty
	default:
		return UploadInProgress
	}
}

// Snapshot returns the state needed to resume with ResumeChunkedUploader.
func (u *ChunkedUploader) Snapshot() UploadSnapshot {
	return UploadSnapshot{UploadID: u.uploadID, Offset: u.offset, TotalSize: u.totalSize}
}

// Step sends the next chunk. Unacknowledged bytes from an earlier step are
// resent as-is; otherwise up to chunkSize new bytes are read from the
// source. The first step always contacts the server, even for an empty
// source, so that a session id exists for Commit.
//
// A non-2xx response whose JSON body carries an offset is a partial
// acceptance: the offset is adopted and Step returns nil. 5xx responses and
// error bodies without an offset are returned as *APIError; transport
// failures as *TransportError. Step on a Done uploader does nothing.
func (u *ChunkedUploader) Step(ctx context.Context, chunkSize int) error {
	if u.committed {
		return ErrUploadCommitted
	}

	if chunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}

	if u.Done() {
		return nil
	}

	if len(u.pending) == 0 && u.readPos < u.totalSize {
		if err := u.fill(chunkSize); err != nil {
			return err
		}
	}

	params := url.Values{"offset": {strconv.FormatInt(u.offset, 10)}}
	if u.uploadID != "" {
		params.Set("upload_id", u.uploadID)
	}

	headers := http.Header{"Content-Type": {"application/octet-stream"}}

	u.client.logger.Debug("uploading chunk",
		slog.Int64("offset", u.offset),
		slog.Int("length", len(u.pending)),
		slog.Int64("total", u.totalSize),
	)

	resp, err := u.client.Do(ctx, http.MethodPut, RoleContent, "/chunked_upload", params, headers, bytes.NewReader(u.pending))
	if err != nil {
		return u.handleFailure(err)
	}

	res, err := decodeResponse(resp, model.DecodeChunkResult)
	if err != nil {
		return err
	}

	return u.apply(res.UploadID, res.Offset, res.Expires, resp.StatusCode)
}

// fill reads the next chunk into pending.
func (u *ChunkedUploader) fill(chunkSize int) error {
	n := min(int64(chunkSize), u.totalSize-u.readPos)
	buf := make([]byte, n)

	got, err := io.ReadFull(u.src, buf)
	u.pending = buf[:got]
	u.readPos += int64(got)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: read %d of %d bytes", ErrSourceTruncated, u.readPos, u.totalSize)
	default:
		return fmt.Errorf("dropbox: reading upload source: %w", err)
	}
}

// handleFailure classifies a failed chunk request. Only an error body with
// an offset is absorbed.
func (u *ChunkedUploader) handleFailure(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.IsServerError() {
		return err
	}

	var body struct {
		UploadID string `json:"upload_id"`
	}

	if !json.Valid(apiErr.Body) {
		return &MalformedResponseError{
			StatusCode: apiErr.StatusCode,
			Body:       string(apiErr.Body),
			Err:        errors.New("error response is not JSON"),
		}
	}

	if err := json.Unmarshal(apiErr.Body, &body); err != nil {
		return &MalformedResponseError{StatusCode: apiErr.StatusCode, Body: string(apiErr.Body), Err: err}
	}

	if apiErr.Offset == nil {
		return apiErr
	}

	u.client.logger.Warn("chunk partially accepted",
		slog.Int("status", apiErr.StatusCode),
		slog.Int64("local_offset", u.offset),
		slog.Int64("server_offset", *apiErr.Offset),
	)

	return u.apply(body.UploadID, *apiErr.Offset, time.Time{}, apiErr.StatusCode)
}

// apply adopts a server-reported session id and offset.
func (u *ChunkedUploader) apply(uploadID string, offset int64, expires time.Time, status int) error {
	if offset < 0 || offset > u.totalSize {
		return &MalformedResponseError{
			StatusCode: status,
			Body:       strconv.FormatInt(offset, 10),
			Err:        fmt.Errorf("reported offset %d outside [0, %d]", offset, u.totalSize),
		}
	}

	if uploadID != "" {
		u.uploadID = uploadID
	}

	if u.uploadID == "" {
		return &MalformedResponseError{
			StatusCode: status,
			Body:       strconv.FormatInt(offset, 10),
			Err:        errors.New("no upload_id for the session"),
		}
	}

	if !expires.IsZero() {
		u.expires = expires
	}

	if offset <= u.offset {
		return nil
	}

	if offset <= u.readPos {
		u.pending = u.pending[offset-u.offset:]
		u.offset = offset

		return nil
	}

	// The server holds bytes we have not read yet; skip them in the source.
	skip := offset - u.readPos
	u.pending = nil

	copied, err := io.CopyN(io.Discard, u.src, skip)
	u.readPos += copied
	u.offset = u.readPos

	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: skipping to offset %d", ErrSourceTruncated, offset)
		}

		return fmt.Errorf("dropbox: skipping acknowledged bytes: %w", err)
	}

	return nil
}

// Upload runs Step until the upload is Done, stopping at the first error.
// The uploader can be resumed by calling Upload or Step again.
func (u *ChunkedUploader) Upload(ctx context.Context, chunkSize int) error {
	for !u.Done() {
		if err := u.Step(ctx, chunkSize); err != nil {
			return err
		}
	}

	return nil
}

// Commit finalizes the session at path. It refuses to send anything until
// the upload is Done. On failure the uploader stays Complete so Commit may
// be retried.
func (u *ChunkedUploader) Commit(ctx context.Context, path string, policy model.WriteConflictPolicy) (*model.Metadata, error) {
	if u.committed {
		return nil, ErrUploadCommitted
	}

	if !u.Done() {
		return nil, fmt.Errorf("%w: %d of %d bytes acknowledged", ErrUploadIncomplete, u.offset, u.totalSize)
	}

	params := policy.Values()
	params.Set("upload_id", u.uploadID)

	md, err := callJSON(ctx, u.client, http.MethodPost, RoleContent,
		u.client.rootPath("commit_chunked_upload", path), params, model.DecodeMetadata)
	if err != nil {
		return nil, err
	}

	u.committed = true

	u.client.logger.Info("upload committed",
		slog.String("path", md.Path),
		slog.String("rev", md.Rev),
		slog.Int64("bytes", md.Bytes),
	)

	return &md, nil
}
