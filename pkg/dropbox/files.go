package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

// PutFile uploads r in a single request. Use ChunkedUploader for large or
// resumable transfers.
func (c *Client) PutFile(
	ctx context.Context, path string, r io.Reader, size int64, policy model.WriteConflictPolicy,
) (*model.Metadata, error) {
	c.logger.Info("uploading file",
		slog.String("path", path),
		slog.Int64("size", size),
	)

	headers := http.Header{
		"Content-Type":   {"application/octet-stream"},
		"Content-Length": {strconv.FormatInt(size, 10)},
	}

	var body io.Reader = io.LimitReader(r, size)
	if size == 0 {
		body = http.NoBody
	}

	resp, err := c.Do(ctx, http.MethodPut, RoleContent, c.rootPath("files_put", path), policy.Values(), headers, body)
	if err != nil {
		return nil, err
	}

	md, err := decodeResponse(resp, model.DecodeMetadata)
	if err != nil {
		return nil, err
	}

	return &md, nil
}

// GetFile opens the content of path (at rev, when set). The caller closes
// the returned reader.
func (c *Client) GetFile(ctx context.Context, path, rev string) (io.ReadCloser, error) {
	resp, err := c.getFile(ctx, path, rev)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// GetFileAndMetadata is GetFile plus the metadata sent in the
// x-dropbox-metadata response header.
func (c *Client) GetFileAndMetadata(ctx context.Context, path, rev string) (io.ReadCloser, *model.Metadata, error) {
	resp, err := c.getFile(ctx, path, rev)
	if err != nil {
		return nil, nil, err
	}

	md, err := headerMetadataOf(resp)
	if err != nil {
		drain(resp)
		return nil, nil, err
	}

	return resp.Body, md, nil
}

func (c *Client) getFile(ctx context.Context, path, rev string) (*http.Response, error) {
	params := url.Values{}
	if rev != "" {
		params.Set("rev", rev)
	}

	return c.Do(ctx, http.MethodGet, RoleContent, c.rootPath("files", path), params, nil, nil)
}

func headerMetadataOf(resp *http.Response) (*model.Metadata, error) {
	raw := resp.Header.Get(headerMetadata)
	if raw == "" {
		return nil, &MalformedResponseError{
			StatusCode: resp.StatusCode,
			Err:        errors.New("missing x-dropbox-metadata header"),
		}
	}

	md, err := model.DecodeMetadata(json.RawMessage(raw))
	if err != nil {
		return nil, &MalformedResponseError{StatusCode: resp.StatusCode, Body: raw, Err: err}
	}

	return &md, nil
}

// MetadataOptions tunes a Metadata call. The zero value lists folder
// contents with the server's default limit.
type MetadataOptions struct {
	FileLimit      int
	NoList         bool
	Hash           string
	Rev            string
	IncludeDeleted bool
}

// Metadata describes path. When opts.Hash matches the folder's current
// hash the server answers 304 and the error matches ErrNotModified.
func (c *Client) Metadata(ctx context.Context, path string, opts MetadataOptions) (*model.Metadata, error) {
	params := url.Values{
		"list":            {strconv.FormatBool(!opts.NoList)},
		"include_deleted": {strconv.FormatBool(opts.IncludeDeleted)},
	}

	if opts.FileLimit > 0 {
		params.Set("file_limit", strconv.Itoa(opts.FileLimit))
	}

	if opts.Hash != "" {
		params.Set("hash", opts.Hash)
	}

	if opts.Rev != "" {
		params.Set("rev", opts.Rev)
	}

	md, err := callJSON(ctx, c, http.MethodGet, RoleAPI, c.rootPath("metadata", path), params, model.DecodeMetadata)
	if err != nil {
		return nil, err
	}

	return &md, nil
}

// Search finds entries under path whose names contain query.
func (c *Client) Search(
	ctx context.Context, path, query string, fileLimit int, includeDeleted bool,
) ([]model.Metadata, error) {
	params := url.Values{
		"query":           {query},
		"include_deleted": {strconv.FormatBool(includeDeleted)},
	}

	if fileLimit > 0 {
		params.Set("file_limit", strconv.Itoa(fileLimit))
	}

	return callJSON(ctx, c, http.MethodGet, RoleAPI, c.rootPath("search", path), params, model.DecodeMetadataList)
}

// Revisions lists up to revLimit earlier versions of a file.
func (c *Client) Revisions(ctx context.Context, path string, revLimit int) ([]model.Metadata, error) {
	params := url.Values{}
	if revLimit > 0 {
		params.Set("rev_limit", strconv.Itoa(revLimit))
	}

	return callJSON(ctx, c, http.MethodGet, RoleAPI, c.rootPath("revisions", path), params, model.DecodeMetadataList)
}

// Restore rolls a file back to rev.
func (c *Client) Restore(ctx context.Context, path, rev string) (*model.Metadata, error) {
	params := url.Values{"rev": {rev}}

	md, err := callJSON(ctx, c, http.MethodPost, RoleAPI, c.rootPath("restore", path), params, model.DecodeMetadata)
	if err != nil {
		return nil, err
	}

	return &md, nil
}

// Media returns a short-lived direct link suitable for streaming.
func (c *Client) Media(ctx context.Context, path string) (*model.Link, error) {
	l, err := callJSON(ctx, c, http.MethodGet, RoleAPI, c.rootPath("media", path), nil, model.DecodeLink)
	if err != nil {
		return nil, err
	}

	return &l, nil
}

// Shares returns a shareable link to path's preview page.
func (c *Client) Shares(ctx context.Context, path string, shortURL bool) (*model.Link, error) {
	params := url.Values{"short_url": {strconv.FormatBool(shortURL)}}

	l, err := callJSON(ctx, c, http.MethodGet, RoleAPI, c.rootPath("shares", path), params, model.DecodeLink)
	if err != nil {
		return nil, err
	}

	return &l, nil
}

// Thumbnail opens a thumbnail of an image. size is one of the server's
// named sizes ("small", "medium", "large", "s", "m", "l", "xl").
func (c *Client) Thumbnail(ctx context.Context, path, size string) (io.ReadCloser, error) {
	resp, err := c.thumbnail(ctx, path, size)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// ThumbnailAndMetadata is Thumbnail plus the image's metadata.
func (c *Client) ThumbnailAndMetadata(ctx context.Context, path, size string) (io.ReadCloser, *model.Metadata, error) {
	resp, err := c.thumbnail(ctx, path, size)
	if err != nil {
		return nil, nil, err
	}

	md, err := headerMetadataOf(resp)
	if err != nil {
		drain(resp)
		return nil, nil, err
	}

	return resp.Body, md, nil
}

func (c *Client) thumbnail(ctx context.Context, path, size string) (*http.Response, error) {
	if size == "" {
		size = "large"
	}

	params := url.Values{"size": {size}}

	return c.Do(ctx, http.MethodGet, RoleContent, c.rootPath("thumbnails", path), params, nil, nil)
}

// CreateCopyRef returns a reference that AddCopyRef can use, from this or
// another account, to copy the file without transferring it.
func (c *Client) CreateCopyRef(ctx context.Context, path string) (*model.CopyRef, error) {
	ref, err := callJSON(ctx, c, http.MethodGet, RoleAPI, c.rootPath("copy_ref", path), nil, model.DecodeCopyRef)
	if err != nil {
		return nil, err
	}

	return &ref, nil
}

// AddCopyRef copies the file behind ref to toPath.
func (c *Client) AddCopyRef(ctx context.Context, toPath, ref string) (*model.Metadata, error) {
	return c.fileop(ctx, "copy", url.Values{
		"from_copy_ref": {ref},
		"to_path":       {FormatPath(toPath, false)},
	})
}

// Copy copies a file or folder. A conflicting destination is renamed.
func (c *Client) Copy(ctx context.Context, fromPath, toPath string) (*model.Metadata, error) {
	return c.fileop(ctx, "copy", url.Values{
		"from_path": {FormatPath(fromPath, false)},
		"to_path":   {FormatPath(toPath, false)},
	})
}

// Move moves a file or folder.
func (c *Client) Move(ctx context.Context, fromPath, toPath string) (*model.Metadata, error) {
	return c.fileop(ctx, "move", url.Values{
		"from_path": {FormatPath(fromPath, false)},
		"to_path":   {FormatPath(toPath, false)},
	})
}

// Delete removes a file or folder and returns its final metadata.
func (c *Client) Delete(ctx context.Context, path string) (*model.Metadata, error) {
	return c.fileop(ctx, "delete", url.Values{"path": {FormatPath(path, false)}})
}

// CreateFolder creates a folder.
func (c *Client) CreateFolder(ctx context.Context, path string) (*model.Metadata, error) {
	return c.fileop(ctx, "create_folder", url.Values{"path": {FormatPath(path, false)}})
}

func (c *Client) fileop(ctx context.Context, op string, params url.Values) (*model.Metadata, error) {
	params.Set("root", c.cfg.Root.urlComponent())

	c.logger.Info("file operation",
		slog.String("op", op),
		slog.String("path", params.Get("path")+params.Get("to_path")),
	)

	md, err := callJSON(ctx, c, http.MethodPost, RoleAPI, "/fileops/"+op, params, model.DecodeMetadata)
	if err != nil {
		return nil, err
	}

	return &md, nil
}
