package model

import (
	"bytes"
	"encoding/json"
	"path"
	"time"
)

// Metadata is the v1 description of a file or folder, as returned by
// /metadata, /delta, /files_put, /commit_chunked_upload and the fileops calls.
type Metadata struct {
	Size        string     `json:"size"`
	Bytes       int64      `json:"bytes"`
	Path        string     `json:"path"`
	IsDir       bool       `json:"is_dir"`
	Rev         string     `json:"rev,omitempty"`
	ThumbExists bool       `json:"thumb_exists,omitempty"`
	Modified    *time.Time `json:"modified,omitempty"`
	ClientMtime *time.Time `json:"client_mtime,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Root        string     `json:"root,omitempty"`
	MimeType    string     `json:"mime_type,omitempty"`
	IsDeleted   bool       `json:"is_deleted,omitempty"`
	Hash        string     `json:"hash,omitempty"`
	Contents    []Metadata `json:"contents,omitempty"`
	PhotoInfo   *PhotoInfo `json:"photo_info,omitempty"`
	VideoInfo   *VideoInfo `json:"video_info,omitempty"`
}

// DecodeMetadata decodes a v1 metadata object. size, bytes, path and is_dir
// are required; modified is nullable; everything else is optional.
func DecodeMetadata(raw json.RawMessage) (Metadata, error) {
	r, err := newReader("Metadata", raw)
	if err != nil {
		return Metadata{}, err
	}

	m := Metadata{
		Size:        required(r, "size", str),
		Bytes:       required(r, "bytes", integer),
		Path:        required(r, "path", str),
		IsDir:       required(r, "is_dir", boolean),
		Rev:         orZero(optional(r, "rev", str)),
		ThumbExists: orZero(optional(r, "thumb_exists", boolean)),
		Modified:    nullable(r, "modified", timestamp),
		ClientMtime: optional(r, "client_mtime", timestamp),
		Icon:        orZero(optional(r, "icon", str)),
		Root:        orZero(optional(r, "root", str)),
		MimeType:    orZero(optional(r, "mime_type", str)),
		IsDeleted:   orZero(optional(r, "is_deleted", boolean)),
		Hash:        orZero(optional(r, "hash", str)),
		Contents:    orZero(optional(r, "contents", listOf(DecodeMetadata))),
		PhotoInfo:   orZero(optional(r, "photo_info", pendingOr(DecodePhotoInfo))),
		VideoInfo:   orZero(optional(r, "video_info", pendingOr(DecodeVideoInfo))),
	}

	return m, r.err
}

// pendingOr decodes a media payload that the server reports as the string
// "pending" until indexing finishes.
func pendingOr[T any](dec decodeFunc[T]) decodeFunc[*T] {
	return func(raw json.RawMessage) (*T, error) {
		if bytes.Equal(bytes.TrimSpace(raw), []byte(`"pending"`)) {
			return nil, nil
		}

		v, err := dec(raw)
		if err != nil {
			return nil, err
		}

		return &v, nil
	}
}

// Name is the last path element.
func (m Metadata) Name() string {
	return path.Base(m.Path)
}

// Media returns the photo or video information, if the server sent any.
func (m Metadata) Media() *MediaInfo {
	switch {
	case m.PhotoInfo != nil:
		mi := PhotoMediaInfo(*m.PhotoInfo)
		return &mi
	case m.VideoInfo != nil:
		mi := VideoMediaInfo(*m.VideoInfo)
		return &mi
	default:
		return nil
	}
}

// Info converts the v1 metadata into the FileOrFolderInfo union. v1 carries
// no stable id, so ID is left empty and both revisions are the rev.
func (m Metadata) Info() FileOrFolderInfo {
	entry := EntryInfo{
		IDRev:     m.Rev,
		Path:      m.Path,
		PathRev:   m.Rev,
		Modified:  m.Modified,
		IsDeleted: m.IsDeleted,
	}

	if m.IsDir {
		return FolderEntry(FolderInfo{EntryInfo: entry})
	}

	return FileEntry(FileInfo{
		EntryInfo: entry,
		Size:      m.Bytes,
		MimeType:  m.MimeType,
		MediaInfo: m.Media(),
	})
}

// Link is a time-limited URL from /media or /shares.
type Link struct {
	URL     string    `json:"url"`
	Expires time.Time `json:"expires"`
}

// DecodeLink decodes a Link.
func DecodeLink(raw json.RawMessage) (Link, error) {
	r, err := newReader("Link", raw)
	if err != nil {
		return Link{}, err
	}

	l := Link{
		URL:     required(r, "url", str),
		Expires: required(r, "expires", timestamp),
	}

	return l, r.err
}

// CopyRef references a file that can be copied into another account.
type CopyRef struct {
	Ref     string    `json:"copy_ref"`
	Expires time.Time `json:"expires"`
}

// DecodeCopyRef decodes a CopyRef.
func DecodeCopyRef(raw json.RawMessage) (CopyRef, error) {
	r, err := newReader("CopyRef", raw)
	if err != nil {
		return CopyRef{}, err
	}

	c := CopyRef{
		Ref:     required(r, "copy_ref", str),
		Expires: required(r, "expires", timestamp),
	}

	return c, r.err
}

// DecodeMetadataList decodes a JSON array of metadata objects, as returned
// by /search and /revisions.
func DecodeMetadataList(raw json.RawMessage) ([]Metadata, error) {
	if isNull(raw) {
		return nil, &FieldError{Type: "[]Metadata", Err: ErrNullField}
	}

	list, err := listOf(DecodeMetadata)(raw)
	if err != nil {
		return nil, &FieldError{Type: "[]Metadata", Err: err}
	}

	return list, nil
}
