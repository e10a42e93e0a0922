package model

import (
	"encoding/json"
	"time"
)

// ChunkResult is the server's acknowledgement of a /chunked_upload request:
// the session id and the number of bytes it now holds. Expires is zero when
// the server omits it.
type ChunkResult struct {
	UploadID string    `json:"upload_id"`
	Offset   int64     `json:"offset"`
	Expires  time.Time `json:"expires"`
}

// DecodeChunkResult decodes a ChunkResult. upload_id and offset are
// required and upload_id must be non-empty; expires is nullable.
func DecodeChunkResult(raw json.RawMessage) (ChunkResult, error) {
	r, err := newReader("ChunkResult", raw)
	if err != nil {
		return ChunkResult{}, err
	}

	c := ChunkResult{
		UploadID: required(r, "upload_id", str),
		Offset:   required(r, "offset", integer),
		Expires:  orZero(nullable(r, "expires", timestamp)),
	}

	if r.err == nil && c.UploadID == "" {
		r.fail("upload_id", ErrEmptyField)
	}

	return c, r.err
}
