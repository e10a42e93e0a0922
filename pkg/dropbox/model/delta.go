package model

import (
	"encoding/json"
	"fmt"
)

// DeltaEntry is one [path, metadata] pair. Path is lower-cased by the
// server; Metadata keeps the original casing. A nil Metadata means nothing
// exists at Path any more.
type DeltaEntry struct {
	Path     string    `json:"path"`
	Metadata *Metadata `json:"metadata"`
}

// DecodeDeltaEntry decodes the two-element array form of a delta entry.
func DecodeDeltaEntry(raw json.RawMessage) (DeltaEntry, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return DeltaEntry{}, &FieldError{Type: "DeltaEntry", Err: fmt.Errorf("want [path, metadata] pair: %s", raw)}
	}

	if isNull(pair[0]) {
		return DeltaEntry{}, &FieldError{Type: "DeltaEntry", Field: "path", Err: ErrNullField}
	}

	p, err := str(pair[0])
	if err != nil {
		return DeltaEntry{}, &FieldError{Type: "DeltaEntry", Field: "path", Err: err}
	}

	e := DeltaEntry{Path: p}

	if !isNull(pair[1]) {
		md, err := DecodeMetadata(pair[1])
		if err != nil {
			return DeltaEntry{}, err
		}

		e.Metadata = &md
	}

	return e, nil
}

// DeltaPage is one /delta response.
type DeltaPage struct {
	Entries []DeltaEntry `json:"entries"`
	Reset   bool         `json:"reset"`
	Cursor  string       `json:"cursor"`
	HasMore bool         `json:"has_more"`
}

// DecodeDeltaPage decodes a DeltaPage. All four fields are required.
func DecodeDeltaPage(raw json.RawMessage) (DeltaPage, error) {
	r, err := newReader("DeltaPage", raw)
	if err != nil {
		return DeltaPage{}, err
	}

	p := DeltaPage{
		Entries: required(r, "entries", listOf(DecodeDeltaEntry)),
		Reset:   required(r, "reset", boolean),
		Cursor:  required(r, "cursor", str),
		HasMore: required(r, "has_more", boolean),
	}

	return p, r.err
}

// LongPollResponse is the /longpoll_delta body. Backoff is in seconds and
// optional.
type LongPollResponse struct {
	Changes bool   `json:"changes"`
	Backoff *int64 `json:"backoff,omitempty"`
}

// DecodeLongPollResponse decodes a LongPollResponse.
func DecodeLongPollResponse(raw json.RawMessage) (LongPollResponse, error) {
	r, err := newReader("LongPollResponse", raw)
	if err != nil {
		return LongPollResponse{}, err
	}

	l := LongPollResponse{
		Changes: required(r, "changes", boolean),
		Backoff: optional(r, "backoff", integer),
	}

	return l, r.err
}
