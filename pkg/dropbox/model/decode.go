// Package model holds the JSON payloads of the Dropbox v1 API and their
// decoders. Every type has exactly one Decode function, and every field is
// read with one of three presence rules:
//
//   - required: the key must be present and non-null.
//   - nullable: absent and null both decode to the zero value.
//   - optional: absent decodes to the zero value; an explicit null is an error.
//
// Tagged unions (MediaInfo, FileOrFolderInfo, WriteConflictPolicy) are encoded
// on the wire either as a bare tag string or as a single-key object whose key
// is the tag and whose value is the variant payload.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Decoding errors. Use errors.Is on the *FieldError returned by decoders.
var (
	ErrNotObject    = errors.New("model: value is not a JSON object")
	ErrMissingField = errors.New("model: required field is missing")
	ErrNullField    = errors.New("model: field must not be null")
	ErrEmptyField   = errors.New("model: field must not be empty")
	ErrUnknownTag   = errors.New("model: unknown union tag")
	ErrMissingValue = errors.New("model: union tag requires a value")
	ErrBadUnion     = errors.New("model: union must be a string or a single-key object")
)

// FieldError locates a decoding failure inside a payload.
type FieldError struct {
	Type  string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("model: decoding %s: %v", e.Type, e.Err)
	}

	return fmt.Sprintf("model: decoding %s.%s: %v", e.Type, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Timestamp layouts used by the v1 API ("Sat, 21 Aug 2010 22:31:20 +0000").
// The zone-less form is accepted for payloads written by older servers.
// RFC 3339 is what encoding/json writes for time.Time, so values re-encoded
// by MarshalJSON decode again.
const (
	TimestampLayout       = "Mon, 02 Jan 2006 15:04:05 -0700"
	timestampLayoutNoZone = "Mon, 02 Jan 2006 15:04:05"
)

// ParseTimestamp parses a v1 API timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}

	t, err2 := time.Parse(timestampLayoutNoZone, s)
	if err2 == nil {
		return t.UTC(), nil
	}

	t, err3 := time.Parse(time.RFC3339Nano, s)
	if err3 == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
}

// decodeFunc turns one raw JSON value into T.
type decodeFunc[T any] func(json.RawMessage) (T, error)

func jsonValue[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)

	return v, err
}

// Scalar decoders shared by the payload decoders.
var (
	str     = jsonValue[string]
	boolean = jsonValue[bool]
	integer = jsonValue[int64]
	number  = jsonValue[float64]
	floats  = jsonValue[[]float64]
)

func timestamp(raw json.RawMessage) (time.Time, error) {
	s, err := str(raw)
	if err != nil {
		return time.Time{}, err
	}

	return ParseTimestamp(s)
}

// listOf lifts an element decoder to a JSON array decoder.
func listOf[T any](dec decodeFunc[T]) decodeFunc[[]T] {
	return func(raw json.RawMessage) ([]T, error) {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}

		out := make([]T, 0, len(elems))

		for i, e := range elems {
			v, err := dec(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}

			out = append(out, v)
		}

		return out, nil
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// reader walks the fields of one JSON object and keeps the first error.
type reader struct {
	typ    string
	fields map[string]json.RawMessage
	err    error
}

func newReader(typ string, raw json.RawMessage) (*reader, error) {
	if len(bytes.TrimSpace(raw)) == 0 || isNull(raw) {
		return nil, &FieldError{Type: typ, Err: ErrNotObject}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &FieldError{Type: typ, Err: fmt.Errorf("%w: %w", ErrNotObject, err)}
	}

	return &reader{typ: typ, fields: fields}, nil
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = &FieldError{Type: r.typ, Field: key, Err: err}
	}
}


func required[T any](r *reader, key string, dec decodeFunc[T]) T {
	var zero T
	if r.err != nil {
		return zero
	}

	raw, ok := r.fields[key]
	if !ok {
		r.fail(key, ErrMissingField)
		return zero
	}

	if isNull(raw) {
		r.fail(key, ErrNullField)
		return zero
	}

	v, err := dec(raw)
	if err != nil {
		r.fail(key, err)
		return zero
	}

	return v
}

func nullable[T any](r *reader, key string, dec decodeFunc[T]) *T {
	if r.err != nil {
		return nil
	}

	raw, ok := r.fields[key]
	if !ok || isNull(raw) {
		return nil
	}

	v, err := dec(raw)
	if err != nil {
		r.fail(key, err)
		return nil
	}

	return &v
}

func optional[T any](r *reader, key string, dec decodeFunc[T]) *T {
	if r.err != nil {
		return nil
	}

	raw, ok := r.fields[key]
	if !ok {
		return nil
	}

	if isNull(raw) {
		r.fail(key, ErrNullField)
		return nil
	}

	v, err := dec(raw)
	if err != nil {
		r.fail(key, err)
		return nil
	}

	return &v
}

func orZero[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}

	return *p
}

// unionTag splits a tagged-union value into its tag and optional payload.
func unionTag(typ string, raw json.RawMessage) (string, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return "", nil, &FieldError{Type: typ, Err: err}
		}

		return tag, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil || len(obj) != 1 {
		return "", nil, &FieldError{Type: typ, Err: ErrBadUnion}
	}

	for tag, val := range obj {
		if isNull(val) {
			return tag, nil, nil
		}

		return tag, val, nil
	}

	return "", nil, &FieldError{Type: typ, Err: ErrBadUnion}
}

// marshalUnion is the inverse of unionTag.
func marshalUnion(tag string, val any) ([]byte, error) {
	if val == nil {
		return json.Marshal(tag)
	}

	return json.Marshal(map[string]any{tag: val})
}
