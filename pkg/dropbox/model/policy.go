package model

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// UpdateParentRev overwrites the existing file only if its revision is
// ParentRev. AutoRename keeps the new file under a suffixed name on conflict.
type UpdateParentRev struct {
	ParentRev  string `json:"parent_rev"`
	AutoRename bool   `json:"auto_rename"`
}

// DecodeUpdateParentRev decodes an UpdateParentRev. Both fields are required.
func DecodeUpdateParentRev(raw json.RawMessage) (UpdateParentRev, error) {
	r, err := newReader("UpdateParentRev", raw)
	if err != nil {
		return UpdateParentRev{}, err
	}

	u := UpdateParentRev{
		ParentRev:  required(r, "parent_rev", str),
		AutoRename: required(r, "auto_rename", boolean),
	}

	return u, r.err
}

// WriteConflictTag names a WriteConflictPolicy variant.
type WriteConflictTag string

const (
	ConflictReject    WriteConflictTag = "reject"
	ConflictOverwrite WriteConflictTag = "overwrite"
	ConflictRename    WriteConflictTag = "rename"
	ConflictParentRev WriteConflictTag = "update_if_matching_parent_rev"
)

// WriteConflictPolicy decides what happens when a write targets an
// existing path. The zero value behaves like Rename.
type WriteConflictPolicy struct {
	Tag       WriteConflictTag
	parentRev *UpdateParentRev
}

// Reject fails the write on conflict.
func Reject() WriteConflictPolicy { return WriteConflictPolicy{Tag: ConflictReject} }

// Overwrite replaces the existing file.
func Overwrite() WriteConflictPolicy { return WriteConflictPolicy{Tag: ConflictOverwrite} }

// Rename stores the new file under a numerically suffixed name.
func Rename() WriteConflictPolicy { return WriteConflictPolicy{Tag: ConflictRename} }

// UpdateIfMatchingParentRev overwrites only when the current revision is u.ParentRev.
func UpdateIfMatchingParentRev(u UpdateParentRev) WriteConflictPolicy {
	return WriteConflictPolicy{Tag: ConflictParentRev, parentRev: &u}
}

// ParentRev returns the payload of the update_if_matching_parent_rev variant.
func (p WriteConflictPolicy) ParentRev() (UpdateParentRev, bool) {
	if p.parentRev == nil {
		return UpdateParentRev{}, false
	}

	return *p.parentRev, true
}

// Values renders the policy as v1 write parameters (overwrite, autorename,
// parent_rev).
func (p WriteConflictPolicy) Values() url.Values {
	v := url.Values{}

	switch p.Tag {
	case ConflictReject:
		v.Set("overwrite", "false")
		v.Set("autorename", "false")
	case ConflictOverwrite:
		v.Set("overwrite", "true")
	case ConflictParentRev:
		u := orZero(p.parentRev)
		v.Set("parent_rev", u.ParentRev)
		v.Set("autorename", strconv.FormatBool(u.AutoRename))
	default:
		v.Set("overwrite", "false")
		v.Set("autorename", "true")
	}

	return v
}

func (p WriteConflictPolicy) MarshalJSON() ([]byte, error) {
	if p.parentRev != nil {
		return marshalUnion(string(p.Tag), p.parentRev)
	}

	return marshalUnion(string(p.Tag), nil)
}

// DecodeWriteConflictPolicy decodes the WriteConflictPolicy union.
func DecodeWriteConflictPolicy(raw json.RawMessage) (WriteConflictPolicy, error) {
	const typ = "WriteConflictPolicy"

	tag, val, err := unionTag(typ, raw)
	if err != nil {
		return WriteConflictPolicy{}, err
	}

	switch WriteConflictTag(tag) {
	case ConflictReject, ConflictOverwrite, ConflictRename:
		return WriteConflictPolicy{Tag: WriteConflictTag(tag)}, nil
	case ConflictParentRev:
		if val == nil {
			return WriteConflictPolicy{}, &FieldError{Type: typ, Field: tag, Err: ErrMissingValue}
		}

		u, err := DecodeUpdateParentRev(val)
		if err != nil {
			return WriteConflictPolicy{}, err
		}

		return UpdateIfMatchingParentRev(u), nil
	default:
		return WriteConflictPolicy{}, &FieldError{Type: typ, Field: tag, Err: ErrUnknownTag}
	}
}

// ParseWriteConflictTag maps a CLI-style name onto a policy without payload.
// The parent-rev variant needs a revision and is built with
// UpdateIfMatchingParentRev instead.
func ParseWriteConflictTag(s string) (WriteConflictPolicy, bool) {
	switch WriteConflictTag(s) {
	case ConflictReject, ConflictOverwrite, ConflictRename:
		return WriteConflictPolicy{Tag: WriteConflictTag(s)}, true
	default:
		return WriteConflictPolicy{}, false
	}
}
