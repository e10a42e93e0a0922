package model

import (
	"encoding/json"
	"time"
)

// SharedFolder identifies the shared folder an entry lives in.
type SharedFolder struct {
	ID string `json:"id"`
}

// DecodeSharedFolder decodes a SharedFolder.
func DecodeSharedFolder(raw json.RawMessage) (SharedFolder, error) {
	r, err := newReader("SharedFolder", raw)
	if err != nil {
		return SharedFolder{}, err
	}

	sf := SharedFolder{ID: required(r, "id", str)}

	return sf, r.err
}

// EntryInfo holds the fields common to files and folders. IDRev changes on
// every modification; PathRev is the revision used elsewhere in the API
// (parent_rev, restore).
type EntryInfo struct {
	ID           string        `json:"id"`
	IDRev        string        `json:"id_rev"`
	Path         string        `json:"path"`
	PathRev      string        `json:"path_rev"`
	SharedFolder *SharedFolder `json:"shared_folder,omitempty"`
	Modified     *time.Time    `json:"modified,omitempty"`
	IsDeleted    bool          `json:"is_deleted"`
}

func readEntryInfo(r *reader) EntryInfo {
	return EntryInfo{
		ID:           required(r, "id", str),
		IDRev:        required(r, "id_rev", str),
		Path:         required(r, "path", str),
		PathRev:      required(r, "path_rev", str),
		SharedFolder: nullable(r, "shared_folder", DecodeSharedFolder),
		Modified:     nullable(r, "modified", timestamp),
		IsDeleted:    required(r, "is_deleted", boolean),
	}
}

// DecodeEntryInfo decodes an EntryInfo.
func DecodeEntryInfo(raw json.RawMessage) (EntryInfo, error) {
	r, err := newReader("EntryInfo", raw)
	if err != nil {
		return EntryInfo{}, err
	}

	e := readEntryInfo(r)

	return e, r.err
}

// FileInfo describes a file.
type FileInfo struct {
	EntryInfo
	Size      int64      `json:"size"`
	MimeType  string     `json:"mime_type,omitempty"`
	MediaInfo *MediaInfo `json:"media_info,omitempty"`
}

// DecodeFileInfo decodes a FileInfo. media_info is optional: an explicit
// null is rejected.
func DecodeFileInfo(raw json.RawMessage) (FileInfo, error) {
	r, err := newReader("FileInfo", raw)
	if err != nil {
		return FileInfo{}, err
	}

	f := FileInfo{
		EntryInfo: readEntryInfo(r),
		Size:      required(r, "size", integer),
		MimeType:  orZero(nullable(r, "mime_type", str)),
		MediaInfo: optional(r, "media_info", DecodeMediaInfo),
	}

	return f, r.err
}

// FolderInfo describes a folder.
type FolderInfo struct {
	EntryInfo
}

// DecodeFolderInfo decodes a FolderInfo.
func DecodeFolderInfo(raw json.RawMessage) (FolderInfo, error) {
	r, err := newReader("FolderInfo", raw)
	if err != nil {
		return FolderInfo{}, err
	}

	f := FolderInfo{EntryInfo: readEntryInfo(r)}

	return f, r.err
}

// FolderInfoAndContents is a folder listing.
type FolderInfoAndContents struct {
	FolderInfo
	Contents []FileOrFolderInfo `json:"contents"`
}

// DecodeFolderInfoAndContents decodes a folder listing. contents is required.
func DecodeFolderInfoAndContents(raw json.RawMessage) (FolderInfoAndContents, error) {
	r, err := newReader("FolderInfoAndContents", raw)
	if err != nil {
		return FolderInfoAndContents{}, err
	}

	f := FolderInfoAndContents{
		FolderInfo: FolderInfo{EntryInfo: readEntryInfo(r)},
		Contents:   required(r, "contents", listOf(DecodeFileOrFolderInfo)),
	}

	return f, r.err
}

// FileOrFolderInfoTag names a FileOrFolderInfo variant.
type FileOrFolderInfoTag string

const (
	EntryFile   FileOrFolderInfoTag = "file"
	EntryFolder FileOrFolderInfoTag = "folder"
)

// FileOrFolderInfo is either a file or a folder.
type FileOrFolderInfo struct {
	Tag    FileOrFolderInfoTag
	file   *FileInfo
	folder *FolderInfo
}

// FileEntry wraps f.
func FileEntry(f FileInfo) FileOrFolderInfo {
	return FileOrFolderInfo{Tag: EntryFile, file: &f}
}

// FolderEntry wraps f.
func FolderEntry(f FolderInfo) FileOrFolderInfo {
	return FileOrFolderInfo{Tag: EntryFolder, folder: &f}
}

// File returns the file payload when Tag is EntryFile.
func (e FileOrFolderInfo) File() (FileInfo, bool) {
	if e.file == nil {
		return FileInfo{}, false
	}

	return *e.file, true
}

// Folder returns the folder payload when Tag is EntryFolder.
func (e FileOrFolderInfo) Folder() (FolderInfo, bool) {
	if e.folder == nil {
		return FolderInfo{}, false
	}

	return *e.folder, true
}

// Entry returns the fields shared by both variants.
func (e FileOrFolderInfo) Entry() EntryInfo {
	switch {
	case e.file != nil:
		return e.file.EntryInfo
	case e.folder != nil:
		return e.folder.EntryInfo
	default:
		return EntryInfo{}
	}
}

func (e FileOrFolderInfo) MarshalJSON() ([]byte, error) {
	if e.Tag == EntryFolder {
		return marshalUnion(string(e.Tag), e.folder)
	}

	return marshalUnion(string(e.Tag), e.file)
}

// DecodeFileOrFolderInfo decodes the FileOrFolderInfo union.
func DecodeFileOrFolderInfo(raw json.RawMessage) (FileOrFolderInfo, error) {
	const typ = "FileOrFolderInfo"

	tag, val, err := unionTag(typ, raw)
	if err != nil {
		return FileOrFolderInfo{}, err
	}

	switch FileOrFolderInfoTag(tag) {
	case EntryFile, EntryFolder:
	default:
		return FileOrFolderInfo{}, &FieldError{Type: typ, Field: tag, Err: ErrUnknownTag}
	}

	if val == nil {
		return FileOrFolderInfo{}, &FieldError{Type: typ, Field: tag, Err: ErrMissingValue}
	}

	if FileOrFolderInfoTag(tag) == EntryFile {
		f, err := DecodeFileInfo(val)
		if err != nil {
			return FileOrFolderInfo{}, err
		}

		return FileEntry(f), nil
	}

	f, err := DecodeFolderInfo(val)
	if err != nil {
		return FileOrFolderInfo{}, err
	}

	return FolderEntry(f), nil
}

// RevisionHistory lists earlier versions of an entry.
type RevisionHistory struct {
	Revisions []FileOrFolderInfo `json:"revisions"`
}

// DecodeRevisionHistory decodes a RevisionHistory.
func DecodeRevisionHistory(raw json.RawMessage) (RevisionHistory, error) {
	r, err := newReader("RevisionHistory", raw)
	if err != nil {
		return RevisionHistory{}, err
	}

	h := RevisionHistory{Revisions: required(r, "revisions", listOf(DecodeFileOrFolderInfo))}

	return h, r.err
}

// SearchResults is one page of search matches. HasMore is set when the
// number of matches exceeded the requested limit.
type SearchResults struct {
	HasMore bool               `json:"has_more"`
	Results []FileOrFolderInfo `json:"results"`
}

// DecodeSearchResults decodes a SearchResults.
func DecodeSearchResults(raw json.RawMessage) (SearchResults, error) {
	r, err := newReader("SearchResults", raw)
	if err != nil {
		return SearchResults{}, err
	}

	s := SearchResults{
		HasMore: required(r, "has_more", boolean),
		Results: required(r, "results", listOf(DecodeFileOrFolderInfo)),
	}

	return s, r.err
}
