// Package mirror keeps a local copy of the remote namespace up to date by
// applying delta pages. Tree holds the copy in memory; Store persists it in
// SQLite together with the cursor; Syncer drives the poll loop.
//
// Dropbox paths are case-insensitive, so entries are keyed by the lowercase
// NFC form of their path while the metadata keeps the server's casing.
package mirror

import (
	"path"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

// Key is the lookup key for a Dropbox path.
func Key(p string) string {
	f := dropbox.FormatPath(p, false)
	if f == "" {
		return "/"
	}

	return strings.ToLower(norm.NFC.String(f))
}

// subtreePrefix is the prefix shared by every key below key.
func subtreePrefix(key string) string {
	if key == "/" {
		return key
	}

	return key + "/"
}

// parentKey is the key of the folder containing key.
func parentKey(key string) string {
	return path.Dir(key)
}

type opKind int

const (
	opClear opKind = iota
	opDeleteTree
	opPut
	opEnsureDir
)

// op is one storage mutation. Applying a page's ops in order implements the
// delta rules against any backing store.
type op struct {
	kind opKind
	key  string
	meta *model.Metadata
}

// planPage translates a page into ops:
//
//   - reset clears everything first;
//   - a null entry removes the path and everything under it;
//   - a file replaces whatever was at its path, children included;
//   - a folder is created, or updated in place keeping its children;
//   - missing parent folders are created, replacing files in the way.
func planPage(page *dropbox.DeltaPage) []op {
	var ops []op

	if page.Reset {
		ops = append(ops, op{kind: opClear})
	}

	for i := range page.Entries {
		e := &page.Entries[i]
		key := Key(e.Path)

		if e.Metadata == nil {
			ops = append(ops, op{kind: opDeleteTree, key: key})
			continue
		}

		meta := *e.Metadata
		meta.Contents = nil

		ops = append(ops, ensureParents(key, meta.Path)...)

		if !meta.IsDir {
			ops = append(ops, op{kind: opDeleteTree, key: key})
		}

		ops = append(ops, op{kind: opPut, key: key, meta: &meta})
	}

	return ops
}

// ensureParents yields opEnsureDir for each ancestor of key, outermost
// first. Placeholder metadata takes its casing from displayPath.
func ensureParents(key, displayPath string) []op {
	var ops []op

	display := dropbox.FormatPath(displayPath, false)

	for k, d := parentKey(key), path.Dir(display); k != "/"; k, d = parentKey(k), path.Dir(d) {
		if Key(d) != k {
			d = k
		}

		ops = append(ops, op{kind: opEnsureDir, key: k, meta: &model.Metadata{Path: d, IsDir: true, Size: "0 bytes"}})
	}

	slices.Reverse(ops)

	return ops
}

// Summary counts what a page changed.
type Summary struct {
	Reset   bool
	Puts    int
	Deletes int
}

func (s *Summary) add(o Summary) {
	s.Reset = s.Reset || o.Reset
	s.Puts += o.Puts
	s.Deletes += o.Deletes
}

func summarize(page *dropbox.DeltaPage) Summary {
	sum := Summary{Reset: page.Reset}

	for i := range page.Entries {
		if page.Entries[i].Metadata == nil {
			sum.Deletes++
		} else {
			sum.Puts++
		}
	}

	return sum
}

// Tree is an in-memory mirror. It is not safe for concurrent use.
type Tree struct {
	entries map[string]*model.Metadata
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{entries: make(map[string]*model.Metadata)}
}

// Apply applies one delta page.
func (t *Tree) Apply(page *dropbox.DeltaPage) Summary {
	for _, o := range planPage(page) {
		switch o.kind {
		case opClear:
			clear(t.entries)
		case opDeleteTree:
			t.deleteTree(o.key)
		case opPut:
			t.entries[o.key] = o.meta
		case opEnsureDir:
			if cur, ok := t.entries[o.key]; !ok || !cur.IsDir {
				t.entries[o.key] = o.meta
			}
		}
	}

	return summarize(page)
}

func (t *Tree) deleteTree(key string) {
	delete(t.entries, key)

	prefix := subtreePrefix(key)
	for k := range t.entries {
		if strings.HasPrefix(k, prefix) {
			delete(t.entries, k)
		}
	}
}

// Get looks up a path case-insensitively.
func (t *Tree) Get(p string) (*model.Metadata, bool) {
	m, ok := t.entries[Key(p)]
	return m, ok
}

// Len is the number of entries.
func (t *Tree) Len() int { return len(t.entries) }

// Children lists the direct children of dir sorted by key.
func (t *Tree) Children(dir string) []*model.Metadata {
	parent := Key(dir)

	var keys []string

	for k := range t.entries {
		if k != "/" && parentKey(k) == parent {
			keys = append(keys, k)
		}
	}

	slices.Sort(keys)

	out := make([]*model.Metadata, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.entries[k])
	}

	return out
}

// Paths returns every key, sorted.
func (t *Tree) Paths() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
