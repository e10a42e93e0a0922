package mirror

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "mirror.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStore_ApplyPageMatchesTree(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tr := NewTree()

	pages := []*pageWithCursor{
		{"c1", page(true,
			entry("/Docs", folder("/Docs")),
			entry("/Docs/a.txt", file("/Docs/a.txt", 1)),
			entry("/Docs/Sub/b.txt", file("/Docs/Sub/b.txt", 2)),
			entry("/ab", file("/ab", 5)),
		)},
		{"c2", page(false,
			entry("/docs", folder("/DOCS")),
			entry("/docs/sub", file("/Docs/Sub", 9)),
		)},
		{"c3", page(false,
			entry("/docs/a.txt", nil),
			entry("/x/y/z", file("/X/Y/z", 1)),
		)},
		{"c4", page(false,
			entry("/Café", folder("/Café")),
			entry("/Café/x.txt", file("/Café/x.txt", 1)),
			entry("/Café/Ünter/y.txt", file("/Café/Ünter/y.txt", 2)),
			entry("/Naïve", folder("/Naïve")),
			entry("/Naïve/日本.txt", file("/Naïve/日本.txt", 3)),
			entry("/Cafés", file("/Cafés", 4)),
		)},
		{"c5", page(false,
			entry("/café", nil),
			entry("/naïve", file("/Naïve", 7)),
		)},
	}

	for _, p := range pages {
		p.page.Cursor = p.cursor

		_, err := s.ApplyPage(ctx, "", p.page)
		require.NoError(t, err)
		tr.Apply(p.page)

		loaded, err := s.LoadTree(ctx)
		require.NoError(t, err)
		assert.Equal(t, tr.Paths(), loaded.Paths(), "after %s", p.cursor)

		for _, k := range tr.Paths() {
			want, _ := tr.Get(k)
			got, _ := loaded.Get(k)
			assert.Equal(t, want.Path, got.Path)
			assert.Equal(t, want.IsDir, got.IsDir)
		}
	}

	l, err := s.Lineage(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Lineage{Cursor: "c5"}, l)

	loaded, err := s.LoadTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/ab", "/cafés", "/docs", "/docs/sub", "/naïve", "/x", "/x/y", "/x/y/z"}, loaded.Paths())
}

func TestStore_RootDeleteClearsEverything(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tr := NewTree()

	for _, p := range []*dropbox.DeltaPage{
		page(false, entry("/a/b.txt", file("/a/b.txt", 1)), entry("/Ç", file("/Ç", 2))),
		page(false, entry("/", nil)),
	} {
		_, err := s.ApplyPage(ctx, "", p)
		require.NoError(t, err)
		tr.Apply(p)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, tr.Paths())
}

// priorStates are trees a reset page may arrive on top of.
var priorStates = map[string][]*dropbox.DeltaPage{
	"empty": nil,
	"unrelated files": {
		page(false, entry("/old.txt", file("/old.txt", 1)), entry("/z/deep/n.txt", file("/z/deep/n.txt", 2))),
	},
	"folder with children at reset paths": {
		page(false,
			entry("/a", folder("/a")),
			entry("/a/b", folder("/a/b")),
			entry("/a/b/c.txt", file("/a/b/c.txt", 3)),
			entry("/a/keep.txt", file("/a/keep.txt", 4)),
		),
	},
	"file where reset has a folder": {
		page(false, entry("/a", file("/a", 9)), entry("/b", folder("/B-old"))),
	},
	"several pages with deletes": {
		page(true, entry("/a", folder("/A")), entry("/a/x", file("/A/x", 1))),
		page(false, entry("/a/x", nil), entry("/Ünïcode/f", file("/Ünïcode/f", 2))),
	},
}

// resetPage is applied last in TestReset_IndependentOfPriorState.
func resetPage() *dropbox.DeltaPage {
	return page(true,
		entry("/a", folder("/A")),
		entry("/a/b.txt", file("/A/b.txt", 5)),
		entry("/b", file("/B", 6)),
	)
}

func TestReset_IndependentOfPriorState(t *testing.T) {
	ctx := context.Background()

	want := NewTree()
	want.Apply(resetPage())

	for name, prior := range priorStates {
		t.Run(name, func(t *testing.T) {
			tr := NewTree()
			s := openTestStore(t)

			for _, p := range prior {
				tr.Apply(p)
				_, err := s.ApplyPage(ctx, "", p)
				require.NoError(t, err)
			}

			tr.Apply(resetPage())
			_, err := s.ApplyPage(ctx, "", resetPage())
			require.NoError(t, err)

			loaded, err := s.LoadTree(ctx)
			require.NoError(t, err)

			for _, got := range []*Tree{tr, loaded} {
				require.Equal(t, want.Paths(), got.Paths())

				for _, k := range want.Paths() {
					w, _ := want.Get(k)
					g, _ := got.Get(k)
					assert.Equal(t, w.Path, g.Path, k)
					assert.Equal(t, w.IsDir, g.IsDir, k)
					assert.Equal(t, w.Bytes, g.Bytes, k)
				}
			}
		})
	}
}

type pageWithCursor struct {
	cursor string
	page   *dropbox.DeltaPage
}

func TestStore_GetAndChildren(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.ApplyPage(ctx, "/Photos", page(true,
		entry("/Photos", folder("/Photos")),
		entry("/Photos/B.jpg", file("/Photos/B.jpg", 3)),
		entry("/Photos/a.jpg", file("/Photos/a.jpg", 2)),
	))
	require.NoError(t, err)

	m, err := s.Get(ctx, "/photos/b.JPG")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "/Photos/B.jpg", m.Path)
	assert.Equal(t, int64(3), m.Bytes)
	require.NotNil(t, m.Modified)

	m, err = s.Get(ctx, "/nope")
	require.NoError(t, err)
	assert.Nil(t, m)

	kids, err := s.Children(ctx, "/PHOTOS")
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "/Photos/a.jpg", kids[0].Path)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	l, err := s.Lineage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/Photos", l.PathPrefix)
}

func TestStore_ResetAndEmptyLineage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	l, err := s.Lineage(ctx)
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = s.ApplyPage(ctx, "", page(false, entry("/f", file("/f", 1))))
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	l, err = s.Lineage(ctx)
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestStore_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)

	p := page(false, entry("/f", file("/f", 1)))
	p.Cursor = "saved"
	_, err = s.ApplyPage(ctx, "", p)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	l, err := s.Lineage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "saved", l.Cursor)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_CanceledPageLeavesNothing(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ApplyPage(ctx, "", page(false, entry("/f", file("/f", 1))))
	require.Error(t, err)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
