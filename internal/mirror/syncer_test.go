package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dropbox-go/internal/retrypolicy"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

func newTestClient(t *testing.T, h http.Handler) *dropbox.Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")
	cfg := dropbox.Config{APIHost: host, ContentHost: host, NotifyHost: host, WebHost: host, Scheme: "http"}

	c, err := dropbox.NewClient(cfg, srv.Client(), dropbox.StaticToken("tok"), slog.Default())
	require.NoError(t, err)

	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// fakeServer answers /delta from a queue of pages and /longpoll_delta with
// a fixed response.
type fakeServer struct {
	mu       sync.Mutex
	pages    []string
	cursors  []string
	prefixes []string
	longPoll string
	failures int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/1/delta":
		_ = r.ParseForm()
		f.cursors = append(f.cursors, r.PostForm.Get("cursor"))
		f.prefixes = append(f.prefixes, r.PostForm.Get("path_prefix"))

		if f.failures > 0 {
			f.failures--
			writeJSON(w, http.StatusServiceUnavailable, `{"error": "busy"}`)

			return
		}

		if len(f.pages) == 0 {
			writeJSON(w, http.StatusOK, `{"entries": [], "reset": false, "cursor": "end", "has_more": false}`)
			return
		}

		body := f.pages[0]
		f.pages = f.pages[1:]
		writeJSON(w, http.StatusOK, body)
	case "/1/longpoll_delta":
		writeJSON(w, http.StatusOK, f.longPoll)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) seen() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.cursors...), append([]string(nil), f.prefixes...)
}

const (
	page1 = `{"entries": [
		["/photos", {"size": "0 bytes", "bytes": 0, "path": "/Photos", "is_dir": true}],
		["/photos/a.jpg", {"size": "3 bytes", "bytes": 3, "path": "/Photos/A.jpg", "is_dir": false, "rev": "1"}]
	], "reset": true, "cursor": "c1", "has_more": true}`
	page2 = `{"entries": [
		["/photos/b.jpg", {"size": "1 bytes", "bytes": 1, "path": "/Photos/b.jpg", "is_dir": false, "rev": "2"}]
	], "reset": false, "cursor": "c2", "has_more": false}`
	page3 = `{"entries": [["/photos/a.jpg", null]], "reset": false, "cursor": "c3", "has_more": false}`
)

func TestSyncer_SyncOnceDrainsPages(t *testing.T) {
	ctx := context.Background()
	fs := &fakeServer{pages: []string{page1, page2}}
	store := openTestStore(t)

	s, err := NewSyncer(ctx, newTestClient(t, fs), store, SyncerOptions{PathPrefix: "/Photos"}, nil)
	require.NoError(t, err)

	sum, err := s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Reset: true, Puts: 3}, sum)
	assert.Equal(t, "c2", s.Cursor())

	cursors, prefixes := fs.seen()
	assert.Equal(t, []string{"", "c1"}, cursors)
	assert.Equal(t, []string{"/Photos", "/Photos"}, prefixes)

	m, err := store.Get(ctx, "/photos/A.JPG")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "/Photos/A.jpg", m.Path)

	l, err := store.Lineage(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Lineage{Cursor: "c2", PathPrefix: "/Photos"}, l)
}

func TestSyncer_FirstPollFileThenDeletedChild(t *testing.T) {
	ctx := context.Background()
	fs := &fakeServer{pages: []string{`{"entries": [
		["/a", {"size": "1 bytes", "bytes": 1, "path": "/a", "is_dir": false, "rev": "1"}],
		["/a/b", null]
	], "reset": false, "cursor": "c1", "has_more": false}`}}
	store := openTestStore(t)

	s, err := NewSyncer(ctx, newTestClient(t, fs), store, SyncerOptions{}, nil)
	require.NoError(t, err)

	_, err = s.SyncOnce(ctx)
	require.NoError(t, err)

	cursors, _ := fs.seen()
	assert.Equal(t, []string{""}, cursors)

	a, err := store.Get(ctx, "/a")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.False(t, a.IsDir)

	b, err := store.Get(ctx, "/a/b")
	require.NoError(t, err)
	assert.Nil(t, b)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncer_ResumesSavedCursor(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	p := page(false, entry("/photos/a.jpg", file("/Photos/a.jpg", 1)))
	p.Cursor = "saved"
	_, err := store.ApplyPage(ctx, "/Photos", p)
	require.NoError(t, err)

	fs := &fakeServer{pages: []string{page3}}

	s, err := NewSyncer(ctx, newTestClient(t, fs), store, SyncerOptions{PathPrefix: "Photos/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "saved", s.Cursor())

	_, err = s.SyncOnce(ctx)
	require.NoError(t, err)

	cursors, _ := fs.seen()
	assert.Equal(t, []string{"saved"}, cursors)

	// Only the parent folder created for the deleted file is left.
	kids, err := store.Children(ctx, "/photos")
	require.NoError(t, err)
	assert.Empty(t, kids)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncer_PrefixChangeStartsOver(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	p := page(false, entry("/old/f", file("/old/f", 1)))
	p.Cursor = "old-cursor"
	_, err := store.ApplyPage(ctx, "/old", p)
	require.NoError(t, err)

	s, err := NewSyncer(ctx, newTestClient(t, &fakeServer{}), store, SyncerOptions{PathPrefix: "/new"}, nil)
	require.NoError(t, err)
	assert.Empty(t, s.Cursor())

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncer_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	fs := &fakeServer{pages: []string{page2}, failures: 2}

	opts := SyncerOptions{Retry: retrypolicy.Policy{MaxRetries: 3, Base: time.Millisecond, Max: time.Millisecond}}

	s, err := NewSyncer(ctx, newTestClient(t, fs), openTestStore(t), opts, nil)
	require.NoError(t, err)

	_, err = s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2", s.Cursor())

	cursors, _ := fs.seen()
	assert.Equal(t, []string{"", "", ""}, cursors)
}

func TestSyncer_FailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	fs := &fakeServer{failures: 5}
	store := openTestStore(t)

	p := page(false)
	p.Cursor = "saved"
	_, err := store.ApplyPage(ctx, "", p)
	require.NoError(t, err)

	s, err := NewSyncer(ctx, newTestClient(t, fs), store, SyncerOptions{}, nil)
	require.NoError(t, err)

	_, err = s.SyncOnce(ctx)
	require.ErrorIs(t, err, dropbox.ErrServerError)
	assert.Equal(t, "saved", s.Cursor())
}

func TestSyncer_StoreFailureRewindsCursor(t *testing.T) {
	ctx := context.Background()
	fs := &fakeServer{pages: []string{page2}}
	store := openTestStore(t)

	p := page(false)
	p.Cursor = "saved"
	_, err := store.ApplyPage(ctx, "", p)
	require.NoError(t, err)

	s, err := NewSyncer(ctx, newTestClient(t, fs), store, SyncerOptions{}, nil)
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `DROP TABLE entries`)
	require.NoError(t, err)

	_, err = s.SyncOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, "saved", s.Cursor())
}

func TestSyncer_RunLongPollsAndHonorsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := &fakeServer{pages: []string{page2, page3}, longPoll: `{"changes": true, "backoff": 7}`}

	var pages int

	opts := SyncerOptions{
		LongPollTimeout: 30 * time.Second,
		OnPage: func(*dropbox.DeltaPage, Summary) {
			pages++
			if pages == 2 {
				cancel()
			}
		},
	}

	s, err := NewSyncer(ctx, newTestClient(t, fs), openTestStore(t), opts, nil)
	require.NoError(t, err)

	var sleeps []time.Duration

	s.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 2, pages)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeps)
	assert.Equal(t, "c3", s.Cursor())
}

func TestSyncer_RunCoolsDownAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := &fakeServer{failures: 1}

	s, err := NewSyncer(ctx, newTestClient(t, fs), openTestStore(t), SyncerOptions{Cooldown: 42 * time.Second}, nil)
	require.NoError(t, err)

	var sleeps []time.Duration

	s.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		cancel()

		return context.Canceled
	}

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []time.Duration{42 * time.Second}, sleeps)
}
