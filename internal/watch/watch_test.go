package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	mu     sync.Mutex
	added  []string
	events chan fsnotify.Event
	errs   chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan fsnotify.Event), errs: make(chan error)}
}

func (f *fakeWatcher) Add(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.added = append(f.added, name)

	return nil
}

func (f *fakeWatcher) Close() error                  { return nil }
func (f *fakeWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error          { return f.errs }

func (f *fakeWatcher) watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.added...)
}

func startFake(t *testing.T, root string) (*fakeWatcher, chan []Event, context.CancelFunc, <-chan error) {
	t.Helper()

	fw := newFakeWatcher()
	w := New(root, 100*time.Millisecond, nil)
	w.newWatcher = func() (fsWatcher, error) { return fw, nil }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []Event, 4)
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx, out) }()

	t.Cleanup(cancel)

	return fw, out, cancel, done
}

func receive(t *testing.T, out <-chan []Event) []Event {
	t.Helper()

	select {
	case b := <-out:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch received")
		return nil
	}
}

func TestWatcher_DebouncesIntoOneBatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	fw, out, cancel, done := startFake(t, root)

	a := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o600))

	fw.events <- fsnotify.Event{Name: a, Op: fsnotify.Create}
	fw.events <- fsnotify.Event{Name: a, Op: fsnotify.Write}
	fw.events <- fsnotify.Event{Name: filepath.Join(root, "sub", "gone"), Op: fsnotify.Remove}
	fw.events <- fsnotify.Event{Name: a, Op: fsnotify.Chmod}
	fw.events <- fsnotify.Event{Name: filepath.Join(root, ".git", "index"), Op: fsnotify.Write}

	batch := receive(t, out)
	assert.Equal(t, []Event{
		{Path: a, Rel: "a.txt", Op: Changed},
		{Path: filepath.Join(root, "sub", "gone"), Rel: "sub/gone", Op: Removed},
	}, batch)

	assert.ElementsMatch(t, []string{root, filepath.Join(root, "sub")}, fw.watched())

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_NewDirectoryIsScanned(t *testing.T) {
	root := t.TempDir()
	fw, out, _, _ := startFake(t, root)

	dir := filepath.Join(root, "new")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deep", "f.bin"), []byte("1"), 0o600))

	fw.events <- fsnotify.Event{Name: dir, Op: fsnotify.Create}

	batch := receive(t, out)
	require.Len(t, batch, 1)
	assert.Equal(t, "new/deep/f.bin", batch[0].Rel)
	assert.Contains(t, fw.watched(), filepath.Join(dir, "deep"))
}

func TestWatcher_ErrorsDoNotStopTheLoop(t *testing.T) {
	root := t.TempDir()
	fw, _, cancel, done := startFake(t, root)

	fw.errs <- assert.AnError
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_RealFilesystem(t *testing.T) {
	root := t.TempDir()
	w := New(root, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []Event, 4)
	go func() { _ = w.Run(ctx, out) }()

	// Give the watch time to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi"), 0o600))

	batch := receive(t, out)
	require.NotEmpty(t, batch)
	assert.Equal(t, "hello.txt", batch[0].Rel)
	assert.Equal(t, Changed, batch[0].Op)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Check(dir))

	f := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(f, nil, 0o600))
	assert.ErrorIs(t, Check(f), ErrNotDir)
	assert.Error(t, Check(filepath.Join(dir, "missing")))
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "removed", Removed.String())
}
