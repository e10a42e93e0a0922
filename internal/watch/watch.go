// Package watch reports file changes under a local directory in debounced
// batches, for pushing edits to Dropbox as they happen.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the tree must be quiet before a batch is sent.
const DefaultDebounce = 2 * time.Second

const (
	errInitBackoff = time.Second
	errMaxBackoff  = 30 * time.Second
)

// Op is what happened to a path.
type Op int

const (
	// Changed means the file was created or written.
	Changed Op = iota
	// Removed means the file or directory is gone or was renamed away.
	Removed
)

func (o Op) String() string {
	if o == Removed {
		return "removed"
	}

	return "changed"
}

// Event is one path in a batch. Rel is slash-separated and relative to the
// watched root.
type Event struct {
	Path string
	Rel  string
	Op   Op
}

// fsWatcher is the subset of *fsnotify.Watcher used here.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type notifyWatcher struct{ w *fsnotify.Watcher }

func (n notifyWatcher) Add(name string) error         { return n.w.Add(name) }
func (n notifyWatcher) Close() error                  { return n.w.Close() }
func (n notifyWatcher) Events() <-chan fsnotify.Event { return n.w.Events }
func (n notifyWatcher) Errors() <-chan error          { return n.w.Errors }

func newNotifyWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return notifyWatcher{w: w}, nil
}

// Watcher watches a directory tree recursively. Hidden files and
// directories (leading ".") are ignored.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger

	newWatcher func() (fsWatcher, error)
	pending    map[string]Op
}

// New returns a Watcher for root. A zero debounce uses DefaultDebounce.
func New(root string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		root:       filepath.Clean(root),
		debounce:   debounce,
		logger:     logger,
		newWatcher: newNotifyWatcher,
		pending:    make(map[string]Op),
	}
}

// Run watches until ctx is done, sending each batch to out sorted by path.
// Events still pending at cancellation are dropped. Run returns nil on
// cancellation.
func (w *Watcher) Run(ctx context.Context, out chan<- []Event) error {
	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root, false); err != nil {
		return err
	}

	w.logger.Info("watching for changes", slog.String("root", w.root))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	errBackoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			if w.handle(fw, ev) {
				timer.Reset(w.debounce)
			}

			errBackoff = errInitBackoff

		case werr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", werr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleep(ctx, errBackoff) != nil {
				return nil
			}

			errBackoff = min(errBackoff*2, errMaxBackoff)

		case <-timer.C:
			batch := w.flush()
			if len(batch) == 0 {
				continue
			}

			select {
			case out <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// handle records one fsnotify event and reports whether anything changed.
func (w *Watcher) handle(fw fsWatcher, ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	rel, ok := w.rel(ev.Name)
	if !ok {
		return false
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.pending[rel] = Removed
		return true

	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			return false
		}

		if info.IsDir() {
			// Files may land before the watch is in place, so scan too.
			if err := w.addTree(fw, ev.Name, true); err != nil {
				w.logger.Warn("watching new directory failed",
					slog.String("path", rel), slog.String("error", err.Error()))
			}

			return true
		}

		if info.Mode().IsRegular() {
			w.pending[rel] = Changed
			return true
		}

	case ev.Has(fsnotify.Write):
		w.pending[rel] = Changed
		return true
	}

	return false
}

// addTree watches dir and every directory below it. With record set,
// regular files found are recorded as Changed.
func (w *Watcher) addTree(fw fsWatcher, dir string, record bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fmt.Errorf("watch: %w", err)
			}

			return nil
		}

		if p != w.root && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			if err := fw.Add(p); err != nil {
				return fmt.Errorf("watch: adding %s: %w", p, err)
			}

			return nil
		}

		if record && d.Type().IsRegular() {
			if rel, ok := w.rel(p); ok {
				w.pending[rel] = Changed
			}
		}

		return nil
	})
}

func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if hidden(part) {
			return "", false
		}
	}

	return filepath.ToSlash(rel), true
}

func (w *Watcher) flush() []Event {
	batch := make([]Event, 0, len(w.pending))
	for rel, op := range w.pending {
		batch = append(batch, Event{Path: filepath.Join(w.root, filepath.FromSlash(rel)), Rel: rel, Op: op})
	}

	clear(w.pending)

	slices.SortFunc(batch, func(a, b Event) int { return strings.Compare(a.Rel, b.Rel) })

	return batch
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrNotDir is returned by Check when the root is not a directory.
var ErrNotDir = errors.New("watch: not a directory")

// Check verifies root exists and is a directory.
func Check(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDir, root)
	}

	return nil
}
