// Package uploadstore persists chunked upload progress so an interrupted
// "put" can continue where it stopped. Each record is a small JSON file
// keyed by the (local path, remote path) pair.
package uploadstore

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/dropbox-go/internal/atomicfile"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
)

// ErrCorruptRecord is returned when a record file cannot be parsed. The file
// is deleted.
var ErrCorruptRecord = errors.New("uploadstore: corrupt record")

const (
	filePerms = 0o600
	dirPerms  = 0o700

	// StaleAge is how long an untouched record is kept. Upload sessions
	// expire on the server after about a day.
	StaleAge = 48 * time.Hour

	cleanThrottle = time.Hour
)

// Record is the saved state of one chunked upload. ContentHash and
// ModTime identify the local file version the session was started for.
type Record struct {
	ID          uuid.UUID `json:"id"`
	LocalPath   string    `json:"local_path"`
	RemotePath  string    `json:"remote_path"`
	UploadID    string    `json:"upload_id"`
	Offset      int64     `json:"offset"`
	TotalSize   int64     `json:"total_size"`
	ContentHash string    `json:"content_hash"`
	ModTime     time.Time `json:"mod_time"`
	Expires     time.Time `json:"expires,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot is the uploader state to resume from.
func (r *Record) Snapshot() dropbox.UploadSnapshot {
	return dropbox.UploadSnapshot{UploadID: r.UploadID, Offset: r.Offset, TotalSize: r.TotalSize}
}

// Matches reports whether the record was made for a file of this size, hash
// and modification time.
func (r *Record) Matches(size int64, hash string, modTime time.Time) bool {
	return r.TotalSize == size && r.ContentHash == hash && r.ModTime.Equal(modTime)
}

// Expired reports whether the server session has passed its expiry.
func (r *Record) Expired(now time.Time) bool {
	return !r.Expires.IsZero() && now.After(r.Expires)
}

// Store is a directory of upload records. It is safe for concurrent use.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	cleanMu   sync.Mutex
	lastClean time.Time
}

// New returns a Store rooted at dir. The directory is created on first Save.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{dir: dir, logger: logger, now: time.Now}
}

// Load returns the record for the pair, or nil, nil when there is none.
func (s *Store) Load(localPath, remotePath string) (*Record, error) {
	path := s.filePath(localPath, remotePath)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("uploadstore: reading %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("corrupt upload record, deleting",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("removing corrupt upload record failed", slog.String("error", rmErr.Error()))
		}

		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	return &rec, nil
}

// Save writes rec, filling in ID and timestamps. It also triggers a
// throttled background sweep of stale records.
func (s *Store) Save(rec *Record) error {
	now := s.now().UTC()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("uploadstore: encoding record: %w", err)
	}

	if err := atomicfile.Write(s.filePath(rec.LocalPath, rec.RemotePath), data, filePerms, dirPerms); err != nil {
		return fmt.Errorf("uploadstore: %w", err)
	}

	s.cleanMu.Lock()
	due := now.Sub(s.lastClean) >= cleanThrottle
	if due {
		s.lastClean = now
	}
	s.cleanMu.Unlock()

	if due {
		go s.sweep()
	}

	return nil
}

// Delete removes the record for the pair. A missing record is not an error.
func (s *Store) Delete(localPath, remotePath string) error {
	if err := os.Remove(s.filePath(localPath, remotePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("uploadstore: %w", err)
	}

	return nil
}

// List returns every readable record. Corrupt files are skipped.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("uploadstore: %w", err)
	}

	var recs []*Record

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}

		var rec Record
		if json.Unmarshal(data, &rec) != nil {
			continue
		}

		recs = append(recs, &rec)
	}

	return recs, nil
}

// CleanStale removes records not updated within maxAge and records whose
// session has expired. It returns how many were removed.
func (s *Store) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("uploadstore: %w", err)
	}

	now := s.now()
	cutoff := now.Add(-maxAge)
	removed := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		path := filepath.Join(s.dir, e.Name())

		info, err := e.Info()
		if err != nil {
			continue
		}

		stale := info.ModTime().Before(cutoff)

		if !stale {
			var rec Record
			if data, err := os.ReadFile(path); err == nil && json.Unmarshal(data, &rec) == nil {
				stale = rec.Expired(now)
			}
		}

		if !stale {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("removing stale upload record failed",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		removed++
	}

	return removed, nil
}

func (s *Store) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in upload record cleanup", slog.Any("panic", r))
		}
	}()

	n, err := s.CleanStale(StaleAge)
	if err != nil {
		s.logger.Warn("upload record cleanup failed", slog.String("error", err.Error()))
		return
	}

	if n > 0 {
		s.logger.Info("removed stale upload records", slog.Int("count", n))
	}
}

// recordKey is length-prefixed so ("a|", "b") and ("a", "|b") differ.
func recordKey(localPath, remotePath string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d:%s:%s", len(localPath), localPath, remotePath))
	return fmt.Sprintf("%x.json", h)
}

func (s *Store) filePath(localPath, remotePath string) string {
	return filepath.Join(s.dir, recordKey(localPath, remotePath))
}
