package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/dropbox-go/pkg/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/dropbox/model"
)

const (
	sqlClearEntries = `DELETE FROM entries`

	// substr and length both count characters, so the comparison holds
	// for non-ASCII keys.
	sqlDeleteTree = `DELETE FROM entries
		WHERE key = ? OR substr(key, 1, length(?)) = ?`

	sqlPutEntry = `INSERT INTO entries (key, parent, path, is_dir, bytes, rev, modified, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 parent = excluded.parent,
		 path = excluded.path,
		 is_dir = excluded.is_dir,
		 bytes = excluded.bytes,
		 rev = excluded.rev,
		 modified = excluded.modified,
		 metadata = excluded.metadata`

	// Placeholder folders only overwrite files; an existing folder keeps
	// its metadata.
	sqlEnsureDir = sqlPutEntry + ` WHERE entries.is_dir = 0`

	sqlGetEntry = `SELECT metadata FROM entries WHERE key = ?`

	sqlListChildren = `SELECT metadata FROM entries WHERE parent = ? AND key != '/' ORDER BY key`

	sqlAllEntries = `SELECT key, metadata FROM entries`

	sqlCountEntries = `SELECT COUNT(*) FROM entries`

	sqlGetLineage = `SELECT cursor, path_prefix FROM lineage WHERE id = 1`

	sqlPutLineage = `INSERT INTO lineage (id, cursor, path_prefix, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 cursor = excluded.cursor,
		 path_prefix = excluded.path_prefix,
		 updated_at = excluded.updated_at`

	sqlClearLineage = `DELETE FROM lineage`
)

// Lineage is the saved cursor and the prefix it is bound to.
type Lineage struct {
	Cursor     string
	PathPrefix string
}

// Store persists the mirror in SQLite. Every page is applied together with
// its cursor in one transaction, so the saved cursor always describes the
// saved entries.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens or creates the database at dbPath and migrates it. Use
// ":memory:" for a throwaway store.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mirror: opening database %s: %w", dbPath, err)
	}

	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("mirror store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lineage returns the saved lineage, or nil when none has been saved.
func (s *Store) Lineage(ctx context.Context) (*Lineage, error) {
	var l Lineage

	err := s.db.QueryRowContext(ctx, sqlGetLineage).Scan(&l.Cursor, &l.PathPrefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("mirror: reading lineage: %w", err)
	}

	return &l, nil
}

// ApplyPage applies page and saves its cursor under pathPrefix atomically.
func (s *Store) ApplyPage(ctx context.Context, pathPrefix string, page *dropbox.DeltaPage) (Summary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("mirror: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, o := range planPage(page) {
		if err := execOp(ctx, tx, o); err != nil {
			return Summary{}, err
		}
	}

	if _, err := tx.ExecContext(ctx, sqlPutLineage, page.Cursor, pathPrefix, s.nowFunc().UnixNano()); err != nil {
		return Summary{}, fmt.Errorf("mirror: saving cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("mirror: committing page: %w", err)
	}

	return summarize(page), nil
}

func execOp(ctx context.Context, tx *sql.Tx, o op) error {
	var err error

	switch o.kind {
	case opClear:
		_, err = tx.ExecContext(ctx, sqlClearEntries)
	case opDeleteTree:
		prefix := subtreePrefix(o.key)
		_, err = tx.ExecContext(ctx, sqlDeleteTree, o.key, prefix, prefix)
	case opPut:
		err = putEntry(ctx, tx, sqlPutEntry, o)
	case opEnsureDir:
		err = putEntry(ctx, tx, sqlEnsureDir, o)
	}

	if err != nil {
		return fmt.Errorf("mirror: applying %s: %w", o.key, err)
	}

	return nil
}

func putEntry(ctx context.Context, tx *sql.Tx, stmt string, o op) error {
	data, err := json.Marshal(o.meta)
	if err != nil {
		return err
	}

	var modified sql.NullInt64
	if o.meta.Modified != nil {
		modified = sql.NullInt64{Int64: o.meta.Modified.UnixNano(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, stmt,
		o.key, parentKey(o.key), o.meta.Path, o.meta.IsDir, o.meta.Bytes, o.meta.Rev, modified, string(data))

	return err
}

// Reset drops every entry and the lineage, as when the prefix changes.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mirror: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{sqlClearEntries, sqlClearLineage} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mirror: resetting: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mirror: committing reset: %w", err)
	}

	return nil
}

// Get returns the entry at p, matched case-insensitively, or nil.
func (s *Store) Get(ctx context.Context, p string) (*model.Metadata, error) {
	var data string

	err := s.db.QueryRowContext(ctx, sqlGetEntry, Key(p)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("mirror: reading %s: %w", p, err)
	}

	return decodeRow(data)
}

// Children lists the direct children of dir ordered by key.
func (s *Store) Children(ctx context.Context, dir string) ([]*model.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, sqlListChildren, Key(dir))
	if err != nil {
		return nil, fmt.Errorf("mirror: listing %s: %w", dir, err)
	}
	defer rows.Close()

	var out []*model.Metadata

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("mirror: scanning entry: %w", err)
		}

		m, err := decodeRow(data)
		if err != nil {
			return nil, err
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterating entries: %w", err)
	}

	return out, nil
}

// Count is the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqlCountEntries).Scan(&n); err != nil {
		return 0, fmt.Errorf("mirror: counting entries: %w", err)
	}

	return n, nil
}

// LoadTree reads every entry into a Tree.
func (s *Store) LoadTree(ctx context.Context) (*Tree, error) {
	rows, err := s.db.QueryContext(ctx, sqlAllEntries)
	if err != nil {
		return nil, fmt.Errorf("mirror: loading entries: %w", err)
	}
	defer rows.Close()

	t := NewTree()

	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("mirror: scanning entry: %w", err)
		}

		m, err := decodeRow(data)
		if err != nil {
			return nil, err
		}

		t.entries[key] = m
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterating entries: %w", err)
	}

	return t, nil
}

func decodeRow(data string) (*model.Metadata, error) {
	var m model.Metadata
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("mirror: decoding stored metadata: %w", err)
	}

	return &m, nil
}
