package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists documents and their change log in a SQLite database.
// Writers are serialized by immediate transactions; notifications are
// delivered to listeners in the same process.
type SQLiteStore struct {
	db     *sql.DB
	notify *broadcaster
	closed atomic.Bool
	now    func() time.Time
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ Notifier  = (*SQLiteStore)(nil)
	_ Compactor = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (creating if needed) the database at dbPath and runs
// migrations. ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	memory := dbPath == ":memory:"

	// Ensure parent directory exists
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(db, "sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, notify: newBroadcaster(), now: time.Now}, nil
}

// sqliteDSN sets pragmas through the DSN so they apply to every pooled
// connection, and makes read-write BEGIN take the write lock up front.
func sqliteDSN(dbPath string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if dbPath != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	return "file:" + dbPath + "?" + q.Encode()
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.notify.close()
	return s.db.Close()
}

// Get returns the current document.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var body, updatedAt string
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT body, sequence, updated_at FROM documents WHERE doc_key = ?
	`, key).Scan(&body, &seq, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, sqliteError("get document", err)
	}
	return newSnapshot(key, []byte(body), seq, updatedAt), nil
}

// Create writes data if key is absent.
func (s *SQLiteStore) Create(ctx context.Context, key string, data []byte) (*Snapshot, bool, error) {
	m, err := newCreateMutation(data)
	if err != nil {
		return nil, false, err
	}
	return s.commit(ctx, key, m)
}

// Set overwrites the document.
func (s *SQLiteStore) Set(ctx context.Context, key string, data []byte) (*Snapshot, error) {
	m, err := newSetMutation(data)
	if err != nil {
		return nil, err
	}
	snap, _, err := s.commit(ctx, key, m)
	return snap, err
}

// Update applies field-scoped writes.
func (s *SQLiteStore) Update(ctx context.Context, key string, updates []FieldUpdate) (*Snapshot, error) {
	m, err := newUpdateMutation(updates)
	if err != nil {
		return nil, err
	}
	snap, _, err := s.commit(ctx, key, m)
	return snap, err
}

// Toggle negates the boolean at path.
func (s *SQLiteStore) Toggle(ctx context.Context, key string, path Path) (*Snapshot, bool, error) {
	m, err := newToggleMutation(path)
	if err != nil {
		return nil, false, err
	}
	snap, _, err := s.commit(ctx, key, m)
	if err != nil {
		return nil, false, err
	}
	return snap, m.toggled, nil
}

// commit runs m against the stored document and, when it writes, records the
// new body and its change log entry in one transaction.
func (s *SQLiteStore) commit(ctx context.Context, key string, m *mutation) (*Snapshot, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, sqliteError("begin transaction", err)
	}
	defer tx.Rollback()

	var body, updatedAt string
	var seq int64
	exists := true
	err = tx.QueryRowContext(ctx, `
		SELECT body, sequence, updated_at FROM documents WHERE doc_key = ?
	`, key).Scan(&body, &seq, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return nil, false, sqliteError("read document", err)
	}

	var current []byte
	if exists {
		current = []byte(body)
	}
	next, write, err := m.apply(current, exists)
	if err != nil {
		return nil, false, err
	}
	if !write {
		return newSnapshot(key, current, seq, updatedAt), false, nil
	}

	now := formatTime(s.now())
	result, err := tx.ExecContext(ctx, insertChangeSQLite,
		key, m.op, pathsJSON(m.paths), string(next), SourceFromContext(ctx), now)
	if err != nil {
		return nil, false, sqliteError("append change log", err)
	}
	newSeq, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("get last insert id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (doc_key, body, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_key) DO UPDATE SET
			body = excluded.body,
			sequence = excluded.sequence,
			updated_at = excluded.updated_at
	`, key, string(next), newSeq, now, now)
	if err != nil {
		return nil, false, sqliteError("write document", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, sqliteError("commit transaction", err)
	}

	s.notify.publish(key)
	return newSnapshot(key, next, newSeq, now), true, nil
}

// Notifications streams the keys of documents committed through this store.
func (s *SQLiteStore) Notifications(ctx context.Context) (<-chan string, error) {
	return s.notify.subscribe(ctx)
}

// sqliteError maps lock contention to ErrUnavailable so callers can retry.
func sqliteError(action string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%s: %w: %w", action, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func newSnapshot(key string, body []byte, seq int64, updatedAt string) *Snapshot {
	snap := &Snapshot{Key: key, Data: body, Sequence: seq}
	if t, err := parseTime(updatedAt); err == nil {
		snap.UpdatedAt = t
	}
	return snap
}
