package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	challengesync "github.com/hyperengineering/seventyfive/internal/sync"
)

// NotifyChannel is the Postgres LISTEN/NOTIFY channel carrying the keys of
// committed documents.
const NotifyChannel = "challenge_changes"

const (
	listenerMinReconnect = 500 * time.Millisecond
	listenerMaxReconnect = 30 * time.Second
	listenerPingInterval = 90 * time.Second
)

// PostgresStore persists documents in Postgres. Writers lock the document row
// and notifications reach every process listening on NotifyChannel.
type PostgresStore struct {
	db     *sql.DB
	dsn    string
	notify *broadcaster
	closed atomic.Bool
	now    func() time.Time
	logger *slog.Logger

	listenOnce sync.Once
	listenErr  error
	listener   *pq.Listener
}

var (
	_ Store     = (*PostgresStore)(nil)
	_ Notifier  = (*PostgresStore)(nil)
	_ Compactor = (*PostgresStore)(nil)
)

// NewPostgresStore connects to dsn and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", postgresError(err))
	}
	if err := RunMigrations(db, "postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresStore{
		db:     db,
		dsn:    dsn,
		notify: newBroadcaster(),
		now:    time.Now,
		logger: slog.Default().With("component", "store", "backend", "postgres"),
	}, nil
}

// DB exposes the underlying handle for health checks.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close stops the listener and closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.notify.close()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("close listener", "error", err)
		}
	}
	return s.db.Close()
}

// Get returns the current document.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var body string
	var seq int64
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT body::text, sequence, updated_at FROM documents
		WHERE doc_key = $1 AND sequence > 0
	`, key).Scan(&body, &seq, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", postgresError(err))
	}
	return &Snapshot{Key: key, Data: []byte(body), Sequence: seq, UpdatedAt: updatedAt.UTC()}, nil
}

// Create writes data if key is absent.
func (s *PostgresStore) Create(ctx context.Context, key string, data []byte) (*Snapshot, bool, error) {
	m, err := newCreateMutation(data)
	if err != nil {
		return nil, false, err
	}
	return s.commit(ctx, key, m)
}

// Set overwrites the document.
func (s *PostgresStore) Set(ctx context.Context, key string, data []byte) (*Snapshot, error) {
	m, err := newSetMutation(data)
	if err != nil {
		return nil, err
	}
	snap, _, err := s.commit(ctx, key, m)
	return snap, err
}

// Update applies field-scoped writes.
func (s *PostgresStore) Update(ctx context.Context, key string, updates []FieldUpdate) (*Snapshot, error) {
	m, err := newUpdateMutation(updates)
	if err != nil {
		return nil, err
	}
	snap, _, err := s.commit(ctx, key, m)
	return snap, err
}

// Toggle negates the boolean at path.
func (s *PostgresStore) Toggle(ctx context.Context, key string, path Path) (*Snapshot, bool, error) {
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

// commit locks the document row, applies m and records the change. A row
// with sequence 0 is a placeholder inserted so concurrent creators contend on
// one row lock; it counts as absent until its first commit.
func (s *PostgresStore) commit(ctx context.Context, key string, m *mutation) (*Snapshot, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", postgresError(err))
	}
	defer tx.Rollback()

	now := s.now().UTC()
	if m.op == challengesync.OperationCreate || m.op == challengesync.OperationSet {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (doc_key, body, sequence, created_at, updated_at)
			VALUES ($1, '{}'::jsonb, 0, $2, $2)
			ON CONFLICT (doc_key) DO NOTHING
		`, key, now)
		if err != nil {
			return nil, false, fmt.Errorf("reserve document: %w", postgresError(err))
		}
	}

	var body string
	var seq int64
	var updatedAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT body::text, sequence, updated_at FROM documents
		WHERE doc_key = $1
		FOR UPDATE
	`, key).Scan(&body, &seq, &updatedAt)
	found := true
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return nil, false, fmt.Errorf("lock document: %w", postgresError(err))
	}
	exists := found && seq > 0

	var current []byte
	if exists {
		current = []byte(body)
	}
	next, write, err := m.apply(current, exists)
	if err != nil {
		return nil, false, err
	}
	if !write {
		return &Snapshot{Key: key, Data: current, Sequence: seq, UpdatedAt: updatedAt.UTC()}, false, nil
	}

	var newSeq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO change_log (doc_key, operation, paths, payload, source_id, created_at)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6)
		RETURNING sequence
	`, key, m.op, pathsJSON(m.paths), string(next), SourceFromContext(ctx), now).Scan(&newSeq)
	if err != nil {
		return nil, false, fmt.Errorf("append change log: %w", postgresError(err))
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET body = $2::jsonb, sequence = $3, updated_at = $4
		WHERE doc_key = $1
	`, key, string(next), newSeq, now)
	if err != nil {
		return nil, false, fmt.Errorf("write document: %w", postgresError(err))
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, key); err != nil {
		return nil, false, fmt.Errorf("notify: %w", postgresError(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit transaction: %w", postgresError(err))
	}

	// The stored body is jsonb; return what a subsequent Get would.
	return &Snapshot{Key: key, Data: next, Sequence: newSeq, UpdatedAt: now}, true, nil
}

// ChangesAfter returns entries for key with sequence > afterSeq, up to limit.
func (s *PostgresStore) ChangesAfter(ctx context.Context, key string, afterSeq int64, limit int) ([]challengesync.Change, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = challengesync.DefaultDeltaLimit
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", postgresError(err))
	}
	defer tx.Rollback()

	var compactedSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT compacted_seq FROM documents WHERE doc_key = $1 AND sequence > 0
	`, key).Scan(&compactedSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read compaction watermark: %w", postgresError(err))
	}
	if afterSeq < compactedSeq {
		return nil, ErrCompacted
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT sequence, doc_key, operation, paths::text, payload::text, source_id, created_at
		FROM change_log
		WHERE doc_key = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3
	`, key, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", postgresError(err))
	}
	defer rows.Close()

	changes := make([]challengesync.Change, 0)
	for rows.Next() {
		var c challengesync.Change
		var paths sql.NullString
		var payload string
		if err := rows.Scan(&c.Sequence, &c.DocKey, &c.Operation, &paths,
			&payload, &c.SourceID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change log entry: %w", err)
		}
		c.Payload = json.RawMessage(payload)
		c.CreatedAt = c.CreatedAt.UTC()
		if paths.Valid {
			if err := json.Unmarshal([]byte(paths.String), &c.Paths); err != nil {
				s.logger.Warn("change_log: failed to parse paths", "sequence", c.Sequence, "error", err)
			}
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change log: %w", postgresError(err))
	}
	return changes, nil
}

// CompactChangeLog deletes entries created before cutoff except each
// document's latest entry, advancing the compaction watermarks.
func (s *PostgresStore) CompactChangeLog(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", postgresError(err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE documents d SET compacted_seq = GREATEST(d.compacted_seq, c.max_seq)
		FROM (
			SELECT cl.doc_key, MAX(cl.sequence) AS max_seq
			FROM change_log cl
			JOIN documents dd ON dd.doc_key = cl.doc_key
			WHERE cl.created_at < $1 AND cl.sequence < dd.sequence
			GROUP BY cl.doc_key
		) c
		WHERE d.doc_key = c.doc_key
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("advance compaction watermark: %w", postgresError(err))
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM change_log cl
		USING documents d
		WHERE d.doc_key = cl.doc_key
		  AND cl.created_at < $1
		  AND cl.sequence < d.sequence
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete change log entries: %w", postgresError(err))
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", postgresError(err))
	}
	return removed, nil
}

// Notifications streams the keys of documents committed by any process
// sharing the database. An empty key means notifications may have been lost
// and every document should be treated as changed.
func (s *PostgresStore) Notifications(ctx context.Context) (<-chan string, error) {
	s.listenOnce.Do(func() {
		s.listenErr = s.startListener()
	})
	if s.listenErr != nil {
		return nil, s.listenErr
	}
	return s.notify.subscribe(ctx)
}

func (s *PostgresStore) startListener() error {
	if s.closed.Load() {
		return ErrClosed
	}
	l := pq.NewListener(s.dsn, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				s.logger.Warn("listener event", "event", int(ev), "error", err)
			}
		})
	if err := l.Listen(NotifyChannel); err != nil {
		l.Close()
		return fmt.Errorf("listen %s: %w", NotifyChannel, postgresError(err))
	}
	s.listener = l

	go func() {
		ticker := time.NewTicker(listenerPingInterval)
		defer ticker.Stop()
		for {
			select {
			case n, ok := <-l.Notify:
				if !ok {
					return
				}
				// nil follows a reconnect; anything may have been missed.
				if n == nil {
					s.notify.publish("")
					continue
				}
				s.notify.publish(n.Extra)
			case <-ticker.C:
				go func() {
					if err := l.Ping(); err != nil {
						s.logger.Debug("listener ping failed", "error", err)
					}
				}()
			case <-s.notify.done:
				return
			}
		}
	}()
	return nil
}

// postgresError maps connection loss and serialization failures to
// ErrUnavailable so callers can retry.
func postgresError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08", pqErr.Code == "57P01", pqErr.Code == "40001", pqErr.Code == "40P01":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
