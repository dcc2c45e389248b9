package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	challengesync "github.com/hyperengineering/seventyfive/internal/sync"
)

const insertChangeSQLite = `
	INSERT INTO change_log (doc_key, operation, paths, payload, source_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// ChangesAfter returns entries for key with sequence > afterSeq, up to limit.
func (s *SQLiteStore) ChangesAfter(ctx context.Context, key string, afterSeq int64, limit int) ([]challengesync.Change, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = challengesync.DefaultDeltaLimit
	}

	// The watermark and the entries are read in one transaction so a
	// concurrent compaction cannot open an unseen gap. ReadOnly makes the
	// driver issue a deferred BEGIN, so polls never take the write lock.
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, sqliteError("begin transaction", err)
	}
	defer tx.Rollback()

	var compactedSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT compacted_seq FROM documents WHERE doc_key = ?
	`, key).Scan(&compactedSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, sqliteError("read compaction watermark", err)
	}
	if afterSeq < compactedSeq {
		return nil, ErrCompacted
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT sequence, doc_key, operation, paths, payload, source_id, created_at
		FROM change_log
		WHERE doc_key = ? AND sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, key, afterSeq, limit)
	if err != nil {
		return nil, sqliteError("query change log", err)
	}
	defer rows.Close()

	changes := make([]challengesync.Change, 0)
	for rows.Next() {
		var c challengesync.Change
		var paths sql.NullString
		var payload, createdAt string

		if err := rows.Scan(&c.Sequence, &c.DocKey, &c.Operation, &paths,
			&payload, &c.SourceID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan change log entry: %w", err)
		}

		c.Payload = json.RawMessage(payload)
		if paths.Valid && paths.String != "" {
			if err := json.Unmarshal([]byte(paths.String), &c.Paths); err != nil {
				slog.Warn("change_log: failed to parse paths", "sequence", c.Sequence, "error", err)
			}
		}
		var parseErr error
		if c.CreatedAt, parseErr = parseTime(createdAt); parseErr != nil {
			slog.Warn("change_log: failed to parse created_at", "value", createdAt, "error", parseErr)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change log: %w", err)
	}
	return changes, nil
}

// CompactChangeLog deletes entries created before cutoff except each
// document's latest entry, and advances each document's compaction
// watermark past what it removed.
func (s *SQLiteStore) CompactChangeLog(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sqliteError("begin transaction", err)
	}
	defer tx.Rollback()

	c := formatTime(cutoff)
	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET compacted_seq = MAX(compacted_seq, COALESCE((
			SELECT MAX(cl.sequence) FROM change_log cl
			WHERE cl.doc_key = documents.doc_key
			  AND cl.created_at < ?
			  AND cl.sequence < documents.sequence
		), 0))
	`, c)
	if err != nil {
		return 0, sqliteError("advance compaction watermark", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM change_log
		WHERE created_at < ?
		  AND sequence < (SELECT d.sequence FROM documents d WHERE d.doc_key = change_log.doc_key)
	`, c)
	if err != nil {
		return 0, sqliteError("delete change log entries", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, sqliteError("commit transaction", err)
	}
	return removed, nil
}

// pathsJSON encodes changed paths for storage. Returns nil when there are none.
func pathsJSON(paths []string) any {
	if len(paths) == 0 {
		return nil
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return nil
	}
	return string(b)
}
