// Package worker holds the background loops run alongside the API server.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/seventyfive/internal/metrics"
	"github.com/hyperengineering/seventyfive/internal/store"
)

// CompactionWorker prunes the change log on an interval. Entries older than
// the retention window are removed, except the latest one per document.
type CompactionWorker struct {
	store     store.Compactor
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewCompactionWorker creates a compaction worker.
func NewCompactionWorker(s store.Compactor, interval, retention time.Duration) *CompactionWorker {
	return &CompactionWorker{
		store:     s,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
//
// The first pass waits one interval so startup is not slowed by a
// potentially large delete.
func (w *CompactionWorker) Run(ctx context.Context) {
	slog.Info("compaction worker started",
		"component", "worker",
		"worker", "compaction",
		"interval", w.interval.String(),
		"retention", w.retention.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("compaction worker stopped",
				"component", "worker",
				"worker", "compaction",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			if _, err := w.CompactOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("compaction failed",
					"component", "worker",
					"worker", "compaction",
					"error", err,
				)
			}
		}
	}
}

// CompactOnce runs a single compaction pass and returns the number of
// entries removed.
func (w *CompactionWorker) CompactOnce(ctx context.Context) (int64, error) {
	start := w.now()
	cutoff := start.Add(-w.retention)

	deleted, err := w.store.CompactChangeLog(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.RecordCompaction(deleted)

	if deleted == 0 {
		slog.Debug("no entries to compact",
			"component", "worker",
			"worker", "compaction",
			"cutoff", cutoff,
		)
		return 0, nil
	}

	slog.Info("compaction completed",
		"component", "worker",
		"worker", "compaction",
		"entries_deleted", deleted,
		"cutoff", cutoff,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return deleted, nil
}
