package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/metrics"
)

// DocumentReader returns the current challenge document.
type DocumentReader interface {
	GetDocument(ctx context.Context) (*challenge.Document, error)
}

// DayClock watches the calendar and reports when the challenge day index or
// phase changes. It exports the day as a gauge.
type DayClock struct {
	docs     DocumentReader
	interval time.Duration
	now      func() time.Time

	day   int
	phase challenge.Phase
}

// NewDayClock creates a day clock. now may be nil for the wall clock.
func NewDayClock(docs DocumentReader, interval time.Duration, now func() time.Time) *DayClock {
	if now == nil {
		now = time.Now
	}
	return &DayClock{docs: docs, interval: interval, now: now, day: -1}
}

// Run checks immediately and then on every tick until ctx is cancelled.
func (c *DayClock) Run(ctx context.Context) {
	slog.Info("day clock started",
		"component", "worker",
		"worker", "day-clock",
		"interval", c.interval.String(),
	)

	c.tick(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("day clock stopped",
				"component", "worker",
				"worker", "day-clock",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *DayClock) tick(ctx context.Context) {
	if _, _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("day clock check failed",
			"component", "worker",
			"worker", "day-clock",
			"error", err,
		)
	}
}

// Check reads the start date and updates the exported day. changed is true
// when the day index or phase differs from the previous check.
func (c *DayClock) Check(ctx context.Context) (day int, changed bool, err error) {
	doc, err := c.docs.GetDocument(ctx)
	if err != nil {
		return 0, false, err
	}

	now := c.now()
	day = challenge.CurrentDay(doc.StartDate, now)
	phase := challenge.PhaseOf(doc.StartDate, now)
	metrics.SetCurrentDay(day)

	if day == c.day && phase == c.phase {
		return day, false, nil
	}

	attrs := []any{
		"component", "worker",
		"worker", "day-clock",
		"day", day,
		"phase", string(phase),
		"start_date", doc.StartDate,
	}
	if c.day >= 0 {
		attrs = append(attrs, "previous_day", c.day)
	}
	slog.Info("challenge day changed", attrs...)

	c.day, c.phase = day, phase
	return day, true, nil
}
