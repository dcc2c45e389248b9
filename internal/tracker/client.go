// Package tracker is the client handle for the shared challenge document:
// reads with auto-initialization, live subscriptions, and field mutators.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/hyperengineering/seventyfive/internal/catalog"
	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/metrics"
	"github.com/hyperengineering/seventyfive/internal/store"
	challengesync "github.com/hyperengineering/seventyfive/internal/sync"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultKey          = "challenge"
	DefaultPollInterval = 2 * time.Second
	DefaultWatchBuffer  = 16
)

// RetryConfig bounds retries of transient store failures. The zero value
// selects DefaultRetry; a negative MaxRetries disables retrying.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetry is used when Config.Retry is the zero value.
var DefaultRetry = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  50 * time.Millisecond,
	MaxDelay:   time.Second,
}

// Config configures a Client.
type Config struct {
	// Key identifies the challenge document in the store.
	Key string

	// Catalog, when set, restricts task toggles to each user's task list.
	Catalog *catalog.Catalog

	// PollInterval is how often subscriptions check the change log when the
	// store does not push a notification.
	PollInterval time.Duration

	// WatchBuffer is the channel capacity used by Watch.
	WatchBuffer int

	// PageSize caps change log entries fetched per round trip.
	PageSize int

	Retry RetryConfig

	// SourceID tags writes from this client. A ULID is generated if empty.
	SourceID string

	// Now replaces the wall clock in tests.
	Now func() time.Time

	Logger *slog.Logger
}

// Client reads, mutates, and subscribes to one challenge document.
// It is safe for concurrent use.
type Client struct {
	store    store.Store
	key      string
	catalog  *catalog.Catalog
	poll     time.Duration
	buffer   int
	pageSize int
	retry    RetryConfig
	source   string
	now      func() time.Time
	logger   *slog.Logger

	init singleflight.Group
}

// New creates a Client for the document cfg.Key in s.
func New(s store.Store, cfg Config) *Client {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WatchBuffer <= 0 {
		cfg.WatchBuffer = DefaultWatchBuffer
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = challengesync.DefaultDeltaLimit
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetry
	}
	if cfg.SourceID == "" {
		cfg.SourceID = ulid.Make().String()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		store:    s,
		key:      cfg.Key,
		catalog:  cfg.Catalog,
		poll:     cfg.PollInterval,
		buffer:   cfg.WatchBuffer,
		pageSize: cfg.PageSize,
		retry:    cfg.Retry,
		source:   cfg.SourceID,
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "tracker", "doc_key", cfg.Key),
	}
}

// Key returns the document key.
func (c *Client) Key() string {
	return c.key
}

// SourceID returns the ID stamped on this client's writes.
func (c *Client) SourceID() string {
	return c.source
}

// Catalog returns the configured task catalog, or nil.
func (c *Client) Catalog() *catalog.Catalog {
	return c.catalog
}

// Now returns the client's notion of the current time.
func (c *Client) Now() time.Time {
	return c.now()
}

// GetDocument returns the current document, creating the default document if
// none exists yet.
func (c *Client) GetDocument(ctx context.Context) (*challenge.Document, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return challenge.Decode(snap.Data)
}

// Snapshot is GetDocument without decoding; the sequence positions the
// caller in the change log.
func (c *Client) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	var snap *store.Snapshot
	err := c.withRetry(ctx, "get", func(ctx context.Context) error {
		var err error
		snap, err = c.store.Get(ctx, c.key)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return c.initialize(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge document: %w", err)
	}
	return snap, nil
}

// CurrentDay returns the clamped day index for the stored start date.
func (c *Client) CurrentDay(ctx context.Context) (int, error) {
	doc, err := c.GetDocument(ctx)
	if err != nil {
		return 0, err
	}
	return challenge.CurrentDay(doc.StartDate, c.now()), nil
}

// initialize writes the default document if the key is absent. Concurrent
// callers in this process share one write; across processes the store's
// create-if-absent keeps a single creator.
func (c *Client) initialize(ctx context.Context) (*store.Snapshot, error) {
	v, err, _ := c.init.Do(c.key, func() (any, error) {
		body, err := json.Marshal(challenge.NewDocument(challenge.Today(c.now())))
		if err != nil {
			return nil, fmt.Errorf("marshal default document: %w", err)
		}

		var snap *store.Snapshot
		var created bool
		err = c.withRetry(ctx, "create", func(ctx context.Context) error {
			var err error
			snap, created, err = c.store.Create(c.writeContext(ctx), c.key, body)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("initialize challenge document: %w", err)
		}
		if created {
			c.logger.Info("challenge document initialized", "action", "initialize", "sequence", snap.Sequence)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Snapshot), nil
}

// writeContext tags ctx with this client's source unless the caller already
// attached one.
func (c *Client) writeContext(ctx context.Context) context.Context {
	if store.SourceFromContext(ctx) != "" {
		return ctx
	}
	return store.WithSource(ctx, c.source)
}

// withRetry runs fn, retrying with exponential backoff while the store
// reports ErrUnavailable.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if c.retry.MaxRetries <= 0 {
		return fn(ctx)
	}

	base := c.retry.BaseDelay
	if base <= 0 {
		base = DefaultRetry.BaseDelay
	}
	b := retry.NewExponential(base)
	if c.retry.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.retry.MaxDelay, b)
	}
	b = retry.WithMaxRetries(uint64(c.retry.MaxRetries), b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, store.ErrUnavailable) {
			metrics.RecordRetry(op)
			c.logger.Debug("store unavailable, retrying", "action", op, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// Delta returns up to limit change log entries after the given sequence,
// together with the document's latest sequence. It returns store.ErrCompacted
// when the log no longer reaches back to after.
func (c *Client) Delta(ctx context.Context, after int64, limit int) (*challengesync.DeltaResponse, error) {
	if limit <= 0 {
		limit = challengesync.DefaultDeltaLimit
	}
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var changes []challengesync.Change
	err = c.withRetry(ctx, "changes", func(ctx context.Context) error {
		var err error
		changes, err = c.store.ChangesAfter(ctx, c.key, after, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read changes after %d: %w", after, err)
	}

	resp := &challengesync.DeltaResponse{
		Changes:        changes,
		LastSequence:   after,
		LatestSequence: snap.Sequence,
	}
	if resp.Changes == nil {
		resp.Changes = []challengesync.Change{}
	}
	if n := len(changes); n > 0 {
		resp.LastSequence = changes[n-1].Sequence
		if resp.LastSequence > resp.LatestSequence {
			resp.LatestSequence = resp.LastSequence
		}
	}
	resp.HasMore = len(changes) == limit && resp.LastSequence < resp.LatestSequence
	return resp, nil
}
