package tracker

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/store"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)

func newTestClient(t *testing.T, s store.Store, mods ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Now:          func() time.Time { return fixedNow },
		PollInterval: 20 * time.Millisecond,
		Retry:        RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
	for _, m := range mods {
		m(&cfg)
	}
	return New(s, cfg)
}

func newMemoryStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func newSQLiteStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_Defaults(t *testing.T) {
	c := New(newMemoryStore(t), Config{})

	if c.Key() != DefaultKey {
		t.Errorf("key = %q, want %q", c.Key(), DefaultKey)
	}
	if len(c.SourceID()) != 26 {
		t.Errorf("source ID %q is not a ULID", c.SourceID())
	}
	if c.retry != DefaultRetry {
		t.Errorf("retry = %+v, want %+v", c.retry, DefaultRetry)
	}
	if c.poll != DefaultPollInterval || c.buffer != DefaultWatchBuffer {
		t.Errorf("poll = %v, buffer = %d", c.poll, c.buffer)
	}
}

func TestGetDocument_InitializesDefault(t *testing.T) {
	// Given: An empty store
	s := newMemoryStore(t)
	c := newTestClient(t, s)

	// When: The document is read
	doc, err := c.GetDocument(context.Background())
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}

	// Then: It is seeded with today and no days
	if doc.StartDate != "2024-03-10" {
		t.Errorf("startDate = %q, want 2024-03-10", doc.StartDate)
	}
	if doc.Days == nil || len(doc.Days) != 0 {
		t.Errorf("days = %v, want empty map", doc.Days)
	}
}

func TestGetDocument_Idempotent(t *testing.T) {
	s := newMemoryStore(t)
	c := newTestClient(t, s)
	ctx := context.Background()

	first, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	second, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if !bytes.Equal(first.Data, second.Data) || first.Sequence != second.Sequence {
		t.Errorf("reads differ: %s@%d vs %s@%d", first.Data, first.Sequence, second.Data, second.Sequence)
	}

	a, _ := c.GetDocument(ctx)
	b, _ := c.GetDocument(ctx)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("documents differ: %+v vs %+v", a, b)
	}
}

func TestGetDocument_InitializesOnceUnderConcurrency(t *testing.T) {
	// Given: Two clients sharing one empty store
	s := newSQLiteStore(t, filepath.Join(t.TempDir(), "challenge.db"))
	clients := []*Client{newTestClient(t, s), newTestClient(t, s)}

	// When: Many goroutines read at once
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if _, err := c.GetDocument(context.Background()); err != nil {
				t.Errorf("GetDocument failed: %v", err)
			}
		}(clients[i%2])
	}
	wg.Wait()

	// Then: Exactly one creating write happened
	changes, err := s.ChangesAfter(context.Background(), DefaultKey, 0, 100)
	if err != nil {
		t.Fatalf("ChangesAfter failed: %v", err)
	}
	if len(changes) != 1 || changes[0].Operation != "create" {
		t.Errorf("changes = %+v, want one create", changes)
	}
}

func TestCurrentDay_FromStoredStartDate(t *testing.T) {
	s := newMemoryStore(t)
	c := newTestClient(t, s)
	ctx := context.Background()

	if err := c.ResetChallenge(ctx, "2024-03-07"); err != nil {
		t.Fatalf("ResetChallenge failed: %v", err)
	}

	day, err := c.CurrentDay(ctx)
	if err != nil {
		t.Fatalf("CurrentDay failed: %v", err)
	}
	if day != 4 {
		t.Errorf("CurrentDay = %d, want 4", day)
	}
}

// flakyStore fails the first n calls of every write with ErrUnavailable.
type flakyStore struct {
	store.Store
	failures atomic.Int32
}

func (f *flakyStore) fail() error {
	if f.failures.Add(-1) >= 0 {
		return store.ErrUnavailable
	}
	return nil
}

func (f *flakyStore) Toggle(ctx context.Context, key string, path store.Path) (*store.Snapshot, bool, error) {
	if err := f.fail(); err != nil {
		return nil, false, err
	}
	return f.Store.Toggle(ctx, key, path)
}

func (f *flakyStore) Update(ctx context.Context, key string, updates []store.FieldUpdate) (*store.Snapshot, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Store.Update(ctx, key, updates)
}

func TestRetry_RecoversFromTransientFailure(t *testing.T) {
	// Given: A store that is unavailable twice
	fs := &flakyStore{Store: newMemoryStore(t)}
	fs.failures.Store(2)
	c := newTestClient(t, fs)

	// When: Toggling
	done, err := c.ToggleDayCompletion(context.Background(), 1, challenge.User1)

	// Then: The retry succeeds
	if err != nil {
		t.Fatalf("ToggleDayCompletion failed: %v", err)
	}
	if !done {
		t.Error("expected true after toggle")
	}
}

func TestRetry_GivesUp(t *testing.T) {
	fs := &flakyStore{Store: newMemoryStore(t)}
	fs.failures.Store(100)
	c := newTestClient(t, fs)

	err := c.UpdateWeight(context.Background(), 1, challenge.User1, challenge.Number(80))
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	// 1 attempt + 3 retries
	if got := fs.failures.Load(); got != 100-4 {
		t.Errorf("attempts = %d, want 4", 100-got)
	}
}

func TestRetry_Disabled(t *testing.T) {
	fs := &flakyStore{Store: newMemoryStore(t)}
	fs.failures.Store(1)
	c := newTestClient(t, fs, func(cfg *Config) { cfg.Retry = RetryConfig{MaxRetries: -1} })

	_, err := c.ToggleDayCompletion(context.Background(), 1, challenge.User1)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable without retries, got %v", err)
	}
}

func TestDelta_PagesThroughChanges(t *testing.T) {
	c := newTestClient(t, newMemoryStore(t))
	ctx := context.Background()

	// Given: An initialized document and three toggles
	for i := 0; i < 3; i++ {
		if _, err := c.ToggleDayCompletion(ctx, 1, challenge.User1); err != nil {
			t.Fatalf("toggle %d failed: %v", i, err)
		}
	}

	// When: Reading two at a time
	first, err := c.Delta(ctx, 0, 2)
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}

	// Then: The first page reports more to come
	if len(first.Changes) != 2 || !first.HasMore {
		t.Fatalf("first page = %+v", first)
	}
	if first.Changes[0].Operation != "create" || first.LatestSequence != 4 {
		t.Errorf("first page = %+v", first)
	}

	second, err := c.Delta(ctx, first.LastSequence, 2)
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}
	if len(second.Changes) != 2 || second.HasMore || second.LastSequence != 4 {
		t.Errorf("second page = %+v", second)
	}

	empty, err := c.Delta(ctx, second.LastSequence, 2)
	if err != nil {
		t.Fatalf("Delta failed: %v", err)
	}
	if empty.Changes == nil || len(empty.Changes) != 0 || empty.LastSequence != 4 {
		t.Errorf("empty page = %+v", empty)
	}
}
