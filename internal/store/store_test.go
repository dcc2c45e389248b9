package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

// backends returns a constructor for every store implementation under test.
// Postgres runs only when SEVENTYFIVE_TEST_POSTGRES_DSN is set.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	b := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			s := NewMemoryStore()
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "challenge.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("SEVENTYFIVE_TEST_POSTGRES_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), dsn)
			if err != nil {
				t.Fatalf("NewPostgresStore failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

// forEachBackend runs fn against a fresh store of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, key string)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t), "doc-"+ulid.Make().String())
		})
	}
}

const baseDoc = `{"startDate":"","days":{}}`

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func lookup(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func mustCreate(t *testing.T, s Store, key string) *Snapshot {
	t.Helper()
	snap, _, err := s.Create(context.Background(), key, []byte(baseDoc))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return snap
}

func TestStore_GetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		_, err := s.Get(context.Background(), key)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_CreateOnlyWhenAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()

		// Given: A created document
		first, created, err := s.Create(ctx, key, []byte(baseDoc))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if !created {
			t.Fatal("first Create should report created")
		}
		if first.Sequence <= 0 {
			t.Errorf("expected positive sequence, got %d", first.Sequence)
		}

		// When: Creating again with different content
		second, created, err := s.Create(ctx, key, []byte(`{"startDate":"2024-01-01","days":{}}`))
		if err != nil {
			t.Fatalf("second Create failed: %v", err)
		}

		// Then: The original document is kept
		if created {
			t.Error("second Create should not report created")
		}
		if second.Sequence != first.Sequence {
			t.Errorf("sequence changed: %d -> %d", first.Sequence, second.Sequence)
		}
		if got := decode(t, second.Data)["startDate"]; got != "" {
			t.Errorf("startDate = %v, want empty", got)
		}
	})
}

func TestStore_SetOverwrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()

		// Given: No document
		// When: Set is called twice
		if _, err := s.Set(ctx, key, []byte(`{"startDate":"2024-01-01","days":{"1":{"user1":true}}}`)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if _, err := s.Set(ctx, key, []byte(baseDoc)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		// Then: Only the second body remains
		snap, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		doc := decode(t, snap.Data)
		if doc["startDate"] != "" {
			t.Errorf("startDate = %v", doc["startDate"])
		}
		if days := doc["days"].(map[string]any); len(days) != 0 {
			t.Errorf("days = %v, want empty", days)
		}
	})
}

func TestStore_RejectsNonObject(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		for _, body := range []string{``, `[]`, `true`, `{"a":`} {
			if _, _, err := s.Create(context.Background(), key, []byte(body)); !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("Create(%q) error = %v, want ErrInvalidDocument", body, err)
			}
		}
	})
}

func TestStore_UpdateNumericKeysStayObjects(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()
		mustCreate(t, s, key)

		// When: Writing below a numeric day key that does not exist yet
		snap, err := s.Update(ctx, key, []FieldUpdate{
			{Path: Path{"days", "4", "user1", "tasks", "read"}, Value: true},
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		// Then: Intermediate levels are objects keyed by "4"
		v, ok := lookup(decode(t, snap.Data), "days", "4", "user1", "tasks", "read")
		if !ok || v != true {
			t.Errorf("days.4.user1.tasks.read = %v (found=%v), want true", v, ok)
		}
	})
}

func TestStore_UpdatePreservesSiblings(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()
		mustCreate(t, s, key)

		// Given: Two users with data on day 3
		_, err := s.Update(ctx, key, []FieldUpdate{
			{Path: Path{"days", "3", "user1"}, Value: true},
			{Path: Path{"days", "3", "user2", "weight"}, Value: 81.5},
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		// When: One user's field is updated
		snap, err := s.Update(ctx, key, []FieldUpdate{
			{Path: Path{"days", "3", "user2", "calories"}, Value: []map[string]any{{"food": "egg", "calories": 70}}},
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		// Then: Siblings are untouched
		doc := decode(t, snap.Data)
		if v, _ := lookup(doc, "days", "3", "user1"); v != true {
			t.Errorf("user1 = %v, want true", v)
		}
		if v, _ := lookup(doc, "days", "3", "user2", "weight"); v != 81.5 {
			t.Errorf("weight = %v, want 81.5", v)
		}
		if v, ok := lookup(doc, "days", "3", "user2", "calories"); !ok || len(v.([]any)) != 1 {
			t.Errorf("calories = %v", v)
		}
	})
}

func TestStore_UpdateMissingDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		_, err := s.Update(context.Background(), key, []FieldUpdate{{Path: Path{"startDate"}, Value: "2024-01-01"}})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_ToggleFromAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()
		mustCreate(t, s, key)
		path := Path{"days", "1", "user2", "tasks", "brush teeth (am)"}

		// When: Toggling an absent value twice
		_, first, err := s.Toggle(ctx, key, path)
		if err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}
		snap, second, err := s.Toggle(ctx, key, path)
		if err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}

		// Then: Absent counts as false
		if !first || second {
			t.Errorf("toggles = %v, %v; want true, false", first, second)
		}
		if v, _ := lookup(decode(t, snap.Data), path...); v != false {
			t.Errorf("stored value = %v, want false", v)
		}
	})
}

func TestStore_ToggleNonBoolean(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()
		mustCreate(t, s, key)
		if _, err := s.Update(ctx, key, []FieldUpdate{{Path: Path{"startDate"}, Value: "2024-01-01"}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		_, _, err := s.Toggle(ctx, key, Path{"startDate"})
		if !errors.Is(err, ErrNotBoolean) {
			t.Errorf("expected ErrNotBoolean, got %v", err)
		}
	})
}

func TestStore_SpecialCharacterKeys(t *testing.T) {
	keys := []string{"2000 cal", "a.b", "what?", "x*y", "#1", "k|v", "@me", `back\slash`}
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()
		mustCreate(t, s, key)

		for _, k := range keys {
			path := Path{"days", "2", "user1", "tasks", k}
			snap, v, err := s.Toggle(ctx, key, path)
			if err != nil {
				t.Fatalf("Toggle(%q) failed: %v", k, err)
			}
			if !v {
				t.Errorf("Toggle(%q) = false, want true", k)
			}
			tasks, _ := lookup(decode(t, snap.Data), "days", "2", "user1", "tasks")
			if got := tasks.(map[string]any)[k]; got != true {
				t.Errorf("tasks[%q] = %v, want true", k, got)
			}
		}
	})
}

func TestStore_ConcurrentTogglesAreNotLost(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()
		mustCreate(t, s, key)
		path := Path{"days", "5", "user1"}

		// When: 20 toggles race on one field
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					_, _, err := s.Toggle(ctx, key, path)
					if errors.Is(err, ErrUnavailable) {
						time.Sleep(5 * time.Millisecond)
						continue
					}
					errs <- err
					return
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Toggle failed: %v", err)
			}
		}

		// Then: An even number of toggles leaves false and every toggle is logged
		snap, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if v, _ := lookup(decode(t, snap.Data), path...); v != false {
			t.Errorf("value = %v, want false", v)
		}
		changes, err := s.ChangesAfter(ctx, key, 0, 100)
		if err != nil {
			t.Fatalf("ChangesAfter failed: %v", err)
		}
		if len(changes) != n+1 {
			t.Errorf("changes = %d, want %d", len(changes), n+1)
		}
	})
}

func TestStore_ChangesAfter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := WithSource(context.Background(), "client-a")
		created, _, err := s.Create(ctx, key, []byte(baseDoc))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := s.Update(ctx, key, []FieldUpdate{{Path: Path{"startDate"}, Value: "2024-01-01"}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if _, _, err := s.Toggle(ctx, key, Path{"days", "1", "user1"}); err != nil {
			t.Fatalf("Toggle failed: %v", err)
		}

		// When: Reading after the create
		changes, err := s.ChangesAfter(ctx, key, created.Sequence, 10)
		if err != nil {
			t.Fatalf("ChangesAfter failed: %v", err)
		}

		// Then: Later entries are returned in order with full payloads
		if len(changes) != 2 {
			t.Fatalf("changes = %d, want 2", len(changes))
		}
		if changes[0].Operation != "update" || changes[1].Operation != "toggle" {
			t.Errorf("operations = %s, %s", changes[0].Operation, changes[1].Operation)
		}
		if changes[0].Sequence >= changes[1].Sequence {
			t.Errorf("sequences not increasing: %d, %d", changes[0].Sequence, changes[1].Sequence)
		}
		if changes[1].SourceID != "client-a" {
			t.Errorf("source = %q, want client-a", changes[1].SourceID)
		}
		if len(changes[1].Paths) != 1 || changes[1].Paths[0] != "days.1.user1" {
			t.Errorf("paths = %v", changes[1].Paths)
		}
		doc := decode(t, changes[1].Payload)
		if doc["startDate"] != "2024-01-01" {
			t.Errorf("payload startDate = %v", doc["startDate"])
		}
		if v, _ := lookup(doc, "days", "1", "user1"); v != true {
			t.Errorf("payload day 1 = %v", v)
		}

		// And: The limit is honoured
		limited, err := s.ChangesAfter(ctx, key, 0, 1)
		if err != nil {
			t.Fatalf("ChangesAfter failed: %v", err)
		}
		if len(limited) != 1 || limited[0].Sequence != created.Sequence {
			t.Errorf("limited = %+v", limited)
		}
	})
}

func TestSQLiteStore_ChangesAfterDoesNotWaitForWriter(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "challenge.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()
	created := mustCreate(t, s, "challenge")

	// Given: Another connection holds the write lock
	writer, err := s.DB().BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin writer: %v", err)
	}
	defer writer.Rollback()
	if _, err := writer.Exec(`UPDATE documents SET updated_at = updated_at WHERE doc_key = ?`, "challenge"); err != nil {
		t.Fatalf("writer update: %v", err)
	}

	// When: A subscriber polls the change log
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	changes, err := s.ChangesAfter(ctx, "challenge", 0, 10)

	// Then: The read is served from the WAL snapshot without blocking
	if err != nil {
		t.Fatalf("ChangesAfter failed while a write was open: %v", err)
	}
	if len(changes) != 1 || changes[0].Sequence != created.Sequence {
		t.Errorf("changes = %+v", changes)
	}
}

func TestStore_Compaction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		ctx := context.Background()
		compactor, ok := s.(Compactor)
		if !ok {
			t.Skip("backend does not compact")
		}
		mustCreate(t, s, key)
		var last *Snapshot
		for i := 0; i < 3; i++ {
			snap, _, err := s.Toggle(ctx, key, Path{"days", "1", "user1"})
			if err != nil {
				t.Fatalf("Toggle failed: %v", err)
			}
			last = snap
		}

		// When: Compacting everything older than the future
		removed, err := compactor.CompactChangeLog(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("CompactChangeLog failed: %v", err)
		}

		// Then: Only the latest entry remains and stale readers must resync
		if removed < 3 {
			t.Errorf("removed = %d, want at least 3", removed)
		}
		if _, err := s.ChangesAfter(ctx, key, 0, 10); !errors.Is(err, ErrCompacted) {
			t.Errorf("expected ErrCompacted, got %v", err)
		}
		changes, err := s.ChangesAfter(ctx, key, last.Sequence-1, 10)
		if err != nil {
			t.Fatalf("ChangesAfter at watermark failed: %v", err)
		}
		if len(changes) != 1 || changes[0].Sequence != last.Sequence {
			t.Errorf("changes = %+v, want only sequence %d", changes, last.Sequence)
		}
		if _, err := s.ChangesAfter(ctx, key, last.Sequence, 10); err != nil {
			t.Errorf("reader at head should not be compacted: %v", err)
		}
	})
}

func TestStore_Notifications(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		n, ok := s.(Notifier)
		if !ok {
			t.Skip("backend does not notify")
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := n.Notifications(ctx)
		if err != nil {
			t.Fatalf("Notifications failed: %v", err)
		}
		mustCreate(t, s, key)

		deadline := time.After(5 * time.Second)
		for {
			select {
			case got := <-ch:
				if got == key {
					return
				}
			case <-deadline:
				t.Fatal("no notification received")
			}
		}
	})
}

func TestStore_Closed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, key string) {
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if _, err := s.Get(context.Background(), key); !errors.Is(err, ErrClosed) {
			t.Errorf("Get after Close = %v, want ErrClosed", err)
		}
		if _, _, err := s.Create(context.Background(), key, []byte(baseDoc)); !errors.Is(err, ErrClosed) {
			t.Errorf("Create after Close = %v, want ErrClosed", err)
		}
	})
}

func TestSourceFromContext(t *testing.T) {
	if got := SourceFromContext(context.Background()); got != "" {
		t.Errorf("empty context source = %q", got)
	}
	if got := SourceFromContext(WithSource(context.Background(), "abc")); got != "abc" {
		t.Errorf("source = %q, want abc", got)
	}
}
