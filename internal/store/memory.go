package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	challengesync "github.com/hyperengineering/seventyfive/internal/sync"
)

// MemoryStore keeps documents and their change log in process memory.
// It serves tests and single-process deployments.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]*memoryDoc
	log      []challengesync.Change
	sequence int64
	closed   bool
	notify   *broadcaster
	now      func() time.Time
}

type memoryDoc struct {
	body         []byte
	sequence     int64
	compactedSeq int64
	updatedAt    time.Time
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ Notifier  = (*MemoryStore)(nil)
	_ Compactor = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*memoryDoc),
		notify: newBroadcaster(),
		now:    time.Now,
	}
}

// Get returns the current document.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.snapshot(key), nil
}

// Create writes data if key is absent.
func (s *MemoryStore) Create(ctx context.Context, key string, data []byte) (*Snapshot, bool, error) {
	m, err := newCreateMutation(data)
	if err != nil {
		return nil, false, err
	}
	return s.commit(ctx, key, m)
}

// Set overwrites the document.
func (s *MemoryStore) Set(ctx context.Context, key string, data []byte) (*Snapshot, error) {
	m, err := newSetMutation(data)
	if err != nil {
		return nil, err
	}
	snap, _, err := s.commit(ctx, key, m)
	return snap, err
}

// Update applies field-scoped writes.
func (s *MemoryStore) Update(ctx context.Context, key string, updates []FieldUpdate) (*Snapshot, error) {
	m, err := newUpdateMutation(updates)
	if err != nil {
		return nil, err
	}
	snap, _, err := s.commit(ctx, key, m)
	return snap, err
}

// Toggle negates the boolean at path.
func (s *MemoryStore) Toggle(ctx context.Context, key string, path Path) (*Snapshot, bool, error) {
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

func (s *MemoryStore) commit(ctx context.Context, key string, m *mutation) (*Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrClosed
	}

	doc, exists := s.docs[key]
	var current []byte
	if exists {
		current = doc.body
	}
	next, write, err := m.apply(current, exists)
	if err != nil {
		s.mu.Unlock()
		return nil, false, err
	}
	if !write {
		snap := doc.snapshot(key)
		s.mu.Unlock()
		return snap, false, nil
	}

	now := s.now().UTC()
	s.sequence++
	body := append([]byte(nil), next...)
	if !exists {
		doc = &memoryDoc{}
		s.docs[key] = doc
	}
	doc.body = body
	doc.sequence = s.sequence
	doc.updatedAt = now

	s.log = append(s.log, challengesync.Change{
		Sequence:  s.sequence,
		DocKey:    key,
		Operation: m.op,
		Paths:     m.paths,
		Payload:   json.RawMessage(body),
		SourceID:  SourceFromContext(ctx),
		CreatedAt: now,
	})
	snap := doc.snapshot(key)
	s.mu.Unlock()

	s.notify.publish(key)
	return snap, true, nil
}

// ChangesAfter returns change log entries for key after afterSeq.
func (s *MemoryStore) ChangesAfter(ctx context.Context, key string, afterSeq int64, limit int) ([]challengesync.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = challengesync.DefaultDeltaLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	if afterSeq < doc.compactedSeq {
		return nil, ErrCompacted
	}

	changes := make([]challengesync.Change, 0)
	for _, c := range s.log {
		if c.DocKey != key || c.Sequence <= afterSeq {
			continue
		}
		c.Payload = append(json.RawMessage(nil), c.Payload...)
		changes = append(changes, c)
		if len(changes) == limit {
			break
		}
	}
	return changes, nil
}

// CompactChangeLog drops entries older than cutoff, keeping each document's
// latest entry.
func (s *MemoryStore) CompactChangeLog(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	kept := s.log[:0]
	var removed int64
	for _, c := range s.log {
		doc := s.docs[c.DocKey]
		if c.CreatedAt.Before(cutoff) && doc != nil && c.Sequence < doc.sequence {
			if c.Sequence > doc.compactedSeq {
				doc.compactedSeq = c.Sequence
			}
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.log = kept
	return removed, nil
}

// Notifications streams the keys of committed documents.
func (s *MemoryStore) Notifications(ctx context.Context) (<-chan string, error) {
	return s.notify.subscribe(ctx)
}

// Close releases listeners. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify.close()
	return nil
}

func (d *memoryDoc) snapshot(key string) *Snapshot {
	return &Snapshot{
		Key:       key,
		Data:      append([]byte(nil), d.body...),
		Sequence:  d.sequence,
		UpdatedAt: d.updatedAt,
	}
}
