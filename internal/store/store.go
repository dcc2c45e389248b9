package store

import (
	"context"
	"strings"
	"time"

	challengesync "github.com/hyperengineering/seventyfive/internal/sync"
)

// Store is the persistence substrate for keyed JSON documents. Every write is
// committed atomically together with a change log entry carrying the full
// document after the write.
type Store interface {
	// Get returns the document, or ErrNotFound.
	Get(ctx context.Context, key string) (*Snapshot, error)

	// Create writes data only if the key is absent. It returns the stored
	// snapshot and whether this call created it.
	Create(ctx context.Context, key string, data []byte) (*Snapshot, bool, error)

	// Set overwrites the whole document, creating it if absent.
	Set(ctx context.Context, key string, data []byte) (*Snapshot, error)

	// Update applies field-scoped writes. Missing intermediate objects are
	// created; sibling fields are left untouched. Returns ErrNotFound if the
	// document does not exist.
	Update(ctx context.Context, key string, updates []FieldUpdate) (*Snapshot, error)

	// Toggle negates the boolean at path within one transaction and returns the
	// new value. An absent or null value counts as false.
	Toggle(ctx context.Context, key string, path Path) (*Snapshot, bool, error)

	// ChangesAfter returns change log entries for key with sequence > afterSeq
	// in commit order. Returns ErrCompacted if entries after afterSeq were
	// removed by compaction.
	ChangesAfter(ctx context.Context, key string, afterSeq int64, limit int) ([]challengesync.Change, error)

	Close() error
}

// Notifier is implemented by stores that can push commit notifications.
// Each received value is the key of a document that changed. Notifications
// are hints: they may be coalesced or dropped under load.
type Notifier interface {
	Notifications(ctx context.Context) (<-chan string, error)
}

// Compactor is implemented by stores that can prune their change log.
type Compactor interface {
	// CompactChangeLog removes entries created before cutoff, keeping the
	// latest entry per document. Returns the number of entries removed.
	CompactChangeLog(ctx context.Context, cutoff time.Time) (int64, error)
}

// Snapshot is a committed document version.
type Snapshot struct {
	Key       string
	Data      []byte
	Sequence  int64
	UpdatedAt time.Time
}

// Path addresses a nested field by its key segments, e.g. {"days", "4", "user1"}.
type Path []string

// String joins the segments with dots for logging and change records.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// FieldUpdate sets the value at Path. Value must be JSON-marshalable.
type FieldUpdate struct {
	Path  Path
	Value any
}

type sourceContextKey struct{}

// WithSource tags writes made with ctx with the given source ID.
func WithSource(ctx context.Context, sourceID string) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, sourceID)
}

// SourceFromContext returns the source ID attached to ctx, or "".
func SourceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sourceContextKey{}).(string)
	return id
}

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
