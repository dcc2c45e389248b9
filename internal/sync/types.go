package sync

import (
	"encoding/json"
	"time"
)

// Change is one committed write to a document, as recorded in the change log.
// Payload holds the full document as it stood after the commit.
type Change struct {
	Sequence  int64           `json:"sequence"`
	DocKey    string          `json:"doc_key"`
	Operation string          `json:"operation"`
	Paths     []string        `json:"paths,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	SourceID  string          `json:"source_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// Operation constants
const (
	OperationCreate = "create"
	OperationSet    = "set"
	OperationUpdate = "update"
	OperationToggle = "toggle"
)

// DeltaRequest selects change log entries after a sequence.
type DeltaRequest struct {
	After int64
	Limit int
}

// DeltaResponse is a page of change log entries.
type DeltaResponse struct {
	Changes        []Change `json:"changes"`
	LastSequence   int64    `json:"last_sequence"`
	LatestSequence int64    `json:"latest_sequence"`
	HasMore        bool     `json:"has_more"`
}

// Delta paging limits.
const (
	DefaultDeltaLimit = 100
	MaxDeltaLimit     = 1000
)
