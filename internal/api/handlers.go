package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/seventyfive/internal/catalog"
	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/progress"
	"github.com/hyperengineering/seventyfive/internal/tracker"
)

// maxBodyBytes caps request bodies; a food log is the largest legitimate one.
const maxBodyBytes = 1 << 20

// Handler implements the API handlers
type Handler struct {
	client  *tracker.Client
	catalog *catalog.Catalog
	version string
	options handlerOptions
}

// NewHandler creates a Handler serving the client's challenge document.
func NewHandler(c *tracker.Client, version string, opts ...Option) *Handler {
	cat := c.Catalog()
	if cat == nil {
		cat = catalog.Default()
	}
	o := defaultHandlerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Handler{client: c, catalog: cat, version: version, options: o}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	DocKey     string `json:"doc_key"`
	Sequence   int64  `json:"sequence"`
	CurrentDay int    `json:"current_day"`
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snap, err := h.client.Snapshot(r.Context())
	if err != nil {
		slog.Warn("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	doc, err := challenge.Decode(snap.Data)
	if err != nil {
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		DocKey:     h.client.Key(),
		Sequence:   snap.Sequence,
		CurrentDay: challenge.CurrentDay(doc.StartDate, h.client.Now()),
	})
}

// DocumentResponse is the stored document and its change log position.
type DocumentResponse struct {
	Sequence int64           `json:"sequence"`
	Document json.RawMessage `json:"document"`
}

// GetChallenge handles GET /challenge
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	snap, err := h.client.Snapshot(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(snap.Sequence, 10)))
	writeJSON(w, http.StatusOK, DocumentResponse{Sequence: snap.Sequence, Document: snap.Data})
}

// Summary handles GET /challenge/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	doc, err := h.client.GetDocument(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress.Summarize(doc, h.catalog, h.client.Now()))
}

// Calendar handles GET /challenge/calendar
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	doc, err := h.client.GetDocument(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress.Calendar(doc, h.catalog, h.client.Now()))
}

// WeightsResponse is one user's weight history.
type WeightsResponse struct {
	User   string                 `json:"user"`
	Name   string                 `json:"name"`
	Points []progress.WeightPoint `json:"points"`
	Change *float64               `json:"change,omitempty"`
}

// Weights handles GET /challenge/weights/{user}
func (h *Handler) Weights(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if !challenge.ValidUser(user) {
		WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("Unknown user %q", user))
		return
	}
	doc, err := h.client.GetDocument(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}

	resp := WeightsResponse{User: user, Name: h.catalog.DisplayName(user), Points: progress.WeightSeries(doc, user)}
	if delta, ok := progress.WeightChange(resp.Points); ok {
		resp.Change = &delta
	}
	writeJSON(w, http.StatusOK, resp)
}

// CatalogTask is a task with its display label.
type CatalogTask struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// CatalogUser is one participant's task list.
type CatalogUser struct {
	Key   string        `json:"key"`
	Name  string        `json:"name"`
	Tasks []CatalogTask `json:"tasks"`
}

// Catalog handles GET /catalog
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	users := h.catalog.Users()
	resp := make([]CatalogUser, 0, len(users))
	for _, u := range users {
		cu := CatalogUser{Key: u.Key, Name: u.Name, Tasks: make([]CatalogTask, 0, len(u.Tasks))}
		for _, t := range u.Tasks {
			cu.Tasks = append(cu.Tasks, CatalogTask{Name: t, Label: catalog.FormatTaskName(t)})
		}
		resp = append(resp, cu)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": resp})
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF) && allowEmpty:
		return true
	case errors.Is(err, io.EOF):
		WriteProblem(w, r, http.StatusBadRequest, "Request body is required")
	default:
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
