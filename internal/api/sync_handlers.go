package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	challengesync "github.com/hyperengineering/seventyfive/internal/sync"
)

// SyncDelta handles GET /challenge/sync/delta
func (h *Handler) SyncDelta(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := parseDeltaRequest(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.client.Delta(r.Context(), req.After, req.Limit)
	if err != nil {
		slog.Warn("delta query failed",
			"component", "api",
			"action", "sync_delta_failed",
			"after", req.After,
			"error", err,
		)
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)

	slog.Debug("sync delta served",
		"component", "api",
		"action", "sync_delta",
		"after", req.After,
		"limit", req.Limit,
		"entries_returned", len(resp.Changes),
		"last_sequence", resp.LastSequence,
		"latest_sequence", resp.LatestSequence,
		"has_more", resp.HasMore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// parseDeltaRequest extracts and validates query parameters for GET /sync/delta.
func parseDeltaRequest(r *http.Request) (challengesync.DeltaRequest, error) {
	var req challengesync.DeltaRequest

	// Parse after (required)
	afterStr := r.URL.Query().Get("after")
	if afterStr == "" {
		return req, fmt.Errorf("missing required query parameter: after")
	}

	after, err := strconv.ParseInt(afterStr, 10, 64)
	if err != nil {
		return req, fmt.Errorf("invalid after parameter: must be an integer")
	}
	if after < 0 {
		return req, fmt.Errorf("invalid after parameter: must be >= 0")
	}
	req.After = after

	// Parse limit (optional)
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		req.Limit = challengesync.DefaultDeltaLimit
	} else {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return req, fmt.Errorf("invalid limit parameter: must be an integer")
		}
		if limit < 1 {
			return req, fmt.Errorf("invalid limit parameter: must be >= 1")
		}
		if limit > challengesync.MaxDeltaLimit {
			limit = challengesync.MaxDeltaLimit
		}
		req.Limit = limit
	}

	return req, nil
}

// Events handles GET /challenge/events, a Server-Sent Events stream that
// sends the full document on connect and after every committed change.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := h.client.Watch(ctx)
	if err != nil {
		MapError(w, r, err)
		return
	}

	// The server write timeout would otherwise cut the stream.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Warn("clear write deadline failed", "component", "api", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	slog.Info("event stream opened", "component", "api", "action", "events", "remote_ip", r.RemoteAddr)
	defer slog.Info("event stream closed", "component", "api", "action", "events", "remote_ip", r.RemoteAddr)

	heartbeat := time.NewTicker(h.options.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case doc, ok := <-docs:
			if !ok {
				return
			}
			data, err := json.Marshal(doc)
			if err != nil {
				slog.Error("encode event failed", "component", "api", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: document\ndata: %s\n\n", data); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
