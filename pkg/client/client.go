// Package client is a Go client for the seventyfive HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/progress"
	challengesync "github.com/hyperengineering/seventyfive/internal/sync"
)

// SourceHeader identifies the writer on every request.
const SourceHeader = "X-Source-ID"

// Config holds the client configuration.
type Config struct {
	BaseURL      string        // Server root, e.g. http://localhost:8075
	SourceID     string        // ULID stamped on writes (default: generated)
	HTTPClient   *http.Client  // default: 30s timeout
	PollInterval time.Duration // Watch polling interval (default: 2s)
	MaxRetries   int           // Retries for idempotent requests on 503 (default: 3, negative disables)
	RetryDelay   time.Duration // Base backoff delay (default: 100ms)
}

// Client talks to one seventyfive server.
type Client struct {
	base    *url.URL
	source  string
	http    *http.Client
	poll    time.Duration
	retries int
	delay   time.Duration
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if cfg.SourceID == "" {
		cfg.SourceID = ulid.Make().String()
	} else if _, err := ulid.ParseStrict(cfg.SourceID); err != nil {
		return nil, fmt.Errorf("source ID must be a ULID: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &Client{
		base:    base,
		source:  cfg.SourceID,
		http:    cfg.HTTPClient,
		poll:    cfg.PollInterval,
		retries: cfg.MaxRetries,
		delay:   cfg.RetryDelay,
	}, nil
}

// SourceID returns the ULID sent with every request.
func (c *Client) SourceID() string {
	return c.source
}

// Health is the server health report.
type Health struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	DocKey     string `json:"doc_key"`
	Sequence   int64  `json:"sequence"`
	CurrentDay int    `json:"current_day"`
}

// Health checks connectivity.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Document returns the challenge document and its change log sequence.
func (c *Client) Document(ctx context.Context) (*challenge.Document, int64, error) {
	var resp struct {
		Sequence int64           `json:"sequence"`
		Document json.RawMessage `json:"document"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/challenge", nil, nil, &resp); err != nil {
		return nil, 0, err
	}
	doc, err := challenge.Decode(resp.Document)
	if err != nil {
		return nil, 0, fmt.Errorf("decode document: %w", err)
	}
	return doc, resp.Sequence, nil
}

// Summary returns the progress summary.
func (c *Client) Summary(ctx context.Context) (*progress.Summary, error) {
	var s progress.Summary
	if err := c.do(ctx, http.MethodGet, "/api/v1/challenge/summary", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Calendar returns the 75 calendar cells.
func (c *Client) Calendar(ctx context.Context) ([]progress.CalendarDay, error) {
	var days []progress.CalendarDay
	if err := c.do(ctx, http.MethodGet, "/api/v1/challenge/calendar", nil, nil, &days); err != nil {
		return nil, err
	}
	return days, nil
}

// Weights is one user's weight history.
type Weights struct {
	User   string                 `json:"user"`
	Name   string                 `json:"name"`
	Points []progress.WeightPoint `json:"points"`
	Change *float64               `json:"change,omitempty"`
}

// Weights returns the weight history for user.
func (c *Client) Weights(ctx context.Context, user string) (*Weights, error) {
	var w Weights
	if err := c.do(ctx, http.MethodGet, "/api/v1/challenge/weights/"+url.PathEscape(user), nil, nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
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

// Catalog returns every participant's task list.
func (c *Client) Catalog(ctx context.Context) ([]CatalogUser, error) {
	var resp struct {
		Users []CatalogUser `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/catalog", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

type toggleResponse struct {
	Done bool `json:"done"`
}

func entryPath(day int, user, action string) string {
	return fmt.Sprintf("/api/v1/challenge/days/%d/users/%s/%s", day, url.PathEscape(user), action)
}

// ToggleDay flips the whole-day flag and returns the new value.
func (c *Client) ToggleDay(ctx context.Context, day int, user string) (bool, error) {
	var resp toggleResponse
	if err := c.do(ctx, http.MethodPost, entryPath(day, user, "toggle"), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Done, nil
}

// ToggleTask flips one task and returns the new value.
func (c *Client) ToggleTask(ctx context.Context, day int, user, task string) (bool, error) {
	var resp toggleResponse
	body := map[string]string{"task": task}
	if err := c.do(ctx, http.MethodPost, entryPath(day, user, "tasks/toggle"), nil, body, &resp); err != nil {
		return false, err
	}
	return resp.Done, nil
}

// UpdateWeight records a weight. An empty Measure clears it.
func (c *Client) UpdateWeight(ctx context.Context, day int, user string, weight challenge.Measure) error {
	body := map[string]challenge.Measure{"weight": weight}
	return c.do(ctx, http.MethodPut, entryPath(day, user, "weight"), nil, body, nil)
}

// UpdateCalories replaces the food log.
func (c *Client) UpdateCalories(ctx context.Context, day int, user string, entries []challenge.FoodEntry) error {
	if entries == nil {
		entries = []challenge.FoodEntry{}
	}
	body := map[string][]challenge.FoodEntry{"calories": entries}
	return c.do(ctx, http.MethodPut, entryPath(day, user, "calories"), nil, body, nil)
}

// UpdateStartDate moves the start date, keeping recorded days.
func (c *Client) UpdateStartDate(ctx context.Context, date string) error {
	body := map[string]string{"start_date": date}
	return c.do(ctx, http.MethodPut, "/api/v1/challenge/start-date", nil, body, nil)
}

// Reset restarts the challenge on date, or today when date is empty.
func (c *Client) Reset(ctx context.Context, date string) error {
	var body any
	if date != "" {
		body = map[string]string{"start_date": date}
	}
	return c.do(ctx, http.MethodPost, "/api/v1/challenge/reset", nil, body, nil)
}

// Delta returns change log entries after the given sequence. It returns an
// error matching ErrCompacted when the server no longer has them.
func (c *Client) Delta(ctx context.Context, after int64, limit int) (*challengesync.DeltaResponse, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp challengesync.DeltaResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/challenge/sync/delta", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends one request and decodes a JSON response into out. Safe and
// idempotent methods are retried while the server answers 503.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	u := *c.base
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	attempt := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set(SourceHeader, c.source)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return decodeError(resp)
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
		return nil
	}

	if c.retries < 0 || method == http.MethodPost {
		return attempt(ctx)
	}
	b := retry.WithMaxRetries(uint64(c.retries), retry.NewExponential(c.delay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := attempt(ctx)
		if errors.Is(err, ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Title == "" {
		apiErr.Title = http.StatusText(resp.StatusCode)
		apiErr.Detail = strings.TrimSpace(string(data))
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
