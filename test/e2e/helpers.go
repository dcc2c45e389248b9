// Package e2e runs several API nodes over one shared database, the way
// separate server processes share a deployment, and checks that every node
// converges on the same document.
package e2e

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/seventyfive/internal/api"
	"github.com/hyperengineering/seventyfive/internal/catalog"
	"github.com/hyperengineering/seventyfive/internal/store"
	"github.com/hyperengineering/seventyfive/internal/tracker"
	"github.com/hyperengineering/seventyfive/pkg/client"
)

// fixedNow puts today on day 4 of a challenge started 2024-03-07.
var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)

const startDate = "2024-03-07"

// node is one API server with its own store handle.
type node struct {
	store   store.Store
	tracker *tracker.Client
	server  *httptest.Server
	client  *client.Client
}

// backend opens a fresh handle onto the shared database.
type backend func(t *testing.T) store.Store

// backends returns an opener per shared database kind. Postgres runs only
// when SEVENTYFIVE_TEST_POSTGRES_DSN is set.
func backends(t *testing.T) map[string]backend {
	t.Helper()
	b := map[string]backend{
		"sqlite": sqliteBackend(filepath.Join(t.TempDir(), "shared.db")),
	}
	if dsn := os.Getenv("SEVENTYFIVE_TEST_POSTGRES_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) store.Store {
			s, err := store.NewPostgresStore(context.Background(), dsn)
			if err != nil {
				t.Fatalf("NewPostgresStore failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

func sqliteBackend(path string) backend {
	return func(t *testing.T) store.Store {
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}
}

// forEachBackend runs fn with two nodes on a fresh document of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, a, b *node)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := "e2e-" + ulid.Make().String()
			a := startNode(t, open, key)
			b := startNode(t, open, key)
			if err := a.tracker.ResetChallenge(context.Background(), startDate); err != nil {
				t.Fatalf("ResetChallenge failed: %v", err)
			}
			fn(t, a, b)
		})
	}
}

func startNode(t *testing.T, open backend, key string) *node {
	t.Helper()
	s := open(t)
	tc := tracker.New(s, tracker.Config{
		Catalog:      catalog.Default(),
		Key:          key,
		Now:          func() time.Time { return fixedNow },
		PollInterval: 25 * time.Millisecond,
	})
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(tc, "e2e")))
	t.Cleanup(srv.Close)

	c, err := client.New(client.Config{
		BaseURL:      srv.URL,
		PollInterval: 25 * time.Millisecond,
		RetryDelay:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	return &node{store: s, tracker: tc, server: srv, client: c}
}
