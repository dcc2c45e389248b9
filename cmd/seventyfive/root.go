package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/seventyfive/internal/config"
	"github.com/hyperengineering/seventyfive/internal/logging"
	"github.com/hyperengineering/seventyfive/internal/store"
	"github.com/hyperengineering/seventyfive/internal/tracker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	dbPathOverride string
	jsonOutput     bool
)

var rootCmd = &cobra.Command{
	Use:           "seventyfive",
	Short:         "Seventyfive - shared 75-day challenge tracker",
	Long:          "Track a two-person 75-day challenge: serve the live API or read and update the shared document directly.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathOverride, "db", "",
		"SQLite database path (overrides config and SEVENTYFIVE_DB_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(weightCmd)
	rootCmd.AddCommand(caloriesCmd)
	rootCmd.AddCommand(startDateCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(compactCmd)
}

// app bundles what one-shot commands need. Close releases everything.
type app struct {
	cfg    *config.Config
	store  store.Store
	client *tracker.Client
	logger *slog.Logger
	logs   io.Closer
}

// openApp loads configuration and opens the store. Logs go to logOut so
// command output stays machine-readable.
func openApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPathOverride != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = dbPathOverride
	}

	logger, logs, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	s, err := openStore(ctx, cfg.Database)
	if err != nil {
		logs.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		store:  s,
		client: newClient(cfg, s, logger),
		logger: logger,
		logs:   logs,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}
	a.logs.Close()
}

// openStore opens the configured document store, running migrations for SQL
// backends.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
		}
		return s, nil
	}
}

func newClient(cfg *config.Config, s store.Store, logger *slog.Logger) *tracker.Client {
	return tracker.New(s, tracker.Config{
		Key:          cfg.Challenge.Key,
		Catalog:      cfg.TaskCatalog(),
		PollInterval: time.Duration(cfg.Challenge.PollInterval),
		WatchBuffer:  cfg.Challenge.WatchBuffer,
		PageSize:     cfg.Challenge.PageSize,
		Retry: tracker.RetryConfig{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  time.Duration(cfg.Retry.BaseDelay),
			MaxDelay:   time.Duration(cfg.Retry.MaxDelay),
		},
		Logger: logger,
	})
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
