package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/seventyfive/internal/api"
	"github.com/hyperengineering/seventyfive/internal/store"
	"github.com/hyperengineering/seventyfive/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Configuration, logging, store
	a, err := openApp(ctx, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()
	slog.SetDefault(a.logger)
	slog.Info("store initialized", "driver", a.cfg.Database.Driver, "doc_key", a.cfg.Challenge.Key)

	// 3. Make sure the document exists before serving
	if _, err := a.client.GetDocument(ctx); err != nil {
		return fmt.Errorf("initialize challenge document: %w", err)
	}

	// 4. HTTP router and server
	handler := api.NewHandler(a.client, Version)
	router := api.NewRouter(handler)
	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeout),
	}

	// 5. Workers
	var wg sync.WaitGroup
	if c, ok := a.store.(store.Compactor); ok {
		compactor := worker.NewCompactionWorker(c,
			time.Duration(a.cfg.Worker.CompactionInterval),
			time.Duration(a.cfg.Worker.ChangeRetention))
		startWorker(ctx, &wg, "compaction", compactor.Run)
	}
	clock := worker.NewDayClock(a.client, time.Duration(a.cfg.Worker.DayClockInterval), a.client.Now)
	startWorker(ctx, &wg, "day-clock", clock.Run)

	// 6. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 7. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 8. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
