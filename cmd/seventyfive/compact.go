package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/seventyfive/internal/store"
	"github.com/hyperengineering/seventyfive/internal/worker"
)

var compactRetention time.Duration

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Prune old change log entries",
	Long: `Remove change log entries older than the retention window, keeping
the latest entry per document. Subscribers that fall behind the pruned
range resynchronize from a point read.`,
	Args: cobra.NoArgs,
	RunE: runCompact,
}

func init() {
	compactCmd.Flags().DurationVar(&compactRetention, "retention", 0,
		"Keep entries newer than this (defaults to the configured retention)")
}

func runCompact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	c, ok := a.store.(store.Compactor)
	if !ok {
		return fmt.Errorf("driver %q does not keep a compactable change log", a.cfg.Database.Driver)
	}
	retention := compactRetention
	if retention == 0 {
		retention = time.Duration(a.cfg.Worker.ChangeRetention)
	}

	deleted, err := worker.NewCompactionWorker(c, 0, retention).CompactOnce(ctx)
	if err != nil {
		return fmt.Errorf("compact change log: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d change log entries\n", deleted)
	return nil
}
