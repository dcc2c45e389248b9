package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/progress"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the challenge summary every time it changes",
	Long: `Subscribe to the challenge document and print a summary line for
every committed change, from this or any other process. Stops on Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.client.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch challenge: %w", err)
	}

	out := cmd.OutOrStdout()
	for doc := range docs {
		if jsonOutput {
			if err := printJSON(out, doc); err != nil {
				return err
			}
			continue
		}
		printWatchLine(cmd, doc, a)
	}
	return nil
}

func printWatchLine(cmd *cobra.Command, doc *challenge.Document, a *app) {
	s := progress.Summarize(doc, a.client.Catalog(), a.client.Now())
	line := fmt.Sprintf("day %d (%d%%)", s.CurrentDay, s.Percent)
	for _, u := range s.Users {
		line += fmt.Sprintf("  %s %d/%d", u.Name, u.TodayDone, u.TodayTotal)
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
