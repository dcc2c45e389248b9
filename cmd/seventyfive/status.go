package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/seventyfive/internal/catalog"
	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show challenge progress",
	Long: `Show the current day, overall progress and each participant's
completion for today.

Examples:
  seventyfive status
  seventyfive status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.client.GetDocument(ctx)
	if err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	summary := progress.Summarize(doc, a.client.Catalog(), a.client.Now())

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, summary)
	}

	fmt.Fprintf(out, "Start date:  %s\n", summary.StartDate)
	switch summary.Phase {
	case challenge.PhaseNotStarted:
		fmt.Fprintf(out, "Status:      starts in %d day(s)\n", 1-summary.DayNumber)
	case challenge.PhaseComplete:
		fmt.Fprintf(out, "Status:      complete\n")
	default:
		fmt.Fprintf(out, "Status:      day %d of %d\n", summary.CurrentDay, challenge.Length)
	}
	fmt.Fprintf(out, "Progress:    %d%%\n\n", summary.Percent)

	w := newTabWriter(out)
	fmt.Fprintln(w, "USER\tDAYS DONE\tTODAY\tCALORIES\tWEIGHT")
	for _, u := range summary.Users {
		weight := "-"
		if u.LatestWeight != nil {
			weight = fmt.Sprintf("%g", *u.LatestWeight)
		}
		today := fmt.Sprintf("%d/%d", u.TodayDone, u.TodayTotal)
		if u.TodayComplete {
			today += " ✓"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%g\t%s\n", u.Name, u.CompletedDays, today, u.CaloriesToday, weight)
	}
	return w.Flush()
}

// resolveUser accepts a user key or a display name.
func resolveUser(cat *catalog.Catalog, arg string) (string, error) {
	if challenge.ValidUser(arg) {
		return arg, nil
	}
	for _, u := range cat.Users() {
		if strings.EqualFold(u.Name, arg) {
			return u.Key, nil
		}
	}
	return "", fmt.Errorf("unknown user %q (want one of %s)", arg, strings.Join(challenge.UserKeys, ", "))
}
