package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/progress"
)

var (
	dayFlag       int
	resetYes      bool
	errNotStarted = errors.New("challenge has not started yet")
)

var toggleCmd = &cobra.Command{
	Use:   "toggle <user>",
	Short: "Toggle a user's whole-day completion",
	Long: `Toggle the completion flag for a user. Defaults to today.

Examples:
  seventyfive toggle user1
  seventyfive toggle abi --day 3`,
	Args: cobra.ExactArgs(1),
	RunE: runToggle,
}

var taskCmd = &cobra.Command{
	Use:   "task <user> <task...>",
	Short: "Toggle one task for a user",
	Long: `Toggle a task from the user's task list. Multi-word task names may
be passed unquoted.

Examples:
  seventyfive task user1 steps
  seventyfive task will brush teeth (am) --day 2`,
	Args: cobra.MinimumNArgs(2),
	RunE: runTask,
}

var weightCmd = &cobra.Command{
	Use:   "weight <user> [value]",
	Short: "Record or clear a user's weight",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runWeight,
}

var caloriesCmd = &cobra.Command{
	Use:   "calories <user> [food=calories...]",
	Short: "Replace a user's food log",
	Long: `Replace the food log for a user. Entries are food=calories pairs;
no entries clears the log.

Examples:
  seventyfive calories user1 oats=350 "chicken salad=520"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCalories,
}

var startDateCmd = &cobra.Command{
	Use:   "start-date <YYYY-MM-DD>",
	Short: "Move the challenge start date, keeping recorded days",
	Args:  cobra.ExactArgs(1),
	RunE:  runStartDate,
}

var resetCmd = &cobra.Command{
	Use:   "reset [YYYY-MM-DD]",
	Short: "Discard all progress and restart the challenge",
	Long: `Replace the challenge with an empty one starting on the given date,
or today. Requires --yes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func init() {
	for _, c := range []*cobra.Command{toggleCmd, taskCmd, weightCmd, caloriesCmd} {
		c.Flags().IntVar(&dayFlag, "day", 0, "Challenge day (1-75); defaults to today")
	}
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm the reset")
}

// targetDay resolves --day against the current day. Future days are refused
// so nothing can be ticked off ahead of time.
func targetDay(ctx context.Context, a *app) (int, error) {
	doc, err := a.client.GetDocument(ctx)
	if err != nil {
		return 0, fmt.Errorf("read challenge: %w", err)
	}
	now := a.client.Now()
	day := dayFlag
	if day == 0 {
		day = challenge.CurrentDay(doc.StartDate, now)
		if day == 0 {
			return 0, errNotStarted
		}
	}
	if !challenge.ValidDay(day) {
		return 0, fmt.Errorf("day must be between 1 and %d", challenge.Length)
	}
	if !progress.Togglable(doc, day, now) {
		return 0, fmt.Errorf("day %d has not started yet", day)
	}
	return day, nil
}

func runToggle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := resolveUser(a.client.Catalog(), args[0])
	if err != nil {
		return err
	}
	day, err := targetDay(ctx, a)
	if err != nil {
		return err
	}
	done, err := a.client.ToggleDayCompletion(ctx, day, user)
	if err != nil {
		return err
	}
	return printToggle(cmd, day, user, "", done)
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := resolveUser(a.client.Catalog(), args[0])
	if err != nil {
		return err
	}
	task := strings.ToLower(strings.Join(args[1:], " "))
	day, err := targetDay(ctx, a)
	if err != nil {
		return err
	}
	done, err := a.client.ToggleTaskCompletion(ctx, day, user, task)
	if err != nil {
		return err
	}
	return printToggle(cmd, day, user, task, done)
}

type toggleResult struct {
	Day  int    `json:"day"`
	User string `json:"user"`
	Task string `json:"task,omitempty"`
	Done bool   `json:"done"`
}

func printToggle(cmd *cobra.Command, day int, user, task string, done bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, toggleResult{Day: day, User: user, Task: task, Done: done})
	}
	state := "not done"
	if done {
		state = "done"
	}
	if task != "" {
		fmt.Fprintf(out, "Day %d: %s %q is %s\n", day, user, task, state)
		return nil
	}
	fmt.Fprintf(out, "Day %d: %s is %s\n", day, user, state)
	return nil
}

func runWeight(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := resolveUser(a.client.Catalog(), args[0])
	if err != nil {
		return err
	}
	weight := challenge.Empty()
	if len(args) == 2 {
		if weight, err = parseNumber(args[1]); err != nil {
			return fmt.Errorf("weight: %w", err)
		}
	}
	day, err := targetDay(ctx, a)
	if err != nil {
		return err
	}
	if err := a.client.UpdateWeight(ctx, day, user, weight); err != nil {
		return err
	}
	if weight.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "Day %d: %s weight set to %s\n", day, user, weight)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Day %d: %s weight cleared\n", day, user)
	}
	return nil
}

// parseNumber is stricter than challenge.ParseMeasure: text that is not a
// number is an error rather than 0. Blank input is an empty Measure.
func parseNumber(s string) (challenge.Measure, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return challenge.Empty(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return challenge.Measure{}, fmt.Errorf("%q is not a number", s)
	}
	return challenge.Number(v), nil
}

// parseFood reads food=calories pairs. The last '=' separates the two so
// food names may contain '='.
func parseFood(args []string) ([]challenge.FoodEntry, error) {
	entries := make([]challenge.FoodEntry, 0, len(args))
	for _, arg := range args {
		i := strings.LastIndex(arg, "=")
		if i < 0 {
			return nil, fmt.Errorf("food entry %q must be food=calories", arg)
		}
		cal, err := parseNumber(arg[i+1:])
		if err != nil {
			return nil, fmt.Errorf("calories in %q: %w", arg, err)
		}
		entries = append(entries, challenge.FoodEntry{Food: arg[:i], Calories: cal})
	}
	return entries, nil
}

func runCalories(cmd *cobra.Command, args []string) error {
	entries, err := parseFood(args[1:])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := resolveUser(a.client.Catalog(), args[0])
	if err != nil {
		return err
	}
	day, err := targetDay(ctx, a)
	if err != nil {
		return err
	}
	if err := a.client.UpdateCalories(ctx, day, user, entries); err != nil {
		return err
	}
	normalized := challenge.NormalizeFood(entries)
	fmt.Fprintf(cmd.OutOrStdout(), "Day %d: %s logged %d item(s), %g kcal\n",
		day, user, len(normalized), challenge.CalorieTotal(normalized))
	return nil
}

func runStartDate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.UpdateStartDate(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Start date set to %s\n", strings.TrimSpace(args[0]))
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return errors.New("reset discards all progress; pass --yes to confirm")
	}
	date := ""
	if len(args) == 1 {
		date = args[0]
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.ResetChallenge(ctx, date); err != nil {
		return err
	}
	doc, err := a.client.GetDocument(ctx)
	if err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Challenge reset, starting %s\n", doc.StartDate)
	return nil
}
