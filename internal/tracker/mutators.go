package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/metrics"
	"github.com/hyperengineering/seventyfive/internal/store"
	"github.com/hyperengineering/seventyfive/internal/validation"
)

// Mutator names used in metrics and logs.
const (
	OpToggleDay      = "toggle_day"
	OpToggleTask     = "toggle_task"
	OpUpdateWeight   = "update_weight"
	OpUpdateCalories = "update_calories"
	OpUpdateStart    = "update_start_date"
	OpReset          = "reset"
)

// ToggleDayCompletion negates the whole-day flag for user on day and returns
// the new value. An absent flag counts as false.
func (c *Client) ToggleDayCompletion(ctx context.Context, day int, user string) (done bool, err error) {
	start := time.Now()
	defer func() { c.record(OpToggleDay, start, err, "day", day, "user", user) }()

	if err = c.validateEntry(day, user); err != nil {
		return false, err
	}
	done, err = c.toggle(ctx, entryPath(day, user))
	if errors.Is(err, store.ErrNotBoolean) {
		return false, fmt.Errorf("toggle day %d for %s: %w", day, user, ErrVariantMismatch)
	}
	return done, err
}

// ToggleTaskCompletion negates one task flag and returns the new value. A
// boolean day entry is promoted to the structured variant.
func (c *Client) ToggleTaskCompletion(ctx context.Context, day int, user, task string) (done bool, err error) {
	start := time.Now()
	defer func() { c.record(OpToggleTask, start, err, "day", day, "user", user, "task", task) }()

	if err = c.validateTask(day, user, task); err != nil {
		return false, err
	}
	return c.toggle(ctx, taskPath(day, user, task))
}

// UpdateWeight sets the recorded weight. An empty Measure is stored as "".
func (c *Client) UpdateWeight(ctx context.Context, day int, user string, weight challenge.Measure) (err error) {
	start := time.Now()
	defer func() { c.record(OpUpdateWeight, start, err, "day", day, "user", user) }()

	if err = c.validateEntry(day, user); err != nil {
		return err
	}
	return c.update(ctx, store.FieldUpdate{Path: weightPath(day, user), Value: weight})
}

// UpdateCalories replaces the food log with its normalized form.
func (c *Client) UpdateCalories(ctx context.Context, day int, user string, entries []challenge.FoodEntry) (err error) {
	start := time.Now()
	defer func() { c.record(OpUpdateCalories, start, err, "day", day, "user", user) }()

	if err = c.validateEntry(day, user); err != nil {
		return err
	}
	normalized := challenge.NormalizeFood(entries)
	if err = validateFood(normalized); err != nil {
		return err
	}
	return c.update(ctx, store.FieldUpdate{Path: caloriesPath(day, user), Value: normalized})
}

// UpdateStartDate replaces the start date. Day records are kept.
func (c *Client) UpdateStartDate(ctx context.Context, date string) (err error) {
	start := time.Now()
	defer func() { c.record(OpUpdateStart, start, err, "start_date", date) }()

	normalized, err := c.validateDate(date, true)
	if err != nil {
		return err
	}
	return c.update(ctx, store.FieldUpdate{Path: startDatePath(), Value: normalized})
}

// ResetChallenge overwrites the document with an empty one starting on date,
// or today when date is empty.
func (c *Client) ResetChallenge(ctx context.Context, date string) (err error) {
	start := time.Now()
	defer func() { c.record(OpReset, start, err, "start_date", date) }()

	normalized, err := c.validateDate(date, false)
	if err != nil {
		return err
	}
	if normalized == "" {
		normalized = challenge.Today(c.now())
	}

	body, err := json.Marshal(challenge.NewDocument(normalized))
	if err != nil {
		return fmt.Errorf("marshal reset document: %w", err)
	}
	return c.withRetry(ctx, "set", func(ctx context.Context) error {
		_, err := c.store.Set(c.writeContext(ctx), c.key, body)
		if err != nil {
			return fmt.Errorf("reset challenge: %w", err)
		}
		return nil
	})
}

// toggle flips the boolean at path atomically in the store, initializing the
// document first if it is missing.
func (c *Client) toggle(ctx context.Context, path store.Path) (bool, error) {
	var done bool
	err := c.withInit(ctx, func(ctx context.Context) error {
		return c.withRetry(ctx, "toggle", func(ctx context.Context) error {
			var err error
			_, done, err = c.store.Toggle(c.writeContext(ctx), c.key, path)
			return err
		})
	})
	if err != nil {
		return false, fmt.Errorf("toggle %s: %w", path, err)
	}
	return done, nil
}

func (c *Client) update(ctx context.Context, updates ...store.FieldUpdate) error {
	err := c.withInit(ctx, func(ctx context.Context) error {
		return c.withRetry(ctx, "update", func(ctx context.Context) error {
			_, err := c.store.Update(c.writeContext(ctx), c.key, updates)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", updates[0].Path, err)
	}
	return nil
}

// withInit runs fn and, if the document is missing, initializes it and runs
// fn once more.
func (c *Client) withInit(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if _, err := c.initialize(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func (c *Client) validateEntry(day int, user string) error {
	var v validation.Collector
	v.Add(validation.ValidateIntRange("day", day, 1, challenge.Length))
	v.Add(validation.ValidateEnum("user", user, challenge.UserKeys))
	return invalid(v.Err())
}

func (c *Client) validateTask(day int, user, task string) error {
	var v validation.Collector
	v.Add(validation.ValidateIntRange("day", day, 1, challenge.Length))
	v.Add(validation.ValidateEnum("user", user, challenge.UserKeys))
	if fe := validation.ValidateRequired("task", task); fe != nil {
		v.Add(fe)
	} else if c.catalog != nil && challenge.ValidUser(user) && !c.catalog.HasTask(user, task) {
		v.Add(&validation.ValidationError{Field: "task", Message: fmt.Sprintf("is not in %s's task list", user)})
	}
	return invalid(v.Err())
}

// MaxFoodNameLength bounds a food entry's name in characters.
const MaxFoodNameLength = 200

func validateFood(entries []challenge.FoodEntry) error {
	var v validation.Collector
	for i, e := range entries {
		field := fmt.Sprintf("calories[%d].food", i)
		v.Add(validation.ValidateUTF8(field, e.Food))
		v.Add(validation.ValidateNoNullBytes(field, e.Food))
		v.Add(validation.ValidateMaxLength(field, e.Food, MaxFoodNameLength))
	}
	return invalid(v.Err())
}

// validateDate checks a start date and returns it as YYYY-MM-DD. An empty
// date is allowed only when required is false.
func (c *Client) validateDate(date string, required bool) (string, error) {
	date = strings.TrimSpace(date)
	var v validation.Collector
	if date == "" {
		if required {
			v.Add(validation.ValidateRequired("start_date", date))
		}
		return "", invalid(v.Err())
	}
	t, ok := challenge.ParseDate(date)
	if !ok {
		v.Add(&validation.ValidationError{Field: "start_date", Message: "must be a date in YYYY-MM-DD form"})
		return "", invalid(v.Err())
	}
	return challenge.FormatDate(t), nil
}

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func (c *Client) record(op string, start time.Time, err error, attrs ...any) {
	status := "success"
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrVariantMismatch):
		status = "invalid"
	case err != nil:
		status = "error"
	}
	elapsed := time.Since(start)
	metrics.RecordMutation(op, status, elapsed.Seconds())

	attrs = append(attrs, "action", op, "status", status, "duration_ms", elapsed.Milliseconds())
	if status == "error" {
		c.logger.Error("mutation failed", append(attrs, "error", err)...)
		return
	}
	c.logger.Debug("mutation", attrs...)
}
