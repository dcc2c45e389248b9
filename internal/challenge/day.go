package challenge

import (
	"strings"
	"time"
)

// Phase describes where a date falls relative to the challenge window.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseComplete   Phase = "complete"
)

// ParseDate parses a start date in local time. Full RFC 3339 timestamps are
// accepted and reduced to their local calendar date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(DateLayout, s, time.Local); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return midnight(t.In(time.Local)), true
	}
	return time.Time{}, false
}

// FormatDate renders t's local calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.In(time.Local).Format(DateLayout)
}

// Today returns now's local calendar date as YYYY-MM-DD.
func Today(now time.Time) string {
	return FormatDate(now)
}

// DayNumber returns the unclamped 1-based day index of now relative to startDate.
// Dates before the start yield values below 1; ok is false when startDate is
// empty or malformed.
func DayNumber(startDate string, now time.Time) (day int, ok bool) {
	start, ok := ParseDate(startDate)
	if !ok {
		return 0, false
	}
	return daysBetween(start, now.In(time.Local)) + 1, true
}

// CurrentDay returns the day index clamped to [0, Length]. It returns 0 when
// the challenge has not started or startDate is unusable, and Length once the
// challenge window has passed.
func CurrentDay(startDate string, now time.Time) int {
	day, ok := DayNumber(startDate, now)
	if !ok || day < 1 {
		return 0
	}
	if day > Length {
		return Length
	}
	return day
}

// PhaseOf classifies now against the challenge window.
func PhaseOf(startDate string, now time.Time) Phase {
	day, ok := DayNumber(startDate, now)
	switch {
	case !ok || day < 1:
		return PhaseNotStarted
	case day > Length:
		return PhaseComplete
	default:
		return PhaseInProgress
	}
}

// DateOfDay returns the calendar date of a day index.
func DateOfDay(startDate string, day int) (time.Time, bool) {
	start, ok := ParseDate(startDate)
	if !ok {
		return time.Time{}, false
	}
	return start.AddDate(0, 0, day-1), true
}

// daysBetween counts whole calendar days from a to b, ignoring time of day and
// DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
