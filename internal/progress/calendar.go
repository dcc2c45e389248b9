package progress

import (
	"time"

	"github.com/hyperengineering/seventyfive/internal/catalog"
	"github.com/hyperengineering/seventyfive/internal/challenge"
)

// CalendarDay is one cell of the challenge calendar.
type CalendarDay struct {
	Day    int             `json:"day"`
	Date   string          `json:"date,omitempty"`
	Today  bool            `json:"today"`
	Future bool            `json:"future"`
	Done   map[string]bool `json:"done"`
}

// Calendar returns all 75 days with per-user completion. Days after the
// current day are marked Future; before the challenge starts every day is.
func Calendar(doc *challenge.Document, cat *catalog.Catalog, now time.Time) []CalendarDay {
	current := challenge.CurrentDay(doc.StartDate, now)
	// A finished challenge has no today cell.
	today := current
	if challenge.PhaseOf(doc.StartDate, now) == challenge.PhaseComplete {
		today = 0
	}
	days := make([]CalendarDay, 0, challenge.Length)
	for d := 1; d <= challenge.Length; d++ {
		cell := CalendarDay{
			Day:    d,
			Today:  d == today,
			Future: d > current,
			Done:   make(map[string]bool, len(challenge.UserKeys)),
		}
		if t, ok := challenge.DateOfDay(doc.StartDate, d); ok {
			cell.Date = challenge.FormatDate(t)
		}
		for _, user := range challenge.UserKeys {
			var tasks []string
			if cat != nil {
				tasks = cat.TasksFor(user)
			}
			cell.Done[user] = doc.Entry(d, user).Completed(tasks)
		}
		days = append(days, cell)
	}
	return days
}

// Togglable reports whether day may be toggled at now. Future days and days
// outside the challenge may not.
func Togglable(doc *challenge.Document, day int, now time.Time) bool {
	return challenge.ValidDay(day) && day <= challenge.CurrentDay(doc.StartDate, now)
}
