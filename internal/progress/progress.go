// Package progress derives read-only views of a challenge document: the
// dashboard summary, the 75-day calendar, and weight history.
package progress

import (
	"math"
	"time"

	"github.com/hyperengineering/seventyfive/internal/catalog"
	"github.com/hyperengineering/seventyfive/internal/challenge"
)

// UserProgress is one participant's standing.
type UserProgress struct {
	User          string   `json:"user"`
	Name          string   `json:"name"`
	CompletedDays int      `json:"completed_days"`
	TodayDone     int      `json:"today_done"`
	TodayTotal    int      `json:"today_total"`
	TodayComplete bool     `json:"today_complete"`
	CaloriesToday float64  `json:"calories_today"`
	LatestWeight  *float64 `json:"latest_weight,omitempty"`
}

// Summary is the dashboard view of the challenge.
type Summary struct {
	StartDate    string          `json:"start_date"`
	CurrentDay   int             `json:"current_day"`
	DayNumber    int             `json:"day_number"`
	Phase        challenge.Phase `json:"phase"`
	Percent      int             `json:"percent"`
	DaysRecorded int             `json:"days_recorded"`
	Users        []UserProgress  `json:"users"`
}

// Summarize computes the summary at now. cat supplies task lists and display
// names; it may be nil.
func Summarize(doc *challenge.Document, cat *catalog.Catalog, now time.Time) Summary {
	day := challenge.CurrentDay(doc.StartDate, now)
	number, _ := challenge.DayNumber(doc.StartDate, now)
	phase := challenge.PhaseOf(doc.StartDate, now)

	s := Summary{
		StartDate:    doc.StartDate,
		CurrentDay:   day,
		DayNumber:    number,
		Phase:        phase,
		Percent:      Percent(day, phase),
		DaysRecorded: DaysRecorded(doc),
	}
	for _, user := range challenge.UserKeys {
		s.Users = append(s.Users, userProgress(doc, cat, user, day))
	}
	return s
}

// Percent is the share of the challenge elapsed, rounded to a whole percent.
func Percent(day int, phase challenge.Phase) int {
	switch {
	case phase == challenge.PhaseComplete:
		return 100
	case day < 1:
		return 0
	}
	return int(math.Round(float64(day) / challenge.Length * 100))
}

// DaysRecorded counts in-range days with any entry.
func DaysRecorded(doc *challenge.Document) int {
	n := 0
	for d := 1; d <= challenge.Length; d++ {
		for _, entry := range doc.Day(d) {
			if entry.Kind != challenge.EntryNone {
				n++
				break
			}
		}
	}
	return n
}

func userProgress(doc *challenge.Document, cat *catalog.Catalog, user string, today int) UserProgress {
	var tasks []string
	name := user
	if cat != nil {
		tasks = cat.TasksFor(user)
		name = cat.DisplayName(user)
	}

	p := UserProgress{User: user, Name: name, TodayTotal: len(tasks)}
	for d := 1; d <= challenge.Length; d++ {
		entry := doc.Entry(d, user)
		if entry.Completed(tasks) {
			p.CompletedDays++
		}
		if w := entry.Record.Weight; entry.Kind == challenge.EntryRecord && w != nil && w.Valid {
			v := w.Value
			p.LatestWeight = &v
		}
	}

	if today >= 1 {
		entry := doc.Entry(today, user)
		for _, t := range tasks {
			if entry.TaskDone(t) {
				p.TodayDone++
			}
		}
		p.TodayComplete = entry.Completed(tasks)
		p.CaloriesToday = challenge.CalorieTotal(entry.Record.Calories)
	}
	return p
}
