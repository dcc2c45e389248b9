package challenge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Length is the number of days in the challenge.
const Length = 75

// DateLayout is the ISO calendar date format used for startDate.
const DateLayout = "2006-01-02"

// User keys for the two participants.
const (
	User1 = "user1"
	User2 = "user2"
)

// UserKeys lists the participant keys in display order.
var UserKeys = []string{User1, User2}

// Document is the single shared challenge record.
type Document struct {
	StartDate string               `json:"startDate"`
	Days      map[string]DayRecord `json:"days"`
}

// DayRecord maps a user key to that user's entry for one day.
type DayRecord map[string]UserDay

// NewDocument returns the default document seeded with the given start date.
func NewDocument(startDate string) *Document {
	return &Document{
		StartDate: startDate,
		Days:      map[string]DayRecord{},
	}
}

// DayKey returns the map key for a day index.
func DayKey(day int) string {
	return strconv.Itoa(day)
}

// ValidDay reports whether day is inside [1, Length].
func ValidDay(day int) bool {
	return day >= 1 && day <= Length
}

// ValidUser reports whether key is one of the participant keys.
func ValidUser(key string) bool {
	return key == User1 || key == User2
}

// Day returns the record for a day. A missing day yields an empty record.
func (d *Document) Day(day int) DayRecord {
	if d == nil || d.Days == nil {
		return DayRecord{}
	}
	rec, ok := d.Days[DayKey(day)]
	if !ok || rec == nil {
		return DayRecord{}
	}
	return rec
}

// Entry returns the user's entry for a day. Missing entries are the zero UserDay.
func (d *Document) Entry(day int, user string) UserDay {
	return d.Day(day)[user]
}

// Clone returns a deep copy via JSON round trip.
func (d *Document) Clone() (*Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode parses a stored document. A null or missing days map is replaced with an empty one.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode challenge document: %w", err)
	}
	if doc.Days == nil {
		doc.Days = map[string]DayRecord{}
	}
	return &doc, nil
}

// EntryKind discriminates the two shapes a user's day entry can take.
type EntryKind int

const (
	// EntryNone means nothing was recorded.
	EntryNone EntryKind = iota
	// EntryFlag is the boolean whole-day completion variant.
	EntryFlag
	// EntryRecord is the structured per-task variant.
	EntryRecord
)

// UserDay is a tagged union over the boolean and structured entry shapes.
type UserDay struct {
	Kind   EntryKind
	Done   bool
	Record UserDayRecord
}

// FlagEntry builds a boolean-variant entry.
func FlagEntry(done bool) UserDay {
	return UserDay{Kind: EntryFlag, Done: done}
}

// RecordEntry builds a structured-variant entry.
func RecordEntry(rec UserDayRecord) UserDay {
	return UserDay{Kind: EntryRecord, Record: rec}
}

// TaskDone reports whether a task is marked complete. Boolean entries have no tasks.
func (u UserDay) TaskDone(task string) bool {
	if u.Kind != EntryRecord {
		return false
	}
	return u.Record.Tasks[task]
}

// Completed reports whole-day completion. For structured entries the day counts
// as complete when every task in tasks is done; an empty task list never completes.
func (u UserDay) Completed(tasks []string) bool {
	switch u.Kind {
	case EntryFlag:
		return u.Done
	case EntryRecord:
		if len(tasks) == 0 {
			return false
		}
		for _, t := range tasks {
			if !u.Record.Tasks[t] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON emits the shape selected by Kind.
func (u UserDay) MarshalJSON() ([]byte, error) {
	switch u.Kind {
	case EntryRecord:
		return json.Marshal(u.Record)
	case EntryFlag:
		return json.Marshal(u.Done)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON picks the variant from the stored shape.
func (u *UserDay) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*u = UserDay{}
		return nil
	case bytes.Equal(trimmed, []byte("true")), bytes.Equal(trimmed, []byte("false")):
		var done bool
		if err := json.Unmarshal(trimmed, &done); err != nil {
			return err
		}
		*u = FlagEntry(done)
		return nil
	case len(trimmed) > 0 && trimmed[0] == '{':
		var rec UserDayRecord
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return err
		}
		*u = RecordEntry(rec)
		return nil
	default:
		return fmt.Errorf("unsupported day entry %s", string(trimmed))
	}
}

// UserDayRecord is the structured per-user, per-day entry.
type UserDayRecord struct {
	Tasks    map[string]bool `json:"tasks,omitempty"`
	Weight   *Measure        `json:"weight,omitempty"`
	Calories []FoodEntry     `json:"calories,omitempty"`
}

// FoodEntry is one row of the food log.
type FoodEntry struct {
	Food     string  `json:"food"`
	Calories Measure `json:"calories"`
}

// Measure is a number that may be left empty. Empty values are stored as ""
// and are never coerced to zero.
type Measure struct {
	Value float64
	Valid bool
}

// Number returns a populated Measure.
func Number(v float64) Measure {
	return Measure{Value: v, Valid: true}
}

// Empty returns the "not recorded" Measure.
func Empty() Measure {
	return Measure{}
}

// ParseMeasure parses user text: blank is empty, unparsable text is 0.
func ParseMeasure(s string) Measure {
	s = strings.TrimSpace(s)
	if s == "" {
		return Empty()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Number(0)
	}
	return Number(v)
}

// String renders the value the way it is stored.
func (m Measure) String() string {
	if !m.Valid {
		return ""
	}
	return strconv.FormatFloat(m.Value, 'f', -1, 64)
}

// MarshalJSON writes a JSON number, or "" when empty.
func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte(`""`), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts a number, a numeric string, "" or null.
func (m *Measure) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*m = Empty()
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*m = ParseMeasure(s)
		return nil
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("measure must be a number or string: %w", err)
	}
	*m = Number(v)
	return nil
}
