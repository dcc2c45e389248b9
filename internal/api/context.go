package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/seventyfive/internal/validation"
)

// entryParams are the day and user addressed by a mutator route.
type entryParams struct {
	Day  int
	User string
}

// parseEntryParams reads {day} and {user} from the route. Range and
// membership checks are left to the tracker so both surfaces agree.
func parseEntryParams(r *http.Request) (entryParams, error) {
	var v validation.Collector
	p := entryParams{User: chi.URLParam(r, "user")}

	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil {
		v.Add(&validation.ValidationError{Field: "day", Message: "must be an integer"})
	}
	p.Day = day
	return p, v.Err()
}
