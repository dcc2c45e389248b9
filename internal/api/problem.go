package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/seventyfive/internal/store"
	"github.com/hyperengineering/seventyfive/internal/tracker"
	"github.com/hyperengineering/seventyfive/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

const problemBase = "https://seventyfive.dev/errors/"

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusBadRequest: {
		typeURI: problemBase + "bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: problemBase + "not-found",
		title:   "Not Found",
	},
	http.StatusConflict: {
		typeURI: problemBase + "conflict",
		title:   "Conflict",
	},
	http.StatusGone: {
		typeURI: problemBase + "compacted",
		title:   "Gone",
	},
	http.StatusUnprocessableEntity: {
		typeURI: problemBase + "validation-error",
		title:   "Validation Error",
	},
	http.StatusInternalServerError: {
		typeURI: problemBase + "internal-error",
		title:   "Internal Server Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: problemBase + "service-unavailable",
		title:   "Service Unavailable",
	},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt.typeURI = problemBase + "unknown"
		pt.title = http.StatusText(status)
	}
	return Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	p := ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	}
	writeProblemBody(w, http.StatusUnprocessableEntity, p)
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapError converts tracker and store errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		WriteProblemWithErrors(w, r, "Request contains invalid fields", verr.Errors)
	case errors.Is(err, tracker.ErrValidation):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tracker.ErrVariantMismatch):
		WriteProblem(w, r, http.StatusConflict, "Day entry holds task data; toggle individual tasks instead")
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, store.ErrCompacted):
		WriteProblem(w, r, http.StatusGone, "Change log compacted past the requested sequence; reload the document")
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrClosed):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable, retry later")
	default:
		// Never expose internal error details to client
		slog.Error("request failed", "component", "api", "path", r.URL.Path, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
