package api

import (
	"fmt"
	"net/http"

	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/progress"
)

// ToggleResponse reports the value a toggle left behind.
type ToggleResponse struct {
	Day  int    `json:"day"`
	User string `json:"user"`
	Task string `json:"task,omitempty"`
	Done bool   `json:"done"`
}

// TaskRequest names the task to toggle.
type TaskRequest struct {
	Task string `json:"task"`
}

// WeightRequest carries a weight; "" or null clears it.
type WeightRequest struct {
	Weight *challenge.Measure `json:"weight"`
}

// CaloriesRequest replaces a day's food log.
type CaloriesRequest struct {
	Calories []challenge.FoodEntry `json:"calories"`
}

// StartDateRequest carries a YYYY-MM-DD date.
type StartDateRequest struct {
	StartDate string `json:"start_date"`
}

// ToggleDay handles POST /challenge/days/{day}/users/{user}/toggle
func (h *Handler) ToggleDay(w http.ResponseWriter, r *http.Request) {
	p, ok := h.togglableEntry(w, r)
	if !ok {
		return
	}
	done, err := h.client.ToggleDayCompletion(r.Context(), p.Day, p.User)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{Day: p.Day, User: p.User, Done: done})
}

// ToggleTask handles POST /challenge/days/{day}/users/{user}/tasks/toggle
func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	p, ok := h.togglableEntry(w, r)
	if !ok {
		return
	}
	done, err := h.client.ToggleTaskCompletion(r.Context(), p.Day, p.User, req.Task)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{Day: p.Day, User: p.User, Task: req.Task, Done: done})
}

// UpdateWeight handles PUT /challenge/days/{day}/users/{user}/weight
func (h *Handler) UpdateWeight(w http.ResponseWriter, r *http.Request) {
	p, err := parseEntryParams(r)
	if err != nil {
		MapError(w, r, err)
		return
	}
	var req WeightRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	weight := challenge.Empty()
	if req.Weight != nil {
		weight = *req.Weight
	}
	if err := h.client.UpdateWeight(r.Context(), p.Day, p.User, weight); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateCalories handles PUT /challenge/days/{day}/users/{user}/calories
func (h *Handler) UpdateCalories(w http.ResponseWriter, r *http.Request) {
	p, err := parseEntryParams(r)
	if err != nil {
		MapError(w, r, err)
		return
	}
	var req CaloriesRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if err := h.client.UpdateCalories(r.Context(), p.Day, p.User, req.Calories); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateStartDate handles PUT /challenge/start-date
func (h *Handler) UpdateStartDate(w http.ResponseWriter, r *http.Request) {
	var req StartDateRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if err := h.client.UpdateStartDate(r.Context(), req.StartDate); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reset handles POST /challenge/reset. An omitted start date means today.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req StartDateRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if err := h.client.ResetChallenge(r.Context(), req.StartDate); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// togglableEntry parses the route and refuses days that have not begun.
// Out-of-range days fall through to the tracker's validation.
func (h *Handler) togglableEntry(w http.ResponseWriter, r *http.Request) (entryParams, bool) {
	p, err := parseEntryParams(r)
	if err != nil {
		MapError(w, r, err)
		return p, false
	}
	if !challenge.ValidDay(p.Day) {
		return p, true
	}
	doc, err := h.client.GetDocument(r.Context())
	if err != nil {
		MapError(w, r, err)
		return p, false
	}
	if !progress.Togglable(doc, p.Day, h.client.Now()) {
		WriteProblem(w, r, http.StatusConflict, fmt.Sprintf("Day %d has not started yet", p.Day))
		return p, false
	}
	return p, true
}
