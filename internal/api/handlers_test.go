package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/seventyfive/internal/catalog"
	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/progress"
	"github.com/hyperengineering/seventyfive/internal/store"
	"github.com/hyperengineering/seventyfive/internal/tracker"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)

type testEnv struct {
	client *tracker.Client
	store  *store.MemoryStore
	router http.Handler
}

// newTestEnv serves a challenge that started on 2024-03-07, so today is day 4.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	c := tracker.New(s, tracker.Config{
		Catalog:      catalog.Default(),
		PollInterval: 20 * time.Millisecond,
		Now:          func() time.Time { return fixedNow },
	})
	if err := c.ResetChallenge(context.Background(), "2024-03-07"); err != nil {
		t.Fatalf("ResetChallenge failed: %v", err)
	}
	h := NewHandler(c, "test", WithHeartbeat(50*time.Millisecond))
	return &testEnv{client: c, store: s, router: NewRouter(h)}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) document(t *testing.T) *challenge.Document {
	t.Helper()
	doc, err := e.client.GetDocument(context.Background())
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	return doc
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "healthy" || resp.Version != "test" || resp.DocKey != tracker.DefaultKey || resp.CurrentDay != 4 {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_StoreClosed(t *testing.T) {
	env := newTestEnv(t)
	env.store.Close()

	w := env.do(t, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestGetChallenge(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/challenge", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[DocumentResponse](t, w)
	if string(resp.Document) != `{"startDate":"2024-03-07","days":{}}` {
		t.Errorf("document = %s", resp.Document)
	}
	if w.Header().Get("ETag") != `"`+jsonInt(resp.Sequence)+`"` {
		t.Errorf("ETag = %q, sequence = %d", w.Header().Get("ETag"), resp.Sequence)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestToggleDay(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/challenge/days/2/users/user1/toggle"

	// When: Toggling twice
	first := env.do(t, http.MethodPost, path, "")
	second := env.do(t, http.MethodPost, path, "")

	// Then: The flag flips on and back off
	if first.Code != http.StatusOK || !decode[ToggleResponse](t, first).Done {
		t.Errorf("first toggle = %d %s", first.Code, first.Body)
	}
	if second.Code != http.StatusOK || decode[ToggleResponse](t, second).Done {
		t.Errorf("second toggle = %d %s", second.Code, second.Body)
	}
	entry := env.document(t).Entry(2, challenge.User1)
	if entry.Kind != challenge.EntryFlag || entry.Done {
		t.Errorf("stored entry = %+v", entry)
	}
}

func TestToggleDay_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		field  string
	}{
		{"future day", "/api/v1/challenge/days/5/users/user1/toggle", http.StatusConflict, ""},
		{"day beyond challenge", "/api/v1/challenge/days/76/users/user1/toggle", http.StatusUnprocessableEntity, "day"},
		{"day zero", "/api/v1/challenge/days/0/users/user1/toggle", http.StatusUnprocessableEntity, "day"},
		{"non-integer day", "/api/v1/challenge/days/four/users/user1/toggle", http.StatusUnprocessableEntity, "day"},
		{"unknown user", "/api/v1/challenge/days/1/users/user3/toggle", http.StatusUnprocessableEntity, "user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(t, http.MethodPost, tt.path, "")

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if tt.field == "" {
				return
			}
			p := decode[ProblemWithErrors](t, w)
			if len(p.Errors) == 0 || p.Errors[0].Field != tt.field {
				t.Errorf("errors = %+v, want field %q", p.Errors, tt.field)
			}
		})
	}
}

func TestToggleDay_StructuredEntryConflict(t *testing.T) {
	env := newTestEnv(t)

	// Given: user2 has task data on day 1
	w := env.do(t, http.MethodPost, "/api/v1/challenge/days/1/users/user2/tasks/toggle", `{"task":"read"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("task toggle = %d %s", w.Code, w.Body)
	}

	// When: Toggling the whole day
	w = env.do(t, http.MethodPost, "/api/v1/challenge/days/1/users/user2/toggle", "")

	// Then: The request is refused and the task data survives
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if !env.document(t).Entry(1, challenge.User2).TaskDone("read") {
		t.Error("task data was lost")
	}
}

func TestToggleTask(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/challenge/days/4/users/user1/tasks/toggle", `{"task":"brush teeth (am)"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decode[ToggleResponse](t, w)
	if !resp.Done || resp.Task != "brush teeth (am)" || resp.Day != 4 {
		t.Errorf("response = %+v", resp)
	}
	if !env.document(t).Entry(4, challenge.User1).TaskDone("brush teeth (am)") {
		t.Error("task not stored")
	}
}

func TestToggleTask_NotInCatalog(t *testing.T) {
	env := newTestEnv(t)

	// "shave" belongs to user2 only
	w := env.do(t, http.MethodPost, "/api/v1/challenge/days/1/users/user1/tasks/toggle", `{"task":"shave"}`)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestToggleTask_MissingBody(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/challenge/days/1/users/user1/tasks/toggle", "")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpdateWeight(t *testing.T) {
	tests := []struct {
		name string
		body string
		want challenge.Measure
	}{
		{"number", `{"weight": 81.5}`, challenge.Number(81.5)},
		{"numeric string", `{"weight": "80"}`, challenge.Number(80)},
		{"empty string", `{"weight": ""}`, challenge.Empty()},
		{"null", `{"weight": null}`, challenge.Empty()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(t, http.MethodPut, "/api/v1/challenge/days/3/users/user2/weight", tt.body)

			if w.Code != http.StatusNoContent {
				t.Fatalf("status = %d: %s", w.Code, w.Body)
			}
			got := env.document(t).Entry(3, challenge.User2).Record.Weight
			if got == nil || *got != tt.want {
				t.Errorf("weight = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateWeight_FutureDayAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/challenge/days/10/users/user1/weight", `{"weight": 70}`)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestUpdateCalories(t *testing.T) {
	env := newTestEnv(t)
	body := `{"calories":[{"food":" Toast ","calories":250},{"food":"","calories":""},{"food":"Tea","calories":""}]}`

	w := env.do(t, http.MethodPut, "/api/v1/challenge/days/4/users/user1/calories", body)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	got := env.document(t).Entry(4, challenge.User1).Record.Calories
	want := []challenge.FoodEntry{
		{Food: "Toast", Calories: challenge.Number(250)},
		{Food: "Tea", Calories: challenge.Empty()},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("calories = %+v, want %+v", got, want)
	}
}

func TestUpdateCalories_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/challenge/days/4/users/user1/calories", `{"calories": [`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpdateStartDate(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/challenge/days/1/users/user1/toggle", "")

	w := env.do(t, http.MethodPut, "/api/v1/challenge/start-date", `{"start_date":"2024-03-01"}`)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	doc := env.document(t)
	if doc.StartDate != "2024-03-01" || !doc.Entry(1, challenge.User1).Done {
		t.Errorf("document = %+v, want new start with days kept", doc)
	}

	bad := env.do(t, http.MethodPut, "/api/v1/challenge/start-date", `{"start_date":"March 1st"}`)
	if bad.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed date status = %d, want 422", bad.Code)
	}
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/challenge/days/1/users/user1/toggle", "")

	// When: Resetting without a body
	w := env.do(t, http.MethodPost, "/api/v1/challenge/reset", "")

	// Then: Days are cleared and the challenge starts today
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	doc := env.document(t)
	if doc.StartDate != "2024-03-10" || len(doc.Days) != 0 {
		t.Errorf("document = %+v", doc)
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/challenge/days/1/users/user1/toggle", "")

	w := env.do(t, http.MethodGet, "/api/v1/challenge/summary", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	s := decode[progress.Summary](t, w)
	if s.CurrentDay != 4 || s.Percent != 5 || s.DaysRecorded != 1 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Users) != 2 || s.Users[0].CompletedDays != 1 || s.Users[0].Name != "Abi" {
		t.Errorf("users = %+v", s.Users)
	}
}

func TestCalendar(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/challenge/calendar", "")

	days := decode[[]progress.CalendarDay](t, w)
	if len(days) != challenge.Length {
		t.Fatalf("days = %d, want %d", len(days), challenge.Length)
	}
	if !days[3].Today || !days[4].Future {
		t.Errorf("day 4 = %+v, day 5 = %+v", days[3], days[4])
	}
}

func TestWeights(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/v1/challenge/days/1/users/user2/weight", `{"weight": 90}`)
	env.do(t, http.MethodPut, "/api/v1/challenge/days/2/users/user2/weight", `{"weight": ""}`)
	env.do(t, http.MethodPut, "/api/v1/challenge/days/3/users/user2/weight", `{"weight": 88.5}`)

	w := env.do(t, http.MethodGet, "/api/v1/challenge/weights/user2", "")

	resp := decode[WeightsResponse](t, w)
	if resp.Name != "Will" || len(resp.Points) != 2 {
		t.Fatalf("weights = %+v", resp)
	}
	if resp.Change == nil || *resp.Change != -1.5 {
		t.Errorf("change = %v, want -1.5", resp.Change)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/challenge/weights/nobody", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", w.Code)
	}
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/catalog", "")

	resp := decode[struct {
		Users []CatalogUser `json:"users"`
	}](t, w)
	if len(resp.Users) != 2 {
		t.Fatalf("users = %+v", resp.Users)
	}
	first := resp.Users[0].Tasks[1]
	if first.Name != "brush teeth (am)" || first.Label != "Brush Teeth (AM)" {
		t.Errorf("task = %+v", first)
	}
}

func TestDecodeBody_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	big := `{"task":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/challenge/days/1/users/user1/tasks/toggle", bytes.NewBufferString(big))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
