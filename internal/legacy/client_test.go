package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.Handler) Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(logger.Nop(), Config{
		APIKey:     "key_test",
		BaseID:     "appBase",
		BaseURL:    srv.URL,
		MaxRetries: 2,
		RetryBase:  5 * time.Millisecond,
		PageSize:   2,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(logger.Nop(), Config{BaseID: "appBase"}); err == nil || err.Error() != "missing LEGACY_API_KEY" {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := NewClient(logger.Nop(), Config{APIKey: "k"}); err == nil {
		t.Fatalf("expected missing base id error")
	}
}

func TestListFollowsOffsets(t *testing.T) {
	var (
		mu       sync.Mutex
		formulas []string
	)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/v0/appBase/Habit Usage" {
			t.Errorf("path: %q", r.URL.Path)
		}
		mu.Lock()
		formulas = append(formulas, r.URL.Query().Get("filterByFormula"))
		mu.Unlock()
		resp := listResponse{}
		switch r.URL.Query().Get("offset") {
		case "":
			resp.Records = []Record{{ID: "rec00000000000001"}, {ID: "rec00000000000002"}}
			resp.Offset = "page2"
		case "page2":
			resp.Records = []Record{{ID: "rec00000000000003"}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))

	recs, err := c.List(context.Background(), "Habit Usage", Where("Date", "2025-06-15"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 || recs[2].ID != "rec00000000000003" {
		t.Fatalf("List: %+v", recs)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(formulas) != 2 {
		t.Fatalf("expected two pages, got %d requests", len(formulas))
	}
	for _, f := range formulas {
		if f != "{Date}='2025-06-15'" {
			t.Fatalf("formula: %q", f)
		}
	}
}

func TestCreateSendsFields(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: %s", r.Method)
		}
		var body writeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Fields["Email"] != "a@example.com" || !body.Typecast {
			t.Errorf("body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(Record{ID: "recNEW0000000000", Fields: body.Fields})
	}))
	rec, err := c.Create(context.Background(), "Users", map[string]any{"Email": "a@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID != "recNEW0000000000" || rec.String("Email") != "a@example.com" {
		t.Fatalf("Create: %+v", rec)
	}
}

func TestRetriesTransientStatuses(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"type":"RATE_LIMIT_REACHED","message":"slow down"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(Record{ID: "rec00000000000009"})
	}))
	rec, err := c.Update(context.Background(), "Users", "rec00000000000009", map[string]any{"Name": "x"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.ID != "rec00000000000009" || calls.Load() != 3 {
		t.Fatalf("Update: rec=%+v calls=%d", rec, calls.Load())
	}
}

func TestPermanentStatusesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"NOT_FOUND"}`))
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"type":"UNKNOWN_FIELD_NAME","message":"Unknown field name: \"Colour\""}}`))
	}))

	_, err := c.Create(context.Background(), "Users", map[string]any{"Colour": "red"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != 422 || se.Type != "UNKNOWN_FIELD_NAME" || !se.Permanent() {
		t.Fatalf("StatusError: %+v", se)
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent error retried: %d calls", calls.Load())
	}

	err = c.Delete(context.Background(), "Users", "rec00000000000001")
	if !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("404 should unwrap to ErrNotFound, got %v", err)
	}
}

func TestFilterFormula(t *testing.T) {
	cases := []struct {
		f    Filter
		want string
	}{
		{Filter{}, ""},
		{Where("Email", "a@example.com"), "{Email}='a@example.com'"},
		{Where("Name", "O'Brien"), `{Name}='O\'Brien'`},
		{ByID("recABCDEFGHIJKLMN"), "RECORD_ID()='recABCDEFGHIJKLMN'"},
		{Filter{Conditions: []Condition{{"User", "rec1"}, {"Date", "2025-06-15"}}}, "AND({User}='rec1',{Date}='2025-06-15')"},
		{Filter{RecordID: "recX", Conditions: []Condition{{"A", "b"}}}, "RECORD_ID()='recX'"},
	}
	for _, tc := range cases {
		if got := tc.f.Formula(); got != tc.want {
			t.Fatalf("Formula(%+v): got %q want %q", tc.f, got, tc.want)
		}
	}
}

func TestRecordString(t *testing.T) {
	r := Record{Fields: map[string]any{
		"User":   []any{"rec00000000000001", "rec00000000000002"},
		"Streak": float64(4),
		"Ratio":  0.5,
		"Empty":  []any{},
	}}
	if got := r.String("User"); got != "rec00000000000001" {
		t.Fatalf("link: %q", got)
	}
	if got := r.String("Streak"); got != "4" {
		t.Fatalf("number: %q", got)
	}
	if got := r.String("Ratio"); got != "0.5" {
		t.Fatalf("float: %q", got)
	}
	if r.String("Empty") != "" || r.String("Missing") != "" {
		t.Fatalf("empty values should read as empty strings")
	}
}
