package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/backendmode"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/services"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

type fakeUsage struct {
	services.UsageService
	habit    services.HabitUsageInput
	belief   error
	deleted  bool
	rng      repos.UsageRange
	listErr  error
	lastUser string
}

func (f *fakeUsage) RecordHabitUsage(_ context.Context, in services.HabitUsageInput) (*services.UsageResult, error) {
	f.habit = in
	return &services.UsageResult{ID: "u1", Backend: backendmode.Primary, Streak: &services.StreakView{Current: 3, Longest: 5}}, nil
}

func (f *fakeUsage) CompleteBelief(context.Context, services.BeliefInput) (*services.UsageResult, error) {
	if f.belief != nil {
		return nil, f.belief
	}
	return &services.UsageResult{ID: "b1"}, nil
}

func (f *fakeUsage) DeleteHabitUsage(_ context.Context, userRef, _ string, _ civil.Date) (bool, error) {
	f.lastUser = userRef
	return f.deleted, nil
}

func (f *fakeUsage) ListUsage(_ context.Context, userRef string, rng repos.UsageRange) (*services.UsageList, error) {
	f.lastUser = userRef
	f.rng = rng
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &services.UsageList{Backend: backendmode.LegacyOnly}, nil
}

type fakeWebhooks struct {
	gotBody []byte
	gotSig  string
	err     error
}

func (f *fakeWebhooks) Ingest(_ context.Context, raw []byte, sig string) (*services.WebhookResult, error) {
	f.gotBody, f.gotSig = raw, sig
	if f.err != nil {
		return nil, f.err
	}
	return &services.WebhookResult{Entity: types.EntityHabitUsage, Action: services.WebhookActionUpsert, LegacyID: "rec1"}, nil
}

type fakeOutbox struct {
	outbox.Outbox
	replayOK  bool
	replayErr error
	replayed  []int64
	limit     int
	unrep     bool
}

func (f *fakeOutbox) Replay(_ dbctx.Context, id int64) (bool, error) {
	f.replayed = append(f.replayed, id)
	return f.replayOK, f.replayErr
}

func (f *fakeOutbox) ListDeadLetters(_ dbctx.Context, limit int, unreplayed bool) ([]*types.DeadLetter, error) {
	f.limit, f.unrep = limit, unreplayed
	return []*types.DeadLetter{{ID: 7, EntityType: types.EntityUser, EntityID: "x", LastError: "boom"}}, nil
}

type fakeHealth struct{ rep *services.HealthReport }

func (f fakeHealth) Check(context.Context) *services.HealthReport { return f.rep }

func do(t *testing.T, r *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rec.Body.String())
	}
	return env.Error.Code
}

func TestUsageHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	usage := &fakeUsage{}
	h := NewUsageHandler(usage)
	r := gin.New()
	r.POST("/api/usage/habits", h.RecordHabit)
	r.DELETE("/api/usage/habits", h.DeleteHabit)
	r.POST("/api/usage/beliefs", h.CompleteBelief)
	r.GET("/api/users/:ref/usage", h.ListUsage)

	rec := do(t, r, http.MethodPost, "/api/usage/habits", []byte(`{"user_id":"recAAAAAAAAAAAAAA","method_id":"walk","usage_date":"2025-06-15"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("record habit: %d %s", rec.Code, rec.Body.String())
	}
	if usage.habit.MethodID != "walk" || usage.habit.Date != civil.MustParse("2025-06-15") {
		t.Fatalf("habit input not bound: %+v", usage.habit)
	}

	if rec := do(t, r, http.MethodPost, "/api/usage/habits", []byte(`{"usage_date":"15/06/2025"}`), nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", rec.Code)
	}

	usage.belief = fmt.Errorf("belief ovt-1: %w", repos.ErrAlreadyCompleted)
	rec = do(t, r, http.MethodPost, "/api/usage/beliefs", []byte(`{"user_id":"u","overtuiging_id":"ovt-1","usage_date":"2025-06-15"}`), nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "already_completed" {
		t.Fatalf("second belief completion: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, r, http.MethodDelete, "/api/usage/habits", []byte(`{"user_id":"u","subject_id":"walk","usage_date":"2025-06-15"}`), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete of a missing row: %d", rec.Code)
	}
	usage.deleted = true
	rec = do(t, r, http.MethodDelete, "/api/usage/habits", []byte(`{"user_id":"u","subject_id":"walk","usage_date":"2025-06-15"}`), nil)
	if rec.Code != http.StatusOK || usage.lastUser != "u" {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, r, http.MethodDelete, "/api/usage/habits", []byte(`{"user_id":"u","subject_id":"walk"}`), nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete without a date: %d", rec.Code)
	}

	rec = do(t, r, http.MethodGet, "/api/users/recAAAAAAAAAAAAAA/usage?from=2025-06-01&to=2025-06-30", nil, nil)
	if rec.Code != http.StatusOK || usage.lastUser != "recAAAAAAAAAAAAAA" {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	if usage.rng.From != civil.MustParse("2025-06-01") || usage.rng.To != civil.MustParse("2025-06-30") {
		t.Fatalf("range not parsed: %+v", usage.rng)
	}
	if rec := do(t, r, http.MethodGet, "/api/users/x/usage?from=june", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad range: %d", rec.Code)
	}

	usage.listErr = fmt.Errorf("user x: %w", apierr.ErrNotFound)
	if rec := do(t, r, http.MethodGet, "/api/users/x/usage", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user: %d", rec.Code)
	}
	usage.listErr = errors.New("connection reset by peer")
	rec = do(t, r, http.MethodGet, "/api/users/x/usage", nil, nil)
	if rec.Code != http.StatusInternalServerError || bytes.Contains(rec.Body.Bytes(), []byte("connection reset")) {
		t.Fatalf("internal errors must not leak: %d %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeWebhooks{}
	m := observability.NewMetrics()
	h := NewWebhookHandler(svc, m)
	r := gin.New()
	r.POST("/webhooks/legacy", h.Ingest)

	body := []byte(`{"table":"Habit Usage","action":"upsert","record":{"id":"rec1","fields":{}}}`)
	rec := do(t, r, http.MethodPost, "/webhooks/legacy", body, map[string]string{SignatureHeader: "sha256=abc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(svc.gotBody, body) || svc.gotSig != "sha256=abc" {
		t.Fatalf("raw body or signature not passed through: %q %q", svc.gotBody, svc.gotSig)
	}

	svc.err = apierr.ErrInvalidSignature
	rec = do(t, r, http.MethodPost, "/webhooks/legacy", body, nil)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_signature" {
		t.Fatalf("bad signature: %d %s", rec.Code, rec.Body.String())
	}

	big := bytes.Repeat([]byte("a"), maxWebhookBodySize+1)
	if rec := do(t, r, http.MethodPost, "/webhooks/legacy", big, nil); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: %d", rec.Code)
	}

	var buf bytes.Buffer
	_ = m.WritePrometheus(&buf)
	if !bytes.Contains(buf.Bytes(), []byte(`hb_legacy_webhooks_total{entity_type="unknown",result="rejected"} 1`)) {
		t.Fatalf("rejected webhook not counted:\n%s", buf.String())
	}
}

func TestAdminHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ob := &fakeOutbox{}
	h := NewAdminHandler(logger.Nop(), ob, nil)
	r := gin.New()
	r.GET("/admin/dead-letters", h.ListDeadLetters)
	r.POST("/admin/dead-letters/:id/replay", h.Replay)

	rec := do(t, r, http.MethodGet, "/admin/dead-letters?limit=5000&unreplayed=true", nil, nil)
	if rec.Code != http.StatusOK || ob.limit != maxDeadLetterLimit || !ob.unrep {
		t.Fatalf("list: %d limit=%d unreplayed=%v", rec.Code, ob.limit, ob.unrep)
	}
	if rec := do(t, r, http.MethodGet, "/admin/dead-letters?limit=-1", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit: %d", rec.Code)
	}

	if rec := do(t, r, http.MethodPost, "/admin/dead-letters/42/replay", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("replay of unknown id: %d", rec.Code)
	}
	ob.replayOK = true
	if rec := do(t, r, http.MethodPost, "/admin/dead-letters/42/replay", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("replay: %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/admin/dead-letters/abc/replay", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id: %d", rec.Code)
	}
	if len(ob.replayed) != 2 || ob.replayed[1] != 42 {
		t.Fatalf("replay calls: %v", ob.replayed)
	}
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		rep  *services.HealthReport
		want int
	}{
		{"ok", &services.HealthReport{Status: services.HealthOK, Database: services.HealthOK, CheckedAt: now}, http.StatusOK},
		{"degraded queue", &services.HealthReport{Status: services.HealthDegraded, Database: services.HealthOK, CheckedAt: now}, http.StatusOK},
		{"database down", &services.HealthReport{Status: services.HealthDegraded, Database: services.HealthUnavailable, CheckedAt: now}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandler(fakeHealth{rep: tc.rep})
			r := gin.New()
			r.GET("/health", h.Health)
			r.GET("/healthcheck", h.HealthCheck)
			if rec := do(t, r, http.MethodGet, "/health", nil, nil); rec.Code != tc.want {
				t.Fatalf("health: got=%d want=%d", rec.Code, tc.want)
			}
			if rec := do(t, r, http.MethodGet, "/healthcheck", nil, nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
				t.Fatalf("healthcheck: %d %q", rec.Code, rec.Body.String())
			}
		})
	}
}
