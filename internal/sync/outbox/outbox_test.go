package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	"github.com/yungbote/habitbridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
)

type harness struct {
	db          *gorm.DB
	tx          db.TxRunner
	events      repos.OutboxEventRepo
	deadLetters repos.DeadLetterRepo
	outbox      Outbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	h := &harness{
		db:          gdb,
		tx:          testutil.TxRunner(t, gdb),
		events:      repos.NewOutboxEventRepo(gdb, log),
		deadLetters: repos.NewDeadLetterRepo(gdb, log),
	}
	h.outbox = New(h.events, h.deadLetters, h.tx, log)
	return h
}

func habitEvent(payload map[string]any) types.OutboxInput {
	return types.OutboxInput{
		Type:     types.EventUpsert,
		Entity:   types.EntityHabitUsage,
		EntityID: "9b2f7c1e-3f4a-4d8e-9c1a-2b3c4d5e6f70",
		Payload:  payload,
	}
}

func TestIdempotencyKeyIsCanonical(t *testing.T) {
	a, err := IdempotencyKey(types.EventUpsert, types.EntityUser, "u1", map[string]any{"b": 1, "a": map[string]any{"y": true, "x": "s"}})
	if err != nil {
		t.Fatalf("IdempotencyKey: %v", err)
	}
	type inner struct {
		X string `json:"x"`
		Y bool   `json:"y"`
	}
	b, err := IdempotencyKey(types.EventUpsert, types.EntityUser, "u1", struct {
		A inner `json:"a"`
		B int   `json:"b"`
	}{A: inner{X: "s", Y: true}, B: 1})
	if err != nil {
		t.Fatalf("IdempotencyKey: %v", err)
	}
	if a != b {
		t.Fatalf("equal documents hashed differently: %s vs %s", a, b)
	}
	for _, other := range []func() (string, error){
		func() (string, error) { return IdempotencyKey(types.EventDelete, types.EntityUser, "u1", map[string]any{"b": 1}) },
		func() (string, error) { return IdempotencyKey(types.EventUpsert, types.EntityHabitUsage, "u1", map[string]any{"b": 1}) },
		func() (string, error) { return IdempotencyKey(types.EventUpsert, types.EntityUser, "u2", map[string]any{"b": 1}) },
		func() (string, error) { return IdempotencyKey(types.EventUpsert, types.EntityUser, "u1", map[string]any{"b": 2}) },
	} {
		k, err := other()
		if err != nil {
			t.Fatalf("IdempotencyKey: %v", err)
		}
		if k == a {
			t.Fatalf("distinct event collided with %s", a)
		}
	}
}

func TestEnqueueDuplicateIsNoop(t *testing.T) {
	h := newHarness(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	ok, err := h.outbox.Enqueue(dbc, habitEvent(map[string]any{"method_id": "m1", "usage_date": "2025-06-15"}))
	if err != nil || !ok {
		t.Fatalf("Enqueue: %v %v", ok, err)
	}
	ok, err = h.outbox.Enqueue(dbc, habitEvent(map[string]any{"usage_date": "2025-06-15", "method_id": "m1"}))
	if err != nil {
		t.Fatalf("Enqueue duplicate returned an error: %v", err)
	}
	if ok {
		t.Fatalf("Enqueue duplicate reported a new row")
	}
	if n := testutil.CountRows(t, h.db, &types.OutboxEvent{}); n != 1 {
		t.Fatalf("expected exactly one outbox row, got %d", n)
	}

	var ev types.OutboxEvent
	if err := h.db.First(&ev).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if ev.Status != types.OutboxPending || ev.AttemptCount != 0 || ev.Priority != types.PriorityDefault {
		t.Fatalf("unexpected enqueued row: %+v", ev)
	}
}

func TestEnqueueJoinsCallerTransaction(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")
	err := h.tx.InTx(dbctx.Context{Ctx: context.Background()}, func(dbc dbctx.Context) error {
		if _, err := h.outbox.Enqueue(dbc, habitEvent(map[string]any{"n": 1})); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx: %v", err)
	}
	if n := testutil.CountRows(t, h.db, &types.OutboxEvent{}); n != 0 {
		t.Fatalf("enqueue survived the rolled back transaction: %d rows", n)
	}
}

func TestEnqueueValidates(t *testing.T) {
	h := newHarness(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	bad := []types.OutboxInput{
		{Type: "merge", Entity: types.EntityUser, EntityID: "x"},
		{Type: types.EventUpsert, Entity: "habits", EntityID: "x"},
		{Type: types.EventUpsert, Entity: types.EntityUser, EntityID: "  "},
	}
	for _, in := range bad {
		if _, err := h.outbox.Enqueue(dbc, in); err == nil {
			t.Fatalf("Enqueue(%+v): expected error", in)
		}
	}
}

func TestReplay(t *testing.T) {
	h := newHarness(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	ok, err := h.outbox.Replay(dbc, 999)
	if err != nil || ok {
		t.Fatalf("Replay missing: %v %v", ok, err)
	}
	if n := testutil.CountRows(t, h.db, &types.OutboxEvent{}); n != 0 {
		t.Fatalf("Replay of a missing dead letter wrote %d rows", n)
	}

	dl := &types.DeadLetter{
		OutboxEventID:  1,
		EventType:      types.EventUpsert,
		EntityType:     types.EntityUser,
		EntityID:       "u1",
		Payload:        []byte(`{"email":"a@example.com"}`),
		IdempotencyKey: "original-key",
		AttemptCount:   8,
		LastError:      "422 Unprocessable",
	}
	if err := h.deadLetters.Create(dbc, dl); err != nil {
		t.Fatalf("seed dead letter: %v", err)
	}

	ok, err = h.outbox.Replay(dbc, dl.ID)
	if err != nil || !ok {
		t.Fatalf("Replay: %v %v", ok, err)
	}
	ok, err = h.outbox.Replay(dbc, dl.ID)
	if err != nil || !ok {
		t.Fatalf("second Replay: %v %v", ok, err)
	}

	var rows []types.OutboxEvent
	if err := h.db.Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected one row per replay, got %d", len(rows))
	}
	for _, ev := range rows {
		if ev.AttemptCount != 0 || ev.Status != types.OutboxPending || ev.Priority != types.PriorityReplay {
			t.Fatalf("replayed row: %+v", ev)
		}
		if ev.IdempotencyKey == dl.IdempotencyKey {
			t.Fatalf("replay reused the original idempotency key")
		}
	}
	if rows[0].IdempotencyKey == rows[1].IdempotencyKey {
		t.Fatalf("two replays share a key")
	}

	kept, err := h.deadLetters.GetByID(dbc, dl.ID)
	if err != nil || kept == nil {
		t.Fatalf("dead letter was not retained: %v", err)
	}
	if kept.ReplayCount != 2 {
		t.Fatalf("replay count: %d", kept.ReplayCount)
	}
}

type fakeSink struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[int64]int
}

func (s *fakeSink) Deliver(_ context.Context, ev *types.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[int64]int{}
	}
	s.calls[ev.ID]++
	return s.errs[ev.EntityID]
}

func TestDrainStateMachine(t *testing.T) {
	h := newHarness(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	sink := &fakeSink{errs: map[string]error{
		"flaky": errors.New("503 from legacy"),
		"bad":   Permanent(errors.New("422 unknown field")),
	}}
	drainer := NewDrainer(h.events, h.deadLetters, h.tx, sink, DrainConfig{MaxAttempts: 2, Concurrency: 2}, testutil.Logger(t))
	for _, id := range []string{"ok", "flaky", "bad"} {
		if _, err := h.outbox.Enqueue(dbc, types.OutboxInput{Type: types.EventUpsert, Entity: types.EntityUser, EntityID: id, Payload: map[string]any{"id": id}}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	now := time.Now().UTC().Add(time.Second)
	drainer.now = func() time.Time { return now }

	res, err := drainer.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if res.Claimed != 3 || res.Delivered != 1 || res.Retried != 1 || res.DeadLettered != 1 {
		t.Fatalf("DrainOnce: %+v", res)
	}

	var flaky types.OutboxEvent
	if err := h.db.Where("entity_id = ?", "flaky").First(&flaky).Error; err != nil {
		t.Fatalf("load flaky: %v", err)
	}
	if flaky.Status != types.OutboxPending || flaky.AttemptCount != 1 {
		t.Fatalf("flaky after first failure: %+v", flaky)
	}
	if got := flaky.NextAttemptAt.Sub(now); got < Backoff(1)-time.Second || got > Backoff(1)+time.Second {
		t.Fatalf("retry not pushed out by backoff: %s", got)
	}

	// nothing is due until the backoff elapses
	res, err = drainer.DrainOnce(context.Background())
	if err != nil || res.Claimed != 0 {
		t.Fatalf("DrainOnce before backoff: %+v %v", res, err)
	}

	now = now.Add(Backoff(1) + time.Second)
	res, err = drainer.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce after backoff: %v", err)
	}
	if res.DeadLettered != 1 {
		t.Fatalf("flaky should exhaust MaxAttempts=2: %+v", res)
	}

	st, err := h.outbox.Stats(dbc)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Pending != 0 || st.Done != 1 || st.DeadLetters != 2 {
		t.Fatalf("Stats: %+v", st)
	}

	// dead letters are never retried automatically
	now = now.Add(48 * time.Hour)
	res, err = drainer.DrainOnce(context.Background())
	if err != nil || res.Claimed != 0 {
		t.Fatalf("dead-lettered events were claimed again: %+v %v", res, err)
	}

	dls, err := h.outbox.ListDeadLetters(dbc, 10, true)
	if err != nil || len(dls) != 2 {
		t.Fatalf("ListDeadLetters: %d %v", len(dls), err)
	}
	ids, err := h.outbox.ReplayAll(dbc, 0)
	if err != nil || len(ids) != 2 {
		t.Fatalf("ReplayAll: %v %v", ids, err)
	}
	if n, _ := h.outbox.ListDeadLetters(dbc, 10, true); len(n) != 0 {
		t.Fatalf("replayed dead letters still listed as unreplayed")
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{7, 32 * time.Minute},
		{8, time.Hour},
		{50, time.Hour},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt); got != tc.want {
			t.Fatalf("Backoff(%d): got %s want %s", tc.attempt, got, tc.want)
		}
	}
}

type panickingSink struct{}

func (panickingSink) Deliver(context.Context, *types.OutboxEvent) error {
	panic("legacy mapping blew up")
}

func TestDrainRecoversSinkPanic(t *testing.T) {
	h := newHarness(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	if _, err := h.outbox.Enqueue(dbc, types.OutboxInput{Type: types.EventUpsert, Entity: types.EntityUser, EntityID: "u1", Payload: map[string]any{"id": "u1"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	drainer := NewDrainer(h.events, h.deadLetters, h.tx, panickingSink{}, DrainConfig{MaxAttempts: 3}, testutil.Logger(t))
	now := time.Now().UTC().Add(time.Second)
	drainer.now = func() time.Time { return now }

	res, err := drainer.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if res.Claimed != 1 || res.Retried != 1 {
		t.Fatalf("DrainOnce: %+v", res)
	}
	var ev types.OutboxEvent
	if err := h.db.Where("entity_id = ?", "u1").First(&ev).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if ev.Status != types.OutboxPending || ev.AttemptCount != 1 || !strings.Contains(ev.LastError, "sink panic") {
		t.Fatalf("panic should become a retry: %+v", ev)
	}
}

func TestDrainDeadLettersRepeatedlyAbandonedClaims(t *testing.T) {
	h := newHarness(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	if _, err := h.outbox.Enqueue(dbc, types.OutboxInput{Type: types.EventUpsert, Entity: types.EntityUser, EntityID: "u1", Payload: map[string]any{"id": "u1"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ttl := 5 * time.Minute
	start := time.Now().UTC().Add(time.Second)

	// two workers claim the event and die mid-delivery
	for i, at := range []time.Time{start, start.Add(2 * ttl)} {
		claimed, err := h.events.ClaimDue(dbc, at, 1, at.Add(-ttl))
		if err != nil || len(claimed) != 1 || claimed[0].AttemptCount != i {
			t.Fatalf("claim %d: %+v %v", i, claimed, err)
		}
	}

	sink := &fakeSink{}
	drainer := NewDrainer(h.events, h.deadLetters, h.tx, sink, DrainConfig{MaxAttempts: 2, ClaimTTL: ttl}, testutil.Logger(t))
	now := start.Add(4 * ttl)
	drainer.now = func() time.Time { return now }

	res, err := drainer.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if res.Claimed != 1 || res.DeadLettered != 1 {
		t.Fatalf("DrainOnce: %+v", res)
	}
	if len(sink.calls) != 0 {
		t.Fatalf("exhausted event was delivered again: %v", sink.calls)
	}
	dls, err := h.outbox.ListDeadLetters(dbc, 10, true)
	if err != nil || len(dls) != 1 || dls[0].AttemptCount != 2 {
		t.Fatalf("ListDeadLetters: %+v %v", dls, err)
	}
}
