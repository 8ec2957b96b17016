package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/habitbridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
)

type recordingOutbox struct {
	keys []string
}

func (o *recordingOutbox) Enqueue(dbc dbctx.Context, ev types.OutboxInput) (bool, error) {
	if dbc.Tx == nil {
		return false, errors.New("enqueue outside the write transaction")
	}
	o.keys = append(o.keys, ev.IdempotencyKey)
	return true, nil
}

func TestPushSubscriptionLifecycle(t *testing.T) {
	db := testutil.DB(t)
	ob := &recordingOutbox{}
	repo := NewPushSubscriptionRepo(db, testutil.TxRunner(t, db), ob, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	userID := uuid.New()
	endpoint := "https://push.example.com/send/abc"

	sub, err := repo.Upsert(dbc, &types.PushSubscription{UserID: userID, Endpoint: endpoint, P256dh: "p", Auth: "a", UserAgent: "test"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if sub.Status != types.SubscriptionActive {
		t.Fatalf("Upsert: status %s", sub.Status)
	}

	changed, err := repo.Revoke(dbc, userID, endpoint)
	if err != nil || changed != 1 {
		t.Fatalf("Revoke: %d %v", changed, err)
	}
	changed, err = repo.Revoke(dbc, userID, endpoint)
	if err != nil || changed != 0 {
		t.Fatalf("Revoke again should be a no-op: %d %v", changed, err)
	}

	// resubscribing reactivates and clears the error
	if err := repo.RecordError(dbc, sub.ID, "boom"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	again, err := repo.Upsert(dbc, &types.PushSubscription{UserID: userID, Endpoint: endpoint, P256dh: "p2", Auth: "a2"})
	if err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	if again.ID != sub.ID || again.Status != types.SubscriptionActive || again.LastError != "" || again.P256dh != "p2" {
		t.Fatalf("Upsert again: %+v", again)
	}

	moved, err := repo.MarkExpired(dbc, sub.ID, "410 Gone")
	if err != nil || !moved {
		t.Fatalf("MarkExpired: %v %v", moved, err)
	}
	got, _ := repo.GetByEndpoint(dbc, endpoint)
	if got.Status != types.SubscriptionExpired || got.LastError != "410 Gone" {
		t.Fatalf("MarkExpired: %+v", got)
	}
	active, err := repo.ListActiveByUser(dbc, userID)
	if err != nil || len(active) != 0 {
		t.Fatalf("ListActiveByUser: %d %v", len(active), err)
	}

	// upsert, revoke, upsert, expire: four distinct events
	if len(ob.keys) != 4 {
		t.Fatalf("expected 4 outbox events, got %d", len(ob.keys))
	}
	seen := map[string]bool{}
	for _, k := range ob.keys {
		if seen[k] {
			t.Fatalf("state transitions reused idempotency key %s", k)
		}
		seen[k] = true
	}
}

func TestNotificationPreferencesRepo(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNotificationPreferencesRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	a, b := uuid.New(), uuid.New()
	for _, p := range []*types.NotificationPreferences{
		{UserID: a, Enabled: true, ReminderMode: types.ReminderBoth, PreferredTimeLocal: "08:00", Timezone: "Europe/Amsterdam"},
		{UserID: b, Enabled: false, ReminderMode: types.ReminderSession, PreferredTimeLocal: "09:00", Timezone: "UTC"},
	} {
		if _, err := repo.Upsert(dbc, p); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	enabled, err := repo.ListEnabled(dbc, uuid.Nil, 10)
	if err != nil || len(enabled) != 1 || enabled[0].UserID != a {
		t.Fatalf("ListEnabled: %+v %v", enabled, err)
	}

	updated, err := repo.Upsert(dbc, &types.NotificationPreferences{UserID: a, Enabled: false, ReminderMode: types.ReminderBoth, PreferredTimeLocal: "07:30", Timezone: "Europe/Amsterdam"})
	if err != nil || updated.Enabled || updated.PreferredTimeLocal != "07:30" {
		t.Fatalf("Upsert overwrite: %+v %v", updated, err)
	}
}

func TestNotificationJobRepo(t *testing.T) {
	db := testutil.DB(t)
	repo := NewNotificationJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	now := time.Now().UTC()
	userID := uuid.New()
	day := civil.Today(now, time.UTC)

	job := &types.NotificationJob{
		UserID:         userID,
		Mode:           types.JobModeSession,
		LocalDate:      day,
		ScheduledFor:   now.Add(-time.Minute),
		Status:         types.JobPending,
		IdempotencyKey: types.JobKey(userID, day, types.JobModeSession),
	}
	inserted, err := repo.InsertIfAbsent(dbc, job)
	if err != nil || !inserted {
		t.Fatalf("InsertIfAbsent: %v %v", inserted, err)
	}
	dup := *job
	dup.ID = uuid.Nil
	inserted, err = repo.InsertIfAbsent(dbc, &dup)
	if err != nil || inserted {
		t.Fatalf("InsertIfAbsent duplicate: %v %v", inserted, err)
	}

	claimed, err := repo.ClaimDue(dbc, now, 10, now.Add(-time.Minute))
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDue: %d %v", len(claimed), err)
	}
	if err := repo.MarkFailed(dbc, job.ID, 1, 3, "transport down"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ := repo.GetByKey(dbc, job.IdempotencyKey)
	if got.Status != types.JobPending || got.Attempts != 1 {
		t.Fatalf("MarkFailed under ceiling: %+v", got)
	}

	if _, err := repo.ClaimDue(dbc, now, 10, now.Add(-time.Minute)); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if err := repo.MarkSent(dbc, job.ID, now); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	counts, err := repo.CountByStatus(dbc)
	if err != nil || counts[types.JobSent] != 1 {
		t.Fatalf("CountByStatus: %+v %v", counts, err)
	}
}
