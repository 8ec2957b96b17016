package readthrough

import (
	"context"
	"testing"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	"github.com/yungbote/habitbridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/legacy"
	"github.com/yungbote/habitbridge-backend/internal/legacy/legacytest"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

type fixture struct {
	store   *legacytest.Store
	users   *Users
	idMap   repos.IDMapRepo
	enabled bool
	count   func(model any) int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	schema, err := legacy.DefaultSchema()
	if err != nil {
		t.Fatalf("DefaultSchema: %v", err)
	}
	tx := testutil.TxRunner(t, gdb)
	f := &fixture{store: legacytest.New(), idMap: repos.NewIDMapRepo(gdb, log), enabled: true}
	ob := outbox.New(repos.NewOutboxEventRepo(gdb, log), repos.NewDeadLetterRepo(gdb, log), tx, log)
	f.users = New(repos.NewUserRepo(gdb, log), f.idMap, tx, ob, legacy.NewUsers(f.store, schema), func() bool { return f.enabled }, log)
	f.count = func(model any) int64 { return testutil.CountRows(t, gdb, model) }
	return f
}

func TestGetByIDRepairsOnceThenHitsRelational(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	legacyID := f.store.Seed("Users", map[string]any{"Email": "Ann@Example.com", "Name": "Ann", "Timezone": "Europe/Amsterdam"})

	first, err := f.users.GetByID(ctx, legacyID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if first == nil {
		t.Fatalf("expected the legacy user to be materialized")
	}
	if first.Email != "ann@example.com" || first.Name != "Ann" || first.Timezone != "Europe/Amsterdam" {
		t.Fatalf("materialized row: %+v", first)
	}
	mapped, ok, err := f.idMap.FindLegacyID(dbctx.Context{Ctx: ctx}, types.EntityUser, first.ID.String())
	if err != nil || !ok || mapped != legacyID {
		t.Fatalf("id map: %q %v %v", mapped, ok, err)
	}

	f.store.ResetCalls()
	second, err := f.users.GetByID(ctx, legacyID)
	if err != nil || second == nil {
		t.Fatalf("second GetByID: %v %v", second, err)
	}
	if calls := f.store.Calls().Total(); calls != 0 {
		t.Fatalf("relational hit still called the legacy store %d times", calls)
	}
	if second.ID != first.ID || second.Email != first.Email || second.Name != first.Name {
		t.Fatalf("second read differs: %+v vs %+v", second, first)
	}

	byUUID, err := f.users.GetByID(ctx, first.ID.String())
	if err != nil || byUUID == nil || byUUID.ID != first.ID {
		t.Fatalf("GetByID(uuid): %v %v", byUUID, err)
	}
	if calls := f.store.Calls().Total(); calls != 0 {
		t.Fatalf("uuid hit called the legacy store")
	}

	if n := f.count(&types.OutboxEvent{}); n != 1 {
		t.Fatalf("backfill should enqueue one user event, got %d", n)
	}
}

func TestGetByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Seed("Users", map[string]any{"Email": "bob@example.com", "Name": "Bob"})

	u, err := f.users.GetByEmail(ctx, "  BOB@example.com ")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail: %v %v", u, err)
	}
	f.store.ResetCalls()
	again, err := f.users.GetByEmail(ctx, "bob@example.com")
	if err != nil || again == nil || again.ID != u.ID {
		t.Fatalf("GetByEmail again: %v %v", again, err)
	}
	if f.store.Calls().Total() != 0 {
		t.Fatalf("hit called the legacy store")
	}

	missing, err := f.users.GetByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Fatalf("unknown email: %v %v", missing, err)
	}
}

func TestDisabledFallbackNeverCallsLegacy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	legacyID := f.store.Seed("Users", map[string]any{"Email": "c@example.com"})
	f.enabled = false

	if u, err := f.users.GetByEmail(ctx, "c@example.com"); err != nil || u != nil {
		t.Fatalf("GetByEmail with fallback off: %v %v", u, err)
	}
	if u, err := f.users.GetByID(ctx, legacyID); err != nil || u != nil {
		t.Fatalf("GetByID with fallback off: %v %v", u, err)
	}
	if f.store.Calls().Total() != 0 {
		t.Fatalf("legacy store called with fallback disabled: %+v", f.store.Calls())
	}
	if n := f.count(&types.User{}); n != 0 {
		t.Fatalf("rows written with fallback disabled: %d", n)
	}
}

func TestUnconfiguredStoreIsAbsent(t *testing.T) {
	store := legacytest.New()
	legacyID := store.Seed("Users", map[string]any{"Email": "d@example.com"})
	schema, err := legacy.DefaultSchema()
	if err != nil {
		t.Fatalf("DefaultSchema: %v", err)
	}
	users := New(nil, nil, nil, nil, legacy.NewUsers(store, schema), nil, testutil.Logger(t))

	if u, err := users.GetByID(context.Background(), legacyID); err != nil || u != nil {
		t.Fatalf("GetByID: %v %v", u, err)
	}
	if u, err := users.GetByEmail(context.Background(), "d@example.com"); err != nil || u != nil {
		t.Fatalf("GetByEmail: %v %v", u, err)
	}
	if store.Calls().Total() != 0 {
		t.Fatalf("legacy store called without a relational store")
	}
}

func TestUnknownRefIsAbsent(t *testing.T) {
	f := newFixture(t)
	for _, ref := range []string{"", "42", "rec123", "00000000-0000-0000-0000-000000000000"} {
		u, err := f.users.GetByID(context.Background(), ref)
		if err != nil || u != nil {
			t.Fatalf("GetByID(%q): %v %v", ref, u, err)
		}
	}
	if f.store.Calls().Total() != 0 {
		t.Fatalf("malformed refs reached the legacy store")
	}
}
