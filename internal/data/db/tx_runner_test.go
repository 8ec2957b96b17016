package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	dbpkg "github.com/yungbote/habitbridge-backend/internal/data/db"
	"github.com/yungbote/habitbridge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
)

func TestInTxCommitAndRollback(t *testing.T) {
	db := testutil.DB(t)
	runner := testutil.TxRunner(t, db)
	ctx := context.Background()

	err := runner.InTx(dbctx.Context{Ctx: ctx}, func(dbc dbctx.Context) error {
		testutil.SeedUser(t, dbc.Ctx, dbc.Tx, "commit@example.com")
		return nil
	})
	if err != nil {
		t.Fatalf("InTx commit: %v", err)
	}
	if n := testutil.CountRows(t, db, &types.User{}); n != 1 {
		t.Fatalf("expected 1 committed user, got %d", n)
	}

	boom := errors.New("boom")
	err = runner.InTx(dbctx.Context{Ctx: ctx}, func(dbc dbctx.Context) error {
		testutil.SeedUser(t, dbc.Ctx, dbc.Tx, "rollback@example.com")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx: expected boom, got %v", err)
	}
	if n := testutil.CountRows(t, db, &types.User{}); n != 1 {
		t.Fatalf("rolled back row leaked: %d users", n)
	}
}

func TestInTxRollsBackOnPanic(t *testing.T) {
	db := testutil.DB(t)
	runner := testutil.TxRunner(t, db)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = runner.InTx(dbctx.Background(), func(dbc dbctx.Context) error {
			testutil.SeedUser(t, dbc.Ctx, dbc.Tx, "panic@example.com")
			panic("kaboom")
		})
	}()

	if n := testutil.CountRows(t, db, &types.User{}); n != 0 {
		t.Fatalf("panicking tx committed %d rows", n)
	}
	// the connection went back to the pool
	if err := runner.InTx(dbctx.Background(), func(dbctx.Context) error { return nil }); err != nil {
		t.Fatalf("InTx after panic: %v", err)
	}
}

func TestInTxJoinsOuterTransaction(t *testing.T) {
	db := testutil.DB(t)
	runner := testutil.TxRunner(t, db)

	err := runner.InTx(dbctx.Background(), func(outer dbctx.Context) error {
		return runner.InTx(outer, func(inner dbctx.Context) error {
			if inner.Tx != outer.Tx {
				t.Fatalf("inner call opened a new transaction")
			}
			testutil.SeedUser(t, inner.Ctx, inner.Tx, "joined@example.com")
			return nil
		})
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if n := testutil.CountRows(t, db, &types.User{}); n != 1 {
		t.Fatalf("expected joined write to commit, got %d", n)
	}
}

func TestInTxPoolTimeout(t *testing.T) {
	db := testutil.DB(t)
	if err := dbpkg.ConfigurePool(db, dbpkg.Config{PoolSize: 1}); err != nil {
		t.Fatalf("ConfigurePool: %v", err)
	}
	runner := dbpkg.NewGormTxRunner(db, dbpkg.TxOptions{AcquireTimeout: 100 * time.Millisecond}, testutil.Logger(t))

	start := time.Now()
	err := runner.InTx(dbctx.Background(), func(dbctx.Context) error {
		// a second, independent transaction cannot get a connection
		return runner.InTx(dbctx.Background(), func(dbctx.Context) error { return nil })
	})
	if !errors.Is(err, dbpkg.ErrPoolTimeout) {
		t.Fatalf("expected ErrPoolTimeout, got %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatalf("acquire did not block for the timeout")
	}
}

func TestInTxWithoutDB(t *testing.T) {
	runner := dbpkg.NewGormTxRunner(nil, dbpkg.TxOptions{}, nil)
	err := runner.InTx(dbctx.Background(), func(dbctx.Context) error { return nil })
	if !errors.Is(err, dbpkg.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "08006"}, true},
		{&pgconn.PgError{Code: "57P01"}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{dbpkg.ErrPoolTimeout, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("syntax error"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := dbpkg.IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v): got %v want %v", tc.err, got, tc.want)
		}
	}
	if !dbpkg.IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("23505 should be a unique violation")
	}
}

func TestConfig(t *testing.T) {
	if err := (dbpkg.Config{}).Validate(); err == nil || err.Error() != "missing DATABASE_URL" {
		t.Fatalf("Validate: got %v", err)
	}
	cfg := dbpkg.Config{URL: "postgres://u:p@localhost:5432/app", SSLMode: "require"}
	if got := cfg.DSN(); got != "postgres://u:p@localhost:5432/app?sslmode=require" {
		t.Fatalf("DSN: %s", got)
	}
	cfg.URL = "postgres://u:p@localhost/app?sslmode=disable"
	if got := cfg.DSN(); got != cfg.URL {
		t.Fatalf("DSN overrode explicit sslmode: %s", got)
	}
	cfg.URL = "host=localhost dbname=app"
	if got := cfg.DSN(); got != "host=localhost dbname=app sslmode=require" {
		t.Fatalf("DSN kv: %s", got)
	}
}
