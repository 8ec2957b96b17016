package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/habitbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

// TxRunner provides the transaction boundary for multi-statement writes.
type TxRunner interface {
	InTx(dbc dbctx.Context, fn func(dbc dbctx.Context) error) error
}

type TxOptions struct {
	AcquireTimeout time.Duration
	Retries        int
	RetryDelay     time.Duration
}

type gormTxRunner struct {
	db   *gorm.DB
	opts TxOptions
	log  *logger.Logger
}

// NewGormTxRunner returns a runner that holds one pooled connection per
// transaction. A nil db yields a runner that always fails with
// ErrNotConfigured.
func NewGormTxRunner(db *gorm.DB, opts TxOptions, baseLog *logger.Logger) TxRunner {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 5 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &gormTxRunner{db: db, opts: opts, log: baseLog.With("component", "TxRunner")}
}

func (r *gormTxRunner) InTx(dbc dbctx.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	ctx := ctxutil.Default(dbc.Ctx)
	if dbc.Tx != nil {
		// already inside a transaction: join it
		return fn(dbctx.Context{Ctx: ctx, Tx: dbc.Tx})
	}
	if r == nil || r.db == nil {
		return ErrNotConfigured
	}

	var err error
	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if attempt > 0 {
			r.log.Warn("retrying transaction", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.opts.RetryDelay * time.Duration(attempt)):
			}
		}
		err = r.runOnce(ctx, fn)
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}

func (r *gormTxRunner) runOnce(ctx context.Context, fn func(dbc dbctx.Context) error) (err error) {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, r.opts.AcquireTimeout)
	conn, err := sqlDB.Conn(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrPoolTimeout
		}
		return fmt.Errorf("db: acquire connection: %w", err)
	}
	defer conn.Close()

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	tx := r.db.Session(&gorm.Session{Context: ctx, NewDB: true})
	tx.Statement.ConnPool = sqlTx

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && err != nil {
			r.log.Debug("rollback failed", "error", rbErr)
		}
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err = fn(dbctx.Context{Ctx: ctx, Tx: tx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("db: commit: %w", err)
	}
	committed = true
	return nil
}
