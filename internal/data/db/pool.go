package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
)

// boundedPool is the gorm connection pool for statements that run outside
// TxRunner. Waiting for a free connection is capped at timeout and fails
// with ErrPoolTimeout; the statement itself runs under the caller's ctx.
type boundedPool struct {
	db      *sql.DB
	timeout time.Duration
}

var (
	_ gorm.ConnPool       = (*boundedPool)(nil)
	_ gorm.TxBeginner     = (*boundedPool)(nil)
	_ gorm.GetDBConnector = (*boundedPool)(nil)
)

// BoundAcquire routes every statement issued through db (and sessions
// derived from it) through a pool wait capped at timeout.
func BoundAcquire(db *gorm.DB, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	p := &boundedPool{db: sqlDB, timeout: timeout}
	db.ConnPool = p
	db.Statement.ConnPool = p
	return nil
}

func (p *boundedPool) GetDBConn() (*sql.DB, error) { return p.db, nil }

func (p *boundedPool) acquire(ctx context.Context) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.db.Conn(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrPoolTimeout
		}
		return nil, err
	}
	return conn, nil
}

// releaseWhenDone hands conn back once the rows or transaction borrowing it
// are closed; sql.Conn.Close blocks until then.
func releaseWhenDone(conn *sql.Conn) {
	go func() { _ = conn.Close() }()
}

func (p *boundedPool) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return p.db.PrepareContext(ctx, query)
}

func (p *boundedPool) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.ExecContext(ctx, query, args...)
}

func (p *boundedPool) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	releaseWhenDone(conn)
	return rows, nil
}

// QueryRowContext cannot carry ErrPoolTimeout in a *sql.Row; when the wait
// times out the row reports context.DeadlineExceeded instead.
func (p *boundedPool) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	conn, err := p.acquire(ctx)
	if err != nil {
		expired, cancel := context.WithDeadline(ctx, time.Time{})
		defer cancel()
		return p.db.QueryRowContext(expired, query, args...)
	}
	row := conn.QueryRowContext(ctx, query, args...)
	releaseWhenDone(conn)
	return row
}

func (p *boundedPool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	releaseWhenDone(conn)
	return tx, nil
}
