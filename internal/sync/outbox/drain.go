package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

// Sink delivers one event to the legacy store.
type Sink interface {
	Deliver(ctx context.Context, ev *types.OutboxEvent) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the event is dead-lettered on
// the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type DrainConfig struct {
	MaxAttempts int
	BatchSize   int
	Concurrency int
	// ClaimTTL is how long a delivering claim is honoured before another
	// drainer may take the event over.
	ClaimTTL time.Duration
}

func (c DrainConfig) withDefaults() DrainConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	return c
}

type DrainResult struct {
	Claimed      int
	Delivered    int
	Retried      int
	DeadLettered int
}

type Drainer struct {
	events      repos.OutboxEventRepo
	deadLetters repos.DeadLetterRepo
	tx          db.TxRunner
	sink        Sink
	cfg         DrainConfig
	log         *logger.Logger
	now         func() time.Time
}

func NewDrainer(events repos.OutboxEventRepo, deadLetters repos.DeadLetterRepo, tx db.TxRunner, sink Sink, cfg DrainConfig, baseLog *logger.Logger) *Drainer {
	return &Drainer{
		events:      events,
		deadLetters: deadLetters,
		tx:          tx,
		sink:        sink,
		cfg:         cfg.withDefaults(),
		log:         baseLog.With("component", "OutboxDrainer"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// DrainOnce claims one batch of due events and runs each through
// pending -> delivering -> done | pending (retry) | dead_letter.
func (d *Drainer) DrainOnce(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	now := d.now()
	claimed, err := d.events.ClaimDue(dbctx.Context{Ctx: ctx}, now, d.cfg.BatchSize, now.Add(-d.cfg.ClaimTTL))
	if err != nil {
		return res, fmt.Errorf("outbox drain: claim: %w", err)
	}
	res.Claimed = len(claimed)
	if len(claimed) == 0 {
		return res, nil
	}

	var delivered, retried, dead atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, ev := range claimed {
		ev := ev
		g.Go(func() error {
			outcome, err := d.process(gctx, ev)
			if err != nil {
				return err
			}
			switch outcome {
			case types.OutboxDone:
				delivered.Add(1)
			case types.OutboxPending:
				retried.Add(1)
			case types.OutboxDeadLetter:
				dead.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	res.Delivered = int(delivered.Load())
	res.Retried = int(retried.Load())
	res.DeadLettered = int(dead.Load())
	if err != nil {
		return res, fmt.Errorf("outbox drain: %w", err)
	}
	return res, nil
}

func (d *Drainer) process(ctx context.Context, ev *types.OutboxEvent) (types.OutboxStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}
	lockedAt := claimTime(ev)

	// only reclaims of crashed deliveries push a claimed event to the ceiling
	if ev.AttemptCount >= d.cfg.MaxAttempts {
		lastErr := fmt.Sprintf("delivery claim expired %d times", ev.AttemptCount)
		return d.finishDeadLetter(dbc, ev, lockedAt, ev.AttemptCount, lastErr, false)
	}

	deliverErr := d.deliver(ctx, ev)
	if deliverErr == nil {
		ok, err := d.events.MarkDone(dbc, ev.ID, lockedAt)
		if err != nil {
			return "", err
		}
		if !ok {
			d.lostClaim(ev)
			return "", nil
		}
		d.log.Debug("outbox event delivered", "outbox_event_id", ev.ID, "entity_type", ev.EntityType, "entity_id", ev.EntityID)
		return types.OutboxDone, nil
	}

	attempts := ev.AttemptCount + 1
	lastErr := deliverErr.Error()
	if IsPermanent(deliverErr) || attempts >= d.cfg.MaxAttempts {
		return d.finishDeadLetter(dbc, ev, lockedAt, attempts, lastErr, IsPermanent(deliverErr))
	}

	next := d.now().Add(Backoff(attempts))
	ok, err := d.events.MarkRetry(dbc, ev.ID, lockedAt, attempts, next, lastErr)
	if err != nil {
		return "", err
	}
	if !ok {
		d.lostClaim(ev)
		return "", nil
	}
	d.log.Info("outbox delivery failed, will retry",
		"outbox_event_id", ev.ID,
		"attempts", attempts,
		"next_attempt_at", next,
		"error", lastErr,
	)
	return types.OutboxPending, nil
}

// deliver turns a sink panic into an ordinary retryable failure.
func (d *Drainer) deliver(ctx context.Context, ev *types.OutboxEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("outbox sink panic", "outbox_event_id", ev.ID, "entity_type", ev.EntityType, "panic", r)
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return d.sink.Deliver(ctx, ev)
}

func (d *Drainer) finishDeadLetter(dbc dbctx.Context, ev *types.OutboxEvent, lockedAt time.Time, attempts int, lastErr string, permanent bool) (types.OutboxStatus, error) {
	moved, err := d.deadLetter(dbc, ev, lockedAt, attempts, lastErr)
	if err != nil {
		return "", err
	}
	if !moved {
		d.lostClaim(ev)
		return "", nil
	}
	d.log.Warn("outbox event dead-lettered",
		"outbox_event_id", ev.ID,
		"entity_type", ev.EntityType,
		"entity_id", ev.EntityID,
		"attempts", attempts,
		"permanent", permanent,
		"error", lastErr,
	)
	return types.OutboxDeadLetter, nil
}

func (d *Drainer) lostClaim(ev *types.OutboxEvent) {
	d.log.Warn("outbox claim taken over before it finished", "outbox_event_id", ev.ID, "entity_type", ev.EntityType, "entity_id", ev.EntityID)
}

func claimTime(ev *types.OutboxEvent) time.Time {
	if ev.LockedAt == nil {
		return time.Time{}
	}
	return *ev.LockedAt
}

func (d *Drainer) deadLetter(dbc dbctx.Context, ev *types.OutboxEvent, lockedAt time.Time, attempts int, lastErr string) (bool, error) {
	moved := false
	err := d.tx.InTx(dbc, func(dbc dbctx.Context) error {
		var err error
		moved, err = d.events.MarkDeadLetter(dbc, ev.ID, lockedAt, attempts, lastErr)
		if err != nil || !moved {
			return err
		}
		now := d.now()
		return d.deadLetters.Create(dbc, &types.DeadLetter{
			OutboxEventID:  ev.ID,
			EventType:      ev.EventType,
			EntityType:     ev.EntityType,
			EntityID:       ev.EntityID,
			Payload:        ev.Payload,
			IdempotencyKey: ev.IdempotencyKey,
			AttemptCount:   attempts,
			LastError:      lastErr,
			FailedAt:       now,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}
