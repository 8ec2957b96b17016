// Package outbox is the durable queue of changes still owed to the legacy
// store. Producers enqueue inside their own transaction; the Drainer
// delivers; dead letters can be replayed by hand.
package outbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type Outbox interface {
	// Enqueue records ev as pending. A duplicate of an already-enqueued
	// logical event is dropped silently; the bool reports a new row.
	// Passing dbc.Tx writes atomically with the caller's transaction.
	Enqueue(dbc dbctx.Context, ev types.OutboxInput) (bool, error)
	// Replay re-injects a dead letter as a fresh pending event. It returns
	// false when no such dead letter exists.
	Replay(dbc dbctx.Context, deadLetterID int64) (bool, error)
	// ReplayAll replays every dead letter that was never replayed.
	ReplayAll(dbc dbctx.Context, limit int) ([]int64, error)
	ListDeadLetters(dbc dbctx.Context, limit int, unreplayedOnly bool) ([]*types.DeadLetter, error)
	// DeadLetter returns nil when the id is unknown.
	DeadLetter(dbc dbctx.Context, id int64) (*types.DeadLetter, error)
	Stats(dbc dbctx.Context) (Stats, error)
}

type Stats struct {
	Pending          int64         `json:"pending"`
	Delivering       int64         `json:"delivering"`
	Done             int64         `json:"done"`
	DeadLetters      int64         `json:"dead_letters"`
	OldestPendingAge time.Duration `json:"-"`
	OldestPendingSec float64       `json:"oldest_pending_age_seconds"`
}

type service struct {
	events      repos.OutboxEventRepo
	deadLetters repos.DeadLetterRepo
	tx          db.TxRunner
	log         *logger.Logger
	now         func() time.Time
}

func New(events repos.OutboxEventRepo, deadLetters repos.DeadLetterRepo, tx db.TxRunner, baseLog *logger.Logger) Outbox {
	return &service{
		events:      events,
		deadLetters: deadLetters,
		tx:          tx,
		log:         baseLog.With("service", "Outbox"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Enqueue(dbc dbctx.Context, in types.OutboxInput) (bool, error) {
	if !in.Type.Valid() {
		return false, fmt.Errorf("outbox: event type %q: %w", in.Type, apierr.ErrInvalidArgument)
	}
	if !in.Entity.Valid() {
		return false, fmt.Errorf("outbox: entity type %q: %w", in.Entity, apierr.ErrInvalidArgument)
	}
	entityID := strings.TrimSpace(in.EntityID)
	if entityID == "" {
		return false, fmt.Errorf("outbox: empty entity id: %w", apierr.ErrInvalidArgument)
	}

	payload, err := CanonicalJSON(in.Payload)
	if err != nil {
		return false, fmt.Errorf("outbox: encode payload: %w", err)
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key, err = IdempotencyKey(in.Type, in.Entity, entityID, in.Payload)
		if err != nil {
			return false, err
		}
	}
	priority := in.Priority
	if priority == 0 {
		priority = types.PriorityDefault
	}

	now := s.now()
	ev := &types.OutboxEvent{
		EventType:      in.Type,
		EntityType:     in.Entity,
		EntityID:       entityID,
		Payload:        datatypes.JSON(payload),
		Priority:       priority,
		IdempotencyKey: key,
		Status:         types.OutboxPending,
		AttemptCount:   0,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.events.Insert(dbc, ev)
	if err != nil {
		return false, fmt.Errorf("outbox: enqueue %s/%s: %w", in.Entity, entityID, err)
	}
	if !inserted {
		s.log.Debug("duplicate outbox event dropped", "entity_type", in.Entity, "entity_id", entityID, "idempotency_key", key)
	}
	return inserted, nil
}

func (s *service) Replay(dbc dbctx.Context, deadLetterID int64) (bool, error) {
	replayed := false
	err := s.tx.InTx(dbc, func(dbc dbctx.Context) error {
		dl, err := s.deadLetters.GetByID(dbc, deadLetterID)
		if err != nil {
			return err
		}
		if dl == nil {
			return nil
		}
		now := s.now()
		ev := &types.OutboxEvent{
			EventType:      dl.EventType,
			EntityType:     dl.EntityType,
			EntityID:       dl.EntityID,
			Payload:        dl.Payload,
			Priority:       types.PriorityReplay,
			IdempotencyKey: ReplayKey(dl.ID, dl.ReplayCount+1, now),
			Status:         types.OutboxPending,
			AttemptCount:   0,
			NextAttemptAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		inserted, err := s.events.Insert(dbc, ev)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("outbox: replay key collision for dead letter %d", dl.ID)
		}
		if err := s.deadLetters.MarkReplayed(dbc, dl.ID, now); err != nil {
			return err
		}
		replayed = true
		s.log.Info("dead letter replayed", "dead_letter_id", dl.ID, "outbox_event_id", ev.ID, "entity_type", dl.EntityType)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("outbox: replay %d: %w", deadLetterID, err)
	}
	return replayed, nil
}

func (s *service) ReplayAll(dbc dbctx.Context, limit int) ([]int64, error) {
	pending, err := s.deadLetters.List(dbc, limit, true)
	if err != nil {
		return nil, err
	}
	var done []int64
	var errs []error
	for _, dl := range pending {
		ok, err := s.Replay(dbc, dl.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			done = append(done, dl.ID)
		}
	}
	return done, errors.Join(errs...)
}

func (s *service) ListDeadLetters(dbc dbctx.Context, limit int, unreplayedOnly bool) ([]*types.DeadLetter, error) {
	return s.deadLetters.List(dbc, limit, unreplayedOnly)
}

func (s *service) DeadLetter(dbc dbctx.Context, id int64) (*types.DeadLetter, error) {
	return s.deadLetters.GetByID(dbc, id)
}

func (s *service) Stats(dbc dbctx.Context) (Stats, error) {
	var st Stats
	counts, err := s.events.CountByStatus(dbc)
	if err != nil {
		return st, err
	}
	st.Pending = counts[types.OutboxPending]
	st.Delivering = counts[types.OutboxDelivering]
	st.Done = counts[types.OutboxDone]
	if st.DeadLetters, err = s.deadLetters.Count(dbc); err != nil {
		return st, err
	}
	oldest, err := s.events.OldestPendingCreatedAt(dbc)
	if err != nil {
		return st, err
	}
	if oldest != nil {
		st.OldestPendingAge = s.now().Sub(*oldest)
		if st.OldestPendingAge < 0 {
			st.OldestPendingAge = 0
		}
		st.OldestPendingSec = st.OldestPendingAge.Seconds()
	}
	return st, nil
}
