package outbox

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type OutboxEventRepo interface {
	// Insert writes ev unless its idempotency key already exists. The bool
	// reports whether a row was written.
	Insert(dbc dbctx.Context, ev *types.OutboxEvent) (bool, error)
	GetByID(dbc dbctx.Context, id int64) (*types.OutboxEvent, error)
	GetByKey(dbc dbctx.Context, key string) (*types.OutboxEvent, error)
	// ClaimDue moves up to limit due events to delivering and returns them.
	// Delivering rows locked before staleBefore are reclaimed, and a reclaim
	// counts as a spent attempt.
	ClaimDue(dbc dbctx.Context, now time.Time, limit int, staleBefore time.Time) ([]*types.OutboxEvent, error)
	// The Mark methods finish a claim. lockedAt is the claim's LockedAt; a
	// claim that was since taken over reports false and changes nothing.
	MarkDone(dbc dbctx.Context, id int64, lockedAt time.Time) (bool, error)
	MarkRetry(dbc dbctx.Context, id int64, lockedAt time.Time, attempts int, nextAttemptAt time.Time, lastErr string) (bool, error)
	MarkDeadLetter(dbc dbctx.Context, id int64, lockedAt time.Time, attempts int, lastErr string) (bool, error)
	CountByStatus(dbc dbctx.Context) (map[types.OutboxStatus]int64, error)
	OldestPendingCreatedAt(dbc dbctx.Context) (*time.Time, error)
}

type outboxEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutboxEventRepo(db *gorm.DB, baseLog *logger.Logger) OutboxEventRepo {
	return &outboxEventRepo{db: db, log: baseLog.With("repo", "OutboxEventRepo")}
}

func (r *outboxEventRepo) tx(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *outboxEventRepo) Insert(dbc dbctx.Context, ev *types.OutboxEvent) (bool, error) {
	if ev == nil {
		return false, nil
	}
	res := r.tx(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *outboxEventRepo) GetByID(dbc dbctx.Context, id int64) (*types.OutboxEvent, error) {
	var ev types.OutboxEvent
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&ev).Error; err != nil {
		return nil, err
	}
	if ev.ID == 0 {
		return nil, nil
	}
	return &ev, nil
}

func (r *outboxEventRepo) GetByKey(dbc dbctx.Context, key string) (*types.OutboxEvent, error) {
	var ev types.OutboxEvent
	if err := r.tx(dbc).Where("idempotency_key = ?", key).Limit(1).Find(&ev).Error; err != nil {
		return nil, err
	}
	if ev.ID == 0 {
		return nil, nil
	}
	return &ev, nil
}

func (r *outboxEventRepo) ClaimDue(dbc dbctx.Context, now time.Time, limit int, staleBefore time.Time) ([]*types.OutboxEvent, error) {
	if limit <= 0 {
		limit = 1
	}
	// postgres keeps microseconds; the fence in transitionFromDelivering
	// compares against this exact value
	lockedAt := now.UTC().Truncate(time.Microsecond)
	var claimed []*types.OutboxEvent
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var candidates []*types.OutboxEvent
		err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND next_attempt_at <= ?)
          OR (status = ? AND locked_at IS NOT NULL AND locked_at < ?)
        )
      `, types.OutboxPending, now, types.OutboxDelivering, staleBefore).
			Order("priority ASC").
			Order("created_at ASC").
			Order("id ASC").
			Limit(limit).
			Find(&candidates).Error
		if err != nil {
			return err
		}
		for _, ev := range candidates {
			// guarded transition: a concurrent drainer that got here first
			// leaves RowsAffected at zero
			res := txx.Model(&types.OutboxEvent{}).
				Where("id = ? AND (status = ? OR (status = ? AND locked_at < ?))",
					ev.ID, types.OutboxPending, types.OutboxDelivering, staleBefore).
				Updates(map[string]interface{}{
					"status":        types.OutboxDelivering,
					"attempt_count": gorm.Expr("CASE WHEN status = ? THEN attempt_count + 1 ELSE attempt_count END", types.OutboxDelivering),
					"locked_at":     lockedAt,
					"updated_at":    now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			if ev.Status == types.OutboxDelivering {
				ev.AttemptCount++
			}
			ev.Status = types.OutboxDelivering
			claimedAt := lockedAt
			ev.LockedAt = &claimedAt
			claimed = append(claimed, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *outboxEventRepo) transitionFromDelivering(dbc dbctx.Context, id int64, lockedAt time.Time, updates map[string]interface{}) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.tx(dbc).
		Model(&types.OutboxEvent{}).
		Where("id = ? AND status = ? AND locked_at = ?", id, types.OutboxDelivering, lockedAt).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *outboxEventRepo) MarkDone(dbc dbctx.Context, id int64, lockedAt time.Time) (bool, error) {
	return r.transitionFromDelivering(dbc, id, lockedAt, map[string]interface{}{
		"status":     types.OutboxDone,
		"last_error": "",
		"locked_at":  nil,
	})
}

func (r *outboxEventRepo) MarkRetry(dbc dbctx.Context, id int64, lockedAt time.Time, attempts int, nextAttemptAt time.Time, lastErr string) (bool, error) {
	return r.transitionFromDelivering(dbc, id, lockedAt, map[string]interface{}{
		"status":          types.OutboxPending,
		"attempt_count":   attempts,
		"next_attempt_at": nextAttemptAt,
		"last_error":      lastErr,
		"locked_at":       nil,
	})
}

func (r *outboxEventRepo) MarkDeadLetter(dbc dbctx.Context, id int64, lockedAt time.Time, attempts int, lastErr string) (bool, error) {
	return r.transitionFromDelivering(dbc, id, lockedAt, map[string]interface{}{
		"status":        types.OutboxDeadLetter,
		"attempt_count": attempts,
		"last_error":    lastErr,
		"locked_at":     nil,
	})
}

func (r *outboxEventRepo) CountByStatus(dbc dbctx.Context) (map[types.OutboxStatus]int64, error) {
	var rows []struct {
		Status types.OutboxStatus
		N      int64
	}
	if err := r.tx(dbc).
		Model(&types.OutboxEvent{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[types.OutboxStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

func (r *outboxEventRepo) OldestPendingCreatedAt(dbc dbctx.Context) (*time.Time, error) {
	var ev types.OutboxEvent
	if err := r.tx(dbc).
		Where("status = ?", types.OutboxPending).
		Order("created_at ASC").
		Limit(1).
		Find(&ev).Error; err != nil {
		return nil, err
	}
	if ev.ID == 0 {
		return nil, nil
	}
	t := ev.CreatedAt
	return &t, nil
}
