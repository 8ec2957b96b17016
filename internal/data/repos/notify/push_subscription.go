package notify

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/yungbote/habitbridge-backend/internal/data/db"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

// Enqueuer is the outbox as seen by the repositories.
type Enqueuer interface {
	Enqueue(dbc dbctx.Context, ev types.OutboxInput) (bool, error)
}

type PushSubscriptionRepo interface {
	GetByEndpoint(dbc dbctx.Context, endpoint string) (*types.PushSubscription, error)
	ListActiveByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.PushSubscription, error)
	// Upsert creates or refreshes the subscription keyed on endpoint. It
	// always comes back active with last_error cleared.
	Upsert(dbc dbctx.Context, s *types.PushSubscription) (*types.PushSubscription, error)
	// Revoke marks the endpoint revoked unless it already is. The count is
	// the number of rows that changed.
	Revoke(dbc dbctx.Context, userID uuid.UUID, endpoint string) (int64, error)
	MarkExpired(dbc dbctx.Context, id uuid.UUID, lastErr string) (bool, error)
	MarkSuccess(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	RecordError(dbc dbctx.Context, id uuid.UUID, lastErr string) error
}

type pushSubscriptionRepo struct {
	db     *gorm.DB
	tx     dbpkg.TxRunner
	outbox Enqueuer
	log    *logger.Logger
}

func NewPushSubscriptionRepo(db *gorm.DB, tx dbpkg.TxRunner, outbox Enqueuer, baseLog *logger.Logger) PushSubscriptionRepo {
	return &pushSubscriptionRepo{db: db, tx: tx, outbox: outbox, log: baseLog.With("repo", "PushSubscriptionRepo")}
}

func (r *pushSubscriptionRepo) GetByEndpoint(dbc dbctx.Context, endpoint string) (*types.PushSubscription, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var s types.PushSubscription
	if err := t.WithContext(dbc.Ctx).
		Where("endpoint = ?", strings.TrimSpace(endpoint)).
		Limit(1).
		Find(&s).Error; err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *pushSubscriptionRepo) ListActiveByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.PushSubscription, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.PushSubscription
	if err := t.WithContext(dbc.Ctx).
		Where("user_id = ? AND status = ?", userID, types.SubscriptionActive).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *pushSubscriptionRepo) Upsert(dbc dbctx.Context, s *types.PushSubscription) (*types.PushSubscription, error) {
	var stored *types.PushSubscription
	err := r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		now := time.Now().UTC()
		in := *s
		in.Endpoint = strings.TrimSpace(in.Endpoint)
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		in.Status = types.SubscriptionActive
		in.LastError = ""
		in.CreatedAt = now
		in.UpdatedAt = now
		if err := dbc.Tx.WithContext(dbc.Ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "endpoint"}},
				DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth", "user_agent", "status", "last_error", "updated_at"}),
			}).
			Create(&in).Error; err != nil {
			return err
		}
		row, err := r.GetByEndpoint(dbc, in.Endpoint)
		if err != nil {
			return err
		}
		stored = row
		return r.enqueue(dbc, types.EventUpsert, row)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *pushSubscriptionRepo) Revoke(dbc dbctx.Context, userID uuid.UUID, endpoint string) (int64, error) {
	var changed int64
	err := r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		res := dbc.Tx.WithContext(dbc.Ctx).
			Model(&types.PushSubscription{}).
			Where("endpoint = ? AND user_id = ? AND status <> ?", strings.TrimSpace(endpoint), userID, types.SubscriptionRevoked).
			Updates(map[string]interface{}{
				"status":     types.SubscriptionRevoked,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected
		if changed == 0 {
			return nil
		}
		row, err := r.GetByEndpoint(dbc, endpoint)
		if err != nil || row == nil {
			return err
		}
		return r.enqueue(dbc, types.EventUpsert, row)
	})
	return changed, err
}

func (r *pushSubscriptionRepo) MarkExpired(dbc dbctx.Context, id uuid.UUID, lastErr string) (bool, error) {
	moved := false
	err := r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		res := dbc.Tx.WithContext(dbc.Ctx).
			Model(&types.PushSubscription{}).
			Where("id = ? AND status = ?", id, types.SubscriptionActive).
			Updates(map[string]interface{}{
				"status":     types.SubscriptionExpired,
				"last_error": lastErr,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		moved = true
		var row types.PushSubscription
		if err := dbc.Tx.WithContext(dbc.Ctx).Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		return r.enqueue(dbc, types.EventUpsert, &row)
	})
	return moved, err
}

func (r *pushSubscriptionRepo) MarkSuccess(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.PushSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_success_at": at,
			"last_error":      "",
			"updated_at":      at,
		}).Error
}

func (r *pushSubscriptionRepo) RecordError(dbc dbctx.Context, id uuid.UUID, lastErr string) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.PushSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_error": lastErr,
			"updated_at": time.Now().UTC(),
		}).Error
}

// Subscription state can legitimately return to an earlier value (active,
// revoked, active again), so the key carries the row version.
func (r *pushSubscriptionRepo) enqueue(dbc dbctx.Context, et types.EventType, s *types.PushSubscription) error {
	key := "push_subscription:" + s.ID.String() + ":" + string(s.Status) + ":" + strconv.FormatInt(s.UpdatedAt.UnixNano(), 10)
	_, err := r.outbox.Enqueue(dbc, types.OutboxInput{
		Type:           et,
		Entity:         types.EntityPushSubscription,
		EntityID:       s.ID.String(),
		Priority:       types.PriorityNotify,
		IdempotencyKey: key,
		Payload: map[string]any{
			"id":         s.ID.String(),
			"user_id":    s.UserID.String(),
			"endpoint":   s.Endpoint,
			"status":     string(s.Status),
			"user_agent": s.UserAgent,
			"last_error": s.LastError,
		},
	})
	return err
}
