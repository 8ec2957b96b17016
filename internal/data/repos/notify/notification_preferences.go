package notify

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type NotificationPreferencesRepo interface {
	Get(dbc dbctx.Context, userID uuid.UUID) (*types.NotificationPreferences, error)
	Upsert(dbc dbctx.Context, p *types.NotificationPreferences) (*types.NotificationPreferences, error)
	// ListEnabled pages through enabled preferences ordered by user id,
	// starting after the given id.
	ListEnabled(dbc dbctx.Context, after uuid.UUID, limit int) ([]*types.NotificationPreferences, error)
}

type notificationPreferencesRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNotificationPreferencesRepo(db *gorm.DB, baseLog *logger.Logger) NotificationPreferencesRepo {
	return &notificationPreferencesRepo{db: db, log: baseLog.With("repo", "NotificationPreferencesRepo")}
}

func (r *notificationPreferencesRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*types.NotificationPreferences, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var p types.NotificationPreferences
	if err := t.WithContext(dbc.Ctx).Where("user_id = ?", userID).Limit(1).Find(&p).Error; err != nil {
		return nil, err
	}
	if p.UserID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *notificationPreferencesRepo) Upsert(dbc dbctx.Context, p *types.NotificationPreferences) (*types.NotificationPreferences, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	in := *p
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	if err := t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enabled", "reminder_mode", "lead_minutes", "preferred_time_local",
				"timezone", "quiet_hours_start", "quiet_hours_end", "updated_at",
			}),
		}).
		Create(&in).Error; err != nil {
		return nil, err
	}
	return r.Get(dbctx.Context{Ctx: dbc.Ctx, Tx: t}, in.UserID)
}

func (r *notificationPreferencesRepo) ListEnabled(dbc dbctx.Context, after uuid.UUID, limit int) ([]*types.NotificationPreferences, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	q := t.WithContext(dbc.Ctx).Where("enabled = ?", true)
	if after != uuid.Nil {
		q = q.Where("user_id > ?", after)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.NotificationPreferences
	if err := q.Order("user_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
