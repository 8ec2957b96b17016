package outbox

import (
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type DeadLetterRepo interface {
	Create(dbc dbctx.Context, dl *types.DeadLetter) error
	GetByID(dbc dbctx.Context, id int64) (*types.DeadLetter, error)
	List(dbc dbctx.Context, limit int, unreplayedOnly bool) ([]*types.DeadLetter, error)
	MarkReplayed(dbc dbctx.Context, id int64, at time.Time) error
	Count(dbc dbctx.Context) (int64, error)
}

type deadLetterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeadLetterRepo(db *gorm.DB, baseLog *logger.Logger) DeadLetterRepo {
	return &deadLetterRepo{db: db, log: baseLog.With("repo", "DeadLetterRepo")}
}

func (r *deadLetterRepo) Create(dbc dbctx.Context, dl *types.DeadLetter) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if dl == nil {
		return nil
	}
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now().UTC()
	}
	return t.WithContext(dbc.Ctx).Create(dl).Error
}

func (r *deadLetterRepo) GetByID(dbc dbctx.Context, id int64) (*types.DeadLetter, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var dl types.DeadLetter
	if err := t.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&dl).Error; err != nil {
		return nil, err
	}
	if dl.ID == 0 {
		return nil, nil
	}
	return &dl, nil
}

func (r *deadLetterRepo) List(dbc dbctx.Context, limit int, unreplayedOnly bool) ([]*types.DeadLetter, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	q := t.WithContext(dbc.Ctx).Order("failed_at DESC").Order("id DESC")
	if unreplayedOnly {
		q = q.Where("replay_count = 0")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.DeadLetter
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *deadLetterRepo) MarkReplayed(dbc dbctx.Context, id int64, at time.Time) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.DeadLetter{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"replay_count":     gorm.Expr("replay_count + 1"),
			"last_replayed_at": at,
			"updated_at":       at,
		}).Error
}

func (r *deadLetterRepo) Count(dbc dbctx.Context) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var n int64
	if err := t.WithContext(dbc.Ctx).Model(&types.DeadLetter{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
