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

type NotificationJobRepo interface {
	// InsertIfAbsent writes job unless a job with the same idempotency key
	// exists.
	InsertIfAbsent(dbc dbctx.Context, job *types.NotificationJob) (bool, error)
	GetByKey(dbc dbctx.Context, key string) (*types.NotificationJob, error)
	ClaimDue(dbc dbctx.Context, now time.Time, limit int, staleBefore time.Time) ([]*types.NotificationJob, error)
	MarkSent(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records a failed attempt. Jobs under maxAttempts go back to
	// pending; the rest end as failed.
	MarkFailed(dbc dbctx.Context, id uuid.UUID, attempts, maxAttempts int, lastErr string) error
	CountByStatus(dbc dbctx.Context) (map[types.JobStatus]int64, error)
	OldestPendingScheduledFor(dbc dbctx.Context, now time.Time) (*time.Time, error)
}

type notificationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNotificationJobRepo(db *gorm.DB, baseLog *logger.Logger) NotificationJobRepo {
	return &notificationJobRepo{db: db, log: baseLog.With("repo", "NotificationJobRepo")}
}

func (r *notificationJobRepo) InsertIfAbsent(dbc dbctx.Context, job *types.NotificationJob) (bool, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	res := t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *notificationJobRepo) GetByKey(dbc dbctx.Context, key string) (*types.NotificationJob, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var job types.NotificationJob
	if err := t.WithContext(dbc.Ctx).Where("idempotency_key = ?", key).Limit(1).Find(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *notificationJobRepo) ClaimDue(dbc dbctx.Context, now time.Time, limit int, staleBefore time.Time) ([]*types.NotificationJob, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if limit <= 0 {
		limit = 1
	}
	var claimed []*types.NotificationJob
	err := t.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var candidates []*types.NotificationJob
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND scheduled_for <= ?) OR (status = ? AND locked_at < ?)",
				types.JobPending, now, types.JobDispatching, staleBefore).
			Order("scheduled_for ASC").
			Limit(limit).
			Find(&candidates).Error; err != nil {
			return err
		}
		for _, job := range candidates {
			res := txx.Model(&types.NotificationJob{}).
				Where("id = ? AND (status = ? OR (status = ? AND locked_at < ?))",
					job.ID, types.JobPending, types.JobDispatching, staleBefore).
				Updates(map[string]interface{}{
					"status":     types.JobDispatching,
					"locked_at":  now,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			job.Status = types.JobDispatching
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *notificationJobRepo) MarkSent(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.NotificationJob{}).
		Where("id = ? AND status = ?", id, types.JobDispatching).
		Updates(map[string]interface{}{
			"status":     types.JobSent,
			"sent_at":    at,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": "",
			"locked_at":  nil,
			"updated_at": at,
		}).Error
}

func (r *notificationJobRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, attempts, maxAttempts int, lastErr string) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	status := types.JobPending
	if attempts >= maxAttempts {
		status = types.JobFailed
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.NotificationJob{}).
		Where("id = ? AND status = ?", id, types.JobDispatching).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": lastErr,
			"locked_at":  nil,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *notificationJobRepo) CountByStatus(dbc dbctx.Context) (map[types.JobStatus]int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var rows []struct {
		Status types.JobStatus
		N      int64
	}
	if err := t.WithContext(dbc.Ctx).
		Model(&types.NotificationJob{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[types.JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

func (r *notificationJobRepo) OldestPendingScheduledFor(dbc dbctx.Context, now time.Time) (*time.Time, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var job types.NotificationJob
	if err := t.WithContext(dbc.Ctx).
		Where("status = ? AND scheduled_for <= ?", types.JobPending, now).
		Order("scheduled_for ASC").
		Limit(1).
		Find(&job).Error; err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	at := job.ScheduledFor
	return &at, nil
}
