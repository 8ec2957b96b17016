package usage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/yungbote/habitbridge-backend/internal/data/db"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type GoalUsageRepo interface {
	Find(dbc dbctx.Context, userID uuid.UUID, goalID string, day civil.Date) (*types.GoalUsage, error)
	List(dbc dbctx.Context, userID uuid.UUID, rng Range) ([]*types.GoalUsage, error)
	// Upsert records the usage, refreshing updated_at if it already exists
	// for that user, goal and day. Row, streak and outbox event commit
	// together.
	Upsert(dbc dbctx.Context, u *types.GoalUsage) (*types.GoalUsage, *types.UserStreak, error)
	Delete(dbc dbctx.Context, userID uuid.UUID, goalID string, day civil.Date) (bool, error)
}

type goalUsageRepo struct {
	db      *gorm.DB
	tx      dbpkg.TxRunner
	outbox  Enqueuer
	streaks UserStreakRepo
	log     *logger.Logger
}

func NewGoalUsageRepo(db *gorm.DB, tx dbpkg.TxRunner, outbox Enqueuer, streaks UserStreakRepo, baseLog *logger.Logger) GoalUsageRepo {
	return &goalUsageRepo{
		db:      db,
		tx:      tx,
		outbox:  outbox,
		streaks: streaks,
		log:     baseLog.With("repo", "GoalUsageRepo"),
	}
}

func (r *goalUsageRepo) Find(dbc dbctx.Context, userID uuid.UUID, goalID string, day civil.Date) (*types.GoalUsage, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var u types.GoalUsage
	if err := t.WithContext(dbc.Ctx).
		Where("user_id = ? AND goal_id = ? AND usage_date = ?", userID, goalID, day).
		Limit(1).
		Find(&u).Error; err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, nil
	}
	return &u, nil
}

func (r *goalUsageRepo) List(dbc dbctx.Context, userID uuid.UUID, rng Range) ([]*types.GoalUsage, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	q := t.WithContext(dbc.Ctx).Where("user_id = ?", userID)
	if !rng.From.IsZero() {
		q = q.Where("usage_date >= ?", rng.From)
	}
	if !rng.To.IsZero() {
		q = q.Where("usage_date <= ?", rng.To)
	}
	var out []*types.GoalUsage
	if err := q.Order("usage_date ASC").Order("goal_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *goalUsageRepo) Upsert(dbc dbctx.Context, u *types.GoalUsage) (*types.GoalUsage, *types.UserStreak, error) {
	var (
		row    *types.GoalUsage
		streak *types.UserStreak
	)
	err := r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		now := time.Now().UTC()
		in := *u
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		in.CreatedAt = now
		in.UpdatedAt = now
		if err := dbc.Tx.WithContext(dbc.Ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "goal_id"}, {Name: "usage_date"}},
				DoUpdates: clause.AssignmentColumns([]string{"program_id", "updated_at"}),
			}).
			Create(&in).Error; err != nil {
			return err
		}
		stored, err := r.Find(dbc, in.UserID, in.GoalID, in.UsageDate)
		if err != nil {
			return err
		}
		row = stored

		if streak, err = r.streaks.Touch(dbc, row.UserID, row.UsageDate); err != nil {
			return err
		}
		_, err = r.outbox.Enqueue(dbc, types.OutboxInput{
			Type:           types.EventUpsert,
			Entity:         types.EntityGoalUsage,
			EntityID:       row.ID.String(),
			IdempotencyKey: versionKey(types.EntityGoalUsage, row.ID.String(), row.UpdatedAt),
			Payload: map[string]any{
				"id":         row.ID.String(),
				"user_id":    row.UserID.String(),
				"goal_id":    row.GoalID,
				"usage_date": row.UsageDate.String(),
				"program_id": optionalString(row.ProgramID),
			},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return row, streak, nil
}

func (r *goalUsageRepo) Delete(dbc dbctx.Context, userID uuid.UUID, goalID string, day civil.Date) (bool, error) {
	deleted := false
	err := r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		existing, err := r.Find(dbc, userID, goalID, day)
		if err != nil || existing == nil {
			return err
		}
		if err := dbc.Tx.WithContext(dbc.Ctx).Delete(&types.GoalUsage{}, "id = ?", existing.ID).Error; err != nil {
			return err
		}
		deleted = true
		_, err = r.outbox.Enqueue(dbc, types.OutboxInput{
			Type:     types.EventDelete,
			Entity:   types.EntityGoalUsage,
			EntityID: existing.ID.String(),
			Payload:  map[string]any{"id": existing.ID.String()},
		})
		return err
	})
	return deleted, err
}
