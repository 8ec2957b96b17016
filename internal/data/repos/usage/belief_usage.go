package usage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/yungbote/habitbridge-backend/internal/data/db"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type BeliefUsageRepo interface {
	Find(dbc dbctx.Context, userID uuid.UUID, overtuigingID string) (*types.BeliefUsage, error)
	List(dbc dbctx.Context, userID uuid.UUID) ([]*types.BeliefUsage, error)
	// Create fails with ErrAlreadyCompleted when the user already completed
	// this belief.
	Create(dbc dbctx.Context, u *types.BeliefUsage) (*types.BeliefUsage, error)
	Delete(dbc dbctx.Context, userID uuid.UUID, overtuigingID string) (bool, error)
}

type beliefUsageRepo struct {
	db     *gorm.DB
	tx     dbpkg.TxRunner
	outbox Enqueuer
	log    *logger.Logger
}

func NewBeliefUsageRepo(db *gorm.DB, tx dbpkg.TxRunner, outbox Enqueuer, baseLog *logger.Logger) BeliefUsageRepo {
	return &beliefUsageRepo{db: db, tx: tx, outbox: outbox, log: baseLog.With("repo", "BeliefUsageRepo")}
}

func (r *beliefUsageRepo) Find(dbc dbctx.Context, userID uuid.UUID, overtuigingID string) (*types.BeliefUsage, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var u types.BeliefUsage
	if err := t.WithContext(dbc.Ctx).
		Where("user_id = ? AND overtuiging_id = ?", userID, overtuigingID).
		Limit(1).
		Find(&u).Error; err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, nil
	}
	return &u, nil
}

func (r *beliefUsageRepo) List(dbc dbctx.Context, userID uuid.UUID) ([]*types.BeliefUsage, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.BeliefUsage
	if err := t.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("usage_date ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *beliefUsageRepo) Create(dbc dbctx.Context, u *types.BeliefUsage) (*types.BeliefUsage, error) {
	var created *types.BeliefUsage
	err := r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		now := time.Now().UTC()
		in := *u
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		in.CreatedAt = now
		in.UpdatedAt = now
		res := dbc.Tx.WithContext(dbc.Ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "overtuiging_id"}},
				DoNothing: true,
			}).
			Create(&in)
		if res.Error != nil {
			if dbpkg.IsUniqueViolation(res.Error) {
				return ErrAlreadyCompleted
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyCompleted
		}
		created = &in
		_, err := r.outbox.Enqueue(dbc, types.OutboxInput{
			Type:     types.EventUpsert,
			Entity:   types.EntityBeliefUsage,
			EntityID: in.ID.String(),
			Payload: map[string]any{
				"id":             in.ID.String(),
				"user_id":        in.UserID.String(),
				"overtuiging_id": in.OvertuigingID,
				"usage_date":     in.UsageDate.String(),
				"program_id":     optionalString(in.ProgramID),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *beliefUsageRepo) Delete(dbc dbctx.Context, userID uuid.UUID, overtuigingID string) (bool, error) {
	deleted := false
	err := r.tx.InTx(dbc, func(dbc dbctx.Context) error {
		existing, err := r.Find(dbc, userID, overtuigingID)
		if err != nil || existing == nil {
			return err
		}
		if err := dbc.Tx.WithContext(dbc.Ctx).Delete(&types.BeliefUsage{}, "id = ?", existing.ID).Error; err != nil {
			return err
		}
		deleted = true
		_, err = r.outbox.Enqueue(dbc, types.OutboxInput{
			Type:     types.EventDelete,
			Entity:   types.EntityBeliefUsage,
			EntityID: existing.ID.String(),
			Payload:  map[string]any{"id": existing.ID.String()},
		})
		return err
	})
	return deleted, err
}
