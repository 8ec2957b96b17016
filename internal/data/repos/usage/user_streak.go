package usage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/streak"
)

type UserStreakRepo interface {
	Get(dbc dbctx.Context, userID uuid.UUID) (*types.UserStreak, error)
	Save(dbc dbctx.Context, s *types.UserStreak) error
	// Touch applies activity on day to the user's streak and, when it
	// changed, enqueues the new streak for the legacy user record. Callers
	// pass their open transaction.
	Touch(dbc dbctx.Context, userID uuid.UUID, day civil.Date) (*types.UserStreak, error)
}

type userStreakRepo struct {
	db     *gorm.DB
	outbox Enqueuer
	log    *logger.Logger
}

func NewUserStreakRepo(db *gorm.DB, outbox Enqueuer, baseLog *logger.Logger) UserStreakRepo {
	return &userStreakRepo{db: db, outbox: outbox, log: baseLog.With("repo", "UserStreakRepo")}
}

func (r *userStreakRepo) Get(dbc dbctx.Context, userID uuid.UUID) (*types.UserStreak, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var s types.UserStreak
	if err := t.WithContext(dbc.Ctx).Where("user_id = ?", userID).Limit(1).Find(&s).Error; err != nil {
		return nil, err
	}
	if s.UserID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *userStreakRepo) Save(dbc dbctx.Context, s *types.UserStreak) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	s.UpdatedAt = time.Now().UTC()
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"current_streak", "longest_streak", "last_active_date", "updated_at"}),
		}).
		Create(s).Error
}

func (r *userStreakRepo) Touch(dbc dbctx.Context, userID uuid.UUID, day civil.Date) (*types.UserStreak, error) {
	cur, err := r.Get(dbc, userID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		cur = &types.UserStreak{UserID: userID}
	}
	next := streak.Next(cur.LastActiveDate, cur.CurrentStreak, cur.LongestStreak, day)
	lastActive := cur.LastActiveDate
	if lastActive == nil || day.After(*lastActive) {
		d := day
		lastActive = &d
	}
	unchanged := next.Current == cur.CurrentStreak &&
		next.Longest == cur.LongestStreak &&
		cur.LastActiveDate != nil && *cur.LastActiveDate == *lastActive
	if unchanged {
		return cur, nil
	}

	cur.CurrentStreak = next.Current
	cur.LongestStreak = next.Longest
	cur.LastActiveDate = lastActive
	if err := r.Save(dbc, cur); err != nil {
		return nil, err
	}

	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var emails []string
	if err := t.WithContext(dbc.Ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Limit(1).
		Pluck("email", &emails).Error; err != nil {
		return nil, err
	}
	email := ""
	if len(emails) > 0 {
		email = emails[0]
	}
	if _, err := r.outbox.Enqueue(dbc, types.OutboxInput{
		Type:     types.EventUpsert,
		Entity:   types.EntityUser,
		EntityID: userID.String(),
		Payload: map[string]any{
			"email":            email,
			"current_streak":   cur.CurrentStreak,
			"longest_streak":   cur.LongestStreak,
			"last_active_date": cur.LastActiveDate.String(),
		},
	}); err != nil {
		return nil, err
	}
	return cur, nil
}
