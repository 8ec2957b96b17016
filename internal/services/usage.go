package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/legacy"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/backendmode"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/streak"
)

type HabitUsageInput struct {
	UserRef   string     `json:"user_id"`
	MethodID  string     `json:"method_id"`
	Date      civil.Date `json:"usage_date"`
	ProgramID *string    `json:"program_id,omitempty"`
}

type GoalUsageInput struct {
	UserRef   string     `json:"user_id"`
	GoalID    string     `json:"goal_id"`
	Date      civil.Date `json:"usage_date"`
	ProgramID *string    `json:"program_id,omitempty"`
}

type BeliefInput struct {
	UserRef       string     `json:"user_id"`
	OvertuigingID string     `json:"overtuiging_id"`
	Date          civil.Date `json:"usage_date"`
	ProgramID     *string    `json:"program_id,omitempty"`
}

type StreakView struct {
	Current        int         `json:"current_streak"`
	Longest        int         `json:"longest_streak"`
	LastActiveDate *civil.Date `json:"last_active_date,omitempty"`
}

type UsageResult struct {
	// ID is the relational uuid in primary mode and the legacy record id
	// otherwise.
	ID      string           `json:"id"`
	Backend backendmode.Mode `json:"backend"`
	Streak  *StreakView      `json:"streak,omitempty"`
}

type UsageEntry struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subject_id"`
	UsageDate civil.Date `json:"usage_date"`
	ProgramID *string    `json:"program_id,omitempty"`
}

type UsageList struct {
	Backend backendmode.Mode `json:"backend"`
	Habits  []UsageEntry     `json:"habits"`
	Goals   []UsageEntry     `json:"goals"`
	Beliefs []UsageEntry     `json:"beliefs"`
	Streak  *StreakView      `json:"streak,omitempty"`
}

type UsageService interface {
	RecordHabitUsage(ctx context.Context, in HabitUsageInput) (*UsageResult, error)
	RecordGoalUsage(ctx context.Context, in GoalUsageInput) (*UsageResult, error)
	// CompleteBelief fails with repos.ErrAlreadyCompleted on a second call
	// for the same user and belief.
	CompleteBelief(ctx context.Context, in BeliefInput) (*UsageResult, error)
	DeleteHabitUsage(ctx context.Context, userRef, methodID string, day civil.Date) (bool, error)
	DeleteGoalUsage(ctx context.Context, userRef, goalID string, day civil.Date) (bool, error)
	ListUsage(ctx context.Context, userRef string, rng repos.UsageRange) (*UsageList, error)
}

type usageService struct {
	log     *logger.Logger
	modes   *backendmode.Resolver
	users   UserService
	habits  repos.HabitUsageRepo
	goals   repos.GoalUsageRepo
	beliefs repos.BeliefUsageRepo
	streaks repos.UserStreakRepo
	writer  *legacy.Writer
	legacy  *legacy.Users
	now     func() time.Time
}

func NewUsageService(
	log *logger.Logger,
	modes *backendmode.Resolver,
	users UserService,
	habits repos.HabitUsageRepo,
	goals repos.GoalUsageRepo,
	beliefs repos.BeliefUsageRepo,
	streaks repos.UserStreakRepo,
	writer *legacy.Writer,
	legacyUsers *legacy.Users,
) UsageService {
	return &usageService{
		log:     log.With("service", "UsageService"),
		modes:   modes,
		users:   users,
		habits:  habits,
		goals:   goals,
		beliefs: beliefs,
		streaks: streaks,
		writer:  writer,
		legacy:  legacyUsers,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func required(name, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s required: %w", name, apierr.ErrInvalidArgument)
	}
	return v, nil
}

// day defaults a missing usage date to today in tz.
func (s *usageService) day(d civil.Date, tz string) civil.Date {
	if !d.IsZero() {
		return d
	}
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return civil.Today(s.now(), loc)
}

func (s *usageService) mode() backendmode.Mode { return s.modes.Mode(UsageBackendFlag) }

func (s *usageService) RecordHabitUsage(ctx context.Context, in HabitUsageInput) (*UsageResult, error) {
	methodID, err := required("method_id", in.MethodID)
	if err != nil {
		return nil, err
	}
	mode := s.mode()
	if mode == backendmode.Primary {
		u, err := s.users.RelationalUser(ctx, in.UserRef)
		if err != nil {
			return nil, err
		}
		row, st, err := s.habits.Upsert(dbctx.Context{Ctx: ctx}, &types.HabitUsage{
			UserID:    u.ID,
			MethodID:  methodID,
			UsageDate: s.day(in.Date, u.Timezone),
			ProgramID: in.ProgramID,
		})
		if err != nil {
			return nil, err
		}
		return &UsageResult{ID: row.ID.String(), Backend: mode, Streak: streakView(st)}, nil
	}

	legacyUser, err := s.legacyUser(ctx, in.UserRef)
	if err != nil {
		return nil, err
	}
	day := s.day(in.Date, legacyUser.Timezone)
	rec, err := s.writer.Upsert(ctx, types.EntityHabitUsage, "", map[string]any{
		"user_id":    legacyUser.LegacyID,
		"method_id":  methodID,
		"usage_date": day.String(),
		"program_id": optional(in.ProgramID),
	})
	if err != nil {
		return nil, err
	}
	st, err := s.touchLegacyStreak(ctx, legacyUser, day)
	if err != nil {
		return nil, err
	}
	return &UsageResult{ID: rec.ID, Backend: mode, Streak: st}, nil
}

func (s *usageService) RecordGoalUsage(ctx context.Context, in GoalUsageInput) (*UsageResult, error) {
	goalID, err := required("goal_id", in.GoalID)
	if err != nil {
		return nil, err
	}
	mode := s.mode()
	if mode == backendmode.Primary {
		u, err := s.users.RelationalUser(ctx, in.UserRef)
		if err != nil {
			return nil, err
		}
		row, st, err := s.goals.Upsert(dbctx.Context{Ctx: ctx}, &types.GoalUsage{
			UserID:    u.ID,
			GoalID:    goalID,
			UsageDate: s.day(in.Date, u.Timezone),
			ProgramID: in.ProgramID,
		})
		if err != nil {
			return nil, err
		}
		return &UsageResult{ID: row.ID.String(), Backend: mode, Streak: streakView(st)}, nil
	}

	legacyUser, err := s.legacyUser(ctx, in.UserRef)
	if err != nil {
		return nil, err
	}
	day := s.day(in.Date, legacyUser.Timezone)
	rec, err := s.writer.Upsert(ctx, types.EntityGoalUsage, "", map[string]any{
		"user_id":    legacyUser.LegacyID,
		"goal_id":    goalID,
		"usage_date": day.String(),
	})
	if err != nil {
		return nil, err
	}
	st, err := s.touchLegacyStreak(ctx, legacyUser, day)
	if err != nil {
		return nil, err
	}
	return &UsageResult{ID: rec.ID, Backend: mode, Streak: st}, nil
}

func (s *usageService) CompleteBelief(ctx context.Context, in BeliefInput) (*UsageResult, error) {
	beliefID, err := required("overtuiging_id", in.OvertuigingID)
	if err != nil {
		return nil, err
	}
	mode := s.mode()
	if mode == backendmode.Primary {
		u, err := s.users.RelationalUser(ctx, in.UserRef)
		if err != nil {
			return nil, err
		}
		row, err := s.beliefs.Create(dbctx.Context{Ctx: ctx}, &types.BeliefUsage{
			UserID:        u.ID,
			OvertuigingID: beliefID,
			UsageDate:     s.day(in.Date, u.Timezone),
			ProgramID:     in.ProgramID,
		})
		if err != nil {
			return nil, err
		}
		return &UsageResult{ID: row.ID.String(), Backend: mode}, nil
	}

	legacyUser, err := s.legacyUser(ctx, in.UserRef)
	if err != nil {
		return nil, err
	}
	cols := map[string]any{
		"user_id":        legacyUser.LegacyID,
		"overtuiging_id": beliefID,
		"usage_date":     s.day(in.Date, legacyUser.Timezone).String(),
	}
	existing, err := s.writer.Find(ctx, types.EntityBeliefUsage, cols)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, repos.ErrAlreadyCompleted
	}
	rec, err := s.writer.Create(ctx, types.EntityBeliefUsage, cols)
	if err != nil {
		return nil, err
	}
	return &UsageResult{ID: rec.ID, Backend: mode}, nil
}

func (s *usageService) DeleteHabitUsage(ctx context.Context, userRef, methodID string, day civil.Date) (bool, error) {
	methodID, err := required("method_id", methodID)
	if err != nil {
		return false, err
	}
	if day.IsZero() {
		return false, fmt.Errorf("usage_date required: %w", apierr.ErrInvalidArgument)
	}
	if s.mode() == backendmode.Primary {
		u, err := s.users.RelationalUser(ctx, userRef)
		if err != nil {
			return false, err
		}
		return s.habits.Delete(dbctx.Context{Ctx: ctx}, u.ID, methodID, day)
	}
	legacyID, err := s.users.LegacyID(ctx, userRef)
	if err != nil {
		return false, err
	}
	return s.writer.DeleteMatching(ctx, types.EntityHabitUsage, map[string]any{
		"user_id":    legacyID,
		"method_id":  methodID,
		"usage_date": day.String(),
	})
}

func (s *usageService) DeleteGoalUsage(ctx context.Context, userRef, goalID string, day civil.Date) (bool, error) {
	goalID, err := required("goal_id", goalID)
	if err != nil {
		return false, err
	}
	if day.IsZero() {
		return false, fmt.Errorf("usage_date required: %w", apierr.ErrInvalidArgument)
	}
	if s.mode() == backendmode.Primary {
		u, err := s.users.RelationalUser(ctx, userRef)
		if err != nil {
			return false, err
		}
		return s.goals.Delete(dbctx.Context{Ctx: ctx}, u.ID, goalID, day)
	}
	legacyID, err := s.users.LegacyID(ctx, userRef)
	if err != nil {
		return false, err
	}
	return s.writer.DeleteMatching(ctx, types.EntityGoalUsage, map[string]any{
		"user_id":    legacyID,
		"goal_id":    goalID,
		"usage_date": day.String(),
	})
}

func (s *usageService) ListUsage(ctx context.Context, userRef string, rng repos.UsageRange) (*UsageList, error) {
	mode := s.mode()
	out := &UsageList{Backend: mode, Habits: []UsageEntry{}, Goals: []UsageEntry{}, Beliefs: []UsageEntry{}}
	if mode == backendmode.Primary {
		u, err := s.users.RelationalUser(ctx, userRef)
		if err != nil {
			return nil, err
		}
		dbc := dbctx.Context{Ctx: ctx}
		habits, err := s.habits.List(dbc, u.ID, rng)
		if err != nil {
			return nil, err
		}
		for _, h := range habits {
			out.Habits = append(out.Habits, UsageEntry{ID: h.ID.String(), SubjectID: h.MethodID, UsageDate: h.UsageDate, ProgramID: h.ProgramID})
		}
		goals, err := s.goals.List(dbc, u.ID, rng)
		if err != nil {
			return nil, err
		}
		for _, g := range goals {
			out.Goals = append(out.Goals, UsageEntry{ID: g.ID.String(), SubjectID: g.GoalID, UsageDate: g.UsageDate, ProgramID: g.ProgramID})
		}
		beliefs, err := s.beliefs.List(dbc, u.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range beliefs {
			out.Beliefs = append(out.Beliefs, UsageEntry{ID: b.ID.String(), SubjectID: b.OvertuigingID, UsageDate: b.UsageDate, ProgramID: b.ProgramID})
		}
		st, err := s.streaks.Get(dbc, u.ID)
		if err != nil {
			return nil, err
		}
		out.Streak = streakView(st)
		return out, nil
	}

	legacyID, err := s.users.LegacyID(ctx, userRef)
	if err != nil {
		return nil, err
	}
	for _, part := range []struct {
		entity  types.EntityType
		subject string
		ranged  bool
		into    *[]UsageEntry
	}{
		{types.EntityHabitUsage, "method_id", true, &out.Habits},
		{types.EntityGoalUsage, "goal_id", true, &out.Goals},
		{types.EntityBeliefUsage, "overtuiging_id", false, &out.Beliefs},
	} {
		rows, err := s.writer.ListLinked(ctx, part.entity, "user_id", legacyID)
		if err != nil {
			return nil, err
		}
		for _, cols := range rows {
			d, err := civil.Parse(cols["usage_date"])
			if err != nil {
				s.log.Warn("legacy usage row without a usable date", "entity_type", part.entity, "legacy_id", cols["legacy_id"])
				continue
			}
			if part.ranged && !inRange(d, rng) {
				continue
			}
			e := UsageEntry{ID: cols["legacy_id"], SubjectID: cols[part.subject], UsageDate: d}
			if p := cols["program_id"]; p != "" {
				e.ProgramID = &p
			}
			*part.into = append(*part.into, e)
		}
	}
	if rec, err := s.legacy.FindByID(ctx, legacyID); err == nil && rec != nil {
		out.Streak = legacyStreak(s.writer.Schema(), *rec)
	}
	return out, nil
}

type legacyUserRef struct {
	LegacyID string
	Email    string
	Timezone string
	Record   legacy.Record
}

func (s *usageService) legacyUser(ctx context.Context, ref string) (*legacyUserRef, error) {
	legacyID, err := s.users.LegacyID(ctx, ref)
	if err != nil {
		return nil, err
	}
	rec, err := s.legacy.FindByID(ctx, legacyID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrUserNotFound
	}
	u, err := s.legacy.ToUser(*rec)
	if err != nil {
		return nil, err
	}
	return &legacyUserRef{LegacyID: rec.ID, Email: u.Email, Timezone: u.Timezone, Record: *rec}, nil
}

// touchLegacyStreak applies the streak rules to the counters kept on the
// legacy user record.
func (s *usageService) touchLegacyStreak(ctx context.Context, u *legacyUserRef, day civil.Date) (*StreakView, error) {
	cur := legacyStreak(s.writer.Schema(), u.Record)
	next := streak.Next(cur.LastActiveDate, cur.Current, cur.Longest, day)
	last := day
	if cur.LastActiveDate != nil && cur.LastActiveDate.After(day) {
		last = *cur.LastActiveDate
	}
	view := &StreakView{Current: next.Current, Longest: next.Longest, LastActiveDate: &last}
	if cur.LastActiveDate != nil && *cur.LastActiveDate == last && next.Current == cur.Current && next.Longest == cur.Longest {
		return view, nil
	}
	if _, err := s.writer.UpdateRecord(ctx, types.EntityUser, u.LegacyID, map[string]any{
		"current_streak":   next.Current,
		"longest_streak":   next.Longest,
		"last_active_date": last.String(),
	}); err != nil {
		return nil, fmt.Errorf("legacy streak update: %w", err)
	}
	return view, nil
}

func legacyStreak(schema *legacy.Schema, rec legacy.Record) *StreakView {
	view := &StreakView{}
	t, ok := schema.Table(types.EntityUser)
	if !ok {
		return view
	}
	cols := t.Columns(rec)
	view.Current, _ = strconv.Atoi(cols["current_streak"])
	view.Longest, _ = strconv.Atoi(cols["longest_streak"])
	if d, err := civil.Parse(cols["last_active_date"]); err == nil {
		view.LastActiveDate = &d
	}
	return view
}

func streakView(st *types.UserStreak) *StreakView {
	if st == nil {
		return nil
	}
	return &StreakView{Current: st.CurrentStreak, Longest: st.LongestStreak, LastActiveDate: st.LastActiveDate}
}

func inRange(d civil.Date, rng repos.UsageRange) bool {
	if !rng.From.IsZero() && d.Before(rng.From) {
		return false
	}
	if !rng.To.IsZero() && d.After(rng.To) {
		return false
	}
	return true
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// IsAlreadyCompleted reports the duplicate-completion condition.
func IsAlreadyCompleted(err error) bool {
	return errors.Is(err, apierr.ErrAlreadyCompleted)
}
