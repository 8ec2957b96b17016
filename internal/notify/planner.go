package notify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

// planDays is how many local calendar days ahead, today included, a sweep
// plans for.
const planDays = 2

// Plan computes the reminder jobs owed to one user from now on. Session
// reminders fire LeadMinutes before the preferred local time; daily
// summaries fire at it. Reminders landing in quiet hours come back with
// status skipped_quiet_hours. Instants already in the past are dropped.
func Plan(p *types.NotificationPreferences, now time.Time) ([]*types.NotificationJob, error) {
	if p == nil || !p.Enabled {
		return nil, nil
	}
	if !p.ReminderMode.Valid() {
		return nil, fmt.Errorf("reminder mode %q: %w", p.ReminderMode, apierr.ErrInvalidArgument)
	}
	loc, err := time.LoadLocation(strings.TrimSpace(p.Timezone))
	if err != nil || strings.TrimSpace(p.Timezone) == "" {
		return nil, fmt.Errorf("timezone %q: %w", p.Timezone, apierr.ErrInvalidArgument)
	}
	at, err := ParseClock(p.PreferredTimeLocal)
	if err != nil {
		return nil, err
	}
	quiet, err := ParseQuietHours(p.QuietHoursStart, p.QuietHoursEnd)
	if err != nil {
		return nil, err
	}

	var modes []types.JobMode
	switch p.ReminderMode {
	case types.ReminderSession:
		modes = []types.JobMode{types.JobModeSession}
	case types.ReminderDailySummary:
		modes = []types.JobMode{types.JobModeDailySummary}
	case types.ReminderBoth:
		modes = []types.JobMode{types.JobModeSession, types.JobModeDailySummary}
	}

	today := civil.Today(now, loc)
	var out []*types.NotificationJob
	for i := 0; i < planDays; i++ {
		day := today.AddDays(i)
		// time.Date resolves the zone offset in effect on that date
		target := time.Date(day.Year, day.Month, day.Day, at/60, at%60, 0, 0, loc)
		for _, mode := range modes {
			scheduled := target
			if mode == types.JobModeSession && p.LeadMinutes > 0 {
				scheduled = target.Add(-time.Duration(p.LeadMinutes) * time.Minute)
			}
			if scheduled.Before(now) {
				continue
			}
			status := types.JobPending
			if quiet.Contains(scheduled.In(loc)) {
				status = types.JobSkippedQuietHours
			}
			out = append(out, &types.NotificationJob{
				UserID:         p.UserID,
				Mode:           mode,
				LocalDate:      day,
				ScheduledFor:   scheduled.UTC(),
				Status:         status,
				IdempotencyKey: types.JobKey(p.UserID, day, mode),
			})
		}
	}
	return out, nil
}

type PlannerConfig struct {
	BatchSize   int
	Concurrency int
}

type SweepResult struct {
	Users      int
	Planned    int
	Inserted   int
	QuietSkips int
	UserErrors int
}

type Planner struct {
	prefs repos.NotificationPreferencesRepo
	jobs  repos.NotificationJobRepo
	cfg   PlannerConfig
	log   *logger.Logger
	now   func() time.Time
}

func NewPlanner(prefs repos.NotificationPreferencesRepo, jobs repos.NotificationJobRepo, cfg PlannerConfig, baseLog *logger.Logger) *Planner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Planner{
		prefs: prefs,
		jobs:  jobs,
		cfg:   cfg,
		log:   baseLog.With("component", "NotificationPlanner"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Sweep plans every enabled user. Jobs already planned are left alone; a
// user whose preferences do not parse is logged and skipped.
func (p *Planner) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var planned, inserted, quiet, failed atomic.Int64
	now := p.now()
	after := uuid.Nil

	for {
		page, err := p.prefs.ListEnabled(dbctx.Context{Ctx: ctx}, after, p.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("planner: list preferences: %w", err)
		}
		if len(page) == 0 {
			break
		}
		res.Users += len(page)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Concurrency)
		for _, prefs := range page {
			prefs := prefs
			g.Go(func() error {
				jobs, err := Plan(prefs, now)
				if err != nil {
					failed.Add(1)
					p.log.Warn("skipping user with unusable notification preferences", "user_id", prefs.UserID, "error", err)
					return nil
				}
				for _, job := range jobs {
					planned.Add(1)
					if job.Status == types.JobSkippedQuietHours {
						quiet.Add(1)
					}
					ok, err := p.jobs.InsertIfAbsent(dbctx.Context{Ctx: gctx}, job)
					if err != nil {
						return fmt.Errorf("planner: insert job %s: %w", job.IdempotencyKey, err)
					}
					if ok {
						inserted.Add(1)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, err
		}
		after = page[len(page)-1].UserID
		if len(page) < p.cfg.BatchSize {
			break
		}
	}

	res.Planned = int(planned.Load())
	res.Inserted = int(inserted.Load())
	res.QuietSkips = int(quiet.Load())
	res.UserErrors = int(failed.Load())
	if res.Inserted > 0 || res.UserErrors > 0 {
		p.log.Info("notification sweep finished",
			"users", res.Users,
			"planned", res.Planned,
			"inserted", res.Inserted,
			"quiet_skips", res.QuietSkips,
			"user_errors", res.UserErrors,
		)
	}
	return res, nil
}
