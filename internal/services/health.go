package services

import (
	"context"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type JobStats struct {
	Pending            int64   `json:"pending"`
	Dispatching        int64   `json:"dispatching"`
	Sent               int64   `json:"sent"`
	Failed             int64   `json:"failed"`
	SkippedQuietHours  int64   `json:"skipped_quiet_hours"`
	OldestDueAgeSecond float64 `json:"oldest_due_age_seconds"`
}

type HealthReport struct {
	Status        string        `json:"status"`
	Database      string        `json:"database"`
	DatabaseError string        `json:"database_error,omitempty"`
	Outbox        *outbox.Stats `json:"outbox,omitempty"`
	Notifications *JobStats     `json:"notifications,omitempty"`
	CheckedAt     time.Time     `json:"checked_at"`
}

type HealthService interface {
	Check(ctx context.Context) *HealthReport
}

type healthService struct {
	log    *logger.Logger
	db     Pinger
	outbox outbox.Outbox
	jobs   repos.NotificationJobRepo
	now    func() time.Time
}

// NewHealthService reports store health. A nil db means the relational store
// is not configured and the report says so instead of failing.
func NewHealthService(log *logger.Logger, db Pinger, ob outbox.Outbox, jobs repos.NotificationJobRepo) HealthService {
	return &healthService{
		log:    log.With("service", "HealthService"),
		db:     db,
		outbox: ob,
		jobs:   jobs,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *healthService) Check(ctx context.Context) *HealthReport {
	now := s.now()
	rep := &HealthReport{Status: HealthOK, Database: HealthOK, CheckedAt: now}
	if s.db == nil {
		rep.Status = HealthDegraded
		rep.Database = HealthUnavailable
		return rep
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.Ping(pingCtx); err != nil {
		s.log.Warn("health: database ping failed", "error", err)
		rep.Status = HealthDegraded
		rep.Database = HealthUnavailable
		rep.DatabaseError = err.Error()
		return rep
	}

	dbc := dbctx.Context{Ctx: ctx}
	if s.outbox != nil {
		st, err := s.outbox.Stats(dbc)
		if err != nil {
			s.log.Warn("health: outbox stats failed", "error", err)
			rep.Status = HealthDegraded
		} else {
			rep.Outbox = &st
		}
	}
	if s.jobs != nil {
		js, err := s.jobStats(dbc, now)
		if err != nil {
			s.log.Warn("health: notification job stats failed", "error", err)
			rep.Status = HealthDegraded
		} else {
			rep.Notifications = js
		}
	}
	return rep
}

func (s *healthService) jobStats(dbc dbctx.Context, now time.Time) (*JobStats, error) {
	counts, err := s.jobs.CountByStatus(dbc)
	if err != nil {
		return nil, err
	}
	js := &JobStats{
		Pending:           counts[types.JobPending],
		Dispatching:       counts[types.JobDispatching],
		Sent:              counts[types.JobSent],
		Failed:            counts[types.JobFailed],
		SkippedQuietHours: counts[types.JobSkippedQuietHours],
	}
	oldest, err := s.jobs.OldestPendingScheduledFor(dbc, now)
	if err != nil {
		return nil, err
	}
	if oldest != nil && now.After(*oldest) {
		js.OldestDueAgeSecond = now.Sub(*oldest).Seconds()
	}
	return js, nil
}
