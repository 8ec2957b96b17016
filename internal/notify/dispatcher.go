package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

var errNoSubscriptions = errors.New("no active push subscriptions")

type DispatcherConfig struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	ClaimTTL    time.Duration
}

type DispatchResult struct {
	Claimed int
	Sent    int
	Failed  int
}

type Dispatcher struct {
	jobs repos.NotificationJobRepo
	push PushService
	cfg  DispatcherConfig
	log  *logger.Logger
	now  func() time.Time
}

func NewDispatcher(jobs repos.NotificationJobRepo, push PushService, cfg DispatcherConfig, baseLog *logger.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	return &Dispatcher{
		jobs: jobs,
		push: push,
		cfg:  cfg,
		log:  baseLog.With("component", "NotificationDispatcher"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// DispatchDue claims due pending jobs and pushes each to the user's active
// subscriptions. A job is sent when at least one subscription accepted it.
func (d *Dispatcher) DispatchDue(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	now := d.now()
	claimed, err := d.jobs.ClaimDue(dbctx.Context{Ctx: ctx}, now, d.cfg.BatchSize, now.Add(-d.cfg.ClaimTTL))
	if err != nil {
		return res, fmt.Errorf("dispatch: claim: %w", err)
	}
	res.Claimed = len(claimed)

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, job := range claimed {
		job := job
		g.Go(func() error {
			ok, err := d.dispatch(gctx, job)
			if err != nil {
				return err
			}
			if ok {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	res.Sent = int(sent.Load())
	res.Failed = int(failed.Load())
	if err != nil {
		return res, fmt.Errorf("dispatch: %w", err)
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, job *types.NotificationJob) (bool, error) {
	dbc := dbctx.Context{Ctx: ctx}
	out, sendErr := d.send(ctx, job)
	if sendErr == nil && out.Delivered > 0 {
		return true, d.jobs.MarkSent(dbc, job.ID, d.now())
	}

	attempts := job.Attempts + 1
	lastErr := ""
	switch {
	case errors.Is(sendErr, ErrPushDisabled):
		lastErr = sendErr.Error()
		attempts = d.cfg.MaxAttempts
	case sendErr != nil:
		lastErr = sendErr.Error()
	case out.Attempted == 0:
		// retrying cannot help until the user subscribes again
		lastErr = errNoSubscriptions.Error()
		attempts = d.cfg.MaxAttempts
	default:
		lastErr = fmt.Sprintf("%d of %d pushes failed, %d expired", out.Failed, out.Attempted, out.Expired)
	}
	if err := d.jobs.MarkFailed(dbc, job.ID, attempts, d.cfg.MaxAttempts, lastErr); err != nil {
		return false, err
	}
	d.log.Warn("notification job not delivered", "job_id", job.ID, "user_id", job.UserID, "attempts", attempts, "error", lastErr)
	return false, nil
}

// send turns a panic in the push path into a retryable job failure.
func (d *Dispatcher) send(ctx context.Context, job *types.NotificationJob) (out SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("push send panic", "job_id", job.ID, "user_id", job.UserID, "panic", r)
			out, err = SendResult{}, fmt.Errorf("push panic: %v", r)
		}
	}()
	return d.push.SendToUser(ctx, job.UserID, MessageFor(job))
}

// MessageFor renders the push body for a job.
func MessageFor(job *types.NotificationJob) Message {
	msg := Message{
		Tag:  types.JobKey(job.UserID, job.LocalDate, job.Mode),
		Data: map[string]any{"job_id": job.ID.String(), "mode": job.Mode, "local_date": job.LocalDate.String()},
	}
	switch job.Mode {
	case types.JobModeDailySummary:
		msg.Title = "Your day at a glance"
		msg.Body = "Take a moment to look back on today's habits."
		msg.URL = "/today"
	default:
		msg.Title = "Time for your session"
		msg.Body = "Your next session starts soon."
		msg.URL = "/session"
	}
	return msg
}
