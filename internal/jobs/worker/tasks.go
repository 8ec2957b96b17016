package worker

import (
	"context"

	"github.com/yungbote/habitbridge-backend/internal/notify"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

const (
	LoopOutboxDrain          = "outbox_drain"
	LoopNotificationPlanner  = "notification_planner"
	LoopNotificationDispatch = "notification_dispatch"
)

// maxDrainBatches bounds how many batches one drain tick works through
// before yielding to the next tick.
const maxDrainBatches = 20

type Drainer interface {
	DrainOnce(ctx context.Context) (outbox.DrainResult, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (notify.SweepResult, error)
}

type Dispatcher interface {
	DispatchDue(ctx context.Context) (notify.DispatchResult, error)
}

// DrainTask keeps draining while batches come back non-empty. Retried
// events are pushed into the future, so a backlog of failures cannot keep
// the loop spinning.
func DrainTask(d Drainer, m *observability.Metrics) TickFunc {
	return func(ctx context.Context) error {
		for i := 0; i < maxDrainBatches; i++ {
			res, err := d.DrainOnce(ctx)
			m.AddOutbox(observability.OutcomeDelivered, res.Delivered)
			m.AddOutbox(observability.OutcomeRetried, res.Retried)
			m.AddOutbox(observability.OutcomeDeadLettered, res.DeadLettered)
			if err != nil {
				return err
			}
			if res.Claimed == 0 || ctx.Err() != nil {
				return nil
			}
		}
		return nil
	}
}

func SweepTask(p Sweeper, m *observability.Metrics) TickFunc {
	return func(ctx context.Context) error {
		res, err := p.Sweep(ctx)
		m.AddNotificationJobs(observability.OutcomePlanned, res.Planned)
		m.AddNotificationJobs(observability.OutcomeInserted, res.Inserted)
		m.AddNotificationJobs(observability.OutcomeQuietSkipped, res.QuietSkips)
		return err
	}
}

func DispatchTask(d Dispatcher, m *observability.Metrics) TickFunc {
	return func(ctx context.Context) error {
		res, err := d.DispatchDue(ctx)
		m.AddNotificationJobs(observability.OutcomeSent, res.Sent)
		m.AddNotificationJobs(observability.OutcomeFailed, res.Failed)
		return err
	}
}
