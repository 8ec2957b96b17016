package app

import (
	"github.com/yungbote/habitbridge-backend/internal/jobs/worker"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

func wireWorker(log *logger.Logger, cfg Config, svc Services, metrics *observability.Metrics) *worker.Worker {
	w := worker.NewWorker(log, metrics)
	w.Register(worker.LoopOutboxDrain, cfg.OutboxPollInterval, worker.DrainTask(svc.Drainer, metrics))
	w.Register(worker.LoopNotificationPlanner, cfg.PlannerInterval, worker.SweepTask(svc.Planner, metrics))
	w.Register(worker.LoopNotificationDispatch, cfg.DispatchInterval, worker.DispatchTask(svc.Dispatcher, metrics))
	return w
}
