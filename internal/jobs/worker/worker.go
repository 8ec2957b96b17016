package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

// TickFunc does one unit of background work. Errors are logged and the
// loop carries on at the next tick.
type TickFunc func(ctx context.Context) error

type loop struct {
	name     string
	interval time.Duration
	run      TickFunc
}

// Worker runs named periodic loops (outbox drain, notification planning,
// notification dispatch). Each loop is single-flight within the process;
// cross-process exclusion comes from the row claims the loops use.
type Worker struct {
	log     *logger.Logger
	metrics *observability.Metrics
	mu      sync.Mutex
	loops   []loop
	wg      sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		log:     baseLog.With("component", "Worker"),
		metrics: metrics,
	}
}

func (w *Worker) Register(name string, interval time.Duration, run TickFunc) {
	if interval <= 0 {
		interval = time.Second
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loops = append(w.loops, loop{name: name, interval: interval, run: run})
}

// Start launches every registered loop. Loops stop when ctx is cancelled;
// Wait blocks until they have.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	loops := append([]loop(nil), w.loops...)
	w.mu.Unlock()
	for _, l := range loops {
		w.log.Info("Starting worker loop", "loop", l.name, "interval", l.interval.String())
		w.wg.Add(1)
		go w.runLoop(ctx, l)
	}
}

func (w *Worker) Wait() { w.wg.Wait() }

// RunOnce runs the named loop a single time outside the ticker.
func (w *Worker) RunOnce(ctx context.Context, name string) error {
	w.mu.Lock()
	var found *loop
	for i := range w.loops {
		if w.loops[i].name == name {
			l := w.loops[i]
			found = &l
			break
		}
	}
	w.mu.Unlock()
	if found == nil {
		return fmt.Errorf("worker: no loop named %q", name)
	}
	return w.tick(ctx, *found)
}

func (w *Worker) runLoop(ctx context.Context, l loop) {
	defer w.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "loop", l.name)
			return
		case <-ticker.C:
			if err := w.tick(ctx, l); err != nil && ctx.Err() == nil {
				w.log.Warn("Worker tick failed", "loop", l.name, "error", err)
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context, l loop) (err error) {
	start := time.Now()
	spanCtx, span := observability.StartSpan(ctx, "worker."+l.name, attribute.String("worker.loop", l.name))
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Worker tick panic", "loop", l.name, "panic", r)
			err = &panicError{Val: r}
		}
		observability.EndSpan(span, err)
		w.metrics.ObserveWorkerTick(l.name, err, time.Since(start))
	}()
	return l.run(spanCtx)
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
