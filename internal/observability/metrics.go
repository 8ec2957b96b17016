package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

const (
	OutcomeDelivered    = "delivered"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeSent         = "sent"
	OutcomeFailed       = "failed"
	OutcomeExpired      = "expired"
	OutcomePlanned      = "planned"
	OutcomeInserted     = "inserted"
	OutcomeQuietSkipped = "skipped_quiet_hours"
)

type Metrics struct {
	apiRequests  *CounterVec
	apiLatency   *HistogramVec
	apiInflight  *Gauge
	workerTicks  *HistogramVec
	outbox       *CounterVec
	notify       *CounterVec
	push         *CounterVec
	webhooks     *CounterVec
	replays      *CounterVec
	queueDepth   *GaugeVec
	outboxOldest *Gauge
	pgStats      *GaugeVec
	redisUp      *Gauge
	redisPing    *Gauge

	all []collector
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

func Current() *Metrics { return instance }

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL", 10*time.Second)
}

// Init builds the process-wide registry. It returns nil when metrics are
// disabled; every method on a nil *Metrics is a no-op.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// NewMetrics returns an unregistered set of series. Tests use it directly.
func NewMetrics() *Metrics {
	m := &Metrics{
		apiRequests: NewCounterVec("hb_api_requests_total", "API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"hb_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		),
		apiInflight: NewGauge("hb_api_inflight_requests", "In-flight API requests."),
		workerTicks: NewHistogramVec(
			"hb_worker_tick_duration_seconds",
			"Background worker tick duration by worker/status.",
			[]string{"worker", "status"},
			[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		outbox:       NewCounterVec("hb_outbox_events_total", "Outbox events by drain outcome.", []string{"outcome"}),
		notify:       NewCounterVec("hb_notification_jobs_total", "Notification jobs by stage outcome.", []string{"outcome"}),
		push:         NewCounterVec("hb_push_sends_total", "Push sends by outcome.", []string{"outcome"}),
		webhooks:     NewCounterVec("hb_legacy_webhooks_total", "Legacy webhooks by entity/result.", []string{"entity_type", "result"}),
		replays:      NewCounterVec("hb_dead_letter_replays_total", "Dead-letter replays by source/result.", []string{"source", "result"}),
		queueDepth:   NewGaugeVec("hb_queue_depth", "Rows by queue/status.", []string{"queue", "status"}),
		outboxOldest: NewGauge("hb_outbox_oldest_pending_seconds", "Age of the oldest pending outbox event."),
		pgStats:      NewGaugeVec("hb_postgres_pool", "Postgres connection pool stats.", []string{"stat"}),
		redisUp:      NewGauge("hb_redis_up", "Redis reachability (1 up, 0 down)."),
		redisPing:    NewGauge("hb_redis_ping_seconds", "Redis ping latency in seconds."),
	}
	m.all = []collector{
		m.apiRequests, m.apiLatency, m.apiInflight, m.workerTicks,
		m.outbox, m.notify, m.push, m.webhooks, m.replays,
		m.queueDepth, m.outboxOldest, m.pgStats, m.redisUp, m.redisPing,
	}
	return m
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.all {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unmatched"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

// ApiRequests reads back one request counter.
func (m *Metrics) ApiRequests(method, route, status string) float64 {
	if m == nil {
		return 0
	}
	return m.apiRequests.Value(method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) ObserveWorkerTick(worker string, err error, dur time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.workerTicks.Observe(dur.Seconds(), worker, status)
}

func (m *Metrics) AddOutbox(outcome string, n int) {
	if m != nil && n > 0 {
		m.outbox.Add(float64(n), outcome)
	}
}

func (m *Metrics) AddNotificationJobs(outcome string, n int) {
	if m != nil && n > 0 {
		m.notify.Add(float64(n), outcome)
	}
}

func (m *Metrics) AddPush(outcome string, n int) {
	if m != nil && n > 0 {
		m.push.Add(float64(n), outcome)
	}
}

func (m *Metrics) ObserveWebhook(entity string, status int) {
	if m == nil {
		return
	}
	result := "applied"
	switch {
	case status == http.StatusUnauthorized:
		result = "rejected"
	case status >= 400:
		result = "error"
	}
	m.webhooks.Inc(entity, result)
}

func (m *Metrics) ObserveReplay(source string, ok bool) {
	if m == nil {
		return
	}
	m.replays.Inc(source, strconv.FormatBool(ok))
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go tick(ctx, scrapeInterval(), func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: postgres stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
		m.pgStats.Set(float64(stats.InUse), "in_use")
		m.pgStats.Set(float64(stats.Idle), "idle")
		m.pgStats.Set(float64(stats.WaitCount), "wait_count")
		m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
		m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
	})
}

// StartRedisCollector pings the cache. The user cache degrades to a miss
// when redis is down, so this gauge is the only place an outage shows up.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	go tick(ctx, scrapeInterval(), func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

// StartQueueCollector publishes outbox and notification job depth by status.
func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	queues := []struct {
		name     string
		model    any
		statuses []string
	}{
		{"outbox", &types.OutboxEvent{}, []string{
			string(types.OutboxPending), string(types.OutboxDelivering), string(types.OutboxDone), string(types.OutboxDeadLetter),
		}},
		{"notification_job", &types.NotificationJob{}, []string{
			string(types.JobPending), string(types.JobDispatching), string(types.JobSent), string(types.JobFailed), string(types.JobSkippedQuietHours),
		}},
	}
	go tick(ctx, scrapeInterval(), func() {
		for _, q := range queues {
			for _, s := range q.statuses {
				m.queueDepth.Set(0, q.name, s)
			}
			var rows []struct {
				Status string
				Count  int64
			}
			if err := db.WithContext(ctx).
				Model(q.model).
				Select("status, count(*) as count").
				Group("status").
				Scan(&rows).Error; err != nil {
				if log != nil {
					log.Warn("metrics: queue depth query failed", "queue", q.name, "error", err)
				}
				continue
			}
			for _, row := range rows {
				m.queueDepth.Set(float64(row.Count), q.name, strings.TrimSpace(row.Status))
			}
		}

		var oldest struct{ CreatedAt *time.Time }
		err := db.WithContext(ctx).
			Model(&types.OutboxEvent{}).
			Select("min(created_at) as created_at").
			Where("status = ?", types.OutboxPending).
			Scan(&oldest).Error
		switch {
		case err != nil:
			if log != nil {
				log.Warn("metrics: oldest pending query failed", "error", err)
			}
		case oldest.CreatedAt == nil:
			m.outboxOldest.Set(0)
		default:
			m.outboxOldest.Set(time.Since(*oldest.CreatedAt).Seconds())
		}
	})
}

func tick(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
