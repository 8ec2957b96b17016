package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	httpserver "github.com/yungbote/habitbridge-backend/internal/http"
	"github.com/yungbote/habitbridge-backend/internal/jobs/worker"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics
	Server   *httpserver.Server
	Worker   *worker.Worker

	pg     *db.PostgresService
	cancel context.CancelFunc
}

// NewLogger builds the process logger from LOG_MODE.
func NewLogger() (*logger.Logger, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	pg, err := db.NewPostgresService(log, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	theDB := pg.DB()
	if envutil.Bool("DB_AUTOMIGRATE", true) {
		if err := db.AutoMigrateAll(theDB); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
	}

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	metrics := observability.Init(log)
	reposet := wireRepos(theDB, log, cfg)
	serviceset := wireServices(log, cfg, pg, clients, reposet, metrics)
	handlerset := wireHandlers(log, serviceset, reposet, metrics)
	middleware := wireMiddleware(log, cfg)

	return &App{
		Log:      log,
		DB:       theDB,
		Cfg:      cfg,
		Clients:  clients,
		Repos:    reposet,
		Services: serviceset,
		Metrics:  metrics,
		Server:   wireServer(log, cfg, metrics, handlerset, middleware),
		Worker:   wireWorker(log, cfg, serviceset, metrics),
		pg:       pg,
	}, nil
}

// Start launches the background loops and metric collectors.
func (a *App) Start(ctx context.Context) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
	a.Metrics.StartQueueCollector(ctx, a.Log, a.DB)
	a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)

	if a.Cfg.WorkersEnabled {
		a.Worker.Start(ctx)
	} else {
		a.Log.Info("Background workers disabled")
	}
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.Addr())
	return a.Server.Run(ctx, a.Cfg.Addr(), a.Cfg.ShutdownTimeout)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Worker != nil {
		done := make(chan struct{})
		go func() { a.Worker.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(a.Cfg.ShutdownTimeout):
			a.Log.Warn("Worker loops did not stop before shutdown timeout")
		}
	}
	a.Clients.Close()
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
