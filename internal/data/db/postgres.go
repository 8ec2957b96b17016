package db

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type Config struct {
	URL             string
	SSLMode         string
	PoolSize        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
	TxRetries       int
}

func ConfigFromEnv() Config {
	return Config{
		URL:             envutil.String("DATABASE_URL", ""),
		SSLMode:         envutil.String("DB_SSLMODE", ""),
		PoolSize:        envutil.Int("DB_POOL_SIZE", 10),
		MaxIdle:         envutil.Int("DB_MAX_IDLE", 5),
		ConnMaxLifetime: envutil.Duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		AcquireTimeout:  envutil.Duration("DB_ACQUIRE_TIMEOUT", 5*time.Second),
		TxRetries:       envutil.Int("DB_TX_RETRIES", 2),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("missing DATABASE_URL")
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("invalid DB_POOL_SIZE %d", c.PoolSize)
	}
	return nil
}

// DSN returns the connection string with sslmode applied when the URL does
// not already carry one.
func (c Config) DSN() string {
	dsn := strings.TrimSpace(c.URL)
	mode := strings.TrimSpace(c.SSLMode)
	if mode == "" || strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("sslmode", mode)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " sslmode=" + mode
}

type PostgresService struct {
	db  *gorm.DB
	cfg Config
	log *logger.Logger
}

func NewPostgresService(logg *logger.Logger, cfg Config) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := ConfigurePool(db, cfg); err != nil {
		return nil, err
	}
	if err := BoundAcquire(db, cfg.AcquireTimeout); err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}

	serviceLog.Info("postgres connected", "pool_size", cfg.PoolSize, "acquire_timeout", cfg.AcquireTimeout.String())
	return &PostgresService{db: db, cfg: cfg, log: serviceLog}, nil
}

// ConfigurePool applies pool limits to the underlying database/sql pool.
func ConfigurePool(db *gorm.DB, cfg Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	if cfg.PoolSize > 0 {
		sqlDB.SetMaxOpenConns(cfg.PoolSize)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) Config() Config { return s.cfg }

// Ping reports whether the relational store is reachable.
func (s *PostgresService) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
