package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/quoting/internal/observability"
	"github.com/odyssey-erp/quoting/internal/platform/cache"
	"github.com/odyssey-erp/quoting/internal/platform/db"
	"github.com/odyssey-erp/quoting/internal/quoting/currency"
	quotinghttp "github.com/odyssey-erp/quoting/internal/quoting/http"
	"github.com/odyssey-erp/quoting/internal/quoting/totals"
	"github.com/odyssey-erp/quoting/internal/quoting/versions"
	"github.com/odyssey-erp/quoting/jobs"
)

// Services holds the wired components shared by the binaries.
type Services struct {
	Config       *Config
	Logger       *slog.Logger
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Metrics      *observability.Metrics
	Rates        *currency.Repository
	Status       *totals.StatusStore
	Materializer *totals.Materializer
	Versions     *versions.Manager
	Jobs         *jobs.Client
	Locker       *cache.Locker

	closers []func() error
}

// RedisOpts returns the asynq connection options of the configuration.
func (c *Config) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// NewServices connects Postgres and Redis and wires the quoting components.
// In inline totals mode materializations run in the request path and no job
// client is created.
func NewServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	dbOpts := []db.Option{db.WithMaxConns(cfg.PGMaxConns)}
	if cfg.TracingEnabled {
		dbOpts = append(dbOpts, db.WithTracer(db.NewQueryTracer()))
	}
	pool, err := db.New(ctx, cfg.PGDSN, dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s.Pool = pool
	s.closers = append(s.closers, func() error { pool.Close(); return nil })

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s.Redis = redisClient
	s.closers = append(s.closers, redisClient.Close)

	s.Rates = currency.NewRepository(pool)
	s.Status = totals.NewStatusStore(redisClient)
	s.Locker = cache.NewLocker(redisClient, 250*time.Millisecond, 20)
	s.Materializer = totals.NewMaterializer(
		totals.NewRepository(pool),
		s.Rates,
		cfg.ReportingCurrency,
		totals.WithLogger(logger.With(slog.String("component", "totals"))),
		totals.WithStatus(s.Status),
	)

	var scheduler versions.TotalsScheduler
	if cfg.InlineTotals() {
		scheduler = totals.NewInlineScheduler(s.Materializer)
	} else {
		client, err := jobs.NewClient(cfg.RedisOpts(), cfg.MaterializeMaxRetry)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("job client: %w", err)
		}
		s.Jobs = client
		s.closers = append(s.closers, client.Close)
		scheduler = client
	}

	s.Versions = versions.NewManager(
		versions.NewRepository(pool),
		versions.WithLogger(logger.With(slog.String("component", "versions"))),
		versions.WithMaxAttempts(cfg.VersionMaxAttempts),
		versions.WithTotals(scheduler, s.Status),
		versions.WithMetrics(s.Metrics),
	)
	return s, nil
}

// TotalsJob builds the worker job over the wired materializer.
func (s *Services) TotalsJob() *jobs.TotalsJob {
	return &jobs.TotalsJob{
		Materializer: s.Materializer,
		Locker:       s.Locker,
		Logger:       s.Logger,
		Metrics:      s.Metrics.Jobs(),
		LockTTL:      s.Config.MaterializeLockTTL,
		Concurrency:  s.Config.WorkerConcurrency,
	}
}

// Router builds the HTTP handler of the API.
func (s *Services) Router() http.Handler {
	var jobHandler *jobs.Handler
	if !s.Config.InlineTotals() {
		jobHandler = jobs.NewHandler(asynq.NewInspector(s.Config.RedisOpts()), s.Logger)
	}
	return NewRouter(RouterParams{
		Logger:         s.Logger,
		Config:         s.Config,
		QuotingHandler: quotinghttp.NewHandler(s.Logger, s.Versions, s.Materializer, s.Status),
		JobHandler:     jobHandler,
		Metrics:        s.Metrics,
		Ready: func(r *http.Request) error {
			return errors.Join(s.Pool.Ping(r.Context()), s.Redis.Ping(r.Context()).Err())
		},
	})
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
