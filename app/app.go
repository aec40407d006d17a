/*
Package app wires the estimate engine from a config.Config. The HTTP server
and the estimatectl CLI share it so both see the same store, locker and
holiday calendar.

WIRING:
  database.driver  sqlite | postgres          -> Store
  locker           local | redis | advisory   -> estimate.Locker
  holidays.source  store | brasilapi          -> generic.HolidayCalendar
  redis.addr       set                        -> shared holiday cache
*/
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/warp/estimate-engine/api"
	"github.com/warp/estimate-engine/config"
	"github.com/warp/estimate-engine/estimate"
	"github.com/warp/estimate-engine/generic"
	"github.com/warp/estimate-engine/holidays"
	"github.com/warp/estimate-engine/lock"
	"github.com/warp/estimate-engine/store/postgres"
	"github.com/warp/estimate-engine/store/sqlite"
)

// Store is everything the engine persists. Both the SQLite and the
// Postgres stores implement it.
type Store interface {
	generic.TxRuleStore
	generic.SummaryStore
	generic.TaskTypeLookup
	generic.HolidayCalendar
	api.HolidayStore
	api.TaskTypeStore
	Close() error
}

type App struct {
	Config   config.Config
	Store    Store
	Service  *estimate.Service
	Fetcher  *holidays.Client
	Handler  *api.Handler
	Logger   *zap.Logger
	redis    *redis.Client
	closeFns []func() error
}

// New opens the configured store and builds the service around it.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	store, pg, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closeFns = append(a.closeFns, store.Close)

	if cfg.Redis.Addr != "" {
		a.redis = lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		a.closeFns = append(a.closeFns, a.redis.Close)
	}

	a.Fetcher = holidays.NewClient(cfg.Holidays.BaseURL, logger)

	var calendar generic.HolidayCalendar = store
	if cfg.Holidays.Source == config.HolidaySourceBrasilAPI {
		var kv holidays.KV
		if a.redis != nil {
			kv = holidays.NewRedisKV(a.redis)
		}
		calendar = holidays.Chain{store, holidays.NewRemote(a.Fetcher, kv, logger)}
	}

	a.Service = estimate.NewService(store, calendar, store, logger)
	a.Service.BatchSize = cfg.BatchSize

	switch cfg.Locker {
	case config.LockerRedis:
		if a.redis == nil {
			a.Close()
			return nil, errors.New("redis locker configured without redis.addr")
		}
		locker := lock.NewRedis(a.redis)
		locker.Logger = logger.Named("lock")
		a.Service.Locker = locker
	case config.LockerAdvisory:
		if pg == nil {
			a.Close()
			return nil, errors.New("advisory locker requires the postgres driver")
		}
		a.Service.Locker = postgres.NewAdvisoryLocker(pg.DB())
	}

	a.Handler = api.NewHandler(a.Service, store, store, a.Fetcher, logger)

	logger.Info("engine wired",
		zap.String("driver", cfg.Database.Driver),
		zap.String("locker", cfg.Locker),
		zap.String("holiday_source", cfg.Holidays.Source),
		zap.Int("batch_size", a.Service.BatchSize),
	)
	return a, nil
}

func openStore(ctx context.Context, db config.DatabaseConfig, logger *zap.Logger) (Store, *postgres.Store, error) {
	switch db.Driver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		pg.Logger = logger.Named("postgres")
		return pg, pg, nil
	case config.DriverSQLite, "":
		s, err := sqlite.New(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sqlite: %w", err)
		}
		s.Logger = logger.Named("sqlite")
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}

// Scheduler returns the holiday import scheduler, or nil when disabled.
func (a *App) Scheduler() *api.HolidaySyncScheduler {
	if a.Config.Holidays.SyncInterval <= 0 {
		return nil
	}
	s := api.NewHolidaySyncScheduler(a.Fetcher, a.Store, a.Logger)
	s.CheckInterval = a.Config.Holidays.SyncInterval
	return s
}

// Close releases the store and the redis client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		if err := a.closeFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeFns = nil
	return errors.Join(errs...)
}
