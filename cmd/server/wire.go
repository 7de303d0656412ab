package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"posledger/internal/cache"
	"posledger/internal/config"
	"posledger/internal/domain"
	"posledger/internal/events"
	"posledger/internal/lock"
	"posledger/internal/store"
	"posledger/internal/store/memory"
	pgstore "posledger/internal/store/postgres"
	sqlitestore "posledger/internal/store/sqlite"
)

type dependencies struct {
	repo    store.Repository
	locker  lock.Locker
	cache   cache.ProductCache
	sink    events.Sink
	closers []func() error
}

func (d *dependencies) close(logger *logrus.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("close dependency")
		}
	}
	d.closers = nil
}

// wire opens the configured store and, when REDIS_ADDR is set, switches the
// locker, product cache and low-stock sink to their redis-backed versions.
// An unreachable redis leaves the in-process defaults in place.
func wire(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*dependencies, error) {
	deps := &dependencies{
		locker: lock.NewKeyedMutex(cfg.LockTimeout),
		cache:  cache.NoopProductCache{},
		sink:   events.NewLogSink(logger),
	}

	repo, closeRepo, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.repo = repo
	if closeRepo != nil {
		deps.closers = append(deps.closers, closeRepo)
	}

	if cfg.RedisAddr == "" {
		logger.Info("redis: disabled, using in-process locks and no product cache")
		return deps, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.WithError(err).Warn("redis unavailable, using in-process locks and no product cache")
		return deps, nil
	}
	deps.closers = append(deps.closers, client.Close)

	deps.locker = lock.NewRedisLocker(client, lock.RedisOptions{
		TTL:     cfg.LockTTL,
		Timeout: cfg.LockTimeout,
		Logger:  logger,
	})
	deps.cache = cache.NewRedisProductCache(client)

	queue := events.NewAsynqSink(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.LowStockQueue)
	deps.closers = append(deps.closers, queue.Close)
	deps.sink = events.Fanout{events.NewLogSink(logger), queue}

	logger.WithField("addr", cfg.RedisAddr).Info("redis: locks, product cache and low-stock queue enabled")
	return deps, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Repository, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Info("repository: in-memory (seeded demo catalog)")
		return memory.NewSeeded(), nil, nil
	case config.DriverPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, pg.Close, nil
	case config.DriverSQLite:
		db, err := sqlitestore.Open(cfg.SQLitePath, sqlitestore.Options{Debug: cfg.LogLevel == "debug"})
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.SQLitePath).Info("repository: sqlite")
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func defaultTax(cfg config.Config) (domain.TaxConfig, error) {
	rate, err := cfg.TaxRate()
	if err != nil {
		return domain.TaxConfig{}, err
	}
	return domain.TaxConfig{Enabled: cfg.TaxEnabled, RatePercent: rate}, nil
}
