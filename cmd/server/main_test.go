package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"posledger/internal/cache"
	"posledger/internal/config"
	"posledger/internal/domain"
	"posledger/internal/events"
	"posledger/internal/lock"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func baseConfig() config.Config {
	return config.Config{
		StoreDriver:   config.DriverMemory,
		LockTimeout:   time.Second,
		LockTTL:       5 * time.Second,
		LowStockQueue: events.QueueDefault,
	}
}

func TestWireWithoutRedisUsesInProcessDefaults(t *testing.T) {
	deps, err := wire(context.Background(), baseConfig(), quietLogger())
	require.NoError(t, err)
	defer deps.close(quietLogger())

	require.IsType(t, &lock.KeyedMutex{}, deps.locker)
	require.IsType(t, cache.NoopProductCache{}, deps.cache)

	products, err := deps.repo.ListProducts(context.Background(), domain.ProductFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, products)
}

func TestWireWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisAddr = mr.Addr()

	deps, err := wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer deps.close(quietLogger())

	require.IsType(t, &lock.RedisLocker{}, deps.locker)
	require.IsType(t, &cache.RedisProductCache{}, deps.cache)
	require.IsType(t, events.Fanout{}, deps.sink)
}

func TestWireFallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := baseConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	deps, err := wire(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer deps.close(quietLogger())

	require.IsType(t, &lock.KeyedMutex{}, deps.locker)
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := baseConfig()
	cfg.StoreDriver = config.DriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "register.db")

	repo, closeRepo, err := openStore(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, closeRepo)
	defer func() { require.NoError(t, closeRepo()) }()

	products, err := repo.ListProducts(context.Background(), domain.ProductFilter{})
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	cfg := baseConfig()
	cfg.StoreDriver = "mysql"

	_, _, err := openStore(context.Background(), cfg, quietLogger())
	require.Error(t, err)
}

func TestDefaultTax(t *testing.T) {
	cfg := baseConfig()
	cfg.TaxEnabled = true
	cfg.TaxRatePercent = "11"

	tax, err := defaultTax(cfg)
	require.NoError(t, err)
	require.True(t, tax.Enabled)
	require.True(t, tax.RatePercent.Equal(decimal.NewFromInt(11)))

	cfg.TaxRatePercent = "abc"
	_, err = defaultTax(cfg)
	require.Error(t, err)
}
