package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"posledger.db"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	LockTimeout     time.Duration `envconfig:"LOCK_TIMEOUT" default:"5s"`
	LockTTL         time.Duration `envconfig:"LOCK_TTL" default:"30s"`
	ProductCacheTTL time.Duration `envconfig:"PRODUCT_CACHE_TTL" default:"5m"`

	ReceiptPrefix  string `envconfig:"RECEIPT_PREFIX" default:"RCP"`
	TaxEnabled     bool   `envconfig:"TAX_ENABLED" default:"false"`
	TaxRatePercent string `envconfig:"TAX_RATE_PERCENT" default:"0"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"600"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	LowStockQueue string `envconfig:"LOW_STOCK_QUEUE" default:"inventory"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == DriverSQLite && strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("SQLITE_PATH must be set when STORE_DRIVER=sqlite")
	}
	if c.LockTimeout <= 0 || c.LockTTL <= 0 {
		return errors.New("LOCK_TIMEOUT and LOCK_TTL must be positive")
	}
	rate, err := c.TaxRate()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("TAX_RATE_PERCENT must be between 0 and 100, got %s", rate)
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

func (c Config) TaxRate() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.TaxRatePercent)
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("TAX_RATE_PERCENT: %w", err)
	}
	return rate, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
