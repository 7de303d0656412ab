package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL       = 30 * time.Second
	redisRetryPeriod = 25 * time.Millisecond
)

// RedisLocker is a Locker shared between processes through redis.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	timeout time.Duration
	prefix  string
	logger  *logrus.Logger
}

type RedisOptions struct {
	TTL     time.Duration
	Timeout time.Duration
	Prefix  string
	Logger  *logrus.Logger
}

func NewRedisLocker(client redislock.RedisClient, opts RedisOptions) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Prefix == "" {
		opts.Prefix = "posledger:lock:"
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &RedisLocker{
		client:  redislock.New(client),
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		prefix:  opts.Prefix,
		logger:  opts.Logger,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	acquireCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.WithFields(logrus.Fields{
					"module": "lock",
					"key":    held[i].Key(),
				}).Warnf("release redis lock: %v", err)
			}
		}
	}

	for _, key := range keys {
		lk, err := l.client.Obtain(acquireCtx, l.prefix+key, l.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(redisRetryPeriod),
		})
		if err != nil {
			release()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
			}
			return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
		}
		held = append(held, lk)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
