package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posledger/internal/domain"
)

const productKeyPrefix = "posledger:product:"

type RedisProductCache struct {
	client *redis.Client
}

func NewRedisProductCache(client *redis.Client) *RedisProductCache {
	return &RedisProductCache{client: client}
}

func (c *RedisProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProductCache) Get(ctx context.Context, productID string) (*domain.Product, bool, error) {
	val, err := c.client.Get(ctx, productKeyPrefix+productID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var product domain.Product
	if err := json.Unmarshal(val, &product); err != nil {
		return nil, false, err
	}
	return &product, true, nil
}

func (c *RedisProductCache) Set(ctx context.Context, product *domain.Product, ttl time.Duration) error {
	if product == nil || product.ID == "" {
		return nil
	}
	payload, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, productKeyPrefix+product.ID, payload, ttl).Err()
}

func (c *RedisProductCache) Delete(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, productKeyPrefix+id)
	}
	return c.client.Del(ctx, keys...).Err()
}
