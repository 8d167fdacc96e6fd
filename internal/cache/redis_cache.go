package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dapurstok/backend/internal/domain"
)

const inventoryKeyPrefix = "dapurstok:inventory:"

type RedisInventoryCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisInventoryCache(client *redis.Client) *RedisInventoryCache {
	return &RedisInventoryCache{client: client}
}

func (c *RedisInventoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInventoryCache) Close() error {
	return c.client.Close()
}

func (c *RedisInventoryCache) Get(ctx context.Context, storeID string) ([]domain.InventoryStockItem, bool, error) {
	val, err := c.client.Get(ctx, inventoryKeyPrefix+storeID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []domain.InventoryStockItem
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (c *RedisInventoryCache) Set(ctx context.Context, storeID string, items []domain.InventoryStockItem, ttl time.Duration) error {
	if items == nil {
		return nil
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, inventoryKeyPrefix+storeID, payload, ttl).Err()
}

func (c *RedisInventoryCache) Invalidate(ctx context.Context, storeID string) error {
	return c.client.Del(ctx, inventoryKeyPrefix+storeID).Err()
}
