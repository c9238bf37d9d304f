package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"staybook/internal/config"
	"staybook/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisAvailabilityCache is the shared availability cache.
type RedisAvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisAvailabilityCache(client *redis.Client, ttl time.Duration) *RedisAvailabilityCache {
	if ttl <= 0 {
		ttl = models.DefaultCacheTTL
	}
	return &RedisAvailabilityCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *RedisAvailabilityCache) generations(ctx context.Context, propertyID string, rng models.DateRange) ([]int64, error) {
	keys := genKeys(propertyID, Buckets(rng))
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache generations: %w", err)
	}
	gens := make([]int64, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected generation value %T", v)
		}
		g, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse generation %q: %w", s, err)
		}
		gens[i] = g
	}
	return gens, nil
}

// Get returns the cached verdict. On a miss the entry still carries the key
// derived from the current generations; populate with Put.
func (c *RedisAvailabilityCache) Get(ctx context.Context, propertyID string, rng models.DateRange) (models.CacheEntry, error) {
	if c.client == nil {
		return models.CacheEntry{}, errors.New("redis client is nil")
	}
	gens, err := c.generations(ctx, propertyID, rng)
	if err != nil {
		return models.CacheEntry{}, err
	}

	entry := models.CacheEntry{Key: entryKey(propertyID, rng, gens), Source: models.CacheSourceRedis}
	val, err := c.client.Get(ctx, entry.Key).Result()
	if errors.Is(err, redis.Nil) {
		return entry, nil
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("failed to get availability from redis: %w", err)
	}

	entry.Hit = true
	entry.Available = val == "1"
	return entry, nil
}

func (c *RedisAvailabilityCache) Put(ctx context.Context, entry models.CacheEntry, available bool) error {
	if c.client == nil {
		return errors.New("redis client is nil")
	}
	if entry.Key == "" {
		return errors.New("cache entry has no key")
	}
	if err := c.client.Set(ctx, entry.Key, encodeVerdict(available), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set availability in redis: %w", err)
	}
	return nil
}

// Invalidate bumps every bucket generation rng touches in one MULTI/EXEC.
// Generation keys carry no TTL: a reset counter could otherwise revive an
// orphaned entry with a matching number.
func (c *RedisAvailabilityCache) Invalidate(ctx context.Context, propertyID string, rng models.DateRange) error {
	if c.client == nil {
		return errors.New("redis client is nil")
	}
	keys := genKeys(propertyID, Buckets(rng))
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate availability: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
