package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every Kestrel key in a shared Redis.
const keyPrefix = "kestrel:"

// incrWithExpiry starts the window on the first increment only.
var incrWithExpiry = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache implements domain.Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Client exposes the underlying client for distributed locks.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Get retrieves a value from Redis. A miss returns nil, nil.
func (c *RedisCache) Get(ctx context.Context, companyID string, key string) ([]byte, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	val, err := c.client.Get(ctx, redisKey(companyID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, companyID string, key string, value []byte, ttl time.Duration) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey(companyID, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, companyID string, key string) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}
	return c.client.Del(ctx, redisKey(companyID, key)).Err()
}

// IncrementCounter atomically increments a windowed counter with INCR and PEXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, companyID string, key string, window time.Duration) (int64, error) {
	if err := requireCompany(companyID); err != nil {
		return 0, err
	}

	fullKey := redisKey(companyID, "counter:"+key)
	return incrWithExpiry.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(companyID, key string) string {
	return keyPrefix + makeKey(companyID, key)
}
