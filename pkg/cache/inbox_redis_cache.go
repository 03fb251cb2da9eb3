package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores JSON values in Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Key(key string) string {
	return c.prefix + key
}

// GetJSON decodes the value under key into dest. It reports false on a miss.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(key), data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// Track records member in the sorted set name scored by insertion time and
// returns members beyond the newest limit, removing them from the set.
func (c *RedisCache) Track(ctx context.Context, name, member string, limit int) ([]string, error) {
	set := c.Key(name)
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, set, redis.Z{Score: float64(time.Now().UnixNano()), Member: member})
	card := pipe.ZCard(ctx, set)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	overflow := card.Val() - int64(limit)
	if limit <= 0 || overflow <= 0 {
		return nil, nil
	}
	evicted, err := c.client.ZRange(ctx, set, 0, overflow-1).Result()
	if err != nil {
		return nil, err
	}
	if len(evicted) > 0 {
		members := make([]any, len(evicted))
		for i, m := range evicted {
			members[i] = m
		}
		if err := c.client.ZRem(ctx, set, members...).Err(); err != nil {
			return nil, err
		}
	}
	return evicted, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
