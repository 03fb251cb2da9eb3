package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/cache"
)

const (
	DefaultFlagCacheSize = 20
	DefaultFlagCacheTTL  = time.Hour

	flagKeyPrefix = "flag:"
	flagIndex     = "flag:index"
)

// MemoryFlagCache keeps recent flag results in process.
type MemoryFlagCache struct {
	lru *expirable.LRU[string, domain.FlaggedEmail]
}

var (
	_ out.FlagCache = (*MemoryFlagCache)(nil)
	_ out.FlagCache = (*RedisFlagCache)(nil)
)

func NewMemoryFlagCache(size int, ttl time.Duration) *MemoryFlagCache {
	if size <= 0 {
		size = DefaultFlagCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultFlagCacheTTL
	}
	return &MemoryFlagCache{lru: expirable.NewLRU[string, domain.FlaggedEmail](size, nil, ttl)}
}

func (c *MemoryFlagCache) Get(_ context.Context, emailID string) (domain.FlaggedEmail, bool, error) {
	f, ok := c.lru.Get(emailID)
	return f, ok, nil
}

func (c *MemoryFlagCache) Set(_ context.Context, f domain.FlaggedEmail) error {
	c.lru.Add(f.ID, f)
	return nil
}

func (c *MemoryFlagCache) Len() int {
	return c.lru.Len()
}

// RedisFlagCache shares flag results across instances. A sorted-set index
// bounds the number of entries to size, dropping the oldest first.
type RedisFlagCache struct {
	store *cache.RedisCache
	size  int
	ttl   time.Duration
}

func NewRedisFlagCache(store *cache.RedisCache, size int, ttl time.Duration) *RedisFlagCache {
	if size <= 0 {
		size = DefaultFlagCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultFlagCacheTTL
	}
	return &RedisFlagCache{store: store, size: size, ttl: ttl}
}

func (c *RedisFlagCache) Get(ctx context.Context, emailID string) (domain.FlaggedEmail, bool, error) {
	var f domain.FlaggedEmail
	ok, err := c.store.GetJSON(ctx, flagKeyPrefix+emailID, &f)
	if err != nil || !ok {
		return domain.FlaggedEmail{}, false, err
	}
	return f, true, nil
}

func (c *RedisFlagCache) Set(ctx context.Context, f domain.FlaggedEmail) error {
	if err := c.store.SetJSON(ctx, flagKeyPrefix+f.ID, f, c.ttl); err != nil {
		return err
	}
	evicted, err := c.store.Track(ctx, flagIndex, f.ID, c.size)
	if err != nil {
		return err
	}
	for i := range evicted {
		evicted[i] = flagKeyPrefix + evicted[i]
	}
	return c.store.Delete(ctx, evicted...)
}
