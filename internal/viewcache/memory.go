package viewcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type MemoryCache struct {
	items *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{items: gocache.New(ttl, 2*ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, ok := value.([]byte)
	return body, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.items.SetDefault(key, value)
	return nil
}

func (c *MemoryCache) Close() error {
	c.items.Flush()
	return nil
}
