// Package viewcache caches rendered dashboard responses. Entries are keyed by
// snapshot sequence, so a new snapshot never serves a view built from an
// older one.
package viewcache

import (
	"context"
	"fmt"
	"strings"

	"github.com/ongoingai/dashboard/internal/config"
)

const keyPrefix = "ongoingai:dashboard:view:"

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// New builds the cache selected by cfg. The off driver returns a nil Cache,
// which callers treat as "always miss".
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch strings.TrimSpace(cfg.Driver) {
	case config.CacheDriverOff, "":
		return nil, nil
	case config.CacheDriverMemory:
		return NewMemoryCache(cfg.TTL()), nil
	case config.CacheDriverRedis:
		cache, err := NewRedisCache(ctx, cfg.Redis, cfg.TTL())
		if err != nil {
			return nil, err
		}
		return cache, nil
	default:
		return nil, fmt.Errorf("unsupported cache.driver %q", cfg.Driver)
	}
}

func Key(seq uint64, requestURI string) string {
	return fmt.Sprintf("%s%d:%s", keyPrefix, seq, requestURI)
}
