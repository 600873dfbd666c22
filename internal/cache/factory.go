package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Backend string
	TTL     time.Duration
	Prefix  string
}

// NewExactCache returns the configured backend, or nil when caching is disabled.
func NewExactCache(cfg Config, redisClient *redis.Client) (ExactCache, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemoryExactCache(cfg.TTL), nil
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("cache backend %q requires a redis client", cfg.Backend)
		}
		return NewRedisExactCache(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
