package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string // "memory" or "redis"
	TTL     time.Duration
	Prefix  string
}

func NewRenderCache(cfg Config, redisClient *redis.Client) RenderCache {
	switch cfg.Backend {
	case "redis":
		return NewRedisRenderCache(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		})
	default:
		return NewMemoryRenderCache(cfg.TTL)
	}
}
