package cache

import (
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	redisClient "github.com/meterline/meterline/internal/redis"
)

// CacheType represents the type of cache to use
type CacheType string

const (
	CacheTypeInMemory CacheType = "inmemory"
	CacheTypeRedis    CacheType = "redis"
)

// Initialize builds the cache backend selected by configuration, falling
// back to in-memory when redis is unavailable.
func Initialize(cfg *config.Configuration, log *logger.Logger) Cache {
	switch CacheType(cfg.Cache.Type) {
	case CacheTypeRedis:
		client, err := redisClient.NewClient(cfg, log)
		if err != nil {
			log.Warnw("redis unavailable, falling back to in-memory cache", "error", err)
			return NewInMemoryCache()
		}
		return NewRedisCache(client, log)
	default:
		return NewInMemoryCache()
	}
}
