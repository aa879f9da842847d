package cache

import (
	"context"
	"time"

	"github.com/ManuelReschke/memberhub/internal/pkg/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// SetupCache initializes the connection to the Redis compatible cache server.
// A failed ping is logged, not fatal: callers degrade to their fallbacks.
func SetupCache(cfg config.CacheConfig) *redis.Client {
	client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("Could not connect to cache: %v", err)
	} else {
		log.Infof("Successfully connected to cache: %s", pong)
	}
	return client
}

// GetClient returns the Redis client instance, nil before SetupCache.
func GetClient() *redis.Client {
	return client
}

// NewLimiterStorage returns a fiber.Storage on the cache server so rate
// limit counters are shared between instances. redisstorage.New panics when
// the server is unreachable, so callers check Ping first.
func NewLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: cfg.DB + 1, // Separate database for limiter counters
		Reset:    false,
	})
}
