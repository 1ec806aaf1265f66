package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/lexmonitor/LexMonitor/internal/pkg/cache"
	"github.com/lexmonitor/LexMonitor/internal/pkg/env"
)

// newAPILimiter builds the rate limiter for the public API group. Counters
// live in Redis so limits hold across instances and restarts.
func newAPILimiter() limiter.Config {
	// Reuse the connection details of the existing cache client
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	// Limiter counters use database 1 (cache uses DB 0)
	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})

	max := 60
	if v, err := strconv.Atoi(env.GetEnv("API_RATE_LIMIT_PER_MINUTE", "")); err == nil && v > 0 {
		max = v
	}

	return limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    storage,
	}
}
