package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/config"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/lock"
)

// coordination — backend блокировок и кеша.
type coordination struct {
	locker   lock.Locker
	cache    cache.Cache
	checkers map[string]healthcheck.Checker
	close    func()
}

// initCoordination подключает Redis при заданном адресе. Без Redis блокировки
// живут в процессе, а кеш — в ristretto.
func initCoordination(ctx context.Context, cfg config.Config, logger *log.Entry) (*coordination, error) {
	if cfg.RedisAddr == "" {
		local, err := cache.NewLocal(logger.WithField("component", "cache"))
		if err != nil {
			return nil, fmt.Errorf("create local cache: %w", err)
		}
		logger.Info("using in-process locks and local cache")
		return &coordination{
			locker:   lock.NewMemory(),
			cache:    local,
			checkers: map[string]healthcheck.Checker{},
			close:    local.Close,
		}, nil
	}

	lockClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisLockDB})
	cacheClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisCacheDB})
	closeAll := func() {
		_ = lockClient.Close()
		_ = cacheClient.Close()
	}

	// Без блокировок сервис не может работать корректно, поэтому Redis проверяется сразу.
	if err := lockClient.Ping(ctx).Err(); err != nil {
		closeAll()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	logger.WithFields(log.Fields{
		"addr":     cfg.RedisAddr,
		"lock_db":  cfg.RedisLockDB,
		"cache_db": cfg.RedisCacheDB,
	}).Info("using redis locks and cache")

	return &coordination{
		locker: lock.NewRedis(lockClient),
		cache:  cache.NewRedis(cacheClient, logger.WithField("component", "cache")),
		checkers: map[string]healthcheck.Checker{
			"redis-lock":  healthcheck.NewRedisChecker("redis-lock", lockClient),
			"redis-cache": healthcheck.NewRedisChecker("redis-cache", cacheClient),
		},
		close: closeAll,
	}, nil
}
