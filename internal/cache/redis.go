package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	redisBackend  = "redis"
	scanBatchSize = 100
)

// Redis хранит JSON значения в отдельной логической БД Redis.
type Redis struct {
	client redis.UniversalClient
	logger *log.Entry
}

// NewRedis создаёт Redis кеш.
func NewRedis(client redis.UniversalClient, logger *log.Entry) *Redis {
	if logger == nil {
		logger = log.WithField("component", "redis-cache")
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string, dst any) bool {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observeLookup(redisBackend, false)
		return false
	}
	if err != nil {
		reportError(r.logger, redisBackend, "get", key, err)
		observeLookup(redisBackend, false)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		reportError(r.logger, redisBackend, "decode", key, err)
		observeLookup(redisBackend, false)
		return false
	}
	observeLookup(redisBackend, true)
	return true
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		reportError(r.logger, redisBackend, "encode", key, err)
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		reportError(r.logger, redisBackend, "set", key, err)
	}
}

func (r *Redis) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		reportError(r.logger, redisBackend, "del", keys[0], err)
	}
}

// DelPattern проходит keyspace через SCAN, чтобы не блокировать Redis как KEYS.
func (r *Redis) DelPattern(ctx context.Context, pattern string) {
	if err := r.delPattern(ctx, pattern); err != nil {
		reportError(r.logger, redisBackend, "del_pattern", pattern, err)
	}
}

func (r *Redis) delPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return errors.Wrapf(err, "scan %s", pattern)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrapf(err, "del %d keys", len(keys))
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

var _ Cache = (*Redis)(nil)
