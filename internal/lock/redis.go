package lock

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    local ttl = redis.call("PTTL", KEYS[1])
    if ttl < 0 then
        ttl = 0
    end
    return redis.call("PEXPIRE", KEYS[1], ttl + tonumber(ARGV[2]))
else
    return 0
end
`)

// Redis реализует Locker поверх Redis: SET NX PX для захвата и Lua для
// проверки владельца при освобождении и продлении.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis создаёт Redis locker.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis lock acquire %s", key)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key, token string) (bool, error) {
	deleted, err := releaseScript.Run(ctx, r.client, []string{keyPrefix + key}, token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, errors.Wrapf(err, "redis lock release %s", key)
	}
	return deleted == 1, nil
}

func (r *Redis) Extend(ctx context.Context, key, token string, extra time.Duration) (bool, error) {
	extended, err := extendScript.Run(ctx, r.client, []string{keyPrefix + key}, token, extra.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, errors.Wrapf(err, "redis lock extend %s", key)
	}
	return extended == 1, nil
}

func (r *Redis) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis lock exists %s", key)
	}
	return n > 0, nil
}

func (r *Redis) Owner(ctx context.Context, key string) (string, error) {
	owner, err := r.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "redis lock owner %s", key)
	}
	return owner, nil
}

var _ Locker = (*Redis)(nil)
