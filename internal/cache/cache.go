// Package cache — read-through кеш с явным TTL и инвалидацией по ключу и
// по glob-шаблону. Ошибки кеша никогда не ломают бизнес-операцию.
package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// DefaultTTL — TTL записей по умолчанию.
const DefaultTTL = 600 * time.Second

// Cache — best effort кеш. Get при ошибке backend возвращает промах,
// Set/Del логируют и проглатывают ошибку.
type Cache interface {
	// Get декодирует значение в dst; false — промах.
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Del(ctx context.Context, keys ...string)
	// DelPattern удаляет ключи, подходящие под glob (например "products:list:*").
	DelPattern(ctx context.Context, pattern string)
}

var (
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_cache_requests_total",
		Help: "Cache lookups grouped by backend and result (hit, miss).",
	}, []string{"backend", "result"})
	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_cache_errors_total",
		Help: "Swallowed cache errors grouped by backend and operation.",
	}, []string{"backend", "op"})
)

func observeLookup(backend string, hit bool) {
	if hit {
		cacheRequests.WithLabelValues(backend, "hit").Inc()
		return
	}
	cacheRequests.WithLabelValues(backend, "miss").Inc()
}

func reportError(logger *log.Entry, backend, op, key string, err error) {
	cacheErrors.WithLabelValues(backend, op).Inc()
	logger.WithError(err).WithFields(log.Fields{
		"op":        op,
		"cache_key": key,
	}).Warn("cache operation failed")
}

// GetOrLoad возвращает значение из кеша либо вызывает load и кладёт результат в кеш.
// Ошибка load возвращается как есть и не кешируется.
func GetOrLoad[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(ctx, key, &cached) {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(ctx, key, value, ttl)
	return value, nil
}
