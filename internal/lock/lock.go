// Package lock реализует распределённые именованные блокировки с TTL и
// подтверждением владения через токен.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotAcquired — блокировку не удалось взять за отведённые попытки.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker — backend блокировок. Все операции атомарны на стороне хранилища.
type Locker interface {
	// Acquire выполняет set-if-absent с TTL. false — ключ уже занят.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release удаляет ключ, только если им владеет token.
	Release(ctx context.Context, key, token string) (bool, error)
	// Extend добавляет extra к оставшемуся TTL, только если ключом владеет token.
	Extend(ctx context.Context, key, token string, extra time.Duration) (bool, error)
	IsLocked(ctx context.Context, key string) (bool, error)
	// Owner возвращает токен владельца или пустую строку.
	Owner(ctx context.Context, key string) (string, error)
}

// Options задаёт TTL и параметры повторных попыток захвата.
type Options struct {
	TTL           time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultOptions: 5s TTL, 3 попытки, шаг задержки 100ms.
func DefaultOptions() Options {
	return Options{
		TTL:           5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// WithTTL возвращает копию опций с другим TTL.
func (o Options) WithTTL(ttl time.Duration) Options {
	o.TTL = ttl
	return o
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = def.TTL
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 1
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

var (
	lockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_lock_acquire_total",
		Help: "Lock acquisition outcomes grouped by lock domain and result.",
	}, []string{"domain", "result"})
	lockAcquireWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_lock_acquire_wait_seconds",
		Help:    "Time spent acquiring a lock including retries.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"domain"})
	lockReleaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_lock_release_total",
		Help: "Lock release outcomes grouped by lock domain and result.",
	}, []string{"domain", "result"})
)

// keyDomain возвращает первый сегмент ключа для label метрик.
func keyDomain(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
