package lock

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client добавляет к Locker повторные попытки захвата, метрики и WithLock.
type Client struct {
	locker Locker
	logger *log.Entry
}

// NewClient создаёт клиент блокировок.
func NewClient(locker Locker, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "lock-client")
	}
	return &Client{locker: locker, logger: logger}
}

// Locker возвращает backend клиента.
func (c *Client) Locker() Locker {
	return c.locker
}

// TryAcquire пытается взять блокировку не более opts.RetryAttempts раз.
// Перед попыткой n+1 ждёт RetryDelay*n.
//
// false с nil ошибкой означает, что ресурс занят. Ошибки backend логируются
// и считаются неудачной попыткой. Отмена ctx прерывает ожидание и
// возвращается как ошибка.
func (c *Client) TryAcquire(ctx context.Context, key, token string, opts Options) (bool, error) {
	opts = opts.normalized()
	domain := keyDomain(key)
	started := time.Now()

	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		ok, err := c.locker.Acquire(ctx, key, token, opts.TTL)
		switch {
		case err != nil:
			lockAcquireTotal.WithLabelValues(domain, "error").Inc()
			c.logger.WithError(err).WithFields(log.Fields{
				"lock_key": key,
				"attempt":  attempt,
			}).Warn("lock backend error")
		case ok:
			lockAcquireTotal.WithLabelValues(domain, "acquired").Inc()
			lockAcquireWait.WithLabelValues(domain).Observe(time.Since(started).Seconds())
			return true, nil
		}

		if attempt == opts.RetryAttempts {
			break
		}
		if err := wait(ctx, opts.RetryDelay*time.Duration(attempt)); err != nil {
			return false, err
		}
	}

	lockAcquireTotal.WithLabelValues(domain, "busy").Inc()
	lockAcquireWait.WithLabelValues(domain).Observe(time.Since(started).Seconds())
	c.logger.WithFields(log.Fields{
		"lock_key": key,
		"attempts": opts.RetryAttempts,
	}).Debug("lock is busy")
	return false, nil
}

// Release освобождает блокировку. Ошибки только логируются: блокировка
// всё равно истечёт по TTL.
func (c *Client) Release(ctx context.Context, key, token string) {
	domain := keyDomain(key)

	released, err := c.locker.Release(context.WithoutCancel(ctx), key, token)
	switch {
	case err != nil:
		lockReleaseTotal.WithLabelValues(domain, "error").Inc()
		c.logger.WithError(err).WithField("lock_key", key).Warn("failed to release lock")
	case !released:
		lockReleaseTotal.WithLabelValues(domain, "not_owner").Inc()
		c.logger.WithField("lock_key", key).Warn("lock was not owned on release, ttl expired?")
	default:
		lockReleaseTotal.WithLabelValues(domain, "released").Inc()
	}
}

// WithLock берёт блокировку, выполняет fn и освобождает блокировку на любом
// пути выхода. Если блокировку взять не удалось, возвращает ErrNotAcquired.
func (c *Client) WithLock(ctx context.Context, key, token string, opts Options, fn func(ctx context.Context) error) error {
	acquired, err := c.TryAcquire(ctx, key, token, opts)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrNotAcquired
	}
	defer c.Release(ctx, key, token)

	return fn(ctx)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
