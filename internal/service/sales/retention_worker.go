package sales

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultRetentionInterval = time.Hour

var (
	salesRetentionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sales_retention_runs_total",
		Help: "Total number of sales retention runs grouped by result.",
	}, []string{"result"})
	salesRetentionDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sales_retention_deleted_total",
		Help: "Total number of deleted daily sales rows.",
	})
	salesRetentionLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_sales_retention_last_deleted",
		Help: "Number of daily sales rows deleted during the last retention run.",
	})
)

// RetentionOptions задаёт параметры воркера очистки статистики.
type RetentionOptions struct {
	Logger        *log.Entry
	Interval      time.Duration
	RetentionDays int
	Cache         cache.Cache
	Now           func() time.Time
}

// RetentionOption настраивает RetentionWorker.
type RetentionOption func(*RetentionOptions)

// WithRetentionLogger задаёт logger воркера.
func WithRetentionLogger(logger *log.Entry) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Logger = logger
	}
}

// WithRetentionInterval задаёт интервал между запусками.
func WithRetentionInterval(interval time.Duration) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Interval = interval
	}
}

// WithRetentionWindow задаёт, сколько дней статистики хранить.
func WithRetentionWindow(days int) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.RetentionDays = days
	}
}

// WithRetentionCache задаёт кеш рейтинга, который сбрасывается после удаления.
func WithRetentionCache(c cache.Cache) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Cache = c
	}
}

// WithRetentionClock подменяет источник времени.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Now = now
	}
}

// RetentionWorker периодически удаляет статистику старше окна хранения.
type RetentionWorker struct {
	repo          domain.SalesRepository
	cache         cache.Cache
	logger        *log.Entry
	interval      time.Duration
	retentionDays int
	now           func() time.Time
}

// NewRetentionWorker создаёт воркер очистки статистики продаж.
func NewRetentionWorker(repo domain.SalesRepository, options ...RetentionOption) *RetentionWorker {
	opts := RetentionOptions{
		Interval:      defaultRetentionInterval,
		RetentionDays: DefaultRetentionDays,
		Now:           time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sales-retention-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultRetentionInterval
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &RetentionWorker{
		repo:          repo,
		cache:         opts.Cache,
		logger:        logger,
		interval:      opts.Interval,
		retentionDays: opts.RetentionDays,
		now:           opts.Now,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("sales retention worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *RetentionWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		salesRetentionRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("sales retention run failed")
		return
	}

	salesRetentionRunsTotal.WithLabelValues("ok").Inc()
	salesRetentionLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("sales retention completed")
	}
}

// DeleteExpired удаляет дни раньше сегодняшнего минус retentionDays.
func (w *RetentionWorker) DeleteExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := domain.SalesDay(w.now()).AddDate(0, 0, -w.retentionDays)
	deleted, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		salesRetentionDeletedTotal.Add(float64(deleted))
		w.cache.DelPattern(ctx, cache.TopSellingPattern)
	}
	return deleted, nil
}
