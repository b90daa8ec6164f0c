// Package sales ведёт дневную статистику продаж по событиям order.created
// и отдаёт рейтинг самых продаваемых товаров.
package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	// DefaultWindowDays — окно рейтинга продаж по умолчанию.
	DefaultWindowDays = 3
	// DefaultTopLimit — размер рейтинга по умолчанию.
	DefaultTopLimit = 5
	// DefaultRetentionDays — сколько дней хранится статистика.
	DefaultRetentionDays = 3
)

// Исходы обработки события для метрик.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeIgnored   = "ignored"
	OutcomeError     = "error"
)

// Aggregator применяет события заказов к статистике продаж.
type Aggregator struct {
	tx    domain.TxManager
	sales domain.SalesRepository
	cache cache.Cache

	retentionDays int
	cacheTTL      time.Duration
	now           func() time.Time
	metrics       *metrics.CheckoutMetrics
	logger        *log.Entry
}

// Option настраивает Aggregator.
type Option func(*Aggregator)

// WithRetentionDays задаёт окно хранения; события старше окна не учитываются.
func WithRetentionDays(days int) Option {
	return func(a *Aggregator) { a.retentionDays = days }
}

// WithCacheTTL задаёт TTL закешированного рейтинга.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Aggregator) { a.cacheTTL = ttl }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// NewAggregator создаёт агрегатор статистики продаж.
func NewAggregator(tx domain.TxManager, sales domain.SalesRepository, c cache.Cache, opts ...Option) *Aggregator {
	a := &Aggregator{
		tx:            tx,
		sales:         sales,
		cache:         c,
		retentionDays: DefaultRetentionDays,
		cacheTTL:      cache.DefaultTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache == nil {
		a.cache = cache.Noop{}
	}
	if a.retentionDays <= 0 {
		a.retentionDays = DefaultRetentionDays
	}
	if a.logger == nil {
		a.logger = log.WithField("component", "sales-aggregator")
	}
	return a
}

// HandleMessage разбирает сообщение outbox и применяет order.created.
// Остальные типы событий игнорируются.
func (a *Aggregator) HandleMessage(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.EventType != domain.EventTypeOrderCreated {
		a.metrics.RecordSalesEvent(OutcomeIgnored)
		return nil
	}

	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		a.metrics.RecordSalesEvent(OutcomeError)
		return fmt.Errorf("decode %s payload of %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return a.HandleOrderCreated(ctx, event)
}

// HandleOrderCreated увеличивает счётчик продаж каждого товара заказа на 1.
// Повторная доставка того же заказа ничего не меняет.
func (a *Aggregator) HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = a.now()
	}
	day := domain.SalesDay(occurred)

	entry := a.logger.WithFields(log.Fields{
		"order_id": event.OrderID,
		"day":      day.Format(time.DateOnly),
	})

	if day.Before(a.cutoff()) {
		a.metrics.RecordSalesEvent(OutcomeStale)
		entry.Debug("order event is older than retention window, skipping")
		return nil
	}

	applied := false
	err := a.tx.WithinTx(ctx, func(ctx context.Context) error {
		fresh, err := a.sales.MarkProcessed(ctx, event.OrderID, occurred)
		if err != nil {
			return fmt.Errorf("mark order %s processed: %w", event.OrderID, err)
		}
		if !fresh {
			return nil
		}
		for _, productID := range distinct(event.ProductIDs) {
			if err := a.sales.Increment(ctx, productID, day); err != nil {
				return fmt.Errorf("increment sales of product %d: %w", productID, err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		a.metrics.RecordSalesEvent(OutcomeError)
		return err
	}

	if !applied {
		a.metrics.RecordSalesEvent(OutcomeDuplicate)
		entry.Debug("order already aggregated")
		return nil
	}

	a.cache.DelPattern(ctx, cache.TopSellingPattern)
	a.metrics.RecordSalesEvent(OutcomeApplied)
	entry.WithField("products", len(event.ProductIDs)).Debug("order aggregated")
	return nil
}

// TopSelling возвращает limit товаров с наибольшим числом заказов за
// последние days дней, включая сегодняшний.
func (a *Aggregator) TopSelling(ctx context.Context, days, limit int) ([]domain.TopSellingProduct, error) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	since := domain.SalesDay(a.now()).AddDate(0, 0, -days)
	key := fmt.Sprintf("%s:%d", cache.TopSellingKey(days), limit)
	return cache.GetOrLoad(ctx, a.cache, key, a.cacheTTL, func(ctx context.Context) ([]domain.TopSellingProduct, error) {
		return a.sales.TopSelling(ctx, since, limit)
	})
}

// cutoff — первый день, который ещё хранится.
func (a *Aggregator) cutoff() time.Time {
	return domain.SalesDay(a.now()).AddDate(0, 0, -a.retentionDays)
}

func distinct(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	result := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
