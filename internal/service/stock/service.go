// Package stock реализует остатки SKU с пессимистичной блокировкой строк.
//
// Списание нескольких SKU берёт распределённые блокировки stock:{skuId}
// строго по возрастанию SKU id, поэтому два заказа с пересекающимися
// наборами SKU не могут взаимно заблокироваться.
package stock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/lock"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const ledgerName = "stock"

// Service управляет остатками SKU.
type Service struct {
	tx    domain.TxManager
	units domain.StockRepository
	locks *lock.Client
	cache cache.Cache

	lockOpts lock.Options
	cacheTTL time.Duration
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry

	// afterLock вызывается после захвата блокировки каждого SKU; используется в тестах.
	afterLock func(ctx context.Context, skuID int64)
}

// Option настраивает Service.
type Option func(*Service)

// WithLockOptions задаёт параметры блокировок stock:{skuId}.
func WithLockOptions(opts lock.Options) Option {
	return func(s *Service) { s.lockOpts = opts }
}

// WithCacheTTL задаёт TTL страниц каталога.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithMetrics подключает метрики операций.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService создаёт ledger остатков.
func NewService(tx domain.TxManager, units domain.StockRepository, locks *lock.Client, c cache.Cache, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		units:    units,
		locks:    locks,
		cache:    c,
		lockOpts: lock.DefaultOptions().WithTTL(10 * time.Second),
		cacheTTL: cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "stock-ledger")
	}
	return s
}

// CheckAvailability проверяет наличие одним пакетным чтением, без блокировок.
// Возвращает найденные SKU по id.
func (s *Service) CheckAvailability(ctx context.Context, items []domain.StockRequest) (map[int64]domain.StockUnit, error) {
	requests, err := domain.NormalizeStockRequests(items)
	if err != nil {
		return nil, err
	}

	units, err := s.units.GetByIDs(ctx, domain.SKUIDs(requests))
	if err != nil {
		return nil, fmt.Errorf("load stock units: %w", err)
	}

	byID := make(map[int64]domain.StockUnit, len(units))
	for _, unit := range units {
		byID[unit.ID] = unit
	}

	for _, req := range requests {
		unit, ok := byID[req.SKUID]
		if !ok {
			return nil, fmt.Errorf("sku %d: %w", req.SKUID, domain.ErrStockUnitNotFound)
		}
		if unit.Stock < req.Quantity {
			return nil, &domain.StockShortageError{SKUID: req.SKUID, Requested: req.Quantity, Available: unit.Stock}
		}
	}
	return byID, nil
}

// DeductMultiple списывает остатки всех позиций в одной транзакции
// (внешней, если она уже открыта). Повторы SKU объединяются,
// блокировки берутся по возрастанию SKU id.
func (s *Service) DeductMultiple(ctx context.Context, items []domain.StockRequest) error {
	requests, err := domain.NormalizeStockRequests(items)
	if err != nil {
		return err
	}

	err = s.deductInOrder(ctx, requests)
	s.metrics.RecordLedgerOp(ledgerName, "deduct", metrics.ResultOf(err))
	if err != nil {
		return err
	}

	s.InvalidateCatalog(ctx)
	return nil
}

// InvalidateCatalog удаляет кешированные страницы каталога.
func (s *Service) InvalidateCatalog(ctx context.Context) {
	s.cache.DelPattern(ctx, cache.ProductListPattern)
}

type heldLock struct {
	key   string
	token string
}

// deductInOrder списывает позиции ровно в переданном порядке.
// Распределённые блокировки снимаются в обратном порядке на любом выходе.
func (s *Service) deductInOrder(ctx context.Context, requests []domain.StockRequest) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		held := make([]heldLock, 0, len(requests))
		defer func() {
			for i := len(held) - 1; i >= 0; i-- {
				s.locks.Release(ctx, held[i].key, held[i].token)
			}
		}()

		for _, req := range requests {
			key := lock.StockKey(req.SKUID)
			token := lock.NewToken("stock-deduct", req.SKUID, strconv.FormatInt(req.Quantity, 10))

			acquired, err := s.locks.TryAcquire(ctx, key, token, s.lockOpts)
			if err != nil {
				return fmt.Errorf("acquire stock lock %d: %w", req.SKUID, err)
			}
			if !acquired {
				return fmt.Errorf("sku %d: %w", req.SKUID, domain.ErrOperationInProgress)
			}
			held = append(held, heldLock{key: key, token: token})

			if s.afterLock != nil {
				s.afterLock(ctx, req.SKUID)
			}

			if err := s.deductLocked(ctx, req); err != nil {
				return err
			}
		}
		return nil
	})
}

// deductLocked перепроверяет остаток под блокировкой строки и списывает его.
func (s *Service) deductLocked(ctx context.Context, req domain.StockRequest) error {
	unit, err := s.units.GetForUpdate(ctx, req.SKUID)
	if err != nil {
		return fmt.Errorf("sku %d: %w", req.SKUID, err)
	}
	if unit.Stock < req.Quantity {
		return &domain.StockShortageError{SKUID: req.SKUID, Requested: req.Quantity, Available: unit.Stock}
	}

	ok, err := s.units.Decrement(ctx, req.SKUID, req.Quantity)
	if err != nil {
		return fmt.Errorf("decrement sku %d: %w", req.SKUID, err)
	}
	if !ok {
		return &domain.StockShortageError{SKUID: req.SKUID, Requested: req.Quantity, Available: unit.Stock}
	}

	s.logger.WithFields(log.Fields{
		"sku_id":   req.SKUID,
		"quantity": req.Quantity,
		"left":     unit.Stock - req.Quantity,
	}).Debug("stock deducted")
	return nil
}

// List возвращает страницу каталога SKU через кеш.
func (s *Service) List(ctx context.Context, page domain.Page) ([]domain.StockUnit, error) {
	key := cache.ProductListKey(page.Number, page.Limit)
	return cache.GetOrLoad(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) ([]domain.StockUnit, error) {
		return s.units.List(ctx, page.Offset(), page.Limit)
	})
}

// Get возвращает SKU по id.
func (s *Service) Get(ctx context.Context, skuID int64) (domain.StockUnit, error) {
	return s.units.Get(ctx, skuID)
}

// Product возвращает все SKU товара с актуальными остатками, минуя кеш.
func (s *Service) Product(ctx context.Context, productID int64) ([]domain.StockUnit, error) {
	units, err := s.units.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", productID, err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("product %d: %w", productID, domain.ErrProductNotFound)
	}
	return units, nil
}
