// Package order оформляет оплату заказа поверх ledger'ов остатков, купонов
// и баланса и ведёт жизненный цикл оплаченного заказа.
//
// Проверки запроса выполняются до любых блокировок. Все изменения ledger'ов,
// сам заказ, запись истории и событие order.created в outbox фиксируются
// одной транзакцией под блокировкой pay:order:{userId}.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/lock"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/retry"
)

// StockLedger — операции над остатками, нужные оформлению заказа.
type StockLedger interface {
	CheckAvailability(ctx context.Context, items []domain.StockRequest) (map[int64]domain.StockUnit, error)
	DeductMultiple(ctx context.Context, items []domain.StockRequest) error
	InvalidateCatalog(ctx context.Context)
}

// CouponLedger — операции над купонами, нужные оформлению заказа.
type CouponLedger interface {
	Quote(ctx context.Context, userID int64, code string) (domain.CouponQuote, error)
	Redeem(ctx context.Context, userID int64, code string) (domain.CouponQuote, error)
	InvalidateUser(ctx context.Context, userID int64)
}

// BalanceLedger — операции над балансом, нужные оформлению заказа.
type BalanceLedger interface {
	Use(ctx context.Context, userID, amount int64) (domain.Account, error)
	Invalidate(ctx context.Context, userID int64)
}

// PayRequest — запрос на оплату заказа.
type PayRequest struct {
	Items      []domain.StockRequest
	UsedAmount int64
	CouponCode string
}

// StatusPolicy — повтор смены статуса при конфликте версий заказа.
func StatusPolicy() retry.Policy {
	return retry.Policy{
		Name:        "order_status",
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		Multiplier:  2,
		Retryable:   domain.IsVersionConflict,
	}
}

// Service оформляет и сопровождает заказы.
type Service struct {
	tx      domain.TxManager
	orders  domain.OrderRepository
	history domain.OrderHistoryRepository
	outbox  domain.OutboxRepository

	stock   StockLedger
	coupons CouponLedger
	balance BalanceLedger
	locks   *lock.Client

	lockOpts     lock.Options
	statusPolicy retry.Policy
	now          func() time.Time
	newID        func() string
	metrics      *metrics.CheckoutMetrics
	logger       *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithLockOptions задаёт параметры блокировки pay:order:{userId}.
func WithLockOptions(opts lock.Options) Option {
	return func(s *Service) { s.lockOpts = opts }
}

// WithStatusPolicy заменяет политику повтора смены статуса.
func WithStatusPolicy(p retry.Policy) Option {
	return func(s *Service) { s.statusPolicy = p }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithMetrics подключает метрики оформления.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// Deps — хранилища, с которыми работает Service.
type Deps struct {
	Tx      domain.TxManager
	Orders  domain.OrderRepository
	History domain.OrderHistoryRepository
	Outbox  domain.OutboxRepository
}

// NewService создаёт оркестратор заказов.
func NewService(deps Deps, stock StockLedger, coupons CouponLedger, balance BalanceLedger, locks *lock.Client, opts ...Option) *Service {
	s := &Service{
		tx:           deps.Tx,
		orders:       deps.Orders,
		history:      deps.History,
		outbox:       deps.Outbox,
		stock:        stock,
		coupons:      coupons,
		balance:      balance,
		locks:        locks,
		lockOpts:     lock.DefaultOptions().WithTTL(15 * time.Second),
		statusPolicy: StatusPolicy(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-service")
	}
	return s
}

// Pay оплачивает заказ пользователя. Отказ по валидации или бизнес-правилу
// до захвата блокировки не оставляет побочных эффектов.
func (s *Service) Pay(ctx context.Context, userID int64, req PayRequest) (domain.Order, error) {
	started := time.Now()
	s.metrics.CheckoutStarted()
	defer s.metrics.CheckoutFinished()

	order, err := s.pay(ctx, userID, req)
	s.metrics.RecordCheckout(metrics.ResultOf(err), time.Since(started))

	entry := s.logger.WithFields(log.Fields{
		"user_id":     userID,
		"used_amount": req.UsedAmount,
		"duration":    time.Since(started),
	})
	switch {
	case err == nil:
		entry.WithField("order_id", order.ID).Info("order paid")
	case domain.IsRejection(err):
		entry.WithError(err).Info("checkout rejected")
	case domain.IsBusy(err), errors.Is(err, retry.ErrExhausted):
		entry.WithError(err).Warn("checkout contended")
	default:
		entry.WithError(err).Error("checkout failed")
	}
	return order, err
}

func (s *Service) pay(ctx context.Context, userID int64, req PayRequest) (domain.Order, error) {
	if userID <= 0 {
		return domain.Order{}, domain.ErrInvalidUserID
	}

	prepStarted := time.Now()
	draft, err := s.prepare(ctx, userID, req)
	s.metrics.RecordStepDuration("prepare", time.Since(prepStarted))
	if err != nil {
		return domain.Order{}, err
	}

	key := lock.CheckoutKey(userID)
	token := lock.NewToken("pay", userID, fmt.Sprintf("amount=%d,items=%d", req.UsedAmount, len(draft.requests)))

	commitStarted := time.Now()
	var touched bool
	err = s.locks.WithLock(ctx, key, token, s.lockOpts, func(ctx context.Context) error {
		touched = true
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.commit(ctx, &draft)
		})
	})
	s.metrics.RecordStepDuration("commit", time.Since(commitStarted))
	// Ledger'ы чистят кеш внутри транзакции, и читатель мог успеть закешировать
	// незафиксированное состояние. Чистим ещё раз после commit и после rollback.
	if touched {
		s.invalidate(context.WithoutCancel(ctx), userID, draft.couponCode)
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		return domain.Order{}, fmt.Errorf("checkout of user %d: %w", userID, domain.ErrOperationInProgress)
	}
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordStatusTransition(string(domain.OrderStatusConfirmed))
	return draft.order, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64, couponCode string) {
	s.balance.Invalidate(ctx, userID)
	s.stock.InvalidateCatalog(ctx)
	if couponCode != "" {
		s.coupons.InvalidateUser(ctx, userID)
	}
}

// draft — заказ, прошедший проверки до блокировки.
type draft struct {
	order      domain.Order
	requests   []domain.StockRequest
	couponCode string
}

// prepare проверяет запрос без блокировок и изменений: наличие, купон, суммы.
func (s *Service) prepare(ctx context.Context, userID int64, req PayRequest) (draft, error) {
	requests, err := domain.NormalizeStockRequests(req.Items)
	if err != nil {
		return draft{}, err
	}

	units, err := s.stock.CheckAvailability(ctx, requests)
	if err != nil {
		return draft{}, err
	}

	lines := make([]domain.OrderLine, 0, len(requests))
	for _, r := range requests {
		unit := units[r.SKUID]
		lines = append(lines, domain.OrderLine{
			ProductID:   unit.ProductID,
			SKUID:       unit.ID,
			ProductName: unit.ProductName,
			OptionName:  unit.Name,
			UnitPrice:   unit.Price,
			Quantity:    r.Quantity,
		})
	}

	var (
		discount int64
		coupon   *domain.OrderCoupon
		code     = domain.NormalizeCouponCode(req.CouponCode)
	)
	if code != "" {
		quote, err := s.coupons.Quote(ctx, userID, code)
		if err != nil {
			return draft{}, err
		}
		discount = quote.DiscountAmount
		coupon = &domain.OrderCoupon{
			UserCouponID:   quote.UserCouponID,
			CouponID:       quote.CouponID,
			Code:           quote.Code,
			DiscountAmount: quote.DiscountAmount,
		}
	}

	amounts, err := domain.CalculateAmounts(lines, discount)
	if err != nil {
		return draft{}, err
	}
	if req.UsedAmount != amounts.Final {
		return draft{}, fmt.Errorf("final amount %d, used %d: %w", amounts.Final, req.UsedAmount, domain.ErrOrderAmountMismatch)
	}
	if err := domain.ValidateUse(req.UsedAmount); err != nil {
		return draft{}, err
	}

	return draft{
		order: domain.Order{
			UserID:         userID,
			TotalPrice:     amounts.Total,
			DiscountAmount: amounts.Discount,
			FinalAmount:    amounts.Final,
			Status:         domain.OrderStatusConfirmed,
			Lines:          lines,
			Coupon:         coupon,
		},
		requests:   requests,
		couponCode: code,
	}, nil
}

// commit выполняет все изменения в открытой транзакции checkout.
func (s *Service) commit(ctx context.Context, d *draft) error {
	if err := s.stock.DeductMultiple(ctx, d.requests); err != nil {
		return err
	}

	if d.couponCode != "" {
		quote, err := s.coupons.Redeem(ctx, d.order.UserID, d.couponCode)
		if err != nil {
			return err
		}
		if quote.DiscountAmount != d.order.DiscountAmount {
			return fmt.Errorf("coupon %s discount changed: %w", quote.Code, domain.ErrOrderAmountMismatch)
		}
		d.order.Coupon.UserCouponID = quote.UserCouponID
	}

	if _, err := s.balance.Use(ctx, d.order.UserID, d.order.FinalAmount); err != nil {
		return err
	}

	now := s.now().UTC()
	d.order.ID = s.newID()
	d.order.Version = 1
	d.order.CreatedAt = now
	d.order.UpdatedAt = now

	if err := s.orders.Create(ctx, d.order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	if err := s.history.Append(ctx, domain.OrderHistoryEntry{
		OrderID:  d.order.ID,
		To:       domain.OrderStatusConfirmed,
		Reason:   "paid",
		Occurred: now,
	}); err != nil {
		return fmt.Errorf("append order history: %w", err)
	}

	payload, err := json.Marshal(domain.NewOrderCreatedEvent(d.order))
	if err != nil {
		return fmt.Errorf("encode order.created: %w", err)
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   d.order.ID,
		EventType:     domain.EventTypeOrderCreated,
		Payload:       payload,
		CreatedAt:     now,
	}); err != nil {
		return fmt.Errorf("enqueue order.created: %w", err)
	}
	return nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

// GetForUser возвращает заказ, только если он принадлежит пользователю.
func (s *Service) GetForUser(ctx context.Context, userID int64, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListForUser возвращает последние заказы пользователя, limit <= 0 — без ограничения.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUserID
	}
	return s.orders.ListByUser(ctx, userID, limit)
}

// History возвращает журнал смены статусов заказа.
func (s *Service) History(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, orderID)
}

// ChangeStatus переводит заказ в статус to по машине состояний.
// Конфликт версий повторяется с перечитыванием заказа.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	if !to.Valid() {
		return domain.Order{}, fmt.Errorf("%q: %w", to, domain.ErrInvalidStatus)
	}

	order, err := retry.DoValue(ctx, s.statusPolicy, func(ctx context.Context) (domain.Order, error) {
		return s.changeStatusOnce(ctx, orderID, to, reason)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordStatusTransition(string(to))
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"status":   to,
		"reason":   reason,
	}).Info("order status changed")
	return order, nil
}

func (s *Service) changeStatusOnce(ctx context.Context, orderID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	var updated domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(to) {
			return fmt.Errorf("%s -> %s: %w", current.Status, to, domain.ErrInvalidStatusTransition)
		}
		if err := s.orders.UpdateStatus(ctx, orderID, to, current.Version); err != nil {
			return err
		}
		if err := s.history.Append(ctx, domain.OrderHistoryEntry{
			OrderID:  orderID,
			From:     current.Status,
			To:       to,
			Reason:   reason,
			Occurred: s.now().UTC(),
		}); err != nil {
			return fmt.Errorf("append order history: %w", err)
		}

		updated, err = s.orders.Get(ctx, orderID)
		return err
	})
	return updated, err
}
