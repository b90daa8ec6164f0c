// Package coupon реализует выдачу и погашение купонов с ограниченным тиражом.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/lock"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const ledgerName = "coupon"

// Service управляет купонами и их выдачей пользователям.
type Service struct {
	tx      domain.TxManager
	coupons domain.CouponRepository
	issued  domain.UserCouponRepository
	locks   *lock.Client
	cache   cache.Cache

	lockOpts lock.Options
	cacheTTL time.Duration
	now      func() time.Time
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithLockOptions задаёт параметры блокировки coupon:{couponId}:user:{userId}.
func WithLockOptions(opts lock.Options) Option {
	return func(s *Service) { s.lockOpts = opts }
}

// WithCacheTTL задаёт TTL списков купонов.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics подключает метрики операций.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService создаёт ledger купонов.
func NewService(
	tx domain.TxManager,
	coupons domain.CouponRepository,
	issued domain.UserCouponRepository,
	locks *lock.Client,
	c cache.Cache,
	opts ...Option,
) *Service {
	s := &Service{
		tx:       tx,
		coupons:  coupons,
		issued:   issued,
		locks:    locks,
		cache:    c,
		lockOpts: lock.DefaultOptions().WithTTL(10 * time.Second),
		cacheTTL: cache.DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "coupon-ledger")
	}
	return s
}

// Issue выдаёт купон пользователю. Не более одного экземпляра на пару
// (coupon, user); остаток купонов уменьшается условным update.
func (s *Service) Issue(ctx context.Context, couponID, userID int64) (domain.UserCoupon, error) {
	if userID <= 0 {
		return domain.UserCoupon{}, domain.ErrInvalidUserID
	}

	key := lock.CouponIssueKey(couponID, userID)
	token := lock.NewToken("coupon-issue", userID, fmt.Sprintf("coupon=%d", couponID))

	var issued domain.UserCoupon
	err := s.locks.WithLock(ctx, key, token, s.lockOpts, func(ctx context.Context) error {
		uc, err := s.issueLocked(ctx, couponID, userID)
		if err != nil {
			return err
		}
		issued = uc

		s.cache.DelPattern(ctx, cache.CouponListPattern)
		s.cache.Del(ctx, cache.UserCouponsKey(userID))
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		err = fmt.Errorf("coupon %d for user %d: %w", couponID, userID, domain.ErrOperationInProgress)
	}
	s.metrics.RecordLedgerOp(ledgerName, "issue", metrics.ResultOf(err))
	if err != nil {
		return domain.UserCoupon{}, err
	}

	s.logger.WithFields(log.Fields{
		"coupon_id":      couponID,
		"user_id":        userID,
		"user_coupon_id": issued.ID,
	}).Info("coupon issued")
	return issued, nil
}

func (s *Service) issueLocked(ctx context.Context, couponID, userID int64) (domain.UserCoupon, error) {
	var issued domain.UserCoupon
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.issued.Exists(ctx, userID, couponID)
		if err != nil {
			return fmt.Errorf("check issuance: %w", err)
		}
		if exists {
			return domain.ErrDuplicateIssuance
		}

		coupon, err := s.coupons.GetForUpdate(ctx, couponID)
		if err != nil {
			return fmt.Errorf("coupon %d: %w", couponID, err)
		}
		now := s.now()
		if err := coupon.CheckIssuable(now); err != nil {
			return fmt.Errorf("coupon %d: %w", couponID, err)
		}

		ok, err := s.coupons.DecrementRemaining(ctx, couponID)
		if err != nil {
			return fmt.Errorf("decrement coupon %d: %w", couponID, err)
		}
		if !ok {
			return fmt.Errorf("coupon %d: %w", couponID, domain.ErrCouponOutOfStock)
		}

		issued, err = s.issued.Create(ctx, domain.UserCoupon{
			UserID:   userID,
			CouponID: couponID,
			Status:   domain.UserCouponStatusAvailable,
			IssuedAt: now.UTC(),
		})
		return err
	})
	return issued, err
}

// Quote проверяет купон пользователя без блокировок и изменений.
func (s *Service) Quote(ctx context.Context, userID int64, code string) (domain.CouponQuote, error) {
	found, err := s.issued.FindAvailableByCode(ctx, userID, code, false)
	if err != nil {
		return domain.CouponQuote{}, err
	}
	if found.Coupon.IsExpired(s.now()) {
		return domain.CouponQuote{}, fmt.Errorf("coupon %s: %w", found.Coupon.Code, domain.ErrCouponExpired)
	}
	return quoteOf(found), nil
}

// Redeem погашает купон пользователя: AVAILABLE -> USED под блокировкой строки.
// Внутри транзакции checkout присоединяется к ней.
func (s *Service) Redeem(ctx context.Context, userID int64, code string) (domain.CouponQuote, error) {
	var quote domain.CouponQuote
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		found, err := s.issued.FindAvailableByCode(ctx, userID, code, true)
		if err != nil {
			return err
		}
		now := s.now()
		if found.Coupon.IsExpired(now) {
			return fmt.Errorf("coupon %s: %w", found.Coupon.Code, domain.ErrCouponExpired)
		}
		if err := s.issued.MarkUsed(ctx, found.UserCoupon.ID, now); err != nil {
			return fmt.Errorf("redeem user coupon %d: %w", found.UserCoupon.ID, err)
		}
		quote = quoteOf(found)
		return nil
	})
	s.metrics.RecordLedgerOp(ledgerName, "redeem", metrics.ResultOf(err))
	if err != nil {
		return domain.CouponQuote{}, err
	}

	s.cache.Del(ctx, cache.UserCouponsKey(userID))
	return quote, nil
}

// ListAvailable возвращает страницу купонов, доступных к выдаче.
func (s *Service) ListAvailable(ctx context.Context, page domain.Page) ([]domain.Coupon, error) {
	key := cache.CouponListKey(page.Number, page.Limit)
	return cache.GetOrLoad(ctx, s.cache, key, s.cacheTTL, func(ctx context.Context) ([]domain.Coupon, error) {
		return s.coupons.ListAvailable(ctx, s.now(), page.Offset(), page.Limit)
	})
}

// ListForUser возвращает купоны, выданные пользователю.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]domain.IssuedCoupon, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidUserID
	}
	return cache.GetOrLoad(ctx, s.cache, cache.UserCouponsKey(userID), s.cacheTTL, func(ctx context.Context) ([]domain.IssuedCoupon, error) {
		return s.issued.ListByUser(ctx, userID)
	})
}

// InvalidateUser удаляет кеш купонов пользователя.
func (s *Service) InvalidateUser(ctx context.Context, userID int64) {
	s.cache.Del(ctx, cache.UserCouponsKey(userID))
}

func quoteOf(found domain.IssuedCoupon) domain.CouponQuote {
	return domain.CouponQuote{
		UserCouponID:   found.UserCoupon.ID,
		CouponID:       found.Coupon.ID,
		Code:           found.Coupon.Code,
		DiscountAmount: found.Coupon.DiscountAmount,
	}
}
