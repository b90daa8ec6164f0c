// Package balance реализует баланс пользователя с optimistic locking:
// пополнение и списание выполняются под распределённой блокировкой
// пользователя условным update по version с ограниченным повтором.
package balance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/lock"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/retry"
)

const ledgerName = "balance"

// ConflictPolicy — политика повтора при конфликте версий: 3 попытки, 50ms, x2, max 1s.
func ConflictPolicy() retry.Policy {
	return retry.Policy{
		Name:        ledgerName,
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
		Retryable:   domain.IsOptimisticConflict,
	}
}

// Service управляет балансами пользователей.
type Service struct {
	tx       domain.TxManager
	accounts domain.AccountRepository
	locks    *lock.Client
	cache    cache.Cache

	lockOpts lock.Options
	policy   retry.Policy
	cacheTTL time.Duration
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithLockOptions задаёт параметры блокировки balance:{userId}.
func WithLockOptions(opts lock.Options) Option {
	return func(s *Service) { s.lockOpts = opts }
}

// WithRetryPolicy заменяет политику повтора при конфликте версий.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithCacheTTL задаёт TTL кешированного баланса.
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

// NewService создаёт ledger балансов.
func NewService(tx domain.TxManager, accounts domain.AccountRepository, locks *lock.Client, c cache.Cache, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		accounts: accounts,
		locks:    locks,
		cache:    c,
		lockOpts: lock.DefaultOptions().WithTTL(10 * time.Second),
		policy:   ConflictPolicy(),
		cacheTTL: cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "balance-ledger")
	}
	if s.policy.Retryable == nil {
		s.policy.Retryable = domain.IsOptimisticConflict
	}
	return s
}

// Recharge пополняет баланс на amount.
func (s *Service) Recharge(ctx context.Context, userID, amount int64) (domain.Account, error) {
	if userID <= 0 {
		return domain.Account{}, domain.ErrInvalidUserID
	}
	if err := domain.ValidateRecharge(amount); err != nil {
		return domain.Account{}, err
	}

	account, err := s.mutate(ctx, "recharge", userID, amount, func(current int64) (int64, error) {
		return current + amount, nil
	})
	s.metrics.RecordLedgerOp(ledgerName, "recharge", metrics.ResultOf(err))
	return account, err
}

// Use списывает amount; при нехватке средств возвращает ErrInsufficientFunds.
func (s *Service) Use(ctx context.Context, userID, amount int64) (domain.Account, error) {
	if userID <= 0 {
		return domain.Account{}, domain.ErrInvalidUserID
	}
	if err := domain.ValidateUse(amount); err != nil {
		return domain.Account{}, err
	}

	account, err := s.mutate(ctx, "use", userID, amount, func(current int64) (int64, error) {
		if current < amount {
			return 0, domain.ErrInsufficientFunds
		}
		return current - amount, nil
	})
	s.metrics.RecordLedgerOp(ledgerName, "use", metrics.ResultOf(err))
	return account, err
}

// Get возвращает баланс, читая его через кеш.
func (s *Service) Get(ctx context.Context, userID int64) (domain.Account, error) {
	if userID <= 0 {
		return domain.Account{}, domain.ErrInvalidUserID
	}
	return cache.GetOrLoad(ctx, s.cache, cache.BalanceKey(userID), s.cacheTTL, func(ctx context.Context) (domain.Account, error) {
		return s.accounts.GetByUserID(ctx, userID)
	})
}

// Invalidate удаляет кешированный баланс пользователя.
func (s *Service) Invalidate(ctx context.Context, userID int64) {
	s.cache.Del(ctx, cache.BalanceKey(userID))
}

// mutate выполняет apply под блокировкой balance:{userId}. Кеш инвалидируется
// внутри критической секции, до снятия блокировки.
func (s *Service) mutate(ctx context.Context, op string, userID, amount int64, apply func(current int64) (int64, error)) (domain.Account, error) {
	key := lock.BalanceKey(userID)
	token := lock.NewToken(op, userID, strconv.FormatInt(amount, 10))

	var account domain.Account
	err := s.locks.WithLock(ctx, key, token, s.lockOpts, func(ctx context.Context) error {
		updated, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (domain.Account, error) {
			return s.applyOnce(ctx, userID, apply)
		})
		if err != nil {
			return err
		}
		account = updated
		s.Invalidate(ctx, userID)
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return domain.Account{}, fmt.Errorf("balance of user %d: %w", userID, domain.ErrOperationInProgress)
	}
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			s.logger.WithError(err).WithFields(log.Fields{
				"user_id": userID,
				"op":      op,
			}).Warn("balance update exhausted retries")
		}
		return domain.Account{}, err
	}
	return account, nil
}

// applyOnce — одна попытка: чтение, условный update по version и перечитывание.
// Внутри транзакции checkout присоединяется к ней.
func (s *Service) applyOnce(ctx context.Context, userID int64, apply func(current int64) (int64, error)) (domain.Account, error) {
	var result domain.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		account, err := s.accounts.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}

		next, err := apply(account.Amount)
		if err != nil {
			return err
		}

		ok, err := s.accounts.UpdateAmount(ctx, account.ID, next, account.Version)
		if err != nil {
			return fmt.Errorf("update account %d: %w", account.ID, err)
		}
		if !ok {
			return fmt.Errorf("account %d version %d: %w", account.ID, account.Version, domain.ErrOptimisticLockConflict)
		}

		result, err = s.accounts.GetByUserID(ctx, userID)
		if errors.Is(err, domain.ErrAccountNotFound) {
			return fmt.Errorf("account %d: %w", account.ID, domain.ErrRowVanished)
		}
		return err
	})
	return result, err
}
