// Package user регистрирует покупателей и заводит им нулевой баланс.
package user

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Service регистрирует пользователей и отдаёт их профиль.
type Service struct {
	tx       domain.TxManager
	users    domain.UserRepository
	accounts domain.AccountRepository
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService создаёт сервис пользователей.
func NewService(tx domain.TxManager, users domain.UserRepository, accounts domain.AccountRepository, opts ...Option) *Service {
	s := &Service{tx: tx, users: users, accounts: accounts}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "user-service")
	}
	return s
}

// Register создаёт пользователя и его баланс с нулевой суммой в одной транзакции.
func (s *Service) Register(ctx context.Context, name string) (domain.User, error) {
	name, err := domain.NormalizeUserName(name)
	if err != nil {
		return domain.User{}, err
	}

	var created domain.User
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.Create(ctx, name)
		if err != nil {
			return err
		}
		if _, err := s.accounts.Create(ctx, user.ID, 0); err != nil {
			return fmt.Errorf("initialize balance of user %d: %w", user.ID, err)
		}
		created = user
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	s.logger.WithField("user_id", created.ID).Info("user registered")
	return created, nil
}

// Login находит пользователя по имени.
func (s *Service) Login(ctx context.Context, name string) (domain.User, error) {
	name, err := domain.NormalizeUserName(name)
	if err != nil {
		return domain.User{}, err
	}
	return s.users.GetByName(ctx, name)
}

// Profile возвращает пользователя по идентификатору.
func (s *Service) Profile(ctx context.Context, userID int64) (domain.User, error) {
	if userID <= 0 {
		return domain.User{}, domain.ErrInvalidUserID
	}
	return s.users.Get(ctx, userID)
}
