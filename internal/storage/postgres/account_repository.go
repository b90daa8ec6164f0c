package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type accountRepository struct {
	s *Store
}

// NewAccountRepository создаёт PostgreSQL-реализацию AccountRepository.
func NewAccountRepository(store *Store) domain.AccountRepository {
	return &accountRepository{s: store}
}

func (r *accountRepository) Create(ctx context.Context, userID, amount int64) (domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	account := domain.Account{UserID: userID, Amount: amount}
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, amount, version, updated_at)
		VALUES ($1, $2, 0, $3)
		RETURNING id, version, updated_at
	`, userID, amount, time.Now().UTC()).Scan(&account.ID, &account.Version, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, errors.Newf("account for user %d already exists", userID)
		}
		return domain.Account{}, errors.Wrap(err, "insert account")
	}
	return account, nil
}

func (r *accountRepository) GetByUserID(ctx context.Context, userID int64) (domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var account domain.Account
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, user_id, amount, version, updated_at
		FROM accounts
		WHERE user_id = $1
	`, userID).Scan(&account.ID, &account.UserID, &account.Amount, &account.Version, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, errors.Wrap(err, "select account")
	}
	return account, nil
}

// UpdateAmount — условный update по version; 0 затронутых строк означает конфликт.
func (r *accountRepository) UpdateAmount(ctx context.Context, accountID, amount, expectedVersion int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE accounts
		SET amount = $2,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $1
		  AND version = $3
	`, accountID, amount, expectedVersion, time.Now().UTC())
	if err != nil {
		return false, errors.Wrap(err, "update account amount")
	}
	return rowsAffected(res)
}

var _ domain.AccountRepository = (*accountRepository)(nil)
