package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type accountRepository struct {
	s *Store
}

// NewAccountRepository возвращает in-memory репозиторий балансов.
func NewAccountRepository(store *Store) domain.AccountRepository {
	return &accountRepository{s: store}
}

func (r *accountRepository) Create(ctx context.Context, userID, amount int64) (domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.state.accountByUser[userID]; exists {
		return domain.Account{}, fmt.Errorf("account for user %d already exists", userID)
	}

	account := domain.Account{
		ID:        r.s.nextID("accounts"),
		UserID:    userID,
		Amount:    amount,
		UpdatedAt: time.Now().UTC(),
	}
	r.s.state.accounts[account.ID] = account
	r.s.state.accountByUser[userID] = account.ID
	r.s.onRollback(ctx, func() {
		delete(r.s.state.accounts, account.ID)
		delete(r.s.state.accountByUser, userID)
	})
	return account, nil
}

func (r *accountRepository) GetByUserID(_ context.Context, userID int64) (domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.state.accountByUser[userID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return r.s.state.accounts[id], nil
}

// UpdateAmount — условный update: применяется, только если version не изменилась.
func (r *accountRepository) UpdateAmount(ctx context.Context, accountID, amount, expectedVersion int64) (bool, error) {
	unlock, err := r.s.lockRow(ctx, fmt.Sprintf("accounts:%d", accountID))
	if err != nil {
		return false, err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.state.accounts[accountID]
	if !ok || current.Version != expectedVersion {
		return false, nil
	}

	updated := current
	updated.Amount = amount
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	r.s.state.accounts[accountID] = updated
	r.s.onRollback(ctx, func() { r.s.state.accounts[accountID] = current })
	return true, nil
}
