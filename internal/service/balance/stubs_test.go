package balance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// scriptedAccounts — AccountRepository с управляемыми конфликтами.
type scriptedAccounts struct {
	mu             sync.Mutex
	account        domain.Account
	conflict       bool
	vanishOnReread bool

	reads   atomic.Int32
	updates atomic.Int32
	updated bool
}

func (r *scriptedAccounts) Create(context.Context, int64, int64) (domain.Account, error) {
	return domain.Account{}, errors.New("not supported")
}

func (r *scriptedAccounts) GetByUserID(_ context.Context, userID int64) (domain.Account, error) {
	r.reads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID != r.account.UserID || (r.vanishOnReread && r.updated) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return r.account, nil
}

func (r *scriptedAccounts) UpdateAmount(_ context.Context, _ int64, amount, expectedVersion int64) (bool, error) {
	r.updates.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflict || expectedVersion != r.account.Version {
		return false, nil
	}
	r.account.Amount = amount
	r.account.Version++
	r.updated = true
	return true, nil
}
