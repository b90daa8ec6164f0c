package domain

import "time"

const (
	// BalanceUnit — минимальный шаг пополнения и списания.
	BalanceUnit int64 = 100
	// MinUseAmount — минимальная сумма списания.
	MinUseAmount int64 = 100
)

// Account — баланс пользователя. Один аккаунт на пользователя.
type Account struct {
	ID        int64
	UserID    int64
	Amount    int64
	Version   int64
	UpdatedAt time.Time
}

// ValidateRecharge проверяет сумму пополнения.
func ValidateRecharge(amount int64) error {
	if amount <= 0 || amount%BalanceUnit != 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateUse проверяет сумму списания.
func ValidateUse(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount < MinUseAmount {
		return ErrAmountBelowMinimum
	}
	if amount%BalanceUnit != 0 {
		return ErrInvalidAmount
	}
	return nil
}
