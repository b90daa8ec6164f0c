package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidUserID — идентификатор пользователя отсутствует или не положительный.
	ErrInvalidUserID = errors.New("user id must be positive")
	// ErrInvalidAmount — сумма не положительная или не кратна BalanceUnit.
	ErrInvalidAmount = errors.New("amount must be a positive multiple of 100")
	// ErrAmountBelowMinimum — сумма списания меньше минимально допустимой.
	ErrAmountBelowMinimum = errors.New("amount is below the minimum of 100")
	// ErrItemsRequired — запрос не содержит ни одной позиции.
	ErrItemsRequired = errors.New("at least one item is required")
	// ErrInvalidQuantity — количество единиц в позиции <= 0.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrInvalidStatus — неизвестный статус заказа.
	ErrInvalidStatus = errors.New("unknown order status")
	// ErrInvalidUserName — имя пустое или длиннее допустимого.
	ErrInvalidUserName = errors.New("user name must be 2 to 30 characters")

	// ErrAccountNotFound возвращается, если у пользователя нет баланса.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUserNotFound возвращается, если пользователь не зарегистрирован.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists — имя уже занято другим пользователем.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrProductNotFound — у товара нет ни одного SKU.
	ErrProductNotFound = errors.New("product not found")
	// ErrStockUnitNotFound возвращается, если SKU не существует.
	ErrStockUnitNotFound = errors.New("stock unit not found")
	// ErrCouponNotFound возвращается, если купон не существует.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientFunds — баланса не хватает для списания.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientStock — на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCouponOutOfStock — купоны закончились.
	ErrCouponOutOfStock = errors.New("coupon is out of stock")
	// ErrCouponExpired — срок действия купона истёк.
	ErrCouponExpired = errors.New("coupon is expired")
	// ErrCouponSuspended — выдача купона приостановлена.
	ErrCouponSuspended = errors.New("coupon is suspended")
	// ErrDuplicateIssuance — купон уже выдан этому пользователю.
	ErrDuplicateIssuance = errors.New("coupon already issued to user")
	// ErrCouponUnusable — у пользователя нет доступного купона с таким кодом.
	ErrCouponUnusable = errors.New("coupon is not usable")
	// ErrOrderAmountMismatch — переданная сумма не совпадает с итоговой суммой заказа.
	ErrOrderAmountMismatch = errors.New("used amount does not match order final amount")
	// ErrInvalidDiscount — скидка больше суммы заказа.
	ErrInvalidDiscount = errors.New("discount exceeds order total")
	// ErrInvalidStatusTransition — недопустимый переход статуса заказа.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")

	// ErrOperationInProgress — ресурс занят другим запросом (не получили distributed lock).
	ErrOperationInProgress = errors.New("operation in progress, retry later")
	// ErrOptimisticLockConflict — условный update по version не затронул ни одной строки.
	ErrOptimisticLockConflict = errors.New("optimistic lock conflict")
	// ErrOrderVersionConflict сигнализирует о конфликте версий заказа при смене статуса.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrRowVanished — строка исчезла сразу после успешного update.
	ErrRowVanished = errors.New("row disappeared after update")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// StockShortageError описывает нехватку конкретного SKU.
type StockShortageError struct {
	SKUID     int64
	Requested int64
	Available int64
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %d: requested %d, available %d", e.SKUID, e.Requested, e.Available)
}

// Unwrap позволяет сопоставлять ошибку с ErrInsufficientStock через errors.Is.
func (e *StockShortageError) Unwrap() error {
	return ErrInsufficientStock
}

// IsOptimisticConflict проверяет, является ли ошибка конфликтом версий баланса.
func IsOptimisticConflict(err error) bool {
	return errors.Is(err, ErrOptimisticLockConflict)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий заказа.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsBusy проверяет, что ресурс был занят конкурентным запросом.
func IsBusy(err error) bool {
	return errors.Is(err, ErrOperationInProgress)
}

// rejections — ошибки, означающие отказ по валидации или бизнес-правилу.
var rejections = []error{
	ErrInvalidUserID, ErrInvalidAmount, ErrAmountBelowMinimum, ErrItemsRequired,
	ErrInvalidQuantity, ErrInvalidStatus,
	ErrAccountNotFound, ErrStockUnitNotFound, ErrCouponNotFound, ErrOrderNotFound,
	ErrInsufficientFunds, ErrInsufficientStock,
	ErrCouponOutOfStock, ErrCouponExpired, ErrCouponSuspended, ErrDuplicateIssuance, ErrCouponUnusable,
	ErrOrderAmountMismatch, ErrInvalidDiscount, ErrInvalidStatusTransition,
}

// IsRejection сообщает, что операция отклонена до изменения состояния
// валидацией или бизнес-правилом. Такие ошибки никогда не повторяются.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
