package domain

import (
	"context"
	"time"
)

// TxManager открывает транзакцию хранилища и передаёт её через ctx.
// Вложенный вызов внутри активной транзакции присоединяется к ней.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository хранит зарегистрированных пользователей.
type UserRepository interface {
	// Create возвращает ErrUserAlreadyExists, если имя занято.
	Create(ctx context.Context, name string) (User, error)
	Get(ctx context.Context, id int64) (User, error)
	GetByName(ctx context.Context, name string) (User, error)
}

// AccountRepository хранит балансы пользователей.
type AccountRepository interface {
	// Create заводит баланс пользователю.
	Create(ctx context.Context, userID, amount int64) (Account, error)
	// GetByUserID возвращает баланс или ErrAccountNotFound.
	GetByUserID(ctx context.Context, userID int64) (Account, error)
	// UpdateAmount выполняет условный update по version.
	// false означает, что строка уже изменена кем-то другим.
	UpdateAmount(ctx context.Context, accountID, amount, expectedVersion int64) (bool, error)
}

// StockRepository хранит SKU и их остатки.
type StockRepository interface {
	Create(ctx context.Context, unit StockUnit) (StockUnit, error)
	Get(ctx context.Context, id int64) (StockUnit, error)
	// GetByIDs читает SKU одним запросом; отсутствующие id просто не попадают в результат.
	GetByIDs(ctx context.Context, ids []int64) ([]StockUnit, error)
	// GetForUpdate читает строку под эксклюзивной блокировкой до конца транзакции.
	GetForUpdate(ctx context.Context, id int64) (StockUnit, error)
	// Decrement уменьшает остаток, только если stock >= quantity.
	Decrement(ctx context.Context, id, quantity int64) (bool, error)
	List(ctx context.Context, offset, limit int) ([]StockUnit, error)
	// ListByProduct возвращает SKU товара по возрастанию id.
	ListByProduct(ctx context.Context, productID int64) ([]StockUnit, error)
}

// CouponRepository хранит купоны.
type CouponRepository interface {
	Create(ctx context.Context, coupon Coupon) (Coupon, error)
	Get(ctx context.Context, id int64) (Coupon, error)
	GetForUpdate(ctx context.Context, id int64) (Coupon, error)
	// DecrementRemaining уменьшает остаток купонов, только если он > 0.
	DecrementRemaining(ctx context.Context, id int64) (bool, error)
	ListAvailable(ctx context.Context, now time.Time, offset, limit int) ([]Coupon, error)
}

// IssuedCoupon — выданный купон вместе с его шаблоном.
type IssuedCoupon struct {
	UserCoupon UserCoupon
	Coupon     Coupon
}

// UserCouponRepository хранит выданные пользователям купоны.
type UserCouponRepository interface {
	Exists(ctx context.Context, userID, couponID int64) (bool, error)
	// Create возвращает ErrDuplicateIssuance при нарушении уникальности (user, coupon).
	Create(ctx context.Context, uc UserCoupon) (UserCoupon, error)
	// FindAvailableByCode ищет AVAILABLE купон пользователя по коду.
	// С forUpdate строка блокируется до конца транзакции.
	FindAvailableByCode(ctx context.Context, userID int64, code string, forUpdate bool) (IssuedCoupon, error)
	MarkUsed(ctx context.Context, id int64, usedAt time.Time) error
	ListByUser(ctx context.Context, userID int64) ([]IssuedCoupon, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями и применённым купоном.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]Order, error)
	// UpdateStatus меняет статус с проверкой версии (ErrOrderVersionConflict).
	UpdateStatus(ctx context.Context, id string, status OrderStatus, expectedVersion int64) error
}

// OrderHistoryRepository хранит журнал смены статусов заказа.
type OrderHistoryRepository interface {
	Append(ctx context.Context, entry OrderHistoryEntry) error
	List(ctx context.Context, orderID string) ([]OrderHistoryEntry, error)
}

// SalesRepository хранит дневную статистику продаж.
type SalesRepository interface {
	// MarkProcessed отмечает заказ как учтённый; false, если он уже учтён.
	MarkProcessed(ctx context.Context, orderID string, at time.Time) (bool, error)
	Increment(ctx context.Context, productID int64, day time.Time) error
	TopSelling(ctx context.Context, since time.Time, limit int) ([]TopSellingProduct, error)
	// DeleteBefore удаляет статистику и отметки старше day.
	DeleteBefore(ctx context.Context, day time.Time) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}
