package domain

import "time"

// OrderStatus описывает жизненный цикл оплаченного заказа.
type OrderStatus string

const (
	// OrderStatusConfirmed — заказ оплачен и зафиксирован.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing — заказ передан в обработку.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusCompleted — заказ выполнен.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusFailed — обработка заказа завершилась ошибкой.
	OrderStatusFailed OrderStatus = "FAILED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransitionTo проверяет допустимость перехода s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderLine — позиция заказа.
type OrderLine struct {
	ProductID   int64
	SKUID       int64
	ProductName string
	OptionName  string
	UnitPrice   int64
	Quantity    int64
}

// Subtotal возвращает стоимость позиции.
func (l OrderLine) Subtotal() int64 {
	return l.UnitPrice * l.Quantity
}

// OrderCoupon фиксирует купон, применённый к заказу.
type OrderCoupon struct {
	UserCouponID   int64
	CouponID       int64
	Code           string
	DiscountAmount int64
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID             string
	UserID         int64
	TotalPrice     int64
	DiscountAmount int64
	FinalAmount    int64
	Status         OrderStatus
	Lines          []OrderLine
	Coupon         *OrderCoupon
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Amounts — расчёт сумм заказа.
type Amounts struct {
	Total    int64
	Discount int64
	Final    int64
}

// CalculateAmounts считает итоговую сумму заказа с учётом скидки.
func CalculateAmounts(lines []OrderLine, discount int64) (Amounts, error) {
	var total int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			return Amounts{}, ErrInvalidQuantity
		}
		total += line.Subtotal()
	}
	if discount < 0 || discount > total {
		return Amounts{}, ErrInvalidDiscount
	}
	return Amounts{Total: total, Discount: discount, Final: total - discount}, nil
}

// ProductIDs возвращает уникальные идентификаторы товаров заказа в порядке появления.
func (o Order) ProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(o.Lines))
	ids := make([]int64, 0, len(o.Lines))
	for _, line := range o.Lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

// OrderHistoryEntry — запись журнала смены статусов заказа.
type OrderHistoryEntry struct {
	OrderID  string
	From     OrderStatus
	To       OrderStatus
	Reason   string
	Occurred time.Time
}
