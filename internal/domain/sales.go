package domain

import "time"

const (
	// AggregateTypeOrder — тип агрегата для событий заказа в outbox.
	AggregateTypeOrder = "order"
	// EventTypeOrderCreated публикуется после коммита оплаты заказа.
	EventTypeOrderCreated = "order.created"
)

// ProductSalesDaily — количество заказов с товаром за день.
type ProductSalesDaily struct {
	ProductID  int64
	SalesDate  time.Time
	SalesCount int64
}

// TopSellingProduct — строка рейтинга продаж.
type TopSellingProduct struct {
	ProductID   int64
	ProductName string
	SalesCount  int64
}

// OrderCreatedEvent — полезная нагрузка события order.created.
type OrderCreatedEvent struct {
	OrderID     string    `json:"order_id"`
	UserID      int64     `json:"user_id"`
	ProductIDs  []int64   `json:"product_ids"`
	FinalAmount int64     `json:"final_amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewOrderCreatedEvent собирает событие по сохранённому заказу.
func NewOrderCreatedEvent(order Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		ProductIDs:  order.ProductIDs(),
		FinalAmount: order.FinalAmount,
		OccurredAt:  order.CreatedAt,
	}
}

// SalesDay усекает момент времени до календарного дня в UTC.
func SalesDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// OutboxStatus — состояние сообщения в outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        OutboxStatus
	AttemptCount  int
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
