package sales

import (
	"context"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Sink доставляет события outbox прямо в Aggregator, когда Kafka не настроена.
type Sink struct {
	aggregator *Aggregator
}

// NewSink создаёт in-process publisher для outbox worker.
func NewSink(aggregator *Aggregator) *Sink {
	return &Sink{aggregator: aggregator}
}

// Publish применяет событие; ошибка вернёт сообщение в цикл повторов worker'а.
func (s *Sink) Publish(ctx context.Context, event domain.OutboxMessage) error {
	return s.aggregator.HandleMessage(ctx, event)
}

var _ domain.OutboxPublisher = (*Sink)(nil)
