package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Ключ сообщения — id агрегата, поэтому события одного заказа попадают в одну partition.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	headers := map[string]string{HeaderEventType: event.EventType}
	if p.topic == TopicDeadLetterQueue {
		headers[HeaderDLQSource] = DLQSourceOutbox
	}

	return p.producer.PublishEvent(ctx, p.topic, key, NewEnvelope(event), headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
