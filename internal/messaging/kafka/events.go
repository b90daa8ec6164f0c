package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Topics и consumer group сервиса.
const (
	TopicOrderEvents     = "checkout.order.events"
	TopicDeadLetterQueue = "checkout.dlq"
	GroupSales           = "checkout-sales"
)

// Kafka headers для retry и DLQ.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	// HeaderDLQSource различает записи DLQ от outbox worker'а и от consumer'а.
	HeaderDLQSource = "x-dlq-source"
)

// Значения HeaderDLQSource.
const (
	DLQSourceOutbox   = "outbox"
	DLQSourceConsumer = "consumer"
)

// Envelope — сообщение outbox в топике событий заказа.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает сообщение outbox.
func NewEnvelope(msg domain.OutboxMessage) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	}
}

// OutboxMessage восстанавливает сообщение outbox из конверта.
func (e Envelope) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
		Status:        domain.OutboxStatusSent,
		CreatedAt:     e.PublishedAt,
	}
}

// ParseEnvelope разбирает конверт из сообщения Kafka.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, Permanent(fmt.Errorf("failed to unmarshal envelope: %w", err))
	}
	if envelope.EventType == "" {
		return Envelope{}, Permanent(fmt.Errorf("envelope %s has no event type", envelope.ID))
	}
	return envelope, nil
}

// DLQRecord — сообщение, которое consumer не смог обработать.
type DLQRecord struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseDLQRecord разбирает запись DLQ consumer'а.
func ParseDLQRecord(message *sarama.ConsumerMessage) (DLQRecord, error) {
	var record DLQRecord
	if err := json.Unmarshal(message.Value, &record); err != nil {
		return DLQRecord{}, fmt.Errorf("failed to unmarshal dlq record: %w", err)
	}
	return record, nil
}

// Header возвращает значение заголовка или пустую строку.
func Header(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
