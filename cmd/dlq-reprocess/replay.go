package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
)

var (
	errUnknownRecord    = errors.New("unknown dlq record")
	errRetriesExhausted = errors.New("replay limit reached")
)

type replay struct {
	source  string
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

// buildReplay превращает запись DLQ в сообщение для повторной публикации.
// Источник берётся из заголовка x-dlq-source, без него определяется по форме записи.
func buildReplay(msg *sarama.ConsumerMessage, targetTopic string, maxRetryCount int) (replay, error) {
	switch kafka.Header(msg, kafka.HeaderDLQSource) {
	case kafka.DLQSourceConsumer:
		return consumerReplay(msg, targetTopic, maxRetryCount)
	case kafka.DLQSourceOutbox:
		return outboxReplay(msg, targetTopic)
	}

	if record, err := kafka.ParseDLQRecord(msg); err == nil && record.OriginalValue != "" {
		return consumerReplay(msg, targetTopic, maxRetryCount)
	}
	if rep, err := outboxReplay(msg, targetTopic); err == nil {
		return rep, nil
	}
	return replay{}, errUnknownRecord
}

// consumerReplay возвращает исходное сообщение в его топик с увеличенным
// x-retry-count, чтобы consumer выделил ему меньший бюджет попыток.
func consumerReplay(msg *sarama.ConsumerMessage, targetTopic string, maxRetryCount int) (replay, error) {
	record, err := kafka.ParseDLQRecord(msg)
	if err != nil {
		return replay{}, err
	}
	if record.OriginalValue == "" {
		return replay{}, fmt.Errorf("consumer dlq record at offset %d has no original value", msg.Offset)
	}

	retryCount := record.RetryCount + 1
	if retryCount > maxRetryCount {
		return replay{}, fmt.Errorf("%w: retry count %d", errRetriesExhausted, record.RetryCount)
	}

	topic := strings.TrimSpace(record.OriginalTopic)
	if topic == "" {
		topic = targetTopic
	}
	return replay{
		source: kafka.DLQSourceConsumer,
		topic:  topic,
		key:    record.OriginalKey,
		value:  []byte(record.OriginalValue),
		headers: map[string]string{
			kafka.HeaderRetryCount: strconv.Itoa(retryCount),
		},
	}, nil
}

// outboxReplay восстанавливает исходный конверт события из DLQEnvelope.
func outboxReplay(msg *sarama.ConsumerMessage, targetTopic string) (replay, error) {
	var wrapper kafka.Envelope
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		return replay{}, fmt.Errorf("decode outbox dlq envelope: %w", err)
	}
	if len(wrapper.Payload) == 0 {
		return replay{}, fmt.Errorf("outbox dlq envelope %q has no payload", wrapper.ID)
	}

	var dead outbox.DLQEnvelope
	if err := json.Unmarshal(wrapper.Payload, &dead); err != nil {
		return replay{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dead.Payload) == 0 || dead.EventType == "" {
		return replay{}, fmt.Errorf("outbox dlq payload %q has no original event", dead.OutboxID)
	}

	original := kafka.Envelope{
		ID:            dead.OutboxID,
		AggregateType: dead.AggregateType,
		AggregateID:   dead.AggregateID,
		EventType:     dead.EventType,
		Payload:       dead.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(original)
	if err != nil {
		return replay{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := original.AggregateID
	if key == "" {
		key = original.ID
	}
	return replay{
		source:  kafka.DLQSourceOutbox,
		topic:   targetTopic,
		key:     key,
		value:   value,
		headers: map[string]string{kafka.HeaderEventType: original.EventType},
	}, nil
}
