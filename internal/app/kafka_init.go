package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/config"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/sales"
)

// messaging — доставка событий outbox до агрегатора продаж.
type messaging struct {
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	producer     *kafka.Producer
	consumer     *kafka.Consumer
}

// initMessaging выбирает Kafka при заданных брокерах. Без Kafka outbox
// передаёт события агрегатору внутри процесса.
func initMessaging(cfg config.Config, aggregator *sales.Aggregator, logger *log.Entry) (*messaging, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("kafka is not configured, delivering outbox in-process")
		return &messaging{publisher: sales.NewSink(aggregator)}, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		kafka.GroupSales,
		[]string{kafka.TopicOrderEvents},
		kafka.EnvelopeHandler(aggregator.HandleMessage),
		producer,
		cfg.KafkaMaxRetries,
	)
	if err != nil {
		closeKafka(producer, logger)
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer and consumer initialized")
	return &messaging{
		publisher:    kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		dlqPublisher: kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
		producer:     producer,
		consumer:     consumer,
	}, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
