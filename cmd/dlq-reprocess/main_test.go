package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

const consumerRecord = `{"original_topic":"checkout.order.events","original_key":"order-1","original_value":"{\"id\":\"evt-1\"}","retry_count":1}`

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"-brokers=broker-1:9092, ,broker-2:9092",
		"-limit=10",
		"-execute",
		"-idle-timeout=3s",
	})
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if len(cfg.brokers) != 2 || cfg.brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.brokers)
	}
	if cfg.sourceTopic != kafka.TopicDeadLetterQueue || cfg.targetTopic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected default topics: %+v", cfg)
	}
	if cfg.limit != 10 || !cfg.execute || cfg.idleTimeout != 3*time.Second || cfg.maxRetryCount != defaultMaxRetryCount {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestReadConfig_BrokersFromEnv(t *testing.T) {
	t.Setenv("CHECKOUT_KAFKA_BROKERS", "env-broker:9092")

	cfg, err := readConfig(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if len(cfg.brokers) != 1 || cfg.brokers[0] != "env-broker:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.brokers)
	}
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	t.Setenv("CHECKOUT_KAFKA_BROKERS", "")

	cases := map[string][]string{
		"kafka brokers are required":  {},
		"source-topic is required":    {"-brokers=b:9092", "-source-topic="},
		"target-topic is required":    {"-brokers=b:9092", "-target-topic= "},
		"limit must be > 0":           {"-brokers=b:9092", "-limit=0"},
		"max-retry-count must be > 0": {"-brokers=b:9092", "-max-retry-count=0"},
		"idle-timeout must be > 0":    {"-brokers=b:9092", "-idle-timeout=0s"},
	}

	for want, args := range cases {
		_, err := readConfig(flag.NewFlagSet("test", flag.ContinueOnError), args)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("args %v: expected %q, got %v", args, want, err)
		}
	}
}

func outboxRecord(t *testing.T, dead map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":             "dlq-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.created",
		"payload":        dead,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestBuildReplay_Consumer(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Value:   []byte(consumerRecord),
		Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderDLQSource), Value: []byte(kafka.DLQSourceConsumer)}},
	}

	got, err := buildReplay(msg, "fallback", defaultMaxRetryCount)
	if err != nil {
		t.Fatalf("buildReplay failed: %v", err)
	}
	if got.source != kafka.DLQSourceConsumer || got.topic != kafka.TopicOrderEvents || got.key != "order-1" {
		t.Fatalf("unexpected replay: %+v", got)
	}
	if string(got.value) != `{"id":"evt-1"}` {
		t.Fatalf("original value must be replayed as is, got %s", got.value)
	}
	if got.headers[kafka.HeaderRetryCount] != "2" {
		t.Fatalf("retry count must be incremented, got %v", got.headers)
	}
}

func TestBuildReplay_ConsumerRetriesExhausted(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: []byte(consumerRecord)}

	if _, err := buildReplay(msg, "fallback", 1); !errors.Is(err, errRetriesExhausted) {
		t.Fatalf("expected errRetriesExhausted, got %v", err)
	}
}

func TestBuildReplay_Outbox(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Value: outboxRecord(t, map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "order",
			"aggregate_id":   "order-1",
			"event_type":     "order.created",
			"payload":        map[string]any{"order_id": "order-1"},
			"publish_error":  "timeout",
		}),
		Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderDLQSource), Value: []byte(kafka.DLQSourceOutbox)}},
	}

	got, err := buildReplay(msg, kafka.TopicOrderEvents, defaultMaxRetryCount)
	if err != nil {
		t.Fatalf("buildReplay failed: %v", err)
	}
	if got.source != kafka.DLQSourceOutbox || got.topic != kafka.TopicOrderEvents || got.key != "order-1" {
		t.Fatalf("unexpected replay: %+v", got)
	}

	envelope, err := kafka.ParseEnvelope(&sarama.ConsumerMessage{Value: got.value})
	if err != nil {
		t.Fatalf("replayed value must be a valid envelope: %v", err)
	}
	if envelope.ID != "outbox-1" || envelope.EventType != "order.created" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if string(envelope.Payload) != `{"order_id":"order-1"}` {
		t.Fatalf("unexpected payload: %s", envelope.Payload)
	}
}

func TestBuildReplay_Rejected(t *testing.T) {
	cases := map[string]*sarama.ConsumerMessage{
		"unknown shape": {Value: []byte(`{"foo":"bar"}`)},
		"not json":      {Value: []byte(`oops`)},
		"outbox without original payload": {
			Value:   outboxRecord(t, map[string]any{"outbox_id": "outbox-1", "event_type": "order.created"}),
			Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderDLQSource), Value: []byte(kafka.DLQSourceOutbox)}},
		},
		"consumer without value": {
			Value:   []byte(`{"original_topic":"checkout.order.events"}`),
			Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderDLQSource), Value: []byte(kafka.DLQSourceConsumer)}},
		},
	}

	for name, msg := range cases {
		if _, err := buildReplay(msg, kafka.TopicOrderEvents, defaultMaxRetryCount); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestReprocessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	source := &stubSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(
			&sarama.ConsumerMessage{Offset: 0, Value: []byte(consumerRecord)},
			&sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"foo":"bar"}`)},
			&sarama.ConsumerMessage{Offset: 2, Value: []byte(consumerRecord)},
		),
	}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, maxRetryCount: 5, idleTimeout: 50 * time.Millisecond}

	st, err := reprocessPartition(context.Background(), cfg, client, source, nil, 0, 10)
	if err != nil {
		t.Fatalf("reprocessPartition failed: %v", err)
	}
	if st != (stats{processed: 3, replayed: 2, skipped: 1}) {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestReprocessPartition_ExecuteThroughProducer(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicOrderEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		for _, h := range msg.Headers {
			if string(h.Key) == kafka.HeaderRetryCount && string(h.Value) == "2" {
				return nil
			}
		}
		return fmt.Errorf("retry count header missing: %v", msg.Headers)
	})
	producer := kafka.NewProducerFromSync(sp, quietLogger())
	defer func() { _ = producer.Close() }()

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(&sarama.ConsumerMessage{Offset: 0, Value: []byte(consumerRecord)}),
	}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, maxRetryCount: 5, execute: true, idleTimeout: 50 * time.Millisecond}

	st, err := reprocessPartition(context.Background(), cfg, client, source, producer, 0, 10)
	if err != nil {
		t.Fatalf("reprocessPartition failed: %v", err)
	}
	if st.replayed != 1 {
		t.Fatalf("expected one replay, got %+v", st)
	}
}

func TestReprocessPartition_Errors(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, maxRetryCount: 5, execute: true, idleTimeout: 20 * time.Millisecond}
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	offsetErr := &stubOffsetClient{offsetErr: errors.New("offset")}
	if _, err := reprocessPartition(context.Background(), cfg, offsetErr, &stubSource{}, &stubPublisher{}, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	if _, err := reprocessPartition(context.Background(), cfg, client, &stubSource{consumeErr: errors.New("consume")}, &stubPublisher{}, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	source := &stubSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(&sarama.ConsumerMessage{Offset: 0, Value: []byte(consumerRecord)}),
	}}
	if _, err := reprocessPartition(context.Background(), cfg, client, source, &stubPublisher{err: errors.New("send")}, 0, 1); err == nil {
		t.Fatal("expected publish error")
	}

	broken := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError, 1)}
	broken.errors <- &sarama.ConsumerError{Err: errors.New("boom")}
	source = &stubSource{consumers: map[int32]partitionConsumer{0: broken}}
	if _, err := reprocessPartition(context.Background(), cfg, client, source, &stubPublisher{}, 0, 1); err == nil {
		t.Fatal("expected consumer error")
	}
}

func TestReprocessPartition_IdleAndCancel(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, maxRetryCount: 5, idleTimeout: 10 * time.Millisecond}
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idle := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	st, err := reprocessPartition(context.Background(), cfg, client, &stubSource{consumers: map[int32]partitionConsumer{0: idle}}, nil, 0, 1)
	if err != nil || st.processed != 0 {
		t.Fatalf("idle partition must stop quietly: %+v %v", st, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Second
	_, err = reprocessPartition(ctx, cfg, client, &stubSource{consumers: map[int32]partitionConsumer{0: idle}}, nil, 0, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReprocess(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, limit: 1, maxRetryCount: 5, idleTimeout: 20 * time.Millisecond}

	if _, err := reprocess(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing dependencies error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 1}, 2: {oldest: 0, newest: 1}},
	}
	source := &stubSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(&sarama.ConsumerMessage{Offset: 0, Value: []byte(consumerRecord)}),
		2: closedPartitionConsumer(&sarama.ConsumerMessage{Offset: 0, Value: []byte(consumerRecord)}),
	}}

	st, err := reprocess(context.Background(), cfg, client, source, nil)
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if st.processed != 1 || len(source.calls) != 1 || source.calls[0] != 0 {
		t.Fatalf("limit must stop after the lowest partition: %+v calls=%v", st, source.calls)
	}

	cfg.execute = true
	if _, err := reprocess(context.Background(), cfg, client, source, nil); err == nil {
		t.Fatal("execute mode must require a publisher")
	}
}

func TestRun_ClosesDependencies(t *testing.T) {
	old := newDependencies
	defer func() { newDependencies = old }()

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, limit: 1, maxRetryCount: 5, idleTimeout: 20 * time.Millisecond}

	newDependencies = func(config) (offsetClient, partitionSource, publisher, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(&sarama.ConsumerMessage{Offset: 0, Value: []byte(consumerRecord)}),
	}}
	pub := &stubPublisher{}
	newDependencies = func(config) (offsetClient, partitionSource, publisher, error) {
		return client, source, pub, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !source.closed || !pub.closed {
		t.Fatalf("all dependencies must be closed: client=%v source=%v pub=%v", client.closed, source.closed, pub.closed)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions []int32
	offsets    map[int32]offsetRange
	offsetErr  error
	closed     bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	if marker == sarama.OffsetOldest {
		return s.offsets[partition].oldest, nil
	}
	return s.offsets[partition].newest, nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type stubSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []int32
	closed     bool
}

func (s *stubSource) ConsumePartition(_ string, partition int32, _ int64) (partitionConsumer, error) {
	s.calls = append(s.calls, partition)
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error                             { return nil }

func closedPartitionConsumer(messages ...*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	errCh := make(chan *sarama.ConsumerError)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type stubPublisher struct {
	err    error
	calls  int
	closed bool
}

func (s *stubPublisher) Publish(context.Context, string, string, []byte, map[string]string) error {
	s.calls++
	return s.err
}

func (s *stubPublisher) Close() error {
	s.closed = true
	return nil
}
