package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink mirrors entries to a Kafka topic, keyed by target id so all
// entries about one entity land on one partition in order.
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	if topic == "" {
		topic = "system.audit.events"
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal

	config.Producer.Flush.Frequency = 500 * time.Millisecond
	config.Producer.Flush.Messages = 100

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to start kafka producer: %w", err)
	}

	return newKafkaSink(producer, topic, logger), nil
}

func newKafkaSink(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	k := &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
	go k.drainErrors()
	return k
}

func (k *KafkaSink) Log(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal failed: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.TargetID),
		Value: sarama.ByteEncoder(payload),
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *KafkaSink) drainErrors() {
	for err := range k.producer.Errors() {
		k.logger.Error("audit: failed to mirror entry to kafka", "topic", k.topic, "error", err)
	}
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
