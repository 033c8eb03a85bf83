package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/godamri/helix-triggers/trigger"
)

type ProducerConfig struct {
	Brokers []string `envconfig:"BROKERS" yaml:"brokers"`
	Topic   string   `envconfig:"OUTCOME_TOPIC" yaml:"outcome_topic"`
}

// Producer publishes synchronously: Publish returns once Kafka acked.
type Producer struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
}

func NewProducer(cfg ProducerConfig, logger *slog.Logger) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 200 * time.Millisecond
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("messaging: create producer: %w", err)
	}
	return newProducer(p, logger), nil
}

func newProducer(p sarama.SyncProducer, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{producer: p, logger: logger}
}

// Publish sends one message carrying the caller's trace context in headers.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		p.logger.ErrorContext(ctx, "publish failed", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("messaging: publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	p.logger.Info("closing kafka producer")
	return p.producer.Close()
}

// OutcomePublisher reports failed dispatches to a Kafka topic so audit gaps
// can be alerted on outside the process.
type OutcomePublisher struct {
	producer *Producer
	topic    string
}

func NewOutcomePublisher(p *Producer, topic string) *OutcomePublisher {
	return &OutcomePublisher{producer: p, topic: topic}
}

func (o *OutcomePublisher) Publish(ctx context.Context, out trigger.Outcome) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("messaging: encode outcome: %w", err)
	}
	key := out.Collection + "/" + out.DocumentID
	return o.producer.Publish(ctx, o.topic, key, payload)
}

type headerCarrier []*sarama.RecordHeader

func (h headerCarrier) Get(key string) string {
	for _, rh := range h {
		if string(rh.Key) == key {
			return string(rh.Value)
		}
	}
	return ""
}

func (h headerCarrier) Set(string, string) {}

func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for _, rh := range h {
		keys = append(keys, string(rh.Key))
	}
	return keys
}

func extractTrace(ctx context.Context, headers []*sarama.RecordHeader) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(headers))
}
