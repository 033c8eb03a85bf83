package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/godamri/helix-triggers/crypto"
	"github.com/godamri/helix-triggers/trigger"
)

type ConsumerConfig struct {
	Brokers []string `envconfig:"BROKERS" yaml:"brokers"`
	GroupID string   `envconfig:"GROUP_ID" yaml:"group_id"`
	Topics  []string `envconfig:"TOPICS" yaml:"topics"`
	// InitialBackoff is the wait before rejoining the group after an error.
	InitialBackoff time.Duration `envconfig:"INITIAL_BACKOFF" yaml:"initial_backoff"`
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration `envconfig:"MAX_BACKOFF" yaml:"max_backoff"`
}

// Consumer feeds change events from Kafka topics into a trigger sink.
// Each message is dispatched before its offset is marked, so delivery is
// at-least-once; the sink absorbs redeliveries.
type Consumer struct {
	group  sarama.ConsumerGroup
	cfg    ConsumerConfig
	sink   trigger.Sink
	logger *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, sink trigger.Sink, logger *slog.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("messaging: create consumer group: %w", err)
	}
	return newConsumer(group, cfg, sink, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, sink trigger.Sink, logger *slog.Logger) *Consumer {
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		group:  group,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("source", "kafka", "group", cfg.GroupID),
	}
}

func (c *Consumer) Name() string { return "kafka:" + c.cfg.GroupID }

// Start consumes until ctx is cancelled, rejoining the group after
// rebalances and backing off on errors.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer", "topics", c.cfg.Topics)

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("kafka consumer error", "error", err)
		}
	}()

	backoff := c.cfg.InitialBackoff
	for {
		err := c.group.Consume(ctx, c.cfg.Topics, c)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err == nil {
			backoff = c.cfg.InitialBackoff
			continue
		}

		c.logger.Warn("consume failed, retrying", "error", err, "next_retry_in", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim dispatches messages one at a time per partition.
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.handle(sess.Context(), msg)
			sess.MarkMessage(msg, "")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	fallback := crypto.DeriveKey("kafka", msg.Topic, fmt.Sprint(msg.Partition), fmt.Sprint(msg.Offset))
	evt, err := DecodeEvent(msg.Value, fallback, "kafka")
	if err != nil {
		// Poison pill: marked and skipped.
		c.logger.ErrorContext(ctx, "dropping undecodable message",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return
	}
	if evt.Time.IsZero() {
		evt.Time = msg.Timestamp
	}

	ctx = extractTrace(ctx, msg.Headers)
	c.sink.Dispatch(ctx, evt)
}
