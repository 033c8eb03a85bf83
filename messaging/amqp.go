package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/godamri/helix-triggers/crypto"
	"github.com/godamri/helix-triggers/trigger"
)

type AMQPConfig struct {
	URL      string `envconfig:"URL" yaml:"url"`
	Queue    string `envconfig:"QUEUE" yaml:"queue"`
	Prefetch int    `envconfig:"PREFETCH" yaml:"prefetch"`
}

// AMQPConsumer feeds change events from a RabbitMQ queue into a trigger
// sink. Deliveries are acked once dispatched; undecodable ones are
// rejected without requeue.
type AMQPConsumer struct {
	cfg    AMQPConfig
	sink   trigger.Sink
	logger *slog.Logger
	conn   *amqp.Connection
	ch     *amqp.Channel
}

func NewAMQPConsumer(cfg AMQPConfig, sink trigger.Sink, logger *slog.Logger) (*AMQPConsumer, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("messaging: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messaging: open channel: %w", err)
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messaging: set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messaging: declare queue %s: %w", cfg.Queue, err)
	}

	return &AMQPConsumer{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("source", "amqp", "queue", cfg.Queue),
		conn:   conn,
		ch:     ch,
	}, nil
}

func (c *AMQPConsumer) Name() string { return "amqp:" + c.cfg.Queue }

func (c *AMQPConsumer) Start(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("messaging: consume %s: %w", c.cfg.Queue, err)
	}
	c.logger.Info("starting consumer")

	closed := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return nil
			}
			return fmt.Errorf("messaging: amqp connection closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, d); err != nil {
				return err
			}
		}
	}
}

// acker is the part of amqp.Delivery handle needs.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *AMQPConsumer) handle(ctx context.Context, d amqp.Delivery) error {
	return c.submit(ctx, d, d.Body, d.MessageId, d.DeliveryTag)
}

func (c *AMQPConsumer) submit(ctx context.Context, ack acker, body []byte, messageID string, tag uint64) error {
	fallback := messageID
	if fallback == "" {
		fallback = crypto.DeriveKey("amqp", c.cfg.Queue, fmt.Sprint(tag))
	}

	evt, err := DecodeEvent(body, fallback, "amqp")
	if err != nil {
		c.logger.ErrorContext(ctx, "rejecting undecodable delivery", "error", err)
		return ack.Nack(false, false)
	}

	err = c.sink.Submit(ctx, evt, func(trigger.Outcome) {
		if err := ack.Ack(false); err != nil {
			c.logger.Warn("ack failed", "event_id", evt.ID, "error", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		// Never handed to the dispatcher; let the broker redeliver.
		_ = ack.Nack(false, true)
		return nil
	}
	return err
}

func (c *AMQPConsumer) Close() error {
	if c.ch != nil && !c.ch.IsClosed() {
		_ = c.ch.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
