package queue

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/errors"
)

// Config configures the AMQP-backed consumer.
type Config struct {
	URL          string
	QueueName    string
	Prefetch     int           // QoS prefetch count; 1 for strict single-message mode.
	ReconnectGap time.Duration // fixed backoff between reconnect attempts.
}

func (c Config) reconnectGap() time.Duration {
	if c.ReconnectGap > 0 {
		return c.ReconnectGap
	}
	return 5 * time.Second
}

// AMQPConsumer consumes from a durable RabbitMQ queue with manual
// acknowledgement, reconnecting with a fixed backoff on disconnect.
type AMQPConsumer struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ Consumer = &AMQPConsumer{}

// NewAMQPConsumer dials the broker and declares the configured durable
// queue.
func NewAMQPConsumer(cfg Config) (*AMQPConsumer, error) {
	c := &AMQPConsumer{cfg: cfg}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AMQPConsumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return errors.Wrap(err, "queue: Dial")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "queue: Channel")
	}

	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrap(err, "queue: Qos")
	}

	if _, err := ch.QueueDeclare(c.cfg.QueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrap(err, "queue: QueueDeclare")
	}

	c.conn = conn
	c.ch = ch
	return nil
}

// Consume starts delivering messages. On broker disconnect it reconnects
// with a fixed backoff and resumes consuming; in-flight pipeline state built
// from the lost connection's unacked deliveries is discarded by the caller,
// since those deliveries return to the broker for redelivery.
func (c *AMQPConsumer) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			deliveries, err := c.ch.ConsumeWithContext(ctx, c.cfg.QueueName, "", false, false, false, false, nil)
			if err != nil {
				debug.Log("queue: Consume failed, reconnecting: %v", err)
				if !c.waitReconnect(ctx) {
					return
				}
				continue
			}

			for d := range deliveries {
				delivery := d
				msg, perr := ParseMessage(delivery.Body)
				if perr != nil {
					_ = delivery.Nack(false, false)
					debug.Log("queue: dropped invalid message: %v", perr)
					continue
				}

				select {
				case out <- Delivery{
					Message: msg,
					Ack:     func() error { return delivery.Ack(false) },
					Nack:    func(requeue bool) error { return delivery.Nack(false, requeue) },
				}:
				case <-ctx.Done():
					return
				}
			}

			// deliveries channel closed: broker connection dropped.
			if ctx.Err() != nil {
				return
			}
			debug.Log("queue: delivery channel closed, reconnecting")
			if !c.waitReconnect(ctx) {
				return
			}
		}
	}()

	return out, nil
}

func (c *AMQPConsumer) waitReconnect(ctx context.Context) bool {
	select {
	case <-time.After(c.cfg.reconnectGap()):
	case <-ctx.Done():
		return false
	}
	if err := c.connect(); err != nil {
		debug.Log("queue: reconnect failed: %v", err)
	}
	return ctx.Err() == nil
}

// Close disconnects from the broker.
func (c *AMQPConsumer) Close() error {
	var firstErr error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errors.Wrap(firstErr, "queue: close")
	}
	return nil
}
