package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"compensation-engine/internal/config"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/processor"
	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const maxReconnectAttempts = 10

var errDeliveriesClosed = errors.New("delivery channel closed")

// Consumer reads compensation events from the queue and hands them to the
// processor. Settlement of each delivery is left to the processor.
type Consumer struct {
	cfg      config.RabbitConfig
	log      *logrus.Logger
	incoming chan<- processor.Incoming

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

func New(cfg config.RabbitConfig, log *logrus.Logger, incoming chan<- processor.Incoming) (*Consumer, error) {
	c := &Consumer{
		cfg:      cfg,
		log:      log,
		incoming: incoming,
	}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return c, nil
}

// connect dials the broker and declares the event queue together with the
// dead-letter queue that receives rejected deliveries.
func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL())
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	var args amqp.Table
	if c.cfg.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(c.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": c.cfg.DeadLetterQueue,
		}
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"host":        c.cfg.Host,
		"queue":       c.cfg.Queue,
		"dead_letter": c.cfg.DeadLetterQueue,
	}).Info("connected to RabbitMQ")
	return nil
}

// Start consumes until ctx is done. When the broker drops the channel the
// connection is re-established with exponential backoff and consumption
// resumes.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return nil
		}
		c.log.WithError(err).Error("RabbitMQ consumption interrupted")

		if err := c.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// consume runs one session on the current channel. Deliveries are decoded
// and handed to the processor from this goroutine alone, so the processor
// sees them in queue order and can keep per-user ordering.
func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		return fmt.Errorf("channel is not initialized")
	}

	msgs, err := channel.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.WithField("prefetch", c.cfg.Prefetch).Info("consuming events")
	c.deliver(ctx, msgs)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errDeliveriesClosed
}

func (c *Consumer) reconnect(ctx context.Context) error {
	c.closeConn()

	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxReconnectAttempts),
		ctx,
	)
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return c.connect()
		},
		policy,
		func(err error, delay time.Duration) {
			c.log.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay,
				"error":   err,
			}).Warn("reconnection failed, retrying")
		},
	)
	if err != nil {
		return fmt.Errorf("failed to reconnect to RabbitMQ after %d attempts: %w", attempt, err)
	}
	c.log.WithField("attempt", attempt).Info("reconnected to RabbitMQ")
	return nil
}

func (c *Consumer) deliver(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn("delivery channel closed")
				return
			}
			if !c.processMessage(ctx, msg) {
				return
			}
		}
	}
}

// processMessage hands one delivery to the processor, blocking while the
// processor lanes are full. It reports false once ctx is done.
func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) bool {
	ev, err := processor.Decode(msg.Body)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"error":        err,
			"delivery_tag": msg.DeliveryTag,
			"message_id":   msg.MessageId,
		}).Error("failed to decode message, dead-lettering")

		metrics.RecordDelivery("malformed")
		_ = msg.Nack(false, false)
		return true
	}

	select {
	case c.incoming <- processor.Incoming{Event: ev, Delivery: msg, Redeliveries: redeliveries(msg)}:
		c.log.WithFields(logrus.Fields{
			"event_id":   ev.EventID,
			"event_type": ev.Type,
			"user_id":    ev.UserID,
		}).Debug("message sent to processor")
		return true
	case <-ctx.Done():
		c.log.WithField("event_id", ev.EventID).Warn("consumer stopping, requeueing message")
		metrics.RecordDelivery("requeued")
		_ = msg.Nack(false, true)
		return false
	}
}

// redeliveries is how many times the broker handed the message out before.
// Quorum queues count them in x-delivery-count; classic queues only flag
// a redelivery.
func redeliveries(msg amqp.Delivery) int {
	switch n := msg.Headers["x-delivery-count"].(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	}
	if msg.Redelivered {
		return 1
	}
	return 0
}

func (c *Consumer) Close() {
	c.closeConn()
	c.log.Info("consumer closed")
}

func (c *Consumer) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
