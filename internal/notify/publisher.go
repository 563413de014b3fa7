package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"compensation-engine/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// Publisher sends facts to a topic exchange, routed by fact kind. Facts
// that cannot be published are written to the log instead.
type Publisher struct {
	cfg      config.RabbitConfig
	log      *logrus.Logger
	fallback *LogNotifier

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

func NewPublisher(cfg config.RabbitConfig, log *logrus.Logger) (*Publisher, error) {
	p := &Publisher{
		cfg:      cfg,
		log:      log,
		fallback: NewLogNotifier(log),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.cfg.URL())
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch

	p.log.WithField("exchange", p.cfg.Exchange).Info("notification publisher connected")
	return nil
}

func (p *Publisher) Notify(ctx context.Context, facts ...Fact) {
	for _, f := range facts {
		if err := p.publish(ctx, f); err != nil {
			p.log.WithFields(logrus.Fields{
				"error":   err,
				"fact_id": f.ID.String(),
				"kind":    f.Kind,
			}).Warn("failed to publish fact, logging instead")
			p.fallback.Notify(ctx, f)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, f Fact) error {
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		if p.conn != nil {
			p.conn.Close()
		}
		if err := p.connect(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		f.Kind, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    f.ID.String(),
			Timestamp:    f.OccurredAt,
			Body:         body,
		},
	)
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
