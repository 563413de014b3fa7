package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/engine"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const laneBuffer = 16

// Message represents the event format published by the platform
type Message struct {
	EventID   string          `json:"event_id"`
	UserID    uint            `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	EventType model.EventType `json:"event_type"`
	Timestamp string          `json:"timestamp"`  // ISO8601 format
	CreatedAt string          `json:"created_at"` // Alternative field name

	Username        string     `json:"username"`
	SponsorID       *uint      `json:"sponsor_id"`
	PlacementUserID *uint      `json:"placement_user_id"`
	PlacementSide   model.Side `json:"placement_side"`

	FromWallet bool           `json:"from_wallet"`
	Category   model.Category `json:"category"`
}

// GetTimestamp returns the timestamp (handles both field names)
func (m *Message) GetTimestamp() string {
	if m.Timestamp != "" {
		return m.Timestamp
	}
	return m.CreatedAt
}

// ParseTimestamp parses the timestamp string. An empty timestamp is the
// zero time and is filled in by the engine.
func (m *Message) ParseTimestamp() (time.Time, error) {
	ts := m.GetTimestamp()
	if ts == "" {
		return time.Time{}, nil
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	var err error
	for _, format := range formats {
		var t time.Time
		if t, err = time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// Decode turns a message body into an event.
func Decode(body []byte) (model.Event, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return model.Event{}, fmt.Errorf("malformed message: %v: %w", err, apperr.ErrInvalidEvent)
	}
	ts, err := msg.ParseTimestamp()
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s: timestamp %q: %w", msg.EventID, msg.GetTimestamp(), apperr.ErrInvalidEvent)
	}
	return model.Event{
		EventID:         msg.EventID,
		UserID:          msg.UserID,
		Amount:          msg.Amount,
		Type:            msg.EventType,
		Timestamp:       ts,
		Username:        msg.Username,
		SponsorID:       msg.SponsorID,
		PlacementUserID: msg.PlacementUserID,
		PlacementSide:   msg.PlacementSide,
		FromWallet:      msg.FromWallet,
		Category:        msg.Category,
	}, nil
}

// Acknowledger settles a delivery; amqp091.Delivery implements it.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type Incoming struct {
	Event    model.Event
	Delivery Acknowledger
	// Redeliveries is how often the broker delivered the message before.
	Redeliveries int
}

// Handler applies one event.
type Handler interface {
	Process(ctx context.Context, ev model.Event) (*engine.Result, error)
}

// Pool runs events through the handler on a fixed number of lanes. Events
// of one user always take the same lane, so they are applied in arrival
// order.
//
// An event failing with an internal error is requeued until it has been
// tried more than maxRedeliveries times, then dead-lettered.
type Pool struct {
	handler         Handler
	workers         int
	maxRedeliveries int
	log             *logrus.Logger

	mu       sync.Mutex
	failures map[string]int
}

func New(handler Handler, workers, maxRedeliveries int, log *logrus.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if maxRedeliveries < 0 {
		maxRedeliveries = 0
	}
	return &Pool{
		handler:         handler,
		workers:         workers,
		maxRedeliveries: maxRedeliveries,
		log:             log,
		failures:        make(map[string]int),
	}
}

// Run dispatches incoming until ctx is done or the channel is closed, then
// waits for the lanes to drain.
func (p *Pool) Run(ctx context.Context, incoming <-chan Incoming) error {
	lanes := make([]chan Incoming, p.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan Incoming, laneBuffer)
		wg.Add(1)
		go func(lane <-chan Incoming, workerID int) {
			defer wg.Done()
			for in := range lane {
				p.handle(ctx, in, workerID)
			}
		}(lanes[i], i)
	}
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
		p.log.Info("processor stopped")
	}()

	p.log.WithField("workers", p.workers).Info("processor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-incoming:
			if !ok {
				return nil
			}
			lane := lanes[in.Event.UserID%uint(p.workers)]
			select {
			case lane <- in:
			case <-ctx.Done():
				p.settle(in, "requeued", func() error { return in.Delivery.Nack(false, true) })
				return nil
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, in Incoming, workerID int) {
	fields := logrus.Fields{
		"worker_id":  workerID,
		"event_id":   in.Event.EventID,
		"event_type": in.Event.Type,
		"user_id":    in.Event.UserID,
	}

	res, err := p.handler.Process(ctx, in.Event)
	if err == nil || apperr.Parkable(err) || apperr.KindOf(err) == apperr.KindValidation {
		p.forget(in.Event.EventID)
	}
	switch {
	case err == nil:
		outcome := "acked"
		if res != nil && res.Duplicate {
			outcome = "duplicate"
			p.log.WithFields(fields).Debug("event already applied")
		}
		p.settle(in, outcome, func() error { return in.Delivery.Ack(false) })

	case ctx.Err() != nil:
		p.settle(in, "requeued", func() error { return in.Delivery.Nack(false, true) })

	case apperr.Parkable(err):
		// parked rows hold the event now
		p.settle(in, "parked", func() error { return in.Delivery.Ack(false) })

	case apperr.KindOf(err) == apperr.KindValidation:
		p.log.WithFields(fields).WithError(err).Warn("event rejected")
		p.settle(in, "rejected", func() error { return in.Delivery.Nack(false, false) })

	default:
		attempts := p.failed(in)
		fields["attempts"] = attempts
		if attempts > p.maxRedeliveries {
			p.forget(in.Event.EventID)
			p.log.WithFields(fields).WithError(err).Error("failed to process event, giving up and dead-lettering")
			p.settle(in, "dead_lettered", func() error { return in.Delivery.Nack(false, false) })
			return
		}
		p.log.WithFields(fields).WithError(err).Error("failed to process event, requeueing")
		p.settle(in, "requeued", func() error { return in.Delivery.Nack(false, true) })
	}
}

// failed counts an internal failure of the event and returns the number of
// attempts so far, trusting the broker's count when it is higher.
func (p *Pool) failed(in Incoming) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[in.Event.EventID]++
	n := p.failures[in.Event.EventID]
	if in.Redeliveries+1 > n {
		n = in.Redeliveries + 1
	}
	return n
}

func (p *Pool) forget(eventID string) {
	p.mu.Lock()
	delete(p.failures, eventID)
	p.mu.Unlock()
}

func (p *Pool) settle(in Incoming, outcome string, fn func() error) {
	metrics.RecordDelivery(outcome)
	if err := fn(); err != nil {
		p.log.WithFields(logrus.Fields{
			"event_id": in.Event.EventID,
			"outcome":  outcome,
			"error":    err,
		}).Warn("failed to settle delivery")
	}
}
