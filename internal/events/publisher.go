// Package events publishes committed trip transitions to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/trip"
)

// DefaultExchange is the topic exchange trip events go to.
const DefaultExchange = "trips"

const publishTimeout = 5 * time.Second

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// TripEvent is the message body of a trip event.
type TripEvent struct {
	Type       string              `json:"type"`
	TripID     string              `json:"trip_id"`
	DriverID   string              `json:"driver_id"`
	OrgID      string              `json:"org_id"`
	OrderID    string              `json:"order_id"`
	VehicleID  string              `json:"vehicle_id"`
	Status     models.TripStatus   `json:"status"`
	OccurredAt time.Time           `json:"occurred_at"`
	Trip       models.Trip         `json:"trip"`
	Metrics    *models.TripMetrics `json:"metrics,omitempty"`
}

// RoutingKey returns the key a trip event is published with, e.g. trip.dispatched.<id>.
func RoutingKey(t models.Trip) string {
	return fmt.Sprintf("trip.%s.%s", strings.ToLower(string(t.Status)), t.ID)
}

var _ trip.EventPublisher = (*Publisher)(nil)

// Publisher sends trip events to a topic exchange.
type Publisher struct {
	exchange string
	conn     *amqp.Connection

	mu sync.Mutex
	ch Channel
}

// NewPublisher declares exchange on ch and returns a publisher using it.
func NewPublisher(ch Channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // args
	); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{exchange: exchange, ch: ch}, nil
}

// Connect dials RabbitMQ, retrying with backoff until ctx is done or attempts run out.
func Connect(ctx context.Context, url, exchange string) (*Publisher, error) {
	const maxRetries = 10
	delay := time.Second

	for attempt := 1; ; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			ch, err := conn.Channel()
			if err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("open channel: %w", err)
			}
			p, err := NewPublisher(ch, exchange)
			if err != nil {
				_ = conn.Close()
				return nil, err
			}
			p.conn = conn
			log.WithFields(log.Fields{"exchange": p.exchange, "attempt": attempt}).Info("Connected to RabbitMQ")
			return p, nil
		}

		if attempt == maxRetries {
			return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, err)
		}
		log.WithError(err).WithFields(log.Fields{"attempt": attempt, "retry_in": delay}).Warn("RabbitMQ connection attempt failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*3/2, 30*time.Second)
	}
}

// PublishTripEvent publishes the committed state of t.
func (p *Publisher) PublishTripEvent(ctx context.Context, t models.Trip, metrics *models.TripMetrics) error {
	ev := TripEvent{
		Type:       "trip." + strings.ToLower(string(t.Status)),
		TripID:     t.ID,
		DriverID:   t.DriverID,
		OrgID:      t.OrgID,
		OrderID:    t.OrderID,
		VehicleID:  t.VehicleID,
		Status:     t.Status,
		OccurredAt: t.UpdatedAt,
		Trip:       t,
		Metrics:    metrics,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trip event: %w", err)
	}

	key := RoutingKey(t)
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	err = p.ch.PublishWithContext(
		publishCtx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    t.ID + ":" + string(t.Status),
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to rabbitmq: %w", err)
	}

	log.WithFields(log.Fields{"routing_key": key, "trip_id": t.ID}).Debug("Trip event published")
	return nil
}

// Close closes the channel and, when the publisher dialed it, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
