// Package events publishes order lifecycle events to Kafka. Publishing
// happens strictly after the corresponding database transition is durable;
// a broker outage is logged and never rolls back an order.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/vendora/bazaar/internal/domain/payment"
)

// Publisher writes order.paid events to a Kafka topic, keyed by order id so
// each order's events stay in one partition.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Kafka publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

type orderPaidMessage struct {
	Event       string    `json:"event"`
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     string    `json:"buyer_id,omitempty"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// OrderPaid emits one order.paid event.
func (p *Publisher) OrderPaid(ctx context.Context, ev payment.Event) error {
	value, err := json.Marshal(orderPaidMessage{
		Event:       "order.paid",
		OrderID:     ev.OrderID,
		OrderNumber: ev.OrderNumber,
		BuyerID:     ev.BuyerID,
		Amount:      ev.Amount.StringFixed(2),
		Currency:    ev.Currency,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: value,
	})
	if err != nil {
		return errors.Wrap(err, "writing event")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

// OrderPaid implements payment.Publisher.
func (Nop) OrderPaid(context.Context, payment.Event) error { return nil }
