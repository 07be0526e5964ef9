package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBus publishes events to a topic exchange for cross-process consumers
// (push notification workers, badge updaters). Routing key is the event name.
type AMQPBus struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPBus connects to the broker and declares the exchange.
func NewAMQPBus(url, exchange string) (*AMQPBus, error) {
	b := &AMQPBus{url: url, exchange: exchange}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *AMQPBus) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	b.conn = conn
	b.channel = ch
	return nil
}

// Publish sends ev as persistent JSON. The dedup ID rides along as MessageId
// so downstream consumers can collapse duplicates the same way the in-process
// bus does.
func (b *AMQPBus) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel == nil || b.conn == nil || b.conn.IsClosed() {
		if err := b.connect(); err != nil {
			slog.Warn("event publish skipped, broker unavailable", "event", ev.Name, "error", err)
			return err
		}
	}
	return b.channel.PublishWithContext(ctx, b.exchange, ev.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Body:         body,
	})
}

// Close tears down the broker connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
