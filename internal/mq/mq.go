package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and queue/routing key constants.
const (
	ExchangeName = "slotwatch"

	RoutingCheckRequest = "check.request"
	RoutingBookRequest  = "book.request"

	QueueCheckRequest = "sw.check_request"
	QueueBookRequest  = "sw.book_request"
)

// queues maps queue names to their routing keys.
var queues = map[string]string{
	QueueCheckRequest: RoutingCheckRequest,
	QueueBookRequest:  RoutingBookRequest,
}

// SetupTopology declares the exchange, all queues, and bindings.
// Safe to call multiple times (all declarations are idempotent).
func SetupTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	for queue, key := range queues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, key, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

// ── Consumer ─────────────────────────────────────────────────────────

// Consumer consumes request messages on the agent side.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConsumer connects to RabbitMQ, sets up topology, and returns a Consumer.
func NewConsumer(url string) (*Consumer, error) {
	conn, err := dialWithRetry(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := SetupTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	// One check or booking at a time per agent.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch}, nil
}

// Consume starts consuming from the given queue and returns a delivery channel.
func (c *Consumer) Consume(queue string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(queue, "", false, false, false, false, nil)
}

// Reply publishes a JSON reply to the queue named by the request's ReplyTo,
// carrying the request's correlation id.
func (c *Consumer) Reply(ctx context.Context, req amqp.Delivery, msg any) error {
	if req.ReplyTo == "" {
		return fmt.Errorf("request %s has no reply-to", req.CorrelationId)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.ch.PublishWithContext(ctx, "", req.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: req.CorrelationId,
		Body:          data,
	})
}

// Close closes the channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// ── Helpers ──────────────────────────────────────────────────────────

// dialWithRetry attempts to connect to RabbitMQ with exponential backoff.
func dialWithRetry(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := range 5 {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		wait := time.Duration(1<<uint(i)) * time.Second
		log.Printf("[mq] connection attempt %d failed: %v, retrying in %s", i+1, err, wait)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("connect to rabbitmq after 5 attempts: %w", err)
}
