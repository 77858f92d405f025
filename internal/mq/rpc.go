package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"slotwatch/internal/models"
)

// ErrReplyTimeout is returned when the agent does not answer in time.
var ErrReplyTimeout = errors.New("mq: timed out waiting for reply")

// Client is the orchestrator side of the request/reply channel. It publishes
// check and booking requests and correlates replies on an exclusive queue.
type Client struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	replyQueue string

	mu      sync.Mutex
	pending map[string]chan amqp.Delivery

	checkTimeout time.Duration
	bookTimeout  time.Duration
}

// NewClient connects, sets up topology and starts the reply consumer.
func NewClient(url string, checkTimeout, bookTimeout time.Duration) (*Client, error) {
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

	// Exclusive auto-delete reply queue, one per client.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}

	c := &Client{
		conn:         conn,
		ch:           ch,
		replyQueue:   q.Name,
		pending:      make(map[string]chan amqp.Delivery),
		checkTimeout: checkTimeout,
		bookTimeout:  bookTimeout,
	}
	go c.dispatchReplies(deliveries)
	return c, nil
}

func (c *Client) dispatchReplies(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		c.mu.Lock()
		waiter, ok := c.pending[d.CorrelationId]
		if ok {
			delete(c.pending, d.CorrelationId)
		}
		c.mu.Unlock()
		if !ok {
			// Late reply after the caller timed out.
			log.Printf("[mq] dropping unmatched reply %s", d.CorrelationId)
			continue
		}
		waiter <- d
	}
}

// call publishes req and blocks until the correlated reply, ctx cancellation
// or the timeout.
func (c *Client) call(ctx context.Context, routingKey string, req any, timeout time.Duration) (amqp.Delivery, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return amqp.Delivery{}, fmt.Errorf("marshal request: %w", err)
	}

	corrID := uuid.NewString()
	waiter := make(chan amqp.Delivery, 1)
	c.mu.Lock()
	c.pending[corrID] = waiter
	c.mu.Unlock()

	err = c.ch.PublishWithContext(ctx, ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: corrID,
		ReplyTo:       c.replyQueue,
		Body:          data,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
		return amqp.Delivery{}, fmt.Errorf("publish %s: %w", routingKey, err)
	}

	select {
	case d := <-waiter:
		return d, nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
		return amqp.Delivery{}, ErrReplyTimeout
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
		return amqp.Delivery{}, ctx.Err()
	}
}

// Check sends the active monitor list to the agent and returns slots per
// monitor id.
func (c *Client) Check(ctx context.Context, monitors []models.Monitor) (map[string][]models.Slot, error) {
	d, err := c.call(ctx, RoutingCheckRequest, CheckRequest{Monitors: monitors}, c.checkTimeout)
	if err != nil {
		return nil, err
	}
	var reply CheckReply
	if err := json.Unmarshal(d.Body, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal check reply: %w", err)
	}
	if !reply.Success {
		return nil, errors.New(reply.Error)
	}
	return reply.Slots, nil
}

// Book asks the agent to run the booking workflow for the slot.
func (c *Client) Book(ctx context.Context, slot models.Slot, monitor models.Monitor) (string, error) {
	d, err := c.call(ctx, RoutingBookRequest, BookRequest{Slot: slot, Monitor: monitor}, c.bookTimeout)
	if err != nil {
		return "", err
	}
	var reply BookReply
	if err := json.Unmarshal(d.Body, &reply); err != nil {
		return "", fmt.Errorf("unmarshal book reply: %w", err)
	}
	if !reply.Success {
		return "", errors.New(reply.Error)
	}
	return reply.Message, nil
}

// Close closes the channel and connection.
func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
