package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"slotwatch/internal/behavior"
	"slotwatch/internal/booking"
	"slotwatch/internal/detector"
	"slotwatch/internal/mq"
)

// listener consumes check and booking requests and replies with results.
// Failures are converted into {success:false, error} replies here; nothing
// crosses the channel as a raised fault.
//
// The detector and engine share one browsing session, so only one workflow
// may drive it at a time; sessMu serializes checks against bookings.
type listener struct {
	consumer *mq.Consumer
	detector *detector.Detector
	engine   *booking.Engine
	policy   behavior.Policy

	sessMu sync.Mutex
}

func (l *listener) listenChecks(ctx context.Context) {
	deliveries, err := l.consumer.Consume(mq.QueueCheckRequest)
	if err != nil {
		log.Fatalf("consume %s: %v", mq.QueueCheckRequest, err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			l.handleCheck(ctx, d)
		}
	}
}

func (l *listener) handleCheck(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	var req mq.CheckRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		log.Printf("[agent] bad check request: %v", err)
		l.reply(ctx, d, mq.CheckReply{Success: false, Error: "malformed check request"})
		return
	}

	l.reply(ctx, d, l.runCheck(ctx, req))
}

func (l *listener) runCheck(ctx context.Context, req mq.CheckRequest) mq.CheckReply {
	l.sessMu.Lock()
	defer l.sessMu.Unlock()

	var reply mq.CheckReply
	err := l.policy.Execute(ctx, "stealth_check", func(ctx context.Context) error {
		reply.Slots = l.detector.Check(ctx, req.Monitors)
		return nil
	})
	if err != nil {
		return mq.CheckReply{Success: false, Error: err.Error()}
	}
	reply.Success = true
	total := 0
	for _, s := range reply.Slots {
		total += len(s)
	}
	log.Printf("[agent] check done: %d slots across %d monitors", total, len(req.Monitors))
	return reply
}

func (l *listener) listenBookings(ctx context.Context) {
	deliveries, err := l.consumer.Consume(mq.QueueBookRequest)
	if err != nil {
		log.Fatalf("consume %s: %v", mq.QueueBookRequest, err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			l.handleBook(ctx, d)
		}
	}
}

func (l *listener) handleBook(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	var req mq.BookRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		log.Printf("[agent] bad book request: %v", err)
		l.reply(ctx, d, mq.BookReply{Success: false, Error: "malformed book request"})
		return
	}

	log.Printf("[agent] booking %s %s at %s for %s",
		req.Slot.Date.Format("2006-01-02"), req.Slot.Time, req.Slot.Centre, req.Monitor.Name)

	l.reply(ctx, d, l.runBook(ctx, req))
}

func (l *listener) runBook(ctx context.Context, req mq.BookRequest) mq.BookReply {
	l.sessMu.Lock()
	defer l.sessMu.Unlock()

	var msg string
	err := l.policy.Execute(ctx, "auto_booking", func(ctx context.Context) error {
		var err error
		msg, err = l.engine.PerformAutoBooking(ctx, req.Slot, req.Monitor)
		return err
	})
	if err != nil {
		log.Printf("[agent] booking failed: %v", err)
		return mq.BookReply{Success: false, Error: err.Error()}
	}
	return mq.BookReply{Success: true, Message: msg}
}

func (l *listener) reply(ctx context.Context, d amqp.Delivery, msg any) {
	if err := l.consumer.Reply(ctx, d, msg); err != nil {
		log.Printf("[agent] reply failed: %v", err)
	}
}
