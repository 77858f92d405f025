package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"slotwatch/internal/behavior"
	"slotwatch/internal/booking"
	"slotwatch/internal/config"
	"slotwatch/internal/detector"
	"slotwatch/internal/mq"
	"slotwatch/internal/page"
)

// fetchRPS caps snapshot fetches; one request every other second at most.
const fetchRPS = 0.5

func main() {
	// Load .env if present.
	_ = godotenv.Load()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- RabbitMQ ---
	consumer, err := mq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer consumer.Close()
	log.Println("rabbitmq connected")

	// --- Browsing context ---
	fetcher := page.NewFetcher(cfg.TargetBaseURL, fetchRPS)
	sess := page.NewHTTPSession(fetcher)

	policy := behavior.NewRandomized()
	if err := policy.Initialize(); err != nil {
		log.Fatalf("behavior policy: %v", err)
	}

	l := &listener{
		consumer: consumer,
		detector: detector.New(sess, policy),
		engine:   booking.New(sess, policy),
		policy:   policy,
	}
	go l.listenChecks(ctx)
	go l.listenBookings(ctx)
	log.Printf("agent started against %s", cfg.TargetBaseURL)

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down agent...")
	cancel()
}
