package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"

	"slotwatch/internal/behavior"
	"slotwatch/internal/config"
	"slotwatch/internal/handlers"
	"slotwatch/internal/models"
	"slotwatch/internal/mq"
	"slotwatch/internal/notify"
	"slotwatch/internal/orchestrator"
	"slotwatch/internal/probe"
	"slotwatch/internal/risk"
	"slotwatch/internal/store"
)

func main() {
	// Load .env if present.
	_ = godotenv.Load()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Store ---
	st, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()
	log.Printf("store connected (%s)", cfg.StoreBackend)

	// --- RabbitMQ ---
	agent, err := mq.NewClient(cfg.RabbitMQURL,
		time.Duration(cfg.CheckTimeout)*time.Second,
		time.Duration(cfg.BookTimeout)*time.Second)
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer agent.Close()
	log.Println("rabbitmq connected")

	// --- Notifier ---
	var notifier orchestrator.Notifier
	if cfg.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.BotToken, 0)
		if err != nil {
			log.Fatalf("telegram: %v", err)
		}
		notifier = tg
		log.Println("telegram notifier ready")
	} else {
		notifier = notify.LogNotifier{}
		log.Println("BOT_TOKEN unset, notifications go to the log")
	}

	// --- Risk model ---
	model := risk.New()
	go model.Start(ctx, time.Duration(cfg.RiskRecompute)*time.Second)

	// --- Behavior policy ---
	policy := behavior.NewRandomized()
	if err := policy.Initialize(); err != nil {
		log.Fatalf("behavior policy: %v", err)
	}

	// --- Orchestrator ---
	sub := models.Subscription{
		Tier:         cfg.SubscriptionTier,
		RebooksTotal: cfg.RebooksTotal,
		Unlimited:    cfg.RebooksTotal < 0,
	}
	orc := orchestrator.New(st, agent, notifier, model, policy, sub)
	if cfg.ProbeHost != "" {
		pinger := probe.New(cfg.ProbeCount, time.Duration(cfg.ProbeTimeout)*time.Second)
		orc.SetProbe(pinger.Reachable, cfg.ProbeHost)
	}
	if err := orc.Load(ctx); err != nil {
		log.Fatalf("load state: %v", err)
	}
	if orc.Settings().AutoCheck {
		orc.Start()
	}

	// --- Fiber HTTP server ---
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New())

	h := &handlers.Handlers{Orc: orc}
	h.RegisterRoutes(app.Group("/api"))

	// --- Graceful shutdown ---
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("shutting down...")
		orc.Stop()
		cancel()
		_ = app.Shutdown()
	}()

	log.Printf("server starting on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.DatabaseURL)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewRedisStore(cfg.RedisURL)
	}
}
