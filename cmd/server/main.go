package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-guardian/internal/alerts"
	"github.com/technosupport/ts-guardian/internal/api"
	"github.com/technosupport/ts-guardian/internal/chat"
	"github.com/technosupport/ts-guardian/internal/config"
	"github.com/technosupport/ts-guardian/internal/data"
	"github.com/technosupport/ts-guardian/internal/dispatch"
	"github.com/technosupport/ts-guardian/internal/hub"
	"github.com/technosupport/ts-guardian/internal/middleware"
	"github.com/technosupport/ts-guardian/internal/presence"
	"github.com/technosupport/ts-guardian/internal/ratelimit"
	"github.com/technosupport/ts-guardian/internal/siren"
	"github.com/technosupport/ts-guardian/internal/sweeper"
	"github.com/technosupport/ts-guardian/internal/tokens"
)

const serviceName = "TS-Guardian"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	dbHost := os.Getenv("DB_HOST")
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	redisAddr := os.Getenv("REDIS_ADDR")
	jwtKey := os.Getenv("JWT_SIGNING_KEY")

	if jwtKey == "" {
		jwtKey = "dev-secret-do-not-use-in-prod"
	}
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable", dbUser, dbPass, dbHost, dbName)

	// 2. DB Init
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}
	defer db.Close()

	// Shared Redis Client
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	// 3. Transient channel (optional). The engine is fully functional without
	// NATS; the durable change feed carries everything.
	var transientPub dispatch.Publisher
	var transientSub dispatch.Subscriber
	var sirens alerts.SirenController = siren.Noop{}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	nc, err := nats.Connect(natsURL, nats.Name(serviceName))
	if err != nil {
		log.Printf("Warning: NATS connect failed: %v. Running on durable channel only.", err)
	} else {
		defer nc.Close()
		ch := dispatch.NewNATSChannel(nc, cfg.Dispatch.NatsSubjectPrefix, cfg.Dispatch.PublishRetryMax)
		transientPub = ch
		transientSub = ch
		sirens = siren.NewNATSController(nc, cfg.Dispatch.SirenSubjectPrefix)
		log.Println("Connected to NATS")
	}

	// 4. Components
	alertRepo := data.AlertModel{DB: db}
	eventRepo := data.EventModel{DB: db}
	msgRepo := data.MessageModel{DB: db}

	dispatcher := dispatch.NewDispatcher(eventRepo, transientPub)
	alertService := alerts.NewService(alertRepo, dispatcher, sirens, msgRepo)
	chatService := chat.NewService(msgRepo, alertService, dispatcher, cfg.Chat.MaxBodyBytes, cfg.FeedPollInterval())
	registry := presence.NewRegistry(rdb, cfg.OnlineThreshold(), cfg.TypingTTL())

	feed := dispatch.NewFeed(eventRepo, cfg.FeedPollInterval())
	dedup := dispatch.NewEventDedup(cfg.Dispatch.DedupMaxKeys, cfg.DedupTTL())
	viewerHub := hub.New(transientSub, feed, eventRepo, dedup)
	defer viewerHub.Close()

	sweep := sweeper.New(sweeper.Config{
		Interval:       cfg.SweepInterval(),
		WorkerPoolSize: cfg.Sweeper.WorkerPoolSize,
	}, alertService)
	sweep.Start()
	defer sweep.Stop()

	// 5. Middleware
	tokenMgr := tokens.NewManager(jwtKey)
	jwtMiddleware := middleware.NewJWTAuth(tokenMgr)
	limiter := ratelimit.NewLimiter(rdb)
	rlMiddleware := middleware.NewRateLimitMiddleware(limiter, ratelimit.LimitConfig{
		Rate:   cfg.RateLimit.Create.Rate,
		Window: cfg.CreateWindow(),
	})

	// Hot-reload for the runtime-tunable knobs.
	config.StartWatcher(ctx, cfgPath, func(c *config.Config) {
		rlMiddleware.SetConfig(ratelimit.LimitConfig{
			Rate:   c.RateLimit.Create.Rate,
			Window: c.CreateWindow(),
		})
		log.Printf("Config reloaded: create rate limit %d/%s", c.RateLimit.Create.Rate, c.CreateWindow())
	})

	// 6. Handlers
	alertHandler := api.NewAlertHandler(alertService)
	presenceHandler := api.NewPresenceHandler(registry)
	chatHandler := api.NewChatHandler(chatService)
	wsHandler := api.NewWSHandler(alertService, viewerHub, registry)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Use(jwtMiddleware.Middleware)

		r.With(rlMiddleware.PerIdentity).Post("/", alertHandler.Create)
		r.Get("/", alertHandler.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", alertHandler.Get)
			r.Post("/resolve", alertHandler.Resolve)
			r.Post("/ack", alertHandler.Acknowledge)
			r.Post("/heartbeat", presenceHandler.Heartbeat)
			r.Post("/offline", presenceHandler.MarkOffline)
			r.Get("/presence", presenceHandler.Snapshot)
			r.Post("/messages", chatHandler.Post)
			r.Get("/messages", chatHandler.History)
			r.Get("/ws", wsHandler.ServeWS)
		})
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("%s listening on %s", serviceName, cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
