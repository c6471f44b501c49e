package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/talentlane/backend/internal/assessments"
	"github.com/talentlane/backend/internal/auth"
	"github.com/talentlane/backend/internal/codehost"
	"github.com/talentlane/backend/internal/config"
	"github.com/talentlane/backend/internal/contracts"
	"github.com/talentlane/backend/internal/evaluation"
	"github.com/talentlane/backend/internal/httpapi"
	"github.com/talentlane/backend/internal/leaderboard"
	"github.com/talentlane/backend/internal/llm"
	"github.com/talentlane/backend/internal/mailer"
	"github.com/talentlane/backend/internal/notify"
	"github.com/talentlane/backend/internal/payments"
	"github.com/talentlane/backend/internal/store"
	"github.com/talentlane/backend/internal/store/memstore"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is a local-dev convenience; a missing file is not an error.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	if cfg.Production() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
	logger := slog.Default()

	ctx := context.Background()

	// Persistence. Without MONGODB_URI the server still boots on the
	// in-memory store so evaluation and the leaderboard work locally,
	// but nothing survives a restart.
	var (
		st          *store.Store
		mongoClient *mongo.Client
		ping        func(ctx context.Context) error
	)
	if cfg.MongoURI != "" {
		st, mongoClient, err = store.Connect(ctx, cfg.MongoURI, "talentlane")
		if err != nil {
			logger.Error("mongo connect failed", "error", err)
			os.Exit(1)
		}
		ping = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
		logger.Info("connected to mongodb")
	} else {
		st = memstore.New()
		logger.Warn("MONGODB_URI not set, using in-memory store; data will not persist")
	}

	// Notification fan-out. Redis carries pushes across instances; the
	// local bus is enough for a single process.
	var (
		bus         notify.Bus
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis ping failed", "error", err)
			os.Exit(1)
		}
		bus = notify.NewRedisBus(redisClient, "talentlane:notifications")
		logger.Info("connected to redis")
	} else {
		bus = notify.NewLocalBus()
		logger.Warn("REDIS_URL not set, notification push is single-instance only")
	}

	hub := notify.NewHub(cfg.AllowedOrigins, cfg.Production())
	notifier := notify.NewService(st.Notifications, hub, bus)

	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	} else {
		logger.Warn("SMTP_HOST not set, outbound email disabled")
	}

	host := codehost.NewGitHub(cfg.GitHubToken)
	model := llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	gateway := payments.NewStripeGateway(cfg.StripeKey, cfg.StripeWebhookSecret)

	board := leaderboard.NewService(st)
	cache := evaluation.NewCache(cfg.CacheTTL, 0)
	evaluator := evaluation.NewService(host, model, cache, board, cfg.AnalyzeRepoLimit)

	contractSvc := contracts.NewService(st, notifier, mail, cfg.PlatformFeePercent)
	orchestrator := payments.NewOrchestrator(gateway, st, notifier, mail)
	contractSvc.BindCharger(orchestrator)
	orchestrator.BindCompleter(contractSvc)

	assessmentSvc := assessments.NewService(st, model, notifier, mail)

	verifier, err := auth.NewJWTVerifier(cfg.ClerkJWTPublicKey, cfg.ClerkTokenSecret)
	if err != nil {
		logger.Error("auth setup failed", "error", err)
		os.Exit(1)
	}
	authn := auth.NewAuthenticator(verifier, st.Users)

	api := httpapi.NewServer(httpapi.Deps{
		Config:      cfg,
		Auth:        authn,
		Users:       st.Users,
		Evaluations: evaluator,
		Leaderboard: board,
		Contracts:   contractSvc,
		Payments:    orchestrator,
		Assessments: assessmentSvc,
		Notify:      notifier,
		Hub:         hub,
		Ping:        ping,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown: Cloud Run and most orchestrators send SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutdown signal received, draining")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		api.Close()
		notifier.Close()
		if err := bus.Close(); err != nil {
			logger.Error("bus close", "error", err)
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Error("redis close", "error", err)
			}
		}
		if mongoClient != nil {
			if err := mongoClient.Disconnect(ctx); err != nil {
				logger.Error("mongo disconnect", "error", err)
			}
		}
	}()

	logger.Info("server listening", "port", cfg.Port, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
