package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ms-buddycart/internal/api"
	"ms-buddycart/internal/auth"
	"ms-buddycart/internal/buddy"
	"ms-buddycart/internal/cart"
	"ms-buddycart/internal/club"
	"ms-buddycart/internal/config"
	"ms-buddycart/internal/database/migrations"
	"ms-buddycart/internal/delivery"
	"ms-buddycart/internal/events"
	"ms-buddycart/internal/kafka"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/payment"
	"ms-buddycart/internal/sse"
	"ms-buddycart/internal/storage"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	logger.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, logger *logger.Logger) auth.Verifier {
	if cfg.OIDCIssuer == "" || cfg.InsecureSkipVerify {
		logger.Warn("AUTH", "Bearer tokens are decoded without signature verification")
		return auth.UnverifiedDecoder{}
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
	if err != nil {
		logger.Fatal("AUTH", fmt.Sprintf("Failed to initialise OIDC verifier: %v", err))
	}
	logger.Info("AUTH", fmt.Sprintf("Verifying tokens against %s", cfg.OIDCIssuer))
	return verifier
}

func newGateway(cfg config.StripeConfig, logger *logger.Logger) *payment.Gateway {
	if cfg.SecretKey == "" {
		logger.Warn("PAYMENT", "STRIPE_SECRET_KEY not set, online payments are accepted unverified")
		return payment.NewGateway(nil, logger)
	}
	stripeService, err := payment.NewStripeService(cfg.SecretKey, cfg.Currency, logger)
	if err != nil {
		logger.Fatal("PAYMENT", fmt.Sprintf("Failed to initialise Stripe: %v", err))
	}
	return payment.NewGateway(stripeService, logger)
}

func main() {
	logger := logger.NewLogger("buddy-service")
	defer logger.Close()

	logger.Info("APP", "Starting BuddyCart service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stopAll := context.WithCancel(context.Background())
	defer stopAll()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB.DB, migrations.MigrateOptions{MigrationsDir: cfg.Database.MigrationsDir}, logger)
		if err := runner.RunMigrations(); err != nil {
			logger.Fatal("MIGRATION", fmt.Sprintf("Failed to apply migrations: %v", err))
		}
	}
	db := storage.New(bunDB)

	// Kafka: real producer, or an in-memory recorder in mock mode. The SSE
	// hub sees every event either way.
	hub := sse.NewHub()
	var sink events.Sink
	useKafka := cfg.Kafka.Enabled && !cfg.Kafka.MockMode
	if useKafka {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
		defer producer.Close()
		sink = producer
		logger.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))
	} else {
		sink = events.NewRecorder(logger)
		logger.Warn("KAFKA", "Kafka disabled or in mock mode, events are only logged")
	}
	publisher := events.NewPublisher(events.Tee(sink, hub), cfg.Kafka.Topics, logger)

	locks := lock.NewRedis(redisClient, cfg.Redis.LockTTL, logger)

	var tokens cart.TokenSource
	if cfg.Auth.TokenURL != "" {
		tokens = &auth.M2MTokenSource{
			TokenURL:     cfg.Auth.TokenURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			HTTP:         &http.Client{Timeout: 10 * time.Second},
			Cache:        auth.NewRedisTokenCache(redisClient, cfg.Auth.ClientID),
			Logger:       logger,
		}
	}
	carts := cart.NewClient(cfg.Cart.BaseURL, &http.Client{Timeout: cfg.Cart.Timeout}, tokens, logger)
	gateway := newGateway(cfg.Stripe, logger)

	assembler := club.NewAssembler(db, locks, carts, publisher, cfg.Commitment.DiscountRate,
		cfg.Commitment.CommitmentWindow, cfg.Redis.LockWait, logger)
	tracker := club.NewCommitmentTracker(db, locks, gateway, publisher, cfg, logger)
	resolver := club.NewResolver(db, locks, gateway, publisher, cfg, logger)
	matcher := buddy.NewMatcher(db, locks, assembler, publisher, cfg.Matching, logger)
	queue := buddy.NewService(db, locks, carts, matcher, publisher, cfg, logger)

	sweeper := buddy.NewSweeper(db, matcher, resolver, publisher, cfg.Sweeper, logger)
	sweeper.Start(ctx)

	var consumers sync.WaitGroup
	if useKafka {
		deliveryTracker := delivery.NewTracker(db, logger)
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.DeliveryStatus, cfg.Kafka.GroupID, logger)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			defer consumer.Close()
			if err := consumer.Run(ctx, deliveryTracker.HandleMessage); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Delivery status consumer stopped: %v", err))
			}
		}()
	}

	handler := &api.Handler{
		Queue:     queue,
		Assembler: assembler,
		Payments:  tracker,
		Cancels:   resolver,
		Logger:    logger,

		Notifications: hub,
	}

	logger.Info("HTTP", "Setting up router and middleware")
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      api.NewRouter(handler, newVerifier(ctx, cfg.Auth, logger), logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("BuddyCart service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	sweeper.Stop()
	stopAll()
	consumers.Wait()
	logger.Info("APP", "BuddyCart service shutdown complete")
}
