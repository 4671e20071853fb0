package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-reconciler/internal/auth"
	"ms-reconciler/internal/config"
	"ms-reconciler/internal/database/migrations"
	"ms-reconciler/internal/gateway"
	"ms-reconciler/internal/ledger"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
	"ms-reconciler/internal/recon"
	"ms-reconciler/internal/recon/api"
	recondb "ms-reconciler/internal/recon/db"
	reconkafka "ms-reconciler/internal/recon/kafka"
	redislock "ms-reconciler/internal/recon/redis"
	"ms-reconciler/internal/schedule"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Reconciliation Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	log.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.Up(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Schema migration failed: %v", err))
	}
	log.Info("DATABASE", "Schema migrations applied")

	if cfg.Kafka.Enabled && !cfg.Kafka.MockMode {
		requiredTopics := []string{
			cfg.Kafka.Topics.TransactionEvents,
			cfg.Kafka.Topics.ChargebackEvents,
		}
		if err := reconkafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
	}

	producer := reconkafka.NewProducer(cfg.Kafka, log)
	defer producer.Close()

	store := &recondb.Store{Bun: bunDB}
	txnLedger := &ledger.Ledger{Bun: bunDB, Log: log}
	queue := &schedule.Queue{Bun: bunDB, Log: log}
	locker := redislock.NewLocker(redisClient)

	gatewayClient := gateway.NewClient(cfg.Gateway, log)
	classifier := gateway.NewClassifier(log, gateway.DefaultRules())
	hpp := gateway.NewHPPBuilder(cfg.Gateway)
	tables := recon.NewTables()

	service := recon.NewService(
		store,
		txnLedger,
		producer,
		queue,
		gatewayClient,
		classifier,
		tables,
		cfg.Gateway,
		cfg.Expiration,
		cfg.Schedule,
		log,
	)

	handler := &api.Handler{
		Service: service,
		Locker:  locker,
		HPP:     hpp,
		Log:     log,
	}

	poller := schedule.NewPoller(queue, redisClient, cfg.Schedule, log)
	poller.Register(models.TaskChallengeCheck, schedule.NewChallengeCheck(txnLedger, log))
	poller.Register(models.TaskIdentifyCheck, schedule.NewIdentifyCheck(txnLedger, log))

	pollCtx, stopPoller := context.WithCancel(ctx)
	go poller.Run(pollCtx)
	log.Info("SCHEDULE", "Deferred check poller started")

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/health", handler.Health)
	r.Post("/api/recon/notifications", handler.HandleNotification)

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		log.Info("AUTH", "JWT middleware applied to merchant API routes")

		r.Route("/api/recon/payments", func(r chi.Router) {
			r.Post("/", handler.CreatePayment)
			r.Post("/redirect", handler.CreateRedirect)
			r.Get("/{paymentId}", handler.GetPayment)
		})
		log.Info("ROUTER", "Payment routes registered under /api/recon/payments")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Reconciliation Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	stopPoller()

	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Reconciliation Service shutdown complete")
	}
}
