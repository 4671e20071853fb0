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

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-reconciler/internal/config"
	"ms-reconciler/internal/gateway"
	"ms-reconciler/internal/ledger"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/notify"
	"ms-reconciler/internal/recon"
	recondb "ms-reconciler/internal/recon/db"
	reconkafka "ms-reconciler/internal/recon/kafka"
	redislock "ms-reconciler/internal/recon/redis"
	"ms-reconciler/internal/schedule"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Notification Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()
	ctx := context.Background()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()

	producer := reconkafka.NewProducer(cfg.Kafka, log)
	defer producer.Close()

	store := &recondb.Store{Bun: bunDB}
	txnLedger := &ledger.Ledger{Bun: bunDB, Log: log}
	queue := &schedule.Queue{Bun: bunDB, Log: log}
	locker := redislock.NewLocker(redisClient)

	service := recon.NewService(
		store,
		txnLedger,
		producer,
		queue,
		gateway.NewClient(cfg.Gateway, log),
		gateway.NewClassifier(log, gateway.DefaultRules()),
		recon.NewTables(),
		cfg.Gateway,
		cfg.Expiration,
		cfg.Schedule,
		log,
	)

	handler := notify.NewHandler(service, locker, log)

	router := gin.Default()
	router.GET("/health", handler.Health)
	router.POST("/api/notifications", handler.HandleBatch)

	port := os.Getenv("NOTIFY_PORT")
	if port == "" {
		port = ":8081"
	}

	server := &http.Server{
		Addr:    port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Notification Service running on %s", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Notification Service shutdown complete")
	}
}
