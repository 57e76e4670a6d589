package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/showgrid/booking-engine/internal/adapters/crdb"
	redisadapter "github.com/showgrid/booking-engine/internal/adapters/redis"
	"github.com/showgrid/booking-engine/internal/booking"
	"github.com/showgrid/booking-engine/internal/config"
	"github.com/showgrid/booking-engine/internal/inventory"
	"github.com/showgrid/booking-engine/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)

	inv := inventory.NewService(repo, redisCache, cfg.HoldTTL, logger)
	sweeper := booking.NewSweeper(repo, inv, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx, time.Minute)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}
