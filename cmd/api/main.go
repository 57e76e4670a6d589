package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/showgrid/booking-engine/internal/adapters/crdb"
	mongoadapter "github.com/showgrid/booking-engine/internal/adapters/mongo"
	redisadapter "github.com/showgrid/booking-engine/internal/adapters/redis"
	"github.com/showgrid/booking-engine/internal/booking"
	"github.com/showgrid/booking-engine/internal/config"
	"github.com/showgrid/booking-engine/internal/domain"
	httphandler "github.com/showgrid/booking-engine/internal/http"
	"github.com/showgrid/booking-engine/internal/idempotency"
	"github.com/showgrid/booking-engine/internal/inventory"
	"github.com/showgrid/booking-engine/internal/observability"
	"github.com/showgrid/booking-engine/internal/payment"
	"github.com/showgrid/booking-engine/internal/rateLimit"
	"github.com/showgrid/booking-engine/internal/wallet"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("booking")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	inv := inventory.NewService(repo, redisCache, cfg.HoldTTL, logger)
	wallets := wallet.NewService(repo, logger)
	gateway := payment.NewHTTPGatewayClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, logger)
	verifier := payment.NewVerifier(cfg.GatewaySecret)
	payments := payment.NewOrchestrator(wallets, gateway, verifier, cfg.Currency, logger)

	fees := domain.FeeSchedule{ConvenienceFeePct: cfg.ConvenienceFeePct, TaxPct: cfg.TaxPct}
	finalizer := booking.NewFinalizer(repo, inv, catalog, payments, fees, cfg.HoldTTL, cfg.ShowtimeCutoff, logger)

	handlers := httphandler.NewHandlers(cfg, inv, finalizer, wallets, catalog, idemp, audit)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	logger.Info("Server exiting")
}
