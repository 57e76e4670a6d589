package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
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
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const schemaDDL = `
	CREATE DATABASE IF NOT EXISTS booking;
	CREATE TABLE IF NOT EXISTS booking.seat_holds (
		id UUID NOT NULL,
		showtime_id UUID NOT NULL,
		seat_id TEXT NOT NULL,
		holder_id UUID NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('USER', 'INVITE')),
		status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'CONFIRMED', 'RELEASED')),
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (id, seat_id),
		UNIQUE (showtime_id, seat_id) WHERE status != 'RELEASED'
	);
	CREATE TABLE IF NOT EXISTS booking.wallet_accounts (
		account_id UUID PRIMARY KEY,
		balance INT8 NOT NULL
	);
	CREATE TABLE IF NOT EXISTS booking.wallet_transactions (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('CREDIT', 'DEBIT')),
		amount INT8 NOT NULL,
		idempotency_key TEXT NOT NULL,
		resulting_balance INT8 NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (account_id, idempotency_key)
	);
	CREATE TABLE IF NOT EXISTS booking.bookings (
		id UUID PRIMARY KEY,
		showtime_id UUID NOT NULL,
		user_id UUID NOT NULL,
		hold_id UUID NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		method TEXT NOT NULL,
		gateway_order_id TEXT,
		payment_status TEXT NOT NULL,
		booking_status TEXT NOT NULL,
		total_amount INT8 NOT NULL,
		discount INT8 NOT NULL,
		group_invite_id UUID,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS booking.booking_seats (
		booking_id UUID NOT NULL,
		seat_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		price INT8 NOT NULL,
		PRIMARY KEY (booking_id, seat_id)
	);
	CREATE TABLE IF NOT EXISTS booking.group_invites (
		id UUID PRIMARY KEY,
		showtime_id UUID NOT NULL,
		host_id UUID NOT NULL,
		hold_id UUID NOT NULL,
		total_seats INT NOT NULL,
		total_amount INT8 NOT NULL,
		discount INT8 NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'PARTIAL', 'FILLED', 'EXPIRED')),
		deadline TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS booking.group_invite_participants (
		invite_id UUID NOT NULL,
		user_id UUID NOT NULL,
		seat_ids TEXT[] NOT NULL,
		share INT8 NOT NULL,
		payment_status TEXT NOT NULL,
		PRIMARY KEY (invite_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS booking.outbox (
		id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		payload_json JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		dedupe_key TEXT NOT NULL
	);
`

func TestIntegration_HoldSettleConfirm(t *testing.T) {
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongosh", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	crdbHost, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	crdbPort, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		CRDBDSN:           "postgresql://root@" + crdbHost + ":" + crdbPort.Port() + "/booking?sslmode=disable",
		MongoURI:          "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:         redisHost + ":" + redisPort.Port(),
		Currency:          "INR",
		HoldTTL:           300 * time.Second,
		ShowtimeCutoff:    15 * time.Minute,
		ConvenienceFeePct: 5,
		TaxPct:            18,
		OTLPEndpoint:      "", // Skip otel for test
	}

	// Setup dependencies
	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		t.Fatal(err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("booking")
	logger := observability.NewLogger()
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

	// Start server
	srv := &http.Server{Addr: ":8080", Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Error(err)
		}
	}()
	defer srv.Shutdown(ctx)
	time.Sleep(100 * time.Millisecond)

	// Test scenario
	showtimeID := uuid.New()
	userID := uuid.New()

	showtime := mongoadapter.ShowtimeDoc{
		ID:         showtimeID,
		MovieTitle: "Test Movie",
		TheaterID:  "T1",
		Screen:     "Screen 1",
		StartsAt:   time.Now().Add(3 * time.Hour),
		Seats: []mongoadapter.SeatDoc{
			{SeatID: "A1", Tier: "NORMAL", Price: 20000},
			{SeatID: "A2", Tier: "NORMAL", Price: 20000},
			{SeatID: "B1", Tier: "PREMIUM", Price: 30000},
		},
	}
	if _, err := mongoDB.Collection("showtimes").InsertOne(ctx, showtime); err != nil {
		t.Fatal(err)
	}

	// Fund the wallet
	topupBody, _ := json.Marshal(map[string]interface{}{"amount": int64(100000)})
	req, _ := http.NewRequest("POST", "http://localhost:8080/v1/wallets/"+userID.String()+"/topup", bytes.NewReader(topupBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	req.Header.Set("Authorization", "Bearer mock")
	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("topup failed: %v, status: %d", err, resp.StatusCode)
	}

	// Hold two seats
	holdBody, _ := json.Marshal(map[string]interface{}{
		"showtime_id": showtimeID.String(),
		"seat_ids":    []string{"A1", "A2"},
		"user_id":     userID.String(),
	})
	req, _ = http.NewRequest("POST", "http://localhost:8080/v1/holds", bytes.NewReader(holdBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	req.Header.Set("Authorization", "Bearer mock")
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("hold failed: %v, status: %d", err, resp.StatusCode)
	}
	var holdResp struct {
		HoldID uuid.UUID `json:"hold_id"`
	}
	json.NewDecoder(resp.Body).Decode(&holdResp)

	// A second hold on a taken seat fails
	conflictBody, _ := json.Marshal(map[string]interface{}{
		"showtime_id": showtimeID.String(),
		"seat_ids":    []string{"A2"},
		"user_id":     uuid.New().String(),
	})
	req, _ = http.NewRequest("POST", "http://localhost:8080/v1/holds", bytes.NewReader(conflictBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	req.Header.Set("Authorization", "Bearer mock")
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected seat conflict, err: %v, status: %d", err, resp.StatusCode)
	}

	// Settle from the wallet
	settleKey := uuid.New().String()
	settleBody, _ := json.Marshal(map[string]interface{}{
		"hold_id":        holdResp.HoldID.String(),
		"user_id":        userID.String(),
		"payment_method": "WALLET",
	})
	req, _ = http.NewRequest("POST", "http://localhost:8080/v1/settle", bytes.NewReader(settleBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", settleKey)
	req.Header.Set("Authorization", "Bearer mock")
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("settle failed: %v, status: %d", err, resp.StatusCode)
	}
	var settleResp struct {
		BookingID     uuid.UUID `json:"booking_id"`
		BookingStatus string    `json:"booking_status"`
		TotalAmount   int64     `json:"total_amount"`
	}
	json.NewDecoder(resp.Body).Decode(&settleResp)
	if settleResp.BookingStatus != "CONFIRMED" {
		t.Errorf("booking status = %s, want CONFIRMED", settleResp.BookingStatus)
	}
	// 40000 base plus 5% convenience fee plus 18% tax.
	if settleResp.TotalAmount != 49560 {
		t.Errorf("total = %d, want 49560", settleResp.TotalAmount)
	}

	// Replaying the same key returns the same booking
	req, _ = http.NewRequest("POST", "http://localhost:8080/v1/settle", bytes.NewReader(settleBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", settleKey)
	req.Header.Set("Authorization", "Bearer mock")
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("settle replay failed: %v, status: %d", err, resp.StatusCode)
	}
	var replayResp struct {
		BookingID uuid.UUID `json:"booking_id"`
	}
	json.NewDecoder(resp.Body).Decode(&replayResp)
	if replayResp.BookingID != settleResp.BookingID {
		t.Errorf("replay booking = %s, want %s", replayResp.BookingID, settleResp.BookingID)
	}

	// Wallet was debited exactly once
	req, _ = http.NewRequest("GET", "http://localhost:8080/v1/wallets/"+userID.String(), nil)
	req.Header.Set("Authorization", "Bearer mock")
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("balance failed: %v, status: %d", err, resp.StatusCode)
	}
	var balanceResp struct {
		Balance int64 `json:"balance"`
	}
	json.NewDecoder(resp.Body).Decode(&balanceResp)
	if balanceResp.Balance != 100000-49560 {
		t.Errorf("balance = %d, want %d", balanceResp.Balance, 100000-49560)
	}

	// Verify booking status
	req, _ = http.NewRequest("GET", "http://localhost:8080/v1/bookings/"+settleResp.BookingID.String(), nil)
	req.Header.Set("Authorization", "Bearer mock")
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get booking failed: %v, status: %d", err, resp.StatusCode)
	}
	var getResp struct {
		BookingStatus string `json:"booking_status"`
	}
	json.NewDecoder(resp.Body).Decode(&getResp)
	if getResp.BookingStatus != "CONFIRMED" {
		t.Errorf("expected status CONFIRMED, got %s", getResp.BookingStatus)
	}
}
