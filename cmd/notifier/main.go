package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/showgrid/booking-engine/internal/adapters/mongo"
	"github.com/showgrid/booking-engine/internal/adapters/rabbit"
	"github.com/showgrid/booking-engine/internal/config"
	"github.com/showgrid/booking-engine/internal/observability"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// The notifier consumes booking and invite events and records them for the
// notification pipeline. Deliveries are deduped on MessageId, which carries
// the outbox dedupe key.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("booking"), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, "notifier.q", []string{"booking.*", "invite.*", "hold.expired"})
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to start consuming: %v", err)
	}

	go func() {
		seen := make(map[string]bool)
		for d := range deliveries {
			if d.MessageId != "" && seen[d.MessageId] {
				d.Ack(false)
				continue
			}
			seen[d.MessageId] = true

			var payload map[string]interface{}
			if err := json.Unmarshal(d.Body, &payload); err != nil {
				logger.Error("malformed event payload: ", err)
				d.Nack(false, false)
				continue
			}
			logger.WithField("routing_key", d.RoutingKey).Info("event received")

			userID := uuid.Nil
			if raw, ok := payload["user_id"].(string); ok {
				if parsed, err := uuid.Parse(raw); err == nil {
					userID = parsed
				}
			}
			if err := audit.LogEvent(ctx, "notify."+d.RoutingKey, userID, payload); err != nil {
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown notifier")
}
