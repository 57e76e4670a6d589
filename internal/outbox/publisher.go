// Package outbox relays committed events from the outbox table to RabbitMQ.
// At-least-once: a record is marked PUBLISHED only after the broker accepts
// it, and consumers dedupe on the message id.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/showgrid/booking-engine/internal/adapters/crdb"
	"github.com/showgrid/booking-engine/internal/adapters/rabbit"
	"github.com/showgrid/booking-engine/internal/observability"
)

type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil {
				p.logger.Error("outbox batch: ", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) error {
	records, err := p.repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		return err
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithField("event_type", rec.EventType).Error("publish outbox record: ", err)
			continue
		}
		now := time.Now()
		if err := p.repo.MarkPublished(ctx, rec.ID, now, rec.DedupeKey); err != nil {
			// Re-delivery on the next tick; the dedupe key absorbs it.
			p.logger.Error("mark outbox published: ", err)
			continue
		}
		observability.OutboxLag.Set(now.Sub(rec.CreatedAt).Seconds())
	}
	return nil
}
