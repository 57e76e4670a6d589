package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogBooking(ctx context.Context, b domain.Booking) error {
	data := map[string]interface{}{
		"booking_id":     b.ID,
		"showtime_id":    b.ShowtimeID,
		"method":         b.Method,
		"payment_status": b.PaymentStatus,
		"booking_status": b.BookingStatus,
		"total_amount":   b.TotalAmount,
	}
	return a.LogEvent(ctx, "booking."+string(b.BookingStatus), b.UserID, data)
}

func (a *AuditLogger) LogSettlement(ctx context.Context, userID uuid.UUID, txn domain.WalletTransaction) error {
	data := map[string]interface{}{
		"transaction_id":    txn.ID,
		"account_id":        txn.AccountID,
		"type":              txn.Type,
		"amount":            txn.Amount,
		"resulting_balance": txn.ResultingBalance,
	}
	return a.LogEvent(ctx, "wallet."+string(txn.Type), userID, data)
}
