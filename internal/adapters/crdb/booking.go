package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/domain"
)

func (r *Repository) CreateBooking(ctx context.Context, tx pgx.Tx, b domain.Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (id, showtime_id, user_id, hold_id, idempotency_key, method,
			gateway_order_id, payment_status, booking_status, total_amount, discount, group_invite_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, b.ID, b.ShowtimeID, b.UserID, b.HoldID, b.IdempotencyKey, b.Method,
		nullable(b.GatewayOrderID), b.PaymentStatus, b.BookingStatus, b.TotalAmount, b.Discount, b.GroupInviteID, b.CreatedAt)
	if err != nil {
		return err
	}

	// A pgx.Tx serializes on one connection, so the seat rows go in one by one.
	for _, seat := range b.Seats {
		if _, err := tx.Exec(ctx, `
			INSERT INTO booking_seats (booking_id, seat_id, tier, price)
			VALUES ($1, $2, $3, $4)
		`, b.ID, seat.ID, seat.Tier, seat.Price); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) UpdateBookingStatus(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, payment domain.PaymentStatus, booking domain.BookingStatus) error {
	result, err := tx.Exec(ctx, `
		UPDATE bookings SET payment_status = $2, booking_status = $3 WHERE id = $1
	`, bookingID, payment, booking)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return r.getBooking(ctx, `WHERE id = $1`, bookingID)
}

func (r *Repository) GetBookingByOrderID(ctx context.Context, orderID string) (*domain.Booking, error) {
	return r.getBooking(ctx, `WHERE gateway_order_id = $1`, orderID)
}

func (r *Repository) GetBookingByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error) {
	return r.getBooking(ctx, `WHERE idempotency_key = $1`, key)
}

func (r *Repository) GetBookingByHoldID(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error) {
	return r.getBooking(ctx, `WHERE hold_id = $1`, holdID)
}

func (r *Repository) getBooking(ctx context.Context, where string, arg interface{}) (*domain.Booking, error) {
	var b domain.Booking
	var orderID *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, showtime_id, user_id, hold_id, idempotency_key, method, gateway_order_id,
			payment_status, booking_status, total_amount, discount, group_invite_id, created_at
		FROM bookings `+where, arg).Scan(
		&b.ID, &b.ShowtimeID, &b.UserID, &b.HoldID, &b.IdempotencyKey, &b.Method, &orderID,
		&b.PaymentStatus, &b.BookingStatus, &b.TotalAmount, &b.Discount, &b.GroupInviteID, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if orderID != nil {
		b.GatewayOrderID = *orderID
	}

	rows, err := r.pool.Query(ctx, `
		SELECT seat_id, tier, price FROM booking_seats WHERE booking_id = $1 ORDER BY seat_id
	`, b.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seat domain.Seat
		if err := rows.Scan(&seat.ID, &seat.Tier, &seat.Price); err != nil {
			return nil, err
		}
		b.Seats = append(b.Seats, seat)
	}
	return &b, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
