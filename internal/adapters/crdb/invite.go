package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/domain"
)

func (r *Repository) CreateInvite(ctx context.Context, tx pgx.Tx, inv domain.GroupInvite) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO group_invites (id, showtime_id, host_id, hold_id, total_seats, total_amount, discount, status, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inv.ID, inv.ShowtimeID, inv.HostID, inv.HoldID, inv.TotalSeats, inv.TotalAmount, inv.Discount, inv.Status, inv.Deadline)
	if err != nil {
		return err
	}
	for _, p := range inv.Participants {
		if err := r.AddInviteParticipant(ctx, tx, inv.ID, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) AddInviteParticipant(ctx context.Context, tx pgx.Tx, inviteID uuid.UUID, p domain.InviteParticipant) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO group_invite_participants (invite_id, user_id, seat_ids, share, payment_status)
		VALUES ($1, $2, $3, $4, $5)
	`, inviteID, p.UserID, p.SeatIDs, p.Share, p.PaymentStatus)
	return err
}

func (r *Repository) UpdateInviteParticipantStatus(ctx context.Context, tx pgx.Tx, inviteID, userID uuid.UUID, status domain.PaymentStatus) error {
	result, err := tx.Exec(ctx, `
		UPDATE group_invite_participants SET payment_status = $3 WHERE invite_id = $1 AND user_id = $2
	`, inviteID, userID, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateInviteStatus(ctx context.Context, tx pgx.Tx, inviteID uuid.UUID, status domain.InviteStatus) error {
	result, err := tx.Exec(ctx, `
		UPDATE group_invites SET status = $2 WHERE id = $1
	`, inviteID, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) GetInvite(ctx context.Context, inviteID uuid.UUID) (*domain.GroupInvite, error) {
	var inv domain.GroupInvite
	err := r.pool.QueryRow(ctx, `
		SELECT id, showtime_id, host_id, hold_id, total_seats, total_amount, discount, status, deadline
		FROM group_invites WHERE id = $1
	`, inviteID).Scan(&inv.ID, &inv.ShowtimeID, &inv.HostID, &inv.HoldID, &inv.TotalSeats,
		&inv.TotalAmount, &inv.Discount, &inv.Status, &inv.Deadline)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, seat_ids, share, payment_status
		FROM group_invite_participants WHERE invite_id = $1 ORDER BY user_id
	`, inviteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.InviteParticipant
		if err := rows.Scan(&p.UserID, &p.SeatIDs, &p.Share, &p.PaymentStatus); err != nil {
			return nil, err
		}
		inv.Participants = append(inv.Participants, p)
	}
	return &inv, nil
}

// GetExpiredInvites returns open invites whose deadline has passed.
func (r *Repository) GetExpiredInvites(ctx context.Context, now time.Time) ([]domain.GroupInvite, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, showtime_id, host_id, hold_id, total_seats, total_amount, discount, status, deadline
		FROM group_invites WHERE status IN ('PENDING', 'PARTIAL') AND deadline <= $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []domain.GroupInvite
	for rows.Next() {
		var inv domain.GroupInvite
		if err := rows.Scan(&inv.ID, &inv.ShowtimeID, &inv.HostID, &inv.HoldID, &inv.TotalSeats,
			&inv.TotalAmount, &inv.Discount, &inv.Status, &inv.Deadline); err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, nil
}
