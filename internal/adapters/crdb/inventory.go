package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/domain"
)

// CreateHold inserts one row per seat inside the caller's transaction. The
// partial unique index on (showtime_id, seat_id) WHERE status != 'RELEASED'
// is the exclusivity authority: either every seat row inserts or the whole
// transaction rolls back with ErrSeatConflict.
//
// Expired rows on the requested seats are released first in the same
// transaction, so a lapsed hold never blocks a new one.
func (r *Repository) CreateHold(ctx context.Context, tx pgx.Tx, hold domain.SeatHold) error {
	_, err := tx.Exec(ctx, `
		UPDATE seat_holds SET status = 'RELEASED'
		WHERE showtime_id = $1 AND seat_id = ANY($2) AND status = 'ACTIVE' AND expires_at <= $3
	`, hold.ShowtimeID, hold.SeatIDs, time.Now())
	if err != nil {
		return err
	}

	for _, seat := range hold.SeatIDs {
		result, err := tx.Exec(ctx, `
			INSERT INTO seat_holds (id, showtime_id, seat_id, holder_id, kind, status, expires_at)
			VALUES ($1, $2, $3, $4, $5, 'ACTIVE', $6)
			ON CONFLICT (showtime_id, seat_id) WHERE status != 'RELEASED' DO NOTHING
			RETURNING id
		`, hold.ID, hold.ShowtimeID, seat, hold.HolderID, hold.Kind, hold.ExpiresAt)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrSeatConflict
		}
	}
	return nil
}

func (r *Repository) GetHold(ctx context.Context, holdID uuid.UUID) (domain.SeatHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT showtime_id, seat_id, holder_id, kind, status, expires_at
		FROM seat_holds WHERE id = $1 ORDER BY seat_id
	`, holdID)
	if err != nil {
		return domain.SeatHold{}, err
	}
	defer rows.Close()

	hold := domain.SeatHold{ID: holdID}
	for rows.Next() {
		var seatID string
		if err := rows.Scan(&hold.ShowtimeID, &seatID, &hold.HolderID, &hold.Kind, &hold.Status, &hold.ExpiresAt); err != nil {
			return domain.SeatHold{}, err
		}
		hold.SeatIDs = append(hold.SeatIDs, seatID)
	}
	if len(hold.SeatIDs) == 0 {
		return domain.SeatHold{}, domain.ErrNotFound
	}
	return hold, nil
}

// ReleaseHold is idempotent: releasing a released or unknown hold is a no-op.
func (r *Repository) ReleaseHold(ctx context.Context, holdID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE seat_holds SET status = 'RELEASED' WHERE id = $1 AND status = 'ACTIVE'
	`, holdID)
	return err
}

// ConfirmHold transitions every active, unexpired row of the hold to
// CONFIRMED and returns the confirmed hold. ErrHoldExpired if the TTL
// lapsed, ErrInvalidState if the hold was released or already confirmed.
func (r *Repository) ConfirmHold(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, now time.Time) (domain.SeatHold, error) {
	result, err := tx.Exec(ctx, `
		UPDATE seat_holds SET status = 'CONFIRMED'
		WHERE id = $1 AND status = 'ACTIVE' AND expires_at > $2
	`, holdID, now)
	if err != nil {
		return domain.SeatHold{}, err
	}
	if result.RowsAffected() == 0 {
		var status domain.HoldStatus
		var expiresAt time.Time
		err := tx.QueryRow(ctx, `
			SELECT status, expires_at FROM seat_holds WHERE id = $1 LIMIT 1
		`, holdID).Scan(&status, &expiresAt)
		if err == pgx.ErrNoRows {
			return domain.SeatHold{}, domain.ErrNotFound
		}
		if err != nil {
			return domain.SeatHold{}, err
		}
		if status == domain.HoldActive && !now.Before(expiresAt) {
			return domain.SeatHold{}, domain.ErrHoldExpired
		}
		return domain.SeatHold{}, domain.ErrInvalidState
	}

	rows, err := tx.Query(ctx, `
		SELECT showtime_id, seat_id, holder_id, kind, expires_at
		FROM seat_holds WHERE id = $1 ORDER BY seat_id
	`, holdID)
	if err != nil {
		return domain.SeatHold{}, err
	}
	defer rows.Close()

	hold := domain.SeatHold{ID: holdID, Status: domain.HoldConfirmed}
	for rows.Next() {
		var seatID string
		if err := rows.Scan(&hold.ShowtimeID, &seatID, &hold.HolderID, &hold.Kind, &hold.ExpiresAt); err != nil {
			return domain.SeatHold{}, err
		}
		hold.SeatIDs = append(hold.SeatIDs, seatID)
	}
	return hold, nil
}

// ReassignSeats moves a seat subset from one active hold to a new hold in a
// single statement. Used when a group-invite participant claims seats from
// the invite pool, and to hand seats back when a claim fails. All requested
// seats must still be active under the source hold.
func (r *Repository) ReassignSeats(ctx context.Context, tx pgx.Tx, fromHoldID uuid.UUID, seatIDs []string, to domain.SeatHold) error {
	result, err := tx.Exec(ctx, `
		UPDATE seat_holds SET id = $1, holder_id = $2, kind = $3, expires_at = $4
		WHERE id = $5 AND seat_id = ANY($6) AND status = 'ACTIVE' AND expires_at > $7
	`, to.ID, to.HolderID, to.Kind, to.ExpiresAt, fromHoldID, seatIDs, time.Now())
	if err != nil {
		return err
	}
	if result.RowsAffected() != int64(len(seatIDs)) {
		return domain.ErrSeatConflict
	}
	return nil
}

func (r *Repository) GetExpiredHolds(ctx context.Context, now time.Time) ([]domain.SeatHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, showtime_id, seat_id, holder_id, kind, expires_at
		FROM seat_holds WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []domain.SeatHold
	var current *domain.SeatHold
	for rows.Next() {
		var id, showtimeID, holderID uuid.UUID
		var seatID string
		var kind domain.HoldKind
		var expiresAt time.Time
		if err := rows.Scan(&id, &showtimeID, &seatID, &holderID, &kind, &expiresAt); err != nil {
			return nil, err
		}
		if current == nil || current.ID != id {
			if current != nil {
				holds = append(holds, *current)
			}
			current = &domain.SeatHold{
				ID:         id,
				ShowtimeID: showtimeID,
				HolderID:   holderID,
				Kind:       kind,
				Status:     domain.HoldActive,
				ExpiresAt:  expiresAt,
			}
		}
		current.SeatIDs = append(current.SeatIDs, seatID)
	}
	if current != nil {
		holds = append(holds, *current)
	}
	return holds, nil
}
