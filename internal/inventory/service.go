// Package inventory owns the SeatHold lifecycle: it is the only component
// that creates, confirms, reassigns, or releases holds.
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateHold(ctx context.Context, tx pgx.Tx, hold domain.SeatHold) error
	GetHold(ctx context.Context, holdID uuid.UUID) (domain.SeatHold, error)
	ReleaseHold(ctx context.Context, holdID uuid.UUID) error
	ConfirmHold(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, now time.Time) (domain.SeatHold, error)
	ReassignSeats(ctx context.Context, tx pgx.Tx, fromHoldID uuid.UUID, seatIDs []string, to domain.SeatHold) error
}

// SeatLocker is the Redis fast path. It is advisory: the database unique
// index decides races, the locker just rejects doomed attempts cheaply.
type SeatLocker interface {
	SetSeatLock(ctx context.Context, showtimeID, seatID, holderID string, ttl time.Duration) (bool, error)
	ReleaseSeatLock(ctx context.Context, showtimeID, seatID string) error
}

type Service struct {
	repo    Repository
	locks   SeatLocker
	holdTTL time.Duration
	logger  observability.Logger
}

func NewService(repo Repository, locks SeatLocker, holdTTL time.Duration, logger observability.Logger) *Service {
	return &Service{repo: repo, locks: locks, holdTTL: holdTTL, logger: logger}
}

// Hold atomically claims all requested seats for the holder, or none of
// them. Concurrent overlapping requests produce exactly one winner; every
// loser gets ErrSeatConflict and must re-read availability before retrying.
func (s *Service) Hold(ctx context.Context, showtimeID uuid.UUID, seatIDs []string, holderID uuid.UUID) (domain.SeatHold, error) {
	if len(seatIDs) == 0 {
		return domain.SeatHold{}, domain.ErrInvalidInput
	}
	seen := make(map[string]bool, len(seatIDs))
	for _, id := range seatIDs {
		if id == "" || seen[id] {
			return domain.SeatHold{}, domain.ErrInvalidInput
		}
		seen[id] = true
	}

	hold := domain.NewSeatHold(showtimeID, seatIDs, holderID, s.holdTTL)

	if s.locks != nil {
		var acquired []string
		for _, seat := range seatIDs {
			ok, err := s.locks.SetSeatLock(ctx, showtimeID.String(), seat, holderID.String(), s.holdTTL)
			if err != nil {
				// Fast path only; the database decides the race.
				s.logger.Warn("seat lock fast path unavailable: ", err)
				break
			}
			if !ok {
				for _, held := range acquired {
					_ = s.locks.ReleaseSeatLock(ctx, showtimeID.String(), held)
				}
				observability.HoldsTotal.WithLabelValues("conflict").Inc()
				return domain.SeatHold{}, domain.ErrSeatConflict
			}
			acquired = append(acquired, seat)
		}
	}

	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		return s.repo.CreateHold(ctx, tx, hold)
	})
	if err != nil {
		s.unlockSeats(ctx, hold)
		if err == domain.ErrSeatConflict || err == domain.ErrSerializationFailure {
			observability.HoldsTotal.WithLabelValues("conflict").Inc()
			return domain.SeatHold{}, domain.ErrSeatConflict
		}
		observability.HoldsTotal.WithLabelValues("error").Inc()
		return domain.SeatHold{}, err
	}

	observability.HoldsTotal.WithLabelValues("created").Inc()
	return hold, nil
}

func (s *Service) Get(ctx context.Context, holdID uuid.UUID) (domain.SeatHold, error) {
	return s.repo.GetHold(ctx, holdID)
}

// Release is idempotent: releasing an already-released hold is a no-op.
func (s *Service) Release(ctx context.Context, holdID uuid.UUID) error {
	hold, err := s.repo.GetHold(ctx, holdID)
	if err == domain.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.repo.ReleaseHold(ctx, holdID); err != nil {
		return err
	}
	s.unlockSeats(ctx, hold)
	return nil
}

// ConfirmTx transitions the hold to CONFIRMED inside the caller's
// transaction, so a booking insert and its hold confirmation commit or
// roll back together.
func (s *Service) ConfirmTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) (domain.SeatHold, error) {
	return s.repo.ConfirmHold(ctx, tx, holdID, time.Now())
}

// PlaceTx inserts a pre-built hold (an invite hold) inside the caller's
// transaction, with the same all-or-nothing conflict semantics as Hold.
func (s *Service) PlaceTx(ctx context.Context, tx pgx.Tx, hold domain.SeatHold) error {
	if len(hold.SeatIDs) == 0 {
		return domain.ErrInvalidInput
	}
	return s.repo.CreateHold(ctx, tx, hold)
}

// ReassignTx moves a seat subset between holds inside the caller's
// transaction. Group invite claims and claim rollbacks go through here.
func (s *Service) ReassignTx(ctx context.Context, tx pgx.Tx, fromHoldID uuid.UUID, seatIDs []string, to domain.SeatHold) error {
	if len(seatIDs) == 0 {
		return domain.ErrInvalidInput
	}
	return s.repo.ReassignSeats(ctx, tx, fromHoldID, seatIDs, to)
}

func (s *Service) unlockSeats(ctx context.Context, hold domain.SeatHold) {
	if s.locks == nil {
		return
	}
	for _, seat := range hold.SeatIDs {
		if err := s.locks.ReleaseSeatLock(ctx, hold.ShowtimeID.String(), seat); err != nil {
			s.logger.Warn("failed to release seat lock: ", err)
		}
	}
}
