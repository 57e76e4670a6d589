package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
)

// Sweeper reclaims expired holds and invites on a timer. Expiry is also
// applied lazily on access, so the sweep is a janitor, not a correctness
// requirement: it frees seats and cancels stranded AwaitingPayment bookings
// whose gateway callback never arrived.
type Sweeper struct {
	store  Store
	inv    Inventory
	now    func() time.Time
	logger observability.Logger
}

func NewSweeper(store Store, inv Inventory, logger observability.Logger) *Sweeper {
	return &Sweeper{store: store, inv: inv, now: time.Now, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep: ", err)
			}
		}
	}
}

// Sweep runs one pass. Exported so a sweep can be driven explicitly.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()

	holds, err := s.store.GetExpiredHolds(ctx, now)
	if err != nil {
		return err
	}
	for _, hold := range holds {
		if err := s.withRetry(ctx, func() error {
			return s.reclaimHold(ctx, hold)
		}); err != nil {
			s.logger.WithField("hold_id", hold.ID).Error("reclaim expired hold: ", err)
		}
	}

	invites, err := s.store.GetExpiredInvites(ctx, now)
	if err != nil {
		return err
	}
	for _, inv := range invites {
		inv := inv
		if err := s.withRetry(ctx, func() error {
			return s.expireInvite(ctx, inv)
		}); err != nil {
			s.logger.WithField("invite_id", inv.ID).Error("expire invite: ", err)
		}
	}
	return nil
}

func (s *Sweeper) reclaimHold(ctx context.Context, hold domain.SeatHold) error {
	// Invite holds live until the invite deadline and are reclaimed by the
	// invite pass below, together with the invite's status transition.
	if hold.Kind == domain.HoldKindInvite {
		return nil
	}

	b, err := s.store.GetBookingByHoldID(ctx, hold.ID)
	if err != nil && err != domain.ErrNotFound {
		return err
	}

	if b != nil && b.BookingStatus == domain.BookingPending {
		// A participant claim that lapsed goes back to the invite pool while
		// the invite is still open, rather than onto the open market.
		var inv *domain.GroupInvite
		if b.GroupInviteID != nil {
			var ierr error
			inv, ierr = s.store.GetInvite(ctx, *b.GroupInviteID)
			if ierr != nil {
				return ierr
			}
			if b.UserID != inv.HostID && (inv.Status == domain.InvitePending || inv.Status == domain.InvitePartial) {
				return s.returnLapsedClaim(ctx, b, hold, inv)
			}
		}
		if err := s.cancelPendingBooking(ctx, b, inv); err != nil {
			return err
		}
	}

	if err := s.inv.Release(ctx, hold.ID); err != nil {
		return err
	}
	observability.ExpiredHoldsReleased.Inc()
	return nil
}

func (s *Sweeper) returnLapsedClaim(ctx context.Context, b *domain.Booking, hold domain.SeatHold, inv *domain.GroupInvite) error {
	back := domain.SeatHold{
		ID:        inv.HoldID,
		HolderID:  inv.ID,
		Kind:      domain.HoldKindInvite,
		ExpiresAt: inv.Deadline,
	}
	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		// The rows are expired, so ReassignTx would refuse them; refresh the
		// expiry as part of handing them back.
		if err := s.inv.ReassignTx(ctx, tx, hold.ID, hold.SeatIDs, back); err != nil {
			return err
		}
		if err := s.store.UpdateBookingStatus(ctx, tx, b.ID, domain.PaymentFailed, domain.BookingCancelled); err != nil {
			return err
		}
		if err := s.store.UpdateInviteParticipantStatus(ctx, tx, inv.ID, b.UserID, domain.PaymentFailed); err != nil {
			return err
		}
		return s.store.InsertOutbox(ctx, tx, newOutboxRecord("booking", b.ID, "booking.cancelled", map[string]interface{}{
			"booking_id": b.ID,
			"user_id":    b.UserID,
		}))
	})
}

func (s *Sweeper) cancelPendingBooking(ctx context.Context, b *domain.Booking, inv *domain.GroupInvite) error {
	var inviteHoldID uuid.UUID
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.UpdateBookingStatus(ctx, tx, b.ID, domain.PaymentFailed, domain.BookingCancelled); err != nil {
			return err
		}
		if inv != nil {
			if err := s.store.UpdateInviteParticipantStatus(ctx, tx, inv.ID, b.UserID, domain.PaymentFailed); err != nil && err != domain.ErrNotFound {
				return err
			}
			// The host never paid, so the whole invite dies with them.
			if b.UserID == inv.HostID && inv.Status != domain.InviteExpired {
				if err := s.store.UpdateInviteStatus(ctx, tx, inv.ID, domain.InviteExpired); err != nil {
					return err
				}
				inviteHoldID = inv.HoldID
			}
		}
		return s.store.InsertOutbox(ctx, tx, newOutboxRecord("booking", b.ID, "booking.cancelled", map[string]interface{}{
			"booking_id": b.ID,
			"user_id":    b.UserID,
		}))
	})
	if err != nil {
		return err
	}
	if inviteHoldID != uuid.Nil {
		if rerr := s.inv.Release(ctx, inviteHoldID); rerr != nil {
			s.logger.Error("release invite hold after host lapse: ", rerr)
		}
	}
	return nil
}

func (s *Sweeper) expireInvite(ctx context.Context, inv domain.GroupInvite) error {
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.UpdateInviteStatus(ctx, tx, inv.ID, domain.InviteExpired); err != nil {
			return err
		}
		return s.store.InsertOutbox(ctx, tx, newOutboxRecord("invite", inv.ID, "invite.expired", map[string]interface{}{
			"invite_id":   inv.ID,
			"showtime_id": inv.ShowtimeID,
		}))
	})
	if err != nil {
		return err
	}
	return s.inv.Release(ctx, inv.HoldID)
}

func (s *Sweeper) withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
