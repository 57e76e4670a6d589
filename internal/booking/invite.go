package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/payment"
)

type JoinRequest struct {
	InviteID       uuid.UUID
	SeatIDs        []string
	UserID         uuid.UUID
	Method         payment.SettlementMethod
	IdempotencyKey string
}

type JoinOutcome struct {
	Booking        *domain.Booking
	Share          int64
	InviteStatus   domain.InviteStatus
	PaymentStatus  domain.PaymentStatus
	GatewayOrderID string
}

// JoinInvite claims a disjoint seat subset from an open group invite and
// settles the claimant's proportional share. Each participant gets their
// own hold, so the inventory's all-or-nothing guarantee applies per claim.
func (f *Finalizer) JoinInvite(ctx context.Context, req JoinRequest) (JoinOutcome, error) {
	if req.IdempotencyKey == "" || len(req.SeatIDs) == 0 {
		return JoinOutcome{}, domain.ErrInvalidInput
	}

	if existing, err := f.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return f.joinOutcomeFor(ctx, existing)
	} else if err != domain.ErrNotFound {
		return JoinOutcome{}, err
	}

	inv, err := f.store.GetInvite(ctx, req.InviteID)
	if err != nil {
		return JoinOutcome{}, err
	}
	now := f.now()
	switch {
	case inv.Status == domain.InviteFilled || inv.Status == domain.InviteExpired:
		return JoinOutcome{}, domain.ErrInvalidState
	case !inv.HostPaid():
		return JoinOutcome{}, domain.ErrInvalidState
	case !now.Before(inv.Deadline):
		return JoinOutcome{}, domain.ErrShowtimeExpired
	case req.UserID == inv.HostID:
		return JoinOutcome{}, domain.ErrInvalidInput
	}

	inviteHold, err := f.inv.Get(ctx, inv.HoldID)
	if err != nil {
		return JoinOutcome{}, err
	}
	open := make(map[string]bool, len(inviteHold.SeatIDs))
	for _, id := range inviteHold.SeatIDs {
		open[id] = true
	}
	for _, id := range req.SeatIDs {
		if !open[id] {
			return JoinOutcome{}, domain.ErrSeatConflict
		}
	}

	// All pricing happens before any seat moves or money: from here on the
	// catalog is never consulted again.
	seatMap, err := f.catalog.GetShowtimeSeatMap(ctx, inv.ShowtimeID)
	if err != nil {
		return JoinOutcome{}, err
	}
	seats, err := priceSeats(seatMap, req.SeatIDs)
	if err != nil {
		return JoinOutcome{}, err
	}
	share, err := participantShare(seatMap, f.fees, inv, inviteHold, req.SeatIDs)
	if err != nil {
		return JoinOutcome{}, err
	}

	// Move the claimed seats onto the participant's own short-TTL hold.
	claim := domain.NewSeatHold(inv.ShowtimeID, req.SeatIDs, req.UserID, f.holdTTL)
	err = f.store.WithTx(ctx, func(tx pgx.Tx) error {
		return f.inv.ReassignTx(ctx, tx, inv.HoldID, req.SeatIDs, claim)
	})
	if err != nil {
		if err == domain.ErrSerializationFailure {
			err = domain.ErrSeatConflict
		}
		return JoinOutcome{}, err
	}

	result, err := f.payments.Settle(ctx, share, req.Method, req.IdempotencyKey)
	if err != nil {
		f.returnClaim(ctx, claim, inv)
		return JoinOutcome{}, err
	}

	b := domain.Booking{
		ID:             uuid.New(),
		ShowtimeID:     inv.ShowtimeID,
		UserID:         req.UserID,
		HoldID:         claim.ID,
		Seats:          seats,
		IdempotencyKey: req.IdempotencyKey,
		Method:         result.Method,
		GatewayOrderID: result.OrderID,
		TotalAmount:    share,
		Discount:       0,
		GroupInviteID:  &inv.ID,
		CreatedAt:      now,
	}

	participant := domain.InviteParticipant{
		UserID:  req.UserID,
		SeatIDs: req.SeatIDs,
		Share:   share,
	}

	if result.Status == domain.PaymentPending {
		b.PaymentStatus = domain.PaymentPending
		b.BookingStatus = domain.BookingPending
		participant.PaymentStatus = domain.PaymentPending
		err := f.store.WithTx(ctx, func(tx pgx.Tx) error {
			if err := f.store.CreateBooking(ctx, tx, b); err != nil {
				return err
			}
			return f.store.AddInviteParticipant(ctx, tx, inv.ID, participant)
		})
		if err != nil {
			return f.joinFailed(ctx, err, req, b, claim, inv, result)
		}
		return JoinOutcome{
			Booking:        &b,
			Share:          share,
			InviteStatus:   inv.Status,
			PaymentStatus:  domain.PaymentPending,
			GatewayOrderID: result.OrderID,
		}, nil
	}

	b.PaymentStatus = domain.PaymentCompleted
	b.BookingStatus = domain.BookingConfirmed
	participant.PaymentStatus = domain.PaymentCompleted

	status := domain.InvitePartial
	if inv.PaidSeats()+len(req.SeatIDs) >= inv.TotalSeats {
		status = domain.InviteFilled
	}

	err = f.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := f.inv.ConfirmTx(ctx, tx, claim.ID); err != nil {
			return err
		}
		if err := f.store.CreateBooking(ctx, tx, b); err != nil {
			return err
		}
		if err := f.store.AddInviteParticipant(ctx, tx, inv.ID, participant); err != nil {
			return err
		}
		if err := f.store.UpdateInviteStatus(ctx, tx, inv.ID, status); err != nil {
			return err
		}
		return f.store.InsertOutbox(ctx, tx, newOutboxRecord("invite", inv.ID, "invite.participant_joined", map[string]interface{}{
			"invite_id":  inv.ID,
			"booking_id": b.ID,
			"user_id":    req.UserID,
			"share":      share,
			"status":     status,
		}))
	})
	if err != nil {
		return f.joinFailed(ctx, err, req, b, claim, inv, result)
	}

	return JoinOutcome{
		Booking:       &b,
		Share:         share,
		InviteStatus:  status,
		PaymentStatus: domain.PaymentCompleted,
	}, nil
}

// participantShare reprices the whole invite seat set and applies the same
// proportional split the host's settlement used, so the shares of every
// participant sum to the invite total.
func participantShare(seatMap *domain.ShowtimeSeatMap, fees domain.FeeSchedule, inv *domain.GroupInvite, inviteHold domain.SeatHold, claimed []string) (int64, error) {
	var allIDs []string
	var hostIDs []string
	for _, p := range inv.Participants {
		allIDs = append(allIDs, p.SeatIDs...)
		if p.UserID == inv.HostID {
			hostIDs = p.SeatIDs
		}
	}
	allIDs = append(allIDs, inviteHold.SeatIDs...)
	if len(hostIDs) == 0 {
		return 0, domain.ErrInvalidState
	}

	allSeats, err := priceSeats(seatMap, allIDs)
	if err != nil {
		return 0, err
	}
	split, err := domain.SplitShares(allSeats, inv.Discount, fees, hostIDs)
	if err != nil {
		return 0, err
	}
	return split.Share(claimed), nil
}

// returnClaim hands a failed claim's seats back to the invite pool instead
// of releasing them to the public.
func (f *Finalizer) returnClaim(ctx context.Context, claim domain.SeatHold, inv *domain.GroupInvite) {
	back := domain.SeatHold{
		ID:        inv.HoldID,
		HolderID:  inv.ID,
		Kind:      domain.HoldKindInvite,
		ExpiresAt: inv.Deadline,
	}
	err := f.store.WithTx(ctx, func(tx pgx.Tx) error {
		return f.inv.ReassignTx(ctx, tx, claim.ID, claim.SeatIDs, back)
	})
	if err != nil {
		f.logger.Error("return claimed seats to invite: ", err)
		// Last resort so a payment failure never leaves the seats pinned.
		if rerr := f.inv.Release(ctx, claim.ID); rerr != nil {
			f.logger.Error("release claim hold: ", rerr)
		}
	}
}

func (f *Finalizer) joinFailed(ctx context.Context, err error, req JoinRequest, b domain.Booking, claim domain.SeatHold, inv *domain.GroupInvite, result payment.Result) (JoinOutcome, error) {
	if err == domain.ErrDuplicateRequest {
		if existing, gerr := f.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey); gerr == nil {
			return f.joinOutcomeFor(ctx, existing)
		}
	}
	f.returnClaim(ctx, claim, inv)

	// The failure is recorded under the key before the money goes back.
	// Refunding an unrecorded attempt would let a replay of the same key
	// settle against the refunded debit without moving money.
	b.PaymentStatus = domain.PaymentFailed
	b.BookingStatus = domain.BookingCancelled
	recErr := f.store.WithTx(ctx, func(tx pgx.Tx) error {
		return f.store.CreateBooking(ctx, tx, b)
	})
	if recErr == domain.ErrDuplicateRequest {
		// A concurrent attempt with the same key committed; its row wins
		// and the shared debit belongs to it.
		if existing, gerr := f.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey); gerr == nil {
			return f.joinOutcomeFor(ctx, existing)
		}
	}
	if recErr != nil {
		f.logger.Error("record failed join: ", recErr)
		return JoinOutcome{}, err
	}
	if result.Transaction != nil {
		if _, rerr := f.payments.Refund(ctx, result.Transaction.AccountID, result.Transaction.Amount, "refund:"+req.IdempotencyKey); rerr != nil {
			f.logger.Error("refund after failed join: ", rerr)
		}
	}
	return JoinOutcome{}, err
}

func (f *Finalizer) joinOutcomeFor(ctx context.Context, b *domain.Booking) (JoinOutcome, error) {
	out := JoinOutcome{
		Booking:        b,
		Share:          b.TotalAmount,
		PaymentStatus:  b.PaymentStatus,
		GatewayOrderID: b.GatewayOrderID,
	}
	if b.GroupInviteID != nil {
		inv, err := f.store.GetInvite(ctx, *b.GroupInviteID)
		if err != nil {
			return JoinOutcome{}, err
		}
		out.InviteStatus = inv.Status
	}
	return out, nil
}

// recomputeInviteStatusTx refreshes the invite status after a participant's
// gateway payment confirms. The participant row updated earlier in the same
// transaction is not yet visible to the pool-level read, so their seats are
// counted explicitly.
func (f *Finalizer) recomputeInviteStatusTx(ctx context.Context, tx pgx.Tx, inviteID, justPaid uuid.UUID, justPaidSeats int) error {
	inv, err := f.store.GetInvite(ctx, inviteID)
	if err != nil {
		return err
	}
	paid := justPaidSeats
	joined := justPaid != inv.HostID
	for _, p := range inv.Participants {
		if p.UserID == justPaid {
			continue
		}
		if p.PaymentStatus == domain.PaymentCompleted {
			paid += len(p.SeatIDs)
			if p.UserID != inv.HostID {
				joined = true
			}
		}
	}
	status := domain.InvitePending
	switch {
	case paid >= inv.TotalSeats:
		status = domain.InviteFilled
	case joined:
		status = domain.InvitePartial
	}
	return f.store.UpdateInviteStatus(ctx, tx, inviteID, status)
}
