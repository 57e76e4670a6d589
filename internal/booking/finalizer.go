// Package booking ties seat holds, payment results, and group invites into
// committed booking records, and runs the compensating actions when any
// step of that pipeline fails.
package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/adapters/crdb"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/payment"
	"github.com/showgrid/booking-engine/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateBooking(ctx context.Context, tx pgx.Tx, b domain.Booking) error
	UpdateBookingStatus(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, payment domain.PaymentStatus, booking domain.BookingStatus) error
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	GetBookingByOrderID(ctx context.Context, orderID string) (*domain.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error)
	GetBookingByHoldID(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error)
	CreateInvite(ctx context.Context, tx pgx.Tx, inv domain.GroupInvite) error
	GetInvite(ctx context.Context, inviteID uuid.UUID) (*domain.GroupInvite, error)
	AddInviteParticipant(ctx context.Context, tx pgx.Tx, inviteID uuid.UUID, p domain.InviteParticipant) error
	UpdateInviteParticipantStatus(ctx context.Context, tx pgx.Tx, inviteID, userID uuid.UUID, status domain.PaymentStatus) error
	UpdateInviteStatus(ctx context.Context, tx pgx.Tx, inviteID uuid.UUID, status domain.InviteStatus) error
	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
	GetExpiredHolds(ctx context.Context, now time.Time) ([]domain.SeatHold, error)
	GetExpiredInvites(ctx context.Context, now time.Time) ([]domain.GroupInvite, error)
}

// Inventory is the seat-hold API this package composes with. The *Tx
// variants run inside the finalizer's transaction so a hold confirmation
// and its booking insert commit together.
type Inventory interface {
	Get(ctx context.Context, holdID uuid.UUID) (domain.SeatHold, error)
	Release(ctx context.Context, holdID uuid.UUID) error
	ConfirmTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) (domain.SeatHold, error)
	PlaceTx(ctx context.Context, tx pgx.Tx, hold domain.SeatHold) error
	ReassignTx(ctx context.Context, tx pgx.Tx, fromHoldID uuid.UUID, seatIDs []string, to domain.SeatHold) error
}

type Catalog interface {
	GetShowtimeSeatMap(ctx context.Context, showtimeID uuid.UUID) (*domain.ShowtimeSeatMap, error)
}

type Settler interface {
	Settle(ctx context.Context, amount int64, method payment.SettlementMethod, key string) (payment.Result, error)
	VerifyConfirmation(conf payment.GatewayConfirmation) error
	Refund(ctx context.Context, accountID uuid.UUID, amount int64, key string) (domain.WalletTransaction, error)
}

type Finalizer struct {
	store    Store
	inv      Inventory
	catalog  Catalog
	payments Settler
	fees     domain.FeeSchedule
	holdTTL  time.Duration
	cutoff   time.Duration
	now      func() time.Time
	logger   observability.Logger
}

func NewFinalizer(store Store, inv Inventory, catalog Catalog, payments Settler, fees domain.FeeSchedule, holdTTL, cutoff time.Duration, logger observability.Logger) *Finalizer {
	return &Finalizer{
		store:    store,
		inv:      inv,
		catalog:  catalog,
		payments: payments,
		fees:     fees,
		holdTTL:  holdTTL,
		cutoff:   cutoff,
		now:      time.Now,
		logger:   logger,
	}
}

type SettleRequest struct {
	HoldID         uuid.UUID
	UserID         uuid.UUID
	Method         payment.SettlementMethod
	IdempotencyKey string
	Discount       int64
	// InviteSeatIDs opens the listed extra seats as a group invite: the
	// caller pays for their held seats now, and these remain claimable by
	// other users until the invite deadline.
	InviteSeatIDs []string
}

type SettleOutcome struct {
	Booking        *domain.Booking
	Invite         *domain.GroupInvite
	PaymentStatus  domain.PaymentStatus
	GatewayOrderID string
}

// Settle drives a hold through payment to a committed booking. Payment
// failures release the hold before returning: a failed settlement never
// leaves a seat held.
func (f *Finalizer) Settle(ctx context.Context, req SettleRequest) (SettleOutcome, error) {
	if req.IdempotencyKey == "" {
		return SettleOutcome{}, domain.ErrInvalidInput
	}

	// A replayed key resolves to the prior outcome, not an error.
	if existing, err := f.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return f.outcomeFor(ctx, existing)
	} else if err != domain.ErrNotFound {
		return SettleOutcome{}, err
	}

	hold, err := f.inv.Get(ctx, req.HoldID)
	if err != nil {
		return SettleOutcome{}, err
	}
	now := f.now()
	if hold.Status != domain.HoldActive {
		return SettleOutcome{}, domain.ErrInvalidState
	}
	if hold.Expired(now) {
		return SettleOutcome{}, domain.ErrHoldExpired
	}
	if hold.HolderID != req.UserID {
		return SettleOutcome{}, domain.ErrInvalidState
	}

	seatMap, err := f.catalog.GetShowtimeSeatMap(ctx, hold.ShowtimeID)
	if err != nil {
		return SettleOutcome{}, err
	}
	deadline := seatMap.StartsAt.Add(-f.cutoff)
	if !now.Before(deadline) {
		_ = f.inv.Release(ctx, hold.ID)
		return SettleOutcome{}, domain.ErrShowtimeExpired
	}

	hostSeats, err := priceSeats(seatMap, hold.SeatIDs)
	if err != nil {
		return SettleOutcome{}, err
	}
	inviteSeats, err := priceSeats(seatMap, req.InviteSeatIDs)
	if err != nil {
		return SettleOutcome{}, err
	}
	for _, inviteSeat := range req.InviteSeatIDs {
		for _, held := range hold.SeatIDs {
			if inviteSeat == held {
				return SettleOutcome{}, domain.ErrInvalidInput
			}
		}
	}

	allSeats := append(append([]domain.Seat{}, hostSeats...), inviteSeats...)
	split, err := domain.SplitShares(allSeats, req.Discount, f.fees, hold.SeatIDs)
	if err != nil {
		return SettleOutcome{}, err
	}
	hostShare := split.Share(hold.SeatIDs)

	// For a group booking, claim the open seats before taking payment so a
	// seat conflict surfaces while the money is still untouched. The host's
	// own hold stays intact on conflict; they can retry with other seats.
	var invite *domain.GroupInvite
	var inviteHold domain.SeatHold
	if len(req.InviteSeatIDs) > 0 {
		inviteID := uuid.New()
		inviteHold = domain.NewInviteHold(hold.ShowtimeID, req.InviteSeatIDs, inviteID, deadline)
		err := f.store.WithTx(ctx, func(tx pgx.Tx) error {
			return f.inv.PlaceTx(ctx, tx, inviteHold)
		})
		if err != nil {
			if err == domain.ErrSerializationFailure {
				err = domain.ErrSeatConflict
			}
			return SettleOutcome{}, err
		}
		invite = &domain.GroupInvite{
			ID:          inviteID,
			ShowtimeID:  hold.ShowtimeID,
			HostID:      req.UserID,
			HoldID:      inviteHold.ID,
			TotalSeats:  len(allSeats),
			TotalAmount: split.FinalTotal,
			Discount:    req.Discount,
			Status:      domain.InvitePending,
			Deadline:    deadline,
		}
	}

	result, err := f.payments.Settle(ctx, hostShare, req.Method, req.IdempotencyKey)
	if err != nil {
		f.releaseAll(ctx, hold.ID, inviteHold)
		return SettleOutcome{}, err
	}

	b := domain.Booking{
		ID:             uuid.New(),
		ShowtimeID:     hold.ShowtimeID,
		UserID:         req.UserID,
		HoldID:         hold.ID,
		Seats:          hostSeats,
		IdempotencyKey: req.IdempotencyKey,
		Method:         result.Method,
		GatewayOrderID: result.OrderID,
		TotalAmount:    hostShare,
		Discount:       req.Discount,
		CreatedAt:      now,
	}
	if invite != nil {
		b.GroupInviteID = &invite.ID
	}

	if result.Status == domain.PaymentPending {
		// Gateway order opened; the booking parks in AwaitingPayment until
		// the signed callback lands or the hold TTL reclaims the seats.
		b.PaymentStatus = domain.PaymentPending
		b.BookingStatus = domain.BookingPending
		err := f.store.WithTx(ctx, func(tx pgx.Tx) error {
			if err := f.store.CreateBooking(ctx, tx, b); err != nil {
				return err
			}
			if invite != nil {
				invite.Participants = []domain.InviteParticipant{{
					UserID:        req.UserID,
					SeatIDs:       hold.SeatIDs,
					Share:         hostShare,
					PaymentStatus: domain.PaymentPending,
				}}
				return f.store.CreateInvite(ctx, tx, *invite)
			}
			return nil
		})
		if err != nil {
			return f.finalizeFailed(ctx, err, req, b, inviteHold, result)
		}
		return SettleOutcome{Booking: &b, Invite: invite, PaymentStatus: domain.PaymentPending, GatewayOrderID: result.OrderID}, nil
	}

	b.PaymentStatus = domain.PaymentCompleted
	b.BookingStatus = domain.BookingConfirmed
	err = f.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := f.inv.ConfirmTx(ctx, tx, hold.ID); err != nil {
			return err
		}
		if err := f.store.CreateBooking(ctx, tx, b); err != nil {
			return err
		}
		if invite != nil {
			invite.Participants = []domain.InviteParticipant{{
				UserID:        req.UserID,
				SeatIDs:       hold.SeatIDs,
				Share:         hostShare,
				PaymentStatus: domain.PaymentCompleted,
			}}
			if err := f.store.CreateInvite(ctx, tx, *invite); err != nil {
				return err
			}
		}
		return f.store.InsertOutbox(ctx, tx, newOutboxRecord("booking", b.ID, "booking.confirmed", map[string]interface{}{
			"booking_id": b.ID,
			"user_id":    b.UserID,
			"amount":     b.TotalAmount,
		}))
	})
	if err != nil {
		return f.finalizeFailed(ctx, err, req, b, inviteHold, result)
	}

	return SettleOutcome{Booking: &b, Invite: invite, PaymentStatus: domain.PaymentCompleted, GatewayOrderID: result.OrderID}, nil
}

// finalizeFailed compensates a settlement whose final commit did not land:
// holds are released so the seats free up, and a wallet debit is credited
// back. A concurrent duplicate of the same key instead resolves to the row
// the winner committed.
func (f *Finalizer) finalizeFailed(ctx context.Context, err error, req SettleRequest, b domain.Booking, inviteHold domain.SeatHold, result payment.Result) (SettleOutcome, error) {
	if err == domain.ErrDuplicateRequest {
		if existing, gerr := f.store.GetBookingByIdempotencyKey(ctx, req.IdempotencyKey); gerr == nil {
			return f.outcomeFor(ctx, existing)
		}
	}
	f.releaseAll(ctx, b.HoldID, inviteHold)

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
			return f.outcomeFor(ctx, existing)
		}
	}
	if recErr != nil {
		f.logger.Error("record failed settlement: ", recErr)
		return SettleOutcome{}, err
	}
	if result.Transaction != nil {
		if _, rerr := f.payments.Refund(ctx, result.Transaction.AccountID, result.Transaction.Amount, "refund:"+req.IdempotencyKey); rerr != nil {
			f.logger.Error("refund after failed finalize: ", rerr)
		}
	}
	return SettleOutcome{}, err
}

func (f *Finalizer) releaseAll(ctx context.Context, holdID uuid.UUID, inviteHold domain.SeatHold) {
	if err := f.inv.Release(ctx, holdID); err != nil {
		f.logger.Error("release hold after failure: ", err)
	}
	if inviteHold.ID != uuid.Nil {
		if err := f.inv.Release(ctx, inviteHold.ID); err != nil {
			f.logger.Error("release invite hold after failure: ", err)
		}
	}
}

// HandleGatewayCallback completes (or rejects) a gateway settlement. It is
// idempotent: a duplicate callback for a settled order returns the booking
// unchanged, and a late callback for an expired or cancelled hold is
// refused rather than resurrecting the booking.
func (f *Finalizer) HandleGatewayCallback(ctx context.Context, conf payment.GatewayConfirmation) (*domain.Booking, error) {
	if err := f.payments.VerifyConfirmation(conf); err != nil {
		return nil, err
	}

	b, err := f.store.GetBookingByOrderID(ctx, conf.OrderID)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus == domain.PaymentCompleted {
		return b, nil
	}
	if b.BookingStatus == domain.BookingCancelled {
		return nil, domain.ErrInvalidState
	}

	hold, err := f.inv.Get(ctx, b.HoldID)
	if err != nil {
		return nil, err
	}
	if hold.Status != domain.HoldActive || hold.Expired(f.now()) {
		if err := f.cancelPending(ctx, b); err != nil {
			f.logger.Error("cancel expired pending booking: ", err)
		}
		return nil, domain.ErrHoldExpired
	}

	err = f.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := f.inv.ConfirmTx(ctx, tx, b.HoldID); err != nil {
			return err
		}
		if err := f.store.UpdateBookingStatus(ctx, tx, b.ID, domain.PaymentCompleted, domain.BookingConfirmed); err != nil {
			return err
		}
		if b.GroupInviteID != nil {
			if err := f.store.UpdateInviteParticipantStatus(ctx, tx, *b.GroupInviteID, b.UserID, domain.PaymentCompleted); err != nil {
				return err
			}
			if err := f.recomputeInviteStatusTx(ctx, tx, *b.GroupInviteID, b.UserID, len(b.Seats)); err != nil {
				return err
			}
		}
		return f.store.InsertOutbox(ctx, tx, newOutboxRecord("booking", b.ID, "booking.confirmed", map[string]interface{}{
			"booking_id": b.ID,
			"user_id":    b.UserID,
			"amount":     b.TotalAmount,
		}))
	})
	if err != nil {
		return nil, err
	}

	b.PaymentStatus = domain.PaymentCompleted
	b.BookingStatus = domain.BookingConfirmed
	return b, nil
}

// HandleGatewayDecline cancels a pending gateway booking after the gateway
// reports the payment failed. Safe to call repeatedly.
func (f *Finalizer) HandleGatewayDecline(ctx context.Context, orderID string) error {
	b, err := f.store.GetBookingByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if b.PaymentStatus == domain.PaymentCompleted {
		return domain.ErrInvalidState
	}
	if b.BookingStatus == domain.BookingCancelled {
		return nil
	}
	return f.cancelPending(ctx, b)
}

// cancelPending moves an AwaitingPayment booking to Cancelled and releases
// every hold it pinned, including a not-yet-live invite's.
func (f *Finalizer) cancelPending(ctx context.Context, b *domain.Booking) error {
	var inviteHoldID uuid.UUID
	err := f.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := f.store.UpdateBookingStatus(ctx, tx, b.ID, domain.PaymentFailed, domain.BookingCancelled); err != nil {
			return err
		}
		if b.GroupInviteID != nil {
			inv, err := f.store.GetInvite(ctx, *b.GroupInviteID)
			if err != nil {
				return err
			}
			if b.UserID == inv.HostID {
				// The host never paid, so the whole invite dies with them.
				if err := f.store.UpdateInviteStatus(ctx, tx, inv.ID, domain.InviteExpired); err != nil {
					return err
				}
				inviteHoldID = inv.HoldID
			}
			if err := f.store.UpdateInviteParticipantStatus(ctx, tx, inv.ID, b.UserID, domain.PaymentFailed); err != nil {
				return err
			}
		}
		return f.store.InsertOutbox(ctx, tx, newOutboxRecord("booking", b.ID, "booking.cancelled", map[string]interface{}{
			"booking_id": b.ID,
			"user_id":    b.UserID,
		}))
	})
	if err != nil {
		return err
	}
	if rerr := f.inv.Release(ctx, b.HoldID); rerr != nil {
		f.logger.Error("release hold of cancelled booking: ", rerr)
	}
	if inviteHoldID != uuid.Nil {
		if rerr := f.inv.Release(ctx, inviteHoldID); rerr != nil {
			f.logger.Error("release hold of expired invite: ", rerr)
		}
	}
	return nil
}

func (f *Finalizer) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return f.store.GetBooking(ctx, bookingID)
}

func (f *Finalizer) GetInvite(ctx context.Context, inviteID uuid.UUID) (*domain.GroupInvite, error) {
	return f.store.GetInvite(ctx, inviteID)
}

// OpenSeats lists the invite seats still claimable, i.e. the seats left on
// the invite-owned hold.
func (f *Finalizer) OpenSeats(ctx context.Context, inv *domain.GroupInvite) ([]string, error) {
	if inv.Status == domain.InviteExpired || inv.Status == domain.InviteFilled {
		return nil, nil
	}
	hold, err := f.inv.Get(ctx, inv.HoldID)
	if err == domain.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if hold.Status != domain.HoldActive {
		return nil, nil
	}
	return hold.SeatIDs, nil
}

// outcomeFor rebuilds a SettleOutcome from a previously committed booking,
// for transparent idempotency-key replays.
func (f *Finalizer) outcomeFor(ctx context.Context, b *domain.Booking) (SettleOutcome, error) {
	out := SettleOutcome{
		Booking:        b,
		PaymentStatus:  b.PaymentStatus,
		GatewayOrderID: b.GatewayOrderID,
	}
	if b.GroupInviteID != nil {
		inv, err := f.store.GetInvite(ctx, *b.GroupInviteID)
		if err != nil {
			return SettleOutcome{}, err
		}
		out.Invite = inv
	}
	return out, nil
}

func priceSeats(seatMap *domain.ShowtimeSeatMap, seatIDs []string) ([]domain.Seat, error) {
	seats := make([]domain.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		seat, ok := seatMap.SeatByID(id)
		if !ok {
			return nil, domain.ErrInvalidInput
		}
		seats = append(seats, seat)
	}
	return seats, nil
}

func newOutboxRecord(aggregateType string, aggregateID uuid.UUID, eventType string, payload map[string]interface{}) crdb.OutboxRecord {
	data, _ := json.Marshal(payload)
	return crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		DedupeKey:     uuid.New().String(),
	}
}
