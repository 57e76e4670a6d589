package booking_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/adapters/crdb"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
	"github.com/showgrid/booking-engine/internal/payment"
)

type nopLogger struct{}

func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Debug(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (nopLogger) WithField(key string, value interface{}) observability.Logger {
	return nopLogger{}
}

// memInventory tracks holds the way the database does: one logical hold per
// seat set, seats exclusive across non-released holds.
type memInventory struct {
	holds map[uuid.UUID]domain.SeatHold
}

func newMemInventory() *memInventory {
	return &memInventory{holds: make(map[uuid.UUID]domain.SeatHold)}
}

func (m *memInventory) taken(showtimeID uuid.UUID, seatID string, except uuid.UUID) bool {
	for id, h := range m.holds {
		if id == except || h.Status == domain.HoldReleased || h.ShowtimeID != showtimeID {
			continue
		}
		for _, s := range h.SeatIDs {
			if s == seatID {
				return true
			}
		}
	}
	return false
}

func (m *memInventory) Get(ctx context.Context, holdID uuid.UUID) (domain.SeatHold, error) {
	h, ok := m.holds[holdID]
	if !ok {
		return domain.SeatHold{}, domain.ErrNotFound
	}
	h.SeatIDs = append([]string(nil), h.SeatIDs...)
	return h, nil
}

func (m *memInventory) Release(ctx context.Context, holdID uuid.UUID) error {
	h, ok := m.holds[holdID]
	if !ok {
		return nil
	}
	h.Status = domain.HoldReleased
	m.holds[holdID] = h
	return nil
}

func (m *memInventory) ConfirmTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) (domain.SeatHold, error) {
	h, ok := m.holds[holdID]
	if !ok {
		return domain.SeatHold{}, domain.ErrNotFound
	}
	if h.Status != domain.HoldActive {
		return domain.SeatHold{}, domain.ErrInvalidState
	}
	if h.Expired(time.Now()) {
		return domain.SeatHold{}, domain.ErrHoldExpired
	}
	h.Status = domain.HoldConfirmed
	m.holds[holdID] = h
	return h, nil
}

func (m *memInventory) PlaceTx(ctx context.Context, tx pgx.Tx, hold domain.SeatHold) error {
	for _, s := range hold.SeatIDs {
		if m.taken(hold.ShowtimeID, s, hold.ID) {
			return domain.ErrSeatConflict
		}
	}
	m.holds[hold.ID] = hold
	return nil
}

func (m *memInventory) ReassignTx(ctx context.Context, tx pgx.Tx, fromHoldID uuid.UUID, seatIDs []string, to domain.SeatHold) error {
	from, ok := m.holds[fromHoldID]
	if !ok {
		return domain.ErrNotFound
	}
	have := make(map[string]bool, len(from.SeatIDs))
	for _, s := range from.SeatIDs {
		have[s] = true
	}
	for _, s := range seatIDs {
		if !have[s] {
			return domain.ErrSeatConflict
		}
	}
	moving := make(map[string]bool, len(seatIDs))
	for _, s := range seatIDs {
		moving[s] = true
	}
	var remaining []string
	for _, s := range from.SeatIDs {
		if !moving[s] {
			remaining = append(remaining, s)
		}
	}
	from.SeatIDs = remaining
	m.holds[fromHoldID] = from

	dest, ok := m.holds[to.ID]
	if !ok {
		dest = to
		dest.ShowtimeID = from.ShowtimeID
		dest.Status = domain.HoldActive
	}
	dest.SeatIDs = append(dest.SeatIDs, seatIDs...)
	m.holds[to.ID] = dest
	return nil
}

type memStore struct {
	inv        *memInventory
	bookings   map[uuid.UUID]domain.Booking
	invites    map[uuid.UUID]domain.GroupInvite
	outbox     []crdb.OutboxRecord
	failCreate error // consumed by the next CreateBooking
}

func newMemStore(inv *memInventory) *memStore {
	return &memStore{
		inv:      inv,
		bookings: make(map[uuid.UUID]domain.Booking),
		invites:  make(map[uuid.UUID]domain.GroupInvite),
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (m *memStore) CreateBooking(ctx context.Context, tx pgx.Tx, b domain.Booking) error {
	for _, existing := range m.bookings {
		if existing.IdempotencyKey == b.IdempotencyKey {
			return domain.ErrDuplicateRequest
		}
	}
	if m.failCreate != nil {
		err := m.failCreate
		m.failCreate = nil
		return err
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *memStore) UpdateBookingStatus(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, paymentStatus domain.PaymentStatus, bookingStatus domain.BookingStatus) error {
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.ErrNotFound
	}
	b.PaymentStatus = paymentStatus
	b.BookingStatus = bookingStatus
	m.bookings[bookingID] = b
	return nil
}

func (m *memStore) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (m *memStore) findBooking(match func(domain.Booking) bool) (*domain.Booking, error) {
	for _, b := range m.bookings {
		if match(b) {
			b := b
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) GetBookingByOrderID(ctx context.Context, orderID string) (*domain.Booking, error) {
	return m.findBooking(func(b domain.Booking) bool { return b.GatewayOrderID == orderID && orderID != "" })
}

func (m *memStore) GetBookingByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error) {
	return m.findBooking(func(b domain.Booking) bool { return b.IdempotencyKey == key })
}

func (m *memStore) GetBookingByHoldID(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error) {
	return m.findBooking(func(b domain.Booking) bool { return b.HoldID == holdID })
}

func (m *memStore) CreateInvite(ctx context.Context, tx pgx.Tx, inv domain.GroupInvite) error {
	inv.Participants = append([]domain.InviteParticipant(nil), inv.Participants...)
	m.invites[inv.ID] = inv
	return nil
}

func (m *memStore) GetInvite(ctx context.Context, inviteID uuid.UUID) (*domain.GroupInvite, error) {
	inv, ok := m.invites[inviteID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	inv.Participants = append([]domain.InviteParticipant(nil), inv.Participants...)
	return &inv, nil
}

func (m *memStore) AddInviteParticipant(ctx context.Context, tx pgx.Tx, inviteID uuid.UUID, p domain.InviteParticipant) error {
	inv, ok := m.invites[inviteID]
	if !ok {
		return domain.ErrNotFound
	}
	inv.Participants = append(inv.Participants, p)
	m.invites[inviteID] = inv
	return nil
}

func (m *memStore) UpdateInviteParticipantStatus(ctx context.Context, tx pgx.Tx, inviteID, userID uuid.UUID, status domain.PaymentStatus) error {
	inv, ok := m.invites[inviteID]
	if !ok {
		return domain.ErrNotFound
	}
	for i, p := range inv.Participants {
		if p.UserID == userID {
			inv.Participants[i].PaymentStatus = status
			m.invites[inviteID] = inv
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) UpdateInviteStatus(ctx context.Context, tx pgx.Tx, inviteID uuid.UUID, status domain.InviteStatus) error {
	inv, ok := m.invites[inviteID]
	if !ok {
		return domain.ErrNotFound
	}
	inv.Status = status
	m.invites[inviteID] = inv
	return nil
}

func (m *memStore) InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error {
	m.outbox = append(m.outbox, record)
	return nil
}

func (m *memStore) GetExpiredHolds(ctx context.Context, now time.Time) ([]domain.SeatHold, error) {
	var out []domain.SeatHold
	for _, h := range m.inv.holds {
		if h.Status == domain.HoldActive && h.Expired(now) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) GetExpiredInvites(ctx context.Context, now time.Time) ([]domain.GroupInvite, error) {
	var out []domain.GroupInvite
	for _, inv := range m.invites {
		if (inv.Status == domain.InvitePending || inv.Status == domain.InvitePartial) && !now.Before(inv.Deadline) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) events(eventType string) []crdb.OutboxRecord {
	var out []crdb.OutboxRecord
	for _, r := range m.outbox {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out
}

type fakeSettler struct {
	failWith error
	orders   int
	debits   []int64
	refunds  []int64
}

func (s *fakeSettler) Settle(ctx context.Context, amount int64, method payment.SettlementMethod, key string) (payment.Result, error) {
	if s.failWith != nil {
		return payment.Result{}, s.failWith
	}
	switch m := method.(type) {
	case payment.WalletSettlement:
		s.debits = append(s.debits, amount)
		txn := &domain.WalletTransaction{
			ID:             uuid.New(),
			AccountID:      m.AccountID,
			Type:           domain.TxDebit,
			Amount:         amount,
			IdempotencyKey: key,
		}
		return payment.Result{Status: domain.PaymentCompleted, Method: domain.MethodWallet, Transaction: txn}, nil
	case payment.GatewaySettlement:
		if m.Confirmation == nil {
			s.orders++
			return payment.Result{
				Status:  domain.PaymentPending,
				Method:  domain.MethodGateway,
				OrderID: fmt.Sprintf("order-%d", s.orders),
			}, nil
		}
		if err := s.VerifyConfirmation(*m.Confirmation); err != nil {
			return payment.Result{}, err
		}
		return payment.Result{
			Status:  domain.PaymentCompleted,
			Method:  domain.MethodGateway,
			OrderID: m.Confirmation.OrderID,
		}, nil
	}
	return payment.Result{}, domain.ErrInvalidInput
}

func (s *fakeSettler) VerifyConfirmation(conf payment.GatewayConfirmation) error {
	if conf.Signature != "valid" {
		return domain.ErrSignatureInvalid
	}
	return nil
}

func (s *fakeSettler) Refund(ctx context.Context, accountID uuid.UUID, amount int64, key string) (domain.WalletTransaction, error) {
	s.refunds = append(s.refunds, amount)
	return domain.WalletTransaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      domain.TxCredit,
		Amount:    amount,
	}, nil
}

type memCatalog struct {
	maps     map[uuid.UUID]*domain.ShowtimeSeatMap
	failNext error // consumed by the next GetShowtimeSeatMap
}

func (c *memCatalog) GetShowtimeSeatMap(ctx context.Context, showtimeID uuid.UUID) (*domain.ShowtimeSeatMap, error) {
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return nil, err
	}
	m, ok := c.maps[showtimeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}
