package domain

import (
	"time"

	"github.com/google/uuid"
)

// All monetary amounts are int64 minor currency units (paise).

type SeatTier string

const (
	TierVIP     SeatTier = "VIP"
	TierPremium SeatTier = "PREMIUM"
	TierNormal  SeatTier = "NORMAL"
)

type Seat struct {
	ID    string
	Tier  SeatTier
	Price int64
}

// ShowtimeSeatMap is the catalog view of a showtime: the seat set with
// per-seat tier pricing. Read-only inside this engine.
type ShowtimeSeatMap struct {
	ShowtimeID uuid.UUID
	StartsAt   time.Time
	Seats      []Seat
}

// SeatByID returns the priced seat, or false if the id is not in the map.
func (m *ShowtimeSeatMap) SeatByID(id string) (Seat, bool) {
	for _, s := range m.Seats {
		if s.ID == id {
			return s, true
		}
	}
	return Seat{}, false
}

type HoldKind string

const (
	HoldKindUser   HoldKind = "USER"
	HoldKindInvite HoldKind = "INVITE"
)

type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"
	HoldConfirmed HoldStatus = "CONFIRMED"
	HoldReleased  HoldStatus = "RELEASED"
)

// SeatHold is a transient exclusive claim on a seat set. At most one
// non-released hold may reference a seat per showtime.
type SeatHold struct {
	ID         uuid.UUID
	ShowtimeID uuid.UUID
	SeatIDs    []string
	HolderID   uuid.UUID
	Kind       HoldKind
	Status     HoldStatus
	ExpiresAt  time.Time
}

// Expired reports whether the hold's TTL has lapsed at the given instant.
func (h SeatHold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

type PaymentMethod string

const (
	MethodWallet  PaymentMethod = "WALLET"
	MethodGateway PaymentMethod = "GATEWAY"
)

type Booking struct {
	ID             uuid.UUID
	ShowtimeID     uuid.UUID
	UserID         uuid.UUID
	HoldID         uuid.UUID
	Seats          []Seat
	IdempotencyKey string
	Method         PaymentMethod
	GatewayOrderID string
	PaymentStatus  PaymentStatus
	BookingStatus  BookingStatus
	TotalAmount    int64
	Discount       int64
	GroupInviteID  *uuid.UUID
	CreatedAt      time.Time
}

type TransactionType string

const (
	TxCredit TransactionType = "CREDIT"
	TxDebit  TransactionType = "DEBIT"
)

// WalletTransaction is one row of the append-only per-account ledger.
// (account, idempotency key) is unique at the storage layer, which is
// what makes client retries replay-safe.
type WalletTransaction struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	Type             TransactionType
	Amount           int64
	IdempotencyKey   string
	ResultingBalance int64
	CreatedAt        time.Time
}

type InviteStatus string

const (
	InvitePending InviteStatus = "PENDING"
	InvitePartial InviteStatus = "PARTIAL"
	InviteFilled  InviteStatus = "FILLED"
	InviteExpired InviteStatus = "EXPIRED"
)

// GroupInvite is a booking where the host pre-pays their own seats and the
// remaining seats stay open for other users to claim and pay independently.
type GroupInvite struct {
	ID           uuid.UUID
	ShowtimeID   uuid.UUID
	HostID       uuid.UUID
	HoldID       uuid.UUID // invite-owned hold over the unclaimed seats
	TotalSeats   int
	TotalAmount  int64
	Discount     int64
	Status       InviteStatus
	Deadline     time.Time
	Participants []InviteParticipant
}

type InviteParticipant struct {
	UserID        uuid.UUID
	SeatIDs       []string
	Share         int64
	PaymentStatus PaymentStatus
}

// PaidSeats counts seats covered by completed participant payments.
func (g *GroupInvite) PaidSeats() int {
	n := 0
	for _, p := range g.Participants {
		if p.PaymentStatus == PaymentCompleted {
			n += len(p.SeatIDs)
		}
	}
	return n
}

// HostPaid reports whether the host's own share has settled. Joins are
// rejected until it has.
func (g *GroupInvite) HostPaid() bool {
	for _, p := range g.Participants {
		if p.UserID == g.HostID && p.PaymentStatus == PaymentCompleted {
			return true
		}
	}
	return false
}

// Participant returns the participant entry for a user, if any.
func (g *GroupInvite) Participant(userID uuid.UUID) (InviteParticipant, bool) {
	for _, p := range g.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return InviteParticipant{}, false
}
