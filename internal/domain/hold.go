package domain

import (
	"time"

	"github.com/google/uuid"
)

func NewSeatHold(showtimeID uuid.UUID, seatIDs []string, holderID uuid.UUID, ttl time.Duration) SeatHold {
	return SeatHold{
		ID:         uuid.New(),
		ShowtimeID: showtimeID,
		SeatIDs:    seatIDs,
		HolderID:   holderID,
		Kind:       HoldKindUser,
		Status:     HoldActive,
		ExpiresAt:  time.Now().Add(ttl),
	}
}

// NewInviteHold claims the unclaimed seats of a group invite. The hold is
// owned by the invite, not by any user session, and lives until the invite
// deadline.
func NewInviteHold(showtimeID uuid.UUID, seatIDs []string, inviteID uuid.UUID, deadline time.Time) SeatHold {
	return SeatHold{
		ID:         uuid.New(),
		ShowtimeID: showtimeID,
		SeatIDs:    seatIDs,
		HolderID:   inviteID,
		Kind:       HoldKindInvite,
		Status:     HoldActive,
		ExpiresAt:  deadline,
	}
}
