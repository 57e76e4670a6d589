package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrSeatConflict: another non-released hold owns at least one of the
	// requested seats. Recoverable by choosing different seats.
	ErrSeatConflict = errors.New("seat conflict")

	// ErrInvalidState: the hold or booking is not in a state that permits
	// the requested transition (already released, already confirmed, ...).
	ErrInvalidState = errors.New("invalid state")

	// ErrHoldExpired: the hold's TTL lapsed before payment completed.
	ErrHoldExpired = errors.New("hold expired")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSignatureInvalid    = errors.New("gateway signature invalid")
	ErrGatewayDeclined     = errors.New("gateway declined")

	// ErrShowtimeExpired: booking attempted after the showtime cutoff.
	ErrShowtimeExpired = errors.New("showtime expired")

	// ErrDuplicateRequest is internal to the storage layer: an insert hit
	// the idempotency uniqueness constraint. Callers resolve it by
	// returning the previously stored result, never by surfacing it.
	ErrDuplicateRequest = errors.New("duplicate request")
)
