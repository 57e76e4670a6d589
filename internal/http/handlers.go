package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/showgrid/booking-engine/internal/adapters/mongo"
	"github.com/showgrid/booking-engine/internal/booking"
	"github.com/showgrid/booking-engine/internal/config"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/idempotency"
	"github.com/showgrid/booking-engine/internal/inventory"
	"github.com/showgrid/booking-engine/internal/payment"
	"github.com/showgrid/booking-engine/internal/wallet"
)

type Handlers struct {
	cfg       *config.Config
	inventory *inventory.Service
	finalizer *booking.Finalizer
	wallets   *wallet.Service
	catalog   *mongo.CatalogRepository
	idemp     *idempotency.Idempotency
	audit     *mongo.AuditLogger
}

func NewHandlers(cfg *config.Config, inv *inventory.Service, fin *booking.Finalizer, wallets *wallet.Service, catalog *mongo.CatalogRepository, idemp *idempotency.Idempotency, audit *mongo.AuditLogger) *Handlers {
	return &Handlers{
		cfg:       cfg,
		inventory: inv,
		finalizer: fin,
		wallets:   wallets,
		catalog:   catalog,
		idemp:     idemp,
		audit:     audit,
	}
}

// writeError maps domain sentinels to HTTP statuses. Everything unmapped is
// a 500 with a generic body so internals do not leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var status int
	var msg string
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrSeatConflict):
		status, msg = http.StatusConflict, "seats unavailable"
	case errors.Is(err, domain.ErrSerializationFailure):
		status, msg = http.StatusConflict, "conflict, try again"
	case errors.Is(err, domain.ErrInvalidState):
		status, msg = http.StatusConflict, "operation not allowed in current state"
	case errors.Is(err, domain.ErrDuplicateRequest):
		status, msg = http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrHoldExpired):
		status, msg = http.StatusGone, "hold expired"
	case errors.Is(err, domain.ErrShowtimeExpired):
		status, msg = http.StatusGone, "booking window closed"
	case errors.Is(err, domain.ErrInsufficientBalance):
		status, msg = http.StatusPaymentRequired, "insufficient wallet balance"
	case errors.Is(err, domain.ErrGatewayDeclined):
		status, msg = http.StatusPaymentRequired, "payment declined"
	case errors.Is(err, domain.ErrSignatureInvalid):
		status, msg = http.StatusUnauthorized, "invalid signature"
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}
	http.Error(w, msg, status)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) []byte {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

// idempotencyScope namespaces a client-supplied key by route and caller.
// The key alone is not trustworthy: two callers reusing the same string
// must not replay each other's cached responses.
func idempotencyScope(path string, owner uuid.UUID, key string) string {
	return path + ":" + owner.String() + ":" + key
}

// replayCached serves the stored response for a repeated Idempotency-Key.
func (h *Handlers) replayCached(w http.ResponseWriter, r *http.Request, scope string) bool {
	existing, err := h.idemp.Get(r.Context(), scope)
	if err != nil {
		writeError(w, err)
		return true
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return true
	}
	return false
}

func (h *Handlers) cacheResponse(r *http.Request, scope string, status int, body []byte) {
	if err := h.idemp.Set(r.Context(), scope, idempotency.Response{Status: status, Result: body}); err == nil {
		return
	}
}

func (h *Handlers) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShowtimeID uuid.UUID `json:"showtime_id"`
		SeatIDs    []string  `json:"seat_ids"`
		UserID     uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	scope := idempotencyScope(r.URL.Path, req.UserID, r.Header.Get("Idempotency-Key"))
	if h.replayCached(w, r, scope) {
		return
	}

	seatMap, err := h.catalog.GetShowtimeSeatMap(r.Context(), req.ShowtimeID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, id := range req.SeatIDs {
		if _, ok := seatMap.SeatByID(id); !ok {
			http.Error(w, "unknown seat "+id, http.StatusBadRequest)
			return
		}
	}

	hold, err := h.inventory.Hold(r.Context(), req.ShowtimeID, req.SeatIDs, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	body := h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"hold_id":    hold.ID,
		"seat_ids":   hold.SeatIDs,
		"expires_at": hold.ExpiresAt.Format(time.RFC3339),
	})
	h.cacheResponse(r, scope, http.StatusCreated, body)
}

func (h *Handlers) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.inventory.Release(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// settlementMethod builds the payment method variant from the request.
func settlementMethod(method string, accountID, userID uuid.UUID) (payment.SettlementMethod, error) {
	switch domain.PaymentMethod(method) {
	case domain.MethodWallet:
		if accountID == uuid.Nil {
			accountID = userID
		}
		return payment.WalletSettlement{AccountID: accountID}, nil
	case domain.MethodGateway:
		return payment.GatewaySettlement{}, nil
	default:
		return nil, domain.ErrInvalidInput
	}
}

func (h *Handlers) Settle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HoldID          uuid.UUID `json:"hold_id"`
		UserID          uuid.UUID `json:"user_id"`
		PaymentMethod   string    `json:"payment_method"`
		WalletAccountID uuid.UUID `json:"wallet_account_id"`
		Discount        int64     `json:"discount"`
		InviteSeatIDs   []string  `json:"invite_seat_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	scope := idempotencyScope(r.URL.Path, req.UserID, key)
	if h.replayCached(w, r, scope) {
		return
	}

	method, err := settlementMethod(req.PaymentMethod, req.WalletAccountID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.finalizer.Settle(r.Context(), booking.SettleRequest{
		HoldID:         req.HoldID,
		UserID:         req.UserID,
		Method:         method,
		IdempotencyKey: key,
		Discount:       req.Discount,
		InviteSeatIDs:  req.InviteSeatIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	_ = h.audit.LogBooking(r.Context(), *out.Booking)

	resp := map[string]interface{}{
		"booking_id":     out.Booking.ID,
		"payment_status": out.PaymentStatus,
		"booking_status": out.Booking.BookingStatus,
		"total_amount":   out.Booking.TotalAmount,
	}
	if out.GatewayOrderID != "" {
		resp["gateway_order_id"] = out.GatewayOrderID
	}
	if out.Invite != nil {
		resp["invite_id"] = out.Invite.ID
		resp["invite_total"] = out.Invite.TotalAmount
	}
	status := http.StatusCreated
	if out.PaymentStatus == domain.PaymentPending {
		status = http.StatusAccepted
	}
	body := h.writeJSON(w, status, resp)
	h.cacheResponse(r, scope, status, body)
}

func (h *Handlers) JoinInvite(w http.ResponseWriter, r *http.Request) {
	inviteID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		SeatIDs         []string  `json:"seat_ids"`
		UserID          uuid.UUID `json:"user_id"`
		PaymentMethod   string    `json:"payment_method"`
		WalletAccountID uuid.UUID `json:"wallet_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	scope := idempotencyScope(r.URL.Path, req.UserID, key)
	if h.replayCached(w, r, scope) {
		return
	}

	method, err := settlementMethod(req.PaymentMethod, req.WalletAccountID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.finalizer.JoinInvite(r.Context(), booking.JoinRequest{
		InviteID:       inviteID,
		SeatIDs:        req.SeatIDs,
		UserID:         req.UserID,
		Method:         method,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"booking_id":     out.Booking.ID,
		"share":          out.Share,
		"invite_status":  out.InviteStatus,
		"payment_status": out.PaymentStatus,
	}
	if out.GatewayOrderID != "" {
		resp["gateway_order_id"] = out.GatewayOrderID
	}
	status := http.StatusCreated
	if out.PaymentStatus == domain.PaymentPending {
		status = http.StatusAccepted
	}
	body := h.writeJSON(w, status, resp)
	h.cacheResponse(r, scope, status, body)
}

func (h *Handlers) GetInvite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	inv, err := h.finalizer.GetInvite(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	openSeats, err := h.finalizer.OpenSeats(r.Context(), inv)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"invite_id":    inv.ID,
		"showtime_id":  inv.ShowtimeID,
		"status":       inv.Status,
		"deadline":     inv.Deadline.Format(time.RFC3339),
		"total_seats":  inv.TotalSeats,
		"total_amount": inv.TotalAmount,
		"open_seats":   openSeats,
	})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.finalizer.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"booking_id":     b.ID,
		"showtime_id":    b.ShowtimeID,
		"seats":          b.Seats,
		"method":         b.Method,
		"payment_status": b.PaymentStatus,
		"booking_status": b.BookingStatus,
		"total_amount":   b.TotalAmount,
	})
}

// PaymentCallback receives the signed gateway confirmation. A "failed"
// status cancels the pending booking instead.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
		Signature string `json:"signature"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Status == "failed" {
		if err := h.finalizer.HandleGatewayDecline(r.Context(), req.OrderID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	b, err := h.finalizer.HandleGatewayCallback(r.Context(), payment.GatewayConfirmation{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.audit.LogBooking(r.Context(), *b)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"booking_id":     b.ID,
		"booking_status": b.BookingStatus,
	})
}

func (h *Handlers) WalletBalance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	balance, err := h.wallets.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"balance":    balance,
	})
}

func (h *Handlers) WalletHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	txns, err := h.wallets.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":   id,
		"transactions": txns,
	})
}

func (h *Handlers) WalletTopUp(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	scope := idempotencyScope(r.URL.Path, id, key)
	if h.replayCached(w, r, scope) {
		return
	}

	txn, err := h.wallets.Credit(r.Context(), id, req.Amount, key)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.audit.LogSettlement(r.Context(), id, txn)
	body := h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"transaction_id": txn.ID,
		"balance":        txn.ResultingBalance,
	})
	h.cacheResponse(r, scope, http.StatusCreated, body)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
