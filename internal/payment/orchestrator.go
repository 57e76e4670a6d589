// Package payment unifies the two settlement paths, wallet debit and
// gateway order/verify, behind one idempotency-keyed contract.
package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
)

// SettlementMethod is a tagged variant: each payment path carries exactly
// the fields it needs.
type SettlementMethod interface {
	settlementMethod()
}

// WalletSettlement debits the user's internal wallet synchronously.
type WalletSettlement struct {
	AccountID uuid.UUID
}

// GatewaySettlement drives the external gateway. With a nil Confirmation it
// opens an order and settles later via callback; with a Confirmation it
// verifies the signature and completes.
type GatewaySettlement struct {
	Confirmation *GatewayConfirmation
}

func (WalletSettlement) settlementMethod()  {}
func (GatewaySettlement) settlementMethod() {}

type Ledger interface {
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, key string) (domain.WalletTransaction, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, key string) (domain.WalletTransaction, error)
}

type Result struct {
	Status      domain.PaymentStatus // COMPLETED, or PENDING awaiting callback
	Method      domain.PaymentMethod
	OrderID     string
	Transaction *domain.WalletTransaction
}

type Orchestrator struct {
	ledger   Ledger
	gateway  GatewayClient
	verifier Verifier
	currency string
	logger   observability.Logger
}

func NewOrchestrator(ledger Ledger, gateway GatewayClient, verifier Verifier, currency string, logger observability.Logger) *Orchestrator {
	return &Orchestrator{
		ledger:   ledger,
		gateway:  gateway,
		verifier: verifier,
		currency: currency,
		logger:   logger,
	}
}

// Settle executes one payment attempt under the idempotency key. Retries
// with the same key are safe on both paths: the wallet ledger replays the
// stored transaction, and duplicate gateway confirmations resolve against
// booking state upstream.
func (o *Orchestrator) Settle(ctx context.Context, amount int64, method SettlementMethod, key string) (Result, error) {
	if amount <= 0 || key == "" {
		return Result{}, domain.ErrInvalidInput
	}

	switch m := method.(type) {
	case WalletSettlement:
		txn, err := o.ledger.Debit(ctx, m.AccountID, amount, key)
		if err != nil {
			observability.SettlementsTotal.WithLabelValues("wallet", "failed").Inc()
			return Result{}, err
		}
		observability.SettlementsTotal.WithLabelValues("wallet", "completed").Inc()
		return Result{
			Status:      domain.PaymentCompleted,
			Method:      domain.MethodWallet,
			Transaction: &txn,
		}, nil

	case GatewaySettlement:
		if m.Confirmation == nil {
			orderID, err := o.gateway.CreateOrder(ctx, amount, o.currency)
			if err != nil {
				observability.SettlementsTotal.WithLabelValues("gateway", "declined").Inc()
				return Result{}, err
			}
			observability.SettlementsTotal.WithLabelValues("gateway", "pending").Inc()
			return Result{
				Status:  domain.PaymentPending,
				Method:  domain.MethodGateway,
				OrderID: orderID,
			}, nil
		}
		if err := o.verifier.Verify(*m.Confirmation); err != nil {
			observability.SettlementsTotal.WithLabelValues("gateway", "signature_invalid").Inc()
			return Result{}, err
		}
		observability.SettlementsTotal.WithLabelValues("gateway", "completed").Inc()
		return Result{
			Status:  domain.PaymentCompleted,
			Method:  domain.MethodGateway,
			OrderID: m.Confirmation.OrderID,
		}, nil

	default:
		return Result{}, domain.ErrInvalidInput
	}
}

// VerifyConfirmation validates a callback signature without settling
// anything. The webhook handler calls this before touching booking state.
func (o *Orchestrator) VerifyConfirmation(conf GatewayConfirmation) error {
	return o.verifier.Verify(conf)
}

// Refund credits a wallet back after a settlement whose booking could not
// be finalized.
func (o *Orchestrator) Refund(ctx context.Context, accountID uuid.UUID, amount int64, key string) (domain.WalletTransaction, error) {
	return o.ledger.Credit(ctx, accountID, amount, key)
}
