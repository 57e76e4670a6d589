// Package wallet owns per-account balances. Every mutation appends an
// immutable ledger row; the materialized balance moves in the same atomic
// step, so it always equals the sum of the ledger.
package wallet

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
	GetWalletTransaction(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, key string) (*domain.WalletTransaction, error)
	FindWalletTransaction(ctx context.Context, accountID uuid.UUID, key string) (*domain.WalletTransaction, error)
	GetBalanceForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error)
	AppendWalletTransaction(ctx context.Context, tx pgx.Tx, txn domain.WalletTransaction) error
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListWalletTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.WalletTransaction, error)
}

type Service struct {
	repo   Repository
	logger observability.Logger
}

func NewService(repo Repository, logger observability.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Debit withdraws from the account. A retry with the same idempotency key
// returns the stored transaction without re-debiting; the balance never
// goes negative.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount int64, key string) (domain.WalletTransaction, error) {
	return s.apply(ctx, accountID, domain.TxDebit, amount, key)
}

// Credit deposits into the account. Used for top-ups and refunds.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount int64, key string) (domain.WalletTransaction, error) {
	return s.apply(ctx, accountID, domain.TxCredit, amount, key)
}

func (s *Service) apply(ctx context.Context, accountID uuid.UUID, typ domain.TransactionType, amount int64, key string) (domain.WalletTransaction, error) {
	if amount <= 0 || key == "" {
		return domain.WalletTransaction{}, domain.ErrInvalidInput
	}

	var out domain.WalletTransaction
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		existing, err := s.repo.GetWalletTransaction(ctx, tx, accountID, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Type != typ || existing.Amount != amount {
				// Same key, different operation: a client bug, not a replay.
				return domain.ErrInvalidInput
			}
			out = *existing
			return nil
		}

		balance, err := s.repo.GetBalanceForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if typ == domain.TxDebit && balance < amount {
			return domain.ErrInsufficientBalance
		}

		resulting := balance + amount
		if typ == domain.TxDebit {
			resulting = balance - amount
		}
		out = domain.WalletTransaction{
			ID:               uuid.New(),
			AccountID:        accountID,
			Type:             typ,
			Amount:           amount,
			IdempotencyKey:   key,
			ResultingBalance: resulting,
			CreatedAt:        time.Now(),
		}
		return s.repo.AppendWalletTransaction(ctx, tx, out)
	})
	if err == domain.ErrDuplicateRequest {
		// Lost a same-key race: the other writer's row is our result.
		existing, ferr := s.repo.FindWalletTransaction(ctx, accountID, key)
		if ferr != nil {
			return domain.WalletTransaction{}, ferr
		}
		if existing == nil {
			return domain.WalletTransaction{}, err
		}
		if existing.Type != typ || existing.Amount != amount {
			return domain.WalletTransaction{}, domain.ErrInvalidInput
		}
		out = *existing
		err = nil
	}
	if err != nil {
		return domain.WalletTransaction{}, err
	}

	observability.WalletTransactionsTotal.WithLabelValues(string(typ)).Inc()
	return out, nil
}

func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, accountID)
}

func (s *Service) History(ctx context.Context, accountID uuid.UUID) ([]domain.WalletTransaction, error) {
	return s.repo.ListWalletTransactions(ctx, accountID)
}
