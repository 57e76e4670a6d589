package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/domain"
)

// GetWalletTransaction looks up a ledger row by its replay identity inside
// the caller's transaction.
func (r *Repository) GetWalletTransaction(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, key string) (*domain.WalletTransaction, error) {
	return scanWalletTransaction(tx.QueryRow(ctx, `
		SELECT id, account_id, type, amount, idempotency_key, resulting_balance, created_at
		FROM wallet_transactions WHERE account_id = $1 AND idempotency_key = $2
	`, accountID, key))
}

// FindWalletTransaction is the pool-level variant, used to resolve a
// duplicate-key race after a rolled-back transaction.
func (r *Repository) FindWalletTransaction(ctx context.Context, accountID uuid.UUID, key string) (*domain.WalletTransaction, error) {
	return scanWalletTransaction(r.pool.QueryRow(ctx, `
		SELECT id, account_id, type, amount, idempotency_key, resulting_balance, created_at
		FROM wallet_transactions WHERE account_id = $1 AND idempotency_key = $2
	`, accountID, key))
}

func scanWalletTransaction(row pgx.Row) (*domain.WalletTransaction, error) {
	var txn domain.WalletTransaction
	err := row.Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Amount, &txn.IdempotencyKey, &txn.ResultingBalance, &txn.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetBalanceForUpdate locks the account row for the duration of the
// transaction. An account that has never transacted has balance zero.
func (r *Repository) GetBalanceForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT balance FROM wallet_accounts WHERE account_id = $1 FOR UPDATE
	`, accountID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// AppendWalletTransaction appends the immutable ledger row and moves the
// materialized account balance in the same transaction, so the balance
// always equals the sum of the ledger. A reused (account, key) pair fails
// the unique constraint, which WithTx maps to ErrDuplicateRequest.
func (r *Repository) AppendWalletTransaction(ctx context.Context, tx pgx.Tx, txn domain.WalletTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, account_id, type, amount, idempotency_key, resulting_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.IdempotencyKey, txn.ResultingBalance, txn.CreatedAt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_accounts (account_id, balance) VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET balance = $2
	`, txn.AccountID, txn.ResultingBalance)
	return err
}

func (r *Repository) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance FROM wallet_accounts WHERE account_id = $1
	`, accountID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *Repository) ListWalletTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, type, amount, idempotency_key, resulting_balance, created_at
		FROM wallet_transactions WHERE account_id = $1 ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.WalletTransaction
	for rows.Next() {
		var txn domain.WalletTransaction
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Amount, &txn.IdempotencyKey, &txn.ResultingBalance, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}
