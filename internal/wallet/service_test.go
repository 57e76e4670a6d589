package wallet_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
	"github.com/showgrid/booking-engine/internal/wallet"
)

type nopLogger struct{}

func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Debug(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (nopLogger) WithField(key string, value interface{}) observability.Logger {
	return nopLogger{}
}

// fakeLedger keeps the append-only ledger plus the materialized balance per
// account, enforcing the (account, key) uniqueness the table index does.
type fakeLedger struct {
	mu       sync.Mutex
	rows     []domain.WalletTransaction
	balances map[uuid.UUID]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[uuid.UUID]int64)}
}

func (l *fakeLedger) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(nil)
}

func (l *fakeLedger) find(accountID uuid.UUID, key string) *domain.WalletTransaction {
	for i := range l.rows {
		if l.rows[i].AccountID == accountID && l.rows[i].IdempotencyKey == key {
			row := l.rows[i]
			return &row
		}
	}
	return nil
}

func (l *fakeLedger) GetWalletTransaction(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, key string) (*domain.WalletTransaction, error) {
	return l.find(accountID, key), nil
}

func (l *fakeLedger) FindWalletTransaction(ctx context.Context, accountID uuid.UUID, key string) (*domain.WalletTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.find(accountID, key), nil
}

func (l *fakeLedger) GetBalanceForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	return l.balances[accountID], nil
}

func (l *fakeLedger) AppendWalletTransaction(ctx context.Context, tx pgx.Tx, txn domain.WalletTransaction) error {
	if l.find(txn.AccountID, txn.IdempotencyKey) != nil {
		return domain.ErrDuplicateRequest
	}
	l.rows = append(l.rows, txn)
	l.balances[txn.AccountID] = txn.ResultingBalance
	return nil
}

func (l *fakeLedger) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID], nil
}

func (l *fakeLedger) ListWalletTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.WalletTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.WalletTransaction
	for _, r := range l.rows {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestDebitAndCredit(t *testing.T) {
	repo := newFakeLedger()
	svc := wallet.NewService(repo, nopLogger{})
	ctx := context.Background()
	acct := uuid.New()

	txn, err := svc.Credit(ctx, acct, 50000, "topup-1")
	if err != nil {
		t.Fatal(err)
	}
	if txn.ResultingBalance != 50000 {
		t.Errorf("balance after credit = %d, want 50000", txn.ResultingBalance)
	}

	txn, err = svc.Debit(ctx, acct, 20000, "debit-1")
	if err != nil {
		t.Fatal(err)
	}
	if txn.ResultingBalance != 30000 {
		t.Errorf("balance after debit = %d, want 30000", txn.ResultingBalance)
	}

	balance, err := svc.Balance(ctx, acct)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 30000 {
		t.Errorf("balance = %d, want 30000", balance)
	}
	history, err := svc.History(ctx, acct)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	repo := newFakeLedger()
	svc := wallet.NewService(repo, nopLogger{})
	ctx := context.Background()
	acct := uuid.New()

	if _, err := svc.Credit(ctx, acct, 10000, "topup-1"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Debit(ctx, acct, 10001, "debit-1")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	balance, _ := svc.Balance(ctx, acct)
	if balance != 10000 {
		t.Errorf("failed debit moved the balance: %d", balance)
	}
}

func TestDebitReplaySameKey(t *testing.T) {
	repo := newFakeLedger()
	svc := wallet.NewService(repo, nopLogger{})
	ctx := context.Background()
	acct := uuid.New()

	if _, err := svc.Credit(ctx, acct, 50000, "topup-1"); err != nil {
		t.Fatal(err)
	}
	first, err := svc.Debit(ctx, acct, 20000, "debit-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Debit(ctx, acct, 20000, "debit-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("replay created a new transaction: %s vs %s", first.ID, second.ID)
	}
	balance, _ := svc.Balance(ctx, acct)
	if balance != 30000 {
		t.Errorf("replay moved the balance: %d, want 30000", balance)
	}
}

func TestSameKeyDifferentOperationRejected(t *testing.T) {
	repo := newFakeLedger()
	svc := wallet.NewService(repo, nopLogger{})
	ctx := context.Background()
	acct := uuid.New()

	if _, err := svc.Credit(ctx, acct, 50000, "op-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Debit(ctx, acct, 50000, "op-1"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("type mismatch: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Credit(ctx, acct, 60000, "op-1"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("amount mismatch: expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo := newFakeLedger()
	svc := wallet.NewService(repo, nopLogger{})
	ctx := context.Background()
	acct := uuid.New()

	if _, err := svc.Credit(ctx, acct, 50000, "topup-1"); err != nil {
		t.Fatal(err)
	}

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(ctx, acct, 20000, uuid.NewString())
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 2 {
		t.Errorf("succeeded = %d, want 2 debits of 20000 from 50000", succeeded)
	}
	balance, _ := svc.Balance(ctx, acct)
	if balance != 10000 {
		t.Errorf("balance = %d, want 10000", balance)
	}
}

func TestApplyValidation(t *testing.T) {
	svc := wallet.NewService(newFakeLedger(), nopLogger{})
	ctx := context.Background()

	if _, err := svc.Debit(ctx, uuid.New(), 0, "k"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("zero amount: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Credit(ctx, uuid.New(), -5, "k"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("negative amount: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Debit(ctx, uuid.New(), 100, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("missing key: expected ErrInvalidInput, got %v", err)
	}
}
