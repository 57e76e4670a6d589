package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return mapPgError(err)
	}

	return mapPgError(tx.Commit(ctx))
}

// mapPgError translates retry-relevant postgres error codes into domain
// sentinels; everything else passes through unchanged.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return domain.ErrSerializationFailure
		case UniqueViolationCode:
			return domain.ErrDuplicateRequest
		}
	}
	return err
}
