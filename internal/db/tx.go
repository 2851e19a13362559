package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier é satisfeito tanto pelo pool quanto por uma transação aberta.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner abstrai a abertura de transações (facilita stubs em testes).
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}

// PoolRunner executa transações sobre um pgxpool.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

// WithTx implementa TxRunner.
func (r PoolRunner) WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	return WithTx(ctx, r.Pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// WithTx executa uma função dentro de uma transação explicita.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
