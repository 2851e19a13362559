package coeficiente

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifecaller/esteira/internal/db"
	"github.com/lifecaller/esteira/internal/repo"
)

const dbTimeout = 5 * time.Second

// Repository persiste a tabela de coeficientes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Coeficiente, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if filter.Banco != "" {
		args = append(args, NormalizeBanco(filter.Banco))
		where = append(where, fmt.Sprintf("banco = $%d", len(args)))
	}
	if filter.Parcelas > 0 {
		args = append(args, filter.Parcelas)
		where = append(where, fmt.Sprintf("parcelas = $%d", len(args)))
	}

	query := `SELECT id, banco, parcelas, coeficiente, updated_at FROM coeficientes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY banco, parcelas"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Coeficiente
	for rows.Next() {
		var c Coeficiente
		if err := rows.Scan(&c.ID, &c.Banco, &c.Parcelas, &c.Coeficiente, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Find devolve o coeficiente exato para banco e parcelas.
func (r *Repository) Find(ctx context.Context, banco string, parcelas int) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var coef float64
	err := r.pool.QueryRow(ctx, `SELECT coeficiente FROM coeficientes WHERE banco = $1 AND parcelas = $2`, NormalizeBanco(banco), parcelas).Scan(&coef)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repo.ErrNotFound
	}
	return coef, err
}

// Upsert grava as linhas em uma única transação.
func (r *Repository) Upsert(ctx context.Context, rows []Row) (created, updated int, err error) {
	err = db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		for _, row := range rows {
			var inserted bool
			if err := tx.QueryRow(ctx, `
				INSERT INTO coeficientes (banco, parcelas, coeficiente)
				VALUES ($1, $2, $3)
				ON CONFLICT (banco, parcelas) DO UPDATE
				SET coeficiente = EXCLUDED.coeficiente, updated_at = now()
				RETURNING (xmax = 0)
			`, NormalizeBanco(row.Banco), row.Parcelas, row.Coeficiente).Scan(&inserted); err != nil {
				return fmt.Errorf("upsert %s/%d: %w", row.Banco, row.Parcelas, err)
			}
			if inserted {
				created++
			} else {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}
