package anexo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifecaller/esteira/internal/repo"
)

// Repository persiste metadados de anexos.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const anexoColumns = `id, atendimento_id, nome, content_type, tamanho, url, chave, enviado_por, created_at`

// CaseExists informa se o atendimento existe.
func (r *Repository) CaseExists(ctx context.Context, atendimentoID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM atendimentos WHERE id = $1)`, atendimentoID).Scan(&ok)
	return ok, err
}

func (r *Repository) Insert(ctx context.Context, a Anexo) (Anexo, error) {
	row := r.pool.QueryRow(ctx, `
        INSERT INTO anexos (atendimento_id, nome, content_type, tamanho, url, chave, enviado_por)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING `+anexoColumns,
		a.AtendimentoID, a.Nome, a.ContentType, a.Tamanho, a.URL, a.Chave, a.EnviadoPor)
	return scanAnexo(row)
}

func (r *Repository) Get(ctx context.Context, id int64) (Anexo, error) {
	return scanAnexo(r.pool.QueryRow(ctx, `SELECT `+anexoColumns+` FROM anexos WHERE id = $1`, id))
}

// ListByAtendimento devolve os anexos mais recentes primeiro.
func (r *Repository) ListByAtendimento(ctx context.Context, atendimentoID int64) ([]Anexo, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+anexoColumns+` FROM anexos WHERE atendimento_id = $1 ORDER BY created_at DESC, id DESC`, atendimentoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Anexo{}
	for rows.Next() {
		a, err := scanAnexo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM anexos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanAnexo(row pgx.Row) (Anexo, error) {
	var a Anexo
	if err := row.Scan(&a.ID, &a.AtendimentoID, &a.Nome, &a.ContentType, &a.Tamanho, &a.URL, &a.Chave, &a.EnviadoPor, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Anexo{}, repo.ErrNotFound
		}
		return Anexo{}, err
	}
	return a, nil
}
