package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifecaller/esteira/internal/db"
)

// Queries concentra o acesso às tabelas de identidade.
type Queries struct {
	pool *pgxpool.Pool
}

// New cria Queries sobre o pool informado.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

const usuarioColumns = `id, username, email, senha_hash, ativo, criado_em`

// GetUsuarioByUsername busca usuário pelo login (case-insensitive).
func (q *Queries) GetUsuarioByUsername(ctx context.Context, username string) (Usuario, error) {
	row := q.pool.QueryRow(ctx, `SELECT `+usuarioColumns+` FROM usuarios WHERE lower(username) = lower($1)`, strings.TrimSpace(username))
	return scanUsuario(row)
}

// GetUsuarioByID busca usuário pelo id.
func (q *Queries) GetUsuarioByID(ctx context.Context, id int64) (Usuario, error) {
	row := q.pool.QueryRow(ctx, `SELECT `+usuarioColumns+` FROM usuarios WHERE id = $1`, id)
	return scanUsuario(row)
}

// ListGruposByUsuario devolve os grupos (papéis) do usuário.
func (q *Queries) ListGruposByUsuario(ctx context.Context, usuarioID int64) ([]string, error) {
	rows, err := q.pool.Query(ctx, `SELECT grupo FROM usuario_grupos WHERE usuario_id = $1 ORDER BY grupo`, usuarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grupos []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		grupos = append(grupos, g)
	}
	return grupos, rows.Err()
}

// CreateUsuario insere o usuário e seus grupos na mesma transação.
func (q *Queries) CreateUsuario(ctx context.Context, arg CreateUsuarioParams) (Usuario, error) {
	var user Usuario
	err := db.WithTx(ctx, q.pool, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            INSERT INTO usuarios (username, email, senha_hash)
            VALUES ($1, $2, $3)
            RETURNING `+usuarioColumns, strings.TrimSpace(arg.Username), strings.ToLower(strings.TrimSpace(arg.Email)), arg.SenhaHash)
		var err error
		if user, err = scanUsuario(row); err != nil {
			return err
		}
		for _, g := range arg.Grupos {
			if _, err := tx.Exec(ctx, `INSERT INTO usuario_grupos (usuario_id, grupo) VALUES ($1, $2) ON CONFLICT DO NOTHING`, user.ID, g); err != nil {
				return err
			}
		}
		return nil
	})
	if IsUniqueViolation(err) {
		return Usuario{}, ErrDuplicate
	}
	return user, err
}

// AddGrupo vincula grupo ao usuário.
func (q *Queries) AddGrupo(ctx context.Context, usuarioID int64, grupo string) error {
	_, err := q.pool.Exec(ctx, `INSERT INTO usuario_grupos (usuario_id, grupo) VALUES ($1, $2) ON CONFLICT DO NOTHING`, usuarioID, grupo)
	return err
}

// RemoveGrupo desfaz o vínculo de grupo.
func (q *Queries) RemoveGrupo(ctx context.Context, usuarioID int64, grupo string) error {
	cmd, err := q.pool.Exec(ctx, `DELETE FROM usuario_grupos WHERE usuario_id = $1 AND grupo = $2`, usuarioID, grupo)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertRefreshToken grava o hash do refresh token emitido.
func (q *Queries) InsertRefreshToken(ctx context.Context, arg InsertRefreshTokenParams) (TokenRefresh, error) {
	row := q.pool.QueryRow(ctx, `
        INSERT INTO tokens_refresh (id, subject, audience, token_hash, expiracao, criado_em)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, subject, audience, token_hash, expiracao, criado_em, revogado
    `, arg.ID, arg.Subject, arg.Audience, arg.TokenHash, arg.Expiracao, arg.CriadoEm)
	return scanTokenRefresh(row)
}

// GetRefreshTokenByHash busca refresh token pelo hash.
func (q *Queries) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (TokenRefresh, error) {
	row := q.pool.QueryRow(ctx, `
        SELECT id, subject, audience, token_hash, expiracao, criado_em, revogado
        FROM tokens_refresh WHERE token_hash = $1
    `, tokenHash)
	return scanTokenRefresh(row)
}

// InvalidateOtherRefreshTokens revoga sessões antigas do mesmo usuário.
func (q *Queries) InvalidateOtherRefreshTokens(ctx context.Context, subject int64, audience, keepHash string) error {
	_, err := q.pool.Exec(ctx, `
        UPDATE tokens_refresh SET revogado = TRUE
        WHERE subject = $1 AND audience = $2 AND token_hash <> $3 AND NOT revogado
    `, subject, audience, keepHash)
	return err
}

// RevokeRefreshToken marca o token como revogado.
func (q *Queries) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	cmd, err := q.pool.Exec(ctx, `UPDATE tokens_refresh SET revogado = TRUE WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsUniqueViolation detecta erro 23505 do Postgres.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanUsuario(row pgx.Row) (Usuario, error) {
	var u Usuario
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.SenhaHash, &u.Ativo, &u.CriadoEm); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Usuario{}, ErrNotFound
		}
		return Usuario{}, err
	}
	return u, nil
}

func scanTokenRefresh(row pgx.Row) (TokenRefresh, error) {
	var t TokenRefresh
	if err := row.Scan(&t.ID, &t.Subject, &t.Audience, &t.TokenHash, &t.Expiracao, &t.CriadoEm, &t.Revogado); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenRefresh{}, ErrNotFound
		}
		return TokenRefresh{}, err
	}
	return t, nil
}
