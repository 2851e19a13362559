package atendimento

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
	"github.com/lifecaller/esteira/internal/util"
	"github.com/lifecaller/esteira/internal/workflow"
)

const dbTimeout = 5 * time.Second

const atendimentoColumns = `id, cpf, matricula, banco, stage, owner_atendente, assigned_to, valor_liberado, taxa, created_at, updated_at`

// Repository persiste atendimentos, eventos e simulações.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, q db.Querier, in CreateInput) (Atendimento, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO atendimentos (cpf, matricula, banco, stage)
		VALUES ($1, $2, $3, $4)
		RETURNING `+atendimentoColumns,
		in.CPF, in.Matricula, in.Banco, workflow.StageEsteiraGlobal)
	a, err := scanAtendimento(row)
	if repo.IsUniqueViolation(err) {
		return Atendimento{}, fmt.Errorf("cpf e matrícula já cadastrados: %w", repo.ErrDuplicate)
	}
	return a, err
}

func (r *Repository) Get(ctx context.Context, id int64) (Atendimento, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return scanAtendimento(r.pool.QueryRow(ctx, `SELECT `+atendimentoColumns+` FROM atendimentos WHERE id = $1`, id))
}

// GetForUpdate trava a linha até o fim da transação.
func (r *Repository) GetForUpdate(ctx context.Context, q db.Querier, id int64) (Atendimento, error) {
	return scanAtendimento(q.QueryRow(ctx, `SELECT `+atendimentoColumns+` FROM atendimentos WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Atendimento, int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	filter = filter.normalized()
	where, args := buildWhere(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM atendimentos`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM atendimentos%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		atendimentoColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Atendimento
	for rows.Next() {
		a, err := scanAtendimento(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// Each percorre todos os atendimentos do filtro, sem paginação.
func (r *Repository) Each(ctx context.Context, filter ListFilter, fn func(Atendimento) error) error {
	where, args := buildWhere(filter)
	rows, err := r.pool.Query(ctx, `SELECT `+atendimentoColumns+` FROM atendimentos`+where+` ORDER BY id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAtendimento(rows)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return rows.Err()
}

func buildWhere(f ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Stage != "" {
		add("stage = $%d", string(f.Stage))
	}
	if f.OwnerAtendente != nil {
		add("owner_atendente = $%d", *f.OwnerAtendente)
	}
	if f.AssignedTo != nil {
		add("assigned_to = $%d", *f.AssignedTo)
	}
	if f.Banco != "" {
		add("banco = $%d", strings.ToLower(strings.TrimSpace(f.Banco)))
	}
	if f.CPF != "" {
		add("regexp_replace(cpf, '\\D', '', 'g') = $%d", util.DigitsOnly(f.CPF))
	}
	if f.Matricula != "" {
		add("matricula = $%d", strings.TrimSpace(f.Matricula))
	}
	if q := strings.TrimSpace(f.Q); q != "" {
		add("(cpf ILIKE $%[1]d OR matricula ILIKE $%[1]d OR banco ILIKE $%[1]d)", "%"+q+"%")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *Repository) Update(ctx context.Context, q db.Querier, id int64, in CreateInput) (Atendimento, error) {
	row := q.QueryRow(ctx, `
		UPDATE atendimentos
		SET cpf = $2, matricula = $3, banco = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+atendimentoColumns,
		id, in.CPF, in.Matricula, in.Banco)
	a, err := scanAtendimento(row)
	if repo.IsUniqueViolation(err) {
		return Atendimento{}, fmt.Errorf("cpf e matrícula já cadastrados: %w", repo.ErrDuplicate)
	}
	return a, err
}

// SaveTransition grava os campos controlados pela esteira.
func (r *Repository) SaveTransition(ctx context.Context, q db.Querier, a Atendimento) (Atendimento, error) {
	return scanAtendimento(q.QueryRow(ctx, `
		UPDATE atendimentos
		SET stage = $2, owner_atendente = $3, assigned_to = $4, valor_liberado = $5, taxa = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+atendimentoColumns,
		a.ID, string(a.Stage), a.OwnerAtendente, a.AssignedTo, a.ValorLiberado, a.Taxa))
}

func (r *Repository) InsertEvent(ctx context.Context, q db.Querier, e Evento) (Evento, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO atendimento_eventos (atendimento_id, event_type, usuario_id, note, old_value, new_value)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING id, created_at
	`, e.AtendimentoID, e.EventType, e.UsuarioID, e.Note, e.OldValue, e.NewValue).Scan(&e.ID, &e.CreatedAt)
	return e, err
}

func (r *Repository) ListEvents(ctx context.Context, atendimentoID int64) ([]Evento, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, atendimento_id, event_type, usuario_id, COALESCE(note, ''), old_value, new_value, created_at
		FROM atendimento_eventos
		WHERE atendimento_id = $1
		ORDER BY created_at, id
	`, atendimentoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evento
	for rows.Next() {
		var e Evento
		if err := rows.Scan(&e.ID, &e.AtendimentoID, &e.EventType, &e.UsuarioID, &e.Note, &e.OldValue, &e.NewValue, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM atendimentos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// UpsertByCPFMatricula cria o atendimento ou atualiza o banco do existente.
// O segundo retorno indica criação.
func (r *Repository) UpsertByCPFMatricula(ctx context.Context, q db.Querier, in CreateInput) (Atendimento, bool, error) {
	var inserted bool
	row := q.QueryRow(ctx, `
		INSERT INTO atendimentos (cpf, matricula, banco, stage)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cpf, matricula) DO UPDATE
		SET banco = EXCLUDED.banco, updated_at = now()
		RETURNING `+atendimentoColumns+`, (xmax = 0)`,
		in.CPF, in.Matricula, in.Banco, workflow.StageEsteiraGlobal)

	var a Atendimento
	var stage string
	err := row.Scan(&a.ID, &a.CPF, &a.Matricula, &a.Banco, &stage, &a.OwnerAtendente, &a.AssignedTo,
		&a.ValorLiberado, &a.Taxa, &a.CreatedAt, &a.UpdatedAt, &inserted)
	if err != nil {
		return Atendimento{}, false, err
	}
	a.Stage = workflow.Stage(stage)
	return a, inserted, nil
}

// QueueCounts conta atendimentos por etapa.
func (r *Repository) QueueCounts(ctx context.Context) (map[workflow.Stage]int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT stage, count(*) FROM atendimentos GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[workflow.Stage]int, len(workflow.Stages()))
	for _, s := range workflow.Stages() {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			stage string
			n     int
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[workflow.Stage(stage)] = n
	}
	return counts, rows.Err()
}

func (r *Repository) InsertSimulacao(ctx context.Context, s Simulacao) (Simulacao, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO atendimento_simulacoes (
			atendimento_id, usuario_id, banco, parcelas, saldo_devedor, seguro_banco, percentual_co,
			coeficiente, parcela_total, pv_total_financiado, valor_liberado, valor_liquido,
			custo_consultoria, liberado_cliente, aprovado
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`, s.AtendimentoID, s.UsuarioID, s.Banco, s.Parcelas, s.SaldoDevedor, s.SeguroBanco, s.PercentualCO,
		s.Coeficiente, s.ParcelaTotal, s.PVTotalFinanciado, s.ValorLiberado, s.ValorLiquido,
		s.CustoConsultoria, s.LiberadoCliente, s.Aprovado).Scan(&s.ID, &s.CreatedAt)
	return s, err
}

// ListSimulacoes devolve as simulações mais recentes primeiro.
func (r *Repository) ListSimulacoes(ctx context.Context, atendimentoID int64, limit int) ([]Simulacao, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, atendimento_id, usuario_id, banco, parcelas, saldo_devedor, seguro_banco, percentual_co,
			coeficiente, parcela_total, pv_total_financiado, valor_liberado, valor_liquido,
			custo_consultoria, liberado_cliente, aprovado, created_at
		FROM atendimento_simulacoes
		WHERE atendimento_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, atendimentoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Simulacao
	for rows.Next() {
		var s Simulacao
		if err := rows.Scan(&s.ID, &s.AtendimentoID, &s.UsuarioID, &s.Banco, &s.Parcelas, &s.SaldoDevedor,
			&s.SeguroBanco, &s.PercentualCO, &s.Coeficiente, &s.ParcelaTotal, &s.PVTotalFinanciado,
			&s.ValorLiberado, &s.ValorLiquido, &s.CustoConsultoria, &s.LiberadoCliente, &s.Aprovado,
			&s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanAtendimento(row pgx.Row) (Atendimento, error) {
	var (
		a     Atendimento
		stage string
	)
	err := row.Scan(&a.ID, &a.CPF, &a.Matricula, &a.Banco, &stage, &a.OwnerAtendente, &a.AssignedTo,
		&a.ValorLiberado, &a.Taxa, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Atendimento{}, repo.ErrNotFound
	}
	if err != nil {
		return Atendimento{}, err
	}
	a.Stage = workflow.Stage(stage)
	return a, nil
}
