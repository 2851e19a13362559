package atendimento

import (
	"time"

	"github.com/lifecaller/esteira/internal/coeficiente"
	"github.com/lifecaller/esteira/internal/workflow"
)

// Atendimento é o caso que percorre a esteira.
type Atendimento struct {
	ID              int64          `json:"id"`
	CPF             string         `json:"cpf"`
	Matricula       string         `json:"matricula"`
	Banco           string         `json:"banco"`
	Stage           workflow.Stage `json:"stage"`
	OwnerAtendente  *int64         `json:"owner_atendente"`
	AssignedTo      *int64         `json:"assigned_to"`
	ValorLiberado   *float64       `json:"valor_liberado"`
	Taxa            *float64       `json:"taxa"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LatestSimulacao *Simulacao     `json:"latest_simulacao,omitempty"`
}

// Case projeta o atendimento no modelo da esteira.
func (a Atendimento) Case() workflow.Case {
	return workflow.Case{
		ID:             a.ID,
		Stage:          a.Stage,
		OwnerAtendente: a.OwnerAtendente,
		AssignedTo:     a.AssignedTo,
		ValorLiberado:  a.ValorLiberado,
		Taxa:           a.Taxa,
	}
}

// withCase copia para o atendimento os campos decididos pela esteira.
func (a Atendimento) withCase(c workflow.Case) Atendimento {
	a.Stage = c.Stage
	a.OwnerAtendente = c.OwnerAtendente
	a.AssignedTo = c.AssignedTo
	a.ValorLiberado = c.ValorLiberado
	a.Taxa = c.Taxa
	return a
}

// Evento é o registro imutável de uma transição ou nota.
type Evento struct {
	ID            int64     `json:"id"`
	AtendimentoID int64     `json:"atendimento_id"`
	EventType     string    `json:"event_type"`
	UsuarioID     *int64    `json:"usuario_id"`
	Note          string    `json:"note,omitempty"`
	OldValue      *string   `json:"old_value"`
	NewValue      *string   `json:"new_value"`
	CreatedAt     time.Time `json:"created_at"`
}

// Simulacao guarda uma cotação feita sobre o atendimento.
type Simulacao struct {
	ID            int64  `json:"id"`
	AtendimentoID int64  `json:"atendimento_id"`
	UsuarioID     *int64 `json:"usuario_id"`
	coeficiente.QuoteInput
	coeficiente.Quote
	CreatedAt time.Time `json:"created_at"`
}

// CreateInput são os campos de abertura do atendimento.
type CreateInput struct {
	CPF       string `json:"cpf"`
	Matricula string `json:"matricula"`
	Banco     string `json:"banco"`
}

// UpdateInput altera campos de classificação.
type UpdateInput struct {
	CPF       *string `json:"cpf"`
	Matricula *string `json:"matricula"`
	Banco     *string `json:"banco"`
}

// ListFilter combina filtros e paginação da listagem.
type ListFilter struct {
	Stage          workflow.Stage
	OwnerAtendente *int64
	AssignedTo     *int64
	Banco          string
	CPF            string
	Matricula      string
	Q              string
	Page           int
	PageSize       int
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = defaultPageSize
	case f.PageSize > maxPageSize:
		f.PageSize = maxPageSize
	}
	return f
}

// Page é a resposta paginada da listagem.
type Page struct {
	Results  []Atendimento `json:"results"`
	Count    int           `json:"count"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// ImportResult resume uma importação em lote.
type ImportResult struct {
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
	Format   string   `json:"format"`
}

// ActionsView informa ao cliente o que o usuário pode fazer no caso.
type ActionsView struct {
	Stage            workflow.Stage    `json:"stage"`
	NextStage        *workflow.Stage   `json:"next_stage"`
	AvailableActions []workflow.Action `json:"available_actions"`
	CanClaim         bool              `json:"can_claim"`
	CanRelease       bool              `json:"can_release"`
	CanForward       bool              `json:"can_forward"`
	CanCalculate     bool              `json:"can_calculate"`
	CanSimulate      bool              `json:"can_simulate"`
}
