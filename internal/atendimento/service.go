package atendimento

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/lifecaller/esteira/internal/coeficiente"
	"github.com/lifecaller/esteira/internal/db"
	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/workflow"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "esteira_transicoes_total",
	Help: "Transições da esteira por ação e resultado.",
}, []string{"action", "result"})

// Store é o contrato de persistência usado pelo serviço.
type Store interface {
	Create(ctx context.Context, q db.Querier, in CreateInput) (Atendimento, error)
	Get(ctx context.Context, id int64) (Atendimento, error)
	GetForUpdate(ctx context.Context, q db.Querier, id int64) (Atendimento, error)
	List(ctx context.Context, filter ListFilter) ([]Atendimento, int, error)
	Each(ctx context.Context, filter ListFilter, fn func(Atendimento) error) error
	Update(ctx context.Context, q db.Querier, id int64, in CreateInput) (Atendimento, error)
	SaveTransition(ctx context.Context, q db.Querier, a Atendimento) (Atendimento, error)
	InsertEvent(ctx context.Context, q db.Querier, e Evento) (Evento, error)
	ListEvents(ctx context.Context, atendimentoID int64) ([]Evento, error)
	Delete(ctx context.Context, id int64) error
	UpsertByCPFMatricula(ctx context.Context, q db.Querier, in CreateInput) (Atendimento, bool, error)
	QueueCounts(ctx context.Context) (map[workflow.Stage]int, error)
	InsertSimulacao(ctx context.Context, s Simulacao) (Simulacao, error)
	ListSimulacoes(ctx context.Context, atendimentoID int64, limit int) ([]Simulacao, error)
}

// Quoter calcula simulações a partir da tabela de coeficientes.
type Quoter interface {
	Quote(ctx context.Context, in coeficiente.QuoteInput) (coeficiente.QuoteInput, coeficiente.Quote, error)
}

// StatsReader lê a contagem por etapa já calculada em segundo plano.
type StatsReader interface {
	Read(ctx context.Context) (map[workflow.Stage]int, bool)
}

// Service aplica as regras da esteira sobre a persistência.
type Service struct {
	store  Store
	tx     db.TxRunner
	quoter Quoter
	stats  StatsReader
	logger zerolog.Logger
}

func NewService(store Store, tx db.TxRunner, quoter Quoter, logger zerolog.Logger) *Service {
	return &Service{store: store, tx: tx, quoter: quoter, logger: logger}
}

// WithStats conecta o snapshot periódico usado por QueueStats.
func (s *Service) WithStats(stats StatsReader) *Service {
	s.stats = stats
	return s
}

func (s *Service) Create(ctx context.Context, actor workflow.Actor, in CreateInput) (Atendimento, error) {
	if !actor.CanIntake() {
		return Atendimento{}, denied("requer papel de atendimento")
	}
	normalized, err := in.normalize()
	if err != nil {
		return Atendimento{}, err
	}

	var created Atendimento
	err = s.tx.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		a, err := s.store.Create(ctx, q, normalized)
		if err != nil {
			return err
		}
		stage := string(a.Stage)
		if _, err := s.store.InsertEvent(ctx, q, Evento{
			AtendimentoID: a.ID,
			EventType:     workflow.EventCreated,
			UsuarioID:     &actor.ID,
			NewValue:      &stage,
		}); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return Atendimento{}, err
	}

	s.logger.Info().Int64("atendimento_id", created.ID).Int64("user_id", actor.ID).Msg("atendimento criado")
	return created, nil
}

// Get devolve o atendimento com a simulação mais recente.
func (s *Service) Get(ctx context.Context, id int64) (Atendimento, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return Atendimento{}, err
	}
	sims, err := s.store.ListSimulacoes(ctx, id, 1)
	if err != nil {
		return Atendimento{}, err
	}
	if len(sims) > 0 {
		a.LatestSimulacao = &sims[0]
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) (Page, error) {
	filter = filter.normalized()
	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Atendimento{}
	}
	return Page{Results: items, Count: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

var queueStages = map[string]workflow.Stage{
	"esteira":    workflow.StageEsteiraGlobal,
	"calculista": workflow.StageCalculista,
	"pos_sim":    workflow.StageAtendentePosSim,
	"gerente":    workflow.StageGerenteFechamento,
	"docs":       workflow.StageAtendenteDocs,
	"financeiro": workflow.StageFinanceiro,
	"supervisao": workflow.StageContratosSupervisao,
}

// QueueFilter traduz o nome da fila para filtros de listagem.
func QueueFilter(actor workflow.Actor, name string) (ListFilter, error) {
	if name == "meus" {
		return ListFilter{AssignedTo: &actor.ID}, nil
	}
	stage, ok := queueStages[name]
	if !ok {
		return ListFilter{}, &workflow.ValidationError{Field: "queue", Message: "fila desconhecida: " + name}
	}
	return ListFilter{Stage: stage}, nil
}

func (s *Service) Queue(ctx context.Context, actor workflow.Actor, name string, page, pageSize int) (Page, error) {
	filter, err := QueueFilter(actor, name)
	if err != nil {
		return Page{}, err
	}
	filter.Page, filter.PageSize = page, pageSize
	return s.List(ctx, filter)
}

// QueueStats devolve a contagem por etapa e o total; usa o snapshot quando disponível.
func (s *Service) QueueStats(ctx context.Context) (map[string]int, error) {
	var (
		counts map[workflow.Stage]int
		ok     bool
	)
	if s.stats != nil {
		counts, ok = s.stats.Read(ctx)
	}
	if !ok {
		var err error
		if counts, err = s.store.QueueCounts(ctx); err != nil {
			return nil, err
		}
	}

	out := make(map[string]int, len(counts)+1)
	total := 0
	for _, stage := range workflow.Stages() {
		out[string(stage)] = counts[stage]
		total += counts[stage]
	}
	out["total"] = total
	return out, nil
}

// Update altera CPF, matrícula ou banco enquanto o caso está na entrada.
func (s *Service) Update(ctx context.Context, actor workflow.Actor, id int64, in UpdateInput) (Atendimento, error) {
	var updated Atendimento
	err := s.tx.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		current, err := s.store.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if err := canEdit(actor, current); err != nil {
			return err
		}

		merged := CreateInput{CPF: current.CPF, Matricula: current.Matricula, Banco: current.Banco}
		if in.CPF != nil {
			merged.CPF = *in.CPF
		}
		if in.Matricula != nil {
			merged.Matricula = *in.Matricula
		}
		if in.Banco != nil {
			merged.Banco = *in.Banco
		}
		normalized, err := merged.normalize()
		if err != nil {
			return err
		}

		a, err := s.store.Update(ctx, q, id, normalized)
		if err != nil {
			return err
		}
		oldValue := classification(current.CPF, current.Matricula, current.Banco)
		newValue := classification(a.CPF, a.Matricula, a.Banco)
		if _, err := s.store.InsertEvent(ctx, q, Evento{
			AtendimentoID: id,
			EventType:     workflow.EventUpdated,
			UsuarioID:     &actor.ID,
			OldValue:      &oldValue,
			NewValue:      &newValue,
		}); err != nil {
			return err
		}
		updated = a
		return nil
	})
	return updated, err
}

func canEdit(actor workflow.Actor, a Atendimento) error {
	switch a.Stage {
	case workflow.StageEsteiraGlobal:
		if actor.CanIntake() {
			return nil
		}
	case workflow.StageAtendente:
		if actor.IsManagement() || (a.OwnerAtendente != nil && *a.OwnerAtendente == actor.ID) {
			return nil
		}
	default:
		return &workflow.TransitionError{Kind: workflow.ErrInvalidStage, Action: "update", Stage: a.Stage, Message: "dados só podem ser alterados na entrada"}
	}
	return &workflow.TransitionError{Kind: workflow.ErrUnauthorized, Action: "update", Stage: a.Stage, Message: "sem permissão para alterar o atendimento"}
}

// Delete remove o atendimento (override administrativo).
func (s *Service) Delete(ctx context.Context, actor workflow.Actor, id int64) error {
	if !actor.IsAdmin() {
		return denied("requer admin")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Warn().Int64("atendimento_id", id).Int64("user_id", actor.ID).Msg("atendimento removido")
	return nil
}

// Transition aplica a ação com a linha travada; caso e evento são gravados
// na mesma transação.
func (s *Service) Transition(ctx context.Context, actor workflow.Actor, id int64, action workflow.Action, p workflow.Payload) (Atendimento, Evento, error) {
	var (
		out Atendimento
		ev  Evento
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		current, err := s.store.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		res, err := workflow.Apply(actor, action, current.Case(), p)
		if err != nil {
			return err
		}

		next := current.withCase(res.Case)
		if mutatesCase(res.EventType) {
			if next, err = s.store.SaveTransition(ctx, q, next); err != nil {
				return err
			}
		}
		if ev, err = s.store.InsertEvent(ctx, q, eventFor(actor, current, next, res)); err != nil {
			return err
		}
		out = next
		return nil
	})

	transitionsTotal.WithLabelValues(string(action), outcome(err)).Inc()
	if err != nil {
		s.logger.Debug().Err(err).Int64("atendimento_id", id).Str("action", string(action)).Msg("transição recusada")
		return Atendimento{}, Evento{}, err
	}

	s.logger.Info().
		Int64("atendimento_id", id).
		Int64("user_id", actor.ID).
		Str("action", string(action)).
		Str("event", ev.EventType).
		Str("stage", string(out.Stage)).
		Msg("transição aplicada")
	return out, ev, nil
}

func mutatesCase(eventType string) bool {
	switch eventType {
	case workflow.EventClaimed, workflow.EventReleased, workflow.EventForwarded, workflow.EventCalculated:
		return true
	}
	return false
}

func eventFor(actor workflow.Actor, before, after Atendimento, res workflow.Result) Evento {
	ev := Evento{
		AtendimentoID: before.ID,
		EventType:     res.EventType,
		UsuarioID:     &actor.ID,
		Note:          res.Note,
	}
	switch res.EventType {
	case workflow.EventNote:
	case workflow.EventCalculated:
		ev.OldValue = financials(before)
		ev.NewValue = financials(after)
	default:
		from, to := string(res.FromStage), string(res.ToStage)
		ev.OldValue, ev.NewValue = &from, &to
	}
	return ev
}

func financials(a Atendimento) *string {
	if a.ValorLiberado == nil || a.Taxa == nil {
		return nil
	}
	v := "valor_liberado=" + strconv.FormatFloat(*a.ValorLiberado, 'f', 2, 64) + " taxa=" + strconv.FormatFloat(*a.Taxa, 'f', 4, 64)
	return &v
}

func classification(cpf, matricula, banco string) string {
	return "cpf=" + cpf + " matricula=" + matricula + " banco=" + banco
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, workflow.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, workflow.ErrInvalidStage):
		return "invalid_stage"
	case errors.Is(err, workflow.ErrConflict):
		return "conflict"
	case errors.Is(err, workflow.ErrValidation):
		return "validation"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Actions descreve as ações disponíveis para o ator no estado atual.
func (s *Service) Actions(ctx context.Context, actor workflow.Actor, id int64) (ActionsView, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return ActionsView{}, err
	}
	return actionsView(actor, a.Case()), nil
}

func actionsView(actor workflow.Actor, c workflow.Case) ActionsView {
	view := ActionsView{
		Stage:            c.Stage,
		AvailableActions: workflow.Available(actor, c),
		CanSimulate:      actor.CanSimulate(),
	}
	if next, ok := workflow.NextStage(c.Stage); ok {
		view.NextStage = &next
	}
	for _, action := range view.AvailableActions {
		switch action {
		case workflow.ActionClaim:
			view.CanClaim = true
		case workflow.ActionRelease:
			view.CanRelease = true
		case workflow.ActionForward:
			view.CanForward = true
		case workflow.ActionCalculate:
			view.CanCalculate = true
		}
	}
	return view
}

// Simulate calcula a cotação e guarda no histórico sem alterar o caso.
func (s *Service) Simulate(ctx context.Context, actor workflow.Actor, id int64, in coeficiente.QuoteInput) (Simulacao, error) {
	if !actor.CanSimulate() {
		return Simulacao{}, denied("requer calculista ou gestão")
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return Simulacao{}, err
	}
	if strings.TrimSpace(in.Banco) == "" {
		in.Banco = a.Banco
	}

	normalized, quote, err := s.quoter.Quote(ctx, in)
	if err != nil {
		return Simulacao{}, err
	}
	sim, err := s.store.InsertSimulacao(ctx, Simulacao{
		AtendimentoID: id,
		UsuarioID:     &actor.ID,
		QuoteInput:    normalized,
		Quote:         quote,
	})
	if err != nil {
		return Simulacao{}, err
	}
	s.logger.Info().Int64("atendimento_id", id).Bool("aprovado", quote.Aprovado).Msg("simulação registrada")
	return sim, nil
}

func (s *Service) Simulacoes(ctx context.Context, id int64) ([]Simulacao, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	sims, err := s.store.ListSimulacoes(ctx, id, 50)
	if sims == nil && err == nil {
		sims = []Simulacao{}
	}
	return sims, err
}

// Events devolve o histórico do atendimento em ordem cronológica.
func (s *Service) Events(ctx context.Context, id int64) ([]Evento, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, id)
	if events == nil && err == nil {
		events = []Evento{}
	}
	return events, err
}

// Import carrega CSV ou relatório iNETConsig. Linhas inválidas são
// reportadas em Errors; as válidas são gravadas numa única transação.
func (s *Service) Import(ctx context.Context, actor workflow.Actor, filename string, r io.Reader) (ImportResult, error) {
	if !actor.CanIntake() {
		return ImportResult{}, denied("requer papel de atendimento")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ImportResult{}, &workflow.ValidationError{Field: "file", Message: "falha ao ler arquivo"}
	}

	lines, errs, format, err := parseImport(filename, data)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Errors: errs, Format: format}
	if res.Errors == nil {
		res.Errors = []string{}
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		for _, line := range lines {
			a, created, err := s.store.UpsertByCPFMatricula(ctx, q, line.in)
			if err != nil {
				return fmt.Errorf("linha %d: %w", line.line, err)
			}
			eventType := workflow.EventImported
			if created {
				eventType = workflow.EventCreated
				res.Created++
			} else {
				res.Updated++
			}
			if _, err := s.store.InsertEvent(ctx, q, Evento{
				AtendimentoID: a.ID,
				EventType:     eventType,
				UsuarioID:     &actor.ID,
				Note:          "importação " + format,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	res.Imported = res.Created + res.Updated
	s.logger.Info().
		Str("format", format).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("errors", len(res.Errors)).
		Msg("importação concluída")
	return res, nil
}

// Export escreve os atendimentos filtrados em CSV.
func (s *Service) Export(ctx context.Context, w io.Writer, filter ListFilter) error {
	var buf bytes.Buffer
	cw, write, err := writeExport(&buf)
	if err != nil {
		return err
	}
	if err := s.store.Each(ctx, filter, write); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func denied(msg string) error {
	return fmt.Errorf("%w: %s", workflow.ErrUnauthorized, msg)
}
