package atendimento

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lifecaller/esteira/internal/coeficiente"
	"github.com/lifecaller/esteira/internal/db"
	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/workflow"
)

// memStore guarda tudo em memória; memTx serializa as transações e desfaz
// as alterações quando a função retorna erro.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	cases   map[int64]Atendimento
	events  []Evento
	sims    []Simulacao
	clock   time.Time
	counted int
}

func newMemStore() *memStore {
	return &memStore{cases: map[int64]Atendimento{}, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) Create(ctx context.Context, q db.Querier, in CreateInput) (Atendimento, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.cases {
		if a.CPF == in.CPF && a.Matricula == in.Matricula {
			return Atendimento{}, repo.ErrDuplicate
		}
	}
	m.nextID++
	now := m.tick()
	a := Atendimento{ID: m.nextID, CPF: in.CPF, Matricula: in.Matricula, Banco: in.Banco, Stage: workflow.StageEsteiraGlobal, CreatedAt: now, UpdatedAt: now}
	m.cases[a.ID] = a
	return a, nil
}

func (m *memStore) Get(ctx context.Context, id int64) (Atendimento, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.cases[id]
	if !ok {
		return Atendimento{}, repo.ErrNotFound
	}
	return a, nil
}

func (m *memStore) GetForUpdate(ctx context.Context, q db.Querier, id int64) (Atendimento, error) {
	return m.Get(ctx, id)
}

func (m *memStore) matching(f ListFilter) []Atendimento {
	var out []Atendimento
	for _, a := range m.cases {
		if f.Stage != "" && a.Stage != f.Stage {
			continue
		}
		if f.AssignedTo != nil && (a.AssignedTo == nil || *a.AssignedTo != *f.AssignedTo) {
			continue
		}
		if f.OwnerAtendente != nil && (a.OwnerAtendente == nil || *a.OwnerAtendente != *f.OwnerAtendente) {
			continue
		}
		if f.Banco != "" && a.Banco != strings.ToLower(f.Banco) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) List(ctx context.Context, f ListFilter) ([]Atendimento, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.matching(f)
	start := (f.Page - 1) * f.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + f.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *memStore) Each(ctx context.Context, f ListFilter, fn func(Atendimento) error) error {
	m.mu.Lock()
	all := m.matching(f)
	m.mu.Unlock()
	for _, a := range all {
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) Update(ctx context.Context, q db.Querier, id int64, in CreateInput) (Atendimento, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.cases[id]
	if !ok {
		return Atendimento{}, repo.ErrNotFound
	}
	a.CPF, a.Matricula, a.Banco = in.CPF, in.Matricula, in.Banco
	a.UpdatedAt = m.tick()
	m.cases[id] = a
	return a, nil
}

func (m *memStore) SaveTransition(ctx context.Context, q db.Querier, a Atendimento) (Atendimento, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.UpdatedAt = m.tick()
	m.cases[a.ID] = a
	return a, nil
}

func (m *memStore) InsertEvent(ctx context.Context, q db.Querier, e Evento) (Evento, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	e.CreatedAt = m.tick()
	m.events = append(m.events, e)
	return e, nil
}

func (m *memStore) ListEvents(ctx context.Context, id int64) ([]Evento, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Evento
	for _, e := range m.events {
		if e.AtendimentoID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.cases, id)
	return nil
}

func (m *memStore) UpsertByCPFMatricula(ctx context.Context, q db.Querier, in CreateInput) (Atendimento, bool, error) {
	m.mu.Lock()
	for id, a := range m.cases {
		if a.CPF == in.CPF && a.Matricula == in.Matricula {
			a.Banco = in.Banco
			a.UpdatedAt = m.tick()
			m.cases[id] = a
			m.mu.Unlock()
			return a, false, nil
		}
	}
	m.mu.Unlock()
	a, err := m.Create(ctx, q, in)
	return a, true, err
}

func (m *memStore) QueueCounts(ctx context.Context) (map[workflow.Stage]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counted++
	out := map[workflow.Stage]int{}
	for _, a := range m.cases {
		out[a.Stage]++
	}
	return out, nil
}

func (m *memStore) InsertSimulacao(ctx context.Context, s Simulacao) (Simulacao, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.sims) + 1)
	s.CreatedAt = m.tick()
	m.sims = append(m.sims, s)
	return s, nil
}

func (m *memStore) ListSimulacoes(ctx context.Context, id int64, limit int) ([]Simulacao, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Simulacao
	for i := len(m.sims) - 1; i >= 0 && len(out) < limit; i-- {
		if m.sims[i].AtendimentoID == id {
			out = append(out, m.sims[i])
		}
	}
	return out, nil
}

type memTx struct {
	mu    sync.Mutex
	store *memStore
}

func (t *memTx) WithTx(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.store.mu.Lock()
	cases := make(map[int64]Atendimento, len(t.store.cases))
	for k, v := range t.store.cases {
		cases[k] = v
	}
	events := append([]Evento(nil), t.store.events...)
	nextID := t.store.nextID
	t.store.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		t.store.mu.Lock()
		t.store.cases, t.store.events, t.store.nextID = cases, events, nextID
		t.store.mu.Unlock()
		return err
	}
	return nil
}

type fixedQuoter struct {
	coef float64
}

func (f fixedQuoter) Quote(ctx context.Context, in coeficiente.QuoteInput) (coeficiente.QuoteInput, coeficiente.Quote, error) {
	normalized, err := in.Normalize()
	if err != nil {
		return coeficiente.QuoteInput{}, coeficiente.Quote{}, err
	}
	return normalized, coeficiente.Compute(normalized, f.coef), nil
}

type staticStats map[workflow.Stage]int

func (s staticStats) Read(ctx context.Context) (map[workflow.Stage]int, bool) {
	return s, s != nil
}
