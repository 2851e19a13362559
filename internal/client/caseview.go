package client

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lifecaller/esteira/internal/atendimento"
	"github.com/lifecaller/esteira/internal/workflow"
)

// Detail é a tela completa de um caso.
type Detail struct {
	Atendimento atendimento.Atendimento
	Events      []atendimento.Evento
	Actions     atendimento.ActionsView
}

// Detail busca caso, eventos e ações em paralelo.
func (c *Client) Detail(ctx context.Context, id int64) (Detail, error) {
	var d Detail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := c.Get(gctx, id)
		d.Atendimento = a
		return err
	})
	g.Go(func() error {
		ev, err := c.Events(gctx, id)
		d.Events = ev
		return err
	})
	g.Go(func() error {
		act, err := c.Actions(gctx, id)
		d.Actions = act
		return err
	})
	if err := g.Wait(); err != nil {
		return Detail{}, err
	}
	return d, nil
}

// CaseView mantém o último estado conhecido de um caso no cliente.
// Uma ação por vez; recusa de guarda provoca nova leitura, nunca repetição.
type CaseView struct {
	client *Client
	id     int64

	mu       sync.Mutex
	inFlight bool
	detail   Detail
	loaded   bool
}

func NewCaseView(c *Client, id int64) *CaseView {
	return &CaseView{client: c, id: id}
}

// Load substitui o estado local pelo do servidor.
func (v *CaseView) Load(ctx context.Context) error {
	d, err := v.client.Detail(ctx, v.id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.detail = d
	v.loaded = true
	v.mu.Unlock()
	return nil
}

// State devolve o último estado conhecido.
func (v *CaseView) State() (Detail, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.detail, v.loaded
}

// Busy informa se há ação pendente.
func (v *CaseView) Busy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inFlight
}

// Do envia a ação. Com outra ação pendente devolve ErrBusy sem chamar o servidor.
func (v *CaseView) Do(ctx context.Context, action workflow.Action, in TransitionInput) (Transition, error) {
	v.mu.Lock()
	if v.inFlight {
		v.mu.Unlock()
		return Transition{}, ErrBusy
	}
	v.inFlight = true
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.inFlight = false
		v.mu.Unlock()
	}()

	res, err := v.client.Do(ctx, v.id, action, in)
	switch {
	case err == nil:
		v.apply(ctx, res)
		return res, nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidStage), errors.Is(err, ErrUnauthorized):
		if loadErr := v.Load(ctx); loadErr != nil {
			return Transition{}, errors.Join(err, loadErr)
		}
		return Transition{}, err
	default:
		return Transition{}, err
	}
}

func (v *CaseView) apply(ctx context.Context, res Transition) {
	actions, err := v.client.Actions(ctx, v.id)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.detail.Atendimento = res.Atendimento
	v.detail.Events = append(v.detail.Events, res.Evento)
	if err == nil {
		v.detail.Actions = actions
	} else {
		v.detail.Actions = atendimento.ActionsView{Stage: res.Atendimento.Stage}
	}
	v.loaded = true
}
