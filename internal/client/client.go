package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lifecaller/esteira/internal/atendimento"
	"github.com/lifecaller/esteira/internal/coeficiente"
	"github.com/lifecaller/esteira/internal/workflow"
)

// Client fala com a API da esteira.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New cria o cliente; baseURL sem barra final (ex.: http://localhost:8080).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cb = newBreaker("esteira-api")
	return c
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransport)
		},
	})
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// do executa uma chamada sem retry; erros de transporte abrem o circuito.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, payload, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &transportError{err: err}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: err}
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 500 {
				return &transportError{err: fmt.Errorf("status %d", resp.StatusCode)}
			}
			return fmt.Errorf("resposta inválida (status %d): %w", resp.StatusCode, err)
		}
	}

	if resp.StatusCode >= 400 {
		body := errorBody{}
		if env.Error != nil {
			body = *env.Error
		}
		apiErr := newAPIError(resp.StatusCode, body)
		if errors.Is(apiErr, ErrTransport) {
			return &transportError{err: apiErr}
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// Tokens é o par emitido por /auth/token e /auth/refresh.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Profile é o retorno de /me.
type Profile struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Groups   []string `json:"groups"`
}

// Login autentica e passa a usar o token de acesso recebido.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	var t Tokens
	if err := c.do(ctx, http.MethodPost, "/auth/token/", map[string]string{"username": username, "password": password}, &t); err != nil {
		return Tokens{}, err
	}
	c.SetToken(t.Access)
	return t, nil
}

func (c *Client) Refresh(ctx context.Context, refresh string) (Tokens, error) {
	var t Tokens
	if err := c.do(ctx, http.MethodPost, "/auth/refresh/", map[string]string{"refresh": refresh}, &t); err != nil {
		return Tokens{}, err
	}
	c.SetToken(t.Access)
	return t, nil
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var p Profile
	err := c.do(ctx, http.MethodGet, "/me/", nil, &p)
	return p, err
}

// ListQuery filtra a listagem de atendimentos.
type ListQuery struct {
	Queue    string
	Stage    workflow.Stage
	Banco    string
	CPF      string
	Q        string
	Page     int
	PageSize int
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Stage != "" {
		v.Set("stage", string(q.Stage))
	}
	if q.Banco != "" {
		v.Set("banco", q.Banco)
	}
	if q.CPF != "" {
		v.Set("cpf", q.CPF)
	}
	if q.Q != "" {
		v.Set("q", q.Q)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	return v
}

// List consulta /atendimentos/ ou, com Queue preenchido, a fila nomeada.
func (c *Client) List(ctx context.Context, q ListQuery) (atendimento.Page, error) {
	path := "/atendimentos/"
	if q.Queue != "" {
		path = "/atendimentos/queue/" + url.PathEscape(q.Queue) + "/"
	}
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}
	var page atendimento.Page
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func (c *Client) Get(ctx context.Context, id int64) (atendimento.Atendimento, error) {
	var a atendimento.Atendimento
	err := c.do(ctx, http.MethodGet, casePath(id, ""), nil, &a)
	return a, err
}

func (c *Client) Create(ctx context.Context, in atendimento.CreateInput) (atendimento.Atendimento, error) {
	var a atendimento.Atendimento
	err := c.do(ctx, http.MethodPost, "/atendimentos/", in, &a)
	return a, err
}

func (c *Client) Events(ctx context.Context, id int64) ([]atendimento.Evento, error) {
	var out []atendimento.Evento
	err := c.do(ctx, http.MethodGet, casePath(id, "events"), nil, &out)
	return out, err
}

func (c *Client) Actions(ctx context.Context, id int64) (atendimento.ActionsView, error) {
	var out atendimento.ActionsView
	err := c.do(ctx, http.MethodGet, casePath(id, "actions"), nil, &out)
	return out, err
}

func (c *Client) Simulate(ctx context.Context, id int64, in coeficiente.QuoteInput) (atendimento.Simulacao, error) {
	var out atendimento.Simulacao
	err := c.do(ctx, http.MethodPost, casePath(id, "simulate"), in, &out)
	return out, err
}

// Coeficientes lista a tabela; parcelas 0 não filtra.
func (c *Client) Coeficientes(ctx context.Context, banco string, parcelas int) ([]coeficiente.Coeficiente, error) {
	v := url.Values{}
	if banco != "" {
		v.Set("banco", banco)
	}
	if parcelas > 0 {
		v.Set("parcelas", strconv.Itoa(parcelas))
	}
	path := "/coeficientes/"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}
	var out struct {
		Results []coeficiente.Coeficiente `json:"results"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Results, err
}

// TransitionInput reúne os campos aceitos pelas ações da esteira.
type TransitionInput struct {
	Note                string   `json:"note,omitempty"`
	Approved            *bool    `json:"approved,omitempty"`
	ContratoFormalizado *bool    `json:"contrato_formalizado,omitempty"`
	Stage               string   `json:"stage,omitempty"`
	ValorLiberado       *float64 `json:"valor_liberado,omitempty"`
	Taxa                *float64 `json:"taxa,omitempty"`
}

// Transition é a resposta de uma ação: o caso atualizado e o evento gravado.
type Transition struct {
	Atendimento atendimento.Atendimento `json:"atendimento"`
	Evento      atendimento.Evento      `json:"evento"`
}

var actionPaths = map[workflow.Action]string{
	workflow.ActionClaim:     "claim",
	workflow.ActionRelease:   "release",
	workflow.ActionForward:   "forward",
	workflow.ActionAnnotate:  "note",
	workflow.ActionCalculate: "calculate",
}

// Do executa a ação sobre o caso.
func (c *Client) Do(ctx context.Context, id int64, action workflow.Action, in TransitionInput) (Transition, error) {
	suffix, ok := actionPaths[action]
	if !ok {
		return Transition{}, fmt.Errorf("%w: ação desconhecida %q", ErrValidation, action)
	}
	var out Transition
	err := c.do(ctx, http.MethodPost, casePath(id, suffix), in, &out)
	return out, err
}

func (c *Client) Claim(ctx context.Context, id int64) (Transition, error) {
	return c.Do(ctx, id, workflow.ActionClaim, TransitionInput{})
}

func (c *Client) Release(ctx context.Context, id int64, note string) (Transition, error) {
	return c.Do(ctx, id, workflow.ActionRelease, TransitionInput{Note: note})
}

func (c *Client) Forward(ctx context.Context, id int64, in TransitionInput) (Transition, error) {
	return c.Do(ctx, id, workflow.ActionForward, in)
}

func (c *Client) Note(ctx context.Context, id int64, note string) (Transition, error) {
	return c.Do(ctx, id, workflow.ActionAnnotate, TransitionInput{Note: note})
}

func (c *Client) Calculate(ctx context.Context, id int64, valorLiberado, taxa float64) (Transition, error) {
	return c.Do(ctx, id, workflow.ActionCalculate, TransitionInput{ValorLiberado: &valorLiberado, Taxa: &taxa})
}

func casePath(id int64, suffix string) string {
	path := "/atendimentos/" + strconv.FormatInt(id, 10) + "/"
	if suffix != "" {
		path += suffix + "/"
	}
	return path
}
