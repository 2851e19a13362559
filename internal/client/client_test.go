package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lifecaller/esteira/internal/atendimento"
	"github.com/lifecaller/esteira/internal/workflow"
)

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": code, "message": msg}})
}

func int64Ptr(v int64) *int64 { return &v }

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   error
	}{
		{http.StatusUnauthorized, "AUTH", ErrUnauthorized},
		{http.StatusForbidden, "FORBIDDEN", ErrUnauthorized},
		{http.StatusConflict, "INVALID_STAGE", ErrInvalidStage},
		{http.StatusConflict, "CONFLICT", ErrConflict},
		{http.StatusBadRequest, "VALIDATION", ErrValidation},
		{http.StatusNotFound, "NOT_FOUND", ErrNotFound},
		{http.StatusTooManyRequests, "RATE_LIMIT", ErrTransport},
		{http.StatusInternalServerError, "INTERNAL", ErrTransport},
		{http.StatusBadGateway, "", ErrTransport},
	}
	for _, tc := range tests {
		t.Run(tc.code+"-"+http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.code == "" {
					w.WriteHeader(tc.status)
					_, _ = w.Write([]byte("<html>bad gateway</html>"))
					return
				}
				writeErr(w, tc.status, tc.code, "recusado")
			}))
			defer srv.Close()

			_, err := New(srv.URL).Get(context.Background(), 1)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	if _, err := New(url).Me(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error got %v", err)
	}
}

func TestLoginUsesAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token/":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["username"] != "ana" || body["password"] != "segredo" {
				writeErr(w, http.StatusUnauthorized, "AUTH", "credenciais inválidas")
				return
			}
			writeData(w, http.StatusOK, map[string]string{"access": "tok-1", "refresh": "ref-1"})
		case "/me/":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				writeErr(w, http.StatusUnauthorized, "AUTH", "token ausente")
				return
			}
			writeData(w, http.StatusOK, Profile{ID: 7, Username: "ana", Groups: []string{"atendente"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Login(context.Background(), "ana", "errada"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized got %v", err)
	}
	tokens, err := c.Login(context.Background(), "ana", "segredo")
	if err != nil || tokens.Refresh != "ref-1" {
		t.Fatalf("login: %v %+v", err, tokens)
	}
	me, err := c.Me(context.Background())
	if err != nil || me.ID != 7 {
		t.Fatalf("me: %v %+v", err, me)
	}
}

func TestBreakerIgnoresDomainErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeErr(w, http.StatusConflict, "INVALID_STAGE", "etapa")
	}))
	defer srv.Close()

	c := New(srv.URL)
	for i := 0; i < 10; i++ {
		if _, err := c.Claim(context.Background(), 1); !errors.Is(err, ErrInvalidStage) {
			t.Fatalf("call %d: expected invalid stage got %v", i, err)
		}
	}
	if hits.Load() != 10 {
		t.Fatalf("expected every call to reach the server got %d", hits.Load())
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeErr(w, http.StatusInternalServerError, "INTERNAL", "erro interno")
	}))
	defer srv.Close()

	c := New(srv.URL)
	for i := 0; i < 8; i++ {
		if _, err := c.Get(context.Background(), 1); !errors.Is(err, ErrTransport) {
			t.Fatalf("call %d: expected transport error got %v", i, err)
		}
	}
	if hits.Load() != 5 {
		t.Fatalf("expected breaker to stop calls after 5 failures got %d", hits.Load())
	}
}

// fakeServer guarda um único caso e conta chamadas por rota.
type fakeServer struct {
	mu      sync.Mutex
	caso    atendimento.Atendimento
	calls   map[string]int
	claim   func(w http.ResponseWriter, r *http.Request)
	down    bool
	entered chan struct{}
	release chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		caso:  atendimento.Atendimento{ID: 1, CPF: "123.456.789-01", Matricula: "1", Banco: "itau", Stage: workflow.StageEsteiraGlobal},
		calls: map[string]int{},
	}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.Method+" "+r.URL.Path]++
	caso := f.caso
	claim := f.claim
	down := f.down
	f.mu.Unlock()

	switch r.URL.Path {
	case "/atendimentos/1/":
		if down {
			writeErr(w, http.StatusBadGateway, "INTERNAL", "gateway")
			return
		}
		writeData(w, http.StatusOK, caso)
	case "/atendimentos/1/events/":
		writeData(w, http.StatusOK, []atendimento.Evento{{ID: 1, AtendimentoID: 1, EventType: workflow.EventCreated}})
	case "/atendimentos/1/actions/":
		view := atendimento.ActionsView{Stage: caso.Stage}
		if caso.OwnerAtendente == nil {
			view.CanClaim = true
			view.AvailableActions = []workflow.Action{workflow.ActionClaim, workflow.ActionAnnotate}
		} else {
			view.AvailableActions = []workflow.Action{workflow.ActionAnnotate}
		}
		writeData(w, http.StatusOK, view)
	case "/atendimentos/1/claim/":
		claim(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func TestCaseViewRefetchesOnConflict(t *testing.T) {
	fake := newFakeServer()
	fake.claim = func(w http.ResponseWriter, r *http.Request) {
		fake.mu.Lock()
		fake.caso.Stage = workflow.StageAtendente
		fake.caso.OwnerAtendente = int64Ptr(8)
		fake.mu.Unlock()
		writeErr(w, http.StatusConflict, "CONFLICT", "atendimento já assumido")
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	view := NewCaseView(New(srv.URL), 1)
	ctx := context.Background()
	if err := view.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if d, _ := view.State(); !d.Actions.CanClaim {
		t.Fatalf("expected claim available before race")
	}

	if _, err := view.Do(ctx, workflow.ActionClaim, TransitionInput{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
	d, _ := view.State()
	if d.Atendimento.OwnerAtendente == nil || *d.Atendimento.OwnerAtendente != 8 || d.Actions.CanClaim {
		t.Fatalf("expected fresh server state after conflict %+v", d)
	}
	if fake.count("POST /atendimentos/1/claim/") != 1 {
		t.Fatalf("claim must not be retried")
	}
	if fake.count("GET /atendimentos/1/") != 2 {
		t.Fatalf("expected a refetch after conflict got %d", fake.count("GET /atendimentos/1/"))
	}
}

func TestCaseViewReportsFailedRefetch(t *testing.T) {
	fake := newFakeServer()
	fake.claim = func(w http.ResponseWriter, r *http.Request) {
		fake.mu.Lock()
		fake.down = true
		fake.mu.Unlock()
		writeErr(w, http.StatusConflict, "CONFLICT", "atendimento já assumido")
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	view := NewCaseView(New(srv.URL), 1)
	ctx := context.Background()
	if err := view.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	_, err := view.Do(ctx, workflow.ActionClaim, TransitionInput{})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected refetch failure to be reported, got %v", err)
	}
}

func TestCaseViewKeepsStateOnTransportError(t *testing.T) {
	fake := newFakeServer()
	fake.claim = func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusBadGateway, "INTERNAL", "gateway")
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	view := NewCaseView(New(srv.URL), 1)
	ctx := context.Background()
	if err := view.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	before, _ := view.State()

	if _, err := view.Do(ctx, workflow.ActionClaim, TransitionInput{}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error got %v", err)
	}
	after, _ := view.State()
	if after.Atendimento.Stage != before.Atendimento.Stage || !after.Actions.CanClaim {
		t.Fatalf("state must be untouched on transport error")
	}
	if fake.count("GET /atendimentos/1/") != 1 {
		t.Fatalf("no refetch expected on transport error")
	}
	if view.Busy() {
		t.Fatalf("in-flight flag must be cleared")
	}
}

func TestCaseViewSingleInFlight(t *testing.T) {
	fake := newFakeServer()
	fake.entered = make(chan struct{})
	fake.release = make(chan struct{})
	fake.claim = func(w http.ResponseWriter, r *http.Request) {
		close(fake.entered)
		<-fake.release
		fake.mu.Lock()
		fake.caso.Stage = workflow.StageAtendente
		fake.caso.OwnerAtendente = int64Ptr(7)
		fake.caso.AssignedTo = int64Ptr(7)
		caso := fake.caso
		fake.mu.Unlock()
		writeData(w, http.StatusOK, Transition{Atendimento: caso, Evento: atendimento.Evento{ID: 2, AtendimentoID: 1, EventType: workflow.EventClaimed}})
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	view := NewCaseView(New(srv.URL), 1)
	ctx := context.Background()
	if err := view.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := view.Do(ctx, workflow.ActionClaim, TransitionInput{})
		done <- err
	}()
	<-fake.entered

	if _, err := view.Do(ctx, workflow.ActionClaim, TransitionInput{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy got %v", err)
	}
	close(fake.release)
	if err := <-done; err != nil {
		t.Fatalf("claim: %v", err)
	}

	d, _ := view.State()
	if d.Atendimento.Stage != workflow.StageAtendente || len(d.Events) != 2 || d.Actions.CanClaim {
		t.Fatalf("unexpected state after claim %+v", d)
	}
	if fake.count("POST /atendimentos/1/claim/") != 1 {
		t.Fatalf("expected a single claim request")
	}
}

func TestDetailFailsWhenAnyPartFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/atendimentos/1/events/" {
			writeErr(w, http.StatusForbidden, "FORBIDDEN", "sem acesso")
			return
		}
		writeData(w, http.StatusOK, map[string]any{"id": 1})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Detail(context.Background(), 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized got %v", err)
	}
}
