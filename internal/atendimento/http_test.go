package atendimento

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lifecaller/esteira/internal/http/middleware"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestRouter() (chi.Router, *memStore) {
	svc, store := newTestService()
	r := chi.NewRouter()
	NewHandler(svc, 1<<20).RegisterRoutes(r)
	return r, store
}

func do(t *testing.T, r http.Handler, method, path string, userID int64, roles []string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithClaims(req.Context(), strconv.FormatInt(userID, 10), "u", roles))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, env
}

func TestAtendimentoHandlersWorkflow(t *testing.T) {
	r, _ := newTestRouter()
	atend := []string{"atendente"}
	calc := []string{"calculista"}

	rec, env := do(t, r, http.MethodPost, "/atendimentos/", 7, atend, map[string]any{"cpf": "123.456.789-01", "matricula": "12345", "banco": "itau"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201 got %d %s", rec.Code, rec.Body.String())
	}
	var created Atendimento
	_ = json.Unmarshal(env.Data, &created)
	base := "/atendimentos/" + strconv.FormatInt(created.ID, 10)

	tests := []struct {
		name   string
		method string
		path   string
		user   int64
		roles  []string
		body   any
		status int
		code   string
	}{
		{"get", http.MethodGet, base + "/", 7, atend, nil, http.StatusOK, ""},
		{"release-wrong-stage", http.MethodPost, base + "/release", 7, atend, nil, http.StatusConflict, "INVALID_STAGE"},
		{"claim", http.MethodPost, base + "/claim", 7, atend, nil, http.StatusOK, ""},
		{"claim-again", http.MethodPost, base + "/claim", 8, atend, nil, http.StatusConflict, "CONFLICT"},
		{"forward-not-owner", http.MethodPost, base + "/forward", 8, atend, map[string]any{"note": "x"}, http.StatusForbidden, "FORBIDDEN"},
		{"forward-wrong-hint", http.MethodPost, base + "/forward", 7, atend, map[string]any{"stage": "financeiro"}, http.StatusConflict, "INVALID_STAGE"},
		{"forward-bad-stage", http.MethodPost, base + "/forward", 7, atend, map[string]any{"stage": "nada"}, http.StatusBadRequest, "VALIDATION"},
		{"forward", http.MethodPost, base + "/forward", 7, atend, map[string]any{"note": "ok", "stage": "calculista"}, http.StatusOK, ""},
		{"calculate-forbidden", http.MethodPost, base + "/calculate", 7, atend, map[string]any{"valor_liberado": 10000, "taxa": 0.02}, http.StatusForbidden, "FORBIDDEN"},
		{"calculate-non-numeric", http.MethodPost, base + "/calculate", 20, calc, map[string]any{"valor_liberado": "abc", "taxa": 0.02}, http.StatusBadRequest, "VALIDATION"},
		{"calculate-taxa-range", http.MethodPost, base + "/calculate", 20, calc, map[string]any{"valor_liberado": 100, "taxa": 1.5}, http.StatusBadRequest, "VALIDATION"},
		{"calculate-text", http.MethodPost, base + "/calculate", 20, calc, map[string]any{"valor_liberado": "10000,50", "taxa": "0.02"}, http.StatusOK, ""},
		{"note-empty", http.MethodPost, base + "/note", 20, calc, map[string]any{"note": " "}, http.StatusBadRequest, "VALIDATION"},
		{"note", http.MethodPost, base + "/note", 20, calc, map[string]any{"note": "conferido"}, http.StatusOK, ""},
		{"simulate-forbidden", http.MethodPost, base + "/simulate", 7, atend, map[string]any{"parcelas": 24}, http.StatusForbidden, "FORBIDDEN"},
		{"simulate", http.MethodPost, base + "/simulate", 20, calc, map[string]any{"prazo_meses": 24, "saldo_devedor": 5000, "seguro_banco": 300, "percentual_co": 0.1}, http.StatusOK, ""},
		{"simulacoes", http.MethodGet, base + "/simulacoes", 20, calc, nil, http.StatusOK, ""},
		{"events", http.MethodGet, base + "/events", 7, atend, nil, http.StatusOK, ""},
		{"patch-wrong-stage", http.MethodPatch, base + "/", 7, atend, map[string]any{"banco": "bmg"}, http.StatusConflict, "INVALID_STAGE"},
		{"list", http.MethodGet, "/atendimentos/?stage=calculista&page_size=5", 7, atend, nil, http.StatusOK, ""},
		{"list-bad-stage", http.MethodGet, "/atendimentos/?stage=x", 7, atend, nil, http.StatusBadRequest, "VALIDATION"},
		{"queue", http.MethodGet, "/atendimentos/queue/calculista", 20, calc, nil, http.StatusOK, ""},
		{"queue-unknown", http.MethodGet, "/atendimentos/queue/nada", 20, calc, nil, http.StatusBadRequest, "VALIDATION"},
		{"queue-stats", http.MethodGet, "/atendimentos/queue-stats", 20, calc, nil, http.StatusOK, ""},
		{"missing", http.MethodGet, "/atendimentos/999/", 7, atend, nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad-id", http.MethodGet, "/atendimentos/abc/", 7, atend, nil, http.StatusNotFound, "NOT_FOUND"},
		{"delete-forbidden", http.MethodDelete, base + "/", 30, []string{"gerente"}, nil, http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := do(t, r, tc.method, tc.path, tc.user, tc.roles, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.code != "" && (env.Error == nil || env.Error.Code != tc.code) {
				t.Fatalf("expected code %s got %+v", tc.code, env.Error)
			}
		})
	}

	_, env = do(t, r, http.MethodGet, base+"/", 7, atend, nil)
	var got Atendimento
	_ = json.Unmarshal(env.Data, &got)
	if got.Stage != "calculista" || got.ValorLiberado == nil || *got.ValorLiberado != 10000.5 || got.LatestSimulacao == nil {
		t.Fatalf("unexpected final case %+v", got)
	}
}

func TestActionsEndpoint(t *testing.T) {
	r, _ := newTestRouter()
	_, env := do(t, r, http.MethodPost, "/atendimentos/", 7, []string{"atendente"}, map[string]any{"cpf": "12345678901", "matricula": "1", "banco": "itau"})
	var created Atendimento
	_ = json.Unmarshal(env.Data, &created)
	path := "/atendimentos/" + strconv.FormatInt(created.ID, 10) + "/actions"

	_, env = do(t, r, http.MethodGet, path, 7, []string{"atendente"}, nil)
	var view ActionsView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.CanClaim || view.CanRelease || view.CanCalculate || view.NextStage != nil {
		t.Fatalf("unexpected view for unclaimed case %+v", view)
	}
	if len(view.AvailableActions) != 2 {
		t.Fatalf("expected claim and annotate got %v", view.AvailableActions)
	}

	_, env = do(t, r, http.MethodGet, path, 20, []string{"calculista"}, nil)
	_ = json.Unmarshal(env.Data, &view)
	if view.CanClaim || !view.CanSimulate {
		t.Fatalf("unexpected view for calculista %+v", view)
	}
}

func TestImportEndpointMultipart(t *testing.T) {
	r, store := newTestRouter()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "margem.txt")
	_, _ = fw.Write([]byte("123.456.789-01 FULANO 4455 BANCO ITAU\nrodape\n"))
	_ = mw.Close()

	for _, path := range []string{"/atendimentos/import_csv", "/atendimentos/import"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf.Bytes()))
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req = req.WithContext(middleware.WithClaims(req.Context(), "7", "ana", []string{"atendente"}))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d %s", path, rec.Code, rec.Body.String())
		}
		var env struct {
			Data ImportResult `json:"data"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
		if env.Data.Format != FormatINETConsig || env.Data.Imported != 1 {
			t.Fatalf("%s: unexpected result %+v", path, env.Data)
		}
	}
	if len(store.cases) != 1 {
		t.Fatalf("expected a single case after two imports got %d", len(store.cases))
	}

	rec, _ := do(t, r, http.MethodGet, "/atendimentos/export?banco=itau", 7, []string{"atendente"}, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/csv; charset=utf-8" {
		t.Fatalf("unexpected export response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}
