package anexo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lifecaller/esteira/internal/http/middleware"
	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/storage"
	"github.com/lifecaller/esteira/internal/workflow"
)

var pdf = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

type stubStore struct {
	mu      sync.Mutex
	cases   map[int64]bool
	items   map[int64]Anexo
	nextID  int64
	failIns error
}

func newStubStore(cases ...int64) *stubStore {
	s := &stubStore{cases: map[int64]bool{}, items: map[int64]Anexo{}}
	for _, id := range cases {
		s.cases[id] = true
	}
	return s
}

func (s *stubStore) CaseExists(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cases[id], nil
}

func (s *stubStore) Insert(ctx context.Context, a Anexo) (Anexo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIns != nil {
		return Anexo{}, s.failIns
	}
	s.nextID++
	a.ID = s.nextID
	a.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.items[a.ID] = a
	return a, nil
}

func (s *stubStore) Get(ctx context.Context, id int64) (Anexo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return Anexo{}, repo.ErrNotFound
	}
	return a, nil
}

func (s *stubStore) ListByAtendimento(ctx context.Context, id int64) ([]Anexo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Anexo{}
	for _, a := range s.items {
		if a.AtendimentoID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

type stubUploader struct {
	mu      sync.Mutex
	objects map[string]storage.UploadInput
	deleted []string
}

func (u *stubUploader) Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = map[string]storage.UploadInput{}
	}
	u.objects[in.Key] = in
	return &storage.UploadResult{Key: in.Key, URL: "https://cdn.test/" + in.Key}, nil
}

func (u *stubUploader) Delete(ctx context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, key)
	delete(u.objects, key)
	return nil
}

var (
	atendente = workflow.Actor{ID: 7, Roles: []string{workflow.RoleAtendente}}
	outro     = workflow.Actor{ID: 8, Roles: []string{workflow.RoleAtendente}}
	gerente   = workflow.Actor{ID: 30, Roles: []string{workflow.RoleGerente}}
)

func TestUploadStoresObjectAndMetadata(t *testing.T) {
	store := newStubStore(10)
	up := &stubUploader{}
	svc := NewService(store, up, zerolog.Nop())
	ctx := context.Background()

	a, err := svc.Upload(ctx, atendente, 10, `C:\docs\Contrato.PDF`, bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if a.Nome != "Contrato.PDF" || a.ContentType != "application/pdf" || a.Tamanho != int64(len(pdf)) {
		t.Fatalf("unexpected anexo %+v", a)
	}
	if !strings.HasPrefix(a.Chave, "atendimentos/10/") || !strings.HasSuffix(a.Chave, ".pdf") {
		t.Fatalf("unexpected key %q", a.Chave)
	}
	if a.URL != "https://cdn.test/"+a.Chave || a.EnviadoPor == nil || *a.EnviadoPor != 7 {
		t.Fatalf("unexpected url or owner %+v", a)
	}
	if _, ok := up.objects[a.Chave]; !ok {
		t.Fatalf("object not uploaded")
	}

	items, err := svc.List(ctx, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("list: %v %v", items, err)
	}
}

func TestUploadRejects(t *testing.T) {
	svc := NewService(newStubStore(10), &stubUploader{}, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.Upload(ctx, atendente, 99, "a.pdf", bytes.NewReader(pdf)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
	if _, err := svc.Upload(ctx, atendente, 10, "a.txt", strings.NewReader("texto simples")); !errors.Is(err, workflow.ErrValidation) {
		t.Fatalf("expected validation got %v", err)
	}
	if _, err := svc.Upload(ctx, atendente, 10, "a.pdf", strings.NewReader("")); !errors.Is(err, workflow.ErrValidation) {
		t.Fatalf("expected validation for empty file got %v", err)
	}
	if _, err := svc.Upload(ctx, workflow.Actor{ID: 3}, 10, "a.pdf", bytes.NewReader(pdf)); !errors.Is(err, workflow.ErrUnauthorized) {
		t.Fatalf("expected unauthorized got %v", err)
	}
	visitante := workflow.Actor{ID: 4, Roles: []string{"visitante"}}
	if _, err := svc.Upload(ctx, visitante, 10, "a.pdf", bytes.NewReader(pdf)); !errors.Is(err, workflow.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown role got %v", err)
	}
}

func TestUploadWithoutStorage(t *testing.T) {
	svc := NewService(newStubStore(10), nil, zerolog.Nop())
	if _, err := svc.Upload(context.Background(), atendente, 10, "a.pdf", bytes.NewReader(pdf)); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected unavailable got %v", err)
	}
}

func TestUploadRemovesObjectWhenInsertFails(t *testing.T) {
	store := newStubStore(10)
	store.failIns = errors.New("db down")
	up := &stubUploader{}
	svc := NewService(store, up, zerolog.Nop())

	if _, err := svc.Upload(context.Background(), atendente, 10, "a.pdf", bytes.NewReader(pdf)); err == nil {
		t.Fatalf("expected error")
	}
	if len(up.deleted) != 1 || len(up.objects) != 0 {
		t.Fatalf("expected orphan object removed, deleted=%v", up.deleted)
	}
}

func TestDeletePermissions(t *testing.T) {
	store := newStubStore(10)
	up := &stubUploader{}
	svc := NewService(store, up, zerolog.Nop())
	ctx := context.Background()

	a, err := svc.Upload(ctx, atendente, 10, "a.pdf", bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := svc.Delete(ctx, outro, a.ID); !errors.Is(err, workflow.ErrUnauthorized) {
		t.Fatalf("expected unauthorized got %v", err)
	}
	if err := svc.Delete(ctx, gerente, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(up.deleted) != 1 || up.deleted[0] != a.Chave {
		t.Fatalf("expected object removed got %v", up.deleted)
	}
	if err := svc.Delete(ctx, gerente, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}

func multipartBody(t *testing.T, atendimento, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if atendimento != "" {
		_ = mw.WriteField("atendimento", atendimento)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHandlers(t *testing.T) {
	svc := NewService(newStubStore(10), &stubUploader{}, zerolog.Nop())
	r := chi.NewRouter()
	NewHandler(svc, 1024).RegisterRoutes(r)

	big := append(append([]byte(nil), pdf...), bytes.Repeat([]byte("x"), 2048)...)

	tests := []struct {
		name        string
		atendimento string
		filename    string
		content     []byte
		status      int
	}{
		{"ok", "10", "contrato.pdf", pdf, http.StatusCreated},
		{"sem-atendimento", "", "contrato.pdf", pdf, http.StatusBadRequest},
		{"atendimento-inexistente", "99", "contrato.pdf", pdf, http.StatusNotFound},
		{"tipo-invalido", "10", "nota.txt", []byte("texto"), http.StatusBadRequest},
		{"grande-demais", "10", "grande.pdf", big, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.atendimento, tc.filename, tc.content)
			req := httptest.NewRequest(http.MethodPost, "/attachments/", body)
			req.Header.Set("Content-Type", ct)
			req = req.WithContext(middleware.WithClaims(req.Context(), "7", "ana", []string{"atendente"}))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/attachments/?atendimento=10", nil)
	req = req.WithContext(middleware.WithClaims(req.Context(), "7", "ana", []string{"atendente"}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200 got %d", rec.Code)
	}
	var env struct {
		Data struct {
			Results []map[string]any `json:"results"`
			Count   int              `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.Count != 1 || env.Data.Results[0]["name"] != "contrato.pdf" || env.Data.Results[0]["file"] == "" {
		t.Fatalf("unexpected list %+v", env.Data)
	}
}
