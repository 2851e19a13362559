package coeficiente

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lifecaller/esteira/internal/http/middleware"
	"github.com/lifecaller/esteira/internal/http/render"
	"github.com/lifecaller/esteira/internal/workflow"
)

const maxImportBytes = 5 << 20

// Handler expõe as rotas de /coeficientes.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/coeficientes", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/export", h.handleExport)
		r.Post("/simulate", h.handleSimulate)
		r.With(middleware.RequireRoles(workflow.CalculoRoles()...)).Post("/import", h.handleImport)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	if items == nil {
		items = []Coeficiente{}
	}
	render.JSON(w, http.StatusOK, map[string]any{"results": items, "count": len(items)})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf, filter); err != nil {
		render.DomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="coeficientes.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if actor, ok := middleware.GetActor(r.Context()); !ok || !actor.CanSimulate() {
		render.Error(w, http.StatusForbidden, "FORBIDDEN", "requer calculista ou gestão", nil)
		return
	}
	var in QuoteInput
	if err := render.Decode(r, &in); err != nil {
		render.Error(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}
	_, quote, err := h.service.Quote(r.Context(), in)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, quote)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := render.ReadUpload(w, r, maxImportBytes)
	if err != nil {
		render.UploadError(w, err)
		return
	}
	defer body.Close()

	res, err := h.service.Import(r.Context(), body)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

func parseFilter(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	q := r.URL.Query()
	filter := Filter{Banco: q.Get("banco")}
	if raw := strings.TrimSpace(q.Get("parcelas")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			render.Error(w, http.StatusBadRequest, "VALIDATION", "parcelas inválidas", nil)
			return Filter{}, false
		}
		filter.Parcelas = n
	}
	return filter, true
}
