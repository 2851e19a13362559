package atendimento

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lifecaller/esteira/internal/coeficiente"
	"github.com/lifecaller/esteira/internal/http/middleware"
	"github.com/lifecaller/esteira/internal/http/render"
	"github.com/lifecaller/esteira/internal/workflow"
)

const defaultImportBytes = 10 << 20

// Handler expõe as rotas de /atendimentos.
type Handler struct {
	service        *Service
	maxImportBytes int64
}

func NewHandler(service *Service, maxImportBytes int64) *Handler {
	if maxImportBytes <= 0 {
		maxImportBytes = defaultImportBytes
	}
	return &Handler{service: service, maxImportBytes: maxImportBytes}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/atendimentos", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/queue-stats", h.handleQueueStats)
		r.Get("/queue/{name}", h.handleQueue)
		r.Get("/export", h.handleExport)
		r.Post("/import_csv", h.handleImport)
		r.Post("/import", h.handleImport)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Get("/events", h.handleEvents)
			r.Get("/actions", h.handleActions)
			r.Get("/simulacoes", h.handleSimulacoes)
			r.Post("/claim", h.transition(workflow.ActionClaim))
			r.Post("/release", h.transition(workflow.ActionRelease))
			r.Post("/forward", h.transition(workflow.ActionForward))
			r.Post("/note", h.transition(workflow.ActionAnnotate))
			r.Post("/calculate", h.transition(workflow.ActionCalculate))
			r.Post("/simulate", h.handleSimulate)
		})
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := render.Decode(r, &in); err != nil {
		render.Error(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}
	a, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusCreated, a)
}

func (h *Handler) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QueueStats(r.Context())
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	page, size, err := parsePagination(r)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	result, err := h.service.Queue(r.Context(), actor, chi.URLParam(r, "name"), page, size)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf, filter); err != nil {
		render.DomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="atendimentos.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	upload, err := render.ReadUpload(w, r, h.maxImportBytes)
	if err != nil {
		render.UploadError(w, err)
		return
	}
	defer upload.Close()

	res, err := h.service.Import(r.Context(), actor, upload.Filename, upload)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, a)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in UpdateInput
	if err := render.Decode(r, &in); err != nil {
		render.Error(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}
	a, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, a)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		render.DomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	events, err := h.service.Events(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, events)
}

func (h *Handler) handleActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.Actions(r.Context(), actor, id)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleSimulacoes(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	sims, err := h.service.Simulacoes(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, sims)
}

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in coeficiente.QuoteInput
	if err := render.Decode(r, &in); err != nil {
		render.Error(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}
	sim, err := h.service.Simulate(r.Context(), actor, id, in)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, sim)
}

// transitionRequest aceita os campos de todas as ações; cada ação usa os seus.
type transitionRequest struct {
	Note                string       `json:"note"`
	Approved            *bool        `json:"approved"`
	ContratoFormalizado *bool        `json:"contrato_formalizado"`
	Stage               *string      `json:"stage"`
	ValorLiberado       decimalField `json:"valor_liberado"`
	Taxa                decimalField `json:"taxa"`
}

func (req transitionRequest) payload() (workflow.Payload, error) {
	p := workflow.Payload{
		Note:                req.Note,
		Approved:            req.Approved,
		ContratoFormalizado: req.ContratoFormalizado,
	}
	if req.Stage != nil && strings.TrimSpace(*req.Stage) != "" {
		st, err := workflow.ParseStage(*req.Stage)
		if err != nil {
			return workflow.Payload{}, err
		}
		p.Stage = &st
	}
	if req.ValorLiberado.invalid {
		return workflow.Payload{}, &workflow.ValidationError{Field: "valor_liberado", Message: "valor liberado deve ser numérico"}
	}
	if req.Taxa.invalid {
		return workflow.Payload{}, &workflow.ValidationError{Field: "taxa", Message: "taxa deve ser numérica"}
	}
	p.ValorLiberado = req.ValorLiberado.value
	p.Taxa = req.Taxa.value
	return p, nil
}

func (h *Handler) transition(action workflow.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req transitionRequest
		if err := render.Decode(r, &req); err != nil {
			render.Error(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
			return
		}
		payload, err := req.payload()
		if err != nil {
			render.DomainError(w, r, err)
			return
		}

		a, ev, err := h.service.Transition(r.Context(), actor, id, action, payload)
		if err != nil {
			render.DomainError(w, r, err)
			return
		}
		render.JSON(w, http.StatusOK, map[string]any{"atendimento": a, "evento": ev})
	}
}

// decimalField aceita número JSON ou texto numérico (inclusive vírgula decimal).
type decimalField struct {
	value   *float64
	invalid bool
}

func (d *decimalField) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		d.value = &f
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		d.invalid = true
		return nil
	}
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	v, err := coeficiente.ParseDecimal(s)
	if err != nil {
		d.invalid = true
		return nil
	}
	d.value = &v
	return nil
}

func actorFrom(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		render.Error(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return workflow.Actor{}, false
	}
	return actor, true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		render.Error(w, http.StatusNotFound, "NOT_FOUND", "atendimento não encontrado", nil)
		return 0, false
	}
	return id, true
}

func parsePagination(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, err := optionalInt(q.Get("page"), "page")
	if err != nil {
		return 0, 0, err
	}
	size, err := optionalInt(q.Get("page_size"), "page_size")
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	page, size, err := parsePagination(r)
	if err != nil {
		return ListFilter{}, err
	}
	filter := ListFilter{
		Banco:     q.Get("banco"),
		CPF:       q.Get("cpf"),
		Matricula: q.Get("matricula"),
		Q:         q.Get("q"),
		Page:      page,
		PageSize:  size,
	}
	if raw := q.Get("stage"); raw != "" {
		if filter.Stage, err = workflow.ParseStage(raw); err != nil {
			return ListFilter{}, err
		}
	}
	if filter.OwnerAtendente, err = optionalID(q.Get("owner_atendente"), "owner_atendente"); err != nil {
		return ListFilter{}, err
	}
	if filter.AssignedTo, err = optionalID(q.Get("assigned_to"), "assigned_to"); err != nil {
		return ListFilter{}, err
	}
	return filter, nil
}

func optionalInt(raw, field string) (int, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &workflow.ValidationError{Field: field, Message: "número inválido"}
	}
	return n, nil
}

func optionalID(raw, field string) (*int64, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, &workflow.ValidationError{Field: field, Message: "identificador inválido"}
	}
	return &id, nil
}
