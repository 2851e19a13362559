package anexo

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lifecaller/esteira/internal/http/middleware"
	"github.com/lifecaller/esteira/internal/http/render"
	"github.com/lifecaller/esteira/internal/storage"
	"github.com/lifecaller/esteira/internal/workflow"
)

const defaultMaxBytes = 10 << 20

type Handler struct {
	service  *Service
	maxBytes int64
}

func NewHandler(service *Service, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Handler{service: service, maxBytes: maxBytes}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/attachments", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleUpload)
		r.Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id, err := atendimentoParam(r.URL.Query().Get("atendimento"))
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	items, err := h.service.List(r.Context(), id)
	if err != nil {
		render.DomainError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, map[string]any{"results": items, "count": len(items)})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		render.Error(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}
	upload, err := render.ReadUpload(w, r, h.maxBytes)
	if err != nil {
		render.UploadError(w, err)
		return
	}
	defer upload.Close()

	id, err := atendimentoParam(r.FormValue("atendimento"))
	if err != nil {
		render.DomainError(w, r, err)
		return
	}

	a, err := h.service.Upload(r.Context(), actor, id, upload.Filename, upload)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			render.UploadError(w, err)
		case errors.Is(err, storage.ErrUnavailable):
			render.Error(w, http.StatusServiceUnavailable, "INTERNAL", "armazenamento indisponível", nil)
		default:
			render.DomainError(w, r, err)
		}
		return
	}
	render.JSON(w, http.StatusCreated, a)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		render.Error(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		render.Error(w, http.StatusNotFound, "NOT_FOUND", "anexo não encontrado", nil)
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		render.DomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func atendimentoParam(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, &workflow.ValidationError{Field: "atendimento", Message: "atendimento obrigatório"}
	}
	return id, nil
}
