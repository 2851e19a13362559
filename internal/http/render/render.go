package render

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/workflow"
)

// SuccessEnvelope padroniza respostas com dados.
type SuccessEnvelope struct {
	Data  any `json:"data"`
	Error any `json:"error"`
}

// ErrorEnvelope padroniza respostas de erro.
type ErrorEnvelope struct {
	Data  any        `json:"data"`
	Error *ErrorBody `json:"error"`
}

// ErrorBody descreve falhas normalizadas.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON escreve envelope de sucesso.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessEnvelope{Data: data, Error: nil})
}

// Error escreve envelope de erro e mantém formato consistente.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Data:  nil,
		Error: &ErrorBody{Code: code, Message: message, Details: details},
	})
}

// Decode lê o corpo JSON; corpo vazio é aceito e mantém os zero values.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// DomainError traduz erros de domínio para o envelope HTTP.
func DomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *workflow.ValidationError
	var terr *workflow.TransitionError

	switch {
	case errors.As(err, &verr):
		var details any
		if verr.Field != "" {
			details = map[string]string{"field": verr.Field}
		}
		Error(w, http.StatusBadRequest, "VALIDATION", verr.Error(), details)
	case errors.Is(err, workflow.ErrValidation):
		Error(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		Error(w, http.StatusNotFound, "NOT_FOUND", "registro não encontrado", nil)
	case errors.As(err, &terr):
		status, code := transitionStatus(terr.Kind)
		Error(w, status, code, terr.Message, map[string]string{"action": string(terr.Action), "stage": terr.Stage.String()})
	case errors.Is(err, workflow.ErrUnauthorized):
		Error(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, workflow.ErrInvalidStage):
		Error(w, http.StatusConflict, "INVALID_STAGE", err.Error(), nil)
	case errors.Is(err, workflow.ErrConflict), errors.Is(err, repo.ErrDuplicate):
		Error(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		Internal(w, r, err)
	}
}

// Internal registra a falha e responde 500 sem expor detalhes.
func Internal(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("erro interno")
	Error(w, http.StatusInternalServerError, "INTERNAL", "erro interno", nil)
}

func transitionStatus(kind error) (int, string) {
	switch {
	case errors.Is(kind, workflow.ErrUnauthorized):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(kind, workflow.ErrInvalidStage):
		return http.StatusConflict, "INVALID_STAGE"
	case errors.Is(kind, workflow.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	default:
		return http.StatusBadRequest, "VALIDATION"
	}
}
