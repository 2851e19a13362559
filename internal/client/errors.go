package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized cobre 401/403: sem sessão ou sem permissão.
	ErrUnauthorized = errors.New("não autorizado")
	// ErrInvalidStage indica ação fora da etapa atual do caso.
	ErrInvalidStage = errors.New("etapa inválida para a ação")
	// ErrValidation indica payload recusado pelo servidor.
	ErrValidation = errors.New("dados inválidos")
	// ErrConflict indica disputa perdida (ex.: caso já assumido).
	ErrConflict = errors.New("conflito")
	// ErrNotFound indica recurso inexistente.
	ErrNotFound = errors.New("não encontrado")
	// ErrTransport cobre falha de rede, 5xx e circuito aberto. Pode ser repetido pelo operador.
	ErrTransport = errors.New("falha de comunicação, tente novamente")
	// ErrBusy indica ação já em andamento para o mesmo caso.
	ErrBusy = errors.New("ação em andamento")
)

// APIError é a resposta de erro do servidor.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", e.kind, e.Status)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.kind }

func newAPIError(status int, body errorBody) *APIError {
	return &APIError{
		Status:  status,
		Code:    body.Code,
		Message: body.Message,
		Details: body.Details,
		kind:    classify(status, body.Code),
	}
}

func classify(status int, code string) error {
	switch code {
	case "AUTH", "FORBIDDEN":
		return ErrUnauthorized
	case "INVALID_STAGE":
		return ErrInvalidStage
	case "CONFLICT":
		return ErrConflict
	case "VALIDATION":
		return ErrValidation
	case "NOT_FOUND":
		return ErrNotFound
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusTooManyRequests || status >= 500:
		return ErrTransport
	default:
		return ErrValidation
	}
}

// transportError envolve falhas que contam para o circuit breaker.
type transportError struct {
	err error
}

func (e *transportError) Error() string        { return "transporte: " + e.err.Error() }
func (e *transportError) Unwrap() error        { return e.err }
func (e *transportError) Is(target error) bool { return target == ErrTransport }
