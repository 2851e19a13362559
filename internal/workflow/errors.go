package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indica guarda de papel ou posse não atendida.
	ErrUnauthorized = errors.New("ação não autorizada")
	// ErrInvalidStage indica ação fora da etapa válida.
	ErrInvalidStage = errors.New("ação inválida para a etapa")
	// ErrConflict indica disputa perdida (ex.: atendimento já assumido).
	ErrConflict = errors.New("conflito de estado")
	// ErrValidation indica payload ausente ou malformado.
	ErrValidation = errors.New("dados inválidos")
)

// ValidationError aponta o campo rejeitado.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError detalha a recusa de uma transição.
type TransitionError struct {
	Kind    error
	Action  Action
	Stage   Stage
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s em %s: %s", e.Action, e.Stage, e.Message)
}

func (e *TransitionError) Unwrap() error { return e.Kind }

func unauthorized(action Action, stage Stage, msg string) error {
	return &TransitionError{Kind: ErrUnauthorized, Action: action, Stage: stage, Message: msg}
}

func invalidStage(action Action, stage Stage) error {
	return &TransitionError{Kind: ErrInvalidStage, Action: action, Stage: stage, Message: "ação não permitida nesta etapa"}
}

func conflict(action Action, stage Stage, msg string) error {
	return &TransitionError{Kind: ErrConflict, Action: action, Stage: stage, Message: msg}
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
