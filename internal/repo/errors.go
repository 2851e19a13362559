package repo

import "errors"

var (
	// ErrNotFound é retornado quando nenhum registro é encontrado.
	ErrNotFound = errors.New("registro não encontrado")
	// ErrDuplicate indica violação de unicidade (ex.: username já usado).
	ErrDuplicate = errors.New("registro duplicado")
)
