package repo

import (
	"time"

	"github.com/google/uuid"
)

// Usuario representa colaborador da esteira.
type Usuario struct {
	ID        int64
	Username  string
	Email     string
	SenhaHash string
	Ativo     bool
	CriadoEm  time.Time
}

// TokenRefresh modela tabela de refresh tokens.
type TokenRefresh struct {
	ID        uuid.UUID
	Subject   int64
	Audience  string
	TokenHash string
	Expiracao time.Time
	CriadoEm  time.Time
	Revogado  bool
}

// InsertRefreshTokenParams agrupa os campos de um novo refresh token.
type InsertRefreshTokenParams struct {
	ID        uuid.UUID
	Subject   int64
	Audience  string
	TokenHash string
	Expiracao time.Time
	CriadoEm  time.Time
}

// CreateUsuarioParams agrupa os dados de cadastro.
type CreateUsuarioParams struct {
	Username  string
	Email     string
	SenhaHash string
	Grupos    []string
}
