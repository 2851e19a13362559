package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/lifecaller/esteira/internal/auth"
	"github.com/lifecaller/esteira/internal/workflow"
)

type contextKey string

const (
	ContextKeySubject  contextKey = "subject"
	ContextKeyUsername contextKey = "username"
	ContextKeyRoles    contextKey = "roles"
)

// Auth valida JWT de acesso e injeta claims no contexto.
func Auth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "AUTH", "token ausente")
				return
			}

			claims, err := jwtManager.ParseAndValidate(strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "AUTH", "token inválido")
				return
			}
			if _, err := claims.UserID(); err != nil {
				writeError(w, http.StatusUnauthorized, "AUTH", "subject inválido")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims.Subject, claims.Username, claims.Roles)))
		})
	}
}

// WithClaims grava identidade no contexto (também usado pelos testes).
func WithClaims(ctx context.Context, subject, username string, roles []string) context.Context {
	ctx = context.WithValue(ctx, ContextKeySubject, subject)
	ctx = context.WithValue(ctx, ContextKeyUsername, username)
	return context.WithValue(ctx, ContextKeyRoles, roles)
}

// GetSubject recupera subject do contexto.
func GetSubject(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeySubject).(string)
	return val
}

// GetUsername recupera o login do contexto.
func GetUsername(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyUsername).(string)
	return val
}

// GetRoles recupera roles do contexto.
func GetRoles(ctx context.Context) []string {
	val, _ := ctx.Value(ContextKeyRoles).([]string)
	return val
}

// GetUserID converte o subject para o id numérico do usuário.
func GetUserID(ctx context.Context) (int64, bool) {
	id, err := strconv.ParseInt(GetSubject(ctx), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// GetActor monta o ator da esteira a partir do contexto autenticado.
func GetActor(ctx context.Context) (workflow.Actor, bool) {
	id, ok := GetUserID(ctx)
	if !ok {
		return workflow.Actor{}, false
	}
	return workflow.Actor{ID: id, Roles: GetRoles(ctx)}, true
}

// RequireRoles garante que o usuário possua pelo menos um dos papéis informados.
func RequireRoles(requiredRoles ...string) func(http.Handler) http.Handler {
	normalized := make([]string, 0, len(requiredRoles))
	for _, role := range requiredRoles {
		if role = workflow.NormalizeRole(role); role != "" {
			normalized = append(normalized, role)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r.Context())
			if ok && actor.HasAnyRole(normalized...) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", "acesso restrito aos papéis: "+strings.Join(normalized, ", "))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
