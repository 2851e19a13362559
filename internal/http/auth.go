package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lifecaller/esteira/internal/auth"
	httpmiddleware "github.com/lifecaller/esteira/internal/http/middleware"
	"github.com/lifecaller/esteira/internal/http/render"
	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/service"
)

const refreshCookie = "esteira_refresh"

var errUnconfigured = errors.New("não configurado")

type authenticator interface {
	JWT() *auth.JWTManager
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	Refresh(ctx context.Context, rawToken string) (*service.LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	GetMe(ctx context.Context, userID int64) (*service.Profile, error)
}

// Login troca usuário e senha pelo par access/refresh.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := render.Decode(r, &payload); err != nil {
		render.Error(w, http.StatusBadRequest, "VALIDATION", "JSON inválido", nil)
		return
	}
	if strings.TrimSpace(payload.Username) == "" || payload.Password == "" {
		render.Error(w, http.StatusBadRequest, "VALIDATION", "username e password são obrigatórios", nil)
		return
	}

	result, err := h.authService.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		h.handleAuthError(w, r, err)
		return
	}
	h.writeTokens(w, result)
}

// Refresh rotaciona o refresh token (corpo ou cookie).
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := refreshFromRequest(r)
	if token == "" {
		render.Error(w, http.StatusUnauthorized, "AUTH", "refresh ausente", nil)
		return
	}

	result, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		h.handleAuthError(w, r, err)
		return
	}
	h.writeTokens(w, result)
}

// Logout revoga o refresh token atual.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := refreshFromRequest(r); token != "" {
		if err := h.authService.Logout(r.Context(), token); err != nil {
			render.Internal(w, r, err)
			return
		}
	}
	h.clearRefreshCookie(w)
	render.JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me retorna informações do usuário autenticado.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpmiddleware.GetUserID(r.Context())
	if !ok {
		render.Error(w, http.StatusUnauthorized, "AUTH", "subject inválido", nil)
		return
	}

	profile, err := h.authService.GetMe(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			render.Error(w, http.StatusUnauthorized, "AUTH", "usuário não encontrado", nil)
			return
		}
		h.handleAuthError(w, r, err)
		return
	}
	render.JSON(w, http.StatusOK, profile)
}

func (h *Handler) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrRefreshInvalid), errors.Is(err, service.ErrNoEligibleRoles):
		render.Error(w, http.StatusUnauthorized, "AUTH", err.Error(), nil)
	case errors.Is(err, service.ErrAccountDisabled):
		render.Error(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	default:
		render.Internal(w, r, err)
	}
}

func (h *Handler) writeTokens(w http.ResponseWriter, result *service.LoginResult) {
	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiry)
	render.JSON(w, http.StatusOK, map[string]any{
		"access":  result.AccessToken,
		"refresh": result.RefreshToken,
		"user":    result.Profile,
	})
}

func refreshFromRequest(r *http.Request) string {
	var payload struct {
		Refresh string `json:"refresh"`
	}
	if err := render.Decode(r, &payload); err == nil && strings.TrimSpace(payload.Refresh) != "" {
		return strings.TrimSpace(payload.Refresh)
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) cookieFlags() (bool, http.SameSite) {
	if h.devCookies {
		return false, http.SameSiteLaxMode
	}
	return true, http.SameSiteNoneMode
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	secure, sameSite := h.cookieFlags()
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     "/auth",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	secure, sameSite := h.cookieFlags()
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}
