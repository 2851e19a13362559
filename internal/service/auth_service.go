package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lifecaller/esteira/internal/auth"
	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/util"
	"github.com/lifecaller/esteira/internal/workflow"
)

var (
	// ErrInvalidCredentials indica falha na autenticação.
	ErrInvalidCredentials = errors.New("credenciais inválidas")
	// ErrAccountDisabled indica conta desativada.
	ErrAccountDisabled = errors.New("conta desativada")
	// ErrRefreshInvalid indica refresh token inválido ou expirado.
	ErrRefreshInvalid = errors.New("refresh token inválido")
	// ErrNoEligibleRoles indica ausência de grupos reconhecidos.
	ErrNoEligibleRoles = errors.New("usuário sem grupo elegível")
)

type authRepository interface {
	GetUsuarioByUsername(ctx context.Context, username string) (repo.Usuario, error)
	GetUsuarioByID(ctx context.Context, id int64) (repo.Usuario, error)
	ListGruposByUsuario(ctx context.Context, usuarioID int64) ([]string, error)
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (repo.TokenRefresh, error)
	InsertRefreshToken(ctx context.Context, arg repo.InsertRefreshTokenParams) (repo.TokenRefresh, error)
	InvalidateOtherRefreshTokens(ctx context.Context, subject int64, audience, keepHash string) error
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AuthService concentra regras de autenticação e sessões.
type AuthService struct {
	repo       authRepository
	redis      redisCommander
	jwt        *auth.JWTManager
	refreshTTL time.Duration
}

// NewAuthService cria novo serviço.
func NewAuthService(r *repo.Queries, redisClient *redis.Client, jwtMgr *auth.JWTManager, refreshTTL time.Duration) *AuthService {
	return &AuthService{repo: r, redis: redisClient, jwt: jwtMgr, refreshTTL: refreshTTL}
}

// JWT expõe gerenciador de JWT (útil em middlewares).
func (s *AuthService) JWT() *auth.JWTManager {
	return s.jwt
}

// Profile é o retorno de /me.
type Profile struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Groups   []string `json:"groups"`
}

// LoginResult representa o par de tokens emitido.
type LoginResult struct {
	AccessToken   string
	RefreshToken  string
	Profile       Profile
	RefreshExpiry time.Time
}

// Login autentica por username e senha.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.repo.GetUsuarioByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn().Str("username", username).Msg("login: usuário não encontrado")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := auth.Verify(password, user.SenhaHash)
	if err != nil {
		log.Warn().Err(err).Msg("login: verify password failed")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		log.Warn().Str("username", username).Msg("login: senha inválida")
		return nil, ErrInvalidCredentials
	}

	return s.issue(ctx, user)
}

// Refresh troca refresh token por novos tokens (rotação).
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*LoginResult, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrRefreshInvalid
	}

	hash := auth.HashRefreshToken(rawToken)
	record, err := s.repo.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	if record.Revogado || util.Now().After(record.Expiracao) || record.Audience != auth.AudienceEsteira {
		return nil, ErrRefreshInvalid
	}

	redisKey := auth.RefreshRedisKey(record.Audience, hash)
	status, err := s.redis.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}
	if status != "active" {
		return nil, ErrRefreshInvalid
	}

	user, err := s.repo.GetUsuarioByID(ctx, record.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	result, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	// Revoga token anterior (DB + Redis)
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err := s.redis.Del(ctx, redisKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	return result, nil
}

// Logout revoga refresh token atual.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil
	}
	hash := auth.HashRefreshToken(rawToken)
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := s.redis.Del(ctx, auth.RefreshRedisKey(auth.AudienceEsteira, hash)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// GetMe retorna perfil e grupos atuais do usuário.
func (s *AuthService) GetMe(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.repo.GetUsuarioByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Ativo {
		return nil, ErrAccountDisabled
	}
	groups, err := s.groups(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &Profile{ID: user.ID, Username: user.Username, Email: user.Email, Groups: groups}, nil
}

func (s *AuthService) issue(ctx context.Context, user repo.Usuario) (*LoginResult, error) {
	if !user.Ativo {
		return nil, ErrAccountDisabled
	}

	groups, err := s.groups(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, ErrNoEligibleRoles
	}

	token, _, err := s.jwt.GenerateAccessToken(user.ID, user.Username, groups)
	if err != nil {
		return nil, err
	}

	rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expires := util.Now().Add(s.refreshTTL)
	if err := s.persistRefresh(ctx, user.ID, refreshHash, expires); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:   token,
		RefreshToken:  rawRefresh,
		Profile:       Profile{ID: user.ID, Username: user.Username, Email: user.Email, Groups: groups},
		RefreshExpiry: expires,
	}, nil
}

func (s *AuthService) groups(ctx context.Context, userID int64) ([]string, error) {
	raw, err := s.repo.ListGruposByUsuario(ctx, userID)
	if err != nil {
		return nil, err
	}
	return normalizeGroups(raw), nil
}

func (s *AuthService) persistRefresh(ctx context.Context, subject int64, hash string, expires time.Time) error {
	_, err := s.repo.InsertRefreshToken(ctx, repo.InsertRefreshTokenParams{
		ID:        uuid.New(),
		Subject:   subject,
		Audience:  auth.AudienceEsteira,
		TokenHash: hash,
		Expiracao: expires,
		CriadoEm:  util.Now(),
	})
	if err != nil {
		return err
	}

	if err := s.repo.InvalidateOtherRefreshTokens(ctx, subject, auth.AudienceEsteira, hash); err != nil {
		return err
	}

	return s.redis.Set(ctx, auth.RefreshRedisKey(auth.AudienceEsteira, hash), "active", time.Until(expires)).Err()
}

// normalizeGroups mantém apenas grupos reconhecidos, sem duplicatas.
func normalizeGroups(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = workflow.NormalizeRole(g)
		if !workflow.IsKnownRole(g) {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
