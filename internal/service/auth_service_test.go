package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifecaller/esteira/internal/auth"
	"github.com/lifecaller/esteira/internal/repo"
)

type stubAuthRepo struct {
	user     repo.Usuario
	grupos   []string
	tokens   map[string]repo.TokenRefresh
	revoked  []string
	inserted int
}

func (s *stubAuthRepo) GetUsuarioByUsername(ctx context.Context, username string) (repo.Usuario, error) {
	if strings.EqualFold(username, s.user.Username) {
		return s.user, nil
	}
	return repo.Usuario{}, repo.ErrNotFound
}

func (s *stubAuthRepo) GetUsuarioByID(ctx context.Context, id int64) (repo.Usuario, error) {
	if id == s.user.ID {
		return s.user, nil
	}
	return repo.Usuario{}, repo.ErrNotFound
}

func (s *stubAuthRepo) ListGruposByUsuario(ctx context.Context, usuarioID int64) ([]string, error) {
	return s.grupos, nil
}

func (s *stubAuthRepo) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (repo.TokenRefresh, error) {
	tok, ok := s.tokens[tokenHash]
	if !ok {
		return repo.TokenRefresh{}, repo.ErrNotFound
	}
	return tok, nil
}

func (s *stubAuthRepo) InsertRefreshToken(ctx context.Context, arg repo.InsertRefreshTokenParams) (repo.TokenRefresh, error) {
	s.inserted++
	if s.tokens == nil {
		s.tokens = make(map[string]repo.TokenRefresh)
	}
	tok := repo.TokenRefresh{
		ID:        arg.ID,
		Subject:   arg.Subject,
		Audience:  arg.Audience,
		TokenHash: arg.TokenHash,
		Expiracao: arg.Expiracao,
		CriadoEm:  arg.CriadoEm,
	}
	s.tokens[arg.TokenHash] = tok
	return tok, nil
}

func (s *stubAuthRepo) InvalidateOtherRefreshTokens(ctx context.Context, subject int64, audience, keepHash string) error {
	return nil
}

func (s *stubAuthRepo) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	tok, ok := s.tokens[tokenHash]
	if !ok {
		return repo.ErrNotFound
	}
	tok.Revogado = true
	s.tokens[tokenHash] = tok
	s.revoked = append(s.revoked, tokenHash)
	return nil
}

type stubRedis struct {
	store map[string]string
}

func (s *stubRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if s.store == nil {
		s.store = make(map[string]string)
	}
	s.store[key] = fmt.Sprint(value)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (s *stubRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	val, ok := s.store[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (s *stubRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := s.store[key]; ok {
			delete(s.store, key)
			removed++
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(removed)
	return cmd
}

func newTestService(t *testing.T, grupos []string) (*AuthService, *stubAuthRepo, *stubRedis) {
	t.Helper()
	hash, err := auth.Hash("SenhaForte123!")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	repoStub := &stubAuthRepo{
		user: repo.Usuario{
			ID:        7,
			Username:  "ana",
			Email:     "ana@lifecaller.com.br",
			SenhaHash: hash,
			Ativo:     true,
		},
		grupos: grupos,
	}
	redisStub := &stubRedis{}
	svc := &AuthService{
		repo:       repoStub,
		redis:      redisStub,
		jwt:        auth.NewJWTManager(strings.Repeat("a", 32), time.Minute),
		refreshTTL: time.Hour,
	}
	return svc, repoStub, redisStub
}

func TestLoginNormalizesGroups(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"Atendente", "gerente", "ATENDENTE", "desconhecido"})

	result, err := svc.Login(context.Background(), "ANA", "SenhaForte123!")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if got := strings.Join(result.Profile.Groups, ","); got != "atendente,gerente" {
		t.Fatalf("expected [atendente gerente], got %v", result.Profile.Groups)
	}

	claims, err := svc.JWT().ParseAndValidate(result.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if id, _ := claims.UserID(); id != 7 {
		t.Fatalf("expected subject 7, got %s", claims.Subject)
	}
}

func TestLoginRejectsWithoutGroups(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.Login(context.Background(), "ana", "SenhaForte123!")
	if !errors.Is(err, ErrNoEligibleRoles) {
		t.Fatalf("expected ErrNoEligibleRoles, got %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"atendente"})

	if _, err := svc.Login(context.Background(), "ana", "errada123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "bruno", "SenhaForte123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, repoStub, redisStub := newTestService(t, []string{"calculista"})
	ctx := context.Background()

	first, err := svc.Login(ctx, "ana", "SenhaForte123!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if len(repoStub.revoked) != 1 {
		t.Fatalf("expected previous token revoked")
	}
	if _, ok := redisStub.store[auth.RefreshRedisKey(auth.AudienceEsteira, auth.HashRefreshToken(first.RefreshToken))]; ok {
		t.Fatalf("expected previous token removed from redis")
	}

	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("reusing a rotated token must fail, got %v", err)
	}
}

func TestLogoutRevokes(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"financeiro"})
	ctx := context.Background()

	res, err := svc.Login(ctx, "ana", "SenhaForte123!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected refresh to fail after logout, got %v", err)
	}
}

func TestGetMe(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"supervisor"})

	profile, err := svc.GetMe(context.Background(), 7)
	if err != nil {
		t.Fatalf("get me: %v", err)
	}
	if profile.Username != "ana" || len(profile.Groups) != 1 || profile.Groups[0] != "supervisor" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if _, err := svc.GetMe(context.Background(), 99); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
