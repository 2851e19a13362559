package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lifecaller/esteira/internal/anexo"
	"github.com/lifecaller/esteira/internal/atendimento"
	"github.com/lifecaller/esteira/internal/coeficiente"
	"github.com/lifecaller/esteira/internal/config"
	"github.com/lifecaller/esteira/internal/db"
	httpmiddleware "github.com/lifecaller/esteira/internal/http/middleware"
	"github.com/lifecaller/esteira/internal/http/render"
	"github.com/lifecaller/esteira/internal/service"
	"github.com/lifecaller/esteira/internal/stats"
	"github.com/lifecaller/esteira/internal/storage"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	cfg           *config.Config
	db            pinger
	redis         *redis.Client
	authService   authenticator
	publicLimiter *httpmiddleware.RateLimiter
	authLimiter   *httpmiddleware.RateLimiter
	devCookies    bool
}

// Deps agrupa as dependências já inicializadas pelo main.
type Deps struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	AuthService *service.AuthService
	Uploader    storage.Uploader
	Stats       *stats.Service
}

// NewRouter devolve roteador configurado.
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	devCookies := false
	for _, origin := range cfg.AllowOrigins {
		if strings.Contains(origin, "localhost") {
			devCookies = true
			break
		}
	}

	h := &Handler{
		cfg:           cfg,
		redis:         deps.Redis,
		authService:   deps.AuthService,
		publicLimiter: httpmiddleware.NewRateLimiter("public", cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		authLimiter:   httpmiddleware.NewRateLimiter("auth", cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
		devCookies:    devCookies,
	}
	if deps.Pool != nil {
		h.db = deps.Pool
	}

	coefCache := coeficiente.NewCache(cfg.Coeficientes.CacheSize, cfg.Coeficientes.CacheTTL)
	coefService := coeficiente.NewService(coeficiente.NewRepository(deps.Pool), coefCache, log.With().Str("component", "coeficiente").Logger())

	atendService := atendimento.NewService(
		atendimento.NewRepository(deps.Pool),
		db.PoolRunner{Pool: deps.Pool},
		coefService,
		log.With().Str("component", "atendimento").Logger(),
	)
	if deps.Stats != nil {
		atendService = atendService.WithStats(deps.Stats)
	}

	anexoService := anexo.NewService(anexo.NewRepository(deps.Pool), deps.Uploader, log.Logger)

	r := chi.NewRouter()

	r.Use(chimiddleware.StripSlashes)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))
	r.Use(httpmiddleware.Metrics)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.IPRateLimit(h.publicLimiter))

		public.Get("/health", h.Health)
		public.Get("/ready", h.Ready)

		public.Route("/auth", func(auth chi.Router) {
			auth.Post("/token", h.Login)
			auth.Post("/refresh", h.Refresh)
			auth.Post("/logout", h.Logout)
		})
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.Auth(h.authService.JWT()))
		private.Use(httpmiddleware.UserRateLimit(h.authLimiter))

		private.Get("/me", h.Me)
		atendimento.NewHandler(atendService, cfg.ImportMaxBytes).RegisterRoutes(private)
		coeficiente.NewHandler(coefService).RegisterRoutes(private)
		anexo.NewHandler(anexoService, cfg.AnexoMaxBytes).RegisterRoutes(private)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Error(w, http.StatusNotFound, "NOT_FOUND", "rota não encontrada", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.Error(w, http.StatusMethodNotAllowed, "VALIDATION", "método não permitido", nil)
	})

	return r
}

// Health responde status simples.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready valida conexões com Postgres e Redis.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbErr := errUnconfigured
	if h.db != nil {
		dbErr = h.db.Ping(ctx)
	}
	redisErr := errUnconfigured
	if h.redis != nil {
		redisErr = h.redis.Ping(ctx).Err()
	}

	if dbErr != nil || redisErr != nil {
		render.Error(w, http.StatusServiceUnavailable, "INTERNAL", "dependências indisponíveis", map[string]any{
			"db":    errorString(dbErr),
			"redis": errorString(redisErr),
		})
		return
	}

	render.JSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
