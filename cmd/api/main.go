package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lifecaller/esteira/internal/atendimento"
	"github.com/lifecaller/esteira/internal/auth"
	"github.com/lifecaller/esteira/internal/config"
	"github.com/lifecaller/esteira/internal/db"
	internalhttp "github.com/lifecaller/esteira/internal/http"
	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/service"
	"github.com/lifecaller/esteira/internal/stats"
	"github.com/lifecaller/esteira/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api encerrada com erro")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DBMigrate {
		if err := db.Migrate(cfg.DBDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	uploader, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	authService := service.NewAuthService(repo.New(pool), redisClient, jwtManager, cfg.JWTRefreshTTL)

	statsService := stats.NewService(
		atendimento.NewRepository(pool),
		redisClient,
		stats.Config{Enabled: cfg.Stats.Enabled, Interval: cfg.Stats.Interval, AlertThreshold: cfg.Stats.AlertThreshold},
		log.Logger,
		stats.NewWebhookNotifier(cfg.Stats.AlertWebhook),
	)
	statsService.Start(ctx)
	defer statsService.Stop()

	handler := internalhttp.NewRouter(cfg, internalhttp.Deps{
		Pool:        pool,
		Redis:       redisClient,
		AuthService: authService,
		Uploader:    uploader,
		Stats:       statsService,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("API ouvindo em :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("encerrando...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
