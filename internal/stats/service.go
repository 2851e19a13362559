package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lifecaller/esteira/internal/workflow"
)

// SnapshotKey guarda o último retrato das filas no Redis.
const SnapshotKey = "esteira:queue-stats"

var stageGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "esteira_atendimentos_por_etapa",
	Help: "Atendimentos por etapa no último snapshot.",
}, []string{"stage"})

// CountSource conta atendimentos por etapa.
type CountSource interface {
	QueueCounts(ctx context.Context) (map[workflow.Stage]int, error)
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Config controla o loop de snapshot e o alerta de fila.
type Config struct {
	Enabled        bool
	Interval       time.Duration
	AlertThreshold int
}

// Snapshot é o conteúdo gravado no Redis.
type Snapshot struct {
	Counts    map[workflow.Stage]int `json:"counts"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Service executa o snapshot periódico das filas.
type Service struct {
	source   CountSource
	redis    redisCommander
	cfg      Config
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time

	once    sync.Once
	cancel  context.CancelFunc
	done    chan struct{}
	alerted bool
}

func NewService(source CountSource, redisClient *redis.Client, cfg Config, logger zerolog.Logger, notifier Notifier) *Service {
	s := newService(source, nil, cfg, logger, notifier)
	if redisClient != nil {
		s.redis = redisClient
	}
	return s
}

func newService(source CountSource, r redisCommander, cfg Config, logger zerolog.Logger, notifier Notifier) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Service{
		source:   source,
		redis:    r,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With().Str("component", "stats").Logger(),
		now:      time.Now,
	}
}

// Start inicia o loop. Pode ser chamado mais de uma vez.
func (s *Service) Start(parent context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.once.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.runLoop(ctx)
	})
}

// Stop encerra o loop e aguarda a última execução.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Service) runLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("stats: loop iniciado")

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("stats: primeira execução falhou")
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("stats: loop encerrado")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("stats: execução periódica falhou")
			}
		}
	}
}

// RunOnce conta as filas, atualiza o gauge e grava o snapshot.
func (s *Service) RunOnce(ctx context.Context) error {
	counts, err := s.source.QueueCounts(ctx)
	if err != nil {
		return fmt.Errorf("contar filas: %w", err)
	}
	for _, stage := range workflow.Stages() {
		stageGauge.WithLabelValues(string(stage)).Set(float64(counts[stage]))
	}
	s.checkBacklog(ctx, counts[workflow.StageEsteiraGlobal])

	if s.redis == nil {
		return nil
	}
	body, err := json.Marshal(Snapshot{Counts: counts, UpdatedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, SnapshotKey, body, 2*s.cfg.Interval).Err(); err != nil {
		return fmt.Errorf("gravar snapshot: %w", err)
	}
	return nil
}

// Read devolve o último snapshot; false quando ausente ou ilegível.
func (s *Service) Read(ctx context.Context) (map[workflow.Stage]int, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, SnapshotKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("stats: leitura do snapshot falhou")
		}
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil || snap.Counts == nil {
		return nil, false
	}
	return snap.Counts, true
}

// checkBacklog registra a travessia do limite da esteira global uma vez por
// mudança de estado. O webhook só recebe a travessia para cima.
func (s *Service) checkBacklog(ctx context.Context, pending int) {
	if s.cfg.AlertThreshold <= 0 {
		return
	}
	over := pending >= s.cfg.AlertThreshold
	if over == s.alerted {
		return
	}
	s.alerted = over

	if !over {
		s.logger.Info().Int("pending", pending).Int("threshold", s.cfg.AlertThreshold).Msg("stats: esteira global normalizada")
		return
	}
	s.logger.Warn().Int("pending", pending).Int("threshold", s.cfg.AlertThreshold).Msg("stats: esteira global acima do limite")
	if s.notifier == nil {
		return
	}
	msg := AlertMessage{
		Title:    "Esteira global acima do limite",
		Text:     fmt.Sprintf("%d atendimentos aguardando (limite %d)", pending, s.cfg.AlertThreshold),
		Severity: "warning",
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Msg("stats: alerta não enviado")
	}
}
