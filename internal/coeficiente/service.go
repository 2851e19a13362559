package coeficiente

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/workflow"
)

// Store abstrai o repositório para facilitar testes.
type Store interface {
	List(ctx context.Context, filter Filter) ([]Coeficiente, error)
	Find(ctx context.Context, banco string, parcelas int) (float64, error)
	Upsert(ctx context.Context, rows []Row) (created, updated int, err error)
}

// Service expõe consulta, importação e simulação.
type Service struct {
	store  Store
	cache  *Cache
	logger zerolog.Logger
}

func NewService(store Store, cache *Cache, logger zerolog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Coeficiente, error) {
	return s.store.List(ctx, filter)
}

// Lookup resolve o coeficiente passando pelo cache.
func (s *Service) Lookup(ctx context.Context, banco string, parcelas int) (float64, error) {
	banco = NormalizeBanco(banco)
	if s.cache != nil {
		if coef, ok := s.cache.Get(banco, parcelas); ok {
			return coef, nil
		}
	}

	coef, err := s.store.Find(ctx, banco, parcelas)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, &workflow.ValidationError{
			Field:   "coeficiente",
			Message: "coeficiente não cadastrado para " + banco + " em " + strconv.Itoa(parcelas) + " parcelas",
		}
	}
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		s.cache.Set(banco, parcelas, coef)
	}
	return coef, nil
}

// Quote valida a entrada, consulta o coeficiente e calcula a simulação.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (QuoteInput, Quote, error) {
	normalized, err := in.Normalize()
	if err != nil {
		return QuoteInput{}, Quote{}, err
	}
	coef, err := s.Lookup(ctx, normalized.Banco, normalized.Parcelas)
	if err != nil {
		return QuoteInput{}, Quote{}, err
	}
	return normalized, Compute(normalized, coef), nil
}

// Import carrega um CSV e invalida o cache.
func (s *Service) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	rows, err := ParseCSV(r)
	if err != nil {
		return ImportResult{}, err
	}

	created, updated, err := s.store.Upsert(ctx, rows)
	if err != nil {
		return ImportResult{}, err
	}
	if s.cache != nil {
		s.cache.Purge()
	}

	s.logger.Info().Int("created", created).Int("updated", updated).Msg("coeficientes importados")
	return ImportResult{Created: created, Updated: updated, Format: "csv"}, nil
}

// Export escreve a tabela filtrada em CSV.
func (s *Service) Export(ctx context.Context, w io.Writer, filter Filter) error {
	items, err := s.store.List(ctx, filter)
	if err != nil {
		return err
	}
	rows := make([]Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, Row{Banco: it.Banco, Parcelas: it.Parcelas, Coeficiente: it.Coeficiente})
	}
	return WriteCSV(w, rows)
}
