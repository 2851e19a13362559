package anexo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lifecaller/esteira/internal/repo"
	"github.com/lifecaller/esteira/internal/storage"
	"github.com/lifecaller/esteira/internal/util"
	"github.com/lifecaller/esteira/internal/workflow"
)

// Store é o subconjunto do repositório usado pelo serviço.
type Store interface {
	CaseExists(ctx context.Context, atendimentoID int64) (bool, error)
	Insert(ctx context.Context, a Anexo) (Anexo, error)
	Get(ctx context.Context, id int64) (Anexo, error)
	ListByAtendimento(ctx context.Context, atendimentoID int64) ([]Anexo, error)
	Delete(ctx context.Context, id int64) error
}

// Tipos aceitos, detectados pelo conteúdo.
var allowedTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// Service grava arquivos no storage e o metadado no banco.
type Service struct {
	store    Store
	uploader storage.Uploader
	logger   zerolog.Logger
}

func NewService(store Store, uploader storage.Uploader, logger zerolog.Logger) *Service {
	if uploader == nil {
		uploader = storage.NoopUploader{}
	}
	return &Service{store: store, uploader: uploader, logger: logger.With().Str("component", "anexo").Logger()}
}

func (s *Service) List(ctx context.Context, atendimentoID int64) ([]Anexo, error) {
	if err := s.requireCase(ctx, atendimentoID); err != nil {
		return nil, err
	}
	return s.store.ListByAtendimento(ctx, atendimentoID)
}

// Upload envia o arquivo e registra o anexo. Não gera evento na timeline.
func (s *Service) Upload(ctx context.Context, actor workflow.Actor, atendimentoID int64, filename string, r io.Reader) (Anexo, error) {
	if !actor.HasKnownRole() {
		return Anexo{}, fmt.Errorf("%w: usuário sem papel reconhecido", workflow.ErrUnauthorized)
	}
	if err := s.requireCase(ctx, atendimentoID); err != nil {
		return Anexo{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Anexo{}, err
	}
	if len(data) == 0 {
		return Anexo{}, &workflow.ValidationError{Field: "file", Message: "arquivo vazio"}
	}
	contentType := http.DetectContentType(data)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return Anexo{}, &workflow.ValidationError{Field: "file", Message: "tipo não suportado (PDF, JPG ou PNG)"}
	}

	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "anexo" + ext
	}
	key := util.NewObjectKey("atendimentos/"+strconv.FormatInt(atendimentoID, 10), name)

	res, err := s.uploader.Upload(ctx, storage.UploadInput{
		Key:          key,
		Body:         data,
		ContentType:  contentType,
		CacheControl: "private,max-age=31536000",
	})
	if err != nil {
		return Anexo{}, err
	}

	a, err := s.store.Insert(ctx, Anexo{
		AtendimentoID: atendimentoID,
		Nome:          name,
		ContentType:   contentType,
		Tamanho:       int64(len(data)),
		URL:           res.URL,
		Chave:         res.Key,
		EnviadoPor:    &actor.ID,
	})
	if err != nil {
		if delErr := s.uploader.Delete(ctx, res.Key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", res.Key).Msg("objeto órfão no storage")
		}
		return Anexo{}, err
	}
	s.logger.Info().Int64("atendimento_id", atendimentoID).Int64("anexo_id", a.ID).Int64("tamanho", a.Tamanho).Msg("anexo enviado")
	return a, nil
}

// Delete remove o anexo; permitido a quem enviou ou à gestão.
func (s *Service) Delete(ctx context.Context, actor workflow.Actor, id int64) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsManagement() && (a.EnviadoPor == nil || *a.EnviadoPor != actor.ID) {
		return fmt.Errorf("%w: apenas quem enviou ou a gestão pode remover", workflow.ErrUnauthorized)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.uploader.Delete(ctx, a.Chave); err != nil {
		s.logger.Warn().Err(err).Str("key", a.Chave).Msg("falha ao remover objeto")
	}
	return nil
}

func (s *Service) requireCase(ctx context.Context, atendimentoID int64) error {
	ok, err := s.store.CaseExists(ctx, atendimentoID)
	if err != nil {
		return err
	}
	if !ok {
		return repo.ErrNotFound
	}
	return nil
}
