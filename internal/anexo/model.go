package anexo

import "time"

// Anexo é um arquivo vinculado a um atendimento.
type Anexo struct {
	ID            int64     `json:"id"`
	AtendimentoID int64     `json:"atendimento"`
	Nome          string    `json:"name"`
	ContentType   string    `json:"content_type"`
	Tamanho       int64     `json:"size"`
	URL           string    `json:"file"`
	Chave         string    `json:"key"`
	EnviadoPor    *int64    `json:"uploaded_by"`
	CreatedAt     time.Time `json:"created_at"`
}
