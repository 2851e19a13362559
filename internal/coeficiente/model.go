package coeficiente

import "time"

// Coeficiente é uma linha da tabela de referência banco × parcelas.
type Coeficiente struct {
	ID          int64     `json:"id"`
	Banco       string    `json:"banco"`
	Parcelas    int       `json:"parcelas"`
	Coeficiente float64   `json:"coeficiente"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Row é a forma mínima usada em importação e exportação.
type Row struct {
	Banco       string
	Parcelas    int
	Coeficiente float64
}

// Filter restringe a listagem.
type Filter struct {
	Banco    string
	Parcelas int
}

// ImportResult resume uma importação.
type ImportResult struct {
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Format  string `json:"format"`
}

// QuoteInput são os parâmetros de uma simulação.
type QuoteInput struct {
	Banco        string  `json:"banco"`
	Parcelas     int     `json:"parcelas"`
	PrazoMeses   int     `json:"prazo_meses,omitempty"`
	SaldoDevedor float64 `json:"saldo_devedor"`
	SeguroBanco  float64 `json:"seguro_banco"`
	PercentualCO float64 `json:"percentual_co"`
}

// Quote é o resultado calculado da simulação.
type Quote struct {
	Coeficiente       float64 `json:"coeficiente"`
	ParcelaTotal      float64 `json:"parcela_total"`
	PVTotalFinanciado float64 `json:"pv_total_financiado"`
	ValorLiberado     float64 `json:"valor_liberado"`
	ValorLiquido      float64 `json:"valor_liquido"`
	CustoConsultoria  float64 `json:"custo_consultoria"`
	LiberadoCliente   float64 `json:"liberado_cliente"`
	Aprovado          bool    `json:"aprovado"`
}
