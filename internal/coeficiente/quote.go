package coeficiente

import (
	"math"
	"strings"

	"github.com/lifecaller/esteira/internal/workflow"
)

// NormalizeBanco padroniza o código do banco.
func NormalizeBanco(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Normalize valida a entrada e aplica aliases (prazo_meses).
func (in QuoteInput) Normalize() (QuoteInput, error) {
	out := in
	out.Banco = NormalizeBanco(in.Banco)
	if out.Parcelas == 0 && in.PrazoMeses > 0 {
		out.Parcelas = in.PrazoMeses
	}
	out.PrazoMeses = 0

	switch {
	case out.Banco == "":
		return QuoteInput{}, &workflow.ValidationError{Field: "banco", Message: "banco obrigatório"}
	case out.Parcelas <= 0:
		return QuoteInput{}, &workflow.ValidationError{Field: "parcelas", Message: "parcelas deve ser maior que zero"}
	case !finite(out.SaldoDevedor) || out.SaldoDevedor < 0:
		return QuoteInput{}, &workflow.ValidationError{Field: "saldo_devedor", Message: "saldo devedor deve ser não negativo"}
	case !finite(out.SeguroBanco) || out.SeguroBanco < 0:
		return QuoteInput{}, &workflow.ValidationError{Field: "seguro_banco", Message: "seguro deve ser não negativo"}
	case !finite(out.PercentualCO) || out.PercentualCO < 0 || out.PercentualCO > 0.99:
		return QuoteInput{}, &workflow.ValidationError{Field: "percentual_co", Message: "percentual_co deve estar entre 0 e 0.99"}
	}
	return out, nil
}

// Compute aplica a fórmula da simulação com arredondamento a cada etapa.
// A entrada deve ter passado por Normalize e coef deve ser positivo.
func Compute(in QuoteInput, coef float64) Quote {
	parcelaTotal := round2(in.SaldoDevedor*coef + in.SeguroBanco/float64(in.Parcelas))
	pv := round2(parcelaTotal / coef)
	liberado := round2(pv - in.SaldoDevedor)
	liquido := round2(liberado - in.SeguroBanco)
	custo := round2(math.Max(liquido, 0) * in.PercentualCO)
	cliente := round2(liquido - custo)

	return Quote{
		Coeficiente:       coef,
		ParcelaTotal:      parcelaTotal,
		PVTotalFinanciado: pv,
		ValorLiberado:     liberado,
		ValorLiquido:      liquido,
		CustoConsultoria:  custo,
		LiberadoCliente:   cliente,
		Aprovado:          cliente > 0,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
