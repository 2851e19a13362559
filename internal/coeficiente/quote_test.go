package coeficiente

import (
	"errors"
	"math"
	"testing"

	"github.com/lifecaller/esteira/internal/workflow"
)

func TestComputeApproved(t *testing.T) {
	in, err := QuoteInput{Banco: " ITAU ", Parcelas: 24, SaldoDevedor: 5000, SeguroBanco: 300, PercentualCO: 0.1}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if in.Banco != "itau" {
		t.Fatalf("expected normalized banco got %q", in.Banco)
	}

	q := Compute(in, 0.025)
	want := Quote{
		Coeficiente:       0.025,
		ParcelaTotal:      137.5,
		PVTotalFinanciado: 5500,
		ValorLiberado:     500,
		ValorLiquido:      200,
		CustoConsultoria:  20,
		LiberadoCliente:   180,
		Aprovado:          true,
	}
	assertQuote(t, q, want)
}

func TestComputeNegativeNetIsNotApproved(t *testing.T) {
	in, err := QuoteInput{Banco: "bmg", Parcelas: 60, SaldoDevedor: 1000, SeguroBanco: 120, PercentualCO: 0.12}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	q := Compute(in, 0.02)
	if q.CustoConsultoria != 0 {
		t.Fatalf("expected no fee on negative net, got %v", q.CustoConsultoria)
	}
	if q.Aprovado || q.LiberadoCliente >= 0 {
		t.Fatalf("expected rejected quote got %+v", q)
	}
}

func TestNormalizeUsesPrazoAlias(t *testing.T) {
	in, err := QuoteInput{Banco: "pan", PrazoMeses: 84}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if in.Parcelas != 84 {
		t.Fatalf("expected parcelas from prazo_meses got %d", in.Parcelas)
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		in    QuoteInput
		field string
	}{
		{"banco", QuoteInput{Parcelas: 10}, "banco"},
		{"parcelas", QuoteInput{Banco: "itau"}, "parcelas"},
		{"saldo", QuoteInput{Banco: "itau", Parcelas: 10, SaldoDevedor: -1}, "saldo_devedor"},
		{"seguro", QuoteInput{Banco: "itau", Parcelas: 10, SeguroBanco: math.NaN()}, "seguro_banco"},
		{"percentual", QuoteInput{Banco: "itau", Parcelas: 10, PercentualCO: 1}, "percentual_co"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.in.Normalize()
			var verr *workflow.ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation on %s got %v", tc.field, err)
			}
		})
	}
}

func assertQuote(t *testing.T, got, want Quote) {
	t.Helper()
	pairs := []struct {
		name      string
		got, want float64
	}{
		{"coeficiente", got.Coeficiente, want.Coeficiente},
		{"parcela_total", got.ParcelaTotal, want.ParcelaTotal},
		{"pv_total_financiado", got.PVTotalFinanciado, want.PVTotalFinanciado},
		{"valor_liberado", got.ValorLiberado, want.ValorLiberado},
		{"valor_liquido", got.ValorLiquido, want.ValorLiquido},
		{"custo_consultoria", got.CustoConsultoria, want.CustoConsultoria},
		{"liberado_cliente", got.LiberadoCliente, want.LiberadoCliente},
	}
	for _, p := range pairs {
		if math.Abs(p.got-p.want) > 0.005 {
			t.Fatalf("%s: expected %v got %v", p.name, p.want, p.got)
		}
	}
	if got.Aprovado != want.Aprovado {
		t.Fatalf("aprovado: expected %v got %v", want.Aprovado, got.Aprovado)
	}
}
