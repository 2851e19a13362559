package workflow

import (
	"strings"
)

// Stage identifica a etapa atual de um atendimento na esteira.
type Stage string

const (
	StageEsteiraGlobal       Stage = "esteira_global"
	StageAtendente           Stage = "atendente"
	StageCalculista          Stage = "calculista"
	StageAtendentePosSim     Stage = "atendente_pos_sim"
	StageGerenteFechamento   Stage = "gerente_fechamento"
	StageAtendenteDocs       Stage = "atendente_docs"
	StageFinanceiro          Stage = "financeiro"
	StageContratosSupervisao Stage = "contratos_supervisao"
)

var stageOrder = []Stage{
	StageEsteiraGlobal,
	StageAtendente,
	StageCalculista,
	StageAtendentePosSim,
	StageGerenteFechamento,
	StageAtendenteDocs,
	StageFinanceiro,
	StageContratosSupervisao,
}

// Stages devolve as etapas no caminho canônico.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage normaliza e valida o nome de uma etapa.
func ParseStage(raw string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !st.Valid() {
		return "", &ValidationError{Field: "stage", Message: "etapa desconhecida: " + raw}
	}
	return st, nil
}

// Valid informa se a etapa pertence à esteira.
func (s Stage) Valid() bool {
	for _, st := range stageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal indica a etapa final (contrato formalizado sob supervisão).
func (s Stage) Terminal() bool {
	return s == StageContratosSupervisao
}

func (s Stage) String() string {
	return string(s)
}

// Action enumera as ações possíveis sobre um atendimento.
type Action string

const (
	ActionClaim     Action = "claim"
	ActionRelease   Action = "release"
	ActionForward   Action = "forward"
	ActionCalculate Action = "calculate"
	ActionAnnotate  Action = "annotate"
)

var actionOrder = []Action{ActionClaim, ActionRelease, ActionForward, ActionCalculate, ActionAnnotate}

// Actions lista todas as ações em ordem estável.
func Actions() []Action {
	out := make([]Action, len(actionOrder))
	copy(out, actionOrder)
	return out
}

// Tipos de evento gravados no histórico.
const (
	EventCreated     = "created"
	EventClaimed     = "claimed"
	EventReleased    = "released"
	EventForwarded   = "forwarded"
	EventNotApproved = "not_approved"
	EventCalculated  = "calculated"
	EventNote        = "note"
	EventUpdated     = "updated"
	EventImported    = "imported"
)
