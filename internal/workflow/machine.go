package workflow

import (
	"math"
	"strings"
)

// Case é a visão mínima de um atendimento necessária para decidir transições.
type Case struct {
	ID             int64
	Stage          Stage
	OwnerAtendente *int64
	AssignedTo     *int64
	ValorLiberado  *float64
	Taxa           *float64
}

// Payload reúne os campos aceitos pelas ações.
type Payload struct {
	Note                string
	Approved            *bool
	ContratoFormalizado *bool
	ValorLiberado       *float64
	Taxa                *float64
	Stage               *Stage
}

// Result descreve o atendimento após a transição e o evento a registrar.
type Result struct {
	Case      Case
	EventType string
	FromStage Stage
	ToStage   Stage
	Note      string
}

// Changed informa se a etapa mudou.
func (r Result) Changed() bool {
	return r.FromStage != r.ToStage
}

type assignRule int

const (
	assignNone assignRule = iota
	assignOwner
)

type forwardRule struct {
	to      Stage
	assign  assignRule
	guard   func(Actor, Case) bool
	denied  string
	ready   func(Case) error
	payload func(Payload) error
}

func ownerOnly(a Actor, c Case) bool { return a.owns(c) }

func calculoOnly(a Actor, _ Case) bool { return a.HasAnyRole(calculoRoles...) }

func managementOnly(a Actor, _ Case) bool { return a.HasAnyRole(managementRoles...) }

func financeiroOnly(a Actor, _ Case) bool { return a.HasAnyRole(financeiroRoles...) }

// forwardRules é a tabela de encaminhamentos por etapa de origem.
var forwardRules = map[Stage]forwardRule{
	StageAtendente: {
		to:     StageCalculista,
		assign: assignNone,
		guard:  ownerOnly,
		denied: "apenas o atendente responsável pode encaminhar",
	},
	StageCalculista: {
		to:     StageAtendentePosSim,
		assign: assignOwner,
		guard:  calculoOnly,
		denied: "requer calculista ou gestão",
		ready:  requireFinancials,
	},
	StageAtendentePosSim: {
		to:      StageGerenteFechamento,
		assign:  assignNone,
		guard:   ownerOnly,
		denied:  "apenas o atendente responsável pode encaminhar",
		payload: requireApproval,
	},
	StageGerenteFechamento: {
		to:      StageAtendenteDocs,
		assign:  assignOwner,
		guard:   managementOnly,
		denied:  "requer papel de gestão",
		payload: requireFormalizacao,
	},
	StageAtendenteDocs: {
		to:     StageFinanceiro,
		assign: assignNone,
		guard:  ownerOnly,
		denied: "apenas o atendente responsável pode encaminhar",
	},
	StageFinanceiro: {
		to:     StageContratosSupervisao,
		assign: assignNone,
		guard:  financeiroOnly,
		denied: "requer financeiro ou gestão",
	},
}

// NextStage devolve o destino do encaminhamento a partir da etapa.
func NextStage(from Stage) (Stage, bool) {
	rule, ok := forwardRules[from]
	if !ok {
		return "", false
	}
	return rule.to, true
}

// Can avalia as guardas de papel, posse e etapa sem olhar o payload.
func Can(actor Actor, action Action, c Case) bool {
	return check(actor, action, c) == nil
}

// Available lista as ações permitidas ao ator sobre o atendimento.
func Available(actor Actor, c Case) []Action {
	out := make([]Action, 0, len(actionOrder))
	for _, action := range actionOrder {
		if Can(actor, action, c) {
			out = append(out, action)
		}
	}
	return out
}

func check(actor Actor, action Action, c Case) error {
	switch action {
	case ActionClaim:
		if !actor.HasAnyRole(intakeRoles...) {
			return unauthorized(action, c.Stage, "requer papel de atendimento")
		}
		if c.OwnerAtendente != nil {
			return conflict(action, c.Stage, "atendimento já assumido")
		}
		if c.Stage != StageEsteiraGlobal {
			return invalidStage(action, c.Stage)
		}
		return nil
	case ActionRelease:
		if c.Stage != StageAtendente {
			return invalidStage(action, c.Stage)
		}
		if !actor.owns(c) {
			return unauthorized(action, c.Stage, "apenas o atendente responsável pode liberar")
		}
		return nil
	case ActionForward:
		rule, ok := forwardRules[c.Stage]
		if !ok {
			return invalidStage(action, c.Stage)
		}
		if !rule.guard(actor, c) {
			return unauthorized(action, c.Stage, rule.denied)
		}
		if rule.ready != nil {
			return rule.ready(c)
		}
		return nil
	case ActionCalculate:
		if c.Stage != StageCalculista {
			return invalidStage(action, c.Stage)
		}
		if !actor.HasAnyRole(calculoRoles...) {
			return unauthorized(action, c.Stage, "requer calculista ou gestão")
		}
		return nil
	case ActionAnnotate:
		if !c.Stage.Valid() {
			return invalidStage(action, c.Stage)
		}
		if !actor.HasKnownRole() {
			return unauthorized(action, c.Stage, "usuário sem papel")
		}
		return nil
	default:
		return invalid("action", "ação desconhecida: "+string(action))
	}
}

// Apply executa a transição sobre uma cópia do atendimento.
// O valor recebido nunca é alterado; em erro o resultado é vazio.
func Apply(actor Actor, action Action, c Case, p Payload) (Result, error) {
	if err := check(actor, action, c); err != nil {
		return Result{}, err
	}

	next := c.clone()
	note := strings.TrimSpace(p.Note)
	res := Result{FromStage: c.Stage, ToStage: c.Stage, Note: note}

	switch action {
	case ActionClaim:
		next.Stage = StageAtendente
		next.OwnerAtendente = int64Ptr(actor.ID)
		next.AssignedTo = int64Ptr(actor.ID)
		res.EventType = EventClaimed
	case ActionRelease:
		next.Stage = StageEsteiraGlobal
		next.OwnerAtendente = nil
		next.AssignedTo = nil
		res.EventType = EventReleased
	case ActionCalculate:
		valor, taxa, err := validateCalculo(p)
		if err != nil {
			return Result{}, err
		}
		next.ValorLiberado = float64Ptr(valor)
		next.Taxa = float64Ptr(taxa)
		res.EventType = EventCalculated
	case ActionAnnotate:
		if note == "" {
			return Result{}, invalid("note", "nota obrigatória")
		}
		res.EventType = EventNote
	case ActionForward:
		rule := forwardRules[c.Stage]
		if rule.payload != nil {
			if err := rule.payload(p); err != nil {
				return Result{}, err
			}
		}
		if c.Stage == StageAtendentePosSim && !*p.Approved {
			res.EventType = EventNotApproved
			res.Case = next
			return res, nil
		}
		if p.Stage != nil && *p.Stage != rule.to {
			return Result{}, &TransitionError{Kind: ErrInvalidStage, Action: action, Stage: c.Stage, Message: "destino informado não corresponde à próxima etapa " + rule.to.String()}
		}
		next.Stage = rule.to
		switch rule.assign {
		case assignOwner:
			next.AssignedTo = cloneInt64(c.OwnerAtendente)
		default:
			next.AssignedTo = nil
		}
		res.EventType = EventForwarded
	}

	res.ToStage = next.Stage
	res.Case = next
	return res, nil
}

func validateCalculo(p Payload) (float64, float64, error) {
	if p.ValorLiberado == nil {
		return 0, 0, invalid("valor_liberado", "valor liberado obrigatório")
	}
	if p.Taxa == nil {
		return 0, 0, invalid("taxa", "taxa obrigatória")
	}
	valor, taxa := *p.ValorLiberado, *p.Taxa
	if math.IsNaN(valor) || math.IsInf(valor, 0) || valor < 0 {
		return 0, 0, invalid("valor_liberado", "valor liberado deve ser numérico e não negativo")
	}
	if math.IsNaN(taxa) || taxa < 0 || taxa > 0.99 {
		return 0, 0, invalid("taxa", "taxa deve estar entre 0 e 0.99")
	}
	return valor, taxa, nil
}

func hasFinancials(c Case) bool {
	return c.ValorLiberado != nil && c.Taxa != nil
}

func requireFinancials(c Case) error {
	if !hasFinancials(c) {
		return invalid("valor_liberado", "cálculo pendente: informe valor liberado e taxa antes de encaminhar")
	}
	return nil
}

func requireApproval(p Payload) error {
	if p.Approved == nil {
		return invalid("approved", "informe se o cliente aprovou a simulação")
	}
	return nil
}

func requireFormalizacao(p Payload) error {
	if p.ContratoFormalizado == nil || !*p.ContratoFormalizado {
		return invalid("contrato_formalizado", "contrato deve estar formalizado")
	}
	return nil
}

func (c Case) clone() Case {
	out := c
	out.OwnerAtendente = cloneInt64(c.OwnerAtendente)
	out.AssignedTo = cloneInt64(c.AssignedTo)
	out.ValorLiberado = cloneFloat(c.ValorLiberado)
	out.Taxa = cloneFloat(c.Taxa)
	return out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return int64Ptr(*v)
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return float64Ptr(*v)
}

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }
