package workflow

import "strings"

// Papéis reconhecidos pela esteira.
const (
	RoleAtendente  = "atendente"
	RoleCalculista = "calculista"
	RoleGerente    = "gerente"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
	RoleFinanceiro = "financeiro"
)

var (
	managementRoles = []string{RoleGerente, RoleSupervisor, RoleAdmin, RoleSuperadmin}
	intakeRoles     = append([]string{RoleAtendente}, managementRoles...)
	calculoRoles    = append([]string{RoleCalculista}, managementRoles...)
	financeiroRoles = append([]string{RoleFinanceiro}, managementRoles...)
	adminRoles      = []string{RoleAdmin, RoleSuperadmin}
	knownRoles      = []string{RoleAtendente, RoleCalculista, RoleGerente, RoleSupervisor, RoleAdmin, RoleSuperadmin, RoleFinanceiro}
)

// ManagementRoles devolve os papéis de gestão.
func ManagementRoles() []string { return append([]string(nil), managementRoles...) }

// IntakeRoles devolve papéis que abrem e assumem atendimentos.
func IntakeRoles() []string { return append([]string(nil), intakeRoles...) }

// CalculoRoles devolve papéis autorizados a calcular e simular.
func CalculoRoles() []string { return append([]string(nil), calculoRoles...) }

// AdminRoles devolve papéis com poderes administrativos.
func AdminRoles() []string { return append([]string(nil), adminRoles...) }

// KnownRoles lista todos os papéis aceitos.
func KnownRoles() []string { return append([]string(nil), knownRoles...) }

// NormalizeRole padroniza o rótulo do papel.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// IsKnownRole informa se o papel existe na esteira.
func IsKnownRole(role string) bool {
	role = NormalizeRole(role)
	for _, known := range knownRoles {
		if known == role {
			return true
		}
	}
	return false
}

// Actor é quem executa a ação: id do usuário e seus papéis.
type Actor struct {
	ID    int64
	Roles []string
}

// HasAnyRole informa se o ator possui algum dos papéis.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, held := range a.Roles {
		held = NormalizeRole(held)
		for _, want := range roles {
			if held == want {
				return true
			}
		}
	}
	return false
}

// IsManagement informa se o ator tem papel de gestão.
func (a Actor) IsManagement() bool {
	return a.HasAnyRole(managementRoles...)
}

// CanIntake informa se o ator pode abrir e importar atendimentos.
func (a Actor) CanIntake() bool {
	return a.HasAnyRole(intakeRoles...)
}

// CanSimulate informa se o ator pode pedir simulações.
func (a Actor) CanSimulate() bool {
	return a.HasAnyRole(calculoRoles...)
}

// IsAdmin informa se o ator pode executar operações administrativas.
func (a Actor) IsAdmin() bool {
	return a.HasAnyRole(adminRoles...)
}

// HasKnownRole informa se o ator tem ao menos um papel reconhecido.
func (a Actor) HasKnownRole() bool {
	return a.HasAnyRole(knownRoles...)
}

func (a Actor) owns(c Case) bool {
	return c.OwnerAtendente != nil && *c.OwnerAtendente == a.ID
}
