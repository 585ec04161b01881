package access

// Permission ids declared for the agency back office.
const (
	PermDashboardView   = "dashboard.view"
	PermClientsManage   = "clients.manage"
	PermPoliciesManage  = "policies.manage"
	PermPaymentsManage  = "payments.manage"
	PermPromotersManage = "promoters.manage"
	PermAgenciesManage  = "agencies.manage"
	PermPipelineManage  = "pipeline.manage"
	PermCommissionsView = "commissions.view"
	PermReportsView     = "reports.view"
	PermSettingsManage  = "settings.manage"
	PermUsersManage     = "users.manage"
	PermProfileManage   = "profile.manage"
)

// Modules group permissions for listings.
const (
	ModuleDashboard   = "dashboard"
	ModuleClients     = "clients"
	ModulePolicies    = "policies"
	ModulePayments    = "payments"
	ModulePromoters   = "promoters"
	ModuleAgencies    = "agencies"
	ModulePipeline    = "pipeline"
	ModuleCommissions = "commissions"
	ModuleReports     = "reports"
	ModuleSettings    = "settings"
	ModuleUsers       = "users"
	ModuleProfile     = "profile"
)

// DefaultDefinitions lists every permission known to the catalog.
func DefaultDefinitions() []PermissionDef {
	return []PermissionDef{
		{ID: PermDashboardView, Module: ModuleDashboard, Description: "Ver tablero"},
		{ID: PermClientsManage, Module: ModuleClients, Description: "Gestionar clientes"},
		{ID: PermPoliciesManage, Module: ModulePolicies, Description: "Gestionar pólizas"},
		{ID: PermPaymentsManage, Module: ModulePayments, Description: "Gestionar pagos"},
		{ID: PermPromotersManage, Module: ModulePromoters, Description: "Gestionar promotores"},
		{ID: PermAgenciesManage, Module: ModuleAgencies, Description: "Gestionar agencias"},
		{ID: PermPipelineManage, Module: ModulePipeline, Description: "Gestionar embudo de ventas"},
		{ID: PermCommissionsView, Module: ModuleCommissions, Description: "Ver comisiones"},
		{ID: PermReportsView, Module: ModuleReports, Description: "Ver reportes"},
		{ID: PermSettingsManage, Module: ModuleSettings, Description: "Configurar la plataforma"},
		{ID: PermUsersManage, Module: ModuleUsers, Description: "Gestionar usuarios"},
		{ID: PermProfileManage, Module: ModuleProfile, Description: "Editar perfil propio"},
	}
}

// DefaultRoles returns the role bundles of the agency back office.
func DefaultRoles() []RoleDef {
	return []RoleDef{
		{
			ID:          RoleAdmin,
			Name:        "Administrador",
			Description: "Acceso total a la plataforma",
			AccessLevel: AccessAdmin,
			Permissions: grantAll(LevelAdmin),
		},
		{
			ID:          RoleAgency,
			Name:        "Agencia",
			Description: "Opera la cartera de la agencia",
			AccessLevel: AccessAdvanced,
			Permissions: []Permission{
				grant(PermDashboardView, LevelView),
				grant(PermClientsManage, LevelAdmin),
				grant(PermPoliciesManage, LevelAdmin),
				grant(PermPaymentsManage, LevelEdit),
				grant(PermPromotersManage, LevelAdmin),
				grant(PermPipelineManage, LevelAdmin),
				grant(PermCommissionsView, LevelView),
				grant(PermReportsView, LevelView),
				grant(PermSettingsManage, LevelEdit),
				grant(PermProfileManage, LevelEdit),
			},
		},
		{
			ID:          RolePromoter,
			Name:        "Promotor",
			Description: "Vende y da seguimiento a sus clientes",
			AccessLevel: AccessBasic,
			Permissions: []Permission{
				grant(PermDashboardView, LevelView),
				grant(PermClientsManage, LevelEdit),
				grant(PermPoliciesManage, LevelEdit),
				grant(PermPipelineManage, LevelEdit),
				grant(PermCommissionsView, LevelView),
				grant(PermPaymentsManage, LevelView),
				grant(PermProfileManage, LevelEdit),
			},
		},
		{
			ID:          RoleAssistant,
			Name:        "Asistente",
			Description: "Apoyo administrativo de la agencia",
			AccessLevel: AccessBasic,
			Permissions: []Permission{
				grant(PermDashboardView, LevelView),
				grant(PermClientsManage, LevelView),
				grant(PermPoliciesManage, LevelView),
				grant(PermPaymentsManage, LevelEdit),
				grant(PermProfileManage, LevelEdit),
			},
		},
		{
			ID:          RoleClient,
			Name:        "Cliente",
			Description: "Consulta sus pólizas y pagos",
			AccessLevel: AccessBasic,
			Permissions: []Permission{
				grant(PermDashboardView, LevelView),
				grant(PermPoliciesManage, LevelView),
				grant(PermPaymentsManage, LevelView),
				grant(PermProfileManage, LevelEdit),
			},
		},
	}
}

func grant(id string, level Level) Permission {
	return Permission{ID: id, Module: moduleOf(id), Level: level}
}

func grantAll(level Level) []Permission {
	defs := DefaultDefinitions()
	perms := make([]Permission, 0, len(defs))
	for _, def := range defs {
		perms = append(perms, Permission{ID: def.ID, Module: def.Module, Level: level})
	}
	return perms
}
