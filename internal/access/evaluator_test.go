package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermissionAdminGrantSatisfiesEveryLevel(t *testing.T) {
	perms := []Permission{{ID: PermPoliciesManage, Module: ModulePolicies, Level: LevelAdmin}}

	for _, level := range []Level{LevelView, LevelEdit, LevelAdmin} {
		assert.True(t, HasPermission(perms, PermPoliciesManage, level), "level %s", level)
	}
	assert.False(t, HasPermission(perms, PermClientsManage, LevelView))
}

func TestHasPermissionExactMatchOnly(t *testing.T) {
	perms := []Permission{{ID: PermPoliciesManage, Level: LevelEdit}}

	assert.False(t, HasPermission(perms, PermPoliciesManage, LevelView), "edit must not imply view")
	assert.True(t, HasPermission(perms, PermPoliciesManage, LevelEdit))
	assert.False(t, HasPermission(perms, PermPoliciesManage, LevelAdmin))
	assert.False(t, HasPermission(nil, PermPoliciesManage, LevelView))
}

func TestHasPermissionDefaultsToView(t *testing.T) {
	perms := []Permission{{ID: PermReportsView, Level: LevelView}}
	assert.True(t, HasPermission(perms, PermReportsView, ""))
}

func TestHasRoleAccess(t *testing.T) {
	catalog := DefaultCatalog()

	admin, err := catalog.Role(RoleAdmin)
	require.NoError(t, err)
	agency, err := catalog.Role(RoleAgency)
	require.NoError(t, err)
	client, err := catalog.Role(RoleClient)
	require.NoError(t, err)

	assert.True(t, HasRoleAccess(admin, AccessBasic))
	assert.True(t, HasRoleAccess(admin, AccessAdvanced))
	assert.True(t, HasRoleAccess(agency, AccessAdvanced))
	assert.False(t, HasRoleAccess(agency, AccessBasic))
	assert.False(t, HasRoleAccess(agency, AccessAdmin))
	assert.True(t, HasRoleAccess(client, ""))
}

func TestEffectivePermissionsUnionsRoleAndDirectGrants(t *testing.T) {
	catalog := DefaultCatalog()
	actor := Actor{
		ID:   "42",
		Role: RoleClient,
		Permissions: []Permission{
			{ID: PermReportsView, Module: ModuleReports, Level: LevelView},
			{ID: PermDashboardView, Module: ModuleDashboard, Level: LevelView},
		},
	}

	effective := EffectivePermissions(catalog, actor)

	assert.True(t, HasPermission(effective, PermReportsView, LevelView))
	assert.True(t, HasPermission(effective, PermPoliciesManage, LevelView))
	count := 0
	for _, p := range effective {
		if p.ID == PermDashboardView {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate grants collapse")
}

func TestEffectivePermissionsUnknownRoleKeepsDirectGrants(t *testing.T) {
	actor := Actor{ID: "7", Role: Role("GHOST"), Permissions: []Permission{{ID: PermReportsView, Level: LevelAdmin}}}

	effective := EffectivePermissions(DefaultCatalog(), actor)

	require.Len(t, effective, 1)
	assert.Equal(t, PermReportsView, effective[0].ID)
}
