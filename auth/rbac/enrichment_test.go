package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type mockRoleStore struct {
	roles map[string]*core.Role
}

func newMockRoleStore() *mockRoleStore { return &mockRoleStore{roles: map[string]*core.Role{}} }

func (m *mockRoleStore) Create(ctx context.Context, role *core.Role) error {
	m.roles[role.ID] = role
	return nil
}

func (m *mockRoleStore) GetByID(ctx context.Context, tenantID, id string) (*core.Role, error) {
	if r, ok := m.roles[id]; ok && r.TenantID == tenantID {
		return r, nil
	}
	return nil, errors.New("role not found")
}

func (m *mockRoleStore) GetByName(ctx context.Context, tenantID, name string) (*core.Role, error) {
	for _, r := range m.roles {
		if r.TenantID == tenantID && r.Name == name {
			return r, nil
		}
	}
	return nil, errors.New("role not found")
}

func (m *mockRoleStore) Delete(ctx context.Context, tenantID, id string) error {
	delete(m.roles, id)
	return nil
}

func (m *mockRoleStore) List(ctx context.Context, tenantID string) ([]*core.Role, error) {
	var out []*core.Role
	for _, r := range m.roles {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockPermissionStore struct {
	perms map[string]*core.Permission
}

func newMockPermissionStore() *mockPermissionStore {
	return &mockPermissionStore{perms: map[string]*core.Permission{}}
}

func (m *mockPermissionStore) Create(ctx context.Context, perm *core.Permission) error {
	m.perms[perm.ID] = perm
	return nil
}

func (m *mockPermissionStore) GetByID(ctx context.Context, id string) (*core.Permission, error) {
	if p, ok := m.perms[id]; ok {
		return p, nil
	}
	return nil, errors.New("permission not found")
}

func (m *mockPermissionStore) List(ctx context.Context, clientID string) ([]*core.Permission, error) {
	var out []*core.Permission
	for _, p := range m.perms {
		if p.ClientID == clientID {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockRolePermissionStore struct {
	grants map[string][]*core.RolePermission
}

func newMockRolePermissionStore() *mockRolePermissionStore {
	return &mockRolePermissionStore{grants: map[string][]*core.RolePermission{}}
}

func (m *mockRolePermissionStore) Grant(ctx context.Context, rp *core.RolePermission) error {
	m.grants[rp.RoleID] = append(m.grants[rp.RoleID], rp)
	return nil
}

func (m *mockRolePermissionStore) Revoke(ctx context.Context, roleID, permissionID string) error {
	var kept []*core.RolePermission
	for _, rp := range m.grants[roleID] {
		if rp.PermissionID != permissionID {
			kept = append(kept, rp)
		}
	}
	m.grants[roleID] = kept
	return nil
}

func (m *mockRolePermissionStore) ListByRole(ctx context.Context, roleID string) ([]*core.RolePermission, error) {
	return m.grants[roleID], nil
}

type mockUserRoleStore struct {
	assignments []*core.UserRole
}

func newMockUserRoleStore() *mockUserRoleStore { return &mockUserRoleStore{} }

func (m *mockUserRoleStore) Assign(ctx context.Context, ur *core.UserRole) error {
	m.assignments = append(m.assignments, ur)
	return nil
}

func (m *mockUserRoleStore) Revoke(ctx context.Context, tenantID, userID, roleID string) error {
	var kept []*core.UserRole
	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.UserID == userID && a.RoleID == roleID {
			continue
		}
		kept = append(kept, a)
	}
	m.assignments = kept
	return nil
}

func (m *mockUserRoleStore) ListByUser(ctx context.Context, tenantID, userID string, at time.Time) ([]*core.UserRole, error) {
	var out []*core.UserRole
	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockUserRoleStore) Exists(ctx context.Context, tenantID, userID, roleID string) (bool, error) {
	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.UserID == userID && a.RoleID == roleID {
			return true, nil
		}
	}
	return false, nil
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func newTestEnrichedService(t *testing.T) (*EnrichedService, *mockRoleStore, *mockPermissionStore, *mockRolePermissionStore, *mockUserRoleStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&core.RbacTuple{}))

	base, err := NewService(db)
	require.NoError(t, err)

	roles := newMockRoleStore()
	perms := newMockPermissionStore()
	grants := newMockRolePermissionStore()
	userRoles := newMockUserRoleStore()
	cache := kv.NewMemoryAdapter()

	svc := NewEnrichedService(base, roles, perms, grants, userRoles, cache, time.Minute, 0, fixedClock{t: time.Now()})
	return svc, roles, perms, grants, userRoles
}

func TestEnrichedService_CreateAndAssignRole(t *testing.T) {
	svc, roles, perms, grants, _ := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{TenantID: "tenant-1", Name: "editor"}
	require.NoError(t, svc.CreateRole(ctx, role))
	assert.NotEmpty(t, role.ID)
	_ = roles

	perm := &core.Permission{ID: "perm-1", ClientID: "client-1", Resource: "docs", Action: "write"}
	require.NoError(t, perms.Create(ctx, perm))
	require.NoError(t, grants.Grant(ctx, &core.RolePermission{RoleID: role.ID, PermissionID: perm.ID}))

	require.NoError(t, svc.AssignRole(ctx, "tenant-1", "user-1", role.ID, "admin-1", nil))

	roleNames, permissions, err := svc.EnrichToken(ctx, "tenant-1", "user-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"editor"}, roleNames)
	assert.Equal(t, []string{"docs:write"}, permissions)
}

func TestEnrichedService_AssignRole_AlreadyAssigned(t *testing.T) {
	svc, roles, _, _, _ := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{ID: "role-1", TenantID: "tenant-1", Name: "viewer"}
	require.NoError(t, roles.Create(ctx, role))

	require.NoError(t, svc.AssignRole(ctx, "tenant-1", "user-1", role.ID, "admin-1", nil))
	err := svc.AssignRole(ctx, "tenant-1", "user-1", role.ID, "admin-1", nil)
	assert.ErrorIs(t, err, core.ErrRoleAlreadyAssigned)
}

func TestEnrichedService_DeleteRole_SystemRoleProtected(t *testing.T) {
	svc, roles, _, _, _ := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{ID: "role-1", TenantID: "tenant-1", Name: "owner", IsSystemRole: true}
	require.NoError(t, roles.Create(ctx, role))

	err := svc.DeleteRole(ctx, "tenant-1", role.ID)
	assert.ErrorIs(t, err, core.ErrCannotDeleteSystemRole)
}

func TestEnrichedService_DeleteRole_Success(t *testing.T) {
	svc, roles, _, _, _ := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{ID: "role-1", TenantID: "tenant-1", Name: "viewer"}
	require.NoError(t, roles.Create(ctx, role))

	require.NoError(t, svc.DeleteRole(ctx, "tenant-1", role.ID))
	_, err := roles.GetByID(ctx, "tenant-1", role.ID)
	assert.Error(t, err)
}

func TestEnrichedService_EnrichToken_UsesCache(t *testing.T) {
	svc, roles, perms, grants, userRoles := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{ID: "role-1", TenantID: "tenant-1", Name: "editor"}
	require.NoError(t, roles.Create(ctx, role))
	perm := &core.Permission{ID: "perm-1", ClientID: "client-1", Resource: "docs", Action: "write"}
	require.NoError(t, perms.Create(ctx, perm))
	require.NoError(t, grants.Grant(ctx, &core.RolePermission{RoleID: role.ID, PermissionID: perm.ID}))
	require.NoError(t, userRoles.Assign(ctx, &core.UserRole{UserID: "user-1", RoleID: role.ID, TenantID: "tenant-1"}))

	_, first, err := svc.EnrichToken(ctx, "tenant-1", "user-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs:write"}, first)

	// Mutate the underlying grant directly; a cached read should not see it.
	grants.grants[role.ID] = nil
	_, second, err := svc.EnrichToken(ctx, "tenant-1", "user-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, first, second, "enrichment should be served from cache")
}

func TestEnrichedService_EnrichToken_ExpiredAssignmentExcluded(t *testing.T) {
	svc, roles, perms, grants, userRoles := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{ID: "role-1", TenantID: "tenant-1", Name: "editor"}
	require.NoError(t, roles.Create(ctx, role))
	perm := &core.Permission{ID: "perm-1", ClientID: "client-1", Resource: "docs", Action: "write"}
	require.NoError(t, perms.Create(ctx, perm))
	require.NoError(t, grants.Grant(ctx, &core.RolePermission{RoleID: role.ID, PermissionID: perm.ID}))

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, userRoles.Assign(ctx, &core.UserRole{UserID: "user-1", RoleID: role.ID, TenantID: "tenant-1", ExpiresAt: &expired}))

	roleNames, permissions, err := svc.EnrichToken(ctx, "tenant-1", "user-1", "client-1")
	require.NoError(t, err)
	assert.Empty(t, roleNames)
	assert.Empty(t, permissions)
}

func TestEnrichedService_BatchCheck(t *testing.T) {
	svc, roles, perms, grants, userRoles := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{ID: "role-1", TenantID: "tenant-1", Name: "editor"}
	require.NoError(t, roles.Create(ctx, role))
	perm := &core.Permission{ID: "perm-1", ClientID: "client-1", Resource: "docs", Action: "write"}
	require.NoError(t, perms.Create(ctx, perm))
	require.NoError(t, grants.Grant(ctx, &core.RolePermission{RoleID: role.ID, PermissionID: perm.ID}))
	require.NoError(t, userRoles.Assign(ctx, &core.UserRole{UserID: "user-1", RoleID: role.ID, TenantID: "tenant-1"}))

	result, err := svc.BatchCheck(ctx, "tenant-1", "user-1", "client-1", []string{"docs:write", "docs:delete"})
	require.NoError(t, err)
	assert.True(t, result["docs:write"])
	assert.False(t, result["docs:delete"])
}

func TestEnrichedService_GrantPermission_SyncsCasbinPolicy(t *testing.T) {
	svc, roles, perms, _, _ := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{TenantID: "tenant-grant-1", Name: "editor"}
	require.NoError(t, svc.CreateRole(ctx, role))

	perm := &core.Permission{ClientID: "client-1", Resource: "docs", Action: "write"}
	require.NoError(t, svc.CreatePermission(ctx, perm))

	require.NoError(t, svc.GrantPermission(ctx, "tenant-grant-1", role.ID, perm.ID, "admin-1"))
	require.NoError(t, svc.AssignRole(ctx, "tenant-grant-1", "user-1", role.ID, "admin-1", nil))

	allowed, err := svc.Enforce(ctx, "tenant-grant-1", "user:user-1", "client-1:docs", "write")
	require.NoError(t, err)
	assert.True(t, allowed)
	_ = roles
	_ = perms
}

func TestEnrichedService_RevokePermission_RemovesCasbinPolicy(t *testing.T) {
	svc, _, _, _, _ := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{TenantID: "tenant-revoke-perm-1", Name: "editor"}
	require.NoError(t, svc.CreateRole(ctx, role))
	perm := &core.Permission{ClientID: "client-1", Resource: "docs", Action: "write"}
	require.NoError(t, svc.CreatePermission(ctx, perm))
	require.NoError(t, svc.GrantPermission(ctx, "tenant-revoke-perm-1", role.ID, perm.ID, "admin-1"))
	require.NoError(t, svc.AssignRole(ctx, "tenant-revoke-perm-1", "user-1", role.ID, "admin-1", nil))

	allowed, err := svc.Enforce(ctx, "tenant-revoke-perm-1", "user:user-1", "client-1:docs", "write")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, svc.RevokePermission(ctx, "tenant-revoke-perm-1", role.ID, perm.ID))

	allowed, err = svc.Enforce(ctx, "tenant-revoke-perm-1", "user:user-1", "client-1:docs", "write")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEnrichedService_RevokeRole_RemovesCasbinGrouping(t *testing.T) {
	svc, roles, _, _, _ := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{ID: "role-revoke-1", TenantID: "tenant-revoke-1", Name: "viewer"}
	require.NoError(t, roles.Create(ctx, role))
	require.NoError(t, svc.AssignRole(ctx, "tenant-revoke-1", "user-1", role.ID, "admin-1", nil))

	rolesForUser, err := svc.RolesForUser(ctx, "tenant-revoke-1", "user-1")
	require.NoError(t, err)
	assert.Contains(t, rolesForUser, "viewer")

	require.NoError(t, svc.RevokeRole(ctx, "tenant-revoke-1", "user-1", role.ID))

	rolesForUser, err = svc.RolesForUser(ctx, "tenant-revoke-1", "user-1")
	require.NoError(t, err)
	assert.NotContains(t, rolesForUser, "viewer")
}

func TestEnrichedService_AssignThenRevokeRole_InvalidatesCache(t *testing.T) {
	svc, roles, perms, grants, _ := newTestEnrichedService(t)
	ctx := context.Background()

	role := &core.Role{ID: "role-cache-1", TenantID: "tenant-revoke-cache-1", Name: "editor"}
	require.NoError(t, roles.Create(ctx, role))
	perm := &core.Permission{ID: "perm-cache-1", ClientID: "client-1", Resource: "docs", Action: "write"}
	require.NoError(t, perms.Create(ctx, perm))
	require.NoError(t, grants.Grant(ctx, &core.RolePermission{RoleID: role.ID, PermissionID: perm.ID}))
	require.NoError(t, svc.AssignRole(ctx, "tenant-revoke-cache-1", "user-1", role.ID, "admin-1", nil))

	_, permissions, err := svc.EnrichToken(ctx, "tenant-revoke-cache-1", "user-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs:write"}, permissions)

	require.NoError(t, svc.RevokeRole(ctx, "tenant-revoke-cache-1", "user-1", role.ID))

	_, permissions, err = svc.EnrichToken(ctx, "tenant-revoke-cache-1", "user-1", "client-1")
	require.NoError(t, err)
	assert.Empty(t, permissions, "cache must be invalidated after role revocation")
}

func TestEnrichedService_MaxPermissionsTruncates(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&core.RbacTuple{}))
	base, err := NewService(db)
	require.NoError(t, err)

	roles := newMockRoleStore()
	perms := newMockPermissionStore()
	grants := newMockRolePermissionStore()
	userRoles := newMockUserRoleStore()

	svc := NewEnrichedService(base, roles, perms, grants, userRoles, nil, time.Minute, 1, fixedClock{t: time.Now()})
	ctx := context.Background()

	role := &core.Role{ID: "role-1", TenantID: "tenant-1", Name: "editor"}
	require.NoError(t, roles.Create(ctx, role))
	require.NoError(t, userRoles.Assign(ctx, &core.UserRole{UserID: "user-1", RoleID: role.ID, TenantID: "tenant-1"}))
	for _, name := range []string{"a", "b", "c"} {
		p := &core.Permission{ID: "perm-" + name, ClientID: "client-1", Resource: name, Action: "read"}
		require.NoError(t, perms.Create(ctx, p))
		require.NoError(t, grants.Grant(ctx, &core.RolePermission{RoleID: role.ID, PermissionID: p.ID}))
	}

	_, permissions, err := svc.EnrichToken(ctx, "tenant-1", "user-1", "client-1")
	require.NoError(t, err)
	assert.Len(t, permissions, 1)
}
