package store

import (
	"context"
	"time"

	"github.com/nebularis/iam/auth/core"
	"gorm.io/gorm"
)

// roleStore implements core.RoleStore
type roleStore struct {
	db *gorm.DB
}

func (s *roleStore) Create(ctx context.Context, role *core.Role) error {
	model := &Role{
		ID:           role.ID,
		TenantID:     role.TenantID,
		Name:         role.Name,
		Description:  role.Description,
		IsSystemRole: role.IsSystemRole,
		CreatedAt:    role.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *roleStore) GetByID(ctx context.Context, tenantID, id string) (*core.Role, error) {
	var model Role
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreRole(&model), nil
}

func (s *roleStore) GetByName(ctx context.Context, tenantID, name string) (*core.Role, error) {
	var model Role
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND name = ?", tenantID, name).Error; err != nil {
		return nil, err
	}
	return toCoreRole(&model), nil
}

func (s *roleStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&Role{}).Error
}

func (s *roleStore) List(ctx context.Context, tenantID string) ([]*core.Role, error) {
	var models []Role
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Role, len(models))
	for i, m := range models {
		out[i] = toCoreRole(&m)
	}
	return out, nil
}

func toCoreRole(m *Role) *core.Role {
	return &core.Role{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		Description:  m.Description,
		IsSystemRole: m.IsSystemRole,
		CreatedAt:    m.CreatedAt,
	}
}

// permissionStore implements core.PermissionStore
type permissionStore struct {
	db *gorm.DB
}

func (s *permissionStore) Create(ctx context.Context, perm *core.Permission) error {
	model := &Permission{
		ID:          perm.ID,
		ClientID:    perm.ClientID,
		Name:        perm.Name,
		Resource:    perm.Resource,
		Action:      perm.Action,
		Description: perm.Description,
		CreatedAt:   perm.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *permissionStore) GetByID(ctx context.Context, id string) (*core.Permission, error) {
	var model Permission
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCorePermission(&model), nil
}

func (s *permissionStore) List(ctx context.Context, clientID string) ([]*core.Permission, error) {
	var models []Permission
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("resource ASC, action ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Permission, len(models))
	for i, m := range models {
		out[i] = toCorePermission(&m)
	}
	return out, nil
}

func toCorePermission(m *Permission) *core.Permission {
	return &core.Permission{
		ID:          m.ID,
		ClientID:    m.ClientID,
		Name:        m.Name,
		Resource:    m.Resource,
		Action:      m.Action,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}
}

// rolePermissionStore implements core.RolePermissionStore
type rolePermissionStore struct {
	db *gorm.DB
}

func (s *rolePermissionStore) Grant(ctx context.Context, rp *core.RolePermission) error {
	model := &RolePermission{
		RoleID:       rp.RoleID,
		PermissionID: rp.PermissionID,
		GrantedBy:    rp.GrantedBy,
		GrantedAt:    rp.GrantedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *rolePermissionStore) Revoke(ctx context.Context, roleID, permissionID string) error {
	return s.db.WithContext(ctx).Where("role_id = ? AND permission_id = ?", roleID, permissionID).Delete(&RolePermission{}).Error
}

func (s *rolePermissionStore) ListByRole(ctx context.Context, roleID string) ([]*core.RolePermission, error) {
	var models []RolePermission
	if err := s.db.WithContext(ctx).Where("role_id = ?", roleID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.RolePermission, len(models))
	for i, m := range models {
		out[i] = &core.RolePermission{
			RoleID:       m.RoleID,
			PermissionID: m.PermissionID,
			GrantedBy:    m.GrantedBy,
			GrantedAt:    m.GrantedAt,
		}
	}
	return out, nil
}

// userRoleStore implements core.UserRoleStore
type userRoleStore struct {
	db *gorm.DB
}

func (s *userRoleStore) Assign(ctx context.Context, ur *core.UserRole) error {
	model := &UserRole{
		UserID:     ur.UserID,
		RoleID:     ur.RoleID,
		TenantID:   ur.TenantID,
		AssignedBy: ur.AssignedBy,
		AssignedAt: ur.AssignedAt,
		ExpiresAt:  ur.ExpiresAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *userRoleStore) Revoke(ctx context.Context, tenantID, userID, roleID string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ? AND role_id = ?", tenantID, userID, roleID).Delete(&UserRole{}).Error
}

func (s *userRoleStore) ListByUser(ctx context.Context, tenantID, userID string, at time.Time) ([]*core.UserRole, error) {
	var models []UserRole
	query := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ? AND (expires_at IS NULL OR expires_at > ?)", tenantID, userID, at)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.UserRole, len(models))
	for i, m := range models {
		out[i] = &core.UserRole{
			UserID:     m.UserID,
			RoleID:     m.RoleID,
			TenantID:   m.TenantID,
			AssignedBy: m.AssignedBy,
			AssignedAt: m.AssignedAt,
			ExpiresAt:  m.ExpiresAt,
		}
	}
	return out, nil
}

func (s *userRoleStore) Exists(ctx context.Context, tenantID, userID, roleID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserRole{}).
		Where("tenant_id = ? AND user_id = ? AND role_id = ?", tenantID, userID, roleID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
