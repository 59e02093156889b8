package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nebularis/iam/auth/core"
	"gorm.io/gorm"
)

// providerStore implements core.ProviderStore
type providerStore struct {
	db *gorm.DB
}

func (s *providerStore) Create(ctx context.Context, provider *core.Provider) error {
	model, err := fromCoreProvider(provider)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *providerStore) GetByID(ctx context.Context, tenantID, id string) (*core.Provider, error) {
	var model Provider
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreProvider(&model)
}

func (s *providerStore) GetByName(ctx context.Context, tenantID, name string) (*core.Provider, error) {
	var model Provider
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND name = ?", tenantID, name).Error; err != nil {
		return nil, err
	}
	return toCoreProvider(&model)
}

func (s *providerStore) Update(ctx context.Context, provider *core.Provider) error {
	config, err := json.Marshal(provider.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return s.db.WithContext(ctx).Model(&Provider{}).Where("id = ?", provider.ID).Updates(map[string]interface{}{
		"display_name":      provider.DisplayName,
		"client_id":         provider.ClientID,
		"secret_ciphertext": provider.SecretCiphertext,
		"secret_iv":         provider.SecretIV,
		"secret_last4":      provider.SecretLast4,
		"config":            JSONMap(jsonMapFrom(config)),
		"enabled":           provider.Enabled,
		"display_order":     provider.DisplayOrder,
		"updated_at":        provider.UpdatedAt,
	}).Error
}

func (s *providerStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&Provider{}).Error
}

func (s *providerStore) List(ctx context.Context, tenantID string) ([]*core.Provider, error) {
	var models []Provider
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("display_order ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Provider, len(models))
	for i, m := range models {
		p, err := toCoreProvider(&m)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func fromCoreProvider(p *core.Provider) (*Provider, error) {
	config, err := json.Marshal(p.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return &Provider{
		ID:               p.ID,
		TenantID:         p.TenantID,
		Type:             p.Type,
		Name:             p.Name,
		DisplayName:      p.DisplayName,
		ClientID:         p.ClientID,
		SecretCiphertext: p.SecretCiphertext,
		SecretIV:         p.SecretIV,
		SecretLast4:      p.SecretLast4,
		Config:           JSONMap(jsonMapFrom(config)),
		Enabled:          p.Enabled,
		DisplayOrder:     p.DisplayOrder,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}, nil
}

func toCoreProvider(m *Provider) (*core.Provider, error) {
	return &core.Provider{
		ID:               m.ID,
		TenantID:         m.TenantID,
		Type:             m.Type,
		Name:             m.Name,
		DisplayName:      m.DisplayName,
		ClientID:         m.ClientID,
		SecretCiphertext: m.SecretCiphertext,
		SecretIV:         m.SecretIV,
		SecretLast4:      m.SecretLast4,
		Config:           map[string]interface{}(m.Config),
		Enabled:          m.Enabled,
		DisplayOrder:     m.DisplayOrder,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}
