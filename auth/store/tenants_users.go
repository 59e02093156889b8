package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nebularis/iam/auth/core"
	"gorm.io/gorm"
)

// tenantStore implements core.TenantStore
type tenantStore struct {
	db *gorm.DB
}

func (s *tenantStore) Create(ctx context.Context, tenant *core.Tenant) error {
	model, err := fromCoreTenant(tenant)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *tenantStore) GetByID(ctx context.Context, id string) (*core.Tenant, error) {
	var model Tenant
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreTenant(&model)
}

func (s *tenantStore) GetBySlug(ctx context.Context, slug string) (*core.Tenant, error) {
	var model Tenant
	if err := s.db.WithContext(ctx).First(&model, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return toCoreTenant(&model)
}

func (s *tenantStore) Update(ctx context.Context, tenant *core.Tenant) error {
	branding, err := json.Marshal(tenant.Branding)
	if err != nil {
		return fmt.Errorf("marshal branding: %w", err)
	}
	settings, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", tenant.ID).Updates(map[string]interface{}{
		"slug":     tenant.Slug,
		"name":     tenant.Name,
		"status":   tenant.Status,
		"branding": JSONMap(jsonMapFrom(branding)),
		"settings": JSONMap(jsonMapFrom(settings)),
	}).Error
}

func (s *tenantStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     "deleted",
		"deleted_at": &at,
	}).Error
}

func (s *tenantStore) List(ctx context.Context, status *string, limit int, cursor string) ([]*core.Tenant, string, error) {
	var models []Tenant
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit + 1)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	tenants := make([]*core.Tenant, len(models))
	for i, m := range models {
		t, err := toCoreTenant(&m)
		if err != nil {
			return nil, "", err
		}
		tenants[i] = t
	}
	return tenants, nextCursor, nil
}

func jsonMapFrom(data []byte) map[string]interface{} {
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	return m
}

func fromCoreTenant(t *core.Tenant) (*Tenant, error) {
	branding, err := json.Marshal(t.Branding)
	if err != nil {
		return nil, fmt.Errorf("marshal branding: %w", err)
	}
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return &Tenant{
		ID:        t.ID,
		Slug:      t.Slug,
		Name:      t.Name,
		Status:    t.Status,
		Branding:  JSONMap(jsonMapFrom(branding)),
		Settings:  JSONMap(jsonMapFrom(settings)),
		CreatedAt: t.CreatedAt,
		DeletedAt: t.DeletedAt,
	}, nil
}

func toCoreTenant(m *Tenant) (*core.Tenant, error) {
	t := &core.Tenant{
		ID:        m.ID,
		Slug:      m.Slug,
		Name:      m.Name,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		DeletedAt: m.DeletedAt,
	}
	data, err := json.Marshal(map[string]interface{}(m.Branding))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &t.Branding); err != nil {
		return nil, err
	}
	data, err = json.Marshal(map[string]interface{}(m.Settings))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &t.Settings); err != nil {
		return nil, err
	}
	return t, nil
}

// userStore implements core.UserStore
type userStore struct {
	db *gorm.DB
}

func (s *userStore) Create(ctx context.Context, user *core.User) error {
	model := &User{
		ID:                    user.ID,
		TenantID:              user.TenantID,
		Email:                 user.Email,
		EmailVerified:         user.EmailVerified,
		Status:                user.Status,
		Name:                  user.Name,
		DisplayName:           user.DisplayName,
		Metadata:              JSONMap(user.Metadata),
		PasswordResetRequired: user.PasswordResetRequired,
		LastLoginAt:           user.LastLoginAt,
		CreatedAt:             user.CreatedAt,
		UpdatedAt:             user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *userStore) GetByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreUser(&model), nil
}

func (s *userStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND email = ?", tenantID, email).Error; err != nil {
		return nil, err
	}
	return toCoreUser(&model), nil
}

func (s *userStore) Update(ctx context.Context, user *core.User) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"email":                   user.Email,
		"email_verified":          user.EmailVerified,
		"status":                  user.Status,
		"name":                    user.Name,
		"display_name":            user.DisplayName,
		"metadata":                JSONMap(user.Metadata),
		"password_reset_required": user.PasswordResetRequired,
		"last_login_at":           user.LastLoginAt,
		"updated_at":              user.UpdatedAt,
	}).Error
}

func (s *userStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.User, string, error) {
	var models []User
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	users := make([]*core.User, len(models))
	for i, m := range models {
		users[i] = toCoreUser(&m)
	}
	return users, nextCursor, nil
}

func (s *userStore) SetPassword(ctx context.Context, userID string, hash string) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO user_passwords (user_id, password_hash, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		 password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at`,
		userID, hash, time.Now(),
	).Error
}

func (s *userStore) GetPassword(ctx context.Context, userID string) (string, error) {
	var model UserPassword
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		return "", err
	}
	return model.PasswordHash, nil
}

func toCoreUser(m *User) *core.User {
	return &core.User{
		ID:                    m.ID,
		TenantID:              m.TenantID,
		Email:                 m.Email,
		EmailVerified:         m.EmailVerified,
		Status:                m.Status,
		Name:                  m.Name,
		DisplayName:           m.DisplayName,
		Metadata:              map[string]interface{}(m.Metadata),
		PasswordResetRequired: m.PasswordResetRequired,
		LastLoginAt:           m.LastLoginAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// userIdentityStore implements core.UserIdentityStore
type userIdentityStore struct {
	db *gorm.DB
}

func (s *userIdentityStore) Create(ctx context.Context, identity *core.UserIdentity) error {
	model := &UserIdentity{
		ID:             identity.ID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		ProviderData:   JSONMap(identity.ProviderData),
		CreatedAt:      identity.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *userIdentityStore) GetByProvider(ctx context.Context, tenantID, provider, providerUserID string) (*core.UserIdentity, error) {
	var model UserIdentity
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND provider = ? AND provider_user_id = ?", tenantID, provider, providerUserID).Error; err != nil {
		return nil, err
	}
	return toCoreUserIdentity(&model), nil
}

func (s *userIdentityStore) ListByUser(ctx context.Context, tenantID, userID string) ([]*core.UserIdentity, error) {
	var models []UserIdentity
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.UserIdentity, len(models))
	for i, m := range models {
		out[i] = toCoreUserIdentity(&m)
	}
	return out, nil
}

func (s *userIdentityStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&UserIdentity{}).Error
}

func toCoreUserIdentity(m *UserIdentity) *core.UserIdentity {
	return &core.UserIdentity{
		ID:             m.ID,
		UserID:         m.UserID,
		TenantID:       m.TenantID,
		Provider:       m.Provider,
		ProviderUserID: m.ProviderUserID,
		ProviderData:   map[string]interface{}(m.ProviderData),
		CreatedAt:      m.CreatedAt,
	}
}

// sessionStore implements core.SessionStore
type sessionStore struct {
	db *gorm.DB
}

func (s *sessionStore) Create(ctx context.Context, session *core.Session) error {
	model := &Session{
		ID:             session.ID,
		TenantID:       session.TenantID,
		UserID:         session.UserID,
		ClientID:       session.ClientID,
		IP:             &session.IP,
		UserAgent:      &session.UserAgent,
		Version:        session.Version,
		ActiveUserID:   session.ActiveUserID,
		AccountUserIDs: StringSlice(session.AccountUserIDs),
		CreatedAt:      session.CreatedAt,
		LastSeenAt:     session.LastSeenAt,
		RevokedAt:      session.RevokedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *sessionStore) GetByID(ctx context.Context, tenantID, id string) (*core.Session, error) {
	var model Session
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreSession(&model), nil
}

// UpdateWithVersion performs an optimistic-concurrency update gated on the
// row's current version column, matching the semantics core.SessionStore
// requires for the sliding-window refresh race.
func (s *sessionStore) UpdateWithVersion(ctx context.Context, session *core.Session, expectedVersion int64) error {
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND version = ?", session.ID, expectedVersion).
		Updates(map[string]interface{}{
			"version":          session.Version,
			"active_user_id":   session.ActiveUserID,
			"account_user_ids": StringSlice(session.AccountUserIDs),
			"last_seen_at":     session.LastSeenAt,
			"revoked_at":       session.RevokedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrVersionConflict
	}
	return nil
}

func (s *sessionStore) Revoke(ctx context.Context, tenantID, id string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Session{}).Where("tenant_id = ? AND id = ?", tenantID, id).Update("revoked_at", &now).Error
}

func (s *sessionStore) RevokeAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where("tenant_id = ? AND revoked_at IS NULL AND (user_id = ? OR account_user_ids LIKE ?)", tenantID, userID, "%"+userID+"%").
		Update("revoked_at", &now)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (s *sessionStore) List(ctx context.Context, tenantID string, userID, clientID *string, activeOnly bool, limit int, cursor string) ([]*core.Session, string, error) {
	var models []Session
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)

	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if clientID != nil {
		query = query.Where("client_id = ?", *clientID)
	}
	if activeOnly {
		query = query.Where("revoked_at IS NULL")
	}
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}

	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	sessions := make([]*core.Session, len(models))
	for i, m := range models {
		sessions[i] = toCoreSession(&m)
	}
	return sessions, nextCursor, nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).Where("revoked_at IS NOT NULL OR created_at < ?", before).Delete(&Session{}).Error
}

func toCoreSession(m *Session) *core.Session {
	s := &core.Session{
		ID:             m.ID,
		TenantID:       m.TenantID,
		UserID:         m.UserID,
		ClientID:       m.ClientID,
		Version:        m.Version,
		ActiveUserID:   m.ActiveUserID,
		AccountUserIDs: []string(m.AccountUserIDs),
		CreatedAt:      m.CreatedAt,
		LastSeenAt:     m.LastSeenAt,
		RevokedAt:      m.RevokedAt,
	}
	if m.IP != nil {
		s.IP = *m.IP
	}
	if m.UserAgent != nil {
		s.UserAgent = *m.UserAgent
	}
	return s
}

// accountSessionStore implements core.AccountSessionStore
type accountSessionStore struct {
	db *gorm.DB
}

func (s *accountSessionStore) Create(ctx context.Context, acc *core.AccountSession) error {
	model, err := fromCoreAccountSession(acc)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *accountSessionStore) Get(ctx context.Context, tenantID, browserSessionID, userID string) (*core.AccountSession, error) {
	var model AccountSession
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND browser_session_id = ? AND user_id = ?", tenantID, browserSessionID, userID).Error; err != nil {
		return nil, err
	}
	return toCoreAccountSession(&model)
}

func (s *accountSessionStore) ListByBrowserSession(ctx context.Context, tenantID, browserSessionID string) ([]*core.AccountSession, error) {
	var models []AccountSession
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND browser_session_id = ?", tenantID, browserSessionID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.AccountSession, len(models))
	for i, m := range models {
		acc, err := toCoreAccountSession(&m)
		if err != nil {
			return nil, err
		}
		out[i] = acc
	}
	return out, nil
}

func (s *accountSessionStore) SetActive(ctx context.Context, tenantID, browserSessionID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Model(&AccountSession{}).
			Where("tenant_id = ? AND browser_session_id = ?", tenantID, browserSessionID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Model(&AccountSession{}).
			Where("tenant_id = ? AND browser_session_id = ? AND user_id = ?", tenantID, browserSessionID, userID).
			Update("is_active", true).Error
	})
}

func (s *accountSessionStore) Delete(ctx context.Context, tenantID, browserSessionID, userID string) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND browser_session_id = ? AND user_id = ?", tenantID, browserSessionID, userID).
		Delete(&AccountSession{}).Error
}

func (s *accountSessionStore) DeleteAll(ctx context.Context, tenantID, browserSessionID string) (int, error) {
	result := s.db.WithContext(ctx).Where("tenant_id = ? AND browser_session_id = ?", tenantID, browserSessionID).Delete(&AccountSession{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (s *accountSessionStore) DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	result := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).Delete(&AccountSession{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func fromCoreAccountSession(a *core.AccountSession) (*AccountSession, error) {
	props, err := json.Marshal(a.SubjectProperties)
	if err != nil {
		return nil, fmt.Errorf("marshal subject properties: %w", err)
	}
	return &AccountSession{
		ID:                a.ID,
		BrowserSessionID:  a.BrowserSessionID,
		TenantID:          a.TenantID,
		UserID:            a.UserID,
		IsActive:          a.IsActive,
		AuthenticatedAt:   a.AuthenticatedAt,
		ExpiresAt:         a.ExpiresAt,
		SubjectType:       a.SubjectType,
		SubjectProperties: JSONMap(jsonMapFrom(props)),
		RefreshTokenHash:  a.RefreshTokenHash,
		ClientID:          a.ClientID,
	}, nil
}

func toCoreAccountSession(m *AccountSession) (*core.AccountSession, error) {
	return &core.AccountSession{
		ID:                m.ID,
		BrowserSessionID:  m.BrowserSessionID,
		TenantID:          m.TenantID,
		UserID:            m.UserID,
		IsActive:          m.IsActive,
		AuthenticatedAt:   m.AuthenticatedAt,
		ExpiresAt:         m.ExpiresAt,
		SubjectType:       m.SubjectType,
		SubjectProperties: map[string]interface{}(m.SubjectProperties),
		RefreshTokenHash:  m.RefreshTokenHash,
		ClientID:          m.ClientID,
	}, nil
}

// clientStore implements core.ClientStore
type clientStore struct {
	db *gorm.DB
}

func (s *clientStore) Create(ctx context.Context, client *core.Client) error {
	model := fromCoreClient(client)
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *clientStore) GetByID(ctx context.Context, tenantID, id string) (*core.Client, error) {
	var model Client
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreClient(&model), nil
}

func (s *clientStore) GetByClientID(ctx context.Context, tenantID, clientID string) (*core.Client, error) {
	var model Client
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND client_id = ?", tenantID, clientID).Error; err != nil {
		return nil, err
	}
	return toCoreClient(&model), nil
}

func (s *clientStore) GetByName(ctx context.Context, tenantID, name string) (*core.Client, error) {
	var model Client
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND name = ?", tenantID, name).Error; err != nil {
		return nil, err
	}
	return toCoreClient(&model), nil
}

func (s *clientStore) Update(ctx context.Context, client *core.Client) error {
	return s.db.WithContext(ctx).Model(&Client{}).Where("id = ?", client.ID).Updates(map[string]interface{}{
		"name":                        client.Name,
		"client_secret_hash":          client.ClientSecretHash,
		"client_secret_last4":         client.ClientSecretLast4,
		"previous_secret_hash":        client.PreviousSecretHash,
		"previous_secret_expires_at":  client.PreviousSecretExpiresAt,
		"redirect_uris":               StringSlice(client.RedirectURIs),
		"post_logout_redirect_uris":   StringSlice(client.PostLogoutRedirectURIs),
		"grant_types":                 StringSlice(client.GrantTypes),
		"response_types":              StringSlice(client.ResponseTypes),
		"scopes":                      StringSlice(client.Scopes),
		"enabled":                     client.Enabled,
		"token_ttl_seconds":           client.TokenTTLSeconds,
		"refresh_ttl_seconds":         client.RefreshTTLSeconds,
		"rotated_at":                  client.RotatedAt,
	}).Error
}

func (s *clientStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&Client{}).Error
}

func (s *clientStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.Client, string, error) {
	var models []Client
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	clients := make([]*core.Client, len(models))
	for i, m := range models {
		clients[i] = toCoreClient(&m)
	}
	return clients, nextCursor, nil
}

func fromCoreClient(c *core.Client) *Client {
	return &Client{
		ID:                      c.ID,
		TenantID:                c.TenantID,
		Name:                    c.Name,
		ClientID:                c.ClientID,
		ClientSecretHash:        c.ClientSecretHash,
		ClientSecretLast4:       c.ClientSecretLast4,
		PreviousSecretHash:      c.PreviousSecretHash,
		PreviousSecretExpiresAt: c.PreviousSecretExpiresAt,
		RedirectURIs:            StringSlice(c.RedirectURIs),
		PostLogoutRedirectURIs:  StringSlice(c.PostLogoutRedirectURIs),
		GrantTypes:              StringSlice(c.GrantTypes),
		ResponseTypes:           StringSlice(c.ResponseTypes),
		Scopes:                  StringSlice(c.Scopes),
		Metadata:                JSONMap(c.Metadata),
		Enabled:                 c.Enabled,
		TokenTTLSeconds:         c.TokenTTLSeconds,
		RefreshTTLSeconds:       c.RefreshTTLSeconds,
		CreatedAt:               c.CreatedAt,
		RotatedAt:               c.RotatedAt,
	}
}

func toCoreClient(m *Client) *core.Client {
	return &core.Client{
		ID:                      m.ID,
		TenantID:                m.TenantID,
		Name:                    m.Name,
		ClientID:                m.ClientID,
		ClientSecretHash:        m.ClientSecretHash,
		ClientSecretLast4:       m.ClientSecretLast4,
		PreviousSecretHash:      m.PreviousSecretHash,
		PreviousSecretExpiresAt: m.PreviousSecretExpiresAt,
		RedirectURIs:            []string(m.RedirectURIs),
		PostLogoutRedirectURIs:  []string(m.PostLogoutRedirectURIs),
		GrantTypes:              []string(m.GrantTypes),
		ResponseTypes:           []string(m.ResponseTypes),
		Scopes:                  []string(m.Scopes),
		Metadata:                map[string]interface{}(m.Metadata),
		Enabled:                 m.Enabled,
		TokenTTLSeconds:         m.TokenTTLSeconds,
		RefreshTTLSeconds:       m.RefreshTTLSeconds,
		CreatedAt:               m.CreatedAt,
		RotatedAt:               m.RotatedAt,
	}
}

// domainStore implements core.DomainStore
type domainStore struct {
	db *gorm.DB
}

func (s *domainStore) Create(ctx context.Context, domain *core.TenantDomain) error {
	model := &TenantDomain{
		ID:         domain.ID,
		TenantID:   domain.TenantID,
		Domain:     domain.Domain,
		VerifiedAt: domain.VerifiedAt,
		CreatedAt:  domain.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *domainStore) GetByID(ctx context.Context, tenantID, id string) (*core.TenantDomain, error) {
	var model TenantDomain
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreDomain(&model), nil
}

func (s *domainStore) GetByDomain(ctx context.Context, domain string) (*core.TenantDomain, error) {
	var model TenantDomain
	if err := s.db.WithContext(ctx).First(&model, "domain = ?", domain).Error; err != nil {
		return nil, err
	}
	return toCoreDomain(&model), nil
}

func (s *domainStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&TenantDomain{}).Error
}

func (s *domainStore) List(ctx context.Context, tenantID string) ([]*core.TenantDomain, error) {
	var models []TenantDomain
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&models).Error; err != nil {
		return nil, err
	}
	domains := make([]*core.TenantDomain, len(models))
	for i, m := range models {
		domains[i] = toCoreDomain(&m)
	}
	return domains, nil
}

func (s *domainStore) MarkVerified(ctx context.Context, tenantID, id string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&TenantDomain{}).Where("tenant_id = ? AND id = ?", tenantID, id).Update("verified_at", &now).Error
}

func toCoreDomain(m *TenantDomain) *core.TenantDomain {
	return &core.TenantDomain{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Domain:     m.Domain,
		VerifiedAt: m.VerifiedAt,
		CreatedAt:  m.CreatedAt,
	}
}

// policyStore implements core.PolicyStore
type policyStore struct {
	db *gorm.DB
}

func (s *policyStore) Create(ctx context.Context, policy *core.Policy) error {
	docJSON, err := json.Marshal(policy.Document)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	model := &Policy{
		ID:        policy.ID,
		TenantID:  policy.TenantID,
		Name:      policy.Name,
		Version:   policy.Version,
		Status:    policy.Status,
		Document:  docJSON,
		CreatedAt: policy.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *policyStore) GetByID(ctx context.Context, tenantID, id string) (*core.Policy, error) {
	var model Policy
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCorePolicy(&model)
}

func (s *policyStore) Update(ctx context.Context, policy *core.Policy) error {
	updates := map[string]interface{}{
		"status": policy.Status,
	}
	if policy.Document != nil {
		docJSON, err := json.Marshal(policy.Document)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		updates["document"] = docJSON
	}
	return s.db.WithContext(ctx).Model(&Policy{}).Where("id = ?", policy.ID).Updates(updates).Error
}

func (s *policyStore) List(ctx context.Context, tenantID string, status *string, limit int, cursor string) ([]*core.Policy, string, error) {
	var models []Policy
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	policies := make([]*core.Policy, len(models))
	for i, m := range models {
		p, err := toCorePolicy(&m)
		if err != nil {
			return nil, "", err
		}
		policies[i] = p
	}
	return policies, nextCursor, nil
}

func toCorePolicy(m *Policy) (*core.Policy, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(m.Document, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &core.Policy{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Version:   m.Version,
		Status:    m.Status,
		Document:  doc,
		CreatedAt: m.CreatedAt,
	}, nil
}
