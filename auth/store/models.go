package store

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringSlice is a custom type for handling JSONB arrays
type StringSlice []string

// Scan implements the Scanner interface
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return nil
	}
}

// Value implements the Valuer interface
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// JSONMap is a custom type for handling JSONB objects
type JSONMap map[string]interface{}

// Scan implements the Scanner interface
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*m = JSONMap{}
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = JSONMap{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return nil
	}
}

// Value implements the Valuer interface
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Tenant is the GORM model for tenants
type Tenant struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	Slug      string     `gorm:"uniqueIndex;not null"`
	Name      string     `gorm:"not null"`
	Status    string     `gorm:"not null"`
	Branding  JSONMap    `gorm:"type:jsonb;not null;default:'{}'"`
	Settings  JSONMap    `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}

// TenantDomain is the GORM model for tenant domains
type TenantDomain struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	Domain     string `gorm:"uniqueIndex;not null"`
	VerifiedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// User is the GORM model for users
type User struct {
	ID                    string `gorm:"type:uuid;primaryKey"`
	TenantID              string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_email"`
	Email                 string `gorm:"not null;uniqueIndex:idx_tenant_email"`
	EmailVerified         bool   `gorm:"not null;default:false"`
	Status                string `gorm:"not null"`
	Name                  *string
	DisplayName           *string
	Metadata              JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	PasswordResetRequired bool    `gorm:"not null;default:false"`
	LastLoginAt           *time.Time
	CreatedAt             time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             *time.Time
}

// UserPassword is the GORM model for user passwords
type UserPassword struct {
	UserID       string    `gorm:"type:uuid;primaryKey"`
	PasswordHash string    `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// UserIdentity is the GORM model for external-identity links
type UserIdentity struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	UserID         string  `gorm:"type:uuid;not null;index"`
	TenantID       string  `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_provider_sub"`
	Provider       string  `gorm:"not null;uniqueIndex:idx_tenant_provider_sub"`
	ProviderUserID string  `gorm:"not null;uniqueIndex:idx_tenant_provider_sub"`
	ProviderData   JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Session is the GORM model for browser sessions
type Session struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	TenantID       string `gorm:"type:uuid;not null;index"`
	UserID         string `gorm:"type:uuid;not null;index"`
	ClientID       *string
	IP             *string
	UserAgent      *string
	Version        int64       `gorm:"not null;default:0"`
	ActiveUserID   *string     `gorm:"type:uuid"`
	AccountUserIDs StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt      time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastSeenAt     time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	RevokedAt      *time.Time  `gorm:"index"`
}

// AccountSession is the GORM model for a single account logged into a
// browser session.
type AccountSession struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	BrowserSessionID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_browser_session_user"`
	TenantID          string    `gorm:"type:uuid;not null;index"`
	UserID            string    `gorm:"type:uuid;not null;uniqueIndex:idx_browser_session_user"`
	IsActive          bool      `gorm:"not null;default:false"`
	AuthenticatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt         time.Time `gorm:"not null;index"`
	SubjectType       string    `gorm:"not null"`
	SubjectProperties JSONMap   `gorm:"type:jsonb;not null;default:'{}'"`
	RefreshTokenHash  *string
	ClientID          string `gorm:"not null"`
}

// Client is the GORM model for OAuth clients
type Client struct {
	ID                      string `gorm:"type:uuid;primaryKey"`
	TenantID                string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_client_id"`
	Name                    string `gorm:"not null"`
	ClientID                string `gorm:"not null;uniqueIndex:idx_tenant_client_id"`
	ClientSecretHash        *string
	ClientSecretLast4       *string
	PreviousSecretHash      *string
	PreviousSecretExpiresAt *time.Time
	RedirectURIs            StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	PostLogoutRedirectURIs  StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	GrantTypes              StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	ResponseTypes           StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	Scopes                  StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	Metadata                JSONMap     `gorm:"type:jsonb;not null;default:'{}'"`
	Enabled                 bool        `gorm:"not null;default:true"`
	TokenTTLSeconds         int         `gorm:"not null;default:900"`
	RefreshTTLSeconds       int         `gorm:"not null;default:1209600"`
	CreatedAt               time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	RotatedAt               *time.Time
}

// Provider is the GORM model for a per-tenant dynamic identity provider.
type Provider struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	TenantID         string  `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_provider_name"`
	Type             string  `gorm:"not null"`
	Name             string  `gorm:"not null;uniqueIndex:idx_tenant_provider_name"`
	DisplayName      string  `gorm:"not null"`
	ClientID         string  ``
	SecretCiphertext string  ``
	SecretIV         string  ``
	SecretLast4      string  ``
	Config           JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	Enabled          bool    `gorm:"not null;default:true"`
	DisplayOrder     int     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        *time.Time
}

// SigningKey is the GORM model for signing keys
type SigningKey struct {
	ID                  string    `gorm:"type:uuid;primaryKey"`
	TenantID            string    `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_kid"`
	KID                 string    `gorm:"not null;uniqueIndex:idx_tenant_kid"`
	PublicJWK           []byte    `gorm:"type:jsonb;not null"`
	PrivateKeyEncrypted []byte    `gorm:"type:bytea;not null"`
	Status              string    `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	NotBefore           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	NotAfter            time.Time `gorm:"not null"`
}

// OAuthCode is the GORM model for authorization codes
type OAuthCode struct {
	CodeHash      string    `gorm:"primaryKey"`
	TenantID      string    `gorm:"type:uuid;not null;index"`
	ClientID      string    `gorm:"not null"`
	UserID        string    `gorm:"type:uuid;not null"`
	RedirectURI   string    `gorm:"not null"`
	PKCEChallenge string    `gorm:"not null"`
	PKCEMethod    string    `gorm:"not null"`
	Scope         string    `gorm:"not null"`
	Nonce         string    ``
	ExpiresAt     time.Time `gorm:"not null;index"`
	UsedAt        *time.Time
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// RefreshToken is the GORM model for refresh tokens
type RefreshToken struct {
	TokenHash  string     `gorm:"primaryKey"`
	TenantID   string     `gorm:"type:uuid;not null;index"`
	ClientID   string     `gorm:"not null"`
	UserID     string     `gorm:"type:uuid;not null"`
	Scope      string     `gorm:"not null"`
	FamilyID   string     `gorm:"not null;index"`
	PreviousID *string
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt  time.Time  `gorm:"not null;index"`
	UsedAt     *time.Time
	RevokedAt  *time.Time `gorm:"index"`
}

// AuditEvent is the GORM model for audit events
type AuditEvent struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;index"`
	ActorType string `gorm:"not null"`
	ActorID   *string
	EventType string `gorm:"not null"`
	ClientID  *string
	IP        *string
	UserAgent *string
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	Data      []byte    `gorm:"type:jsonb;not null;default:'{}'"`
}

// AdminKey is the GORM model for admin API keys
type AdminKey struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	KeyHash   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy *string
}

// Policy is the GORM model for policies
type Policy struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	TenantID  string    `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_name_version"`
	Name      string    `gorm:"not null;uniqueIndex:idx_tenant_name_version"`
	Version   int       `gorm:"not null;uniqueIndex:idx_tenant_name_version"`
	Status    string    `gorm:"not null"`
	Document  []byte    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// PolicyBinding is the GORM model for policy bindings
type PolicyBinding struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	TenantID  string    `gorm:"type:uuid;not null;index"`
	PolicyID  string    `gorm:"type:uuid;not null;index;uniqueIndex:idx_policy_bind"`
	BindType  string    `gorm:"not null;uniqueIndex:idx_policy_bind"`
	BindID    string    `gorm:"not null;uniqueIndex:idx_policy_bind"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// RbacTuple is the GORM model for RBAC tuples
type RbacTuple struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;index"`
	TupleType string `gorm:"not null"`
	V0        string `gorm:"not null"`
	V1        string `gorm:"not null"`
	V2        string `gorm:"not null"`
	V3        *string
	V4        *string
	V5        *string
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for RbacTuple
func (RbacTuple) TableName() string {
	return "rbac_tuples"
}

// Role is the GORM model for RBAC roles.
type Role struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	TenantID     string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_role_name"`
	Name         string `gorm:"not null;uniqueIndex:idx_tenant_role_name"`
	Description  *string
	IsSystemRole bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Permission is the GORM model for RBAC permissions, scoped to a client.
type Permission struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	ClientID    string `gorm:"not null;index;uniqueIndex:idx_client_resource_action"`
	Name        string `gorm:"not null"`
	Resource    string `gorm:"not null;uniqueIndex:idx_client_resource_action"`
	Action      string `gorm:"not null;uniqueIndex:idx_client_resource_action"`
	Description *string
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// RolePermission is the GORM model granting a permission to a role.
type RolePermission struct {
	RoleID       string `gorm:"type:uuid;primaryKey"`
	PermissionID string `gorm:"type:uuid;primaryKey"`
	GrantedBy    string `gorm:"not null"`
	GrantedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// UserRole is the GORM model assigning a role to a user.
type UserRole struct {
	UserID     string `gorm:"type:uuid;primaryKey"`
	RoleID     string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	AssignedBy string `gorm:"not null"`
	AssignedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt  *time.Time
}
