package core

import "time"

// Tenant represents a tenant/organization: the top-level isolation
// boundary for every other entity in the system.
type Tenant struct {
	ID        string          `json:"id"`
	Slug      string          `json:"slug"`
	Domain    *string         `json:"domain,omitempty"`
	Name      string          `json:"name"`
	Status    string          `json:"status"` // active, suspended, pending, deleted
	Branding  TenantBranding  `json:"branding"`
	Settings  TenantSettings  `json:"settings"`
	CreatedAt time.Time       `json:"created_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// TenantBranding holds per-tenant theming consumed by the (external) UI
// renderer. Stored as a single JSONB column.
type TenantBranding struct {
	ThemeColors       map[string]string `json:"theme_colors,omitempty"`
	LogoLight         string            `json:"logo_light,omitempty"`
	LogoDark          string            `json:"logo_dark,omitempty"`
	FontFamily        string            `json:"font_family,omitempty"`
	CustomCSS         string            `json:"custom_css,omitempty"`
	EmailTemplateRefs map[string]string `json:"email_template_refs,omitempty"`
}

// TenantSettings holds per-tenant behavioral configuration.
type TenantSettings struct {
	MaxAccountsPerSession     int      `json:"max_accounts_per_session"`
	SessionLifetimeSeconds    int      `json:"session_lifetime_seconds"`
	SlidingWindowSeconds      int      `json:"sliding_window_seconds"`
	AllowPublicRegistration   bool     `json:"allow_public_registration"`
	RequireEmailVerification  bool     `json:"require_email_verification"`
	AllowedProviders          []string `json:"allowed_providers,omitempty"`
	MFARequired               bool     `json:"mfa_required"`
}

// DefaultTenantSettings mirrors the defaults named in the spec.
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		MaxAccountsPerSession:    3,
		SessionLifetimeSeconds:   7 * 24 * 60 * 60,
		SlidingWindowSeconds:     24 * 60 * 60,
		AllowPublicRegistration:  true,
		RequireEmailVerification: false,
		MFARequired:              false,
	}
}

// DefaultTenantID is the reserved tenant id supplying fallback branding.
const DefaultTenantID = "default"

// TenantDomain represents a custom domain mapping.
type TenantDomain struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Domain     string     `json:"domain"`
	VerifiedAt *time.Time `json:"verified_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// User represents an end-user identity scoped to a tenant.
type User struct {
	ID                    string                 `json:"id"`
	TenantID              string                 `json:"tenant_id"`
	Email                 string                 `json:"email"`
	EmailVerified         bool                   `json:"email_verified"`
	Status                string                 `json:"status"` // active, suspended, deleted
	Name                  *string                `json:"name,omitempty"`
	DisplayName           *string                `json:"display_name,omitempty"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
	PasswordResetRequired bool                   `json:"password_reset_required"`
	LastLoginAt           *time.Time             `json:"last_login_at,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             *time.Time             `json:"updated_at"`
}

// UserIdentity links a user to an external or internal provider account.
type UserIdentity struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	TenantID       string                 `json:"tenant_id"`
	Provider       string                 `json:"provider"`
	ProviderUserID string                 `json:"provider_user_id"`
	ProviderData   map[string]interface{} `json:"provider_data,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Session is a browser session: the anchor for up to N account sessions.
// The term "Session" is kept from the teacher for storage/table
// continuity; it models spec.md's "Browser Session".
type Session struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	UserID         string     `json:"user_id"` // deprecated alias of ActiveUserID, kept for single-account callers
	ClientID       *string    `json:"client_id"`
	IP             string     `json:"ip"`
	UserAgent      string     `json:"user_agent"`
	Version        int64      `json:"version"`
	ActiveUserID   *string    `json:"active_user_id,omitempty"`
	AccountUserIDs []string   `json:"account_user_ids"`
	CreatedAt      time.Time  `json:"created_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	RevokedAt      *time.Time `json:"revoked_at"`
}

// AccountSession is one logged-in account within a browser session.
type AccountSession struct {
	ID                string                 `json:"id"`
	BrowserSessionID  string                 `json:"browser_session_id"`
	TenantID          string                 `json:"tenant_id"`
	UserID            string                 `json:"user_id"`
	IsActive          bool                   `json:"is_active"`
	AuthenticatedAt   time.Time              `json:"authenticated_at"`
	ExpiresAt         time.Time              `json:"expires_at"`
	SubjectType       string                 `json:"subject_type"`
	SubjectProperties map[string]interface{} `json:"subject_properties,omitempty"`
	RefreshTokenHash  *string                `json:"-"`
	ClientID          string                 `json:"client_id"`
}

// SessionCookiePayload is the JWE-encrypted content of the session cookie.
type SessionCookiePayload struct {
	SID string `json:"sid"`
	TID string `json:"tid"`
	V   int64  `json:"v"`
	IAT int64  `json:"iat"`
}

// Client represents an OAuth2/OIDC client application.
type Client struct {
	ID                       string                 `json:"id"`
	TenantID                 string                 `json:"tenant_id"`
	Name                     string                 `json:"name"`
	ClientID                 string                 `json:"client_id"`
	ClientSecretHash         *string                `json:"-"`
	ClientSecretLast4        *string                `json:"client_secret_last4"`
	PreviousSecretHash       *string                `json:"-"`
	PreviousSecretExpiresAt  *time.Time             `json:"-"`
	RedirectURIs             []string               `json:"redirect_uris"`
	PostLogoutRedirectURIs   []string               `json:"post_logout_redirect_uris"`
	GrantTypes               []string               `json:"grant_types"`
	ResponseTypes            []string               `json:"response_types"`
	Scopes                   []string               `json:"scopes"`
	Metadata                 map[string]interface{} `json:"metadata,omitempty"`
	Enabled                  bool                   `json:"enabled"`
	TokenTTLSeconds          int                    `json:"token_ttl_seconds"`
	RefreshTTLSeconds        int                    `json:"refresh_ttl_seconds"`
	CreatedAt                time.Time              `json:"created_at"`
	RotatedAt                *time.Time             `json:"rotated_at,omitempty"`
}

// IsPublic reports whether the client has no confidential secret on file.
func (c *Client) IsPublic() bool {
	return c.ClientSecretHash == nil || *c.ClientSecretHash == ""
}

// Provider represents a per-tenant dynamic identity provider record.
type Provider struct {
	ID               string                 `json:"id"`
	TenantID         string                 `json:"tenant_id"`
	Type             string                 `json:"type"`
	Name             string                 `json:"name"`
	DisplayName      string                 `json:"display_name"`
	ClientID         string                 `json:"client_id,omitempty"`
	SecretCiphertext string                 `json:"-"`
	SecretIV         string                 `json:"-"`
	SecretLast4      string                 `json:"secret_last4,omitempty"`
	Config           map[string]interface{} `json:"config,omitempty"`
	Enabled          bool                   `json:"enabled"`
	DisplayOrder     int                    `json:"display_order"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        *time.Time             `json:"updated_at,omitempty"`
}

// Policy represents a declarative policy document.
type Policy struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	Name      string                 `json:"name"`
	Version   int                    `json:"version"`
	Status    string                 `json:"status"` // active, inactive
	Document  map[string]interface{} `json:"document"`
	CreatedAt time.Time              `json:"created_at"`
}

// PolicyBinding binds a policy to a target.
type PolicyBinding struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	PolicyID  string    `json:"policy_id"`
	BindType  string    `json:"bind_type"` // tenant, client, user, group
	BindID    string    `json:"bind_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SigningKey represents a JWT signing key.
type SigningKey struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	KID                 string    `json:"kid"`
	Algorithm           string    `json:"algorithm"` // ES256, RS256
	PublicJWK           []byte    `json:"public_jwk"`
	PrivateKeyEncrypted []byte    `json:"-"`
	Status              string    `json:"status"` // active, inactive, retired
	CreatedAt           time.Time `json:"created_at"`
	NotBefore           time.Time `json:"not_before"`
	NotAfter            time.Time `json:"not_after"`
}

// OAuthCode represents an authorization code.
type OAuthCode struct {
	CodeHash      string     `json:"-"`
	TenantID      string     `json:"tenant_id"`
	ClientID      string     `json:"client_id"`
	UserID        string     `json:"user_id"`
	RedirectURI   string     `json:"redirect_uri"`
	PKCEChallenge string     `json:"pkce_challenge"`
	PKCEMethod    string     `json:"pkce_method"`
	Scope         string     `json:"scope"`
	Nonce         string     `json:"nonce,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	UsedAt        *time.Time `json:"used_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RefreshToken represents a refresh token. Tokens form a chain via
// FamilyID/PreviousID enabling reuse detection: presenting a token whose
// UsedAt is already set revokes every token sharing its FamilyID.
type RefreshToken struct {
	TokenHash  string     `json:"-"`
	TenantID   string     `json:"tenant_id"`
	ClientID   string     `json:"client_id"`
	UserID     string     `json:"user_id"`
	Scope      string     `json:"scope"`
	FamilyID   string     `json:"-"`
	PreviousID *string    `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	ActorType string                 `json:"actor_type"` // admin, user, system
	ActorID   *string                `json:"actor_id"`
	Type      string                 `json:"type"`
	ClientID  *string                `json:"client_id,omitempty"`
	IP        *string                `json:"ip"`
	UserAgent *string                `json:"user_agent"`
	CreatedAt time.Time              `json:"created_at"`
	Data      map[string]interface{} `json:"data"`
}

// AdminKey represents an admin API key.
type AdminKey struct {
	ID        string    `json:"id"`
	KeyHash   string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy *string   `json:"created_by"`
}

// RbacTuple represents a Casbin policy or grouping row.
type RbacTuple struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	TupleType string    `json:"tuple_type"` // p, g
	V0        string    `json:"v0"`
	V1        string    `json:"v1"`
	V2        string    `json:"v2"`
	V3        *string   `json:"v3"`
	V4        *string   `json:"v4"`
	V5        *string   `json:"v5"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is an RBAC role scoped to a tenant.
type Role struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Permission is an RBAC permission scoped to a client application.
type Permission struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// QualifiedName returns the "resource:action" form used in token claims.
func (p *Permission) QualifiedName() string {
	return p.Resource + ":" + p.Action
}

// RolePermission grants a permission to a role.
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	GrantedBy    string    `json:"granted_by"`
	GrantedAt    time.Time `json:"granted_at"`
}

// UserRole assigns a role to a user, optionally with an expiry.
type UserRole struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	TenantID   string     `json:"tenant_id"`
	AssignedBy string     `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the assignment is no longer in effect at `at`.
func (ur *UserRole) Expired(at time.Time) bool {
	return ur.ExpiresAt != nil && at.After(*ur.ExpiresAt)
}

// TokenClaims represents JWT access token claims.
type TokenClaims struct {
	Issuer      string                 `json:"iss"`
	Subject     string                 `json:"sub"`
	Audience    string                 `json:"aud"`
	TenantID    string                 `json:"tid"`
	ClientID    string                 `json:"client_id"`
	SessionID   *string                `json:"sid,omitempty"`
	Mode        string                 `json:"mode"` // user, m2m
	Type        string                 `json:"type"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Roles       []string               `json:"roles,omitempty"`
	Permissions []string               `json:"permissions,omitempty"`
	Scope       string                 `json:"scope"`
	IssuedAt    int64                  `json:"iat"`
	ExpiresAt   int64                  `json:"exp"`
	NotBefore   int64                  `json:"nbf"`
	JWTID       string                 `json:"jti"`
}

// AuthorizeRequest represents an OAuth2 authorize request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	Prompt              string
	MaxAge              *int64
	LoginHint           string
	AccountHint         string
	Provider            string
	TenantID            string
	UserID              string // set after authentication / session resolution
}

// AuthorizeResponse represents an OAuth2 authorize response.
type AuthorizeResponse struct {
	Code        string
	State       string
	RedirectURI string
	Error       string // e.g. "login_required" when silent auth fails
}

// TokenRequest represents an OAuth2 token request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	ClientID     string
	ClientSecret string
	Scope        string
	TenantID     string
}

// TokenResponse represents an OAuth2 token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// UserInfo represents OIDC userinfo.
type UserInfo struct {
	Subject       string                 `json:"sub"`
	Email         string                 `json:"email,omitempty"`
	EmailVerified bool                   `json:"email_verified,omitempty"`
	DisplayName   string                 `json:"name,omitempty"`
	Extra         map[string]interface{} `json:"-"`
}

// IntrospectResponse represents an RFC 7662 token introspection response.
type IntrospectResponse struct {
	Active    bool     `json:"active"`
	Subject   *string  `json:"sub,omitempty"`
	Audience  *string  `json:"aud,omitempty"`
	Issuer    *string  `json:"iss,omitempty"`
	ExpiresAt *int64   `json:"exp,omitempty"`
	IssuedAt  *int64   `json:"iat,omitempty"`
	Scope     *string  `json:"scope,omitempty"`
	ClientID  *string  `json:"client_id,omitempty"`
	TenantID  *string  `json:"tid,omitempty"`
	TokenType *string  `json:"token_type,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// ScopeValidation is the result of validating requested scopes against a
// client's allowed scopes (client_credentials grant).
type ScopeValidation struct {
	Valid   bool     `json:"valid"`
	Granted []string `json:"granted"`
	Denied  []string `json:"denied,omitempty"`
}
