package core

import (
	"context"
	"time"
)

// Clock provides time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock is the production clock implementation.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// Config holds the core configuration. Field names mirror the
// configuration keys named in the external-interfaces section: session.*,
// rbac.*, client.retry.*, client.circuitBreaker.*, cache.*,
// tenantResolver.baseDomain.
type Config struct {
	DatabaseURL           string
	AdminAPIKey           string
	BaseDomain            string
	SessionCookieName     string
	SessionCookieSecure   bool
	SessionCookieSameSite string
	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	SessionTTL            time.Duration
	SlidingWindowPeriod   time.Duration
	MaxAccountsPerSession int
	MaxLoginAttempts      int
	PasswordMinLength     int
	EnableHostedUI        bool
	EnableAdminUI         bool
	AdminUIUsername       string
	AdminUIPassword       string

	EnableIntrospection bool
	EnableRevocation    bool

	MaxPermissionsInToken int
	RBACCacheTTL          time.Duration

	ClientRetryMaxAttempts      int
	ClientRetryInitialDelay     time.Duration
	ClientRetryMaxDelay         time.Duration
	ClientCBFailureThreshold    float64
	ClientCBMinimumRequests     int
	ClientCBCooldownPeriod      time.Duration
	ClientCBSuccessThreshold    int

	ProviderCacheTTL     time.Duration
	ProviderCacheMaxSize int

	CookieSecret []byte // 256-bit key backing the session cookie JWE
}

// Core is the main entry point for library usage.
type Core struct {
	Config         Config
	Store          Store
	Authorizer     Authorizer
	PolicyEngine   PolicyEngine
	AuditSink      AuditSink
	Clock          Clock
	KeyManager     KeyManager
	TenantResolver TenantResolver

	// Services
	TokenService   TokenService
	SessionService SessionService
	UserService    UserService
	OAuthService   OAuthService
	RBACService    RBACService
	ClientService  ClientService
	ProviderService ProviderService
}

// NewCore creates a new Core instance.
func NewCore(cfg Config, store Store, authorizer Authorizer, auditSink AuditSink) (*Core, error) {
	c := &Core{
		Config:     cfg,
		Store:      store,
		Authorizer: authorizer,
		AuditSink:  auditSink,
		Clock:      RealClock{},
	}
	return c, nil
}

// Store is the main persistence interface, one sub-store per entity.
type Store interface {
	Tenants() TenantStore
	Users() UserStore
	UserIdentities() UserIdentityStore
	Sessions() SessionStore
	AccountSessions() AccountSessionStore
	Clients() ClientStore
	Providers() ProviderStore
	Domains() DomainStore
	Policies() PolicyStore
	SigningKeys() SigningKeyStore
	OAuthCodes() OAuthCodeStore
	RefreshTokens() RefreshTokenStore
	AuditEvents() AuditEventStore
	AdminKeys() AdminKeyStore
	Roles() RoleStore
	Permissions() PermissionStore
	RolePermissions() RolePermissionStore
	UserRoles() UserRoleStore
}

// TenantStore manages tenant persistence.
type TenantStore interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, status *string, limit int, cursor string) ([]*Tenant, string, error)
}

// UserStore manages user persistence.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, tenantID, id string) (*User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*User, string, error)
	SetPassword(ctx context.Context, userID string, hash string) error
	GetPassword(ctx context.Context, userID string) (string, error)
}

// UserIdentityStore manages external-identity links.
type UserIdentityStore interface {
	Create(ctx context.Context, identity *UserIdentity) error
	GetByProvider(ctx context.Context, tenantID, provider, providerUserID string) (*UserIdentity, error)
	ListByUser(ctx context.Context, tenantID, userID string) ([]*UserIdentity, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// SessionStore manages browser session persistence.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, tenantID, id string) (*Session, error)
	// UpdateWithVersion performs a compare-and-swap update gated on
	// expectedVersion; it returns core.ErrVersionConflict if the stored
	// version no longer matches.
	UpdateWithVersion(ctx context.Context, session *Session, expectedVersion int64) error
	Revoke(ctx context.Context, tenantID, id string) error
	RevokeAllForUser(ctx context.Context, tenantID, userID string) (int, error)
	List(ctx context.Context, tenantID string, userID, clientID *string, activeOnly bool, limit int, cursor string) ([]*Session, string, error)
	DeleteExpired(ctx context.Context, before time.Time) error
}

// AccountSessionStore manages per-account session persistence within a
// browser session.
type AccountSessionStore interface {
	Create(ctx context.Context, acc *AccountSession) error
	Get(ctx context.Context, tenantID, browserSessionID, userID string) (*AccountSession, error)
	ListByBrowserSession(ctx context.Context, tenantID, browserSessionID string) ([]*AccountSession, error)
	SetActive(ctx context.Context, tenantID, browserSessionID, userID string) error
	Delete(ctx context.Context, tenantID, browserSessionID, userID string) error
	DeleteAll(ctx context.Context, tenantID, browserSessionID string) (int, error)
	DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error)
}

// ClientStore manages OAuth client persistence.
type ClientStore interface {
	Create(ctx context.Context, client *Client) error
	GetByID(ctx context.Context, tenantID, id string) (*Client, error)
	GetByClientID(ctx context.Context, tenantID, clientID string) (*Client, error)
	GetByName(ctx context.Context, tenantID, name string) (*Client, error)
	Update(ctx context.Context, client *Client) error
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Client, string, error)
}

// ProviderStore manages dynamic identity provider records.
type ProviderStore interface {
	Create(ctx context.Context, provider *Provider) error
	GetByID(ctx context.Context, tenantID, id string) (*Provider, error)
	GetByName(ctx context.Context, tenantID, name string) (*Provider, error)
	Update(ctx context.Context, provider *Provider) error
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string) ([]*Provider, error)
}

// DomainStore manages custom domain persistence.
type DomainStore interface {
	Create(ctx context.Context, domain *TenantDomain) error
	GetByID(ctx context.Context, tenantID, id string) (*TenantDomain, error)
	GetByDomain(ctx context.Context, domain string) (*TenantDomain, error)
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string) ([]*TenantDomain, error)
	MarkVerified(ctx context.Context, tenantID, id string) error
}

// PolicyStore manages policy persistence.
type PolicyStore interface {
	Create(ctx context.Context, policy *Policy) error
	GetByID(ctx context.Context, tenantID, id string) (*Policy, error)
	Update(ctx context.Context, policy *Policy) error
	List(ctx context.Context, tenantID string, status *string, limit int, cursor string) ([]*Policy, string, error)
}

// SigningKeyStore manages signing key persistence.
type SigningKeyStore interface {
	Create(ctx context.Context, key *SigningKey) error
	GetActive(ctx context.Context, tenantID string) (*SigningKey, error)
	GetByKID(ctx context.Context, tenantID, kid string) (*SigningKey, error)
	ListActive(ctx context.Context, tenantID string) ([]*SigningKey, error)
	MarkInactive(ctx context.Context, tenantID, id string) error
	MarkRetired(ctx context.Context, tenantID, id string) error
}

// OAuthCodeStore manages authorization code persistence.
type OAuthCodeStore interface {
	Create(ctx context.Context, code *OAuthCode) error
	GetAndConsume(ctx context.Context, tenantID, codeHash string) (*OAuthCode, error)
	DeleteExpired(ctx context.Context, before time.Time) error
}

// RefreshTokenStore manages refresh token persistence.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tenantID, hash string) (*RefreshToken, error)
	MarkUsed(ctx context.Context, tenantID, hash string, at time.Time) error
	Revoke(ctx context.Context, tenantID, hash string) error
	RevokeFamily(ctx context.Context, tenantID, familyID string) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) error
}

// AuditEventStore manages audit event persistence for a single region.
type AuditEventStore interface {
	Create(ctx context.Context, event *AuditEvent) error
	List(ctx context.Context, tenantID string, filters AuditFilters, limit int, cursor string) ([]*AuditEvent, string, error)
}

// AdminKeyStore manages admin API key persistence.
type AdminKeyStore interface {
	Create(ctx context.Context, key *AdminKey) error
	GetByHash(ctx context.Context, hash string) (*AdminKey, error)
	List(ctx context.Context) ([]*AdminKey, error)
	Delete(ctx context.Context, id string) error
}

// RoleStore manages RBAC role persistence.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, tenantID, id string) (*Role, error)
	GetByName(ctx context.Context, tenantID, name string) (*Role, error)
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string) ([]*Role, error)
}

// PermissionStore manages RBAC permission persistence.
type PermissionStore interface {
	Create(ctx context.Context, perm *Permission) error
	GetByID(ctx context.Context, id string) (*Permission, error)
	List(ctx context.Context, clientID string) ([]*Permission, error)
}

// RolePermissionStore manages role-to-permission grants.
type RolePermissionStore interface {
	Grant(ctx context.Context, rp *RolePermission) error
	Revoke(ctx context.Context, roleID, permissionID string) error
	ListByRole(ctx context.Context, roleID string) ([]*RolePermission, error)
}

// UserRoleStore manages user-to-role assignments.
type UserRoleStore interface {
	Assign(ctx context.Context, ur *UserRole) error
	Revoke(ctx context.Context, tenantID, userID, roleID string) error
	ListByUser(ctx context.Context, tenantID, userID string, at time.Time) ([]*UserRole, error)
	Exists(ctx context.Context, tenantID, userID, roleID string) (bool, error)
}

// Authorizer handles Casbin-backed RBAC enforcement.
type Authorizer interface {
	Enforce(ctx context.Context, tenantID, subject, object, action string) (bool, error)
	RolesForUser(ctx context.Context, tenantID, userID string) ([]string, error)
	AddPolicy(ctx context.Context, tenantID string, policy RbacTuple) error
	RemovePolicy(ctx context.Context, tenantID string, policyID string) error
	ListPolicies(ctx context.Context, tenantID string, filters RbacFilters) ([]RbacTuple, string, error)
}

// RBACService layers the relational Role/Permission domain model and
// token-claim enrichment atop the Casbin Authorizer.
type RBACService interface {
	Authorizer
	Check(ctx context.Context, tenantID, userID, clientID, permission string) (bool, error)
	BatchCheck(ctx context.Context, tenantID, userID, clientID string, permissions []string) (map[string]bool, error)
	EnrichToken(ctx context.Context, tenantID, userID, clientID string) (roles []string, permissions []string, err error)
	CreateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, tenantID, roleID string) error
	ListRoles(ctx context.Context, tenantID string) ([]*Role, error)
	AssignRole(ctx context.Context, tenantID, userID, roleID, assignedBy string, expiresAt *time.Time) error
	RevokeRole(ctx context.Context, tenantID, userID, roleID string) error
	CreatePermission(ctx context.Context, perm *Permission) error
	ListPermissions(ctx context.Context, clientID string) ([]*Permission, error)
	GrantPermission(ctx context.Context, tenantID, roleID, permissionID, grantedBy string) error
	RevokePermission(ctx context.Context, tenantID, roleID, permissionID string) error
}

// PolicyEngine handles ABAC-style policy document evaluation.
type PolicyEngine interface {
	Evaluate(ctx context.Context, tenantID string, document map[string]interface{}, context map[string]interface{}) (*PolicyResult, error)
}

// AuditSink handles fire-and-forget audit logging.
type AuditSink interface {
	Log(ctx context.Context, event *AuditEvent) error
	Stats() AuditStats
	Query(ctx context.Context, tenantID string, filters AuditFilters, limit int, cursor string) ([]*AuditEvent, string, error)
}

// AuditStats exposes the C10 fire-and-forget reliability counters.
type AuditStats struct {
	SuccessCount    int64
	FailureCount    int64
	FailureRate     float64
	LastFailureTime *time.Time
}

// KeyManager handles cryptographic signing keys.
type KeyManager interface {
	GenerateKey(ctx context.Context, tenantID string) (*SigningKey, error)
	GenerateRSAKey(ctx context.Context, tenantID string) (*SigningKey, error)
	GetPublicJWKS(ctx context.Context, tenantID string) (map[string]interface{}, error)
	Sign(ctx context.Context, tenantID, issuer string, claims map[string]interface{}, ttl time.Duration) (string, error)
	Verify(ctx context.Context, tenantID, tokenString string) (*TokenClaims, error)
}

// TenantResolver resolves tenants from inbound requests.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, host, path, headerTenantID, queryTenantID string) (*Tenant, error)
}

// ClientService implements the C5 client registry: CRUD, secret rotation,
// and credential verification, wrapped in a circuit breaker.
type ClientService interface {
	Create(ctx context.Context, client *Client) error
	Get(ctx context.Context, tenantID, id string) (*Client, error)
	GetByClientID(ctx context.Context, tenantID, clientID string) (*Client, error)
	Update(ctx context.Context, client *Client) error
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Client, string, error)
	RotateSecret(ctx context.Context, tenantID, id string) (plaintextSecret string, err error)
	VerifyCredentials(ctx context.Context, tenantID, clientID, plaintextSecret string) (*Client, error)
}

// ProviderService implements the C6 dynamic provider registry.
type ProviderService interface {
	Create(ctx context.Context, provider *Provider, plaintextSecret string) error
	Get(ctx context.Context, tenantID, name string) (*Provider, error)
	List(ctx context.Context, tenantID string) ([]*Provider, error)
	Update(ctx context.Context, provider *Provider, plaintextSecret *string) error
	Delete(ctx context.Context, tenantID, id string) error
	ListTypes(ctx context.Context) []ProviderTypeMeta
	DecryptSecret(ctx context.Context, provider *Provider) (string, error)
}

// ProviderTypeMeta describes a supported provider type's defaults.
type ProviderTypeMeta struct {
	Type               string   `json:"type"`
	DefaultScopes      []string `json:"default_scopes"`
	PKCERequired       bool     `json:"pkce_required"`
	SecretRequired     bool     `json:"secret_required"`
	AuthorizeEndpoint  string   `json:"authorize_endpoint,omitempty"`
	TokenEndpoint      string   `json:"token_endpoint,omitempty"`
	UserinfoEndpoint   string   `json:"userinfo_endpoint,omitempty"`
	JWKSEndpoint       string   `json:"jwks_endpoint,omitempty"`
}

// TokenService handles access/refresh token issuance and validation.
type TokenService interface {
	IssueAccessToken(ctx context.Context, tenantID, userID, clientID, mode, subjectType string, properties map[string]interface{}, scope string, roles, permissions []string, sessionID *string) (string, error)
	IssueRefreshToken(ctx context.Context, tenantID, userID, clientID, scope, familyID string, previousID *string) (plaintext, tokenID string, err error)
	ValidateAccessToken(ctx context.Context, tenantID, token string) (*TokenClaims, error)
	// RotateRefreshToken consumes oldToken and issues a new one in the
	// same family. If oldToken was already consumed, the entire family is
	// revoked and core.ErrInvalidGrant is returned.
	RotateRefreshToken(ctx context.Context, tenantID, oldToken, clientID string) (newRefreshToken string, rt *RefreshToken, err error)
}

// SessionService handles browser + account session operations (C7).
type SessionService interface {
	CreateBrowserSession(ctx context.Context, tenantID, ip, userAgent string) (*Session, error)
	AddAccount(ctx context.Context, tenantID, browserSessionID, userID, subjectType string, properties map[string]interface{}, refreshToken, clientID string, ttl time.Duration, maxAccounts int) (*AccountSession, *Session, error)
	SwitchActive(ctx context.Context, tenantID, browserSessionID, userID string) (*Session, error)
	ListAccounts(ctx context.Context, tenantID, browserSessionID string) ([]*AccountSession, error)
	RemoveAccount(ctx context.Context, tenantID, browserSessionID, userID string) (*Session, error)
	RemoveAllAccounts(ctx context.Context, tenantID, browserSessionID string) error
	Validate(ctx context.Context, tenantID string, payload SessionCookiePayload, slidingWindow time.Duration) (*Session, bool, error) // bool: cookie must be reissued
	Revoke(ctx context.Context, tenantID, sessionID string) error
	RevokeUserSessions(ctx context.Context, tenantID, userID string) (int, error)
	EncodeCookie(ctx context.Context, payload SessionCookiePayload) (string, error)
	DecodeCookie(ctx context.Context, cookie string) (SessionCookiePayload, error)
}

// UserService handles user account operations.
type UserService interface {
	Authenticate(ctx context.Context, tenantID, email, password string) (*User, error)
	Create(ctx context.Context, tenantID, email, displayName string) (*User, error)
	SetPassword(ctx context.Context, tenantID, userID, password string) error
	Suspend(ctx context.Context, tenantID, userID string) (revokedSessions int, err error)
}

// OAuthService handles OAuth2/OIDC authorization-engine operations (C9).
type OAuthService interface {
	Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error)
	Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error)
	UserInfo(ctx context.Context, tenantID, accessToken string) (*UserInfo, error)
	Revoke(ctx context.Context, tenantID, token string, tokenType string) error
	Introspect(ctx context.Context, tenantID, token string) (*IntrospectResponse, error)
	ValidateScopes(requested, allowed []string) ScopeValidation
}

// AuditFilters for querying audit events.
type AuditFilters struct {
	Type      *string
	ActorType *string
	ActorID   *string
	ClientID  *string
	Since     *time.Time
	Until     *time.Time
}

// RbacFilters for querying RBAC policies.
type RbacFilters struct {
	TupleType *string
	V0        *string
	V1        *string
	V2        *string
	V3        *string
}

// PolicyResult is the outcome of policy evaluation.
type PolicyResult struct {
	Allowed bool
	Reason  string
	Mods    map[string]interface{}
}
