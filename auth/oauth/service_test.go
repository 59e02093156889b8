package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c testClock) Now() time.Time { return c.t }

type mockClientService struct {
	byClientID map[string]*core.Client
	secrets    map[string]string
}

func newMockClientService() *mockClientService {
	return &mockClientService{byClientID: map[string]*core.Client{}, secrets: map[string]string{}}
}

func (m *mockClientService) add(cl *core.Client, secret string) {
	m.byClientID[cl.ClientID] = cl
	m.secrets[cl.ClientID] = secret
}

func (m *mockClientService) Create(ctx context.Context, cl *core.Client) error { return nil }
func (m *mockClientService) Get(ctx context.Context, tenantID, id string) (*core.Client, error) {
	return nil, core.ErrClientNotFound
}
func (m *mockClientService) GetByClientID(ctx context.Context, tenantID, clientID string) (*core.Client, error) {
	cl, ok := m.byClientID[clientID]
	if !ok {
		return nil, core.ErrClientNotFound
	}
	return cl, nil
}
func (m *mockClientService) Update(ctx context.Context, cl *core.Client) error { return nil }
func (m *mockClientService) Delete(ctx context.Context, tenantID, id string) error { return nil }
func (m *mockClientService) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.Client, string, error) {
	return nil, "", nil
}
func (m *mockClientService) RotateSecret(ctx context.Context, tenantID, id string) (string, error) {
	return "", nil
}
func (m *mockClientService) VerifyCredentials(ctx context.Context, tenantID, clientID, plaintextSecret string) (*core.Client, error) {
	cl, ok := m.byClientID[clientID]
	if !ok {
		return nil, core.ErrInvalidClient
	}
	if m.secrets[clientID] != plaintextSecret {
		return nil, core.ErrInvalidClient
	}
	return cl, nil
}

type mockUserStore struct{ users map[string]*core.User }

func (m *mockUserStore) Create(ctx context.Context, u *core.User) error { return nil }
func (m *mockUserStore) GetByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return u, nil
}
func (m *mockUserStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.User, error) {
	return nil, fmt.Errorf("not found")
}
func (m *mockUserStore) Update(ctx context.Context, u *core.User) error { return nil }
func (m *mockUserStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.User, string, error) {
	return nil, "", nil
}
func (m *mockUserStore) SetPassword(ctx context.Context, userID string, hash string) error {
	return nil
}
func (m *mockUserStore) GetPassword(ctx context.Context, userID string) (string, error) {
	return "", nil
}

type mockOAuthCodeStore struct{ codes map[string]*core.OAuthCode }

func newMockOAuthCodeStore() *mockOAuthCodeStore {
	return &mockOAuthCodeStore{codes: map[string]*core.OAuthCode{}}
}
func (m *mockOAuthCodeStore) Create(ctx context.Context, code *core.OAuthCode) error {
	m.codes[code.CodeHash] = code
	return nil
}
func (m *mockOAuthCodeStore) GetAndConsume(ctx context.Context, tenantID, codeHash string) (*core.OAuthCode, error) {
	code, ok := m.codes[codeHash]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	delete(m.codes, codeHash)
	return code, nil
}
func (m *mockOAuthCodeStore) DeleteExpired(ctx context.Context, before time.Time) error { return nil }

type mockRefreshTokenStore struct{ tokens map[string]*core.RefreshToken }

func newMockRefreshTokenStore() *mockRefreshTokenStore {
	return &mockRefreshTokenStore{tokens: map[string]*core.RefreshToken{}}
}
func (m *mockRefreshTokenStore) Create(ctx context.Context, rt *core.RefreshToken) error {
	m.tokens[rt.TokenHash] = rt
	return nil
}
func (m *mockRefreshTokenStore) GetByHash(ctx context.Context, tenantID, hash string) (*core.RefreshToken, error) {
	rt, ok := m.tokens[hash]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return rt, nil
}
func (m *mockRefreshTokenStore) MarkUsed(ctx context.Context, tenantID, hash string, at time.Time) error {
	rt, ok := m.tokens[hash]
	if !ok {
		return fmt.Errorf("not found")
	}
	rt.UsedAt = &at
	return nil
}
func (m *mockRefreshTokenStore) Revoke(ctx context.Context, tenantID, hash string) error {
	rt, ok := m.tokens[hash]
	if !ok {
		return fmt.Errorf("not found")
	}
	now := time.Now()
	rt.RevokedAt = &now
	return nil
}
func (m *mockRefreshTokenStore) RevokeFamily(ctx context.Context, tenantID, familyID string) (int, error) {
	count := 0
	now := time.Now()
	for _, rt := range m.tokens {
		if rt.FamilyID == familyID && rt.RevokedAt == nil {
			rt.RevokedAt = &now
			count++
		}
	}
	return count, nil
}
func (m *mockRefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return nil
}

type mockTokenService struct {
	clock       core.Clock
	validations map[string]*core.TokenClaims
}

func (m *mockTokenService) IssueAccessToken(ctx context.Context, tenantID, userID, clientID, mode, subjectType string, properties map[string]interface{}, scope string, roles, permissions []string, sessionID *string) (string, error) {
	token := fmt.Sprintf("access.%s.%s.%s", tenantID, userID, clientID)
	if m.validations == nil {
		m.validations = map[string]*core.TokenClaims{}
	}
	m.validations[token] = &core.TokenClaims{
		Subject:   userID,
		Audience:  clientID,
		ClientID:  clientID,
		TenantID:  tenantID,
		Mode:      mode,
		Type:      subjectType,
		Scope:     scope,
		Roles:     roles,
		ExpiresAt: m.clock.Now().Add(time.Hour).Unix(),
	}
	return token, nil
}

func (m *mockTokenService) IssueRefreshToken(ctx context.Context, tenantID, userID, clientID, scope, familyID string, previousID *string) (string, string, error) {
	return "refresh." + userID, "rt-id", nil
}

func (m *mockTokenService) ValidateAccessToken(ctx context.Context, tenantID, token string) (*core.TokenClaims, error) {
	claims, ok := m.validations[token]
	if !ok {
		return nil, core.ErrInvalidToken
	}
	return claims, nil
}

func (m *mockTokenService) RotateRefreshToken(ctx context.Context, tenantID, oldToken, clientID string) (string, *core.RefreshToken, error) {
	return "", nil, core.ErrInvalidGrant
}

type mockRBACService struct{}

func (m *mockRBACService) Enforce(ctx context.Context, tenantID, subject, object, action string) (bool, error) {
	return true, nil
}
func (m *mockRBACService) RolesForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	return nil, nil
}
func (m *mockRBACService) AddPolicy(ctx context.Context, tenantID string, policy core.RbacTuple) error {
	return nil
}
func (m *mockRBACService) RemovePolicy(ctx context.Context, tenantID string, policyID string) error {
	return nil
}
func (m *mockRBACService) ListPolicies(ctx context.Context, tenantID string, filters core.RbacFilters) ([]core.RbacTuple, string, error) {
	return nil, "", nil
}
func (m *mockRBACService) Check(ctx context.Context, tenantID, userID, clientID, permission string) (bool, error) {
	return true, nil
}
func (m *mockRBACService) BatchCheck(ctx context.Context, tenantID, userID, clientID string, permissions []string) (map[string]bool, error) {
	return nil, nil
}
func (m *mockRBACService) EnrichToken(ctx context.Context, tenantID, userID, clientID string) ([]string, []string, error) {
	return []string{"member"}, []string{"docs:read"}, nil
}
func (m *mockRBACService) CreateRole(ctx context.Context, role *core.Role) error { return nil }
func (m *mockRBACService) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	return nil
}
func (m *mockRBACService) AssignRole(ctx context.Context, tenantID, userID, roleID, assignedBy string, expiresAt *time.Time) error {
	return nil
}
func (m *mockRBACService) ListRoles(ctx context.Context, tenantID string) ([]*core.Role, error) {
	return nil, nil
}
func (m *mockRBACService) CreatePermission(ctx context.Context, perm *core.Permission) error {
	return nil
}
func (m *mockRBACService) ListPermissions(ctx context.Context, clientID string) ([]*core.Permission, error) {
	return nil, nil
}
func (m *mockRBACService) GrantPermission(ctx context.Context, tenantID, roleID, permissionID, grantedBy string) error {
	return nil
}
func (m *mockRBACService) RevokePermission(ctx context.Context, tenantID, roleID, permissionID string) error {
	return nil
}
func (m *mockRBACService) RevokeRole(ctx context.Context, tenantID, userID, roleID string) error {
	return nil
}

type mockAuditSink struct{ events []*core.AuditEvent }

func (m *mockAuditSink) Log(ctx context.Context, event *core.AuditEvent) error {
	m.events = append(m.events, event)
	return nil
}
func (m *mockAuditSink) Stats() core.AuditStats { return core.AuditStats{} }
func (m *mockAuditSink) Query(ctx context.Context, tenantID string, filters core.AuditFilters, limit int, cursor string) ([]*core.AuditEvent, string, error) {
	return nil, "", nil
}

func setupService() (*Service, *mockClientService, *mockOAuthCodeStore, *mockRefreshTokenStore, *mockTokenService, *mockAuditSink) {
	clock := testClock{t: time.Now()}
	clients := newMockClientService()
	codes := newMockOAuthCodeStore()
	refreshTokens := newMockRefreshTokenStore()
	tokens := &mockTokenService{clock: clock}
	audit := &mockAuditSink{}
	users := &mockUserStore{users: map[string]*core.User{
		"user-1": {ID: "user-1", TenantID: "t1", Email: "a@example.com", EmailVerified: true},
	}}

	svc := NewService(clients, users, codes, refreshTokens, tokens, nil, &mockRBACService{}, audit, clock, 5*time.Minute, 15*time.Minute)
	return svc, clients, codes, refreshTokens, tokens, audit
}

func TestService_Authorize_Success(t *testing.T) {
	svc, clients, _, _, _, _ := setupService()
	clients.add(&core.Client{ClientID: "client-1", Enabled: true, RedirectURIs: []string{"https://app/cb"}, Scopes: []string{"openid", "profile"}}, "")

	resp, err := svc.Authorize(context.Background(), &core.AuthorizeRequest{
		ResponseType: "code", ClientID: "client-1", RedirectURI: "https://app/cb",
		Scope: "openid profile", State: "xyz", TenantID: "t1", UserID: "user-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Code)
	assert.Equal(t, "xyz", resp.State)
}

func TestService_Authorize_InvalidRedirect(t *testing.T) {
	svc, clients, _, _, _, _ := setupService()
	clients.add(&core.Client{ClientID: "client-1", Enabled: true, RedirectURIs: []string{"https://app/cb"}, Scopes: []string{"openid"}}, "")

	_, err := svc.Authorize(context.Background(), &core.AuthorizeRequest{
		ResponseType: "code", ClientID: "client-1", RedirectURI: "https://evil/cb",
		TenantID: "t1", UserID: "user-1",
	})
	assert.ErrorIs(t, err, core.ErrInvalidRedirectURI)
}

func TestService_Authorize_ScopeDenied(t *testing.T) {
	svc, clients, _, _, _, _ := setupService()
	clients.add(&core.Client{ClientID: "client-1", Enabled: true, RedirectURIs: []string{"https://app/cb"}, Scopes: []string{"openid"}}, "")

	_, err := svc.Authorize(context.Background(), &core.AuthorizeRequest{
		ResponseType: "code", ClientID: "client-1", RedirectURI: "https://app/cb",
		Scope: "openid admin", TenantID: "t1", UserID: "user-1",
	})
	assert.ErrorIs(t, err, core.ErrInvalidScope)
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestService_Token_AuthorizationCode_WithPKCE(t *testing.T) {
	svc, clients, _, _, _, audit := setupService()
	clients.add(&core.Client{ClientID: "client-1", Enabled: true, RedirectURIs: []string{"https://app/cb"}, Scopes: []string{"openid"}}, "")

	authResp, err := svc.Authorize(context.Background(), &core.AuthorizeRequest{
		ResponseType: "code", ClientID: "client-1", RedirectURI: "https://app/cb",
		Scope: "openid", TenantID: "t1", UserID: "user-1",
		CodeChallenge: pkceChallenge("verifier-123"), CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	tokenResp, err := svc.Token(context.Background(), &core.TokenRequest{
		GrantType: "authorization_code", Code: authResp.Code, RedirectURI: "https://app/cb",
		CodeVerifier: "verifier-123", ClientID: "client-1", TenantID: "t1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tokenResp.AccessToken)
	assert.NotEmpty(t, tokenResp.RefreshToken)
	assert.NotEmpty(t, audit.events)
}

func TestService_Token_AuthorizationCode_WrongVerifier(t *testing.T) {
	svc, clients, _, _, _, _ := setupService()
	clients.add(&core.Client{ClientID: "client-1", Enabled: true, RedirectURIs: []string{"https://app/cb"}, Scopes: []string{"openid"}}, "")

	authResp, err := svc.Authorize(context.Background(), &core.AuthorizeRequest{
		ResponseType: "code", ClientID: "client-1", RedirectURI: "https://app/cb",
		Scope: "openid", TenantID: "t1", UserID: "user-1",
		CodeChallenge: pkceChallenge("verifier-123"), CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	_, err = svc.Token(context.Background(), &core.TokenRequest{
		GrantType: "authorization_code", Code: authResp.Code, RedirectURI: "https://app/cb",
		CodeVerifier: "wrong-verifier", ClientID: "client-1", TenantID: "t1",
	})
	assert.ErrorIs(t, err, core.ErrInvalidGrant)
}

func TestService_Token_AuthorizationCode_CodeIsSingleUse(t *testing.T) {
	svc, clients, _, _, _, _ := setupService()
	clients.add(&core.Client{ClientID: "client-1", Enabled: true, RedirectURIs: []string{"https://app/cb"}, Scopes: []string{"openid"}}, "")

	authResp, err := svc.Authorize(context.Background(), &core.AuthorizeRequest{
		ResponseType: "code", ClientID: "client-1", RedirectURI: "https://app/cb",
		Scope: "openid", TenantID: "t1", UserID: "user-1",
	})
	require.NoError(t, err)

	req := &core.TokenRequest{GrantType: "authorization_code", Code: authResp.Code, RedirectURI: "https://app/cb", ClientID: "client-1", TenantID: "t1"}
	_, err = svc.Token(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Token(context.Background(), req)
	assert.Error(t, err, "a consumed code must not be redeemable twice")
}

func TestService_Token_ClientCredentials(t *testing.T) {
	svc, clients, _, _, _, _ := setupService()
	clients.add(&core.Client{ClientID: "svc-1", Enabled: true, Scopes: []string{"api:read"}}, "s3cret")

	resp, err := svc.Token(context.Background(), &core.TokenRequest{
		GrantType: "client_credentials", ClientID: "svc-1", ClientSecret: "s3cret", Scope: "api:read", TenantID: "t1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)
}

func TestService_Token_ClientCredentials_WrongSecret(t *testing.T) {
	svc, clients, _, _, _, _ := setupService()
	clients.add(&core.Client{ClientID: "svc-1", Enabled: true, Scopes: []string{"api:read"}}, "s3cret")

	_, err := svc.Token(context.Background(), &core.TokenRequest{
		GrantType: "client_credentials", ClientID: "svc-1", ClientSecret: "wrong", Scope: "api:read", TenantID: "t1",
	})
	assert.ErrorIs(t, err, core.ErrInvalidClient)
}

func TestService_Introspect_ActiveAccessToken(t *testing.T) {
	svc, _, _, _, tokens, _ := setupService()
	token, err := tokens.IssueAccessToken(context.Background(), "t1", "user-1", "client-1", "user", "user", nil, "openid", nil, nil, nil)
	require.NoError(t, err)

	resp, err := svc.Introspect(context.Background(), "t1", token)
	require.NoError(t, err)
	assert.True(t, resp.Active)
	assert.Equal(t, "user-1", *resp.Subject)
}

func TestService_Introspect_UnknownToken(t *testing.T) {
	svc, _, _, _, _, _ := setupService()
	resp, err := svc.Introspect(context.Background(), "t1", "garbage")
	require.NoError(t, err)
	assert.False(t, resp.Active)
}

func TestService_UserInfo(t *testing.T) {
	svc, _, _, _, tokens, _ := setupService()
	token, err := tokens.IssueAccessToken(context.Background(), "t1", "user-1", "client-1", "user", "user", nil, "openid profile", nil, nil, nil)
	require.NoError(t, err)

	info, err := svc.UserInfo(context.Background(), "t1", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", info.Subject)
	assert.Equal(t, "a@example.com", info.Email)
}

func TestService_ValidateScopes(t *testing.T) {
	svc, _, _, _, _, _ := setupService()
	result := svc.ValidateScopes([]string{"openid", "admin"}, []string{"openid", "profile"})
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"openid"}, result.Granted)
	assert.Equal(t, []string{"admin"}, result.Denied)
}

func TestService_Revoke(t *testing.T) {
	svc, _, _, refreshTokens, _, _ := setupService()
	hash := crypto.HashString("some-refresh-token")
	refreshTokens.tokens[hash] = &core.RefreshToken{TokenHash: hash, TenantID: "t1", UserID: "user-1"}

	err := svc.Revoke(context.Background(), "t1", "some-refresh-token", "refresh_token")
	require.NoError(t, err)
	assert.NotNil(t, refreshTokens.tokens[hash].RevokedAt)
}
