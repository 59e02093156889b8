package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRefreshTokenStore struct {
	tokens map[string]*core.RefreshToken
}

func newMockRefreshTokenStore() *mockRefreshTokenStore {
	return &mockRefreshTokenStore{tokens: make(map[string]*core.RefreshToken)}
}

func (m *mockRefreshTokenStore) Create(ctx context.Context, token *core.RefreshToken) error {
	m.tokens[token.TokenHash] = token
	return nil
}

func (m *mockRefreshTokenStore) GetByHash(ctx context.Context, tenantID, hash string) (*core.RefreshToken, error) {
	if token, ok := m.tokens[hash]; ok && token.TenantID == tenantID {
		return token, nil
	}
	return nil, errors.New("token not found")
}

func (m *mockRefreshTokenStore) MarkUsed(ctx context.Context, tenantID, hash string, at time.Time) error {
	if token, ok := m.tokens[hash]; ok && token.TenantID == tenantID {
		token.UsedAt = &at
		return nil
	}
	return errors.New("token not found")
}

func (m *mockRefreshTokenStore) Revoke(ctx context.Context, tenantID, hash string) error {
	if token, ok := m.tokens[hash]; ok && token.TenantID == tenantID {
		now := time.Now()
		token.RevokedAt = &now
		return nil
	}
	return errors.New("token not found")
}

func (m *mockRefreshTokenStore) RevokeFamily(ctx context.Context, tenantID, familyID string) (int, error) {
	count := 0
	now := time.Now()
	for _, token := range m.tokens {
		if token.TenantID == tenantID && token.FamilyID == familyID && token.RevokedAt == nil {
			token.RevokedAt = &now
			count++
		}
	}
	return count, nil
}

func (m *mockRefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) error {
	for k, token := range m.tokens {
		if time.Now().After(token.ExpiresAt) || token.RevokedAt != nil {
			delete(m.tokens, k)
		}
	}
	return nil
}

type mockJWTManager struct {
	shouldFail bool
	claims     *core.TokenClaims
}

func (m *mockJWTManager) Sign(ctx context.Context, tenantID, issuer string, claims map[string]interface{}, ttl time.Duration) (string, error) {
	if m.shouldFail {
		return "", errors.New("signing failed")
	}
	return "mock-jwt-token", nil
}

func (m *mockJWTManager) Verify(ctx context.Context, tenantID, tokenString string) (*core.TokenClaims, error) {
	if m.shouldFail {
		return nil, errors.New("verification failed")
	}
	if m.claims != nil {
		return m.claims, nil
	}
	return &core.TokenClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()}, nil
}

type mockAuditSink struct {
	events []*core.AuditEvent
}

func (m *mockAuditSink) Log(ctx context.Context, event *core.AuditEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *mockAuditSink) Stats() core.AuditStats { return core.AuditStats{} }

func (m *mockAuditSink) Query(ctx context.Context, tenantID string, filters core.AuditFilters, limit int, cursor string) ([]*core.AuditEvent, string, error) {
	return nil, "", nil
}

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time {
	return m.now
}

func setupTokenService() (*Service, *mockRefreshTokenStore, *mockClock) {
	service, refreshTokenStore, clock, _ := setupTokenServiceWithAudit()
	return service, refreshTokenStore, clock
}

func setupTokenServiceWithAudit() (*Service, *mockRefreshTokenStore, *mockClock, *mockAuditSink) {
	refreshTokenStore := newMockRefreshTokenStore()
	jwtManager := &mockJWTManager{}
	clock := &mockClock{now: time.Now()}
	auditSink := &mockAuditSink{}

	service := NewService(
		refreshTokenStore,
		jwtManager,
		clock,
		func(tenantID string) string { return "https://" + tenantID + ".example.com" },
		15*time.Minute,
		14*24*time.Hour,
		auditSink,
	)

	return service, refreshTokenStore, clock, auditSink
}

func TestService_IssueAccessToken(t *testing.T) {
	service, _, _ := setupTokenService()
	ctx := context.Background()

	token, err := service.IssueAccessToken(ctx, "tenant-123", "user-456", "client-789", "user", "user", nil, "openid profile", []string{"admin"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock-jwt-token", token)
}

func TestService_IssueAccessToken_WithSessionAndPermissions(t *testing.T) {
	service, _, _ := setupTokenService()
	ctx := context.Background()

	sessionID := "session-abc"
	token, err := service.IssueAccessToken(ctx, "tenant-123", "user-456", "client-789", "user", "user", map[string]interface{}{"k": "v"}, "openid", []string{"admin"}, []string{"docs:read"}, &sessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestService_IssueRefreshToken(t *testing.T) {
	service, refreshTokenStore, clock := setupTokenService()
	ctx := context.Background()

	plaintext, tokenID, err := service.IssueRefreshToken(ctx, "tenant-123", "user-456", "client-789", "openid profile", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
	assert.NotEmpty(t, tokenID)

	tokenHash := crypto.HashString(plaintext)
	stored, err := refreshTokenStore.GetByHash(ctx, "tenant-123", tokenHash)
	require.NoError(t, err)
	assert.Equal(t, "user-456", stored.UserID)
	assert.Equal(t, "client-789", stored.ClientID)
	assert.NotEmpty(t, stored.FamilyID)
	assert.Nil(t, stored.PreviousID)
	assert.True(t, stored.ExpiresAt.After(clock.Now()))
}

func TestService_RotateRefreshToken_Success(t *testing.T) {
	service, refreshTokenStore, clock := setupTokenService()
	ctx := context.Background()

	plaintext, _, err := service.IssueRefreshToken(ctx, "tenant-123", "user-456", "client-789", "openid", "", nil)
	require.NoError(t, err)

	newPlaintext, newRT, err := service.RotateRefreshToken(ctx, "tenant-123", plaintext, "client-789")
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, newPlaintext)
	assert.Equal(t, "user-456", newRT.UserID)

	oldHash := crypto.HashString(plaintext)
	oldStored, err := refreshTokenStore.GetByHash(ctx, "tenant-123", oldHash)
	require.NoError(t, err)
	assert.NotNil(t, oldStored.UsedAt)
	assert.Equal(t, newRT.FamilyID, oldStored.FamilyID)
	_ = clock
}

func TestService_RotateRefreshToken_ReuseRevokesFamily(t *testing.T) {
	service, refreshTokenStore, _, auditSink := setupTokenServiceWithAudit()
	ctx := context.Background()

	plaintext, _, err := service.IssueRefreshToken(ctx, "tenant-123", "user-456", "client-789", "openid", "", nil)
	require.NoError(t, err)

	newPlaintext, _, err := service.RotateRefreshToken(ctx, "tenant-123", plaintext, "client-789")
	require.NoError(t, err)

	// Reusing the already-consumed old token must revoke the entire family.
	_, _, err = service.RotateRefreshToken(ctx, "tenant-123", plaintext, "client-789")
	assert.ErrorIs(t, err, core.ErrInvalidGrant)

	newHash := crypto.HashString(newPlaintext)
	newStored, err := refreshTokenStore.GetByHash(ctx, "tenant-123", newHash)
	require.NoError(t, err)
	assert.NotNil(t, newStored.RevokedAt, "rotating the new token's sibling must also revoke it")

	require.Len(t, auditSink.events, 1)
	assert.Equal(t, "reused", auditSink.events[0].Type)
	assert.Equal(t, "user-456", *auditSink.events[0].ActorID)
}

func TestService_RotateRefreshToken_Expired(t *testing.T) {
	service, refreshTokenStore, clock := setupTokenService()
	ctx := context.Background()

	oldToken := "expired-token"
	oldHash := crypto.HashString(oldToken)
	expiredToken := &core.RefreshToken{
		TokenHash: oldHash,
		TenantID:  "tenant-123",
		UserID:    "user-456",
		ClientID:  "client-789",
		Scope:     "openid",
		FamilyID:  "fam-1",
		CreatedAt: clock.Now().Add(-30 * 24 * time.Hour),
		ExpiresAt: clock.Now().Add(-1 * time.Hour),
	}
	require.NoError(t, refreshTokenStore.Create(ctx, expiredToken))

	_, _, err := service.RotateRefreshToken(ctx, "tenant-123", oldToken, "client-789")
	assert.ErrorIs(t, err, core.ErrInvalidGrant)
}

func TestService_RotateRefreshToken_Revoked(t *testing.T) {
	service, refreshTokenStore, clock := setupTokenService()
	ctx := context.Background()

	oldToken := "revoked-token"
	oldHash := crypto.HashString(oldToken)
	now := clock.Now()
	revokedToken := &core.RefreshToken{
		TokenHash: oldHash,
		TenantID:  "tenant-123",
		UserID:    "user-456",
		ClientID:  "client-789",
		Scope:     "openid",
		FamilyID:  "fam-1",
		CreatedAt: clock.Now(),
		ExpiresAt: clock.Now().Add(14 * 24 * time.Hour),
		RevokedAt: &now,
	}
	require.NoError(t, refreshTokenStore.Create(ctx, revokedToken))

	_, _, err := service.RotateRefreshToken(ctx, "tenant-123", oldToken, "client-789")
	assert.ErrorIs(t, err, core.ErrInvalidGrant)
}

func TestService_RotateRefreshToken_WrongClient(t *testing.T) {
	service, _, _ := setupTokenService()
	ctx := context.Background()

	plaintext, _, err := service.IssueRefreshToken(ctx, "tenant-123", "user-456", "client-789", "openid", "", nil)
	require.NoError(t, err)

	_, _, err = service.RotateRefreshToken(ctx, "tenant-123", plaintext, "some-other-client")
	assert.ErrorIs(t, err, core.ErrInvalidGrant)
}

func TestService_ValidateAccessToken(t *testing.T) {
	refreshTokenStore := newMockRefreshTokenStore()
	jwtManager := &mockJWTManager{claims: &core.TokenClaims{
		Subject:   "user-456",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}}
	clock := &mockClock{now: time.Now()}
	service := NewService(refreshTokenStore, jwtManager, clock, func(string) string { return "iss" }, time.Minute, time.Hour, nil)

	claims, err := service.ValidateAccessToken(context.Background(), "tenant-123", "some-token")
	require.NoError(t, err)
	assert.Equal(t, "user-456", claims.Subject)
}

func TestService_ValidateAccessToken_Expired(t *testing.T) {
	refreshTokenStore := newMockRefreshTokenStore()
	clock := &mockClock{now: time.Now()}
	jwtManager := &mockJWTManager{claims: &core.TokenClaims{
		ExpiresAt: clock.now.Add(-time.Minute).Unix(),
	}}
	service := NewService(refreshTokenStore, jwtManager, clock, func(string) string { return "iss" }, time.Minute, time.Hour, nil)

	_, err := service.ValidateAccessToken(context.Background(), "tenant-123", "some-token")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}
