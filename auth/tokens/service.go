// Package tokens issues and validates access/refresh tokens (part of
// C9's supporting machinery). Grounded on the teacher's
// auth/tokens/service.go for the overall shape (JWTSigner interface,
// hash-then-store token pattern) generalized to the richer access-token
// claim set (mode, subject type, roles, permissions) and to refresh-token
// family/reuse detection, grounded on
// other_examples/0785be31_startup-x44-org-auth-api__internal-service-oauth2_service.go.go's
// RevokeTokenFamily/FamilyID pattern — the teacher's own implementation
// had no equivalent.
package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
)

// JWTSigner signs and verifies JWTs (implemented by *crypto.KeyManager and mocks).
type JWTSigner interface {
	Sign(ctx context.Context, tenantID, issuer string, claims map[string]interface{}, ttl time.Duration) (string, error)
	Verify(ctx context.Context, tenantID, tokenString string) (*core.TokenClaims, error)
}

// IssuerFunc resolves the issuer URL published in tokens for a tenant.
type IssuerFunc func(tenantID string) string

// Service implements core.TokenService.
type Service struct {
	refreshTokens core.RefreshTokenStore
	jwtManager    JWTSigner
	clock         core.Clock
	issuerFor     IssuerFunc
	accessTTL     time.Duration
	refreshTTL    time.Duration
	auditSink     core.AuditSink
}

// NewService creates a new token service. auditSink may be nil, in which
// case refresh-token reuse is still detected and the family still
// revoked, just not recorded.
func NewService(refreshTokens core.RefreshTokenStore, jwtManager JWTSigner, clock core.Clock, issuerFor IssuerFunc, accessTTL, refreshTTL time.Duration, auditSink core.AuditSink) *Service {
	return &Service{
		refreshTokens: refreshTokens,
		jwtManager:    jwtManager,
		clock:         clock,
		issuerFor:     issuerFor,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		auditSink:     auditSink,
	}
}

// IssueAccessToken issues a new access token carrying the enriched RBAC
// claim set (roles/permissions) and the user/m2m mode distinction.
func (s *Service) IssueAccessToken(ctx context.Context, tenantID, userID, clientID, mode, subjectType string, properties map[string]interface{}, scope string, roles, permissions []string, sessionID *string) (string, error) {
	issuer := s.issuerFor(tenantID)

	claims := map[string]interface{}{
		"sub":       userID,
		"aud":       clientID,
		"client_id": clientID,
		"scope":     scope,
		"mode":      mode,
		"type":      subjectType,
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	if len(permissions) > 0 {
		claims["permissions"] = permissions
	}
	if len(properties) > 0 {
		claims["properties"] = properties
	}
	if sessionID != nil {
		claims["sid"] = *sessionID
	}

	token, err := s.jwtManager.Sign(ctx, tenantID, issuer, claims, s.accessTTL)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// IssueRefreshToken issues and stores a refresh token within the given
// reuse-detection family. Pass an empty familyID to start a new family.
func (s *Service) IssueRefreshToken(ctx context.Context, tenantID, userID, clientID, scope, familyID string, previousID *string) (string, string, error) {
	if familyID == "" {
		familyID = uuid.New().String()
	}
	tokenID := uuid.New().String()
	plaintext := tokenID + "." + uuid.New().String()
	tokenHash := crypto.HashString(plaintext)

	rt := &core.RefreshToken{
		TokenHash:  tokenHash,
		TenantID:   tenantID,
		ClientID:   clientID,
		UserID:     userID,
		Scope:      scope,
		FamilyID:   familyID,
		PreviousID: previousID,
		CreatedAt:  s.clock.Now(),
		ExpiresAt:  s.clock.Now().Add(s.refreshTTL),
	}

	if err := s.refreshTokens.Create(ctx, rt); err != nil {
		return "", "", fmt.Errorf("store refresh token: %w", err)
	}
	return plaintext, tokenID, nil
}

// ValidateAccessToken verifies a JWT's signature and expiry and returns
// its claims.
func (s *Service) ValidateAccessToken(ctx context.Context, tenantID, token string) (*core.TokenClaims, error) {
	claims, err := s.jwtManager.Verify(ctx, tenantID, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}
	now := s.clock.Now().Unix()
	if claims.ExpiresAt != 0 && now >= claims.ExpiresAt {
		return nil, core.ErrInvalidToken
	}
	return claims, nil
}

// RotateRefreshToken consumes oldToken and issues a new refresh token in
// the same family. If oldToken has already been consumed (UsedAt set),
// this is a reuse signal — every token in the family is revoked and
// core.ErrInvalidGrant is returned, forcing re-authentication.
func (s *Service) RotateRefreshToken(ctx context.Context, tenantID, oldToken, clientID string) (string, *core.RefreshToken, error) {
	oldHash := crypto.HashString(oldToken)

	rt, err := s.refreshTokens.GetByHash(ctx, tenantID, oldHash)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", core.ErrInvalidGrant, err)
	}
	if rt.ClientID != clientID {
		return "", nil, core.ErrInvalidGrant
	}
	if rt.RevokedAt != nil {
		return "", nil, core.ErrInvalidGrant
	}
	if s.clock.Now().After(rt.ExpiresAt) {
		return "", nil, core.ErrInvalidGrant
	}
	if rt.UsedAt != nil {
		// Reuse of an already-consumed token: the family is compromised.
		if _, revokeErr := s.refreshTokens.RevokeFamily(ctx, tenantID, rt.FamilyID); revokeErr != nil {
			return "", nil, fmt.Errorf("revoke compromised family: %w", revokeErr)
		}
		s.auditReuse(ctx, tenantID, rt, clientID)
		return "", nil, core.ErrInvalidGrant
	}

	if err := s.refreshTokens.MarkUsed(ctx, tenantID, oldHash, s.clock.Now()); err != nil {
		return "", nil, fmt.Errorf("mark used: %w", err)
	}

	newPlaintext, _, err := s.IssueRefreshToken(ctx, tenantID, rt.UserID, rt.ClientID, rt.Scope, rt.FamilyID, &oldHash)
	if err != nil {
		return "", nil, err
	}

	newHash := crypto.HashString(newPlaintext)
	newRT, err := s.refreshTokens.GetByHash(ctx, tenantID, newHash)
	if err != nil {
		return "", nil, fmt.Errorf("load new refresh token: %w", err)
	}

	return newPlaintext, newRT, nil
}

// auditReuse records the reused-refresh-token audit event spec.md §3
// requires whenever a consumed token is presented again. Fire-and-forget:
// a failure to log must not block the invalid_grant response.
func (s *Service) auditReuse(ctx context.Context, tenantID string, rt *core.RefreshToken, clientID string) {
	if s.auditSink == nil {
		return
	}
	s.auditSink.Log(ctx, &core.AuditEvent{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ActorType: "user",
		ActorID:   &rt.UserID,
		Type:      "reused",
		ClientID:  &clientID,
		CreatedAt: s.clock.Now(),
		Data: map[string]interface{}{
			"family_id": rt.FamilyID,
			"token_id":  rt.TokenHash,
		},
	})
}
