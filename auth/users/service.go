// Package users implements core.UserService: account creation,
// password verification, and suspension.
package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
)

// Service implements core.UserService against a core.Store and the
// crypto package's password hasher.
type Service struct {
	users    core.UserStore
	sessions core.SessionService
	hasher   *crypto.PasswordHasher
	clock    core.Clock
}

// NewService builds a user service.
func NewService(users core.UserStore, sessions core.SessionService, hasher *crypto.PasswordHasher, clock core.Clock) *Service {
	return &Service{users: users, sessions: sessions, hasher: hasher, clock: clock}
}

// Authenticate verifies an email/password pair and returns the user on
// success. Unknown emails and wrong passwords both return
// ErrInvalidCredentials; a suspended user gets ErrUserSuspended.
func (s *Service) Authenticate(ctx context.Context, tenantID, email, password string) (*core.User, error) {
	user, err := s.users.GetByEmail(ctx, tenantID, email)
	if err != nil {
		return nil, core.ErrInvalidCredentials
	}
	if user.Status == "suspended" {
		return nil, core.ErrUserSuspended
	}

	hash, err := s.users.GetPassword(ctx, user.ID)
	if err != nil {
		return nil, core.ErrInvalidCredentials
	}
	ok, err := s.hasher.Verify(password, hash)
	if err != nil || !ok {
		return nil, core.ErrInvalidCredentials
	}

	now := s.clock.Now()
	user.LastLoginAt = &now
	_ = s.users.Update(ctx, user)

	return user, nil
}

// Create provisions a new user with no password set.
func (s *Service) Create(ctx context.Context, tenantID, email, displayName string) (*core.User, error) {
	now := s.clock.Now()
	user := &core.User{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Email:     email,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: &now,
	}
	if displayName != "" {
		user.DisplayName = &displayName
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SetPassword hashes and stores a new password for the given user.
func (s *Service) SetPassword(ctx context.Context, tenantID, userID, password string) error {
	user, err := s.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		return core.ErrUserNotFound
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.SetPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// Suspend marks a user suspended and revokes every browser session they
// hold, returning the number of sessions revoked.
func (s *Service) Suspend(ctx context.Context, tenantID, userID string) (int, error) {
	user, err := s.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		return 0, core.ErrUserNotFound
	}
	user.Status = "suspended"
	now := s.clock.Now()
	user.UpdatedAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		return 0, fmt.Errorf("suspend user: %w", err)
	}

	revoked, err := s.sessions.RevokeUserSessions(ctx, tenantID, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return revoked, nil
}
