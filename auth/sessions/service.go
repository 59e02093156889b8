// Package sessions implements the multi-account browser session engine
// (C7): a single browser session cookie can carry several logged-in
// accounts, with one marked active at a time, a sliding expiry window,
// optimistic-concurrency protected updates, and OIDC prompt/max_age
// semantics layered on top.
//
// Grounded on the teacher's auth/sessions/service.go (single-account
// Create/Validate/Revoke shape, core.SessionStore contract) generalized
// to the multi-account model and extended with the JWE cookie codec
// from auth/crypto and the version-CAS/prompt logic the teacher's MVP
// didn't need, shaped after other_examples' session_service.go for the
// multi-account/account-switching pattern.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
)

// CookieCodec encrypts/decrypts the session cookie payload. Satisfied by
// *crypto.CookieBox.
type CookieCodec interface {
	Encrypt(payload core.SessionCookiePayload) (string, error)
	Decrypt(token string) (core.SessionCookiePayload, error)
}

// Service implements core.SessionService.
type Service struct {
	sessions      core.SessionStore
	accounts      core.AccountSessionStore
	refreshTokens core.RefreshTokenStore
	users         core.UserStore
	cookies       CookieCodec
	clock         core.Clock
}

// NewService creates a new session service. users may be nil, in which
// case login_hint is never resolved against a session's accounts.
func NewService(sessions core.SessionStore, accounts core.AccountSessionStore, refreshTokens core.RefreshTokenStore, users core.UserStore, cookies CookieCodec, clock core.Clock) *Service {
	return &Service{
		sessions:      sessions,
		accounts:      accounts,
		refreshTokens: refreshTokens,
		users:         users,
		cookies:       cookies,
		clock:         clock,
	}
}

// CreateBrowserSession starts a new, account-less browser session.
func (s *Service) CreateBrowserSession(ctx context.Context, tenantID, ip, userAgent string) (*core.Session, error) {
	now := s.clock.Now()
	session := &core.Session{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		IP:         ip,
		UserAgent:  userAgent,
		Version:    1,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create browser session: %w", err)
	}
	return session, nil
}

const maxCASRetries = 3

// withVersionRetry applies mutate to the freshly-loaded session and
// persists it with UpdateWithVersion, retrying on ErrVersionConflict a
// bounded number of times to absorb races against concurrent requests
// touching the same browser session.
func (s *Service) withVersionRetry(ctx context.Context, tenantID, sessionID string, mutate func(*core.Session) error) (*core.Session, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		session, err := s.sessions.GetByID(ctx, tenantID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrSessionNotFound, err)
		}
		if session.RevokedAt != nil {
			return nil, core.ErrSessionNotFound
		}

		expected := session.Version
		if err := mutate(session); err != nil {
			return nil, err
		}
		session.Version = expected + 1

		err = s.sessions.UpdateWithVersion(ctx, session, expected)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) {
			return nil, fmt.Errorf("update session: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("session update contended after %d attempts: %w", maxCASRetries, lastErr)
}

// AddAccount logs userID into browserSessionID as an additional account,
// making it the active one. When the session is already at maxAccounts
// capacity, the least-recently-authenticated account is evicted to make
// room (LRA eviction) rather than rejecting the login outright.
func (s *Service) AddAccount(ctx context.Context, tenantID, browserSessionID, userID, subjectType string, properties map[string]interface{}, refreshToken, clientID string, ttl time.Duration, maxAccounts int) (*core.AccountSession, *core.Session, error) {
	if maxAccounts <= 0 {
		return nil, nil, core.ErrMaxAccountsExceeded
	}

	existing, err := s.accounts.ListByBrowserSession(ctx, tenantID, browserSessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("list accounts: %w", err)
	}

	evictedUserID := ""
	if len(existing) >= maxAccounts {
		oldest := existing[0]
		for _, acc := range existing[1:] {
			if acc.AuthenticatedAt.Before(oldest.AuthenticatedAt) {
				oldest = acc
			}
		}
		if err := s.accounts.Delete(ctx, tenantID, browserSessionID, oldest.UserID); err != nil {
			return nil, nil, fmt.Errorf("evict oldest account: %w", err)
		}
		evictedUserID = oldest.UserID
	}

	now := s.clock.Now()
	var refreshHash *string
	if refreshToken != "" {
		h := crypto.HashString(refreshToken)
		refreshHash = &h
	}

	account := &core.AccountSession{
		ID:                uuid.New().String(),
		BrowserSessionID:  browserSessionID,
		TenantID:          tenantID,
		UserID:            userID,
		IsActive:          true,
		AuthenticatedAt:   now,
		ExpiresAt:         now.Add(ttl),
		SubjectType:       subjectType,
		SubjectProperties: properties,
		RefreshTokenHash:  refreshHash,
		ClientID:          clientID,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, nil, fmt.Errorf("create account session: %w", err)
	}
	if err := s.accounts.SetActive(ctx, tenantID, browserSessionID, userID); err != nil {
		return nil, nil, fmt.Errorf("set active account: %w", err)
	}

	session, err := s.withVersionRetry(ctx, tenantID, browserSessionID, func(session *core.Session) error {
		if evictedUserID != "" {
			session.AccountUserIDs = removeString(session.AccountUserIDs, evictedUserID)
		}
		session.ActiveUserID = &userID
		session.UserID = userID
		if !containsString(session.AccountUserIDs, userID) {
			session.AccountUserIDs = append(session.AccountUserIDs, userID)
		}
		session.LastSeenAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return account, session, nil
}

// SwitchActive makes userID the active account within browserSessionID.
func (s *Service) SwitchActive(ctx context.Context, tenantID, browserSessionID, userID string) (*core.Session, error) {
	if _, err := s.accounts.Get(ctx, tenantID, browserSessionID, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAccountNotFound, err)
	}
	if err := s.accounts.SetActive(ctx, tenantID, browserSessionID, userID); err != nil {
		return nil, fmt.Errorf("set active account: %w", err)
	}

	return s.withVersionRetry(ctx, tenantID, browserSessionID, func(session *core.Session) error {
		session.ActiveUserID = &userID
		session.UserID = userID
		session.LastSeenAt = s.clock.Now()
		return nil
	})
}

// ListAccounts returns every account logged into browserSessionID.
func (s *Service) ListAccounts(ctx context.Context, tenantID, browserSessionID string) ([]*core.AccountSession, error) {
	return s.accounts.ListByBrowserSession(ctx, tenantID, browserSessionID)
}

// RemoveAccount logs userID out of browserSessionID. If userID was the
// active account, another remaining account (the most recently
// authenticated) is promoted to active; if none remain, the session's
// active account is cleared but the browser session itself survives.
func (s *Service) RemoveAccount(ctx context.Context, tenantID, browserSessionID, userID string) (*core.Session, error) {
	account, err := s.accounts.Get(ctx, tenantID, browserSessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAccountNotFound, err)
	}
	if account.RefreshTokenHash != nil && s.refreshTokens != nil {
		_ = s.refreshTokens.Revoke(ctx, tenantID, *account.RefreshTokenHash)
	}
	if err := s.accounts.Delete(ctx, tenantID, browserSessionID, userID); err != nil {
		return nil, fmt.Errorf("delete account: %w", err)
	}

	remaining, err := s.accounts.ListByBrowserSession(ctx, tenantID, browserSessionID)
	if err != nil {
		return nil, fmt.Errorf("list remaining accounts: %w", err)
	}

	return s.withVersionRetry(ctx, tenantID, browserSessionID, func(session *core.Session) error {
		session.AccountUserIDs = removeString(session.AccountUserIDs, userID)
		session.LastSeenAt = s.clock.Now()

		wasActive := session.ActiveUserID != nil && *session.ActiveUserID == userID
		if !wasActive {
			return nil
		}

		if len(remaining) == 0 {
			session.ActiveUserID = nil
			session.UserID = ""
			return nil
		}

		promoted := remaining[0]
		for _, acc := range remaining[1:] {
			if acc.AuthenticatedAt.After(promoted.AuthenticatedAt) {
				promoted = acc
			}
		}
		if err := s.accounts.SetActive(ctx, tenantID, browserSessionID, promoted.UserID); err != nil {
			return err
		}
		session.ActiveUserID = &promoted.UserID
		session.UserID = promoted.UserID
		return nil
	})
}

// RemoveAllAccounts logs every account out of browserSessionID, leaving
// an empty, still-valid browser session.
func (s *Service) RemoveAllAccounts(ctx context.Context, tenantID, browserSessionID string) error {
	accounts, err := s.accounts.ListByBrowserSession(ctx, tenantID, browserSessionID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if s.refreshTokens != nil {
		for _, acc := range accounts {
			if acc.RefreshTokenHash != nil {
				_ = s.refreshTokens.Revoke(ctx, tenantID, *acc.RefreshTokenHash)
			}
		}
	}
	if _, err := s.accounts.DeleteAll(ctx, tenantID, browserSessionID); err != nil {
		return fmt.Errorf("delete accounts: %w", err)
	}

	_, err = s.withVersionRetry(ctx, tenantID, browserSessionID, func(session *core.Session) error {
		session.AccountUserIDs = nil
		session.ActiveUserID = nil
		session.UserID = ""
		session.LastSeenAt = s.clock.Now()
		return nil
	})
	return err
}

// Validate checks a decoded cookie payload against stored session state.
//
// Per the version reconciliation policy: a cookie version newer than
// storage is stale or forged and is rejected (ErrInvalidCookie); a
// cookie version older than storage is the expected outcome of a
// sliding-window race between concurrent requests and is accepted,
// trusting storage, with reissue=true so the caller refreshes the
// client's cookie to the current version.
func (s *Service) Validate(ctx context.Context, tenantID string, payload core.SessionCookiePayload, slidingWindow time.Duration) (*core.Session, bool, error) {
	session, err := s.sessions.GetByID(ctx, tenantID, payload.SID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", core.ErrSessionNotFound, err)
	}
	if session.RevokedAt != nil {
		return nil, false, core.ErrSessionNotFound
	}

	if payload.V > session.Version {
		return nil, false, core.ErrInvalidCookie
	}
	reissue := payload.V < session.Version

	now := s.clock.Now()
	if now.Sub(session.LastSeenAt) > slidingWindow {
		return nil, false, core.ErrSessionExpired
	}

	session.LastSeenAt = now
	if err := s.sessions.UpdateWithVersion(ctx, session, session.Version); err != nil && !errors.Is(err, core.ErrVersionConflict) {
		return nil, false, fmt.Errorf("touch session: %w", err)
	}

	return session, reissue, nil
}

// Revoke invalidates a single browser session.
func (s *Service) Revoke(ctx context.Context, tenantID, sessionID string) error {
	return s.sessions.Revoke(ctx, tenantID, sessionID)
}

// RevokeUserSessions invalidates every browser session with userID as an
// account (e.g. on password change or account suspension).
func (s *Service) RevokeUserSessions(ctx context.Context, tenantID, userID string) (int, error) {
	if _, err := s.accounts.DeleteAllForUser(ctx, tenantID, userID); err != nil {
		return 0, fmt.Errorf("delete account sessions: %w", err)
	}
	return s.sessions.RevokeAllForUser(ctx, tenantID, userID)
}

// EncodeCookie encrypts payload into the opaque cookie value.
func (s *Service) EncodeCookie(ctx context.Context, payload core.SessionCookiePayload) (string, error) {
	return s.cookies.Encrypt(payload)
}

// DecodeCookie decrypts a cookie value back into its payload.
func (s *Service) DecodeCookie(ctx context.Context, cookie string) (core.SessionCookiePayload, error) {
	payload, err := s.cookies.Decrypt(cookie)
	if err != nil {
		return core.SessionCookiePayload{}, fmt.Errorf("%w: %v", core.ErrInvalidCookie, err)
	}
	return payload, nil
}

// PromptOutcome describes how an /authorize request's prompt parameter
// resolved against the caller's existing browser session.
type PromptOutcome struct {
	Account         *core.AccountSession
	RequireLogin    bool
	RequireChooser  bool
}

// EvaluatePrompt applies OIDC prompt/max_age/account_hint semantics
// against a browser session's logged-in accounts. accountHint, when
// set, is a user ID to prefer. loginHint, when set and accountHint is
// not, is matched case-insensitively against the session's accounts'
// emails to pick the same account; it has no effect on accounts outside
// the current browser session.
func (s *Service) EvaluatePrompt(ctx context.Context, tenantID, browserSessionID, prompt, accountHint, loginHint string, maxAge *int64) (*PromptOutcome, error) {
	var accounts []*core.AccountSession
	if browserSessionID != "" {
		var err error
		accounts, err = s.accounts.ListByBrowserSession(ctx, tenantID, browserSessionID)
		if err != nil {
			accounts = nil
		}
	}

	if accountHint == "" && loginHint != "" && s.users != nil {
		if matched := s.resolveLoginHint(ctx, tenantID, accounts, loginHint); matched != "" {
			accountHint = matched
		}
	}

	selectAccount := func() *core.AccountSession {
		if accountHint != "" {
			for _, a := range accounts {
				if a.UserID == accountHint {
					return a
				}
			}
			return nil
		}
		for _, a := range accounts {
			if a.IsActive {
				return a
			}
		}
		if len(accounts) > 0 {
			return accounts[0]
		}
		return nil
	}

	switch prompt {
	case "login":
		return &PromptOutcome{RequireLogin: true}, nil
	case "select_account":
		if len(accounts) >= 2 {
			return &PromptOutcome{RequireChooser: true}, nil
		}
		account := selectAccount()
		if account == nil {
			return &PromptOutcome{RequireLogin: true}, nil
		}
		return &PromptOutcome{Account: account}, nil
	case "none":
		account := selectAccount()
		if account == nil {
			return nil, core.ErrLoginRequired
		}
		if maxAge != nil && s.clock.Now().Sub(account.AuthenticatedAt) > time.Duration(*maxAge)*time.Second {
			return nil, core.ErrLoginRequired
		}
		return &PromptOutcome{Account: account}, nil
	default:
		account := selectAccount()
		if account == nil {
			return &PromptOutcome{RequireLogin: true}, nil
		}
		if maxAge != nil && s.clock.Now().Sub(account.AuthenticatedAt) > time.Duration(*maxAge)*time.Second {
			return &PromptOutcome{RequireLogin: true}, nil
		}
		return &PromptOutcome{Account: account}, nil
	}
}

// resolveLoginHint matches loginHint case-insensitively against the
// emails of the session's logged-in accounts and returns the matching
// user ID, or "" if none of them match.
func (s *Service) resolveLoginHint(ctx context.Context, tenantID string, accounts []*core.AccountSession, loginHint string) string {
	hint := strings.ToLower(loginHint)
	for _, a := range accounts {
		user, err := s.users.GetByID(ctx, tenantID, a.UserID)
		if err != nil {
			continue
		}
		if strings.ToLower(user.Email) == hint {
			return a.UserID
		}
	}
	return ""
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

func removeString(list []string, target string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
