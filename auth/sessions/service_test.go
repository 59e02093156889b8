package sessions

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

type mockSessionStore struct {
	sessions map[string]*core.Session
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[string]*core.Session)}
}

func (m *mockSessionStore) Create(ctx context.Context, session *core.Session) error {
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionStore) GetByID(ctx context.Context, tenantID, id string) (*core.Session, error) {
	if session, ok := m.sessions[id]; ok && session.TenantID == tenantID {
		cp := *session
		return &cp, nil
	}
	return nil, errors.New("session not found")
}

func (m *mockSessionStore) UpdateWithVersion(ctx context.Context, session *core.Session, expectedVersion int64) error {
	current, ok := m.sessions[session.ID]
	if !ok {
		return errors.New("session not found")
	}
	if current.Version != expectedVersion {
		return core.ErrVersionConflict
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *mockSessionStore) Revoke(ctx context.Context, tenantID, id string) error {
	if session, ok := m.sessions[id]; ok && session.TenantID == tenantID {
		now := time.Now()
		session.RevokedAt = &now
		return nil
	}
	return errors.New("session not found")
}

func (m *mockSessionStore) RevokeAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	count := 0
	now := time.Now()
	for _, session := range m.sessions {
		if session.TenantID != tenantID {
			continue
		}
		for _, acc := range session.AccountUserIDs {
			if acc == userID {
				session.RevokedAt = &now
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *mockSessionStore) List(ctx context.Context, tenantID string, userID, clientID *string, activeOnly bool, limit int, cursor string) ([]*core.Session, string, error) {
	var result []*core.Session
	for _, session := range m.sessions {
		if session.TenantID != tenantID {
			continue
		}
		if activeOnly && session.RevokedAt != nil {
			continue
		}
		result = append(result, session)
	}
	return result, "", nil
}

func (m *mockSessionStore) DeleteExpired(ctx context.Context, before time.Time) error {
	for k, session := range m.sessions {
		if session.CreatedAt.Before(before) {
			delete(m.sessions, k)
		}
	}
	return nil
}

type mockAccountSessionStore struct {
	accounts map[string]map[string]*core.AccountSession // browserSessionID -> userID -> account
}

func newMockAccountSessionStore() *mockAccountSessionStore {
	return &mockAccountSessionStore{accounts: map[string]map[string]*core.AccountSession{}}
}

func (m *mockAccountSessionStore) Create(ctx context.Context, acc *core.AccountSession) error {
	if m.accounts[acc.BrowserSessionID] == nil {
		m.accounts[acc.BrowserSessionID] = map[string]*core.AccountSession{}
	}
	m.accounts[acc.BrowserSessionID][acc.UserID] = acc
	return nil
}

func (m *mockAccountSessionStore) Get(ctx context.Context, tenantID, browserSessionID, userID string) (*core.AccountSession, error) {
	if accs, ok := m.accounts[browserSessionID]; ok {
		if acc, ok := accs[userID]; ok && acc.TenantID == tenantID {
			return acc, nil
		}
	}
	return nil, errors.New("account not found")
}

func (m *mockAccountSessionStore) ListByBrowserSession(ctx context.Context, tenantID, browserSessionID string) ([]*core.AccountSession, error) {
	var out []*core.AccountSession
	for _, acc := range m.accounts[browserSessionID] {
		if acc.TenantID == tenantID {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (m *mockAccountSessionStore) SetActive(ctx context.Context, tenantID, browserSessionID, userID string) error {
	for id, acc := range m.accounts[browserSessionID] {
		acc.IsActive = id == userID
	}
	return nil
}

func (m *mockAccountSessionStore) Delete(ctx context.Context, tenantID, browserSessionID, userID string) error {
	delete(m.accounts[browserSessionID], userID)
	return nil
}

func (m *mockAccountSessionStore) DeleteAll(ctx context.Context, tenantID, browserSessionID string) (int, error) {
	n := len(m.accounts[browserSessionID])
	delete(m.accounts, browserSessionID)
	return n, nil
}

func (m *mockAccountSessionStore) DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	count := 0
	for _, accs := range m.accounts {
		if _, ok := accs[userID]; ok {
			delete(accs, userID)
			count++
		}
	}
	return count, nil
}

type mockRefreshTokenStoreForSessions struct {
	revoked map[string]bool
}

func newMockRefreshTokenStoreForSessions() *mockRefreshTokenStoreForSessions {
	return &mockRefreshTokenStoreForSessions{revoked: map[string]bool{}}
}

func (m *mockRefreshTokenStoreForSessions) Create(ctx context.Context, token *core.RefreshToken) error {
	return nil
}
func (m *mockRefreshTokenStoreForSessions) GetByHash(ctx context.Context, tenantID, hash string) (*core.RefreshToken, error) {
	return nil, errors.New("not found")
}
func (m *mockRefreshTokenStoreForSessions) MarkUsed(ctx context.Context, tenantID, hash string, at time.Time) error {
	return nil
}
func (m *mockRefreshTokenStoreForSessions) Revoke(ctx context.Context, tenantID, hash string) error {
	m.revoked[hash] = true
	return nil
}
func (m *mockRefreshTokenStoreForSessions) RevokeFamily(ctx context.Context, tenantID, familyID string) (int, error) {
	return 0, nil
}
func (m *mockRefreshTokenStoreForSessions) DeleteExpired(ctx context.Context, before time.Time) error {
	return nil
}

type mockUserStore struct {
	users map[string]*core.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: map[string]*core.User{}}
}

func (m *mockUserStore) Create(ctx context.Context, user *core.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) GetByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	if user, ok := m.users[id]; ok && user.TenantID == tenantID {
		return user, nil
	}
	return nil, errors.New("user not found")
}

func (m *mockUserStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.User, error) {
	for _, user := range m.users {
		if user.TenantID == tenantID && user.Email == email {
			return user, nil
		}
	}
	return nil, errors.New("user not found")
}

func (m *mockUserStore) Update(ctx context.Context, user *core.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.User, string, error) {
	return nil, "", nil
}

func (m *mockUserStore) SetPassword(ctx context.Context, userID string, hash string) error {
	return nil
}

func (m *mockUserStore) GetPassword(ctx context.Context, userID string) (string, error) {
	return "", nil
}

type mockCookieCodec struct{}

func (mockCookieCodec) Encrypt(payload core.SessionCookiePayload) (string, error) {
	return "encrypted", nil
}
func (mockCookieCodec) Decrypt(token string) (core.SessionCookiePayload, error) {
	if token == "" {
		return core.SessionCookiePayload{}, errors.New("empty")
	}
	return core.SessionCookiePayload{}, nil
}

type mockClock struct{ now time.Time }

func (m *mockClock) Now() time.Time { return m.now }

func setupSessionService() (*Service, *mockSessionStore, *mockAccountSessionStore, *mockRefreshTokenStoreForSessions, *mockClock) {
	service, sessionStore, accountStore, refreshStore, clock, _ := setupSessionServiceWithUsers()
	return service, sessionStore, accountStore, refreshStore, clock
}

func setupSessionServiceWithUsers() (*Service, *mockSessionStore, *mockAccountSessionStore, *mockRefreshTokenStoreForSessions, *mockClock, *mockUserStore) {
	sessionStore := newMockSessionStore()
	accountStore := newMockAccountSessionStore()
	refreshStore := newMockRefreshTokenStoreForSessions()
	userStore := newMockUserStore()
	clock := &mockClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	service := NewService(sessionStore, accountStore, refreshStore, userStore, mockCookieCodec{}, clock)
	return service, sessionStore, accountStore, refreshStore, clock, userStore
}

func TestService_CreateBrowserSession(t *testing.T) {
	service, store, _, _, clock := setupSessionService()
	ctx := context.Background()

	session, err := service.CreateBrowserSession(ctx, "tenant-123", "192.168.1.1", "Mozilla/5.0")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, int64(1), session.Version)
	assert.Equal(t, clock.Now(), session.CreatedAt)

	stored, err := store.GetByID(ctx, "tenant-123", session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, stored.ID)
}

func TestService_AddAccount_FirstAccountBecomesActive(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, err := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	require.NoError(t, err)

	acc, updated, err := service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "refresh-token-1", "client-1", time.Hour, 5)
	require.NoError(t, err)
	assert.True(t, acc.IsActive)
	assert.Equal(t, "user-1", *updated.ActiveUserID)
	assert.Equal(t, []string{"user-1"}, updated.AccountUserIDs)
	assert.Equal(t, int64(2), updated.Version)
}

func TestService_AddAccount_SecondAccountSwitchesActive(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, err := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	require.NoError(t, err)

	_, _, err = service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)
	require.NoError(t, err)
	_, updated, err := service.AddAccount(ctx, "tenant-123", session.ID, "user-2", "user", nil, "", "client-1", time.Hour, 5)
	require.NoError(t, err)

	assert.Equal(t, "user-2", *updated.ActiveUserID)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, updated.AccountUserIDs)
}

func TestService_AddAccount_EvictsOldestAtCapacity(t *testing.T) {
	service, _, accounts, _, clock := setupSessionService()
	ctx := context.Background()

	session, err := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	require.NoError(t, err)

	_, _, err = service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 2)
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Minute)
	_, _, err = service.AddAccount(ctx, "tenant-123", session.ID, "user-2", "user", nil, "", "client-1", time.Hour, 2)
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Minute)

	_, updated, err := service.AddAccount(ctx, "tenant-123", session.ID, "user-3", "user", nil, "", "client-1", time.Hour, 2)
	require.NoError(t, err)

	all, err := accounts.ListByBrowserSession(ctx, "tenant-123", session.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.ElementsMatch(t, []string{"user-2", "user-3"}, updated.AccountUserIDs)
}

func TestService_SwitchActive(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)
	service.AddAccount(ctx, "tenant-123", session.ID, "user-2", "user", nil, "", "client-1", time.Hour, 5)

	updated, err := service.SwitchActive(ctx, "tenant-123", session.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", *updated.ActiveUserID)
}

func TestService_SwitchActive_UnknownAccount(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	_, err := service.SwitchActive(ctx, "tenant-123", session.ID, "ghost-user")
	assert.ErrorIs(t, err, core.ErrAccountNotFound)
}

func TestService_RemoveAccount_PromotesAnother(t *testing.T) {
	service, _, _, refreshStore, clock := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "refresh-1", "client-1", time.Hour, 5)
	clock.now = clock.now.Add(time.Minute)
	service.AddAccount(ctx, "tenant-123", session.ID, "user-2", "user", nil, "refresh-2", "client-1", time.Hour, 5)

	updated, err := service.RemoveAccount(ctx, "tenant-123", session.ID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, "user-1", *updated.ActiveUserID)
	assert.True(t, refreshStore.revoked[crypto.HashString("refresh-2")])
}

func TestService_RemoveAccount_LastAccountClearsActive(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)

	updated, err := service.RemoveAccount(ctx, "tenant-123", session.ID, "user-1")
	require.NoError(t, err)
	assert.Nil(t, updated.ActiveUserID)
	assert.Empty(t, updated.AccountUserIDs)
}

func TestService_RemoveAllAccounts(t *testing.T) {
	service, _, accounts, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)
	service.AddAccount(ctx, "tenant-123", session.ID, "user-2", "user", nil, "", "client-1", time.Hour, 5)

	require.NoError(t, service.RemoveAllAccounts(ctx, "tenant-123", session.ID))

	remaining, err := accounts.ListByBrowserSession(ctx, "tenant-123", session.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestService_Validate_Success(t *testing.T) {
	service, store, _, _, clock := setupSessionService()
	ctx := context.Background()

	session := &core.Session{ID: "s1", TenantID: "tenant-123", Version: 3, CreatedAt: clock.Now(), LastSeenAt: clock.Now()}
	require.NoError(t, store.Create(ctx, session))

	validated, reissue, err := service.Validate(ctx, "tenant-123", core.SessionCookiePayload{SID: "s1", V: 3}, time.Hour)
	require.NoError(t, err)
	assert.False(t, reissue)
	assert.Equal(t, "s1", validated.ID)
}

func TestService_Validate_StaleClientVersionTrustsStorage(t *testing.T) {
	service, store, _, _, clock := setupSessionService()
	ctx := context.Background()

	session := &core.Session{ID: "s1", TenantID: "tenant-123", Version: 5, CreatedAt: clock.Now(), LastSeenAt: clock.Now()}
	require.NoError(t, store.Create(ctx, session))

	validated, reissue, err := service.Validate(ctx, "tenant-123", core.SessionCookiePayload{SID: "s1", V: 3}, time.Hour)
	require.NoError(t, err)
	assert.True(t, reissue, "cookie behind storage must trigger reissue")
	assert.Equal(t, int64(5), validated.Version)
}

func TestService_Validate_FutureClientVersionRejected(t *testing.T) {
	service, store, _, _, clock := setupSessionService()
	ctx := context.Background()

	session := &core.Session{ID: "s1", TenantID: "tenant-123", Version: 3, CreatedAt: clock.Now(), LastSeenAt: clock.Now()}
	require.NoError(t, store.Create(ctx, session))

	_, _, err := service.Validate(ctx, "tenant-123", core.SessionCookiePayload{SID: "s1", V: 7}, time.Hour)
	assert.ErrorIs(t, err, core.ErrInvalidCookie)
}

func TestService_Validate_Expired(t *testing.T) {
	service, store, _, _, clock := setupSessionService()
	ctx := context.Background()

	session := &core.Session{
		ID: "s1", TenantID: "tenant-123", Version: 1,
		CreatedAt:  clock.Now().Add(-2 * time.Hour),
		LastSeenAt: clock.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, store.Create(ctx, session))

	_, _, err := service.Validate(ctx, "tenant-123", core.SessionCookiePayload{SID: "s1", V: 1}, time.Hour)
	assert.ErrorIs(t, err, core.ErrSessionExpired)
}

func TestService_Validate_Revoked(t *testing.T) {
	service, store, _, _, clock := setupSessionService()
	ctx := context.Background()

	now := clock.Now()
	session := &core.Session{ID: "s1", TenantID: "tenant-123", Version: 1, CreatedAt: now, LastSeenAt: now, RevokedAt: &now}
	require.NoError(t, store.Create(ctx, session))

	_, _, err := service.Validate(ctx, "tenant-123", core.SessionCookiePayload{SID: "s1", V: 1}, time.Hour)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestService_RevokeUserSessions(t *testing.T) {
	service, store, accounts, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)

	count, err := service.RevokeUserSessions(ctx, "tenant-123", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := store.GetByID(ctx, "tenant-123", session.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.RevokedAt)

	remaining, _ := accounts.ListByBrowserSession(ctx, "tenant-123", session.ID)
	assert.Empty(t, remaining)
}

func TestService_EvaluatePrompt_None_NoSession(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	_, err := service.EvaluatePrompt(context.Background(), "tenant-123", "", "none", "", "", nil)
	assert.ErrorIs(t, err, core.ErrLoginRequired)
}

func TestService_EvaluatePrompt_None_WithActiveAccount(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)

	outcome, err := service.EvaluatePrompt(ctx, "tenant-123", session.ID, "none", "", "", nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.Account)
	assert.Equal(t, "user-1", outcome.Account.UserID)
}

func TestService_EvaluatePrompt_Login_AlwaysRequiresLogin(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)

	outcome, err := service.EvaluatePrompt(ctx, "tenant-123", session.ID, "login", "", "", nil)
	require.NoError(t, err)
	assert.True(t, outcome.RequireLogin)
}

func TestService_EvaluatePrompt_SelectAccount_MultipleAccounts(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)
	service.AddAccount(ctx, "tenant-123", session.ID, "user-2", "user", nil, "", "client-1", time.Hour, 5)

	outcome, err := service.EvaluatePrompt(ctx, "tenant-123", session.ID, "select_account", "", "", nil)
	require.NoError(t, err)
	assert.True(t, outcome.RequireChooser)
}

func TestService_EvaluatePrompt_SelectAccount_SingleAccountProceeds(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)

	outcome, err := service.EvaluatePrompt(ctx, "tenant-123", session.ID, "select_account", "", "", nil)
	require.NoError(t, err)
	assert.False(t, outcome.RequireChooser)
	require.NotNil(t, outcome.Account)
	assert.Equal(t, "user-1", outcome.Account.UserID)
}

func TestService_EvaluatePrompt_SelectAccount_NoAccounts(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	outcome, err := service.EvaluatePrompt(context.Background(), "tenant-123", "", "select_account", "", "", nil)
	require.NoError(t, err)
	assert.False(t, outcome.RequireChooser)
	assert.True(t, outcome.RequireLogin)
}

func TestService_EvaluatePrompt_LoginHint_MatchesAccountEmail(t *testing.T) {
	service, _, _, _, _, userStore := setupSessionServiceWithUsers()
	ctx := context.Background()

	userStore.users["user-1"] = &core.User{ID: "user-1", TenantID: "tenant-123", Email: "alice@example.com"}
	userStore.users["user-2"] = &core.User{ID: "user-2", TenantID: "tenant-123", Email: "bob@example.com"}

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)
	service.AddAccount(ctx, "tenant-123", session.ID, "user-2", "user", nil, "", "client-1", time.Hour, 5)

	outcome, err := service.EvaluatePrompt(ctx, "tenant-123", session.ID, "", "", "BOB@Example.com", nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.Account)
	assert.Equal(t, "user-2", outcome.Account.UserID)
}

func TestService_EvaluatePrompt_LoginHint_NoMatchFallsBackToActive(t *testing.T) {
	service, _, _, _, _, userStore := setupSessionServiceWithUsers()
	ctx := context.Background()

	userStore.users["user-1"] = &core.User{ID: "user-1", TenantID: "tenant-123", Email: "alice@example.com"}

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)

	outcome, err := service.EvaluatePrompt(ctx, "tenant-123", session.ID, "", "", "nobody@example.com", nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.Account)
	assert.Equal(t, "user-1", outcome.Account.UserID)
}

func TestService_EvaluatePrompt_MaxAgeExceeded(t *testing.T) {
	service, _, _, _, clock := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)
	clock.now = clock.now.Add(2 * time.Hour)

	maxAge := int64(60)
	_, err := service.EvaluatePrompt(ctx, "tenant-123", session.ID, "none", "", "", &maxAge)
	assert.ErrorIs(t, err, core.ErrLoginRequired)
}

func TestService_EvaluatePrompt_AccountHint(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	session, _ := service.CreateBrowserSession(ctx, "tenant-123", "", "")
	service.AddAccount(ctx, "tenant-123", session.ID, "user-1", "user", nil, "", "client-1", time.Hour, 5)
	service.AddAccount(ctx, "tenant-123", session.ID, "user-2", "user", nil, "", "client-1", time.Hour, 5)

	outcome, err := service.EvaluatePrompt(ctx, "tenant-123", session.ID, "", "user-1", "", nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.Account)
	assert.Equal(t, "user-1", outcome.Account.UserID)
}

func TestService_EncodeDecodeCookie(t *testing.T) {
	service, _, _, _, _ := setupSessionService()
	ctx := context.Background()

	encoded, err := service.EncodeCookie(ctx, core.SessionCookiePayload{SID: "s1", TID: "tenant-123", V: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	_, err = service.DecodeCookie(ctx, encoded)
	require.NoError(t, err)

	_, err = service.DecodeCookie(ctx, "")
	assert.ErrorIs(t, err, core.ErrInvalidCookie)
}
