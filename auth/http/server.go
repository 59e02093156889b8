package http

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
	"github.com/nebularis/iam/auth/sessions"
)

// Server is the main HTTP server, wiring tenant resolution, admin
// auth, session handling, rate limiting, and routing around the OIDC
// and admin API handlers.
type Server struct {
	core              *core.Core
	config            core.Config
	tenantMiddleware  *TenantMiddleware
	adminMiddleware   *AdminAuthMiddleware
	sessionMiddleware *SessionMiddleware
	corsMiddleware    *CORSMiddleware
	rateLimiter       *RateLimitMiddleware
	logger            *LoggingMiddleware
	adminHandlers     *AdminHandlers
	oidcHandlers      *OIDCHandlers
}

// NewServer creates a new HTTP server from a fully wired Core.
func NewServer(coreInstance *core.Core, config core.Config) *Server {
	s := &Server{
		core:   coreInstance,
		config: config,
	}

	if coreInstance.TenantResolver != nil {
		s.tenantMiddleware = NewTenantMiddleware(coreInstance.TenantResolver)
	}
	if coreInstance.Store != nil && coreInstance.Store.AdminKeys() != nil {
		s.adminMiddleware = NewAdminAuthMiddleware(coreInstance.Store.AdminKeys(), config.AdminAPIKey)
	}
	if coreInstance.SessionService != nil {
		sameSite := http.SameSiteLaxMode
		switch strings.ToLower(config.SessionCookieSameSite) {
		case "strict":
			sameSite = http.SameSiteStrictMode
		case "none":
			sameSite = http.SameSiteNoneMode
		}
		cookieName := config.SessionCookieName
		if cookieName == "" {
			cookieName = "iamd_session"
		}
		s.sessionMiddleware = NewSessionMiddleware(coreInstance.SessionService, cookieName, config.SlidingWindowPeriod, config.SessionCookieSecure, sameSite)
	}
	s.corsMiddleware = NewCORSMiddleware([]string{"*"})
	s.rateLimiter = NewRateLimitMiddleware(20, 40)
	s.logger = NewLoggingMiddleware(slog.Default())

	s.adminHandlers = NewAdminHandlers(
		coreInstance.Store,
		coreInstance.KeyManager,
		coreInstance.AuditSink,
		coreInstance.Clock,
		coreInstance.ClientService,
		coreInstance.ProviderService,
		coreInstance.UserService,
		coreInstance.RBACService,
		coreInstance.SessionService,
	)

	var sessSvc *sessions.Service
	if concrete, ok := coreInstance.SessionService.(*sessions.Service); ok {
		sessSvc = concrete
	}
	s.oidcHandlers = NewOIDCHandlers(coreInstance.OAuthService, coreInstance.KeyManager, coreInstance.TenantResolver, sessSvc, "/login", "/login")

	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler := http.HandlerFunc(s.handleRequest)
	wrapped := s.corsMiddleware.Handler(handler)
	if s.logger != nil {
		wrapped = s.logger.Handler(wrapped)
	}
	wrapped.ServeHTTP(w, r)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	method := r.Method

	switch {
	case strings.HasPrefix(path, "/admin/tenants/"):
		s.routeAdminTenantPath(w, r)
		return
	case strings.HasPrefix(path, "/rbac/"):
		s.routeRBACPath(w, r)
		return
	case strings.HasPrefix(path, "/session/"):
		s.routeSessionPath(w, r)
		return
	}

	switch {
	case path == "/healthz":
		s.adminHandlers.HealthHandler(w, r)

	case path == "/admin/tenants" && method == http.MethodGet:
		s.withAdminAuth(s.adminHandlers.ListTenants)(w, r)
	case path == "/admin/tenants" && method == http.MethodPost:
		s.withAdminAuth(s.adminHandlers.CreateTenant)(w, r)
	case path == "/admin/auth/keys" && method == http.MethodGet:
		s.withAdminAuth(s.handleListAdminAuthKeys)(w, r)
	case path == "/admin/auth/keys" && method == http.MethodPost:
		s.withAdminAuth(s.handleCreateAdminAuthKey)(w, r)
	case path == "/admin/providers/types" && method == http.MethodGet:
		s.withAdminAuth(s.adminHandlers.ListProviderTypes)(w, r)
	case path == "/admin/ui/login" && method == http.MethodPost && s.config.EnableAdminUI:
		s.handleAdminUILogin(w, r)
	case path == "/admin/ui/logout" && method == http.MethodPost && s.config.EnableAdminUI:
		s.handleAdminUILogout(w, r)
	case strings.HasPrefix(path, "/admin/ui") && method == http.MethodGet && s.config.EnableAdminUI:
		s.serveAdminUIRoutes(w, r)

	case path == "/.well-known/openid-configuration":
		s.withTenant(s.oidcHandlers.DiscoveryHandler)(w, r)

	case path == "/oauth2/jwks.json":
		s.withTenant(s.oidcHandlers.JWKSHandler)(w, r)

	case path == "/oauth2/authorize" && method == http.MethodGet:
		s.withTenantAndSession(s.oidcHandlers.AuthorizeHandler)(w, r)

	case path == "/login" && method == http.MethodGet:
		s.withTenantAndSession(s.handleLoginPage)(w, r)
	case path == "/login" && method == http.MethodPost:
		s.withTenantAndSession(s.handleLoginSubmit)(w, r)

	case path == "/oauth2/token":
		s.withTenant(s.rateLimited(s.oidcHandlers.TokenHandler))(w, r)

	case path == "/oauth2/userinfo":
		s.withTenant(s.oidcHandlers.UserInfoHandler)(w, r)

	case path == "/oauth2/revoke":
		s.withTenant(s.oidcHandlers.RevokeHandler)(w, r)

	case path == "/oauth2/introspect":
		s.withTenant(s.oidcHandlers.IntrospectHandler)(w, r)

	case path == "/oauth2/logout":
		s.withTenantAndSession(s.oidcHandlers.LogoutHandler)(w, r)

	default:
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
	}
}

func (s *Server) routeAdminTenantPath(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 4 || parts[0] != "admin" || parts[1] != "tenants" {
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
		return
	}

	tenantID := parts[2]
	r.SetPathValue("tenant_id", tenantID)

	switch {
	case len(parts) == 4 && parts[3] == "branding" && r.Method == http.MethodPut:
		s.withAdminAuth(s.adminHandlers.UpdateTenantBranding)(w, r)
		return
	case len(parts) == 4 && parts[3] == "settings" && r.Method == http.MethodPut:
		s.withAdminAuth(s.adminHandlers.UpdateTenantSettings)(w, r)
		return
	case len(parts) == 3 && r.Method == http.MethodGet:
		s.withAdminAuth(s.adminHandlers.GetTenant)(w, r)
		return
	case len(parts) == 3 && r.Method == http.MethodPut:
		s.withAdminAuth(s.adminHandlers.UpdateTenant)(w, r)
		return
	case len(parts) == 3 && r.Method == http.MethodDelete:
		s.withAdminAuth(s.adminHandlers.DeleteTenant)(w, r)
		return
	}

	if len(parts) == 4 && parts[3] == "users" {
		switch r.Method {
		case http.MethodGet:
			s.withAdminAuth(s.adminHandlers.ListUsers)(w, r)
		case http.MethodPost:
			s.withAdminAuth(s.adminHandlers.CreateUser)(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	if len(parts) == 5 && parts[3] == "users" {
		r.SetPathValue("user_id", parts[4])
		switch r.Method {
		case http.MethodGet:
			s.withAdminAuth(s.adminHandlers.GetUser)(w, r)
		case http.MethodPut:
			s.withAdminAuth(s.adminHandlers.UpdateUser)(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	if len(parts) == 6 && parts[3] == "users" && parts[5] == "password" && r.Method == http.MethodPut {
		r.SetPathValue("user_id", parts[4])
		s.withAdminAuth(s.adminHandlers.SetUserPassword)(w, r)
		return
	}

	if len(parts) == 6 && parts[3] == "users" && parts[5] == "suspend" && r.Method == http.MethodPost {
		r.SetPathValue("user_id", parts[4])
		s.withAdminAuth(s.adminHandlers.SuspendUser)(w, r)
		return
	}

	if len(parts) == 6 && parts[3] == "users" && parts[5] == "sessions" && r.Method == http.MethodDelete {
		r.SetPathValue("user_id", parts[4])
		s.withAdminAuth(s.adminHandlers.RevokeUserSessions)(w, r)
		return
	}

	if len(parts) == 7 && parts[3] == "users" && parts[5] == "roles" && r.Method == http.MethodPost {
		r.SetPathValue("user_id", parts[4])
		s.withAdminAuth(s.adminHandlers.AssignRole)(w, r)
		return
	}

	if len(parts) == 7 && parts[3] == "users" && parts[5] == "roles" && r.Method == http.MethodDelete {
		r.SetPathValue("user_id", parts[4])
		r.SetPathValue("role_id", parts[6])
		s.withAdminAuth(s.adminHandlers.RevokeRole)(w, r)
		return
	}

	if len(parts) == 4 && parts[3] == "clients" {
		switch r.Method {
		case http.MethodGet:
			s.withAdminAuth(s.adminHandlers.ListClients)(w, r)
		case http.MethodPost:
			s.withAdminAuth(s.adminHandlers.CreateClient)(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	if len(parts) == 6 && parts[3] == "clients" && parts[5] == "rotate-secret" && r.Method == http.MethodPost {
		r.SetPathValue("client_id", parts[4])
		s.withAdminAuth(s.adminHandlers.RotateClientSecret)(w, r)
		return
	}

	if len(parts) == 4 && parts[3] == "providers" {
		switch r.Method {
		case http.MethodGet:
			s.withAdminAuth(s.adminHandlers.ListProviders)(w, r)
		case http.MethodPost:
			s.withAdminAuth(s.adminHandlers.CreateProvider)(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	if len(parts) == 5 && parts[3] == "providers" && r.Method == http.MethodDelete {
		r.SetPathValue("provider_id", parts[4])
		s.withAdminAuth(s.adminHandlers.DeleteProvider)(w, r)
		return
	}

	if len(parts) == 4 && parts[3] == "roles" {
		switch r.Method {
		case http.MethodGet:
			s.withAdminAuth(s.adminHandlers.ListRoles)(w, r)
		case http.MethodPost:
			s.withAdminAuth(s.adminHandlers.CreateRole)(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	if len(parts) == 5 && parts[3] == "roles" && r.Method == http.MethodDelete {
		r.SetPathValue("role_id", parts[4])
		s.withAdminAuth(s.adminHandlers.DeleteRole)(w, r)
		return
	}

	if len(parts) == 6 && parts[3] == "roles" && parts[5] == "permissions" && r.Method == http.MethodPost {
		r.SetPathValue("role_id", parts[4])
		s.withAdminAuth(s.adminHandlers.GrantPermission)(w, r)
		return
	}

	if len(parts) == 7 && parts[3] == "roles" && parts[5] == "permissions" && r.Method == http.MethodDelete {
		r.SetPathValue("role_id", parts[4])
		r.SetPathValue("permission_id", parts[6])
		s.withAdminAuth(s.adminHandlers.RevokePermission)(w, r)
		return
	}

	if len(parts) == 4 && parts[3] == "permissions" {
		switch r.Method {
		case http.MethodGet:
			s.withAdminAuth(s.adminHandlers.ListPermissions)(w, r)
		case http.MethodPost:
			s.withAdminAuth(s.adminHandlers.CreatePermission)(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
}

func (s *Server) routeRBACPath(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "rbac/check" && r.Method == http.MethodPost:
		s.withTenant(s.handleRBACCheck)(w, r)
	case path == "rbac/check/batch" && r.Method == http.MethodPost:
		s.withTenant(s.handleRBACBatchCheck)(w, r)
	case path == "rbac/permissions" && r.Method == http.MethodGet:
		s.withTenant(s.handleRBACListPermissions)(w, r)
	case path == "rbac/roles" && r.Method == http.MethodGet:
		s.withTenant(s.handleRBACListRoles)(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
	}
}

func (s *Server) handleRBACListPermissions(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	perms, err := s.core.RBACService.ListPermissions(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	data, _ := json.Marshal(perms)
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleRBACListRoles(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant_not_found", "Tenant not found")
		return
	}
	roles, err := s.core.RBACService.ListRoles(r.Context(), tenant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	data, _ := json.Marshal(roles)
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleRBACCheck(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant_not_found", "Tenant not found")
		return
	}
	var req struct {
		UserID     string `json:"user_id"`
		ClientID   string `json:"client_id"`
		Permission string `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}
	allowed, err := s.core.RBACService.Check(r.Context(), tenant.ID, req.UserID, req.ClientID, req.Permission)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	data, _ := json.Marshal(map[string]interface{}{"allowed": allowed})
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleRBACBatchCheck(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant_not_found", "Tenant not found")
		return
	}
	var req struct {
		UserID      string   `json:"user_id"`
		ClientID    string   `json:"client_id"`
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}
	results, err := s.core.RBACService.BatchCheck(r.Context(), tenant.ID, req.UserID, req.ClientID, req.Permissions)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	data, _ := json.Marshal(map[string]interface{}{"results": results})
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) routeSessionPath(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")

	switch {
	case path == "session/accounts" && r.Method == http.MethodGet:
		s.withTenantAndSession(s.handleListAccounts)(w, r)
	case path == "session/switch" && r.Method == http.MethodPost:
		s.withTenantAndSession(s.handleSwitchAccount)(w, r)
	case path == "session/all" && r.Method == http.MethodDelete:
		s.withTenantAndSession(s.handleRemoveAllAccounts)(w, r)
	case path == "session/check" && r.Method == http.MethodGet:
		s.withTenantAndSession(s.handleSessionCheck)(w, r)
	case len(parts) == 3 && parts[0] == "session" && parts[1] == "accounts" && r.Method == http.MethodDelete:
		r.SetPathValue("user_id", parts[2])
		s.withTenantAndSession(s.handleRemoveAccount)(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())
	session, ok := GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "No active session")
		return
	}
	accounts, err := s.core.SessionService.ListAccounts(r.Context(), tenant.ID, session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	data, _ := json.Marshal(map[string]interface{}{"accounts": accounts})
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())
	session, ok := GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "No active session")
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}
	updated, err := s.core.SessionService.SwitchActive(r.Context(), tenant.ID, session.ID, req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.reissueCookie(w, r, tenant.ID, updated)
	data, _ := json.Marshal(updated)
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())
	session, ok := GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "No active session")
		return
	}
	userID := r.PathValue("user_id")
	updated, err := s.core.SessionService.RemoveAccount(r.Context(), tenant.ID, session.ID, userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.reissueCookie(w, r, tenant.ID, updated)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveAllAccounts(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())
	session, ok := GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "No active session")
		return
	}
	if err := s.core.SessionService.RemoveAllAccounts(r.Context(), tenant.ID, session.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{Name: s.sessionMiddleware.cookieName, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionCheck(w http.ResponseWriter, r *http.Request) {
	_, ok := GetSession(r.Context())
	data, _ := json.Marshal(map[string]interface{}{"active": ok})
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) reissueCookie(w http.ResponseWriter, r *http.Request, tenantID string, session *core.Session) {
	if s.sessionMiddleware == nil || session == nil {
		return
	}
	payload := core.SessionCookiePayload{SID: session.ID, TID: tenantID, V: session.Version, IAT: time.Now().Unix()}
	encoded, err := s.core.SessionService.EncodeCookie(r.Context(), payload)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionMiddleware.cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.sessionMiddleware.secure,
		SameSite: s.sessionMiddleware.sameSite,
		MaxAge:   int(s.sessionMiddleware.slidingWindow.Seconds()),
	})
}

func (s *Server) withAdminAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableAdminUI && s.isAdminUIAuthenticated(r) {
			handler(w, r)
			return
		}

		if s.adminMiddleware != nil {
			s.adminMiddleware.Handler(http.HandlerFunc(handler)).ServeHTTP(w, r)
		} else {
			handler(w, r)
		}
	}
}

func (s *Server) withTenant(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tenantMiddleware != nil {
			s.tenantMiddleware.Handler(http.HandlerFunc(handler)).ServeHTTP(w, r)
		} else {
			handler(w, r)
		}
	}
}

func (s *Server) withTenantAndSession(handler http.HandlerFunc) http.HandlerFunc {
	return s.withTenant(func(w http.ResponseWriter, r *http.Request) {
		if s.sessionMiddleware != nil {
			s.sessionMiddleware.Handler(http.HandlerFunc(handler)).ServeHTTP(w, r)
		} else {
			handler(w, r)
		}
	})
}

func (s *Server) rateLimited(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter != nil {
			s.rateLimiter.Handler(http.HandlerFunc(handler)).ServeHTTP(w, r)
		} else {
			handler(w, r)
		}
	}
}

// handleLoginPage renders the hosted login form. The original
// /oauth2/authorize request, if any, arrives url-encoded under the
// "continue" query parameter and round-trips through a hidden field so
// handleLoginSubmit knows where to send the browser back to.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	continuation := r.URL.Query().Get("continue")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Sign in</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 400px; margin: 50px auto; padding: 20px; }
        input { width: 100%%; padding: 10px; margin: 10px 0; box-sizing: border-box; }
        button { width: 100%%; padding: 10px; background: #007bff; color: white; border: none; cursor: pointer; }
        button:hover { background: #0056b3; }
    </style>
</head>
<body>
    <h1>Sign in</h1>
    <form method="POST" action="/login">
        <input type="hidden" name="continue" value="%s">
        <label>Email</label>
        <input type="email" name="email" required>
        <label>Password</label>
        <input type="password" name="password" required>
        <button type="submit">Sign in</button>
    </form>
</body>
</html>`, html.EscapeString(continuation))
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse form")
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	continuation := r.FormValue("continue")

	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant_not_found", "Tenant not found")
		return
	}

	user, err := s.core.UserService.Authenticate(r.Context(), tenant.ID, email, password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	var browserSessionID string
	if session, ok := GetSession(r.Context()); ok {
		browserSessionID = session.ID
	} else {
		browserSession, err := s.core.SessionService.CreateBrowserSession(r.Context(), tenant.ID, r.RemoteAddr, r.UserAgent())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to create session")
			return
		}
		browserSessionID = browserSession.ID
	}

	maxAccounts := s.config.MaxAccountsPerSession
	if tenant.Settings.MaxAccountsPerSession > 0 {
		maxAccounts = tenant.Settings.MaxAccountsPerSession
	}
	_, updated, err := s.core.SessionService.AddAccount(
		r.Context(), tenant.ID, browserSessionID, user.ID, "password", nil, "",
		"", s.config.SessionTTL, maxAccounts,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to establish account session")
		return
	}

	s.reissueCookie(w, r, tenant.ID, updated)

	if continuation == "" {
		continuation = "/oauth2/authorize"
	}
	http.Redirect(w, r, continuation, http.StatusFound)
}

func (s *Server) handleListAdminAuthKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.core.Store.AdminKeys().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	data, _ := json.Marshal(map[string]interface{}{"keys": keys})
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleCreateAdminAuthKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	plaintext := "iamk_" + uuid.New().String()
	key := &core.AdminKey{
		ID:        uuid.New().String(),
		KeyHash:   crypto.HashString(plaintext),
		Name:      req.Name,
		CreatedAt: s.core.Clock.Now(),
	}
	if err := s.core.Store.AdminKeys().Create(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, _ := json.Marshal(map[string]interface{}{"id": key.ID, "name": key.Name, "key": plaintext})
	writeJSON(w, http.StatusCreated, data)
}
