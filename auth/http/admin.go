package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nebularis/iam/auth/core"
)

// AdminHandlers implements the expanded admin API surface: tenants,
// clients, providers, users, and RBAC management.
type AdminHandlers struct {
	store      core.Store
	keyManager core.KeyManager
	auditSink  core.AuditSink
	clock      core.Clock
	clients    core.ClientService
	providers  core.ProviderService
	users      core.UserService
	rbac       core.RBACService
	sessions   core.SessionService
}

// NewAdminHandlers creates new admin handlers.
func NewAdminHandlers(store core.Store, keyManager core.KeyManager, auditSink core.AuditSink, clock core.Clock, clients core.ClientService, providers core.ProviderService, users core.UserService, rbac core.RBACService, sessions core.SessionService) *AdminHandlers {
	return &AdminHandlers{
		store:      store,
		keyManager: keyManager,
		auditSink:  auditSink,
		clock:      clock,
		clients:    clients,
		providers:  providers,
		users:      users,
		rbac:       rbac,
		sessions:   sessions,
	}
}

func (h *AdminHandlers) audit(r *http.Request, tenantID, eventType string, data map[string]interface{}) {
	if h.auditSink == nil {
		return
	}
	h.auditSink.Log(r.Context(), &core.AuditEvent{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ActorType: "admin",
		Type:      eventType,
		CreatedAt: h.clock.Now(),
		Data:      data,
	})
}

func pageParams(r *http.Request) (limit int, cursor string) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	cursor = r.URL.Query().Get("cursor")
	return
}

// HealthHandler handles health checks.
func (h *AdminHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"version": "0.1.0",
		"time":    h.clock.Now(),
	}
	data, _ := json.Marshal(health)
	writeJSON(w, http.StatusOK, data)
}

// --- Tenants ---

func (h *AdminHandlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit, cursor := pageParams(r)
	var status *string
	if s := r.URL.Query().Get("status"); s != "" {
		status = &s
	}

	tenants, nextCursor, err := h.store.Tenants().List(r.Context(), status, limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := map[string]interface{}{"tenants": tenants, "next_cursor": nextCursor}
	data, _ := json.Marshal(resp)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	tenant := &core.Tenant{
		ID:        uuid.New().String(),
		Slug:      req.Slug,
		Name:      req.Name,
		Status:    "active",
		Settings:  core.DefaultTenantSettings(),
		CreatedAt: h.clock.Now(),
	}

	if err := h.store.Tenants().Create(r.Context(), tenant); err != nil {
		writeError(w, http.StatusConflict, "conflict", "Tenant already exists")
		return
	}

	if _, err := h.keyManager.GenerateKey(r.Context(), tenant.ID); err != nil {
		h.audit(r, tenant.ID, "tenant_signing_key_generation_failed", map[string]interface{}{"error": err.Error()})
	}

	h.audit(r, tenant.ID, "tenant_created", map[string]interface{}{"tenant_id": tenant.ID, "slug": tenant.Slug})

	data, _ := json.Marshal(tenant)
	writeJSON(w, http.StatusCreated, data)
}

func (h *AdminHandlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	tenant, err := h.store.Tenants().GetByID(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Tenant not found")
		return
	}
	data, _ := json.Marshal(tenant)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var req struct {
		Name   *string `json:"name"`
		Status *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	tenant, err := h.store.Tenants().GetByID(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Tenant not found")
		return
	}

	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Status != nil {
		tenant.Status = *req.Status
	}

	if err := h.store.Tenants().Update(r.Context(), tenant); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, _ := json.Marshal(tenant)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) UpdateTenantBranding(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var branding core.TenantBranding
	if err := json.NewDecoder(r.Body).Decode(&branding); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	tenant, err := h.store.Tenants().GetByID(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Tenant not found")
		return
	}
	tenant.Branding = branding
	if err := h.store.Tenants().Update(r.Context(), tenant); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, _ := json.Marshal(tenant)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) UpdateTenantSettings(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var settings core.TenantSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	tenant, err := h.store.Tenants().GetByID(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Tenant not found")
		return
	}
	tenant.Settings = settings
	if err := h.store.Tenants().Update(r.Context(), tenant); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, _ := json.Marshal(tenant)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	if err := h.store.Tenants().SoftDelete(r.Context(), tenantID, h.clock.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	h.audit(r, tenantID, "tenant_deleted", map[string]interface{}{"tenant_id": tenantID})
	w.WriteHeader(http.StatusNoContent)
}

// --- Users ---

func (h *AdminHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	limit, cursor := pageParams(r)

	users, nextCursor, err := h.store.Users().List(r.Context(), tenantID, limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := map[string]interface{}{"users": users, "next_cursor": nextCursor}
	data, _ := json.Marshal(resp)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	user, err := h.users.Create(r.Context(), tenantID, req.Email, req.DisplayName)
	if err != nil {
		writeError(w, http.StatusConflict, "conflict", "User already exists")
		return
	}

	data, _ := json.Marshal(user)
	writeJSON(w, http.StatusCreated, data)
}

func (h *AdminHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	userID := r.PathValue("user_id")

	user, err := h.store.Users().GetByID(r.Context(), tenantID, userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	data, _ := json.Marshal(user)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	userID := r.PathValue("user_id")

	var req struct {
		DisplayName           *string `json:"display_name"`
		Status                *string `json:"status"`
		EmailVerified         *bool   `json:"email_verified"`
		PasswordResetRequired *bool   `json:"password_reset_required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	user, err := h.store.Users().GetByID(r.Context(), tenantID, userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	if req.DisplayName != nil {
		user.DisplayName = req.DisplayName
	}
	if req.Status != nil {
		user.Status = *req.Status
	}
	if req.EmailVerified != nil {
		user.EmailVerified = *req.EmailVerified
	}
	if req.PasswordResetRequired != nil {
		user.PasswordResetRequired = *req.PasswordResetRequired
	}

	now := h.clock.Now()
	user.UpdatedAt = &now

	if err := h.store.Users().Update(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, _ := json.Marshal(user)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) SuspendUser(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	userID := r.PathValue("user_id")

	revoked, err := h.users.Suspend(r.Context(), tenantID, userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}

	h.audit(r, tenantID, "user_suspended", map[string]interface{}{"user_id": userID, "revoked_sessions": revoked})

	data, _ := json.Marshal(map[string]interface{}{"revoked_sessions": revoked})
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) SetUserPassword(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	userID := r.PathValue("user_id")

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	if err := h.users.SetPassword(r.Context(), tenantID, userID, req.Password); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Clients ---

func (h *AdminHandlers) ListClients(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	limit, cursor := pageParams(r)

	clients, nextCursor, err := h.clients.List(r.Context(), tenantID, limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := map[string]interface{}{"clients": clients, "next_cursor": nextCursor}
	data, _ := json.Marshal(resp)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) CreateClient(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var req struct {
		Name                   string   `json:"name"`
		RedirectURIs           []string `json:"redirect_uris"`
		PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris"`
		GrantTypes             []string `json:"grant_types"`
		ResponseTypes          []string `json:"response_types"`
		Scopes                 []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	client := &core.Client{
		ID:                     uuid.New().String(),
		TenantID:               tenantID,
		Name:                   req.Name,
		ClientID:               uuid.New().String(),
		RedirectURIs:           req.RedirectURIs,
		PostLogoutRedirectURIs: req.PostLogoutRedirectURIs,
		GrantTypes:             req.GrantTypes,
		ResponseTypes:          req.ResponseTypes,
		Scopes:                 req.Scopes,
		Enabled:                true,
		CreatedAt:              h.clock.Now(),
	}

	if err := h.clients.Create(r.Context(), client); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	plaintext, err := h.clients.RotateSecret(r.Context(), tenantID, client.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	h.audit(r, tenantID, "client_created", map[string]interface{}{"client_id": client.ID})

	data, _ := json.Marshal(map[string]interface{}{"client": client, "secret": plaintext})
	writeJSON(w, http.StatusCreated, data)
}

func (h *AdminHandlers) RotateClientSecret(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	clientID := r.PathValue("client_id")

	plaintext, err := h.clients.RotateSecret(r.Context(), tenantID, clientID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	h.audit(r, tenantID, "client_secret_rotated", map[string]interface{}{"client_id": clientID})

	data, _ := json.Marshal(map[string]interface{}{"secret": plaintext})
	writeJSON(w, http.StatusOK, data)
}

// --- Providers ---

func (h *AdminHandlers) ListProviderTypes(w http.ResponseWriter, r *http.Request) {
	types := h.providers.ListTypes(r.Context())
	data, _ := json.Marshal(map[string]interface{}{"types": types})
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	providers, err := h.providers.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, _ := json.Marshal(map[string]interface{}{"providers": providers})
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) CreateProvider(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var req struct {
		Type        string                 `json:"type"`
		Name        string                 `json:"name"`
		DisplayName string                 `json:"display_name"`
		ClientID    string                 `json:"client_id"`
		Secret      string                 `json:"secret"`
		Config      map[string]interface{} `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	provider := &core.Provider{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Type:        req.Type,
		Name:        req.Name,
		DisplayName: req.DisplayName,
		ClientID:    req.ClientID,
		Config:      req.Config,
		Enabled:     true,
		CreatedAt:   h.clock.Now(),
	}

	if err := h.providers.Create(r.Context(), provider, req.Secret); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	h.audit(r, tenantID, "provider_created", map[string]interface{}{"provider_id": provider.ID})

	data, _ := json.Marshal(provider)
	writeJSON(w, http.StatusCreated, data)
}

func (h *AdminHandlers) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	providerID := r.PathValue("provider_id")

	if err := h.providers.Delete(r.Context(), tenantID, providerID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- RBAC ---

func (h *AdminHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	role := &core.Role{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   h.clock.Now(),
	}
	if err := h.rbac.CreateRole(r.Context(), role); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	data, _ := json.Marshal(role)
	writeJSON(w, http.StatusCreated, data)
}

func (h *AdminHandlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	roleID := r.PathValue("role_id")

	if err := h.rbac.DeleteRole(r.Context(), tenantID, roleID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	userID := r.PathValue("user_id")

	var req struct {
		RoleID     string     `json:"role_id"`
		AssignedBy string     `json:"assigned_by"`
		ExpiresAt  *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	if err := h.rbac.AssignRole(r.Context(), tenantID, userID, req.RoleID, req.AssignedBy, req.ExpiresAt); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	userID := r.PathValue("user_id")
	roleID := r.PathValue("role_id")

	if err := h.rbac.RevokeRole(r.Context(), tenantID, userID, roleID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	roles, err := h.rbac.ListRoles(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, _ := json.Marshal(roles)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")

	var req struct {
		ClientID    string  `json:"client_id"`
		Resource    string  `json:"resource"`
		Action      string  `json:"action"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	perm := &core.Permission{
		ID:          uuid.New().String(),
		ClientID:    req.ClientID,
		Name:        req.Resource + ":" + req.Action,
		Resource:    req.Resource,
		Action:      req.Action,
		Description: req.Description,
		CreatedAt:   h.clock.Now(),
	}
	if err := h.rbac.CreatePermission(r.Context(), perm); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	h.audit(r, tenantID, "permission_created", map[string]interface{}{"permission_id": perm.ID})

	data, _ := json.Marshal(perm)
	writeJSON(w, http.StatusCreated, data)
}

func (h *AdminHandlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")

	perms, err := h.rbac.ListPermissions(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, _ := json.Marshal(perms)
	writeJSON(w, http.StatusOK, data)
}

func (h *AdminHandlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	roleID := r.PathValue("role_id")

	var req struct {
		PermissionID string `json:"permission_id"`
		GrantedBy    string `json:"granted_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	if err := h.rbac.GrantPermission(r.Context(), tenantID, roleID, req.PermissionID, req.GrantedBy); err != nil {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	h.audit(r, tenantID, "permission_granted", map[string]interface{}{"role_id": roleID, "permission_id": req.PermissionID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	roleID := r.PathValue("role_id")
	permissionID := r.PathValue("permission_id")

	if err := h.rbac.RevokePermission(r.Context(), tenantID, roleID, permissionID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Session administration ---

func (h *AdminHandlers) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	userID := r.PathValue("user_id")

	n, err := h.sessions.RevokeUserSessions(r.Context(), tenantID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	h.audit(r, tenantID, "sessions_revoked", map[string]interface{}{"user_id": userID, "count": n})

	data, _ := json.Marshal(map[string]interface{}{"revoked_sessions": n})
	writeJSON(w, http.StatusOK, data)
}
