package http

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/crypto"
	"golang.org/x/time/rate"
)

// contextKey is a type for context keys
type contextKey string

const (
	// ContextKeyTenant stores the tenant in the request context
	ContextKeyTenant contextKey = "tenant"
	// ContextKeySession stores the session in the request context
	ContextKeySession contextKey = "session"
	// ContextKeyUser stores the user in the request context
	ContextKeyUser contextKey = "user"
)

// TenantMiddleware resolves the tenant from the host, path, and
// X-Tenant-ID/tenant_id overrides.
type TenantMiddleware struct {
	resolver core.TenantResolver
}

// NewTenantMiddleware creates a new tenant middleware
func NewTenantMiddleware(resolver core.TenantResolver) *TenantMiddleware {
	return &TenantMiddleware{resolver: resolver}
}

// Handler wraps an http.Handler with tenant resolution
func (m *TenantMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := m.resolver.ResolveTenant(r.Context(), r.Host, r.URL.Path, r.Header.Get("X-Tenant-ID"), r.URL.Query().Get("tenant"))
		if err != nil {
			writeError(w, http.StatusNotFound, "tenant_not_found", err.Error())
			return
		}
		if tenant.Status == "suspended" {
			writeError(w, http.StatusForbidden, "tenant_suspended", "Tenant is suspended")
			return
		}
		if tenant.Status == "deleted" {
			writeError(w, http.StatusNotFound, "tenant_not_found", "Tenant not found")
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyTenant, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenant retrieves the tenant from the request context
func GetTenant(ctx context.Context) (*core.Tenant, bool) {
	tenant, ok := ctx.Value(ContextKeyTenant).(*core.Tenant)
	return tenant, ok
}

// AdminAuthMiddleware validates admin API keys against the configured
// bootstrap key or a stored, hashed key.
type AdminAuthMiddleware struct {
	keys      core.AdminKeyStore
	configKey string
}

// NewAdminAuthMiddleware creates a new admin auth middleware
func NewAdminAuthMiddleware(keys core.AdminKeyStore, configKey string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{keys: keys, configKey: configKey}
}

// Handler wraps an http.Handler with admin key validation
func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Admin-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing API key")
			return
		}

		if m.configKey != "" && apiKey == m.configKey {
			next.ServeHTTP(w, r)
			return
		}

		keyHash := crypto.HashString(apiKey)
		if _, err := m.keys.GetByHash(r.Context(), keyHash); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SessionMiddleware decodes and validates the session cookie, sliding the
// window and reissuing the cookie when the session service says to.
type SessionMiddleware struct {
	sessions      core.SessionService
	cookieName    string
	slidingWindow time.Duration
	secure        bool
	sameSite      http.SameSite
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(sessions core.SessionService, cookieName string, slidingWindow time.Duration, secure bool, sameSite http.SameSite) *SessionMiddleware {
	return &SessionMiddleware{
		sessions:      sessions,
		cookieName:    cookieName,
		slidingWindow: slidingWindow,
		secure:        secure,
		sameSite:      sameSite,
	}
}

// Handler wraps an http.Handler with session validation. A missing or
// invalid cookie is not an error here; handlers that require a session
// check GetSession themselves.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := GetTenant(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		payload, err := m.sessions.DecodeCookie(r.Context(), cookie.Value)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		session, reissue, err := m.sessions.Validate(r.Context(), tenant.ID, payload, m.slidingWindow)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		if reissue {
			newPayload := core.SessionCookiePayload{SID: session.ID, TID: tenant.ID, V: session.Version, IAT: time.Now().Unix()}
			if encoded, err := m.sessions.EncodeCookie(r.Context(), newPayload); err == nil {
				http.SetCookie(w, &http.Cookie{
					Name:     m.cookieName,
					Value:    encoded,
					Path:     "/",
					HttpOnly: true,
					Secure:   m.secure,
					SameSite: m.sameSite,
					MaxAge:   int(m.slidingWindow.Seconds()),
				})
			}
		}

		ctx := context.WithValue(r.Context(), ContextKeySession, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession retrieves the session from the request context
func GetSession(ctx context.Context) (*core.Session, bool) {
	session, ok := ctx.Value(ContextKeySession).(*core.Session)
	return session, ok
}

// BearerAuthMiddleware validates an access token and, when permissions
// are configured, enforces that the token's permissions claim covers
// them.
type BearerAuthMiddleware struct {
	keyManager          core.KeyManager
	requiredPermissions []string
}

// NewBearerAuthMiddleware creates a new bearer-token middleware.
func NewBearerAuthMiddleware(keyManager core.KeyManager, requiredPermissions ...string) *BearerAuthMiddleware {
	return &BearerAuthMiddleware{keyManager: keyManager, requiredPermissions: requiredPermissions}
}

// Handler wraps an http.Handler, rejecting requests without a valid
// bearer token or with insufficient scope/permissions.
func (m *BearerAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if len(auth) < len("Bearer ") || !strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing_token", core.ErrMissingToken.Error())
			return
		}

		tenant, ok := GetTenant(r.Context())
		if !ok {
			writeError(w, http.StatusBadRequest, "tenant_not_found", "Tenant not found")
			return
		}

		token := auth[len("Bearer "):]
		claims, err := m.keyManager.Verify(r.Context(), tenant.ID, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", core.ErrInvalidToken.Error())
			return
		}

		for _, required := range m.requiredPermissions {
			if !containsString(claims.Permissions, required) {
				writeError(w, http.StatusForbidden, "insufficient_scope", core.ErrInsufficientScope.Error())
				return
			}
		}

		ctx := context.WithValue(r.Context(), ContextKeyUser, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims retrieves verified token claims from the request context.
func GetClaims(ctx context.Context) (*core.TokenClaims, bool) {
	claims, ok := ctx.Value(ContextKeyUser).(*core.TokenClaims)
	return claims, ok
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

// RateLimitMiddleware applies a per-client-IP token-bucket limit.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimitMiddleware creates a rate limiter allowing rps requests
// per second per client IP, with the given burst.
func NewRateLimitMiddleware(rps float64, burst int) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (m *RateLimitMiddleware) limiterFor(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(m.rps, m.burst)
		m.limiters[key] = l
	}
	return l
}

// Handler wraps an http.Handler, returning 429 with a Retry-After header
// (seconds until the next token) once a client's bucket is exhausted.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !m.limiterFor(key).Allow() {
			retryAfter := 1
			if m.rps > 0 {
				retryAfter = int(math.Ceil(1 / float64(m.rps)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", core.ErrRateLimitExceeded.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

// LoggingMiddleware logs HTTP requests with structured fields via the
// slog logger it's constructed with.
type LoggingMiddleware struct {
	logger Logger
}

// Logger is the minimal structured-logging surface request logging needs.
// Satisfied by *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
}

// NewLoggingMiddleware creates a request-logging middleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Handler wraps an http.Handler with request/response logging.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.logger.Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// CORSMiddleware handles CORS headers
type CORSMiddleware struct {
	allowedOrigins []string
}

// NewCORSMiddleware creates a new CORS middleware
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

// Handler wraps an http.Handler with CORS headers
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range m.allowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key, X-Tenant-ID")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper functions

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error": %q, "error_description": %q}`, code, description)
}

func writeJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
