package core

import "errors"

// Domain errors, surfaced to callers verbatim with stable codes.
var (
	ErrClientNotFound         = errors.New("client_not_found")
	ErrClientNameConflict     = errors.New("client_name_conflict")
	ErrInvalidGrantType       = errors.New("invalid_grant_type")
	ErrInvalidScopeFormat     = errors.New("invalid_scope_format")
	ErrInvalidRedirectURI     = errors.New("invalid_redirect_uri")
	ErrMaxAccountsExceeded    = errors.New("max_accounts_exceeded")
	ErrSessionNotFound        = errors.New("session_not_found")
	ErrSessionExpired         = errors.New("session_expired")
	ErrVersionConflict        = errors.New("version_conflict")
	ErrInvalidCookie          = errors.New("invalid_cookie")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrTenantNotFound         = errors.New("tenant_not_found")
	ErrTenantSuspended        = errors.New("tenant_suspended")
	ErrTenantDeleted          = errors.New("tenant_deleted")
	ErrRoleAlreadyAssigned    = errors.New("role_already_assigned")
	ErrRoleNotFound           = errors.New("role_not_found")
	ErrPermissionNotFound     = errors.New("permission_not_found")
	ErrCannotDeleteSystemRole = errors.New("cannot_delete_system_role")
	ErrInvalidInput           = errors.New("invalid_input")
	ErrProviderNotFound       = errors.New("provider_not_found")
	ErrProviderExists         = errors.New("provider_exists")
	ErrEncryption             = errors.New("encryption_error")
	ErrInvalidCredentials     = errors.New("invalid_credentials")
	ErrUserNotFound           = errors.New("user_not_found")
	ErrUserSuspended          = errors.New("user_suspended")

	// OAuth errors (RFC 6749 / OIDC) — returned to the token/authorize
	// endpoints as the `error` field verbatim.
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrInvalidClient       = errors.New("invalid_client")
	ErrInvalidGrant        = errors.New("invalid_grant")
	ErrUnauthorizedClient  = errors.New("unauthorized_client")
	ErrUnsupportedGrant    = errors.New("unsupported_grant_type")
	ErrInvalidScope        = errors.New("invalid_scope")
	ErrLoginRequired       = errors.New("login_required")

	// Infrastructure / circuit breaker
	ErrCircuitOpen = errors.New("circuit_open")

	// Auth middleware
	ErrMissingToken       = errors.New("missing_token")
	ErrInvalidToken       = errors.New("invalid_token")
	ErrInsufficientScope  = errors.New("insufficient_scope")
	ErrRateLimitExceeded  = errors.New("rate_limit_exceeded")

	ErrNotImplemented = errors.New("not_implemented")
)

// ErrorClass categorizes an infrastructure error for the circuit breaker
// and retry policy (auth/client).
type ErrorClass int

const (
	// ClassPermanent is what ClassifyError returns for a nil error; no
	// non-nil error is classified as permanent.
	ClassPermanent ErrorClass = iota
	// ClassTransient errors are retried with backoff (timeout/connection/5xx).
	ClassTransient
	// ClassDomain errors are never wrapped or retried; they are domain
	// errors like ErrClientNotFound / ErrClientNameConflict.
	ClassDomain
)

// domainErrors lists the well-known domain errors a retry can never fix.
var domainErrors = []error{
	ErrClientNotFound, ErrClientNameConflict, ErrInvalidClient, ErrInvalidInput,
	ErrInvalidGrantType, ErrInvalidScopeFormat, ErrInvalidRedirectURI,
	ErrTenantNotFound, ErrTenantSuspended, ErrTenantDeleted,
	ErrRoleAlreadyAssigned, ErrRoleNotFound, ErrPermissionNotFound, ErrCannotDeleteSystemRole,
	ErrProviderNotFound, ErrProviderExists,
	ErrInvalidCredentials, ErrUserNotFound, ErrUserSuspended,
}

// ClassifyError reports the ErrorClass of err for the circuit breaker and
// retry policy: domain errors stop retrying immediately, anything else is
// treated as transient infrastructure failure.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}
	for _, domainErr := range domainErrors {
		if errors.Is(err, domainErr) {
			return ClassDomain
		}
	}
	return ClassTransient
}

// IsDomainError reports whether err is a known domain error that should
// never be retried.
func IsDomainError(err error) bool {
	return ClassifyError(err) == ClassDomain
}
