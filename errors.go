package goAccess

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goAccess/internal/stores"
)

var (
	// ErrInvalidRequest is returned when a request is missing or repeats a required parameter.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidClient is returned when the client is unknown, inactive or fails authentication.
	ErrInvalidClient = errors.New("invalid client")
	// ErrInvalidGrant covers every rejected authorization code. The precise
	// cause is logged, never returned to the caller.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrUnsupportedGrantType is returned for any grant_type other than authorization_code.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")
	// ErrUnsupportedResponseType is returned for any response_type other than code.
	ErrUnsupportedResponseType = errors.New("unsupported response type")
	// ErrInvalidScope is returned when a requested scope is not allowed for the client.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrRedirectURIMismatch is returned when redirect_uri is not registered for the client.
	ErrRedirectURIMismatch = errors.New("redirect uri mismatch")
	// ErrAccessDenied is returned when the user may not authorize the client or declined.
	ErrAccessDenied = errors.New("access denied")
	// ErrLoginRequired is returned by the authorize step when no user is signed in.
	ErrLoginRequired = errors.New("login required")
	// ErrConsentNotFound is returned when a consent id is unknown, expired or already decided.
	ErrConsentNotFound = errors.New("consent request not found")
	// ErrTokenInvalid is returned when an access token fails verification for any reason.
	ErrTokenInvalid = errors.New("invalid token")

	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrInvalidAPIKey is the gate's rejection of an unknown key or one
	// holding no permissions. It matches ErrForbidden.
	ErrInvalidAPIKey = fmt.Errorf("%w: invalid api key", ErrForbidden)
	// ErrInsufficientPermissions is the gate's rejection of a key lacking
	// every required permission. It matches ErrForbidden.
	ErrInsufficientPermissions = fmt.Errorf("%w: insufficient permissions", ErrForbidden)

	// ErrSelfModification is returned when an admin targets their own grants or record.
	ErrSelfModification = errors.New("admins cannot modify their own permissions")
	// ErrSystemAdminProtected is returned when the target is the system admin.
	ErrSystemAdminProtected = errors.New("system admin cannot be modified")
	// ErrPermissionDenied is returned when the actor lacks the permission for an admin action.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidPermission is returned for a malformed grant or an unregistered API-key permission.
	ErrInvalidPermission = errors.New("invalid permission")
	// ErrInvalidRateLimit is returned for a per-key rate outside 0..MaxRPM.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	ErrClientNotFound = errors.New("client not found")
	ErrAdminNotFound  = errors.New("admin not found")
	ErrAdminExists    = errors.New("admin already exists")
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrBackendUnavailable wraps collaborator and Redis failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by methods on a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Causes reported by VerifyAndConsume. ExchangeCodeForToken logs them and
// returns ErrInvalidGrant instead.
var (
	ErrCodeNotFound         = stores.ErrCodeNotFound
	ErrCodeAlreadyUsed      = stores.ErrCodeAlreadyUsed
	ErrCodeExpired          = stores.ErrCodeExpired
	ErrCodeRevoked          = stores.ErrCodeRevoked
	ErrCodeClientMismatch   = stores.ErrCodeClientMismatch
	ErrCodeRedirectMismatch = stores.ErrCodeRedirectMismatch
)

// OAuth error codes written on the wire.
const (
	OAuthErrInvalidRequest          = "invalid_request"
	OAuthErrInvalidClient           = "invalid_client"
	OAuthErrInvalidGrant            = "invalid_grant"
	OAuthErrUnsupportedGrantType    = "unsupported_grant_type"
	OAuthErrUnsupportedResponseType = "unsupported_response_type"
	OAuthErrInvalidScope            = "invalid_scope"
	OAuthErrAccessDenied            = "access_denied"
	OAuthErrInvalidToken            = "invalid_token"
	OAuthErrServerError             = "server_error"
	OAuthErrTemporarilyUnavailable  = "temporarily_unavailable"
)

// OAuthErrorCode maps an engine error to its OAuth wire code.
func OAuthErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrRedirectURIMismatch),
		errors.Is(err, ErrConsentNotFound):
		return OAuthErrInvalidRequest
	case errors.Is(err, ErrInvalidClient), errors.Is(err, ErrClientNotFound):
		return OAuthErrInvalidClient
	case errors.Is(err, ErrInvalidGrant),
		errors.Is(err, ErrCodeNotFound),
		errors.Is(err, ErrCodeAlreadyUsed),
		errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrCodeRevoked),
		errors.Is(err, ErrCodeClientMismatch),
		errors.Is(err, ErrCodeRedirectMismatch):
		return OAuthErrInvalidGrant
	case errors.Is(err, ErrUnsupportedGrantType):
		return OAuthErrUnsupportedGrantType
	case errors.Is(err, ErrUnsupportedResponseType):
		return OAuthErrUnsupportedResponseType
	case errors.Is(err, ErrInvalidScope):
		return OAuthErrInvalidScope
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrLoginRequired):
		return OAuthErrAccessDenied
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrUnauthorized):
		return OAuthErrInvalidToken
	case errors.Is(err, ErrBackendUnavailable):
		return OAuthErrTemporarilyUnavailable
	default:
		return OAuthErrServerError
	}
}
