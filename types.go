package goAccess

import (
	"context"
	"slices"
	"time"

	"github.com/MrEthical07/goAccess/permission"
)

// Client is a registered OAuth application.
type Client struct {
	ID   string
	Name string
	// SecretHash is an argon2id PHC string; the plaintext secret is shown
	// once at registration or regeneration.
	SecretHash    string
	RedirectURIs  []string
	AllowedScopes []string
	// AllowAnyone lets every signed-in user authorize the client. Otherwise
	// only active admins holding app read on this client may.
	AllowAnyone bool
	Active      bool
	CreatedBy   string
	CreatedAt   time.Time
}

// HasRedirectURI reports an exact, case-sensitive match against the
// registered set.
func (c *Client) HasRedirectURI(uri string) bool {
	return uri != "" && slices.Contains(c.RedirectURIs, uri)
}

// AllowsScopes reports whether every scope is in AllowedScopes.
func (c *Client) AllowsScopes(scopes []string) bool {
	for _, s := range scopes {
		if !slices.Contains(c.AllowedScopes, s) {
			return false
		}
	}
	return true
}

// Admin is an administrator record. The admin with the lowest Seq is the
// system admin.
type Admin struct {
	Email     string
	AddedBy   string
	Active    bool
	Seq       int64
	CreatedAt time.Time
}

// APIKey is a machine credential. Only KeyHash (SHA-256 hex) is stored.
type APIKey struct {
	ID           string
	Name         string
	KeyHash      string
	Permissions  []string
	RateLimitRPM int
	CreatedBy    string
	CreatedAt    time.Time
	LastUsedAt   time.Time
}

// APIKeyUsage is one admitted API-key request.
type APIKeyUsage struct {
	KeyID    string
	Action   string
	Endpoint string
	Method   string
	IP       string
	At       time.Time
}

// ClientRegistry resolves OAuth clients. GetClient returns ErrClientNotFound
// for unknown ids.
type ClientRegistry interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	CreateClient(ctx context.Context, client *Client) error
	UpdateClientSecret(ctx context.Context, clientID, secretHash string) error
}

// AdminStore persists admin records. SystemAdmin returns the earliest
// created admin, or ErrAdminNotFound when there are none.
type AdminStore interface {
	GetAdmin(ctx context.Context, email string) (*Admin, error)
	SystemAdmin(ctx context.Context) (*Admin, error)
	AddAdmin(ctx context.Context, email, addedBy string) (*Admin, error)
	SetAdminActive(ctx context.Context, email string, active bool) error
	ListAdmins(ctx context.Context) ([]Admin, error)
}

// GrantStore persists permission grants. AddGrant is idempotent on
// (admin, type, value, level).
type GrantStore interface {
	ListGrants(ctx context.Context, email string) ([]permission.Grant, error)
	AddGrant(ctx context.Context, grant permission.Grant) error
	RemoveGrant(ctx context.Context, email string, typ permission.ResourceType, value string, level permission.Level) (bool, error)
	ReplaceGrants(ctx context.Context, email string, grants []permission.Grant) error
}

// APIKeyStore persists API keys and their usage log.
type APIKeyStore interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	CreateAPIKey(ctx context.Context, key *APIKey) error
	UpdateAPIKey(ctx context.Context, key *APIKey) error
	DeleteAPIKey(ctx context.Context, id string) error
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	LogUsage(ctx context.Context, usage APIKeyUsage) error
	// ListUsage returns keyID's usage records, newest first. A limit <= 0
	// returns all of them.
	ListUsage(ctx context.Context, keyID string, limit int) ([]APIKeyUsage, error)
}

// AuthorizeRequest is the query of GET /oauth/authorize.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
	// Subject is the signed-in user, resolved by the host application.
	Subject string
}

// ConsentPrompt describes a validated authorization request awaiting the
// user's decision.
type ConsentPrompt struct {
	ConsentID   string   `json:"consent_id"`
	ClientID    string   `json:"client_id"`
	ClientName  string   `json:"client_name"`
	Scopes      []string `json:"scopes"`
	RedirectURI string   `json:"redirect_uri"`
	State       string   `json:"state,omitempty"`
}

// ConsentDecision is the outcome of a consent submission. RedirectURL is
// set for both approvals and denials; Code only on approval.
type ConsentDecision struct {
	RedirectURL string
	Code        string
	Approved    bool
}

// CodeGrant is what a redeemed authorization code carries.
type CodeGrant struct {
	ClientID    string
	Subject     string
	RedirectURI string
	Scope       []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// ClientRegistration describes a new OAuth client.
type ClientRegistration struct {
	Name          string   `json:"name" validate:"required,max=128"`
	RedirectURIs  []string `json:"redirect_uris" validate:"required,min=1,dive,url"`
	AllowedScopes []string `json:"allowed_scopes"`
	AllowAnyone   bool     `json:"allow_anyone"`
	CreatedBy     string   `json:"-"`
}

// TokenRequest is the form body of POST /oauth/token.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	// Scope is accepted and ignored; the token always carries the code's scope.
	Scope string
}

// TokenResponse is the success body of POST /oauth/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// TokenInfo is what a verified access token grants.
type TokenInfo struct {
	TokenID   string
	Subject   string
	ClientID  string
	Scope     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasScope reports whether the token carries scope.
func (t *TokenInfo) HasScope(scope string) bool {
	return t != nil && slices.Contains(t.Scope, scope)
}

// GateRequest is one API-key protected call.
type GateRequest struct {
	// Credential is the raw bearer value.
	Credential string
	// Required lists the permissions the endpoint accepts; holding any one
	// is enough.
	Required []string
	Action   string
	Endpoint string
	Method   string
	IP       string
}

// GateResult describes an admitted API-key request.
type GateResult struct {
	KeyID       string
	KeyName     string
	Permissions []string
	Rate        RateInfo
}

// RateInfo is the client-visible state of a key's window.
type RateInfo struct {
	Unlimited bool
	Limit     int
	Count     int
	Remaining int
	ResetAt   time.Time
}

// APIKeySpec describes a key to create. A nil RateLimitRPM takes
// RateLimit.DefaultRPM; zero means unlimited.
type APIKeySpec struct {
	Name         string   `json:"name" validate:"required,max=128"`
	Permissions  []string `json:"permissions" validate:"required,min=1,dive,required"`
	RateLimitRPM *int     `json:"rate_limit_rpm,omitempty" validate:"omitempty,min=0,max=10000"`
}

// APIKeyUpdate changes the non-nil fields of a key.
type APIKeyUpdate struct {
	Name         *string  `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	Permissions  []string `json:"permissions,omitempty" validate:"omitempty,min=1,dive,required"`
	RateLimitRPM *int     `json:"rate_limit_rpm,omitempty" validate:"omitempty,min=0,max=10000"`
}

// IssuedAPIKey is returned once when a key is created. Secret is never
// retrievable again.
type IssuedAPIKey struct {
	Key    APIKey
	Secret string
}
