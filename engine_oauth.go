package goAccess

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goAccess/internal"
	"github.com/MrEthical07/goAccess/internal/stores"
	"github.com/MrEthical07/goAccess/jwt"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/google/uuid"
)

const (
	responseTypeCode       = "code"
	grantTypeAuthorization = "authorization_code"
	tokenTypeBearer        = "Bearer"
)

// Authorize validates an authorization request and parks it as a pending
// consent. Checks run in order: required parameters, response type, client,
// redirect URI, scope, signed-in user, then the user's access to the client.
//
// Errors before the redirect URI is validated must not be sent back to it.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (*ConsentPrompt, error) {
	if e == nil || e.consents == nil {
		return nil, ErrEngineNotReady
	}

	prompt, err := e.authorize(ctx, req)
	switch {
	case err == nil:
		e.metricInc(MetricAuthorizeSuccess)
	case errors.Is(err, ErrLoginRequired):
		e.metricInc(MetricLoginRequired)
	default:
		e.metricInc(MetricAuthorizeFailure)
	}
	e.emitAudit(ctx, auditEventAuthorize, err == nil, auditRecord{Subject: req.Subject, ClientID: req.ClientID}, err, nil)
	return prompt, err
}

func (e *Engine) authorize(ctx context.Context, req AuthorizeRequest) (*ConsentPrompt, error) {
	if req.ClientID == "" || req.RedirectURI == "" || req.ResponseType == "" {
		return nil, fmt.Errorf("%w: client_id, redirect_uri and response_type are required", ErrInvalidRequest)
	}
	if req.ResponseType != responseTypeCode {
		return nil, ErrUnsupportedResponseType
	}

	client, err := e.activeClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return nil, ErrRedirectURIMismatch
	}

	scopes := parseScope(req.Scope)
	if len(scopes) == 0 {
		scopes = append([]string(nil), e.config.OAuth.DefaultScope...)
	}
	if !client.AllowsScopes(scopes) {
		return nil, ErrInvalidScope
	}

	if req.Subject == "" {
		return nil, ErrLoginRequired
	}
	ok, err := e.canAuthorizeClient(ctx, req.Subject, client)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessDenied
	}

	consentID, err := internal.NewConsentID()
	if err != nil {
		return nil, err
	}
	err = e.consents.Save(ctx, consentID, &stores.PendingConsent{
		ClientID:    client.ID,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Subject:     req.Subject,
		Scope:       scopes,
	}, e.config.OAuth.ConsentTTL)
	if err != nil {
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return &ConsentPrompt{
		ConsentID:   consentID,
		ClientID:    client.ID,
		ClientName:  client.Name,
		Scopes:      scopes,
		RedirectURI: req.RedirectURI,
		State:       req.State,
	}, nil
}

// DecideConsent applies the user's decision on a pending consent. The
// client's status and the user's access are checked again because either
// may have changed since the prompt was shown.
//
// Outcomes that belong to the client (denial, inactive client, lost access)
// come back as a ConsentDecision whose RedirectURL carries an OAuth error.
// A returned error means nothing may be sent to the redirect URI.
func (e *Engine) DecideConsent(ctx context.Context, subject, consentID string, approve bool) (*ConsentDecision, error) {
	if e == nil || e.consents == nil {
		return nil, ErrEngineNotReady
	}
	if subject == "" {
		return nil, ErrLoginRequired
	}
	if consentID == "" {
		return nil, fmt.Errorf("%w: consent_id is required", ErrInvalidRequest)
	}

	// Lookups run before Consume: a backend failure leaves the consent in place.
	pending, err := e.consents.Peek(ctx, consentID, subject)
	if err != nil {
		return nil, e.consentError(err)
	}
	client, clientErr := e.activeClient(ctx, pending.ClientID)
	if errors.Is(clientErr, ErrBackendUnavailable) {
		return nil, clientErr
	}
	allowed := false
	if clientErr == nil {
		if allowed, err = e.canAuthorizeClient(ctx, subject, client); err != nil {
			return nil, err
		}
	}

	if pending, err = e.consents.Consume(ctx, consentID, subject); err != nil {
		return nil, e.consentError(err)
	}
	rec := auditRecord{Subject: subject, ClientID: pending.ClientID}

	if clientErr != nil {
		e.metricInc(MetricConsentDenied)
		e.emitAudit(ctx, auditEventConsentDenied, false, rec, ErrInvalidClient, nil)
		return &ConsentDecision{
			RedirectURL: redirectWith(pending.RedirectURI, url.Values{"error": {OAuthErrInvalidClient}}, pending.State),
		}, nil
	}

	if !allowed {
		e.metricInc(MetricConsentDenied)
		e.emitAudit(ctx, auditEventConsentDenied, false, rec, ErrAccessDenied, nil)
		return &ConsentDecision{
			RedirectURL: redirectWith(pending.RedirectURI, url.Values{
				"error":             {OAuthErrAccessDenied},
				"error_description": {"insufficient_permissions"},
			}, pending.State),
		}, nil
	}

	if !approve {
		e.metricInc(MetricConsentDenied)
		e.emitAudit(ctx, auditEventConsentDenied, true, rec, nil, nil)
		return &ConsentDecision{
			RedirectURL: redirectWith(pending.RedirectURI, url.Values{"error": {OAuthErrAccessDenied}}, pending.State),
		}, nil
	}

	code, err := e.CreateAuthorizationCode(ctx, client.ID, subject, pending.RedirectURI, pending.Scope)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricConsentApproved)
	e.emitAudit(ctx, auditEventConsentApproved, true, rec, nil, func() map[string]string {
		return map[string]string{"scope": strings.Join(pending.Scope, " ")}
	})
	return &ConsentDecision{
		RedirectURL: redirectWith(pending.RedirectURI, url.Values{"code": {code}}, pending.State),
		Code:        code,
		Approved:    true,
	}, nil
}

func (e *Engine) consentError(err error) error {
	if errors.Is(err, stores.ErrConsentBackend) {
		e.metricInc(MetricBackendError)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return ErrConsentNotFound
}

// CreateAuthorizationCode issues a one-time code valid for OAuth.CodeTTL.
// Only the code's hash is stored.
func (e *Engine) CreateAuthorizationCode(ctx context.Context, clientID, subject, redirectURI string, scope []string) (string, error) {
	if e == nil || e.codes == nil {
		return "", ErrEngineNotReady
	}

	issued := e.now()
	for attempt := 0; attempt < 3; attempt++ {
		code, err := internal.NewAuthorizationCode()
		if err != nil {
			return "", err
		}
		err = e.codes.Save(ctx, internal.HashSecret(code), &stores.AuthorizationCode{
			ClientID:    clientID,
			Subject:     subject,
			RedirectURI: redirectURI,
			Scope:       scope,
			IssuedAt:    issued.Unix(),
			ExpiresAt:   issued.Add(e.config.OAuth.CodeTTL).Unix(),
		})
		if errors.Is(err, stores.ErrRecordExists) {
			continue
		}
		if err != nil {
			e.metricInc(MetricBackendError)
			return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return code, nil
	}
	return "", errors.New("could not allocate a unique authorization code")
}

// VerifyAndConsume redeems code for clientID and redirectURI. It reports
// the precise cause of a rejection (ErrCodeNotFound, ErrCodeAlreadyUsed,
// ErrCodeExpired, ErrCodeClientMismatch, ErrCodeRedirectMismatch).
// A mismatched client or redirect URI does not burn the code.
func (e *Engine) VerifyAndConsume(ctx context.Context, code, clientID, redirectURI string) (*CodeGrant, error) {
	if e == nil || e.codes == nil {
		return nil, ErrEngineNotReady
	}
	if code == "" {
		return nil, ErrCodeNotFound
	}

	rec, err := e.codes.Consume(ctx, internal.HashSecret(code), clientID, redirectURI)
	if err != nil {
		if errors.Is(err, stores.ErrCodeBackend) {
			e.metricInc(MetricBackendError)
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil, err
	}

	return &CodeGrant{
		ClientID:    rec.ClientID,
		Subject:     rec.Subject,
		RedirectURI: rec.RedirectURI,
		Scope:       rec.Scope,
		IssuedAt:    time.Unix(rec.IssuedAt, 0),
		ExpiresAt:   time.Unix(rec.ExpiresAt, 0),
	}, nil
}

// ExchangeCodeForToken runs the authorization_code grant. The issued token
// carries the scope stored with the code; req.Scope is ignored.
//
// Every code rejection is reported as ErrInvalidGrant, however often the
// same code is replayed.
func (e *Engine) ExchangeCodeForToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if e == nil || e.codes == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricTokenExchangeLatency, start)

	resp, err := e.exchange(ctx, req)
	rec := auditRecord{ClientID: req.ClientID}
	if err != nil {
		e.metricInc(MetricTokenExchangeFailure)
		e.emitAudit(ctx, auditEventTokenExchangeFailure, false, rec, err, nil)
		return nil, err
	}
	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, rec, nil, func() map[string]string {
		return map[string]string{"scope": resp.Scope}
	})
	return resp, nil
}

func (e *Engine) exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType != grantTypeAuthorization {
		return nil, ErrUnsupportedGrantType
	}
	if req.Code == "" || req.RedirectURI == "" || req.ClientID == "" || req.ClientSecret == "" {
		return nil, fmt.Errorf("%w: code, redirect_uri, client_id and client_secret are required", ErrInvalidRequest)
	}

	client, err := e.activeClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		return nil, ErrInvalidClient
	}
	ok, err := e.secrets.Verify(req.ClientSecret, client.SecretHash)
	if err != nil {
		e.logger.Error().Err(err).Str("client_id", client.ID).Msg("stored client secret hash is unreadable")
	}
	if !ok {
		return nil, ErrInvalidClient
	}

	grant, err := e.VerifyAndConsume(ctx, req.Code, req.ClientID, req.RedirectURI)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		e.logger.Warn().Err(err).Str("client_id", req.ClientID).Msg("authorization code rejected")
		return nil, ErrInvalidGrant
	}

	return e.issueAccessToken(ctx, grant)
}

func (e *Engine) issueAccessToken(ctx context.Context, grant *CodeGrant) (*TokenResponse, error) {
	tokenID := uuid.NewString()
	issued := e.now()
	ttl := e.config.OAuth.AccessTokenTTL

	signed, err := e.jwtManager.CreateAccess(jwt.AccessParams{
		TokenID:  tokenID,
		Subject:  grant.Subject,
		ClientID: grant.ClientID,
		Scope:    grant.Scope,
		IssuedAt: issued,
		TTL:      ttl,
	})
	if err != nil {
		return nil, err
	}

	err = e.tokens.Save(ctx, internal.HashSecret(tokenID), &stores.AccessToken{
		ClientID:  grant.ClientID,
		Subject:   grant.Subject,
		Scope:     grant.Scope,
		IssuedAt:  issued.Unix(),
		ExpiresAt: issued.Add(ttl).Unix(),
	})
	if err != nil {
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return &TokenResponse{
		AccessToken: signed,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(ttl / time.Second),
		Scope:       strings.Join(grant.Scope, " "),
	}, nil
}

// VerifyAccessToken checks the token's signature and its server-side
// record. Unknown, expired and revoked tokens fail, and so does any
// backend error.
func (e *Engine) VerifyAccessToken(ctx context.Context, token string) (*TokenInfo, error) {
	if e == nil || e.tokens == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricTokenVerifyLatency, start)

	info, err := e.verifyAccessToken(ctx, token)
	if err != nil {
		e.metricInc(MetricTokenVerifyFailure)
		return nil, err
	}
	e.metricInc(MetricTokenVerifySuccess)
	return info, nil
}

func (e *Engine) verifyAccessToken(ctx context.Context, token string) (*TokenInfo, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	rec, err := e.tokens.Verify(ctx, internal.HashSecret(claims.ID))
	if err != nil {
		if errors.Is(err, stores.ErrTokenBackend) {
			e.metricInc(MetricBackendError)
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, ErrBackendUnavailable)
		}
		return nil, ErrTokenInvalid
	}
	if rec.ClientID != claims.ClientID || rec.Subject != claims.Subject {
		e.logger.Error().Str("client_id", claims.ClientID).Msg("access token claims disagree with stored record")
		return nil, ErrTokenInvalid
	}

	return &TokenInfo{
		TokenID:   claims.ID,
		Subject:   rec.Subject,
		ClientID:  rec.ClientID,
		Scope:     rec.Scope,
		IssuedAt:  time.Unix(rec.IssuedAt, 0),
		ExpiresAt: time.Unix(rec.ExpiresAt, 0),
	}, nil
}

// RevokeAccessToken revokes token. Unknown, malformed, expired and already
// revoked tokens succeed without change. Only a backend failure is
// reported.
func (e *Engine) RevokeAccessToken(ctx context.Context, token string) error {
	if e == nil || e.tokens == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidRequest)
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil
	}
	changed, err := e.tokens.Revoke(ctx, internal.HashSecret(claims.ID))
	if err != nil {
		e.metricInc(MetricBackendError)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if changed {
		e.metricInc(MetricTokenRevoked)
		e.emitAudit(ctx, auditEventTokenRevoked, true, auditRecord{Subject: claims.Subject, ClientID: claims.ClientID}, nil, nil)
	}
	return nil
}

// RegisterClient creates an OAuth client and returns it with its plaintext
// secret. The secret is not recoverable afterwards.
func (e *Engine) RegisterClient(ctx context.Context, reg ClientRegistration) (*Client, string, error) {
	if e == nil || e.clients == nil {
		return nil, "", ErrEngineNotReady
	}
	if strings.TrimSpace(reg.Name) == "" || len(reg.RedirectURIs) == 0 {
		return nil, "", fmt.Errorf("%w: name and redirect_uris are required", ErrInvalidRequest)
	}
	for _, uri := range reg.RedirectURIs {
		if !validRedirectURI(uri) {
			return nil, "", fmt.Errorf("%w: redirect uri %q must be absolute", ErrInvalidRequest, uri)
		}
	}
	scopes := reg.AllowedScopes
	if len(scopes) == 0 {
		scopes = append([]string(nil), e.config.OAuth.DefaultScope...)
	}

	secret, err := internal.NewClientSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := e.secrets.Hash(secret)
	if err != nil {
		return nil, "", err
	}

	client := &Client{
		ID:            uuid.NewString(),
		Name:          reg.Name,
		SecretHash:    hash,
		RedirectURIs:  append([]string(nil), reg.RedirectURIs...),
		AllowedScopes: scopes,
		AllowAnyone:   reg.AllowAnyone,
		Active:        true,
		CreatedBy:     reg.CreatedBy,
		CreatedAt:     e.now().UTC(),
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()
	if err := e.clients.CreateClient(lctx, client); err != nil {
		e.metricInc(MetricBackendError)
		return nil, "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricClientRegistered)
	e.emitAudit(ctx, auditEventClientRegistered, true, auditRecord{Actor: reg.CreatedBy, ClientID: client.ID}, nil, nil)
	return client, secret, nil
}

// RegenerateClientSecret replaces a client's secret and returns the new
// plaintext. The previous secret stops working immediately.
func (e *Engine) RegenerateClientSecret(ctx context.Context, actor, clientID string) (string, error) {
	if e == nil || e.clients == nil {
		return "", ErrEngineNotReady
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()
	if _, err := e.clients.GetClient(lctx, clientID); err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return "", ErrClientNotFound
		}
		e.metricInc(MetricBackendError)
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	secret, err := internal.NewClientSecret()
	if err != nil {
		return "", err
	}
	hash, err := e.secrets.Hash(secret)
	if err != nil {
		return "", err
	}
	if err := e.clients.UpdateClientSecret(lctx, clientID, hash); err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return "", ErrClientNotFound
		}
		e.metricInc(MetricBackendError)
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricClientSecretRotated)
	e.emitAudit(ctx, auditEventClientSecretRotated, true, auditRecord{Actor: actor, ClientID: clientID}, nil, nil)
	return secret, nil
}

// activeClient returns ErrInvalidClient for unknown or inactive clients and
// ErrBackendUnavailable when the registry cannot answer.
func (e *Engine) activeClient(ctx context.Context, clientID string) (*Client, error) {
	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	client, err := e.clients.GetClient(lctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, ErrInvalidClient
		}
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if client == nil || !client.Active {
		return nil, ErrInvalidClient
	}
	return client, nil
}

// canAuthorizeClient reports whether subject may grant client access.
func (e *Engine) canAuthorizeClient(ctx context.Context, subject string, client *Client) (bool, error) {
	if client.AllowAnyone {
		return true, nil
	}
	admin, err := e.IsAdmin(ctx, subject)
	if err != nil || !admin {
		return false, err
	}
	return e.HasPermission(ctx, subject, permission.App, client.ID, permission.Read)
}

func parseScope(raw string) []string {
	fields := strings.Fields(raw)
	out := fields[:0]
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// redirectWith appends params and state to base, keeping any query the
// registered URI already has.
func redirectWith(base string, params url.Values, state string) string {
	if state != "" {
		params.Set("state", state)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != "" && u.Fragment == ""
}
