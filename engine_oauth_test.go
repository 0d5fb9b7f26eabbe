package goAccess

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goAccess/permission"
)

const testRedirect = "https://x/cb"

func TestAuthorizationCodeScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})

	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "profile email")

	req := TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirect,
		ClientID:     "abc",
		ClientSecret: secret,
	}
	resp, err := env.engine.ExchangeCodeForToken(context.Background(), req)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.ExpiresIn != 3600 || resp.Scope != "profile email" || resp.TokenType != "Bearer" || resp.AccessToken == "" {
		t.Fatalf("unexpected token response %+v", resp)
	}

	if _, err := env.engine.ExchangeCodeForToken(context.Background(), req); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected replay to fail with ErrInvalidGrant, got %v", err)
	}
	if OAuthErrorCode(ErrInvalidGrant) != "invalid_grant" {
		t.Fatal("unexpected wire code for ErrInvalidGrant")
	}
}

func TestExchangeExactlyOnceUnderConcurrency(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "profile")

	const workers = 16
	var wins, grants atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
				GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidGrant):
				grants.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || grants.Load() != workers-1 {
		t.Fatalf("expected 1 success and %d invalid_grant, got %d and %d", workers-1, wins.Load(), grants.Load())
	}
}

func TestExchangeRedirectMismatchKeepsCode(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect, "https://x/other"}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "profile")

	_, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: "https://x/other", ClientID: "abc", ClientSecret: secret,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}

	if _, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	}); err != nil {
		t.Fatalf("expected rightful exchange to succeed after mismatch, got %v", err)
	}
}

func TestTokenScopeComesFromCode(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "profile")

	resp, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
		Scope: "profile email admin",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if resp.Scope != "profile" {
		t.Fatalf("expected scope from code, got %q", resp.Scope)
	}

	info, err := env.engine.VerifyAccessToken(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !info.HasScope("profile") || info.HasScope("email") {
		t.Fatalf("unexpected verified scope %v", info.Scope)
	}
	if info.Subject != "alice@example.com" || info.ClientID != "abc" {
		t.Fatalf("unexpected token info %+v", info)
	}
}

func TestExchangeRequestValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")

	tests := []struct {
		name string
		req  TokenRequest
		want error
	}{
		{"grant type", TokenRequest{GrantType: "password", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret}, ErrUnsupportedGrantType},
		{"missing code", TokenRequest{GrantType: "authorization_code", RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret}, ErrInvalidRequest},
		{"unknown client", TokenRequest{GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "nope", ClientSecret: secret}, ErrInvalidClient},
		{"wrong secret", TokenRequest{GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: "wrong"}, ErrInvalidClient},
		{"unknown code", TokenRequest{GrantType: "authorization_code", Code: "bogus", RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret}, ErrInvalidGrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.ExchangeCodeForToken(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// None of the failures above consumed the code.
	if _, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	}); err != nil {
		t.Fatalf("expected exchange to succeed, got %v", err)
	}
}

func TestExchangeExpiredCode(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")

	env.clock.Advance(10*time.Minute + time.Second)
	_, err := env.engine.VerifyAndConsume(context.Background(), code, "abc", testRedirect)
	if !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	_, err = env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
}

func TestExchangeReplayAlwaysInvalidGrant(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	req := TokenRequest{GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret}
	if _, err := env.engine.ExchangeCodeForToken(ctx, req); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	for i := 0; i < 12; i++ {
		_, err := env.engine.ExchangeCodeForToken(ctx, req)
		if !errors.Is(err, ErrInvalidGrant) || OAuthErrorCode(err) != OAuthErrInvalidGrant {
			t.Fatalf("replay %d: expected invalid_grant, got %v", i, err)
		}
	}
}

func TestExchangeWrongSecretsDoNotLockOutClient(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	for i := 0; i < 20; i++ {
		_, err := env.engine.ExchangeCodeForToken(ctx, TokenRequest{
			GrantType: "authorization_code", Code: "bogus", RedirectURI: testRedirect, ClientID: "abc", ClientSecret: "wrong",
		})
		if !errors.Is(err, ErrInvalidClient) {
			t.Fatalf("attempt %d: expected ErrInvalidClient, got %v", i, err)
		}
	}

	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")
	resp, err := env.engine.ExchangeCodeForToken(ctx, TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("legitimate exchange after failures: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected an access token")
	}
}

func TestAuthorizeValidationOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	env.addClient(t, Client{ID: "off", Name: "Off", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	env.backend.setClientActive("off", false)

	base := AuthorizeRequest{ClientID: "abc", RedirectURI: testRedirect, ResponseType: "code", Scope: "profile"}
	tests := []struct {
		name   string
		mutate func(*AuthorizeRequest)
		want   error
	}{
		{"missing client", func(r *AuthorizeRequest) { r.ClientID = "" }, ErrInvalidRequest},
		{"response type", func(r *AuthorizeRequest) { r.ResponseType = "token" }, ErrUnsupportedResponseType},
		{"unknown client", func(r *AuthorizeRequest) { r.ClientID = "nope" }, ErrInvalidClient},
		{"inactive client", func(r *AuthorizeRequest) { r.ClientID = "off" }, ErrInvalidClient},
		{"redirect prefix", func(r *AuthorizeRequest) { r.RedirectURI = testRedirect + "/evil" }, ErrRedirectURIMismatch},
		{"redirect case", func(r *AuthorizeRequest) { r.RedirectURI = "https://X/cb" }, ErrRedirectURIMismatch},
		{"scope", func(r *AuthorizeRequest) { r.Scope = "profile admin" }, ErrInvalidScope},
		{"no user", func(r *AuthorizeRequest) {}, ErrLoginRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			if _, err := env.engine.Authorize(context.Background(), req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuthorizeDefaultScope(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})

	prompt, err := env.engine.Authorize(context.Background(), AuthorizeRequest{
		ClientID: "abc", RedirectURI: testRedirect, ResponseType: "code", Subject: "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if strings.Join(prompt.Scopes, " ") != "profile email" {
		t.Fatalf("expected default scope, got %v", prompt.Scopes)
	}
	if prompt.ClientName != "ABC" || prompt.ConsentID == "" {
		t.Fatalf("unexpected prompt %+v", prompt)
	}
}

func TestAuthorizeRestrictedClientRequiresAppGrant(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addClient(t, Client{ID: "internal", Name: "Internal", RedirectURIs: []string{testRedirect}})
	env.addAdmin(t, "root@example.com")
	env.addAdmin(t, "ops@example.com", permission.Grant{Type: permission.App, Value: "internal", Level: permission.Read})
	env.addAdmin(t, "other@example.com", permission.Grant{Type: permission.App, Value: "different", Level: permission.Write})

	req := AuthorizeRequest{ClientID: "internal", RedirectURI: testRedirect, ResponseType: "code"}

	for _, subject := range []string{"stranger@example.com", "other@example.com"} {
		req.Subject = subject
		if _, err := env.engine.Authorize(context.Background(), req); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("%s: expected ErrAccessDenied, got %v", subject, err)
		}
	}
	for _, subject := range []string{"ops@example.com", "root@example.com"} {
		req.Subject = subject
		if _, err := env.engine.Authorize(context.Background(), req); err != nil {
			t.Fatalf("%s: expected access, got %v", subject, err)
		}
	}
}

func TestDecideConsentOutcomes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect, "https://x/cb?tenant=1"}, AllowAnyone: true})
	env.addClient(t, Client{ID: "internal", Name: "Internal", RedirectURIs: []string{testRedirect}})
	env.addAdmin(t, "root@example.com")
	env.addAdmin(t, "ops@example.com", permission.Grant{Type: permission.App, Value: "internal", Level: permission.Read})

	authorize := func(clientID, redirect, subject string) string {
		t.Helper()
		prompt, err := env.engine.Authorize(context.Background(), AuthorizeRequest{
			ClientID: clientID, RedirectURI: redirect, ResponseType: "code", State: "st", Subject: subject,
		})
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		return prompt.ConsentID
	}
	query := func(t *testing.T, raw string) url.Values {
		t.Helper()
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse redirect: %v", err)
		}
		return u.Query()
	}

	t.Run("deny", func(t *testing.T) {
		id := authorize("abc", testRedirect, "alice@example.com")
		d, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, false)
		if err != nil {
			t.Fatalf("DecideConsent: %v", err)
		}
		q := query(t, d.RedirectURL)
		if d.Approved || q.Get("error") != "access_denied" || q.Get("state") != "st" || q.Get("code") != "" {
			t.Fatalf("unexpected denial redirect %q", d.RedirectURL)
		}
	})

	t.Run("existing query", func(t *testing.T) {
		id := authorize("abc", "https://x/cb?tenant=1", "alice@example.com")
		d, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, true)
		if err != nil {
			t.Fatalf("DecideConsent: %v", err)
		}
		if !strings.HasPrefix(d.RedirectURL, "https://x/cb?tenant=1&") {
			t.Fatalf("expected appended query, got %q", d.RedirectURL)
		}
		q := query(t, d.RedirectURL)
		if q.Get("code") != d.Code || q.Get("tenant") != "1" {
			t.Fatalf("unexpected redirect %q", d.RedirectURL)
		}
	})

	t.Run("replayed consent", func(t *testing.T) {
		id := authorize("abc", testRedirect, "alice@example.com")
		if _, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, true); err != nil {
			t.Fatalf("DecideConsent: %v", err)
		}
		if _, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, true); !errors.Is(err, ErrConsentNotFound) {
			t.Fatalf("expected ErrConsentNotFound, got %v", err)
		}
	})

	t.Run("other user", func(t *testing.T) {
		id := authorize("abc", testRedirect, "alice@example.com")
		if _, err := env.engine.DecideConsent(context.Background(), "mallory@example.com", id, true); !errors.Is(err, ErrConsentNotFound) {
			t.Fatalf("expected ErrConsentNotFound, got %v", err)
		}
		if _, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, true); err != nil {
			t.Fatalf("expected rightful user to decide, got %v", err)
		}
	})

	t.Run("client deactivated", func(t *testing.T) {
		id := authorize("abc", testRedirect, "alice@example.com")
		env.backend.setClientActive("abc", false)
		defer env.backend.setClientActive("abc", true)

		d, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, true)
		if err != nil {
			t.Fatalf("DecideConsent: %v", err)
		}
		if q := query(t, d.RedirectURL); q.Get("error") != "invalid_client" || q.Get("state") != "st" {
			t.Fatalf("unexpected redirect %q", d.RedirectURL)
		}
	})

	t.Run("access revoked", func(t *testing.T) {
		id := authorize("internal", testRedirect, "ops@example.com")
		if _, err := env.backend.RemoveGrant(context.Background(), "ops@example.com", permission.App, "internal", permission.Read); err != nil {
			t.Fatalf("RemoveGrant: %v", err)
		}
		d, err := env.engine.DecideConsent(context.Background(), "ops@example.com", id, true)
		if err != nil {
			t.Fatalf("DecideConsent: %v", err)
		}
		q := query(t, d.RedirectURL)
		if q.Get("error") != "access_denied" || q.Get("error_description") != "insufficient_permissions" {
			t.Fatalf("unexpected redirect %q", d.RedirectURL)
		}
	})

	t.Run("backend failure keeps consent", func(t *testing.T) {
		id := authorize("abc", testRedirect, "alice@example.com")
		env.backend.setFail(true)
		_, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, true)
		env.backend.setFail(false)
		if !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("expected ErrBackendUnavailable, got %v", err)
		}
		d, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, true)
		if err != nil {
			t.Fatalf("retry after backend failure: %v", err)
		}
		if !d.Approved || d.Code == "" {
			t.Fatalf("expected approval on retry, got %+v", d)
		}
	})

	t.Run("consent expired", func(t *testing.T) {
		id := authorize("abc", testRedirect, "alice@example.com")
		env.clock.Advance(11 * time.Minute)
		if _, err := env.engine.DecideConsent(context.Background(), "alice@example.com", id, true); !errors.Is(err, ErrConsentNotFound) {
			t.Fatalf("expected ErrConsentNotFound, got %v", err)
		}
	})
}

func TestAccessTokenFollowsEngineClock(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")

	env.clock.Advance(599 * time.Second)
	resp, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	info, err := env.engine.VerifyAccessToken(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("verify under advanced clock: %v", err)
	}
	if !info.IssuedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected issued at %v, got %v", env.clock.Now(), info.IssuedAt)
	}
}

func TestVerifyAndRevokeAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")

	resp, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if _, err := env.engine.VerifyAccessToken(context.Background(), resp.AccessToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := env.engine.RevokeAccessToken(context.Background(), resp.AccessToken); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}
	if err := env.engine.RevokeAccessToken(context.Background(), "garbage"); err != nil {
		t.Fatalf("revoking garbage should succeed, got %v", err)
	}
	if err := env.engine.RevokeAccessToken(context.Background(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty token, got %v", err)
	}
	if _, err := env.engine.VerifyAccessToken(context.Background(), resp.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
	if got := env.engine.metrics.Value(MetricTokenRevoked); got != 1 {
		t.Fatalf("expected one revocation counted, got %d", got)
	}
}

func TestVerifyAccessTokenRecordExpiryAndBackend(t *testing.T) {
	env := newTestEnv(t, nil)
	secret := env.addClient(t, Client{ID: "abc", Name: "ABC", RedirectURIs: []string{testRedirect}, AllowAnyone: true})
	code := env.issueCode(t, "abc", testRedirect, "alice@example.com", "")
	resp, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: "abc", ClientSecret: secret,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	env.mr.SetError("forced failure")
	_, err = env.engine.VerifyAccessToken(context.Background(), resp.AccessToken)
	if !errors.Is(err, ErrTokenInvalid) || !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected fail-closed backend error, got %v", err)
	}
	env.mr.SetError("")

	env.clock.Advance(time.Hour + time.Second)
	if _, err := env.engine.VerifyAccessToken(context.Background(), resp.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expired record to fail, got %v", err)
	}
}

func TestRegisterAndRegenerateClientSecret(t *testing.T) {
	env := newTestEnv(t, nil)

	client, secret, err := env.engine.RegisterClient(context.Background(), ClientRegistration{
		Name:         "Dashboard",
		RedirectURIs: []string{testRedirect},
		AllowAnyone:  true,
		CreatedBy:    "root@example.com",
	})
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if client.SecretHash == secret || !strings.HasPrefix(client.SecretHash, "$argon2id$") {
		t.Fatalf("expected hashed secret, got %q", client.SecretHash)
	}
	if _, _, err := env.engine.RegisterClient(context.Background(), ClientRegistration{Name: "Bad", RedirectURIs: []string{"/relative"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected relative redirect to be rejected, got %v", err)
	}

	rotated, err := env.engine.RegenerateClientSecret(context.Background(), "root@example.com", client.ID)
	if err != nil {
		t.Fatalf("RegenerateClientSecret: %v", err)
	}

	exchange := func(s string) error {
		code := env.issueCode(t, client.ID, testRedirect, "alice@example.com", "")
		_, err := env.engine.ExchangeCodeForToken(context.Background(), TokenRequest{
			GrantType: "authorization_code", Code: code, RedirectURI: testRedirect, ClientID: client.ID, ClientSecret: s,
		})
		return err
	}
	if err := exchange(secret); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("expected old secret rejected, got %v", err)
	}
	if err := exchange(rotated); err != nil {
		t.Fatalf("expected new secret accepted, got %v", err)
	}
	if _, err := env.engine.RegenerateClientSecret(context.Background(), "root@example.com", "missing"); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}
