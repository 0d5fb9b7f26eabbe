package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goAccess "github.com/MrEthical07/goAccess"
)

// TokenVerifier is the part of [goAccess.Engine] RequireAccessToken needs.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*goAccess.TokenInfo, error)
}

type tokenInfoContextKey struct{}

// TokenInfoFromContext returns the access token admitted by
// RequireAccessToken.
func TokenInfoFromContext(ctx context.Context) (*goAccess.TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoContextKey{}).(*goAccess.TokenInfo)
	return info, ok
}

// RequireAccessToken admits requests carrying a valid OAuth access token in
// the Authorization header. When scopes are given the token must carry all
// of them.
func RequireAccessToken(verifier TokenVerifier, scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				writeOAuthError(w, http.StatusUnauthorized, goAccess.OAuthErrInvalidToken, "")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeOAuthError(w, http.StatusUnauthorized, goAccess.OAuthErrInvalidToken, "missing bearer token")
				return
			}

			ctx := withClient(r)
			info, err := verifier.VerifyAccessToken(ctx, token)
			switch {
			case err == nil:
			case errors.Is(err, goAccess.ErrBackendUnavailable):
				writeOAuthError(w, http.StatusServiceUnavailable, goAccess.OAuthErrTemporarilyUnavailable, "")
				return
			default:
				writeOAuthError(w, http.StatusUnauthorized, goAccess.OAuthErrInvalidToken, "token is invalid or expired")
				return
			}

			for _, scope := range scopes {
				if !info.HasScope(scope) {
					writeOAuthError(w, http.StatusForbidden, "insufficient_scope", "token lacks scope "+scope)
					return
				}
			}

			ctx = context.WithValue(ctx, tokenInfoContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	}
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	writeJSON(w, status, body)
}
