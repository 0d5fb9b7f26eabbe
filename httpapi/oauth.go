package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	goAccess "github.com/MrEthical07/goAccess"
	accessmw "github.com/MrEthical07/goAccess/middleware"
	"github.com/rs/zerolog"
)

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

var oauthDescriptions = map[string]string{
	goAccess.OAuthErrInvalidRequest:          "The request is missing a required parameter or is malformed",
	goAccess.OAuthErrInvalidClient:           "Client authentication failed",
	goAccess.OAuthErrInvalidGrant:            "The authorization code is invalid or expired",
	goAccess.OAuthErrUnsupportedGrantType:    "Only authorization_code is supported",
	goAccess.OAuthErrUnsupportedResponseType: "Only response_type=code is supported",
	goAccess.OAuthErrInvalidScope:            "The requested scope is not allowed for this client",
	goAccess.OAuthErrAccessDenied:            "The user is not allowed to authorize this application",
	goAccess.OAuthErrTemporarilyUnavailable:  "The service is temporarily unavailable",
	goAccess.OAuthErrServerError:             "Internal server error",
}

func oauthStatus(code string) int {
	switch code {
	case goAccess.OAuthErrInvalidToken:
		return http.StatusUnauthorized
	case goAccess.OAuthErrTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	case goAccess.OAuthErrServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	code := goAccess.OAuthErrorCode(err)
	status := oauthStatus(code)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("oauth_error", code).Msg("oauth request failed")
	}
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, status, oauthErrorBody{Error: code, ErrorDescription: oauthDescriptions[code]})
}

// repeated reports whether any parameter occurs more than once.
func repeated(values url.Values) bool {
	for _, v := range values {
		if len(v) > 1 {
			return true
		}
	}
	return false
}

// handleAuthorize validates an authorization request and returns the consent
// prompt for the signed-in user. Anonymous users are sent to the login page.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if repeated(q) {
		writeOAuthError(w, r, goAccess.ErrInvalidRequest)
		return
	}

	prompt, err := s.engine.Authorize(r.Context(), goAccess.AuthorizeRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		ResponseType: q.Get("response_type"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
		Subject:      s.subject(r),
	})
	if errors.Is(err, goAccess.ErrLoginRequired) {
		s.redirectToLogin(w, r)
		return
	}
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	login := s.engine.LoginURL()
	if login == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	target, err := url.Parse(login)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	params := target.Query()
	params.Set("next", r.URL.RequestURI())
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleConsent applies the user's decision on a pending consent request.
func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || repeated(r.PostForm) {
		writeOAuthError(w, r, goAccess.ErrInvalidRequest)
		return
	}

	var approve bool
	switch r.PostForm.Get("action") {
	case "approve":
		approve = true
	case "deny":
	default:
		writeOAuthError(w, r, goAccess.ErrInvalidRequest)
		return
	}

	decision, err := s.engine.DecideConsent(r.Context(), s.subject(r), r.PostForm.Get("consent_id"), approve)
	if errors.Is(err, goAccess.ErrLoginRequired) {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, decision.RedirectURL, http.StatusFound)
}

// handleToken exchanges an authorization code for an access token. Client
// credentials are read from the form, or from HTTP Basic when the form
// carries none.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Pragma", "no-cache")
	if err := r.ParseForm(); err != nil || repeated(r.PostForm) {
		writeOAuthError(w, r, goAccess.ErrInvalidRequest)
		return
	}

	req := goAccess.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		Scope:        r.PostForm.Get("scope"),
	}
	if req.ClientID == "" && req.ClientSecret == "" {
		if id, secret, ok := r.BasicAuth(); ok {
			req.ClientID, req.ClientSecret = id, secret
		}
	}

	resp, err := s.engine.ExchangeCodeForToken(r.Context(), req)
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevoke invalidates an access token. Unknown or malformed tokens
// are not reported to the caller.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, r, goAccess.ErrInvalidRequest)
		return
	}
	token := strings.TrimSpace(r.PostForm.Get("token"))
	if token == "" {
		writeOAuthError(w, r, goAccess.ErrInvalidRequest)
		return
	}

	if err := s.engine.RevokeAccessToken(r.Context(), token); err != nil {
		if errors.Is(err, goAccess.ErrBackendUnavailable) {
			writeOAuthError(w, r, err)
			return
		}
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("revoke ignored")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type userInfoResponse struct {
	User     string `json:"user"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// handleUserInfo describes the bearer of a verified access token.
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := accessmw.TokenInfoFromContext(r.Context())
	if !ok {
		writeOAuthError(w, r, goAccess.ErrTokenInvalid)
		return
	}
	writeJSON(w, http.StatusOK, userInfoResponse{
		User:     info.Subject,
		ClientID: info.ClientID,
		Scope:    strings.Join(info.Scope, " "),
	})
}
