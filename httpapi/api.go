package httpapi

import (
	"net/http"
	"strings"

	goAccess "github.com/MrEthical07/goAccess"
	accessmw "github.com/MrEthical07/goAccess/middleware"
	"github.com/rs/zerolog"
)

type keyUserInfoRequest struct {
	Token string `json:"token" validate:"required"`
}

type keyUser struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

type keyUserInfoResponse struct {
	Success  bool    `json:"success"`
	User     keyUser `json:"user"`
	ClientID string  `json:"client_id"`
	Scope    string  `json:"scope"`
}

// handleKeyUserInfo lets a backend holding an "oauth" API key resolve a
// user's access token.
func (s *Server) handleKeyUserInfo(w http.ResponseWriter, r *http.Request) {
	var req keyUserInfoRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.engine.VerifyAccessToken(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		if goAccess.OAuthErrorCode(err) == goAccess.OAuthErrTemporarilyUnavailable {
			writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	isAdmin, err := s.engine.IsAdmin(r.Context(), info.Subject)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("admin lookup failed")
		isAdmin = false
	}

	writeJSON(w, http.StatusOK, keyUserInfoResponse{
		Success:  true,
		User:     keyUser{Email: info.Subject, IsAdmin: isAdmin},
		ClientID: info.ClientID,
		Scope:    strings.Join(info.Scope, " "),
	})
}

type rateLimitStatusResponse struct {
	Success      bool   `json:"success"`
	KeyID        string `json:"key_id"`
	KeyName      string `json:"key_name"`
	Unlimited    bool   `json:"unlimited"`
	RateLimit    int    `json:"rate_limit"`
	CurrentCount int    `json:"current_count"`
	Remaining    int    `json:"remaining"`
	ResetTime    int64  `json:"reset_time"`
}

// handleRateLimitStatus reports the calling key's own window, including
// this request.
func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	res, ok := accessmw.GateResultFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
		return
	}
	writeJSON(w, http.StatusOK, rateLimitView(res.KeyID, res.KeyName, res.Rate))
}

func rateLimitView(id, name string, info goAccess.RateInfo) rateLimitStatusResponse {
	var reset int64
	if !info.ResetAt.IsZero() {
		reset = info.ResetAt.Unix()
	}
	return rateLimitStatusResponse{
		Success:      true,
		KeyID:        id,
		KeyName:      name,
		Unlimited:    info.Unlimited,
		RateLimit:    info.Limit,
		CurrentCount: info.Count,
		Remaining:    info.Remaining,
		ResetTime:    reset,
	}
}
