package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
)

// KeyAuthorizer is the part of [goAccess.Engine] APIKeyGate needs.
type KeyAuthorizer interface {
	AuthorizeAPIKey(ctx context.Context, req goAccess.GateRequest) (*goAccess.GateResult, error)
}

// GateOptions configures one protected route.
type GateOptions struct {
	// Required lists the permissions the route accepts; holding any one of
	// them is enough.
	Required []string
	// Action names the route in usage logs. Defaults to the request path.
	Action string
}

const (
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

type gateResultContextKey struct{}

// GateResultFromContext returns the key admitted by APIKeyGate.
func GateResultFromContext(ctx context.Context) (*goAccess.GateResult, bool) {
	res, ok := ctx.Value(gateResultContextKey{}).(*goAccess.GateResult)
	return res, ok
}

// RequireAPIKey is APIKeyGate with only Required set.
func RequireAPIKey(authz KeyAuthorizer, required ...string) func(http.Handler) http.Handler {
	return APIKeyGate(authz, GateOptions{Required: required})
}

// APIKeyGate admits requests whose bearer API key holds one of the
// required permissions and is within its rate limit. Rate headers are set
// on admitted and rate-limited responses for limited keys.
func APIKeyGate(authz KeyAuthorizer, opts GateOptions) func(http.Handler) http.Handler {
	required := append([]string(nil), opts.Required...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authz == nil {
				writeGateError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			}

			// An absent or malformed header is passed through as an empty
			// credential so the engine records the rejection.
			credential, _ := bearerToken(r.Header.Get("Authorization"))
			action := opts.Action
			if action == "" {
				action = r.URL.Path
			}

			ctx := withClient(r)
			res, err := authz.AuthorizeAPIKey(ctx, goAccess.GateRequest{
				Credential: credential,
				Required:   required,
				Action:     action,
				Endpoint:   r.URL.Path,
				Method:     r.Method,
				IP:         ClientIP(r),
			})

			switch {
			case err == nil:
				setRateHeaders(w, res.Rate)
				ctx = context.WithValue(ctx, gateResultContextKey{}, res)
				next.ServeHTTP(w, r.WithContext(ctx))
			case errors.Is(err, goAccess.ErrRateLimited) && res != nil:
				setRateHeaders(w, res.Rate)
				writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{
					Success:      false,
					Error:        "Rate limit exceeded",
					RateLimit:    res.Rate.Limit,
					CurrentCount: res.Rate.Count,
					ResetTime:    unixOrZero(res.Rate.ResetAt),
				})
			case errors.Is(err, goAccess.ErrUnauthorized):
				writeGateError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			case errors.Is(err, goAccess.ErrBackendUnavailable):
				writeGateError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			case errors.Is(err, goAccess.ErrInsufficientPermissions):
				writeGateError(w, http.StatusForbidden, "Insufficient permissions")
			case errors.Is(err, goAccess.ErrForbidden):
				writeGateError(w, http.StatusForbidden, "Invalid API key")
			default:
				writeGateError(w, http.StatusInternalServerError, "Internal server error")
			}
		})
	}
}

type gateErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type rateLimitedBody struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	RateLimit    int    `json:"rate_limit"`
	CurrentCount int    `json:"current_count"`
	ResetTime    int64  `json:"reset_time"`
}

func writeGateError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, gateErrorBody{Success: false, Error: msg})
}

func setRateHeaders(w http.ResponseWriter, info goAccess.RateInfo) {
	if info.Unlimited {
		return
	}
	h := w.Header()
	h.Set(headerRateLimit, strconv.Itoa(info.Limit))
	h.Set(headerRateRemaining, strconv.Itoa(info.Remaining))
	h.Set(headerRateReset, strconv.FormatInt(unixOrZero(info.ResetAt), 10))
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
