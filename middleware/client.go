package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	goAccess "github.com/MrEthical07/goAccess"
)

// ClientContext attaches the caller's IP and User-Agent to the request
// context for usage logs and audit. Place it after any proxy
// header rewriting such as chi's RealIP.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withClient(r)))
	})
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func withClient(r *http.Request) context.Context {
	ctx := goAccess.WithClientIP(r.Context(), ClientIP(r))
	if ua := r.UserAgent(); ua != "" {
		ctx = goAccess.WithUserAgent(ctx, ua)
	}
	return ctx
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
