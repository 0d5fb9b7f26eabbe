package httpapi

import (
	"net/http"
	"strings"
)

// SubjectResolver returns the email of the signed-in user, or "" when the
// request is anonymous. Session handling belongs to the host application.
type SubjectResolver func(r *http.Request) string

// Anonymous resolves every request to no user.
func Anonymous(*http.Request) string { return "" }

// HeaderSubject trusts an identity header set by an authenticating proxy.
// Only use it when the proxy strips the header from client requests.
func HeaderSubject(header string) SubjectResolver {
	return func(r *http.Request) string {
		return strings.ToLower(strings.TrimSpace(r.Header.Get(header)))
	}
}
