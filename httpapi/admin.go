package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// writeAdminError maps engine errors of the admin surface onto responses.
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, goAccess.ErrUnauthorized), errors.Is(err, goAccess.ErrLoginRequired):
		writeError(w, http.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, goAccess.ErrSelfModification):
		writeError(w, http.StatusForbidden, "You cannot modify your own permissions. Please ask another admin.")
	case errors.Is(err, goAccess.ErrSystemAdminProtected):
		writeError(w, http.StatusForbidden, "The system admin cannot be modified")
	case errors.Is(err, goAccess.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "Unauthorized")
	case errors.Is(err, goAccess.ErrAdminNotFound):
		writeError(w, http.StatusNotFound, "Admin not found")
	case errors.Is(err, goAccess.ErrAPIKeyNotFound):
		writeError(w, http.StatusNotFound, "API key not found")
	case errors.Is(err, goAccess.ErrClientNotFound):
		writeError(w, http.StatusNotFound, "App not found")
	case errors.Is(err, goAccess.ErrAdminExists):
		writeError(w, http.StatusConflict, "Admin already exists")
	case errors.Is(err, goAccess.ErrInvalidRateLimit):
		writeError(w, http.StatusBadRequest, "Invalid rate limit")
	case errors.Is(err, goAccess.ErrInvalidPermission):
		writeError(w, http.StatusBadRequest, "Invalid permission")
	case errors.Is(err, goAccess.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "Invalid request")
	case errors.Is(err, goAccess.ErrBackendUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("admin request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type adminView struct {
	Email     string    `json:"email"`
	AddedBy   string    `json:"added_by"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func newAdminView(a goAccess.Admin) adminView {
	return adminView{Email: a.Email, AddedBy: a.AddedBy, Active: a.Active, CreatedAt: a.CreatedAt}
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := s.engine.ListAdmins(r.Context(), s.subject(r))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	views := make([]adminView, 0, len(admins))
	for _, a := range admins {
		views = append(views, newAdminView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "admins": views})
}

type addAdminRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	var req addAdminRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	admin, err := s.engine.AddAdmin(r.Context(), s.subject(r), req.Email)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "admin": newAdminView(*admin)})
}

func (s *Server) handleSetAdminActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, target := s.subject(r), chi.URLParam(r, "email")
		var err error
		if active {
			err = s.engine.ReactivateAdmin(r.Context(), actor, target)
		} else {
			err = s.engine.DeactivateAdmin(r.Context(), actor, target)
		}
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	grants, err := s.engine.ListPermissions(r.Context(), s.subject(r), chi.URLParam(r, "email"))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if grants == nil {
		grants = []permission.Grant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "permissions": grants})
}

// grantRequest is one (type, value, level) entry. access_level defaults
// to read.
type grantRequest struct {
	PermissionType  string `json:"permission_type" validate:"required"`
	PermissionValue string `json:"permission_value" validate:"required"`
	AccessLevel     string `json:"access_level" validate:"omitempty,oneof=read write"`
}

func (g grantRequest) toGrant(target string) (permission.Grant, error) {
	typ, err := permission.ParseResourceType(g.PermissionType)
	if err != nil {
		return permission.Grant{}, goAccess.ErrInvalidPermission
	}
	level := permission.Read
	if g.AccessLevel != "" {
		if level, err = permission.ParseLevel(g.AccessLevel); err != nil {
			return permission.Grant{}, goAccess.ErrInvalidPermission
		}
	}
	return permission.Grant{
		AdminEmail: target,
		Type:       typ,
		Value:      strings.TrimSpace(g.PermissionValue),
		Level:      level,
	}, nil
}

type replacePermissionsRequest struct {
	Permissions []grantRequest `json:"permissions" validate:"dive"`
}

// handleReplacePermissions swaps the target's whole grant set.
func (s *Server) handleReplacePermissions(w http.ResponseWriter, r *http.Request) {
	var req replacePermissionsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := chi.URLParam(r, "email")
	grants := make([]permission.Grant, 0, len(req.Permissions))
	for _, g := range req.Permissions {
		grant, err := g.toGrant(target)
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		grants = append(grants, grant)
	}
	if err := s.engine.ReplacePermissions(r.Context(), s.subject(r), target, grants); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := req.toGrant(chi.URLParam(r, "email"))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if err := s.engine.GrantPermission(r.Context(), s.subject(r), grant); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := chi.URLParam(r, "email")
	grant, err := req.toGrant(target)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	removed, err := s.engine.RevokePermission(r.Context(), s.subject(r), target, grant.Type, grant.Value, grant.Level)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Permission not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type apiKeyView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Permissions  []string   `json:"permissions"`
	RateLimitRPM int        `json:"rate_limit_rpm"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

func newAPIKeyView(k goAccess.APIKey) apiKeyView {
	v := apiKeyView{
		ID:           k.ID,
		Name:         k.Name,
		Permissions:  k.Permissions,
		RateLimitRPM: k.RateLimitRPM,
		CreatedBy:    k.CreatedBy,
		CreatedAt:    k.CreatedAt,
	}
	if !k.LastUsedAt.IsZero() {
		last := k.LastUsedAt
		v.LastUsedAt = &last
	}
	return v
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.engine.ListAPIKeys(r.Context(), s.subject(r))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	views := make([]apiKeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, newAPIKeyView(k))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "api_keys": views})
}

type createAPIKeyResponse struct {
	Success bool       `json:"success"`
	Key     string     `json:"key"`
	APIKey  apiKeyView `json:"api_key"`
}

// handleCreateAPIKey returns the plaintext key. It is never shown again.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var spec goAccess.APIKeySpec
	if err := decode(w, r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	issued, err := s.engine.CreateAPIKey(r.Context(), s.subject(r), spec)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		Success: true,
		Key:     issued.Secret,
		APIKey:  newAPIKeyView(issued.Key),
	})
}

func (s *Server) handleUpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	var upd goAccess.APIKeyUpdate
	if err := decode(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := s.engine.UpdateAPIKey(r.Context(), s.subject(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "api_key": newAPIKeyView(*key)})
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteAPIKey(r.Context(), s.subject(r), chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAPIKeyRateLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RequirePage(r.Context(), s.subject(r), s.engine.Pages().KeysPage, permission.Read); err != nil {
		writeAdminError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	info, err := s.engine.RateLimitStats(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rateLimitView(id, "", info))
}

func (s *Server) handleResetAPIKeyRateLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetRateLimit(r.Context(), s.subject(r), chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

const defaultUsageLimit = 10

type usageView struct {
	Action   string    `json:"action"`
	Endpoint string    `json:"endpoint"`
	Method   string    `json:"method"`
	IP       string    `json:"ip"`
	At       time.Time `json:"timestamp"`
}

type usageResponse struct {
	Success bool        `json:"success"`
	KeyID   string      `json:"key_id"`
	KeyName string      `json:"key_name"`
	Logs    []usageView `json:"logs"`
}

// handleAPIKeyLogs serves a key's usage, newest first. ?limit defaults to
// 10; limit=0 returns the whole log.
func (s *Server) handleAPIKeyLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultUsageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	key, usage, err := s.engine.APIKeyUsage(r.Context(), s.subject(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	logs := make([]usageView, 0, len(usage))
	for _, u := range usage {
		logs = append(logs, usageView{Action: u.Action, Endpoint: u.Endpoint, Method: u.Method, IP: u.IP, At: u.At})
	}
	writeJSON(w, http.StatusOK, usageResponse{Success: true, KeyID: key.ID, KeyName: key.Name, Logs: logs})
}

type appView struct {
	ID            string   `json:"client_id"`
	Name          string   `json:"name"`
	RedirectURIs  []string `json:"redirect_uris"`
	AllowedScopes []string `json:"allowed_scopes"`
	AllowAnyone   bool     `json:"allow_anyone"`
	Active        bool     `json:"active"`
}

type registerAppResponse struct {
	Success      bool    `json:"success"`
	App          appView `json:"app"`
	ClientSecret string  `json:"client_secret"`
}

// handleRegisterApp creates an OAuth client. Needs write on the apps page.
func (s *Server) handleRegisterApp(w http.ResponseWriter, r *http.Request) {
	actor := s.subject(r)
	if err := s.engine.RequirePage(r.Context(), actor, s.engine.Pages().AppsPage, permission.Write); err != nil {
		writeAdminError(w, r, err)
		return
	}
	var reg goAccess.ClientRegistration
	if err := decode(w, r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg.CreatedBy = actor

	client, secret, err := s.engine.RegisterClient(r.Context(), reg)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerAppResponse{
		Success: true,
		App: appView{
			ID:            client.ID,
			Name:          client.Name,
			RedirectURIs:  client.RedirectURIs,
			AllowedScopes: client.AllowedScopes,
			AllowAnyone:   client.AllowAnyone,
			Active:        client.Active,
		},
		ClientSecret: secret,
	})
}

func (s *Server) handleRegenerateAppSecret(w http.ResponseWriter, r *http.Request) {
	actor := s.subject(r)
	if err := s.engine.RequirePage(r.Context(), actor, s.engine.Pages().AppsPage, permission.Write); err != nil {
		writeAdminError(w, r, err)
		return
	}
	secret, err := s.engine.RegenerateClientSecret(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "client_secret": secret})
}
