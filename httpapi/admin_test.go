package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	msg, _ := body["error"].(string)
	return msg
}

func TestAdminRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodGet, "/admin/admins", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", errorOf(t, rec))

	rec = ts.doJSON(t, http.MethodGet, "/admin/admins", "", "stranger@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Unauthorized", errorOf(t, rec))
}

func TestAdminLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doJSON(t, http.MethodPost, "/admin/admins", `{"email":"staff@example.com"}`, rootEmail)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.doJSON(t, http.MethodPost, "/admin/admins", `{"email":"staff@example.com"}`, rootEmail)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/admin/admins", `{"email":"not-an-email"}`, rootEmail)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// staff has no grants yet
	rec = ts.doJSON(t, http.MethodGet, "/admin/admins", "", "staff@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/admin/admins/staff@example.com/permissions",
		`{"permissions":[{"permission_type":"page","permission_value":"admins"},{"permission_type":"event","permission_value":"ev1","access_level":"write"}]}`, rootEmail)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.doJSON(t, http.MethodGet, "/admin/admins/staff@example.com/permissions", "", rootEmail)
	require.Equal(t, http.StatusOK, rec.Code)
	var perms struct {
		Permissions []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
			Level string `json:"level"`
		} `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perms))
	assert.Len(t, perms.Permissions, 2)

	rec = ts.doJSON(t, http.MethodGet, "/admin/admins", "", "staff@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Admins []adminView `json:"admins"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Admins, 2)
	assert.Equal(t, rootEmail, list.Admins[0].Email)

	// read on the admins page does not allow writes
	rec = ts.doJSON(t, http.MethodPost, "/admin/admins", `{"email":"other@example.com"}`, "staff@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.doJSON(t, http.MethodDelete, "/admin/admins/staff@example.com/permissions",
		`{"permission_type":"event","permission_value":"ev1","access_level":"write"}`, rootEmail)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.doJSON(t, http.MethodDelete, "/admin/admins/staff@example.com/permissions",
		`{"permission_type":"event","permission_value":"ev1","access_level":"write"}`, rootEmail)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/admin/admins/staff@example.com/deactivate", "", rootEmail)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.doJSON(t, http.MethodGet, "/admin/admins", "", "staff@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/admin/admins/staff@example.com/reactivate", "", rootEmail)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.doJSON(t, http.MethodGet, "/admin/admins", "", "staff@example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminGuards(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.doJSON(t, http.MethodPost, "/admin/admins", `{"email":"staff@example.com"}`, rootEmail).Code)
	require.Equal(t, http.StatusOK, ts.doJSON(t, http.MethodPatch, "/admin/admins/staff@example.com/permissions",
		`{"permission_type":"*","permission_value":"*","access_level":"write"}`, rootEmail).Code)

	rec := ts.doJSON(t, http.MethodPost, "/admin/admins/staff@example.com/permissions", `{"permissions":[]}`, "staff@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You cannot modify your own permissions. Please ask another admin.", errorOf(t, rec))

	rec = ts.doJSON(t, http.MethodPost, "/admin/admins/"+rootEmail+"/deactivate", "", "staff@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "The system admin cannot be modified", errorOf(t, rec))

	rec = ts.doJSON(t, http.MethodPost, "/admin/admins/nobody@example.com/deactivate", "", rootEmail)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.doJSON(t, http.MethodPatch, "/admin/admins/staff@example.com/permissions",
		`{"permission_type":"planet","permission_value":"mars"}`, rootEmail)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppRoutesRequireAppsWrite(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.doJSON(t, http.MethodPost, "/admin/admins", `{"email":"staff@example.com"}`, rootEmail).Code)

	body := `{"name":"Example","redirect_uris":["` + testRedirect + `"]}`
	rec := ts.doJSON(t, http.MethodPost, "/admin/apps", body, "staff@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.Equal(t, http.StatusOK, ts.doJSON(t, http.MethodPatch, "/admin/admins/staff@example.com/permissions",
		`{"permission_type":"page","permission_value":"apps","access_level":"write"}`, rootEmail).Code)
	rec = ts.doJSON(t, http.MethodPost, "/admin/apps", body, "staff@example.com")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var app registerAppResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &app))
	rec = ts.doJSON(t, http.MethodPost, "/admin/apps/"+app.App.ID+"/regenerate-secret", "", "staff@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, app.ClientSecret, decodeBody(t, rec)["client_secret"])

	rec = ts.doJSON(t, http.MethodPost, "/admin/apps/missing/regenerate-secret", "", "staff@example.com")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/admin/apps", `{"name":"Bad","redirect_uris":["not a url"]}`, rootEmail)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func createKey(t *testing.T, ts *testServer, body string) (string, apiKeyView) {
	t.Helper()
	rec := ts.doJSON(t, http.MethodPost, "/admin/api_keys", body, rootEmail)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp createAPIKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.Key, "gak_"))
	return resp.Key, resp.APIKey
}

func TestAPIKeyAdministration(t *testing.T) {
	ts := newTestServer(t)
	_, view := createKey(t, ts, `{"name":"bot","permissions":["users.read"]}`)
	assert.Equal(t, 60, view.RateLimitRPM)

	rec := ts.doJSON(t, http.MethodPost, "/admin/api_keys", `{"name":"bad","permissions":["launch.missiles"]}`, rootEmail)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid permission", errorOf(t, rec))

	rec = ts.doJSON(t, http.MethodPost, "/admin/api_keys", `{"name":"bad","permissions":["oauth"],"rate_limit_rpm":10001}`, rootEmail)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.doJSON(t, http.MethodPatch, "/admin/api_keys/"+view.ID, `{"name":"renamed","rate_limit_rpm":5}`, rootEmail)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.doJSON(t, http.MethodGet, "/admin/api_keys", "", rootEmail)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hash")
	var list struct {
		Keys []apiKeyView `json:"api_keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Keys, 1)
	assert.Equal(t, "renamed", list.Keys[0].Name)
	assert.Equal(t, 5, list.Keys[0].RateLimitRPM)

	rec = ts.doJSON(t, http.MethodGet, "/admin/api_keys", "", "stranger@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.doJSON(t, http.MethodDelete, "/admin/api_keys/"+view.ID, "", rootEmail)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.doJSON(t, http.MethodDelete, "/admin/api_keys/"+view.ID, "", rootEmail)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitEndpoints(t *testing.T) {
	ts := newTestServer(t)
	secret, view := createKey(t, ts, `{"name":"bot","permissions":["users.read"],"rate_limit_rpm":2}`)

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/rate-limit", nil)
		req.Header.Set("Authorization", "Bearer "+secret)
		return ts.do(t, req, "")
	}

	rec := call()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	var status rateLimitStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, view.ID, status.KeyID)
	assert.Equal(t, 1, status.CurrentCount)

	require.Equal(t, http.StatusOK, call().Code)
	rec = call()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Rate limit exceeded", errorOf(t, rec))

	rec = ts.doJSON(t, http.MethodGet, "/admin/api_keys/"+view.ID+"/rate_limit", "", rootEmail)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.CurrentCount)
	assert.Equal(t, 0, status.Remaining)

	rec = ts.doJSON(t, http.MethodPost, "/admin/api_keys/"+view.ID+"/rate_limit/reset", "", rootEmail)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, call().Code)

	req := httptest.NewRequest(http.MethodGet, "/api/rate-limit", nil)
	req.Header.Set("Authorization", "Bearer gak_unknown")
	rec = ts.do(t, req, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIKeyLogs(t *testing.T) {
	ts := newTestServer(t)
	secret, view := createKey(t, ts, `{"name":"bot","permissions":["users.read"],"rate_limit_rpm":0}`)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/rate-limit", nil)
		req.Header.Set("Authorization", "Bearer "+secret)
		require.Equal(t, http.StatusOK, ts.do(t, req, "").Code)
	}

	rec := ts.doJSON(t, http.MethodGet, "/admin/api_keys/"+view.ID+"/logs?limit=2", "", rootEmail)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp usageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, view.ID, resp.KeyID)
	assert.Equal(t, "bot", resp.KeyName)
	require.Len(t, resp.Logs, 2)
	assert.Equal(t, "rate_limit_status", resp.Logs[0].Action)
	assert.Equal(t, "/api/rate-limit", resp.Logs[0].Endpoint)
	assert.Equal(t, http.MethodGet, resp.Logs[0].Method)
	assert.False(t, resp.Logs[0].At.Before(resp.Logs[1].At))

	rec = ts.doJSON(t, http.MethodGet, "/admin/api_keys/"+view.ID+"/logs?limit=0", "", rootEmail)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Logs, 3)

	rec = ts.doJSON(t, http.MethodGet, "/admin/api_keys/"+view.ID+"/logs?limit=abc", "", rootEmail)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid limit", errorOf(t, rec))

	rec = ts.doJSON(t, http.MethodGet, "/admin/api_keys/missing/logs", "", rootEmail)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "API key not found", errorOf(t, rec))

	rec = ts.doJSON(t, http.MethodGet, "/admin/api_keys/"+view.ID+"/logs", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.doJSON(t, http.MethodGet, "/admin/api_keys/"+view.ID+"/logs", "", "stranger@example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestKeyUserInfo(t *testing.T) {
	ts := newTestServer(t)
	clientID, secret := ts.registerApp(t)
	code := ts.authorizeCode(t, clientID, rootEmail)
	rec := ts.doForm(t, "/oauth/token", url.Values{
		"grant_type": {"authorization_code"}, "code": {code}, "redirect_uri": {testRedirect},
		"client_id": {clientID}, "client_secret": {secret},
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var token goAccess.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))

	oauthKey, _ := createKey(t, ts, `{"name":"backend","permissions":["oauth"]}`)
	otherKey, _ := createKey(t, ts, `{"name":"reader","permissions":["users.read"]}`)

	post := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/oauth/user-info", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+key)
		return ts.do(t, req, "")
	}

	rec = post(oauthKey, `{"token":"`+token.AccessToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp keyUserInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, rootEmail, resp.User.Email)
	assert.True(t, resp.User.IsAdmin)

	rec = post(otherKey, `{"token":"`+token.AccessToken+`"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Insufficient permissions", errorOf(t, rec))

	rec = post(oauthKey, `{"token":"garbage"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(oauthKey, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
