// Package storetest is a conformance suite for goAccess collaborator stores.
// Implementations call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend is a store implementing every collaborator interface.
type Backend interface {
	goAccess.ClientRegistry
	goAccess.AdminStore
	goAccess.GrantStore
	goAccess.APIKeyStore
}

// Run exercises a Backend. factory is called once per subtest and must
// return an empty store.
func Run(t *testing.T, factory func(t *testing.T) Backend) {
	t.Run("clients", func(t *testing.T) { testClients(t, factory(t)) })
	t.Run("admins", func(t *testing.T) { testAdmins(t, factory(t)) })
	t.Run("grants", func(t *testing.T) { testGrants(t, factory(t)) })
	t.Run("api_keys", func(t *testing.T) { testAPIKeys(t, factory(t)) })
}

func testClients(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.GetClient(ctx, "missing")
	require.ErrorIs(t, err, goAccess.ErrClientNotFound)

	want := &goAccess.Client{
		ID:            "client-1",
		Name:          "Dashboard",
		SecretHash:    "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		RedirectURIs:  []string{"https://app.example.com/cb", "https://app.example.com/cb2"},
		AllowedScopes: []string{"profile", "email"},
		Active:        true,
		CreatedBy:     "root@example.com",
	}
	require.NoError(t, s.CreateClient(ctx, want))

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, want.AllowedScopes, got.AllowedScopes)
	assert.True(t, got.Active)
	assert.False(t, got.AllowAnyone)

	got.RedirectURIs[0] = "https://evil.example.com"
	again, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/cb", again.RedirectURIs[0], "returned client must be a copy")

	require.NoError(t, s.UpdateClientSecret(ctx, "client-1", "new-hash"))
	got, err = s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.SecretHash)

	require.ErrorIs(t, s.UpdateClientSecret(ctx, "missing", "x"), goAccess.ErrClientNotFound)
}

func testAdmins(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.SystemAdmin(ctx)
	require.ErrorIs(t, err, goAccess.ErrAdminNotFound)
	_, err = s.GetAdmin(ctx, "root@example.com")
	require.ErrorIs(t, err, goAccess.ErrAdminNotFound)

	first, err := s.AddAdmin(ctx, "root@example.com", "")
	require.NoError(t, err)
	assert.True(t, first.Active)
	second, err := s.AddAdmin(ctx, "staff@example.com", "root@example.com")
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	_, err = s.AddAdmin(ctx, "staff@example.com", "root@example.com")
	require.ErrorIs(t, err, goAccess.ErrAdminExists)

	sys, err := s.SystemAdmin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", sys.Email)

	require.NoError(t, s.SetAdminActive(ctx, "staff@example.com", false))
	staff, err := s.GetAdmin(ctx, "staff@example.com")
	require.NoError(t, err)
	assert.False(t, staff.Active)
	assert.Equal(t, "root@example.com", staff.AddedBy)
	require.ErrorIs(t, s.SetAdminActive(ctx, "nobody@example.com", true), goAccess.ErrAdminNotFound)

	list, err := s.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "root@example.com", list[0].Email)
	assert.Equal(t, "staff@example.com", list[1].Email)
}

func testGrants(t *testing.T, s Backend) {
	ctx := context.Background()
	const email = "staff@example.com"
	_, err := s.AddAdmin(ctx, email, "root@example.com")
	require.NoError(t, err)

	grants, err := s.ListGrants(ctx, email)
	require.NoError(t, err)
	assert.Empty(t, grants)

	read := permission.Grant{AdminEmail: email, Type: permission.Event, Value: "hackathon", Level: permission.Read, GrantedBy: "root@example.com"}
	write := permission.Grant{AdminEmail: email, Type: permission.Page, Value: permission.Any, Level: permission.Write, GrantedBy: "root@example.com"}
	require.NoError(t, s.AddGrant(ctx, read))
	require.NoError(t, s.AddGrant(ctx, read))
	require.NoError(t, s.AddGrant(ctx, write))

	grants, err = s.ListGrants(ctx, email)
	require.NoError(t, err)
	assert.Len(t, grants, 2, "AddGrant must be idempotent")

	removed, err := s.RemoveGrant(ctx, email, permission.Event, "hackathon", permission.Read)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveGrant(ctx, email, permission.Event, "hackathon", permission.Read)
	require.NoError(t, err)
	assert.False(t, removed)

	replacement := []permission.Grant{
		{AdminEmail: email, Type: permission.App, Value: "client-1", Level: permission.Read},
	}
	require.NoError(t, s.ReplaceGrants(ctx, email, replacement))
	grants, err = s.ListGrants(ctx, email)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, permission.App, grants[0].Type)
	assert.Equal(t, "client-1", grants[0].Value)

	require.NoError(t, s.ReplaceGrants(ctx, email, nil))
	grants, err = s.ListGrants(ctx, email)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func testAPIKeys(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.GetAPIKeyByHash(ctx, "nope")
	require.ErrorIs(t, err, goAccess.ErrAPIKeyNotFound)

	created := time.Now().UTC().Truncate(time.Second)
	for i := range 2 {
		require.NoError(t, s.CreateAPIKey(ctx, &goAccess.APIKey{
			ID:           fmt.Sprintf("key-%d", i),
			Name:         fmt.Sprintf("bot %d", i),
			KeyHash:      fmt.Sprintf("hash-%d", i),
			Permissions:  []string{"users.read", "oauth"},
			RateLimitRPM: 60,
			CreatedBy:    "root@example.com",
			CreatedAt:    created.Add(time.Duration(i) * time.Second),
		}))
	}

	key, err := s.GetAPIKeyByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", key.ID)
	assert.Equal(t, []string{"users.read", "oauth"}, key.Permissions)
	assert.Equal(t, 60, key.RateLimitRPM)

	key.Name = "renamed"
	key.Permissions = []string{"discord.manage"}
	key.RateLimitRPM = 0
	require.NoError(t, s.UpdateAPIKey(ctx, key))
	key, err = s.GetAPIKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", key.Name)
	assert.Equal(t, []string{"discord.manage"}, key.Permissions)
	assert.Equal(t, 0, key.RateLimitRPM)
	assert.Equal(t, "hash-1", key.KeyHash)

	used := created.Add(time.Minute)
	require.NoError(t, s.TouchLastUsed(ctx, "key-1", used))
	key, err = s.GetAPIKey(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, key.LastUsedAt.Equal(used))

	require.NoError(t, s.LogUsage(ctx, goAccess.APIKeyUsage{
		KeyID: "key-1", Action: "register", Endpoint: "/api/events/register", Method: "POST", IP: "192.0.2.1", At: used,
	}))
	require.NoError(t, s.LogUsage(ctx, goAccess.APIKeyUsage{
		KeyID: "key-1", Action: "lookup", Endpoint: "/api/oauth/user-info", Method: "POST", IP: "192.0.2.1", At: used.Add(time.Second),
	}))
	usage, err := s.ListUsage(ctx, "key-1", 0)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "lookup", usage[0].Action, "newest first")
	assert.Equal(t, "/api/events/register", usage[1].Endpoint)
	assert.True(t, usage[1].At.Equal(used))
	usage, err = s.ListUsage(ctx, "key-1", 1)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "lookup", usage[0].Action)
	usage, err = s.ListUsage(ctx, "key-0", 0)
	require.NoError(t, err)
	assert.Empty(t, usage)

	list, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "key-1", list[0].ID, "newest first")

	require.NoError(t, s.DeleteAPIKey(ctx, "key-1"))
	_, err = s.GetAPIKeyByHash(ctx, "hash-1")
	require.ErrorIs(t, err, goAccess.ErrAPIKeyNotFound)
	require.ErrorIs(t, s.DeleteAPIKey(ctx, "key-1"), goAccess.ErrAPIKeyNotFound)
	require.ErrorIs(t, s.UpdateAPIKey(ctx, &goAccess.APIKey{ID: "key-1"}), goAccess.ErrAPIKeyNotFound)
}
