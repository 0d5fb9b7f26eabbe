// Package storemem keeps goAccess clients, admins, grants and API keys in
// process memory. It suits tests, examples and single-instance deployments
// where losing state on restart is acceptable.
package storemem

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/permission"
)

// Store implements goAccess.ClientRegistry, AdminStore, GrantStore and
// APIKeyStore. Returned records are copies.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	clients map[string]*goAccess.Client
	admins  map[string]*goAccess.Admin
	seq     int64
	grants  map[string][]permission.Grant
	keys    map[string]*goAccess.APIKey
	byHash  map[string]string
	usage   []goAccess.APIKeyUsage
}

var (
	_ goAccess.ClientRegistry = (*Store)(nil)
	_ goAccess.AdminStore     = (*Store)(nil)
	_ goAccess.GrantStore     = (*Store)(nil)
	_ goAccess.APIKeyStore    = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		now:     time.Now,
		clients: make(map[string]*goAccess.Client),
		admins:  make(map[string]*goAccess.Admin),
		grants:  make(map[string][]permission.Grant),
		keys:    make(map[string]*goAccess.APIKey),
		byHash:  make(map[string]string),
	}
}

// WithClock sets the time source used for created_at stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) GetClient(_ context.Context, clientID string) (*goAccess.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, goAccess.ErrClientNotFound
	}
	return cloneClient(c), nil
}

func (s *Store) CreateClient(_ context.Context, client *goAccess.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("storemem: client id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; ok {
		return fmt.Errorf("storemem: client %q already exists", client.ID)
	}
	c := cloneClient(client)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.clients[c.ID] = c
	return nil
}

func (s *Store) UpdateClientSecret(_ context.Context, clientID, secretHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return goAccess.ErrClientNotFound
	}
	c.SecretHash = secretHash
	return nil
}

// SetClientActive enables or disables a client.
func (s *Store) SetClientActive(_ context.Context, clientID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return goAccess.ErrClientNotFound
	}
	c.Active = active
	return nil
}

func (s *Store) GetAdmin(_ context.Context, email string) (*goAccess.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.admins[email]
	if !ok {
		return nil, goAccess.ErrAdminNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) SystemAdmin(_ context.Context) (*goAccess.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first *goAccess.Admin
	for _, a := range s.admins {
		if first == nil || a.Seq < first.Seq {
			first = a
		}
	}
	if first == nil {
		return nil, goAccess.ErrAdminNotFound
	}
	cp := *first
	return &cp, nil
}

func (s *Store) AddAdmin(_ context.Context, email, addedBy string) (*goAccess.Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.admins[email]; ok {
		return nil, goAccess.ErrAdminExists
	}
	s.seq++
	a := &goAccess.Admin{
		Email:     email,
		AddedBy:   addedBy,
		Active:    true,
		Seq:       s.seq,
		CreatedAt: s.now().UTC(),
	}
	s.admins[email] = a
	cp := *a
	return &cp, nil
}

func (s *Store) SetAdminActive(_ context.Context, email string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.admins[email]
	if !ok {
		return goAccess.ErrAdminNotFound
	}
	a.Active = active
	return nil
}

// ListAdmins returns admins in creation order.
func (s *Store) ListAdmins(_ context.Context) ([]goAccess.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]goAccess.Admin, 0, len(s.admins))
	for _, a := range s.admins {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) ListGrants(_ context.Context, email string) ([]permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.grants[email]), nil
}

func (s *Store) AddGrant(_ context.Context, grant permission.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.grants[grant.AdminEmail] {
		if existing.SameTarget(grant) {
			return nil
		}
	}
	s.grants[grant.AdminEmail] = append(s.grants[grant.AdminEmail], grant)
	return nil
}

func (s *Store) RemoveGrant(_ context.Context, email string, typ permission.ResourceType, value string, level permission.Level) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := permission.Grant{Type: typ, Value: value, Level: level}
	list := s.grants[email]
	for i, g := range list {
		if g.SameTarget(target) {
			s.grants[email] = slices.Delete(slices.Clone(list), i, i+1)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ReplaceGrants(_ context.Context, email string, grants []permission.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(grants) == 0 {
		delete(s.grants, email)
		return nil
	}
	s.grants[email] = slices.Clone(grants)
	return nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, keyHash string) (*goAccess.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[keyHash]
	if !ok {
		return nil, goAccess.ErrAPIKeyNotFound
	}
	return cloneKey(s.keys[id]), nil
}

func (s *Store) GetAPIKey(_ context.Context, id string) (*goAccess.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, goAccess.ErrAPIKeyNotFound
	}
	return cloneKey(k), nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *goAccess.APIKey) error {
	if key == nil || key.ID == "" || key.KeyHash == "" {
		return fmt.Errorf("storemem: api key id and hash are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.ID]; ok {
		return fmt.Errorf("storemem: api key %q already exists", key.ID)
	}
	if _, ok := s.byHash[key.KeyHash]; ok {
		return fmt.Errorf("storemem: api key hash collision")
	}
	k := cloneKey(key)
	if k.CreatedAt.IsZero() {
		k.CreatedAt = s.now().UTC()
	}
	s.keys[k.ID] = k
	s.byHash[k.KeyHash] = k.ID
	return nil
}

// UpdateAPIKey replaces name, permissions and rate. The hash is immutable.
func (s *Store) UpdateAPIKey(_ context.Context, key *goAccess.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[key.ID]
	if !ok {
		return goAccess.ErrAPIKeyNotFound
	}
	k.Name = key.Name
	k.Permissions = slices.Clone(key.Permissions)
	k.RateLimitRPM = key.RateLimitRPM
	return nil
}

func (s *Store) DeleteAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return goAccess.ErrAPIKeyNotFound
	}
	delete(s.byHash, k.KeyHash)
	delete(s.keys, id)
	return nil
}

// ListAPIKeys returns keys newest first.
func (s *Store) ListAPIKeys(_ context.Context) ([]goAccess.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]goAccess.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *cloneKey(k))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return goAccess.ErrAPIKeyNotFound
	}
	k.LastUsedAt = at
	return nil
}

func (s *Store) LogUsage(_ context.Context, usage goAccess.APIKeyUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage = append(s.usage, usage)
	return nil
}

// ListUsage returns keyID's usage newest first. A limit <= 0 returns every
// record.
func (s *Store) ListUsage(_ context.Context, keyID string, limit int) ([]goAccess.APIKeyUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []goAccess.APIKeyUsage
	for i := len(s.usage) - 1; i >= 0; i-- {
		if s.usage[i].KeyID != keyID {
			continue
		}
		out = append(out, s.usage[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneClient(c *goAccess.Client) *goAccess.Client {
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.AllowedScopes = slices.Clone(c.AllowedScopes)
	return &cp
}

func cloneKey(k *goAccess.APIKey) *goAccess.APIKey {
	cp := *k
	cp.Permissions = slices.Clone(k.Permissions)
	return &cp
}
