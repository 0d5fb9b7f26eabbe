package goAccess

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAccess/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var errInjected = errors.New("injected backend failure")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBackend implements every collaborator interface in memory.
type fakeBackend struct {
	mu      sync.Mutex
	clients map[string]*Client
	admins  map[string]*Admin
	seq     int64
	grants  map[string][]permission.Grant
	keys    map[string]*APIKey
	usage   []APIKeyUsage
	touched map[string]time.Time
	fail    bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		clients: make(map[string]*Client),
		admins:  make(map[string]*Admin),
		grants:  make(map[string][]permission.Grant),
		keys:    make(map[string]*APIKey),
		touched: make(map[string]time.Time),
	}
}

func (f *fakeBackend) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeBackend) GetClient(_ context.Context, clientID string) (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errInjected
	}
	c, ok := f.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeBackend) CreateClient(_ context.Context, client *Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errInjected
	}
	cp := *client
	f.clients[client.ID] = &cp
	return nil
}

func (f *fakeBackend) UpdateClientSecret(_ context.Context, clientID, secretHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	c.SecretHash = secretHash
	return nil
}

func (f *fakeBackend) setClientActive(clientID string, active bool) {
	f.mu.Lock()
	f.clients[clientID].Active = active
	f.mu.Unlock()
}

func (f *fakeBackend) GetAdmin(_ context.Context, email string) (*Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errInjected
	}
	a, ok := f.admins[email]
	if !ok {
		return nil, ErrAdminNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeBackend) SystemAdmin(_ context.Context) (*Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errInjected
	}
	var first *Admin
	for _, a := range f.admins {
		if first == nil || a.Seq < first.Seq {
			first = a
		}
	}
	if first == nil {
		return nil, ErrAdminNotFound
	}
	cp := *first
	return &cp, nil
}

func (f *fakeBackend) AddAdmin(_ context.Context, email, addedBy string) (*Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.admins[email]; ok {
		return nil, ErrAdminExists
	}
	f.seq++
	a := &Admin{Email: email, AddedBy: addedBy, Active: true, Seq: f.seq, CreatedAt: time.Now()}
	f.admins[email] = a
	cp := *a
	return &cp, nil
}

func (f *fakeBackend) SetAdminActive(_ context.Context, email string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.admins[email]
	if !ok {
		return ErrAdminNotFound
	}
	a.Active = active
	return nil
}

func (f *fakeBackend) ListAdmins(_ context.Context) ([]Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Admin, 0, len(f.admins))
	for _, a := range f.admins {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (f *fakeBackend) ListGrants(_ context.Context, email string) ([]permission.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errInjected
	}
	return slices.Clone(f.grants[email]), nil
}

func (f *fakeBackend) AddGrant(_ context.Context, g permission.Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.grants[g.AdminEmail] {
		if existing.SameTarget(g) {
			return nil
		}
	}
	f.grants[g.AdminEmail] = append(f.grants[g.AdminEmail], g)
	return nil
}

func (f *fakeBackend) RemoveGrant(_ context.Context, email string, typ permission.ResourceType, value string, level permission.Level) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := permission.Grant{Type: typ, Value: value, Level: level}
	list := f.grants[email]
	for i, g := range list {
		if g.SameTarget(target) {
			f.grants[email] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) ReplaceGrants(_ context.Context, email string, grants []permission.Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[email] = slices.Clone(grants)
	return nil
}

func (f *fakeBackend) GetAPIKeyByHash(_ context.Context, keyHash string) (*APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errInjected
	}
	for _, k := range f.keys {
		if k.KeyHash == keyHash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrAPIKeyNotFound
}

func (f *fakeBackend) GetAPIKey(_ context.Context, id string) (*APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[id]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (f *fakeBackend) CreateAPIKey(_ context.Context, key *APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *key
	f.keys[key.ID] = &cp
	return nil
}

func (f *fakeBackend) UpdateAPIKey(_ context.Context, key *APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key.ID]; !ok {
		return ErrAPIKeyNotFound
	}
	cp := *key
	f.keys[key.ID] = &cp
	return nil
}

func (f *fakeBackend) DeleteAPIKey(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[id]; !ok {
		return ErrAPIKeyNotFound
	}
	delete(f.keys, id)
	return nil
}

func (f *fakeBackend) ListAPIKeys(_ context.Context) ([]APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]APIKey, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, *k)
	}
	return out, nil
}

func (f *fakeBackend) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = at
	return nil
}

func (f *fakeBackend) LogUsage(_ context.Context, usage APIKeyUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, usage)
	return nil
}

func (f *fakeBackend) ListUsage(_ context.Context, keyID string, limit int) ([]APIKeyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errInjected
	}
	var out []APIKeyUsage
	for i := len(f.usage) - 1; i >= 0; i-- {
		if f.usage[i].KeyID != keyID {
			continue
		}
		out = append(out, f.usage[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeBackend) usageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.usage)
}

type testEnv struct {
	engine  *Engine
	backend *fakeBackend
	clock   *testClock
	mr      *miniredis.Miniredis
}

func testConfig(t testing.TB) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password = PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t testing.TB, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithSink(t, mutate, nil)
}

func newTestEnvWithSink(t testing.TB, mutate func(*Config), sink AuditSink) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	backend := newFakeBackend()
	clock := newTestClock()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithClientRegistry(backend).
		WithAdminStore(backend).
		WithGrantStore(backend).
		WithAPIKeyStore(backend).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &testEnv{engine: engine, backend: backend, clock: clock, mr: mr}
}

// addClient registers a client directly and returns its plaintext secret.
func (env *testEnv) addClient(t testing.TB, c Client) string {
	t.Helper()

	const secret = "s3cret-for-tests-only"
	hash, err := env.engine.secrets.Hash(secret)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	c.SecretHash = hash
	c.Active = true
	if len(c.AllowedScopes) == 0 {
		c.AllowedScopes = []string{"profile", "email"}
	}
	if err := env.backend.CreateClient(context.Background(), &c); err != nil {
		t.Fatalf("create client: %v", err)
	}
	return secret
}

func (env *testEnv) addAdmin(t testing.TB, email string, grants ...permission.Grant) {
	t.Helper()

	if _, err := env.backend.AddAdmin(context.Background(), email, ""); err != nil {
		t.Fatalf("add admin %s: %v", email, err)
	}
	for _, g := range grants {
		g.AdminEmail = email
		if err := env.backend.AddGrant(context.Background(), g); err != nil {
			t.Fatalf("add grant: %v", err)
		}
	}
}

// issueCode runs authorize and approve for subject and returns the code.
func (env *testEnv) issueCode(t testing.TB, clientID, redirectURI, subject, scope string) string {
	t.Helper()

	prompt, err := env.engine.Authorize(context.Background(), AuthorizeRequest{
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		ResponseType: "code",
		Scope:        scope,
		State:        "xyz",
		Subject:      subject,
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	decision, err := env.engine.DecideConsent(context.Background(), subject, prompt.ConsentID, true)
	if err != nil {
		t.Fatalf("DecideConsent: %v", err)
	}
	if !decision.Approved || decision.Code == "" {
		t.Fatalf("expected approval, got %+v", decision)
	}
	return decision.Code
}
