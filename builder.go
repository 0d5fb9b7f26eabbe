package goAccess

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccess/internal/rate"
	"github.com/MrEthical07/goAccess/internal/stores"
	"github.com/MrEthical07/goAccess/jwt"
	"github.com/MrEthical07/goAccess/password"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine]. A Builder can be used for one Build.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zerolog.Logger
	now    func() time.Time

	clients ClientRegistry
	admins  AdminStore
	grants  GrantStore
	apiKeys APIKeyStore

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for codes, tokens, consents and the
// Redis rate limit backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithClientRegistry sets the OAuth client lookup.
func (b *Builder) WithClientRegistry(r ClientRegistry) *Builder {
	b.clients = r
	return b
}

// WithAdminStore sets the admin record store.
func (b *Builder) WithAdminStore(s AdminStore) *Builder {
	b.admins = s
	return b
}

// WithGrantStore sets the permission grant store.
func (b *Builder) WithGrantStore(s GrantStore) *Builder {
	b.grants = s
	return b
}

// WithAPIKeyStore sets the API key store.
func (b *Builder) WithAPIKeyStore(s APIKeyStore) *Builder {
	b.apiKeys = s
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = &logger
	return b
}

// WithClock replaces time.Now for expiry and window decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms. Requires metrics.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
//
// Build fails when the configuration is invalid, when a collaborator or
// the Redis client is missing, or when key material cannot be parsed.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.clients == nil {
		return nil, errors.New("client registry required")
	}
	if b.admins == nil || b.grants == nil {
		return nil, errors.New("admin and grant stores required")
	}
	if b.apiKeys == nil {
		return nil, errors.New("api key store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := zerolog.Nop()
	if b.logger != nil {
		logger = *b.logger
	}

	// -------- PERMISSION REGISTRY --------
	registry := permission.NewRegistry(cfg.APIKey.AllowWildcard)
	for _, p := range cfg.APIKey.Permissions {
		if _, err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("register permission %q: %w", p, err)
		}
	}
	registry.Freeze()

	// -------- RECORD STORES --------
	prefix := cfg.OAuth.RedisPrefix
	engine := &Engine{
		config:   cloneConfig(cfg),
		logger:   logger.With().Str("component", "goaccess").Logger(),
		now:      now,
		registry: registry,
		codes:    stores.NewAuthorizationCodeStore(b.redis, prefix+":code", cfg.OAuth.RecordRetention, now),
		tokens:   stores.NewAccessTokenStore(b.redis, prefix+":tok", cfg.OAuth.RecordRetention, now),
		consents: stores.NewPendingConsentStore(b.redis, prefix+":consent", now),
		clients:  b.clients,
		admins:   b.admins,
		grants:   b.grants,
		apiKeys:  b.apiKeys,
	}

	// -------- RATE LIMITING --------
	switch cfg.RateLimit.Backend {
	case RateLimitRedis:
		engine.limiter = rate.NewRedisWindow(b.redis, cfg.RateLimit.RedisPrefix, cfg.RateLimit.Window, now)
	default:
		engine.limiter = rate.NewWindow(cfg.RateLimit.Window, now)
	}

	engine.audit = newAuditQueue(cfg.Audit, b.auditSink, engine.logger)
	engine.metrics = NewMetrics(cfg.Metrics)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.secrets = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.OAuth.AccessTokenTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
