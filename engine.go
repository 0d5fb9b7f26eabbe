package goAccess

import (
	"context"
	"time"

	"github.com/MrEthical07/goAccess/internal/rate"
	"github.com/MrEthical07/goAccess/internal/stores"
	"github.com/MrEthical07/goAccess/jwt"
	"github.com/MrEthical07/goAccess/password"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/rs/zerolog"
)

// slidingLimiter is satisfied by rate.Window and rate.RedisWindow.
type slidingLimiter interface {
	Allow(ctx context.Context, key string, limit int) (rate.Decision, error)
	Stats(ctx context.Context, key string, limit int) (rate.Decision, error)
	Reset(ctx context.Context, key string) error
	Sweep(ctx context.Context) (int, error)
}

// Engine is the access-control core: the OAuth authorization server, the
// permission resolver and the API-key gate.
//
// Engine instances are built once through [Builder] and are safe for
// concurrent use.
type Engine struct {
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
	registry *permission.Registry

	codes    *stores.AuthorizationCodeStore
	tokens   *stores.AccessTokenStore
	consents *stores.PendingConsentStore
	limiter  slidingLimiter

	jwtManager *jwt.Manager
	secrets    *password.Argon2

	clients ClientRegistry
	admins  AdminStore
	grants  GrantStore
	apiKeys APIKeyStore

	audit   *auditQueue
	metrics *Metrics
}

// Close stops the audit queue after draining queued events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.shutdown()
}

// AuditDropped returns how many audit events were discarded, either because
// the buffer was full or because the caller's context ended first.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Permissions returns the API-key permission catalogue.
func (e *Engine) Permissions() []string {
	if e == nil || e.registry == nil {
		return nil
	}
	return e.registry.Names()
}

// Logger returns the engine's logger for callers that want to share it.
func (e *Engine) Logger() zerolog.Logger {
	if e == nil {
		return zerolog.Nop()
	}
	return e.logger
}

// LoginURL is where unauthenticated authorize requests are sent.
func (e *Engine) LoginURL() string {
	if e == nil {
		return ""
	}
	return e.config.OAuth.LoginURL
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// lookupContext bounds one collaborator call.
func (e *Engine) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.Lookup.Timeout)
}
