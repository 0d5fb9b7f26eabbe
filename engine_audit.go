package goAccess

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	auditEventAuthorize            = "oauth_authorize"
	auditEventConsentApproved      = "oauth_consent_approved"
	auditEventConsentDenied        = "oauth_consent_denied"
	auditEventTokenIssued          = "oauth_token_issued"
	auditEventTokenExchangeFailure = "oauth_token_exchange_failure"
	auditEventTokenRevoked         = "oauth_token_revoked"
	auditEventClientRegistered     = "oauth_client_registered"
	auditEventClientSecretRotated  = "oauth_client_secret_rotated"
	auditEventPermissionGranted    = "permission_granted"
	auditEventPermissionRevoked    = "permission_revoked"
	auditEventPermissionsReplaced  = "permissions_replaced"
	auditEventAdminAdded           = "admin_added"
	auditEventAdminStatusChange    = "admin_status_change"
	auditEventAPIKeyCreated        = "api_key_created"
	auditEventAPIKeyUpdated        = "api_key_updated"
	auditEventAPIKeyDeleted        = "api_key_deleted"
	auditEventAPIKeyRejected       = "api_key_rejected"
	auditEventAPIKeyUsed           = "api_key_used"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
)

// retainedAuditEvents record admin decisions. They wait for buffer room even
// when Audit.DropIfFull is set.
var retainedAuditEvents = map[string]bool{
	auditEventTokenRevoked:        true,
	auditEventClientRegistered:    true,
	auditEventClientSecretRotated: true,
	auditEventPermissionGranted:   true,
	auditEventPermissionRevoked:   true,
	auditEventPermissionsReplaced: true,
	auditEventAdminAdded:          true,
	auditEventAdminStatusChange:   true,
	auditEventAPIKeyCreated:       true,
	auditEventAPIKeyUpdated:       true,
	auditEventAPIKeyDeleted:       true,
}

// AuditErrorCode is the stable error label carried in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidRequest   AuditErrorCode = "invalid_request"
	auditErrInvalidClient    AuditErrorCode = "invalid_client"
	auditErrInvalidGrant     AuditErrorCode = "invalid_grant"
	auditErrInvalidScope     AuditErrorCode = "invalid_scope"
	auditErrAccessDenied     AuditErrorCode = "access_denied"
	auditErrInvalidToken     AuditErrorCode = "invalid_token"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrUnauthorized     AuditErrorCode = "unauthorized"
	auditErrForbidden        AuditErrorCode = "forbidden"
	auditErrSelfModification AuditErrorCode = "self_modification"
	auditErrProtected        AuditErrorCode = "system_admin_protected"
	auditErrNotFound         AuditErrorCode = "not_found"
	auditErrDuplicate        AuditErrorCode = "duplicate"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

// auditRecord carries the identity fields of one event.
type auditRecord struct {
	Actor    string
	Subject  string
	ClientID string
	KeyID    string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	rec auditRecord,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Actor:     rec.Actor,
		Subject:   rec.Subject,
		ClientID:  rec.ClientID,
		KeyID:     rec.KeyID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.enqueue(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	rec auditRecord,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, rec, ErrRateLimited, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrUnsupportedGrantType),
		errors.Is(err, ErrUnsupportedResponseType),
		errors.Is(err, ErrRedirectURIMismatch),
		errors.Is(err, ErrInvalidPermission),
		errors.Is(err, ErrInvalidRateLimit):
		return auditErrInvalidRequest
	case errors.Is(err, ErrInvalidClient):
		return auditErrInvalidClient
	case errors.Is(err, ErrInvalidGrant):
		return auditErrInvalidGrant
	case errors.Is(err, ErrInvalidScope):
		return auditErrInvalidScope
	case errors.Is(err, ErrAccessDenied):
		return auditErrAccessDenied
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrPermissionDenied):
		return auditErrForbidden
	case errors.Is(err, ErrSelfModification):
		return auditErrSelfModification
	case errors.Is(err, ErrSystemAdminProtected):
		return auditErrProtected
	case errors.Is(err, ErrClientNotFound),
		errors.Is(err, ErrAdminNotFound),
		errors.Is(err, ErrAPIKeyNotFound),
		errors.Is(err, ErrConsentNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrAdminExists):
		return auditErrDuplicate
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// auditQueue delivers events to the sink from a single worker so request
// paths never wait on sink I/O.
type auditQueue struct {
	sink        AuditSink
	logger      zerolog.Logger
	events      chan AuditEvent
	stop        chan struct{}
	worker      sync.WaitGroup
	lossy       bool
	sinkTimeout time.Duration
	dropped     atomic.Uint64
	stopped     atomic.Bool
	stopOnce    sync.Once
}

func newAuditQueue(cfg AuditConfig, sink AuditSink, logger zerolog.Logger) *auditQueue {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	q := &auditQueue{
		sink:        sink,
		logger:      logger,
		events:      make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stop:        make(chan struct{}),
		lossy:       cfg.DropIfFull,
		sinkTimeout: cfg.SinkTimeout,
	}
	q.worker.Add(1)
	go q.run()
	return q
}

func (q *auditQueue) run() {
	defer q.worker.Done()

	for {
		select {
		case event := <-q.events:
			q.deliver(event)
		case <-q.stop:
			for {
				select {
				case event := <-q.events:
					q.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event
// only; the worker keeps running.
func (q *auditQueue) deliver(event AuditEvent) {
	ctx := context.Background()
	if q.sinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.sinkTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Str("event_type", event.EventType).Msg("audit sink panicked")
		}
	}()
	q.sink.Emit(ctx, event)
}

func (q *auditQueue) enqueue(ctx context.Context, event AuditEvent) {
	if q == nil || q.stopped.Load() {
		return
	}

	if q.lossy && !retainedAuditEvents[event.EventType] {
		select {
		case q.events <- event:
		case <-q.stop:
		default:
			q.drop(event)
		}
		return
	}

	select {
	case q.events <- event:
	case <-q.stop:
	case <-ctx.Done():
		q.drop(event)
	}
}

// drop counts a lost event and logs the first one and every thousandth.
func (q *auditQueue) drop(event AuditEvent) {
	n := q.dropped.Add(1)
	if n == 1 || n%1000 == 0 {
		q.logger.Warn().Uint64("dropped_total", n).Str("event_type", event.EventType).Msg("audit event dropped")
	}
}

// shutdown drains queued events into the sink and stops the worker. Later
// enqueues are ignored.
func (q *auditQueue) shutdown() {
	if q == nil {
		return
	}
	q.stopOnce.Do(func() {
		q.stopped.Store(true)
		close(q.stop)
		q.worker.Wait()
	})
}

func (q *auditQueue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}
