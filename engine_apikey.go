package goAccess

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/goAccess/internal"
	"github.com/MrEthical07/goAccess/internal/rate"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/google/uuid"
)

const maxCredentialBytes = 256

// AuthorizeAPIKey runs the API-key gate: credential shape, key lookup,
// any-of permission match, rate limit, then usage logging. Each stage
// stops the pipeline on failure.
//
// On ErrRateLimited the returned GateResult is non-nil and carries the
// window state for response headers.
func (e *Engine) AuthorizeAPIKey(ctx context.Context, req GateRequest) (*GateResult, error) {
	if e == nil || e.apiKeys == nil || e.limiter == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricGateLatency, start)

	// (a) credential
	if !e.wellFormedCredential(req.Credential) {
		e.metricInc(MetricGateUnauthorized)
		return nil, ErrUnauthorized
	}

	// (b) key lookup
	key, err := e.lookupAPIKey(ctx, req.Credential)
	if err != nil {
		e.metricInc(MetricGateForbidden)
		e.emitAudit(ctx, auditEventAPIKeyRejected, false, auditRecord{}, err, gateMetadata(req))
		return nil, err
	}
	rec := auditRecord{KeyID: key.ID}
	if len(key.Permissions) == 0 {
		e.metricInc(MetricGateForbidden)
		e.emitAudit(ctx, auditEventAPIKeyRejected, false, rec, ErrInvalidAPIKey, gateMetadata(req))
		return nil, ErrInvalidAPIKey
	}

	// (c) permission
	held := e.registry.MaskKnown(key.Permissions)
	required := e.registry.MaskKnown(req.Required)
	if required.IsZero() || !e.registry.AnyOf(held, required) {
		e.metricInc(MetricGateForbidden)
		e.emitAudit(ctx, auditEventAPIKeyRejected, false, rec, ErrInsufficientPermissions, gateMetadata(req))
		return nil, ErrInsufficientPermissions
	}

	// (d) rate limit; the key's rate is resolved before entering the limiter
	rpm := e.resolveRPM(key)
	decision, err := e.limiter.Allow(ctx, rateKey(key.ID), rpm)
	if err != nil {
		e.metricInc(MetricBackendError)
		e.logger.Error().Err(err).Str("key_id", key.ID).Msg("rate limiter unavailable")
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	result := &GateResult{
		KeyID:       key.ID,
		KeyName:     key.Name,
		Permissions: slices.Clone(key.Permissions),
		Rate:        rateInfo(decision),
	}
	if !decision.Allowed {
		e.emitRateLimit(ctx, "api_key", rec, func() map[string]string {
			return map[string]string{"limit": fmt.Sprintf("%d", decision.Limit)}
		})
		return result, ErrRateLimited
	}

	// (e) usage
	e.recordUsage(ctx, key, req)
	e.metricInc(MetricGateAllowed)
	return result, nil
}

func (e *Engine) wellFormedCredential(cred string) bool {
	if cred == "" || len(cred) > maxCredentialBytes {
		return false
	}
	if strings.ContainsAny(cred, " \t\r\n") {
		return false
	}
	return strings.HasPrefix(cred, e.config.APIKey.Prefix)
}

// lookupAPIKey fails closed: unknown keys and lookup errors both deny.
func (e *Engine) lookupAPIKey(ctx context.Context, cred string) (*APIKey, error) {
	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	key, err := e.apiKeys.GetAPIKeyByHash(lctx, internal.HashSecretHex(cred))
	if err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			return nil, ErrInvalidAPIKey
		}
		e.metricInc(MetricBackendError)
		e.logger.Error().Err(err).Msg("api key lookup failed")
		return nil, fmt.Errorf("%w: %w", ErrInvalidAPIKey, ErrBackendUnavailable)
	}
	if key == nil {
		return nil, ErrInvalidAPIKey
	}
	return key, nil
}

// resolveRPM returns the key's configured rate, or RateLimit.FallbackRPM
// when the stored value is out of range. It never resolves to unlimited
// on bad data.
func (e *Engine) resolveRPM(key *APIKey) int {
	if err := rate.ValidateRPM(key.RateLimitRPM); err != nil {
		e.logger.Warn().Str("key_id", key.ID).Int("rpm", key.RateLimitRPM).Msg("invalid stored rate limit, using fallback")
		return e.config.RateLimit.FallbackRPM
	}
	return key.RateLimitRPM
}

func (e *Engine) recordUsage(ctx context.Context, key *APIKey, req GateRequest) {
	ip := req.IP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	at := e.now().UTC()

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	err := e.apiKeys.LogUsage(lctx, APIKeyUsage{
		KeyID:    key.ID,
		Action:   req.Action,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		IP:       ip,
		At:       at,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("key_id", key.ID).Msg("api key usage log failed")
	}
	if err := e.apiKeys.TouchLastUsed(lctx, key.ID, at); err != nil {
		e.logger.Warn().Err(err).Str("key_id", key.ID).Msg("api key last_used_at update failed")
	}

	e.emitAudit(ctx, auditEventAPIKeyUsed, true, auditRecord{KeyID: key.ID}, nil, gateMetadata(req))
}

// CreateAPIKey issues a key. The plaintext secret is only in the returned
// IssuedAPIKey.
func (e *Engine) CreateAPIKey(ctx context.Context, actor string, spec APIKeySpec) (*IssuedAPIKey, error) {
	if e == nil || e.apiKeys == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requirePage(ctx, actor, e.config.Permission.KeysPage, permission.Write); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	perms, err := e.validKeyPermissions(spec.Permissions)
	if err != nil {
		return nil, err
	}
	rpm := e.config.RateLimit.DefaultRPM
	if spec.RateLimitRPM != nil {
		rpm = *spec.RateLimitRPM
	}
	if err := rate.ValidateRPM(rpm); err != nil {
		return nil, ErrInvalidRateLimit
	}

	secret, err := internal.NewAPIKey(e.config.APIKey.Prefix)
	if err != nil {
		return nil, err
	}
	key := APIKey{
		ID:           uuid.NewString(),
		Name:         name,
		KeyHash:      internal.HashSecretHex(secret),
		Permissions:  perms,
		RateLimitRPM: rpm,
		CreatedBy:    actor,
		CreatedAt:    e.now().UTC(),
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()
	if err := e.apiKeys.CreateAPIKey(lctx, &key); err != nil {
		return nil, storeErr(e, err)
	}

	e.metricInc(MetricAPIKeyCreated)
	e.emitAudit(ctx, auditEventAPIKeyCreated, true, auditRecord{Actor: actor, KeyID: key.ID}, nil, func() map[string]string {
		return map[string]string{"permissions": strings.Join(perms, ",")}
	})
	return &IssuedAPIKey{Key: key, Secret: secret}, nil
}

// UpdateAPIKey applies the non-nil fields of upd.
func (e *Engine) UpdateAPIKey(ctx context.Context, actor, id string, upd APIKeyUpdate) (*APIKey, error) {
	if e == nil || e.apiKeys == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requirePage(ctx, actor, e.config.Permission.KeysPage, permission.Write); err != nil {
		return nil, err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	key, err := e.apiKeys.GetAPIKey(lctx, id)
	if err != nil {
		return nil, storeErr(e, err)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
		}
		key.Name = name
	}
	if upd.Permissions != nil {
		perms, err := e.validKeyPermissions(upd.Permissions)
		if err != nil {
			return nil, err
		}
		key.Permissions = perms
	}
	if upd.RateLimitRPM != nil {
		if err := rate.ValidateRPM(*upd.RateLimitRPM); err != nil {
			return nil, ErrInvalidRateLimit
		}
		key.RateLimitRPM = *upd.RateLimitRPM
	}

	if err := e.apiKeys.UpdateAPIKey(lctx, key); err != nil {
		return nil, storeErr(e, err)
	}
	e.metricInc(MetricAPIKeyUpdated)
	e.emitAudit(ctx, auditEventAPIKeyUpdated, true, auditRecord{Actor: actor, KeyID: key.ID}, nil, nil)
	return key, nil
}

// DeleteAPIKey removes a key and its rate window.
func (e *Engine) DeleteAPIKey(ctx context.Context, actor, id string) error {
	if e == nil || e.apiKeys == nil {
		return ErrEngineNotReady
	}
	if err := e.requirePage(ctx, actor, e.config.Permission.KeysPage, permission.Write); err != nil {
		return err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()
	if err := e.apiKeys.DeleteAPIKey(lctx, id); err != nil {
		return storeErr(e, err)
	}
	if err := e.limiter.Reset(ctx, rateKey(id)); err != nil {
		e.logger.Warn().Err(err).Str("key_id", id).Msg("rate window cleanup failed")
	}

	e.metricInc(MetricAPIKeyDeleted)
	e.emitAudit(ctx, auditEventAPIKeyDeleted, true, auditRecord{Actor: actor, KeyID: id}, nil, nil)
	return nil
}

// ListAPIKeys returns every key. Secrets are never included.
func (e *Engine) ListAPIKeys(ctx context.Context, actor string) ([]APIKey, error) {
	if e == nil || e.apiKeys == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requirePage(ctx, actor, e.config.Permission.KeysPage, permission.Read); err != nil {
		return nil, err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()
	keys, err := e.apiKeys.ListAPIKeys(lctx)
	if err != nil {
		return nil, storeErr(e, err)
	}
	return keys, nil
}

// APIKeyUsage returns the key and its most recent usage records, newest
// first. A limit <= 0 returns the full log.
func (e *Engine) APIKeyUsage(ctx context.Context, actor, keyID string, limit int) (*APIKey, []APIKeyUsage, error) {
	if e == nil || e.apiKeys == nil {
		return nil, nil, ErrEngineNotReady
	}
	if err := e.requirePage(ctx, actor, e.config.Permission.KeysPage, permission.Read); err != nil {
		return nil, nil, err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()
	key, err := e.apiKeys.GetAPIKey(lctx, keyID)
	if err != nil {
		return nil, nil, storeErr(e, err)
	}
	usage, err := e.apiKeys.ListUsage(lctx, key.ID, limit)
	if err != nil {
		return nil, nil, storeErr(e, err)
	}
	return key, usage, nil
}

// RateLimitStats reports a key's current window without consuming a slot.
func (e *Engine) RateLimitStats(ctx context.Context, keyID string) (RateInfo, error) {
	if e == nil || e.apiKeys == nil || e.limiter == nil {
		return RateInfo{}, ErrEngineNotReady
	}

	lctx, cancel := e.lookupContext(ctx)
	key, err := e.apiKeys.GetAPIKey(lctx, keyID)
	cancel()
	if err != nil {
		return RateInfo{}, storeErr(e, err)
	}

	decision, err := e.limiter.Stats(ctx, rateKey(key.ID), e.resolveRPM(key))
	if err != nil {
		e.metricInc(MetricBackendError)
		return RateInfo{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return rateInfo(decision), nil
}

// ResetRateLimit clears a key's window.
func (e *Engine) ResetRateLimit(ctx context.Context, actor, keyID string) error {
	if e == nil || e.limiter == nil {
		return ErrEngineNotReady
	}
	if err := e.requirePage(ctx, actor, e.config.Permission.KeysPage, permission.Write); err != nil {
		return err
	}
	if err := e.limiter.Reset(ctx, rateKey(keyID)); err != nil {
		e.metricInc(MetricBackendError)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// validKeyPermissions deduplicates perms and rejects names outside the
// catalogue.
func (e *Engine) validKeyPermissions(perms []string) ([]string, error) {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one permission is required", ErrInvalidPermission)
	}
	if _, err := e.registry.Mask(out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPermission, err)
	}
	return out, nil
}

func rateKey(keyID string) string {
	return "key:" + keyID
}

func rateInfo(d rate.Decision) RateInfo {
	return RateInfo{
		Unlimited: d.Unlimited,
		Limit:     d.Limit,
		Count:     d.Count,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt,
	}
}

func gateMetadata(req GateRequest) func() map[string]string {
	return func() map[string]string {
		return map[string]string{
			"action":   req.Action,
			"endpoint": req.Endpoint,
			"method":   req.Method,
		}
	}
}
