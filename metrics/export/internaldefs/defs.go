package internaldefs

import (
	goAccess "github.com/MrEthical07/goAccess"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goAccess.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goAccess.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goAccess.MetricAuthorizeSuccess, Name: "goaccess_authorize_success_total", Help: "Authorization requests parked for consent."},
	{ID: goAccess.MetricAuthorizeFailure, Name: "goaccess_authorize_failure_total", Help: "Authorization requests rejected."},
	{ID: goAccess.MetricLoginRequired, Name: "goaccess_authorize_login_required_total", Help: "Authorization requests without a signed-in user."},
	{ID: goAccess.MetricConsentApproved, Name: "goaccess_consent_approved_total", Help: "Consents approved."},
	{ID: goAccess.MetricConsentDenied, Name: "goaccess_consent_denied_total", Help: "Consents denied or invalidated."},
	{ID: goAccess.MetricTokenIssued, Name: "goaccess_token_issued_total", Help: "Access tokens issued."},
	{ID: goAccess.MetricTokenExchangeFailure, Name: "goaccess_token_exchange_failure_total", Help: "Failed code exchanges."},
	{ID: goAccess.MetricTokenVerifySuccess, Name: "goaccess_token_verify_success_total", Help: "Access tokens verified."},
	{ID: goAccess.MetricTokenVerifyFailure, Name: "goaccess_token_verify_failure_total", Help: "Access tokens rejected."},
	{ID: goAccess.MetricTokenRevoked, Name: "goaccess_token_revoked_total", Help: "Access tokens revoked."},
	{ID: goAccess.MetricClientRegistered, Name: "goaccess_client_registered_total", Help: "OAuth clients registered."},
	{ID: goAccess.MetricClientSecretRotated, Name: "goaccess_client_secret_rotated_total", Help: "OAuth client secrets regenerated."},
	{ID: goAccess.MetricPermissionAllowed, Name: "goaccess_permission_allowed_total", Help: "Permission checks allowed."},
	{ID: goAccess.MetricPermissionDenied, Name: "goaccess_permission_denied_total", Help: "Permission checks denied."},
	{ID: goAccess.MetricPermissionGranted, Name: "goaccess_permission_granted_total", Help: "Permission grants added."},
	{ID: goAccess.MetricPermissionRevoked, Name: "goaccess_permission_revoked_total", Help: "Permission grants removed."},
	{ID: goAccess.MetricAdminAdded, Name: "goaccess_admin_added_total", Help: "Admins added."},
	{ID: goAccess.MetricAdminStatusChanged, Name: "goaccess_admin_status_changed_total", Help: "Admin activations and deactivations."},
	{ID: goAccess.MetricGateAllowed, Name: "goaccess_gate_allowed_total", Help: "API-key requests admitted."},
	{ID: goAccess.MetricGateUnauthorized, Name: "goaccess_gate_unauthorized_total", Help: "API-key requests without a usable credential."},
	{ID: goAccess.MetricGateForbidden, Name: "goaccess_gate_forbidden_total", Help: "API-key requests refused for key or permission."},
	{ID: goAccess.MetricRateLimitHit, Name: "goaccess_rate_limit_hit_total", Help: "Requests refused by a rate limit."},
	{ID: goAccess.MetricAPIKeyCreated, Name: "goaccess_api_key_created_total", Help: "API keys created."},
	{ID: goAccess.MetricAPIKeyUpdated, Name: "goaccess_api_key_updated_total", Help: "API keys updated."},
	{ID: goAccess.MetricAPIKeyDeleted, Name: "goaccess_api_key_deleted_total", Help: "API keys deleted."},
	{ID: goAccess.MetricSweepRemoved, Name: "goaccess_sweep_removed_total", Help: "Expired records and idle rate windows removed by the sweeper."},
	{ID: goAccess.MetricBackendError, Name: "goaccess_backend_error_total", Help: "Failed calls to Redis or a collaborator store."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goAccess.MetricTokenExchangeLatency, Name: "goaccess_token_exchange_latency_seconds", Help: "Code exchange latency."},
	{ID: goAccess.MetricTokenVerifyLatency, Name: "goaccess_token_verify_latency_seconds", Help: "Access token verification latency."},
	{ID: goAccess.MetricGateLatency, Name: "goaccess_gate_latency_seconds", Help: "API-key gate latency."},
}

// AuditDroppedName is the counter for events lost to audit queue backpressure or cancelled callers.
const (
	AuditDroppedName = "goaccess_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to queue backpressure."
)

// HistogramUpperBounds are the bucket bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf last, for exporters that
// cannot carry an le label.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last
// element is the sample count.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
