package goAccess

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAccess/permission"
)

// IsAdmin reports whether email has an active admin record.
func (e *Engine) IsAdmin(ctx context.Context, email string) (bool, error) {
	if e == nil || e.admins == nil {
		return false, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return false, nil
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	admin, err := e.admins.GetAdmin(lctx, email)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			return false, nil
		}
		e.metricInc(MetricBackendError)
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return admin != nil && admin.Active, nil
}

// IsSystemAdmin reports whether email is the earliest-created admin.
func (e *Engine) IsSystemAdmin(ctx context.Context, email string) (bool, error) {
	if e == nil || e.admins == nil {
		return false, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return false, nil
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	sys, err := e.admins.SystemAdmin(lctx)
	if err != nil {
		if errors.Is(err, ErrAdminNotFound) {
			return false, nil
		}
		e.metricInc(MetricBackendError)
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return sys != nil && sys.Email == email, nil
}

// HasPermission resolves whether email may act on (typ, value) at level.
// The system admin holds every permission without grants. Otherwise a
// grant must cover the resource at an equal or higher level.
//
// Lookup failures deny and return the error.
func (e *Engine) HasPermission(ctx context.Context, email string, typ permission.ResourceType, value string, level permission.Level) (bool, error) {
	if e == nil || e.grants == nil {
		return false, ErrEngineNotReady
	}

	allowed, err := e.hasPermission(ctx, email, typ, value, level)
	if err != nil || !allowed {
		e.metricInc(MetricPermissionDenied)
		return false, err
	}
	e.metricInc(MetricPermissionAllowed)
	return true, nil
}

func (e *Engine) hasPermission(ctx context.Context, email string, typ permission.ResourceType, value string, level permission.Level) (bool, error) {
	sys, err := e.IsSystemAdmin(ctx, email)
	if err != nil {
		return false, err
	}
	if sys {
		return true, nil
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	grants, err := e.grants.ListGrants(lctx, normalizeEmail(email))
	if err != nil {
		e.metricInc(MetricBackendError)
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return permission.Allows(grants, typ, value, level), nil
}

func (e *Engine) HasEventPermission(ctx context.Context, email, eventID string, level permission.Level) (bool, error) {
	return e.HasPermission(ctx, email, permission.Event, eventID, level)
}

func (e *Engine) HasPagePermission(ctx context.Context, email, page string, level permission.Level) (bool, error) {
	return e.HasPermission(ctx, email, permission.Page, page, level)
}

func (e *Engine) HasAppPermission(ctx context.Context, email, clientID string, level permission.Level) (bool, error) {
	return e.HasPermission(ctx, email, permission.App, clientID, level)
}

// BootstrapAdmin creates the first admin, who becomes the system admin. It
// fails with ErrAdminExists once any admin exists.
func (e *Engine) BootstrapAdmin(ctx context.Context, email string) (*Admin, error) {
	if e == nil || e.admins == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	if _, err := e.admins.SystemAdmin(lctx); err == nil {
		return nil, ErrAdminExists
	} else if !errors.Is(err, ErrAdminNotFound) {
		e.metricInc(MetricBackendError)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	admin, err := e.admins.AddAdmin(lctx, email, "")
	if err != nil {
		return nil, storeErr(e, err)
	}
	e.metricInc(MetricAdminAdded)
	e.emitAudit(ctx, auditEventAdminAdded, true, auditRecord{Subject: email}, nil, func() map[string]string {
		return map[string]string{"bootstrap": "true"}
	})
	return admin, nil
}

// AddAdmin creates an active admin record for email. The actor needs write
// access to the admins page.
func (e *Engine) AddAdmin(ctx context.Context, actor, email string) (*Admin, error) {
	if e == nil || e.admins == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}
	rec := auditRecord{Actor: actor, Subject: email}
	if err := e.requireAdminsPage(ctx, actor, permission.Write); err != nil {
		e.emitAudit(ctx, auditEventAdminAdded, false, rec, err, nil)
		return nil, err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	admin, err := e.admins.AddAdmin(lctx, email, actor)
	if err != nil {
		err = storeErr(e, err)
		e.emitAudit(ctx, auditEventAdminAdded, false, rec, err, nil)
		return nil, err
	}
	e.metricInc(MetricAdminAdded)
	e.emitAudit(ctx, auditEventAdminAdded, true, rec, nil, nil)
	return admin, nil
}

// DeactivateAdmin disables target. Admins cannot deactivate themselves and
// nobody can deactivate the system admin.
func (e *Engine) DeactivateAdmin(ctx context.Context, actor, target string) error {
	return e.setAdminActive(ctx, actor, target, false)
}

// ReactivateAdmin re-enables a deactivated admin.
func (e *Engine) ReactivateAdmin(ctx context.Context, actor, target string) error {
	return e.setAdminActive(ctx, actor, target, true)
}

func (e *Engine) setAdminActive(ctx context.Context, actor, target string, active bool) error {
	if e == nil || e.admins == nil {
		return ErrEngineNotReady
	}
	target = normalizeEmail(target)
	rec := auditRecord{Actor: actor, Subject: target}
	meta := func() map[string]string {
		return map[string]string{"active": fmt.Sprintf("%t", active)}
	}

	if err := e.guardAdminChange(ctx, actor, target); err != nil {
		e.emitAudit(ctx, auditEventAdminStatusChange, false, rec, err, meta)
		return err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	if err := e.admins.SetAdminActive(lctx, target, active); err != nil {
		err = storeErr(e, err)
		e.emitAudit(ctx, auditEventAdminStatusChange, false, rec, err, meta)
		return err
	}
	e.metricInc(MetricAdminStatusChanged)
	e.emitAudit(ctx, auditEventAdminStatusChange, true, rec, nil, meta)
	return nil
}

// ListAdmins returns every admin record. The actor needs read access to
// the admins page.
func (e *Engine) ListAdmins(ctx context.Context, actor string) ([]Admin, error) {
	if e == nil || e.admins == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requireAdminsPage(ctx, actor, permission.Read); err != nil {
		return nil, err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	admins, err := e.admins.ListAdmins(lctx)
	if err != nil {
		return nil, storeErr(e, err)
	}
	return admins, nil
}

// ListPermissions returns target's grants.
func (e *Engine) ListPermissions(ctx context.Context, actor, target string) ([]permission.Grant, error) {
	if e == nil || e.grants == nil {
		return nil, ErrEngineNotReady
	}
	target = normalizeEmail(target)
	if err := e.requireAdminsPage(ctx, actor, permission.Read); err != nil {
		return nil, err
	}
	if err := e.requireAdminRecord(ctx, target); err != nil {
		return nil, err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	grants, err := e.grants.ListGrants(lctx, target)
	if err != nil {
		return nil, storeErr(e, err)
	}
	return grants, nil
}

// GrantPermission adds grant to grant.AdminEmail. Granting an identical
// tuple twice is a no-op.
func (e *Engine) GrantPermission(ctx context.Context, actor string, grant permission.Grant) error {
	if e == nil || e.grants == nil {
		return ErrEngineNotReady
	}
	grant.AdminEmail = normalizeEmail(grant.AdminEmail)
	grant.GrantedBy = actor
	rec := auditRecord{Actor: actor, Subject: grant.AdminEmail}

	err := e.grantPermission(ctx, actor, grant)
	e.emitAudit(ctx, auditEventPermissionGranted, err == nil, rec, err, grantMetadata(grant))
	if err != nil {
		return err
	}
	e.metricInc(MetricPermissionGranted)
	return nil
}

func (e *Engine) grantPermission(ctx context.Context, actor string, grant permission.Grant) error {
	if err := grant.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPermission, err)
	}
	if err := e.guardAdminChange(ctx, actor, grant.AdminEmail); err != nil {
		return err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	if err := e.grants.AddGrant(lctx, grant); err != nil {
		return storeErr(e, err)
	}
	return nil
}

// RevokePermission removes one grant from target. It reports whether a
// grant was removed.
func (e *Engine) RevokePermission(ctx context.Context, actor, target string, typ permission.ResourceType, value string, level permission.Level) (bool, error) {
	if e == nil || e.grants == nil {
		return false, ErrEngineNotReady
	}
	target = normalizeEmail(target)
	grant := permission.Grant{AdminEmail: target, Type: typ, Value: value, Level: level}
	rec := auditRecord{Actor: actor, Subject: target}

	removed, err := e.revokePermission(ctx, actor, grant)
	e.emitAudit(ctx, auditEventPermissionRevoked, err == nil, rec, err, grantMetadata(grant))
	if err != nil {
		return false, err
	}
	if removed {
		e.metricInc(MetricPermissionRevoked)
	}
	return removed, nil
}

func (e *Engine) revokePermission(ctx context.Context, actor string, grant permission.Grant) (bool, error) {
	if err := grant.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPermission, err)
	}
	if err := e.guardAdminChange(ctx, actor, grant.AdminEmail); err != nil {
		return false, err
	}

	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	removed, err := e.grants.RemoveGrant(lctx, grant.AdminEmail, grant.Type, grant.Value, grant.Level)
	if err != nil {
		return false, storeErr(e, err)
	}
	return removed, nil
}

// ReplacePermissions sets target's grants to exactly grants. Duplicate
// tuples are collapsed.
func (e *Engine) ReplacePermissions(ctx context.Context, actor, target string, grants []permission.Grant) error {
	if e == nil || e.grants == nil {
		return ErrEngineNotReady
	}
	target = normalizeEmail(target)
	rec := auditRecord{Actor: actor, Subject: target}

	normalized := make([]permission.Grant, 0, len(grants))
	var err error
	for _, g := range grants {
		g.AdminEmail = target
		g.GrantedBy = actor
		if verr := g.Validate(); verr != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidPermission, verr)
			break
		}
		if containsGrant(normalized, g) {
			continue
		}
		normalized = append(normalized, g)
	}
	if err == nil {
		err = e.guardAdminChange(ctx, actor, target)
	}
	if err == nil {
		lctx, cancel := e.lookupContext(ctx)
		if serr := e.grants.ReplaceGrants(lctx, target, normalized); serr != nil {
			err = storeErr(e, serr)
		}
		cancel()
	}

	e.emitAudit(ctx, auditEventPermissionsReplaced, err == nil, rec, err, func() map[string]string {
		return map[string]string{"count": fmt.Sprintf("%d", len(normalized))}
	})
	return err
}

// guardAdminChange authorizes actor to change target's record or grants.
func (e *Engine) guardAdminChange(ctx context.Context, actor, target string) error {
	if target == "" {
		return fmt.Errorf("%w: target admin is required", ErrInvalidRequest)
	}
	if normalizeEmail(actor) == target {
		return ErrSelfModification
	}
	if err := e.requireAdminsPage(ctx, actor, permission.Write); err != nil {
		return err
	}
	sys, err := e.IsSystemAdmin(ctx, target)
	if err != nil {
		return err
	}
	if sys {
		return ErrSystemAdminProtected
	}
	return e.requireAdminRecord(ctx, target)
}

// RequirePage returns nil when actor is an active admin holding level on
// page. An empty actor yields ErrUnauthorized; anything else short of the
// grant yields ErrPermissionDenied.
func (e *Engine) RequirePage(ctx context.Context, actor, page string, level permission.Level) error {
	if e == nil || e.admins == nil || e.grants == nil {
		return ErrEngineNotReady
	}
	return e.requirePage(ctx, actor, page, level)
}

// Pages returns the configured administrative page names.
func (e *Engine) Pages() PermissionConfig {
	if e == nil {
		return PermissionConfig{}
	}
	return e.config.Permission
}

func (e *Engine) requireAdminsPage(ctx context.Context, actor string, level permission.Level) error {
	return e.requirePage(ctx, actor, e.config.Permission.AdminsPage, level)
}

// requirePage checks that actor is an active admin holding level on page.
func (e *Engine) requirePage(ctx context.Context, actor, page string, level permission.Level) error {
	if actor == "" {
		return ErrUnauthorized
	}
	admin, err := e.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !admin {
		return ErrPermissionDenied
	}
	ok, err := e.HasPagePermission(ctx, actor, page, level)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

func (e *Engine) requireAdminRecord(ctx context.Context, email string) error {
	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	if _, err := e.admins.GetAdmin(lctx, email); err != nil {
		return storeErr(e, err)
	}
	return nil
}

// storeErr passes collaborator sentinels through and wraps everything else
// as ErrBackendUnavailable.
func storeErr(e *Engine, err error) error {
	switch {
	case errors.Is(err, ErrAdminNotFound),
		errors.Is(err, ErrAdminExists),
		errors.Is(err, ErrClientNotFound),
		errors.Is(err, ErrAPIKeyNotFound):
		return err
	}
	e.metricInc(MetricBackendError)
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func grantMetadata(g permission.Grant) func() map[string]string {
	return func() map[string]string {
		return map[string]string{
			"type":  string(g.Type),
			"value": g.Value,
			"level": g.Level.String(),
		}
	}
}

func containsGrant(grants []permission.Grant, g permission.Grant) bool {
	for _, existing := range grants {
		if existing.SameTarget(g) {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
