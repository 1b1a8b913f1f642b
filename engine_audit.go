package goVerify

import (
	"context"
	"time"

	"github.com/MrEthical07/goVerify/internal/flows"
)

const (
	auditEventLoginSuccess              = "login_success"
	auditEventLoginFailure              = "login_failure"
	auditEventLoginFactorRequired       = "login_factor_required"
	auditEventMFAFailure                = "mfa_failure"
	auditEventMFAAttemptsExceeded       = "mfa_attempts_exceeded"
	auditEventPasskeyRegistrationBegin  = "passkey_registration_begin"
	auditEventPasskeyRegistered         = "passkey_registered"
	auditEventPasskeyRegistrationFailed = "passkey_registration_failure"
	auditEventPasskeyLoginSuccess       = "passkey_login_success"
	auditEventPasskeyLoginFailure       = "passkey_login_failure"
	auditEventPasskeyRevoked            = "passkey_revoked"
	auditEventTOTPSetupRequested        = "totp_setup_requested"
	auditEventTOTPEnabled               = "totp_enabled"
	auditEventTOTPDisabled              = "totp_disabled"
	auditEventTOTPFailure               = "totp_failure"
	auditEventBackupCodesRegenerated    = "backup_codes_regenerated"
	auditEventSessionRefreshed          = "session_refreshed"
	auditEventSessionRejected           = "session_rejected"
	auditEventLogout                    = "logout"
	auditEventLogoutAll                 = "logout_all"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	kind PrincipalKind,
	eventType string,
	outcome string,
	principalID string,
	identifier string,
	sessionID string,
	reason string,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		Kind:        string(kind),
		PrincipalID: principalID,
		Identifier:  identifier,
		SessionID:   sessionID,
		IP:          ClientIPFromContext(ctx),
		UserAgent:   UserAgentFromContext(ctx),
		Outcome:     outcome,
		Success:     outcome == flows.OutcomeSuccess,
		Reason:      reason,
		Metadata:    metadata,
	})
}

func (r *Realm) emitSuccess(ctx context.Context, eventType, principalID, sessionID string, metadataBuilder func() map[string]string) {
	r.engine.emitAudit(ctx, r.kind, eventType, flows.OutcomeSuccess, principalID, "", sessionID, "", metadataBuilder)
}

// emitLoginSuccess records a completed login. The identifier lets
// collaborators such as the intrusion guard match it to earlier failures.
func (r *Realm) emitLoginSuccess(ctx context.Context, eventType string, p *Principal, sessionID string, metadataBuilder func() map[string]string) {
	r.engine.emitAudit(ctx, r.kind, eventType, flows.OutcomeSuccess, p.ID, flows.NormalizeEmail(p.Email), sessionID, "", metadataBuilder)
}

func (r *Realm) emitFailure(ctx context.Context, eventType, principalID, reason string, metadataBuilder func() map[string]string) {
	r.engine.emitAudit(ctx, r.kind, eventType, flows.OutcomeFailure, principalID, "", "", reason, metadataBuilder)
}

// emitFlowAudit adapts the realm to flows.EmitAuditFunc.
func (r *Realm) emitFlowAudit(ctx context.Context, event, outcome, principalID, identifier, reason string, metadata func() map[string]string) {
	r.engine.emitAudit(ctx, r.kind, event, outcome, principalID, identifier, "", reason, metadata)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}
