package goVerify

import (
	"context"
	"errors"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/internal/flows"
)

// verifyTOTP checks code for p and, when replay protection is on, advances
// the stored step so the same code cannot be accepted twice.
func (r *Realm) verifyTOTP(ctx context.Context, p *Principal, code string) error {
	if !p.TOTPEnabled || p.TOTPSecret == "" {
		return &flows.FactorError{Err: ErrTOTPNotConfigured, Reason: "totp_not_configured"}
	}

	ok, step, err := r.engine.totp.VerifyCode(p.TOTPSecret, code, r.engine.now())
	if err != nil {
		r.engine.warn("goVerify: totp secret unusable for %s principal %s: %v", r.kind, p.ID, err)
		return &flows.FactorError{Err: ErrInvalidSecondFactor, Reason: "totp_secret_invalid"}
	}
	if !ok {
		return &flows.FactorError{Err: ErrInvalidSecondFactor, Reason: "totp_invalid"}
	}

	if r.engine.config.TOTP.EnforceReplayProtection {
		advanced, err := r.store.AdvanceTOTPStep(ctx, p.ID, step)
		if err != nil {
			return &flows.FactorError{Err: ErrBackendUnavailable, Reason: "backend_unavailable"}
		}
		if !advanced {
			return &flows.FactorError{Err: ErrInvalidSecondFactor, Reason: "totp_replay"}
		}
	}
	return nil
}

// BeginTOTPSetup generates and stores a pending secret. The factor is not
// enforced until ConfirmTOTPSetup succeeds; calling again replaces the
// pending secret.
func (r *Realm) BeginTOTPSetup(ctx context.Context, principalID string) (*TOTPSetup, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	p, err := r.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrAccountDisabled
	}
	if p.TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	account := p.Email
	if account == "" {
		account = p.ID
	}
	setup, err := r.engine.totp.Generate(account)
	if err != nil {
		return nil, err
	}
	if err := r.store.SetTOTPSecret(ctx, p.ID, setup.Secret); err != nil {
		return nil, wrapBackend(err)
	}

	r.emitSuccess(ctx, auditEventTOTPSetupRequested, p.ID, "", nil)
	return setup, nil
}

// ConfirmTOTPSetup enables the pending secret once code verifies against it
// and returns the initial backup codes. The codes are never retrievable again.
func (r *Realm) ConfirmTOTPSetup(ctx context.Context, principalID, code string) ([]string, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	p, err := r.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if p.TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}
	if p.TOTPSecret == "" {
		return nil, ErrTOTPNotConfigured
	}

	ok, step, err := r.engine.totp.VerifyCode(p.TOTPSecret, code, r.engine.now())
	if err != nil || !ok {
		r.engine.metricInc(MetricTOTPFailure)
		r.emitFailure(ctx, auditEventTOTPFailure, p.ID, "totp_invalid", func() map[string]string {
			return map[string]string{"stage": "confirm"}
		})
		return nil, ErrInvalidSecondFactor
	}

	codes, hashes, err := flows.GenerateBackupCodes(p.ID, r.engine.config.TOTP.BackupCodeCount, r.engine.config.TOTP.BackupCodeLength, nil)
	if err != nil {
		return nil, err
	}
	if err := r.store.EnableTOTP(ctx, p.ID, step, hashes); err != nil {
		switch {
		case errors.Is(err, credstore.ErrConflict):
			return nil, ErrTOTPAlreadyEnabled
		case errors.Is(err, credstore.ErrNotFound):
			return nil, ErrTOTPNotConfigured
		}
		return nil, wrapBackend(err)
	}

	r.engine.metricInc(MetricTOTPEnabled)
	r.emitSuccess(ctx, auditEventTOTPEnabled, p.ID, "", nil)
	return codes, nil
}

// DisableTOTP removes the second factor and every backup code. The caller
// proves possession with a TOTP code or a backup code.
func (r *Realm) DisableTOTP(ctx context.Context, principalID string, factor SecondFactor) error {
	if err := r.ready(); err != nil {
		return err
	}

	p, err := r.loadPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if !p.TOTPEnabled {
		return ErrTOTPNotConfigured
	}
	if factor.empty() {
		return ErrInvalidSecondFactor
	}

	method, err := flows.RunVerifySecondFactor(ctx, p, flows.SecondFactorInput(factor), r.deps.Login)
	if err != nil {
		reason, hostErr := flows.SplitFactorError(err)
		r.emitFailure(ctx, auditEventTOTPFailure, p.ID, reason, func() map[string]string {
			return map[string]string{"stage": "disable", "method": method}
		})
		return hostErr
	}

	if err := r.store.DisableTOTP(ctx, p.ID); err != nil {
		return wrapBackend(err)
	}

	r.engine.metricInc(MetricTOTPDisabled)
	r.emitSuccess(ctx, auditEventTOTPDisabled, p.ID, "", func() map[string]string {
		return map[string]string{"method": method}
	})
	return nil
}
