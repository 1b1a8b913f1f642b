package goVerify

import (
	"context"

	"github.com/MrEthical07/goVerify/internal/flows"
)

// RegenerateBackupCodes replaces the whole backup code set after verifying
// a TOTP code. Old codes stop working immediately.
func (r *Realm) RegenerateBackupCodes(ctx context.Context, principalID, totpCode string) ([]string, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	p, err := r.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !p.TOTPEnabled {
		return nil, ErrTOTPNotConfigured
	}

	if err := r.verifyTOTP(ctx, p, totpCode); err != nil {
		reason, hostErr := flows.SplitFactorError(err)
		r.engine.metricInc(MetricTOTPFailure)
		r.emitFailure(ctx, auditEventTOTPFailure, p.ID, reason, func() map[string]string {
			return map[string]string{"stage": "backup_regenerate"}
		})
		return nil, hostErr
	}

	codes, hashes, err := flows.GenerateBackupCodes(p.ID, r.engine.config.TOTP.BackupCodeCount, r.engine.config.TOTP.BackupCodeLength, nil)
	if err != nil {
		return nil, err
	}
	if err := r.store.ReplaceBackupCodes(ctx, p.ID, hashes); err != nil {
		return nil, wrapBackend(err)
	}

	r.engine.metricInc(MetricBackupCodeRegenerated)
	r.emitSuccess(ctx, auditEventBackupCodesRegenerated, p.ID, "", nil)
	return codes, nil
}

// RemainingBackupCodes reports how many unused backup codes principalID has.
func (r *Realm) RemainingBackupCodes(ctx context.Context, principalID string) (int, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	n, err := r.store.CountBackupCodes(ctx, principalID)
	if err != nil {
		return 0, wrapBackend(err)
	}
	return n, nil
}
