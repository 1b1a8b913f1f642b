package goVerify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/password"
)

func (r *Realm) buildDeps() flows.Deps {
	e := r.engine
	return flows.Deps{
		Login: flows.LoginDeps{
			Kind:                   string(r.kind),
			RevealDisabledAccounts: e.config.Security.RevealDisabledAccounts,
			UpgradeOnLogin:         e.config.Password.UpgradeOnLogin,
			PendingTTL:             e.config.TOTP.PendingLoginTTL,
			PendingMaxAttempts:     e.config.TOTP.PendingLoginMaxAttempts,

			Now:  func() time.Time { return e.now() },
			Warn: e.warn,

			GetPrincipalByEmail: func(ctx context.Context, email string) (*credstore.Principal, error) {
				return r.store.GetPrincipalByEmail(ctx, email)
			},
			GetPrincipalByID: func(ctx context.Context, id string) (*credstore.Principal, error) {
				return r.store.GetPrincipalByID(ctx, id)
			},
			UpdatePasswordHash: func(ctx context.Context, id, hash string) error {
				return r.store.UpdatePasswordHash(ctx, id, hash)
			},

			VerifyPassword: e.password.Verify,
			DummyVerify:    e.dummyVerify,
			NeedsRehash:    e.password.NeedsRehash,
			HashPassword:   e.password.Hash,

			VerifyTOTP: r.verifyTOTP,
			ConsumeBackupCode: func(ctx context.Context, p *credstore.Principal, code string) error {
				return flows.RunConsumeBackupCode(ctx, p.ID, code, r.deps.Backup)
			},

			NewPendingToken: newRandomToken,
			SavePending:     r.pending.Save,
			ClaimPending:    r.pending.Claim,
			ReleasePending:  r.pending.Release,

			MetricInc: func(id int) { e.metricInc(MetricID(id)) },
			EmitAudit: r.emitFlowAudit,

			Metrics: flows.LoginMetrics{
				LoginFailure:     int(MetricLoginFailure),
				MFALoginRequired: int(MetricMFALoginRequired),
				MFALoginSuccess:  int(MetricMFALoginSuccess),
				MFALoginFailure:  int(MetricMFALoginFailure),
				MFAReplayAttempt: int(MetricMFAReplayAttempt),
				TOTPSuccess:      int(MetricTOTPSuccess),
				TOTPFailure:      int(MetricTOTPFailure),
				BackupCodeUsed:   int(MetricBackupCodeUsed),
				BackupCodeFailed: int(MetricBackupCodeFailed),
			},
			Events: flows.LoginEvents{
				LoginFailure:        auditEventLoginFailure,
				FactorRequired:      auditEventLoginFactorRequired,
				MFAFailure:          auditEventMFAFailure,
				MFAAttemptsExceeded: auditEventMFAAttemptsExceeded,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:          ErrEngineNotReady,
				InvalidCredentials:      ErrInvalidCredentials,
				AccountDisabled:         ErrAccountDisabled,
				InvalidSecondFactor:     ErrInvalidSecondFactor,
				PendingLoginInvalid:     ErrPendingLoginInvalid,
				PendingAttemptsExceeded: ErrPendingLoginAttemptsExceeded,
				BackendUnavailable:      ErrBackendUnavailable,
				PasswordTooLong:         password.ErrPasswordTooLong,
			},
		},
		Backup: flows.BackupCodeDeps{
			ConsumeBackupCode: func(ctx context.Context, id string, hash [32]byte) (bool, error) {
				return r.store.ConsumeBackupCode(ctx, id, hash)
			},
			Errors: flows.BackupCodeErrors{
				InvalidSecondFactor: ErrInvalidSecondFactor,
				BackendUnavailable:  ErrBackendUnavailable,
			},
		},
	}
}

// Login verifies email and password. When the principal has a second
// factor and factor is empty the result is LoginFactorRequired with a
// pending token; that is not an error. When factor carries a code it is
// verified in the same call.
func (r *Realm) Login(ctx context.Context, email, password string, factor SecondFactor) (*LoginResult, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	outcome, err := flows.RunPasswordLogin(ctx, email, password, flows.SecondFactorInput(factor), r.deps.Login)
	if err != nil {
		return nil, err
	}
	if outcome.FactorRequired {
		return &LoginResult{
			State:            LoginFactorRequired,
			PendingToken:     outcome.PendingToken,
			PendingExpiresAt: outcome.PendingExpiresAt,
		}, nil
	}
	return r.completeLogin(ctx, outcome.Principal, outcome.Method)
}

// LoginWithPassword is Login for callers that cannot continue a pending
// login. A principal with a second factor yields ErrSecondFactorRequired.
func (r *Realm) LoginWithPassword(ctx context.Context, email, password string) (*Session, error) {
	result, err := r.Login(ctx, email, password, SecondFactor{})
	if err != nil {
		return nil, err
	}
	if result.State != LoginComplete {
		_, _ = r.pending.Delete(ctx, result.PendingToken)
		return nil, ErrSecondFactorRequired
	}
	return result.Session, nil
}

// CompleteSecondFactor continues a login that stopped in
// LoginFactorRequired. The password is not needed again.
func (r *Realm) CompleteSecondFactor(ctx context.Context, pendingToken string, factor SecondFactor) (*LoginResult, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	outcome, err := flows.RunCompleteSecondFactor(ctx, pendingToken, flows.SecondFactorInput(factor), r.deps.Login)
	if err != nil {
		return nil, err
	}
	return r.completeLogin(ctx, outcome.Principal, outcome.Method)
}

func (r *Realm) completeLogin(ctx context.Context, p *Principal, method string) (*LoginResult, error) {
	sess, err := r.issueSession(ctx, p)
	if err != nil {
		r.emitFailure(ctx, auditEventLoginFailure, p.ID, ReasonCode(err), nil)
		return nil, err
	}

	r.touchLastLogin(ctx, p.ID)
	r.engine.metricInc(MetricLoginSuccess)
	r.emitLoginSuccess(ctx, auditEventLoginSuccess, p, sess.Claims.ID, func() map[string]string {
		return map[string]string{"method": method}
	})
	return &LoginResult{State: LoginComplete, Session: sess}, nil
}

func (r *Realm) touchLastLogin(ctx context.Context, principalID string) {
	if err := r.store.TouchLastLogin(ctx, principalID, r.engine.now()); err != nil {
		r.engine.warn("goVerify: last login update failed for %s principal %s: %v", r.kind, principalID, err)
	}
}

func (r *Realm) loadPrincipal(ctx context.Context, principalID string) (*Principal, error) {
	if principalID == "" {
		return nil, ErrPrincipalNotFound
	}
	p, err := r.store.GetPrincipalByID(ctx, principalID)
	if err != nil {
		return nil, wrapBackend(err)
	}
	return p, nil
}

func wrapBackend(err error) error {
	if errors.Is(err, credstore.ErrNotFound) {
		return ErrPrincipalNotFound
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
