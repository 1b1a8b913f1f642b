package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/internal/stores"
)

// Audit outcomes passed to EmitAudit.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)

// Factor method names recorded in audit metadata.
const (
	MethodPassword   = "password"
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
	MethodPasskey    = "passkey"
)

// EmitAuditFunc records one decision. principalID may be empty when the
// account is unknown; identifier is the submitted email.
type EmitAuditFunc func(ctx context.Context, event, outcome, principalID, identifier, reason string, metadata func() map[string]string)

// SecondFactorInput carries at most one code. TOTP wins when both are set.
type SecondFactorInput struct {
	TOTPCode   string
	BackupCode string
}

func (f SecondFactorInput) empty() bool {
	return strings.TrimSpace(f.TOTPCode) == "" && strings.TrimSpace(f.BackupCode) == ""
}

// LoginOutcome is the state a login flow stopped in. Principal is set for
// both terminal shapes; the caller issues the session when FactorRequired
// is false.
type LoginOutcome struct {
	Principal        *credstore.Principal
	FactorRequired   bool
	PendingToken     string
	PendingExpiresAt time.Time
	Method           string
}

// LoginMetrics carries metric IDs needed by login flows.
type LoginMetrics struct {
	LoginFailure     int
	MFALoginRequired int
	MFALoginSuccess  int
	MFALoginFailure  int
	MFAReplayAttempt int
	TOTPSuccess      int
	TOTPFailure      int
	BackupCodeUsed   int
	BackupCodeFailed int
}

// LoginEvents carries audit event names used by login flows.
type LoginEvents struct {
	LoginFailure        string
	FactorRequired      string
	MFAFailure          string
	MFAAttemptsExceeded string
}

// LoginErrors carries host-level sentinel errors used by login flows.
type LoginErrors struct {
	EngineNotReady          error
	InvalidCredentials      error
	AccountDisabled         error
	InvalidSecondFactor     error
	PendingLoginInvalid     error
	PendingAttemptsExceeded error
	BackendUnavailable      error

	// PasswordTooLong is the verifier's rejection of an oversized
	// plaintext. It is a wrong password, not a broken stored hash.
	PasswordTooLong error
}

// FactorError is returned by the VerifyTOTP and ConsumeBackupCode deps so
// the flow can audit the precise reason while returning the host error.
type FactorError struct {
	Err    error
	Reason string
}

func (e *FactorError) Error() string { return e.Err.Error() }

func (e *FactorError) Unwrap() error { return e.Err }

// LoginDeps captures everything the login state machine needs.
type LoginDeps struct {
	Kind                   string
	RevealDisabledAccounts bool
	UpgradeOnLogin         bool
	PendingTTL             time.Duration
	PendingMaxAttempts     int

	Now  func() time.Time
	Warn func(string, ...any)

	GetPrincipalByEmail func(context.Context, string) (*credstore.Principal, error)
	GetPrincipalByID    func(context.Context, string) (*credstore.Principal, error)
	UpdatePasswordHash  func(context.Context, string, string) error

	VerifyPassword func(plain, encoded string) (bool, error)
	DummyVerify    func(plain string)
	NeedsRehash    func(encoded string) (bool, error)
	HashPassword   func(plain string) (string, error)

	VerifyTOTP        func(context.Context, *credstore.Principal, string) error
	ConsumeBackupCode func(context.Context, *credstore.Principal, string) error

	NewPendingToken func() (string, error)
	SavePending     func(context.Context, string, *stores.PendingLogin, time.Duration) error
	ClaimPending    func(context.Context, string) (*stores.PendingLogin, error)
	ReleasePending  func(context.Context, string, *stores.PendingLogin) error

	MetricInc func(int)
	EmitAudit EmitAuditFunc

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, string, string, string, string, func() map[string]string) {}
	}
	if deps.DummyVerify == nil {
		deps.DummyVerify = func(string) {}
	}
}

// NormalizeEmail is the lookup form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RunPasswordLogin runs the password step and, when the principal has a
// second factor and one was supplied, the factor step.
func RunPasswordLogin(ctx context.Context, email, password string, factor SecondFactorInput, deps LoginDeps) (*LoginOutcome, error) {
	normalizeLoginDeps(&deps)
	if deps.GetPrincipalByEmail == nil || deps.VerifyPassword == nil || deps.SavePending == nil || deps.NewPendingToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identifier := NormalizeEmail(email)
	fail := func(principalID, reason string, err error) (*LoginOutcome, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, OutcomeFailure, principalID, identifier, reason, nil)
		return nil, err
	}

	if identifier == "" || password == "" {
		deps.DummyVerify(password)
		return fail("", "empty_credentials", deps.Errors.InvalidCredentials)
	}

	principal, err := deps.GetPrincipalByEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			deps.DummyVerify(password)
			return fail("", "unknown_account", deps.Errors.InvalidCredentials)
		}
		return fail("", "backend_unavailable", deps.Errors.BackendUnavailable)
	}

	ok, err := deps.VerifyPassword(password, principal.PasswordHash)
	if err != nil && deps.Errors.PasswordTooLong != nil && errors.Is(err, deps.Errors.PasswordTooLong) {
		return fail(principal.ID, "invalid_password", deps.Errors.InvalidCredentials)
	}
	if err != nil {
		deps.Warn("goVerify: stored password hash unusable for principal %s: %v", principal.ID, err)
		return fail(principal.ID, "password_hash_invalid", deps.Errors.InvalidCredentials)
	}
	if !ok {
		return fail(principal.ID, "invalid_password", deps.Errors.InvalidCredentials)
	}
	if !principal.Active {
		if deps.RevealDisabledAccounts {
			return fail(principal.ID, "account_disabled", deps.Errors.AccountDisabled)
		}
		return fail(principal.ID, "account_disabled", deps.Errors.InvalidCredentials)
	}

	if deps.UpgradeOnLogin && deps.NeedsRehash != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil {
		if needs, err := deps.NeedsRehash(principal.PasswordHash); err == nil && needs {
			if upgraded, err := deps.HashPassword(password); err == nil {
				if err := deps.UpdatePasswordHash(ctx, principal.ID, upgraded); err != nil {
					deps.Warn("goVerify: password hash upgrade update failed: %v", err)
				}
			} else {
				deps.Warn("goVerify: password hash upgrade generation failed: %v", err)
			}
		}
	}
	password = ""

	if !principal.TOTPEnabled {
		return &LoginOutcome{Principal: principal, Method: MethodPassword}, nil
	}

	if factor.empty() {
		outcome, err := createPendingLogin(ctx, principal, deps)
		if err != nil {
			return fail(principal.ID, "backend_unavailable", err)
		}
		deps.MetricInc(deps.Metrics.MFALoginRequired)
		deps.EmitAudit(ctx, deps.Events.FactorRequired, OutcomePending, principal.ID, identifier, "", nil)
		return outcome, nil
	}

	method, err := RunVerifySecondFactor(ctx, principal, factor, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, OutcomeFailure, principal.ID, identifier, factorReason(err), func() map[string]string {
			return map[string]string{"method": method}
		})
		return nil, hostError(err)
	}
	return &LoginOutcome{Principal: principal, Method: method}, nil
}

func createPendingLogin(ctx context.Context, principal *credstore.Principal, deps LoginDeps) (*LoginOutcome, error) {
	token, err := deps.NewPendingToken()
	if err != nil {
		return nil, deps.Errors.BackendUnavailable
	}
	expiresAt := deps.Now().Add(deps.PendingTTL)
	record := &stores.PendingLogin{
		PrincipalID: principal.ID,
		Kind:        deps.Kind,
		ExpiresAt:   expiresAt.Unix(),
	}
	if err := deps.SavePending(ctx, token, record, deps.PendingTTL); err != nil {
		return nil, deps.Errors.BackendUnavailable
	}
	return &LoginOutcome{
		Principal:        principal,
		FactorRequired:   true,
		PendingToken:     token,
		PendingExpiresAt: expiresAt,
		Method:           MethodPassword,
	}, nil
}

// RunCompleteSecondFactor continues a password-verified login. The pending
// record is claimed before the factor is checked, so concurrent submissions
// against one token spend at most one factor. A failed factor puts the
// record back with one more attempt counted until the budget is spent.
func RunCompleteSecondFactor(ctx context.Context, pendingToken string, factor SecondFactorInput, deps LoginDeps) (*LoginOutcome, error) {
	normalizeLoginDeps(&deps)
	if deps.ClaimPending == nil || deps.ReleasePending == nil || deps.GetPrincipalByID == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(principalID, reason string, err error) (*LoginOutcome, error) {
		deps.MetricInc(deps.Metrics.MFALoginFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, OutcomeFailure, principalID, "", reason, nil)
		return nil, err
	}

	if strings.TrimSpace(pendingToken) == "" {
		return fail("", "pending_missing", deps.Errors.PendingLoginInvalid)
	}

	record, err := deps.ClaimPending(ctx, pendingToken)
	if err != nil {
		if errors.Is(err, stores.ErrPendingLoginNotFound) || errors.Is(err, stores.ErrPendingLoginExpired) {
			return fail("", "pending_invalid", deps.Errors.PendingLoginInvalid)
		}
		return fail("", "backend_unavailable", deps.Errors.BackendUnavailable)
	}
	if record.Kind != deps.Kind {
		return fail(record.PrincipalID, "kind_mismatch", deps.Errors.PendingLoginInvalid)
	}

	principal, err := deps.GetPrincipalByID(ctx, record.PrincipalID)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return fail(record.PrincipalID, "unknown_account", deps.Errors.PendingLoginInvalid)
		}
		_ = deps.ReleasePending(ctx, pendingToken, record)
		return fail(record.PrincipalID, "backend_unavailable", deps.Errors.BackendUnavailable)
	}
	if !principal.Active {
		return fail(principal.ID, "account_disabled", deps.Errors.InvalidCredentials)
	}
	if !principal.TOTPEnabled {
		return fail(principal.ID, "factor_removed", deps.Errors.PendingLoginInvalid)
	}

	var method string
	if factor.empty() {
		err = &FactorError{Err: deps.Errors.InvalidSecondFactor, Reason: "factor_missing"}
	} else {
		method, err = RunVerifySecondFactor(ctx, principal, factor, deps)
	}
	if err == nil {
		deps.MetricInc(deps.Metrics.MFALoginSuccess)
		return &LoginOutcome{Principal: principal, Method: method}, nil
	}

	reason := factorReason(err)
	if errors.Is(err, deps.Errors.BackendUnavailable) {
		_ = deps.ReleasePending(ctx, pendingToken, record)
		return fail(principal.ID, reason, deps.Errors.BackendUnavailable)
	}

	record.Attempts++
	if int(record.Attempts) >= deps.PendingMaxAttempts {
		deps.MetricInc(deps.Metrics.MFALoginFailure)
		deps.EmitAudit(ctx, deps.Events.MFAAttemptsExceeded, OutcomeFailure, principal.ID, "", reason, nil)
		return nil, deps.Errors.PendingAttemptsExceeded
	}
	if relErr := deps.ReleasePending(ctx, pendingToken, record); relErr != nil {
		if errors.Is(relErr, stores.ErrPendingLoginExpired) {
			return fail(principal.ID, "pending_invalid", deps.Errors.PendingLoginInvalid)
		}
		return fail(principal.ID, "backend_unavailable", deps.Errors.BackendUnavailable)
	}
	return fail(principal.ID, reason, hostError(err))
}

// RunVerifySecondFactor checks one factor for principal and reports which
// method was used. Errors are *FactorError values.
func RunVerifySecondFactor(ctx context.Context, principal *credstore.Principal, factor SecondFactorInput, deps LoginDeps) (string, error) {
	normalizeLoginDeps(&deps)
	if code := strings.TrimSpace(factor.TOTPCode); code != "" {
		if deps.VerifyTOTP == nil {
			return MethodTOTP, deps.Errors.EngineNotReady
		}
		if err := deps.VerifyTOTP(ctx, principal, code); err != nil {
			if factorReason(err) == "totp_replay" {
				deps.MetricInc(deps.Metrics.MFAReplayAttempt)
			}
			deps.MetricInc(deps.Metrics.TOTPFailure)
			return MethodTOTP, err
		}
		deps.MetricInc(deps.Metrics.TOTPSuccess)
		return MethodTOTP, nil
	}

	if deps.ConsumeBackupCode == nil {
		return MethodBackupCode, deps.Errors.EngineNotReady
	}
	if err := deps.ConsumeBackupCode(ctx, principal, factor.BackupCode); err != nil {
		deps.MetricInc(deps.Metrics.BackupCodeFailed)
		return MethodBackupCode, err
	}
	deps.MetricInc(deps.Metrics.BackupCodeUsed)
	return MethodBackupCode, nil
}

// SplitFactorError returns the audit reason and the host error carried by err.
func SplitFactorError(err error) (string, error) {
	return factorReason(err), hostError(err)
}

func factorReason(err error) string {
	var fe *FactorError
	if errors.As(err, &fe) && fe.Reason != "" {
		return fe.Reason
	}
	return "invalid_second_factor"
}

func hostError(err error) error {
	var fe *FactorError
	if errors.As(err, &fe) {
		return fe.Err
	}
	return err
}
