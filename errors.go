package goVerify

import "errors"

// Verification outcomes. Callers compare with errors.Is.
var (
	// ErrInvalidCredentials covers unknown accounts, wrong passwords and,
	// unless Security.RevealDisabledAccounts is set, inactive accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is only returned when Security.RevealDisabledAccounts
	// is set and the password verified.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrSecondFactorRequired is returned by LoginWithPassword when the
	// principal has a second factor enabled.
	ErrSecondFactorRequired = errors.New("second factor required")
	// ErrInvalidSecondFactor covers wrong, malformed, replayed and consumed codes.
	ErrInvalidSecondFactor = errors.New("invalid second factor")
	// ErrChallengeExpiredOrMissing covers unknown, expired, consumed and
	// mismatched ceremony challenges.
	ErrChallengeExpiredOrMissing = errors.New("challenge expired or missing")
	// ErrCeremonyVerificationFailed covers signature, attestation, origin and
	// relying party failures as well as unknown credentials.
	ErrCeremonyVerificationFailed = errors.New("ceremony verification failed")
	// ErrReplayDetected is returned when a passkey counter did not advance.
	ErrReplayDetected = errors.New("replay detected")
)

var (
	ErrEngineNotReady               = errors.New("engine not ready")
	ErrPrincipalNotFound            = errors.New("principal not found")
	ErrSessionInvalid               = errors.New("session invalid")
	ErrSessionRevoked               = errors.New("session revoked")
	ErrPendingLoginInvalid          = errors.New("pending login invalid or expired")
	ErrPendingLoginAttemptsExceeded = errors.New("pending login attempts exceeded")
	ErrBackendUnavailable           = errors.New("backend unavailable")
	ErrTOTPNotConfigured            = errors.New("totp not configured")
	ErrTOTPAlreadyEnabled           = errors.New("totp already enabled")
	ErrPasskeyNotFound              = errors.New("passkey not found")
	ErrPasskeyNotConfigured         = errors.New("passkey not configured")
)

// ReasonCode maps an error returned by the engine to a stable string for
// audit records and transport responses. Unrecognized errors map to
// "internal_error" and nil maps to "".
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrSecondFactorRequired):
		return "second_factor_required"
	case errors.Is(err, ErrInvalidSecondFactor):
		return "invalid_second_factor"
	case errors.Is(err, ErrChallengeExpiredOrMissing):
		return "challenge_expired_or_missing"
	case errors.Is(err, ErrCeremonyVerificationFailed):
		return "ceremony_verification_failed"
	case errors.Is(err, ErrReplayDetected):
		return "replay_detected"
	case errors.Is(err, ErrEngineNotReady):
		return "engine_not_ready"
	case errors.Is(err, ErrPrincipalNotFound):
		return "principal_not_found"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrSessionInvalid):
		return "session_invalid"
	case errors.Is(err, ErrPendingLoginAttemptsExceeded):
		return "pending_login_attempts_exceeded"
	case errors.Is(err, ErrPendingLoginInvalid):
		return "pending_login_invalid"
	case errors.Is(err, ErrTOTPNotConfigured):
		return "totp_not_configured"
	case errors.Is(err, ErrTOTPAlreadyEnabled):
		return "totp_already_enabled"
	case errors.Is(err, ErrPasskeyNotFound):
		return "passkey_not_found"
	case errors.Is(err, ErrPasskeyNotConfigured):
		return "passkey_not_configured"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}
