package internaldefs

import (
	goVerify "github.com/MrEthical07/goVerify"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goVerify.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goVerify.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goVerify.MetricLoginSuccess, Name: "goverify_login_success_total", Help: "Completed logins, any method."},
	{ID: goVerify.MetricLoginFailure, Name: "goverify_login_failure_total", Help: "Failed password logins."},
	{ID: goVerify.MetricMFALoginRequired, Name: "goverify_mfa_login_required_total", Help: "Logins paused for a second factor."},
	{ID: goVerify.MetricMFALoginSuccess, Name: "goverify_mfa_login_success_total", Help: "Pending logins completed with a second factor."},
	{ID: goVerify.MetricMFALoginFailure, Name: "goverify_mfa_login_failure_total", Help: "Pending logins abandoned after too many attempts."},
	{ID: goVerify.MetricMFAReplayAttempt, Name: "goverify_mfa_replay_attempt_total", Help: "TOTP codes rejected as replays."},
	{ID: goVerify.MetricTOTPSuccess, Name: "goverify_totp_success_total", Help: "Accepted TOTP codes."},
	{ID: goVerify.MetricTOTPFailure, Name: "goverify_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: goVerify.MetricTOTPEnabled, Name: "goverify_totp_enabled_total", Help: "TOTP enrollments confirmed."},
	{ID: goVerify.MetricTOTPDisabled, Name: "goverify_totp_disabled_total", Help: "TOTP enrollments removed."},
	{ID: goVerify.MetricBackupCodeUsed, Name: "goverify_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goVerify.MetricBackupCodeFailed, Name: "goverify_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: goVerify.MetricBackupCodeRegenerated, Name: "goverify_backup_code_regenerated_total", Help: "Backup code set regenerations."},
	{ID: goVerify.MetricPasskeyRegistered, Name: "goverify_passkey_registered_total", Help: "Passkeys registered."},
	{ID: goVerify.MetricPasskeyRegistrationFailure, Name: "goverify_passkey_registration_failure_total", Help: "Failed passkey registrations."},
	{ID: goVerify.MetricPasskeyLoginSuccess, Name: "goverify_passkey_login_success_total", Help: "Passkey logins."},
	{ID: goVerify.MetricPasskeyLoginFailure, Name: "goverify_passkey_login_failure_total", Help: "Failed passkey logins."},
	{ID: goVerify.MetricPasskeyReplayDetected, Name: "goverify_passkey_replay_detected_total", Help: "Passkey assertions with a non-advancing counter."},
	{ID: goVerify.MetricPasskeyRevoked, Name: "goverify_passkey_revoked_total", Help: "Passkeys revoked."},
	{ID: goVerify.MetricChallengeMissing, Name: "goverify_challenge_missing_total", Help: "Ceremonies finished with an unknown, expired or mismatched challenge."},
	{ID: goVerify.MetricSessionCreated, Name: "goverify_session_created_total", Help: "Sessions issued."},
	{ID: goVerify.MetricSessionRefreshed, Name: "goverify_session_refreshed_total", Help: "Sessions rotated by refresh."},
	{ID: goVerify.MetricSessionRejected, Name: "goverify_session_rejected_total", Help: "Session tokens rejected on validation."},
	{ID: goVerify.MetricLogout, Name: "goverify_logout_total", Help: "Single-session logouts."},
	{ID: goVerify.MetricLogoutAll, Name: "goverify_logout_all_total", Help: "Logout-all operations."},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: goVerify.MetricValidateLatency, Name: "goverify_validate_latency_seconds", Help: "Session validation latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are the bounds in metric-name-safe form.
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

// NormalizeBuckets pads or truncates a snapshot histogram to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
