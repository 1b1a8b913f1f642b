package goVerify

import (
	"errors"
	"fmt"
	"testing"
)

func TestReasonCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidCredentials, "invalid_credentials"},
		{ErrAccountDisabled, "account_disabled"},
		{ErrSecondFactorRequired, "second_factor_required"},
		{ErrInvalidSecondFactor, "invalid_second_factor"},
		{ErrChallengeExpiredOrMissing, "challenge_expired_or_missing"},
		{ErrCeremonyVerificationFailed, "ceremony_verification_failed"},
		{ErrReplayDetected, "replay_detected"},
		{ErrSessionRevoked, "session_revoked"},
		{ErrPendingLoginAttemptsExceeded, "pending_login_attempts_exceeded"},
		{fmt.Errorf("%w: redis timeout", ErrBackendUnavailable), "backend_unavailable"},
		{fmt.Errorf("%w: bad attestation", ErrCeremonyVerificationFailed), "ceremony_verification_failed"},
		{errors.New("boom"), "internal_error"},
	}

	for _, tc := range cases {
		if got := ReasonCode(tc.err); got != tc.want {
			t.Fatalf("ReasonCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
