package goVerify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoginFactorRequiredIsNotAFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()

	result, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.State != LoginFactorRequired || result.Session != nil || result.PendingToken == "" {
		t.Fatalf("expected pending second factor, got %+v", result)
	}
	if !result.PendingExpiresAt.After(env.clock.Now()) {
		t.Fatalf("expected pending expiry in the future, got %v", result.PendingExpiresAt)
	}

	env.flushAudit()
	if failures := env.sink.byType(auditEventLoginFailure); len(failures) != 0 {
		t.Fatalf("expected no failure audit, got %+v", failures)
	}
	pending := env.sink.byType(auditEventLoginFactorRequired)
	if len(pending) != 1 || pending[0].Outcome != "pending" {
		t.Fatalf("expected one pending audit event, got %+v", pending)
	}
}

func TestLoginWithTOTPCodeInOneCall(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	secret, _ := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()

	code := env.totpCode(t, secret, 0)
	result, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{TOTPCode: code})
	if err != nil {
		t.Fatalf("Login with TOTP failed: %v", err)
	}
	if result.State != LoginComplete || result.Session.Identity().PrincipalID != "u1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Same code inside its own step is a replay.
	if _, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{TOTPCode: code}); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected replay to fail, got %v", err)
	}

	// And it stays dead once the window has moved past it.
	env.clock.Advance(3 * time.Duration(env.engine.config.TOTP.Period) * time.Second)
	if _, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{TOTPCode: code}); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected stale code to fail, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricMFAReplayAttempt] != 1 {
		t.Fatalf("expected one replay attempt, got %d", snap.Counters[MetricMFAReplayAttempt])
	}
}

func TestTOTPWindowAcceptsAdjacentSteps(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	secret, _ := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()
	period := time.Duration(env.engine.config.TOTP.Period) * time.Second

	env.clock.Advance(5 * period)
	if _, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{TOTPCode: env.totpCode(t, secret, -1)}); err != nil {
		t.Fatalf("expected previous step to verify: %v", err)
	}

	env.clock.Advance(5 * period)
	if _, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{TOTPCode: env.totpCode(t, secret, 1)}); err != nil {
		t.Fatalf("expected next step to verify: %v", err)
	}

	env.clock.Advance(5 * period)
	if _, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{TOTPCode: env.totpCode(t, secret, 2)}); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected step +2 to fail, got %v", err)
	}
	if _, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{TOTPCode: "12ab56"}); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected malformed code to fail, got %v", err)
	}
}

func TestCompleteSecondFactorWithTOTP(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	secret, _ := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()

	pending, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	result, err := env.engine.Users().CompleteSecondFactor(ctx, pending.PendingToken, SecondFactor{TOTPCode: env.totpCode(t, secret, 0)})
	if err != nil {
		t.Fatalf("CompleteSecondFactor failed: %v", err)
	}
	if result.State != LoginComplete || result.Session == nil {
		t.Fatalf("unexpected result: %+v", result)
	}

	env.clock.Advance(time.Duration(env.engine.config.TOTP.Period) * time.Second)
	_, err = env.engine.Users().CompleteSecondFactor(ctx, pending.PendingToken, SecondFactor{TOTPCode: env.totpCode(t, secret, 0)})
	if !errors.Is(err, ErrPendingLoginInvalid) {
		t.Fatalf("expected pending token to be single use, got %v", err)
	}
}

func TestPendingLoginAttemptsExceeded(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.TOTP.PendingLoginMaxAttempts = 3 })
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	secret, _ := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()

	pending, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err := env.engine.Users().CompleteSecondFactor(ctx, pending.PendingToken, SecondFactor{TOTPCode: "000000"})
		if !errors.Is(err, ErrInvalidSecondFactor) {
			t.Fatalf("attempt %d: expected ErrInvalidSecondFactor, got %v", i+1, err)
		}
	}
	_, err = env.engine.Users().CompleteSecondFactor(ctx, pending.PendingToken, SecondFactor{TOTPCode: "000000"})
	if !errors.Is(err, ErrPendingLoginAttemptsExceeded) {
		t.Fatalf("expected ErrPendingLoginAttemptsExceeded, got %v", err)
	}

	_, err = env.engine.Users().CompleteSecondFactor(ctx, pending.PendingToken, SecondFactor{TOTPCode: env.totpCode(t, secret, 0)})
	if !errors.Is(err, ErrPendingLoginInvalid) {
		t.Fatalf("expected pending login to be gone, got %v", err)
	}
}

func TestPendingLoginExpires(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	secret, _ := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()

	pending, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.mr.FastForward(env.engine.Users().PendingLoginTTL() + time.Second)

	_, err = env.engine.Users().CompleteSecondFactor(ctx, pending.PendingToken, SecondFactor{TOTPCode: env.totpCode(t, secret, 0)})
	if !errors.Is(err, ErrPendingLoginInvalid) {
		t.Fatalf("expected expired pending login, got %v", err)
	}
}

func TestPendingLoginBoundToRealm(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	env.seed(t, KindAdmin, "u1", "root@example.com", true)
	secret, _ := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()

	pending, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	_, err = env.engine.Admins().CompleteSecondFactor(ctx, pending.PendingToken, SecondFactor{TOTPCode: env.totpCode(t, secret, 0)})
	if !errors.Is(err, ErrPendingLoginInvalid) {
		t.Fatalf("expected user pending token to be unknown to admins, got %v", err)
	}
}

func TestLoginWithPasswordRequiresFactor(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	env.enableTOTP(t, env.engine.Users(), "u1")

	_, err := env.engine.Users().LoginWithPassword(context.Background(), "alice@example.com", testPassword)
	if !errors.Is(err, ErrSecondFactorRequired) {
		t.Fatalf("expected ErrSecondFactorRequired, got %v", err)
	}
}

func TestBackupCodeConsumedOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	_, codes := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()
	realm := env.engine.Users()

	if len(codes) != env.engine.config.TOTP.BackupCodeCount {
		t.Fatalf("expected %d codes, got %d", env.engine.config.TOTP.BackupCodeCount, len(codes))
	}
	before, err := realm.RemainingBackupCodes(ctx, "u1")
	if err != nil || before != len(codes) {
		t.Fatalf("expected %d remaining, got %d err=%v", len(codes), before, err)
	}

	// Lowercase without the dash still canonicalizes to the stored code.
	typed := strings.ToLower(strings.ReplaceAll(codes[0], "-", ""))
	result, err := realm.Login(ctx, "alice@example.com", testPassword, SecondFactor{BackupCode: typed})
	if err != nil || result.State != LoginComplete {
		t.Fatalf("expected backup code login to succeed, result=%+v err=%v", result, err)
	}

	after, err := realm.RemainingBackupCodes(ctx, "u1")
	if err != nil || after != before-1 {
		t.Fatalf("expected %d remaining, got %d err=%v", before-1, after, err)
	}

	if _, err := realm.Login(ctx, "alice@example.com", testPassword, SecondFactor{BackupCode: codes[0]}); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected reused backup code to fail, got %v", err)
	}
	if _, err := realm.Login(ctx, "alice@example.com", testPassword, SecondFactor{BackupCode: "!!"}); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected malformed backup code to fail, got %v", err)
	}
	if n, _ := realm.RemainingBackupCodes(ctx, "u1"); n != before-1 {
		t.Fatalf("failed attempts must not change the set, got %d", n)
	}
}

func TestBackupCodeConcurrentSubmissionsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	_, codes := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()

	pendings := make([]string, 8)
	for i := range pendings {
		res, err := env.engine.Users().Login(ctx, "alice@example.com", testPassword, SecondFactor{})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		pendings[i] = res.PendingToken
	}

	var wins int32
	var wg sync.WaitGroup
	for _, token := range pendings {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			if _, err := env.engine.Users().CompleteSecondFactor(ctx, token, SecondFactor{BackupCode: codes[3]}); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(token)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestConfirmTOTPSetupConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()

	setup, err := realm.BeginTOTPSetup(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginTOTPSetup failed: %v", err)
	}
	code := env.totpCode(t, setup.Secret, 0)

	const attempts = 8
	results := make([][]string, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = realm.ConfirmTOTPSetup(ctx, "u1", code)
		}(i)
	}
	wg.Wait()

	var winner []string
	for i, err := range errs {
		if err == nil {
			if winner != nil {
				t.Fatal("expected exactly one confirmation to succeed")
			}
			winner = results[i]
			continue
		}
		if !errors.Is(err, ErrTOTPAlreadyEnabled) {
			t.Fatalf("expected losers to get ErrTOTPAlreadyEnabled, got %v", err)
		}
	}
	if winner == nil {
		t.Fatal("expected one confirmation to succeed")
	}

	// Every code handed to the winner must be live.
	remaining, err := realm.RemainingBackupCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("RemainingBackupCodes failed: %v", err)
	}
	if remaining != len(winner) {
		t.Fatalf("expected %d stored codes, got %d", len(winner), remaining)
	}
	if _, err := realm.Login(ctx, "alice@example.com", testPassword, SecondFactor{BackupCode: winner[0]}); err != nil {
		t.Fatalf("expected the winning code set to work: %v", err)
	}
}

func TestRegenerateBackupCodesReplacesSet(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	secret, old := env.enableTOTP(t, env.engine.Users(), "u1")
	ctx := context.Background()
	realm := env.engine.Users()

	if _, err := realm.RegenerateBackupCodes(ctx, "u1", "000000"); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected wrong code to be rejected, got %v", err)
	}

	fresh, err := realm.RegenerateBackupCodes(ctx, "u1", env.totpCode(t, secret, 0))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != len(old) {
		t.Fatalf("expected %d codes, got %d", len(old), len(fresh))
	}
	if _, err := realm.Login(ctx, "alice@example.com", testPassword, SecondFactor{BackupCode: old[0]}); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected old code to be invalid, got %v", err)
	}
	if _, err := realm.Login(ctx, "alice@example.com", testPassword, SecondFactor{BackupCode: fresh[0]}); err != nil {
		t.Fatalf("expected new code to work: %v", err)
	}
}

func TestTOTPSetupLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()

	setup, err := realm.BeginTOTPSetup(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginTOTPSetup failed: %v", err)
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") || !strings.Contains(setup.URI, "issuer=goVerify") {
		t.Fatalf("unexpected URI %q", setup.URI)
	}
	if len(setup.QRCode) < 8 || string(setup.QRCode[1:4]) != "PNG" {
		t.Fatal("expected PNG QR code")
	}
	if env.principal(t, KindUser, "u1").TOTPEnabled {
		t.Fatal("factor must not be enforced before confirmation")
	}

	if _, err := realm.ConfirmTOTPSetup(ctx, "u1", "000000"); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected wrong confirmation code to fail, got %v", err)
	}
	codes, err := realm.ConfirmTOTPSetup(ctx, "u1", env.totpCode(t, setup.Secret, 0))
	if err != nil {
		t.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}
	if _, err := realm.BeginTOTPSetup(ctx, "u1"); !errors.Is(err, ErrTOTPAlreadyEnabled) {
		t.Fatalf("expected ErrTOTPAlreadyEnabled, got %v", err)
	}

	if err := realm.DisableTOTP(ctx, "u1", SecondFactor{}); !errors.Is(err, ErrInvalidSecondFactor) {
		t.Fatalf("expected empty factor to be rejected, got %v", err)
	}
	if err := realm.DisableTOTP(ctx, "u1", SecondFactor{BackupCode: codes[1]}); err != nil {
		t.Fatalf("DisableTOTP failed: %v", err)
	}

	p := env.principal(t, KindUser, "u1")
	if p.TOTPEnabled || p.TOTPSecret != "" {
		t.Fatalf("expected factor to be cleared, got %+v", p)
	}
	if n, _ := realm.RemainingBackupCodes(ctx, "u1"); n != 0 {
		t.Fatalf("expected backup codes to be removed, got %d", n)
	}

	result, err := realm.Login(ctx, "alice@example.com", testPassword, SecondFactor{})
	if err != nil || result.State != LoginComplete {
		t.Fatalf("expected password-only login after disable, result=%+v err=%v", result, err)
	}
}
