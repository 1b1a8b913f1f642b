package goVerify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func registerPasskey(t *testing.T, env *testEnv, realm *Realm, principalID, credentialID string, counter uint32) *Passkey {
	t.Helper()
	ctx := context.Background()
	_, challenge, err := realm.BeginPasskeyRegistration(ctx, principalID)
	if err != nil {
		t.Fatalf("BeginPasskeyRegistration failed: %v", err)
	}
	pk, err := realm.FinishPasskeyRegistration(ctx, principalID, challenge, fakeAssertion(credentialID, counter), "Laptop")
	if err != nil {
		t.Fatalf("FinishPasskeyRegistration failed: %v", err)
	}
	return pk
}

func TestPasskeyRegistrationAndLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()

	pk := registerPasskey(t, env, realm, "u1", "cred-1", 0)
	if string(pk.ID) != "cred-1" || pk.Name != "Laptop" {
		t.Fatalf("unexpected passkey %+v", pk)
	}

	options, challenge, err := realm.BeginPasskeyRegistration(ctx, "u1")
	if err != nil {
		t.Fatalf("second BeginPasskeyRegistration failed: %v", err)
	}
	if len(options.Response.CredentialExcludeList) != 1 {
		t.Fatalf("expected existing passkey on the exclude list, got %+v", options.Response.CredentialExcludeList)
	}
	if _, err := realm.FinishPasskeyRegistration(ctx, "u1", challenge, fakeAttestation("cred-1"), "dup"); !errors.Is(err, ErrCeremonyVerificationFailed) {
		t.Fatalf("expected duplicate credential to be rejected, got %v", err)
	}

	_, challenge, err = realm.BeginPasskeyLogin(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	sess, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-1", 1))
	if err != nil {
		t.Fatalf("FinishPasskeyLogin failed: %v", err)
	}
	id, err := realm.ValidateSession(ctx, sess.Token)
	if err != nil || id.PrincipalID != "u1" {
		t.Fatalf("expected valid session for u1, got %+v err=%v", id, err)
	}

	list, err := realm.ListPasskeys(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one passkey, got %d err=%v", len(list), err)
	}
	if list[0].SignCount != 1 || list[0].LastUsedAt.IsZero() {
		t.Fatalf("expected counter and last use to be persisted, got %+v", list[0])
	}

	env.flushAudit()
	if events := env.sink.byType(auditEventPasskeyLoginSuccess); len(events) != 1 || events[0].Metadata["method"] != "passkey" {
		t.Fatalf("unexpected passkey audit: %+v", events)
	}
}

func TestPasskeyRegistrationBoundToCaller(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	env.seed(t, KindUser, "u2", "bob@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()

	_, challenge, err := realm.BeginPasskeyRegistration(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginPasskeyRegistration failed: %v", err)
	}
	if _, err := realm.FinishPasskeyRegistration(ctx, "u2", challenge, fakeAttestation("cred-x"), "stolen"); !errors.Is(err, ErrChallengeExpiredOrMissing) {
		t.Fatalf("expected another principal's challenge to be rejected, got %v", err)
	}

	// The challenge is spent by the rejected attempt.
	if _, err := realm.FinishPasskeyRegistration(ctx, "u1", challenge, fakeAttestation("cred-x"), "Laptop"); !errors.Is(err, ErrChallengeExpiredOrMissing) {
		t.Fatalf("expected consumed challenge, got %v", err)
	}
	for _, id := range []string{"u1", "u2"} {
		if list, err := realm.ListPasskeys(ctx, id); err != nil || len(list) != 0 {
			t.Fatalf("%s: expected no passkeys, got %d err=%v", id, len(list), err)
		}
	}

	env.flushAudit()
	failed := env.sink.byType(auditEventPasskeyRegistrationFailed)
	if len(failed) == 0 || failed[0].Reason != "principal_mismatch" {
		t.Fatalf("unexpected registration failure audit: %+v", failed)
	}
}

func TestPasskeyCounterRegressionLeavesStoredCounter(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()

	registerPasskey(t, env, realm, "u1", "cred-7", 7)

	for _, presented := range []uint32{5, 7} {
		_, challenge, err := realm.BeginPasskeyLogin(ctx, "")
		if err != nil {
			t.Fatalf("BeginPasskeyLogin failed: %v", err)
		}
		if _, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-7", presented)); !errors.Is(err, ErrReplayDetected) {
			t.Fatalf("counter %d: expected ErrReplayDetected, got %v", presented, err)
		}
		_, stored, err := env.users.FindPasskey(ctx, []byte("cred-7"))
		if err != nil {
			t.Fatalf("FindPasskey failed: %v", err)
		}
		if stored.SignCount != 7 {
			t.Fatalf("stored counter changed to %d", stored.SignCount)
		}
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricPasskeyReplayDetected]; got != 2 {
		t.Fatalf("expected 2 replay detections, got %d", got)
	}
}

func TestPasskeyZeroCounterAuthenticator(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()

	registerPasskey(t, env, realm, "u1", "cred-0", 0)
	for i := 0; i < 2; i++ {
		_, challenge, err := realm.BeginPasskeyLogin(ctx, "")
		if err != nil {
			t.Fatalf("BeginPasskeyLogin failed: %v", err)
		}
		if _, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-0", 0)); err != nil {
			t.Fatalf("login %d with counterless authenticator failed: %v", i+1, err)
		}
	}
}

func TestPasskeyChallengeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()
	registerPasskey(t, env, realm, "u1", "cred-1", 0)

	_, challenge, err := realm.BeginPasskeyLogin(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}

	env.passkeys.verifyErr = errors.New("bad signature")
	if _, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-1", 1)); !errors.Is(err, ErrCeremonyVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}
	env.passkeys.verifyErr = nil

	// A failed verification still consumed the challenge.
	if _, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-1", 2)); !errors.Is(err, ErrChallengeExpiredOrMissing) {
		t.Fatalf("expected consumed challenge, got %v", err)
	}
	if _, err := realm.FinishPasskeyLogin(ctx, "never-issued", fakeAssertion("cred-1", 3)); !errors.Is(err, ErrChallengeExpiredOrMissing) {
		t.Fatalf("expected unknown challenge to fail, got %v", err)
	}
}

func TestPasskeyChallengeExpires(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()
	registerPasskey(t, env, realm, "u1", "cred-1", 0)

	_, challenge, err := realm.BeginPasskeyLogin(ctx, "")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	env.mr.FastForward(realm.ChallengeTTL() + time.Second)

	if _, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-1", 1)); !errors.Is(err, ErrChallengeExpiredOrMissing) {
		t.Fatalf("expected expired challenge, got %v", err)
	}
}

func TestPasskeyChallengePurposeAndRealmBound(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	env.seed(t, KindAdmin, "a1", "root@example.com", true)
	ctx := context.Background()
	users := env.engine.Users()
	registerPasskey(t, env, users, "u1", "cred-1", 0)

	_, regChallenge, err := users.BeginPasskeyRegistration(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginPasskeyRegistration failed: %v", err)
	}
	if _, err := users.FinishPasskeyLogin(ctx, regChallenge, fakeAssertion("cred-1", 1)); !errors.Is(err, ErrChallengeExpiredOrMissing) {
		t.Fatalf("expected registration challenge to be unusable for login, got %v", err)
	}

	_, loginChallenge, err := users.BeginPasskeyLogin(ctx, "")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	if _, err := env.engine.Admins().FinishPasskeyLogin(ctx, loginChallenge, fakeAssertion("cred-1", 1)); !errors.Is(err, ErrChallengeExpiredOrMissing) {
		t.Fatalf("expected user challenge to be unknown to admins, got %v", err)
	}
}

func TestPasskeyLoginAllowListBindsOwner(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	env.seed(t, KindUser, "u2", "bob@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()
	registerPasskey(t, env, realm, "u1", "cred-a", 0)
	registerPasskey(t, env, realm, "u2", "cred-b", 0)

	_, challenge, err := realm.BeginPasskeyLogin(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	if _, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-b", 1)); !errors.Is(err, ErrCeremonyVerificationFailed) {
		t.Fatalf("expected another principal's credential to be rejected, got %v", err)
	}
}

func TestPasskeyLoginUnknownEmailFallsBackToDiscoverable(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()
	registerPasskey(t, env, realm, "u1", "cred-1", 0)

	_, challenge, err := realm.BeginPasskeyLogin(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("expected unknown email to get options, got %v", err)
	}
	sess, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-1", 1))
	if err != nil {
		t.Fatalf("discoverable login failed: %v", err)
	}
	if sess.Identity().PrincipalID != "u1" {
		t.Fatalf("expected u1, got %+v", sess.Identity())
	}
}

func TestPasskeyLoginUserHandleMustMatchOwner(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	env.seed(t, KindUser, "u2", "bob@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()
	registerPasskey(t, env, realm, "u1", "cred-a", 0)

	alice := env.principal(t, KindUser, "u1")
	bob := env.principal(t, KindUser, "u2")

	cases := []struct {
		name   string
		handle []byte
		want   error
	}{
		{"another principal's handle", bob.WebAuthnHandle, ErrCeremonyVerificationFailed},
		{"unknown handle", []byte("no-such-handle"), ErrCeremonyVerificationFailed},
		{"owner's handle", alice.WebAuthnHandle, nil},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, challenge, err := realm.BeginPasskeyLogin(ctx, "")
			if err != nil {
				t.Fatalf("BeginPasskeyLogin failed: %v", err)
			}
			sess, err := realm.FinishPasskeyLogin(ctx, challenge, fakeHandleAssertion("cred-a", uint32(i+1), tc.handle))
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FinishPasskeyLogin failed: %v", err)
			}
			if sess.Identity().PrincipalID != "u1" {
				t.Fatalf("expected u1, got %+v", sess.Identity())
			}
		})
	}
}

func TestPasskeyLoginInactivePrincipal(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()
	registerPasskey(t, env, realm, "u1", "cred-1", 0)

	p := env.principal(t, KindUser, "u1")
	p.Active = false
	if err := env.users.PutPrincipal(ctx, *p); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, challenge, err := realm.BeginPasskeyLogin(ctx, "")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	if _, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-1", 1)); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRevokePasskey(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, KindUser, "u1", "alice@example.com", true)
	env.seed(t, KindUser, "u2", "bob@example.com", true)
	ctx := context.Background()
	realm := env.engine.Users()
	registerPasskey(t, env, realm, "u1", "cred-1", 0)

	if err := realm.RevokePasskey(ctx, "u2", []byte("cred-1")); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("expected another principal's revoke to fail, got %v", err)
	}
	if err := realm.RevokePasskey(ctx, "u1", []byte("cred-1")); err != nil {
		t.Fatalf("RevokePasskey failed: %v", err)
	}

	_, challenge, err := realm.BeginPasskeyLogin(ctx, "")
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	if _, err := realm.FinishPasskeyLogin(ctx, challenge, fakeAssertion("cred-1", 1)); !errors.Is(err, ErrCeremonyVerificationFailed) {
		t.Fatalf("expected revoked credential to fail, got %v", err)
	}
}

func TestPasskeysNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	engine, err := New().WithConfig(testConfig()).WithRedis(env.rdb).WithUserStore(env.users).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, _, err := engine.Users().BeginPasskeyLogin(context.Background(), ""); !errors.Is(err, ErrPasskeyNotConfigured) {
		t.Fatalf("expected ErrPasskeyNotConfigured, got %v", err)
	}
}
