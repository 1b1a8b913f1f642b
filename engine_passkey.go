package goVerify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/internal/stores"
	"github.com/MrEthical07/goVerify/passkey"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

func (r *Realm) passkeysReady() error {
	if err := r.ready(); err != nil {
		return err
	}
	if r.engine.passkeys == nil {
		return ErrPasskeyNotConfigured
	}
	return nil
}

func (r *Realm) passkeyUser(ctx context.Context, p *Principal) (*passkey.User, error) {
	pks, err := r.store.ListPasskeys(ctx, p.ID)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		return nil, wrapBackend(err)
	}
	return &passkey.User{
		ID:          p.ID,
		Handle:      p.WebAuthnHandle,
		Name:        p.Email,
		DisplayName: p.DisplayName,
		Passkeys:    pks,
	}, nil
}

func (r *Realm) issueChallenge(ctx context.Context, purpose stores.ChallengePurpose, principalID string, sd *webauthn.SessionData) error {
	raw, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	record := &stores.Challenge{
		Value:       sd.Challenge,
		Purpose:     purpose,
		Kind:        string(r.kind),
		PrincipalID: principalID,
		IssuedAt:    r.engine.now().Unix(),
		Session:     raw,
	}
	if err := r.challenges.Issue(ctx, record, r.ChallengeTTL()); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// consumeChallenge deletes the challenge before anything else looks at the
// response, so a challenge is gone whether verification succeeds or not.
func (r *Realm) consumeChallenge(ctx context.Context, value string, purpose stores.ChallengePurpose) (*stores.Challenge, webauthn.SessionData, error) {
	var sd webauthn.SessionData
	if value == "" {
		r.engine.metricInc(MetricChallengeMissing)
		return nil, sd, ErrChallengeExpiredOrMissing
	}

	record, err := r.challenges.Consume(ctx, value)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			r.engine.metricInc(MetricChallengeMissing)
			return nil, sd, ErrChallengeExpiredOrMissing
		}
		return nil, sd, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if record.Purpose != purpose || record.Kind != string(r.kind) {
		r.engine.metricInc(MetricChallengeMissing)
		return nil, sd, ErrChallengeExpiredOrMissing
	}
	if err := json.Unmarshal(record.Session, &sd); err != nil {
		return nil, sd, ErrChallengeExpiredOrMissing
	}
	return record, sd, nil
}

// BeginPasskeyRegistration returns creation options for an authenticated
// principal together with the challenge that identifies the ceremony.
func (r *Realm) BeginPasskeyRegistration(ctx context.Context, principalID string) (*protocol.CredentialCreation, string, error) {
	if err := r.passkeysReady(); err != nil {
		return nil, "", err
	}

	p, err := r.loadPrincipal(ctx, principalID)
	if err != nil {
		return nil, "", err
	}
	if !p.Active {
		return nil, "", ErrAccountDisabled
	}
	if len(p.WebAuthnHandle) == 0 {
		return nil, "", fmt.Errorf("%w: principal has no user handle", ErrEngineNotReady)
	}

	user, err := r.passkeyUser(ctx, p)
	if err != nil {
		return nil, "", err
	}
	options, sd, err := r.engine.passkeys.BeginRegistration(user)
	if err != nil {
		return nil, "", fmt.Errorf("begin passkey registration: %w", err)
	}
	if err := r.issueChallenge(ctx, stores.PurposeRegistration, p.ID, sd); err != nil {
		return nil, "", err
	}

	r.emitSuccess(ctx, auditEventPasskeyRegistrationBegin, p.ID, "", nil)
	return options, sd.Challenge, nil
}

// FinishPasskeyRegistration verifies an attestation response and stores the
// new credential under the principal the challenge was issued to. That
// principal must be principalID, the caller's authenticated identity.
func (r *Realm) FinishPasskeyRegistration(ctx context.Context, principalID, challenge string, response []byte, name string) (*Passkey, error) {
	if err := r.passkeysReady(); err != nil {
		return nil, err
	}

	fail := func(principalID, reason string, err error) (*Passkey, error) {
		r.engine.metricInc(MetricPasskeyRegistrationFailure)
		r.emitFailure(ctx, auditEventPasskeyRegistrationFailed, principalID, reason, nil)
		return nil, err
	}

	record, sd, err := r.consumeChallenge(ctx, challenge, stores.PurposeRegistration)
	if err != nil {
		return fail(principalID, ReasonCode(err), err)
	}
	if principalID == "" || record.PrincipalID != principalID {
		r.engine.metricInc(MetricChallengeMissing)
		return fail(principalID, "principal_mismatch", ErrChallengeExpiredOrMissing)
	}

	p, err := r.loadPrincipal(ctx, record.PrincipalID)
	if err != nil {
		return fail(record.PrincipalID, ReasonCode(err), err)
	}
	if !p.Active {
		return fail(p.ID, "account_disabled", ErrAccountDisabled)
	}

	user, err := r.passkeyUser(ctx, p)
	if err != nil {
		return fail(p.ID, ReasonCode(err), err)
	}
	pk, err := r.engine.passkeys.FinishRegistration(user, sd, response, name)
	if err != nil {
		return fail(p.ID, "attestation_invalid", fmt.Errorf("%w: %v", ErrCeremonyVerificationFailed, err))
	}

	if err := r.store.CreatePasskey(ctx, p.ID, *pk); err != nil {
		if errors.Is(err, credstore.ErrConflict) {
			return fail(p.ID, "credential_exists", ErrCeremonyVerificationFailed)
		}
		return fail(p.ID, "backend_unavailable", wrapBackend(err))
	}

	r.engine.metricInc(MetricPasskeyRegistered)
	r.emitSuccess(ctx, auditEventPasskeyRegistered, p.ID, "", func() map[string]string {
		return map[string]string{
			"credential_id": base64.RawURLEncoding.EncodeToString(pk.ID),
			"device_type":   pk.DeviceType,
		}
	})
	return pk, nil
}

// BeginPasskeyLogin returns assertion options. A known email with passkeys
// yields an allow-list; an empty or unknown email yields discoverable
// options so the response does not reveal whether the account exists.
func (r *Realm) BeginPasskeyLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, string, error) {
	if err := r.passkeysReady(); err != nil {
		return nil, "", err
	}

	var user *passkey.User
	if identifier := flows.NormalizeEmail(email); identifier != "" {
		p, err := r.store.GetPrincipalByEmail(ctx, identifier)
		switch {
		case err == nil && p.Active:
			if user, err = r.passkeyUser(ctx, p); err != nil {
				return nil, "", err
			}
		case err != nil && !errors.Is(err, credstore.ErrNotFound):
			return nil, "", wrapBackend(err)
		}
	}

	options, sd, err := r.engine.passkeys.BeginLogin(user)
	if err != nil {
		return nil, "", fmt.Errorf("begin passkey login: %w", err)
	}

	principalID := ""
	if user != nil && len(user.Passkeys) > 0 {
		principalID = user.ID
	}
	if err := r.issueChallenge(ctx, stores.PurposeAuthentication, principalID, sd); err != nil {
		return nil, "", err
	}
	return options, sd.Challenge, nil
}

// FinishPasskeyLogin verifies an assertion, enforces the signature counter
// rule and issues a session. A counter that did not advance fails with
// ErrReplayDetected and leaves the stored counter unchanged.
func (r *Realm) FinishPasskeyLogin(ctx context.Context, challenge string, response []byte) (*Session, error) {
	if err := r.passkeysReady(); err != nil {
		return nil, err
	}

	fail := func(principalID, reason string, err error) (*Session, error) {
		r.engine.metricInc(MetricPasskeyLoginFailure)
		r.emitFailure(ctx, auditEventPasskeyLoginFailure, principalID, reason, nil)
		return nil, err
	}

	record, sd, err := r.consumeChallenge(ctx, challenge, stores.PurposeAuthentication)
	if err != nil {
		return fail("", ReasonCode(err), err)
	}

	var owner *Principal
	resolve := func(credentialID, userHandle []byte) (*passkey.User, error) {
		ownerID, _, err := r.store.FindPasskey(ctx, credentialID)
		if err != nil {
			if errors.Is(err, credstore.ErrNotFound) {
				return nil, passkey.ErrUnknownCredential
			}
			return nil, wrapBackend(err)
		}
		if record.PrincipalID != "" && ownerID != record.PrincipalID {
			return nil, passkey.ErrUnknownCredential
		}
		// The asserted handle must name the same principal that owns the
		// credential.
		if len(userHandle) > 0 {
			byHandle, err := r.store.GetPrincipalByHandle(ctx, userHandle)
			if err != nil {
				if errors.Is(err, credstore.ErrNotFound) {
					return nil, passkey.ErrUnknownCredential
				}
				return nil, wrapBackend(err)
			}
			if byHandle.ID != ownerID {
				return nil, passkey.ErrUnknownCredential
			}
		}
		p, err := r.loadPrincipal(ctx, ownerID)
		if err != nil {
			if errors.Is(err, ErrPrincipalNotFound) {
				return nil, passkey.ErrUnknownCredential
			}
			return nil, err
		}
		owner = p
		return r.passkeyUser(ctx, p)
	}

	assertion, err := r.engine.passkeys.FinishLogin(sd, response, resolve)
	if err != nil {
		switch {
		case errors.Is(err, ErrBackendUnavailable):
			return fail(ownerID(owner), "backend_unavailable", err)
		case errors.Is(err, passkey.ErrUnknownCredential):
			return fail(ownerID(owner), "unknown_credential", ErrCeremonyVerificationFailed)
		default:
			return fail(ownerID(owner), "assertion_invalid", fmt.Errorf("%w: %v", ErrCeremonyVerificationFailed, err))
		}
	}

	if !owner.Active {
		if r.engine.config.Security.RevealDisabledAccounts {
			return fail(owner.ID, "account_disabled", ErrAccountDisabled)
		}
		return fail(owner.ID, "account_disabled", ErrInvalidCredentials)
	}

	stored := assertion.Stored
	if err := passkey.CheckCounter(stored.SignCount, assertion.PresentedCount); err != nil {
		r.engine.metricInc(MetricPasskeyReplayDetected)
		return fail(owner.ID, "counter_regression", ErrReplayDetected)
	}
	advanced, err := r.store.AdvancePasskeyCounter(ctx, stored.ID, stored.SignCount, assertion.PresentedCount, assertion.BackedUp, r.engine.now())
	if err != nil {
		return fail(owner.ID, "backend_unavailable", wrapBackend(err))
	}
	if !advanced {
		r.engine.metricInc(MetricPasskeyReplayDetected)
		return fail(owner.ID, "counter_race", ErrReplayDetected)
	}

	sess, err := r.issueSession(ctx, owner)
	if err != nil {
		return fail(owner.ID, ReasonCode(err), err)
	}

	r.touchLastLogin(ctx, owner.ID)
	r.engine.metricInc(MetricPasskeyLoginSuccess)
	r.engine.metricInc(MetricLoginSuccess)
	r.emitLoginSuccess(ctx, auditEventPasskeyLoginSuccess, owner, sess.Claims.ID, func() map[string]string {
		return map[string]string{
			"method":        flows.MethodPasskey,
			"credential_id": base64.RawURLEncoding.EncodeToString(stored.ID),
		}
	})
	return sess, nil
}

// ListPasskeys returns the principal's registered passkeys.
func (r *Realm) ListPasskeys(ctx context.Context, principalID string) ([]Passkey, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if principalID == "" {
		return nil, ErrPrincipalNotFound
	}
	pks, err := r.store.ListPasskeys(ctx, principalID)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, nil
		}
		return nil, wrapBackend(err)
	}
	return pks, nil
}

// RevokePasskey deletes one of the principal's passkeys.
func (r *Realm) RevokePasskey(ctx context.Context, principalID string, credentialID []byte) error {
	if err := r.ready(); err != nil {
		return err
	}
	if principalID == "" || len(credentialID) == 0 {
		return ErrPasskeyNotFound
	}
	if err := r.store.DeletePasskey(ctx, principalID, credentialID); err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return ErrPasskeyNotFound
		}
		return wrapBackend(err)
	}

	r.engine.metricInc(MetricPasskeyRevoked)
	r.emitSuccess(ctx, auditEventPasskeyRevoked, principalID, "", func() map[string]string {
		return map[string]string{"credential_id": base64.RawURLEncoding.EncodeToString(credentialID)}
	})
	return nil
}

func ownerID(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}
