package goVerify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goVerify/session"
)

func (r *Realm) issueSession(ctx context.Context, p *Principal) (*Session, error) {
	gen, err := r.sessions.Generation(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	ttl := r.SessionTTL()
	claims := SessionClaims{
		Email:      p.Email,
		Role:       p.Role,
		Kind:       string(r.kind),
		Generation: gen,
	}
	claims.Subject = p.ID

	token, signed, err := r.engine.jwt.Sign(claims, ttl)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	r.engine.metricInc(MetricSessionCreated)
	return &Session{
		Token:     token,
		ExpiresAt: signed.ExpiresAt.Time,
		MaxAge:    ttl,
		Claims:    signed,
	}, nil
}

// ParseSession checks signature, expiry, issuer and kind. It performs no I/O
// and does not consult revocation state; use ValidateSession for that.
func (r *Realm) ParseSession(token string) (*SessionClaims, error) {
	if r == nil || r.engine == nil || r.engine.jwt == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := r.engine.jwt.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if claims.Kind != string(r.kind) {
		return nil, ErrSessionInvalid
	}
	return claims, nil
}

// ValidateSession parses token and checks that neither it nor its
// generation has been revoked.
func (r *Realm) ValidateSession(ctx context.Context, token string) (Identity, error) {
	if r == nil || r.engine == nil {
		return Identity{}, ErrEngineNotReady
	}
	start := r.engine.now()
	defer r.engine.metricObserve(MetricValidateLatency, start)

	claims, err := r.validate(ctx, token)
	if err != nil {
		r.engine.metricInc(MetricSessionRejected)
		return Identity{}, err
	}
	return identityFromClaims(claims), nil
}

func (r *Realm) validate(ctx context.Context, token string) (*SessionClaims, error) {
	claims, err := r.ParseSession(token)
	if err != nil {
		return nil, err
	}

	status, err := r.sessions.Check(ctx, claims.Subject, claims.ID, claims.Generation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if status != session.StatusActive {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

// Logout revokes token until its natural expiry.
func (r *Realm) Logout(ctx context.Context, token string) error {
	claims, err := r.ParseSession(token)
	if err != nil {
		return err
	}
	if err := r.sessions.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	r.engine.metricInc(MetricLogout)
	r.emitSuccess(ctx, auditEventLogout, claims.Subject, claims.ID, nil)
	return nil
}

// LogoutAll revokes every session of the principal token belongs to.
func (r *Realm) LogoutAll(ctx context.Context, token string) error {
	claims, err := r.validate(ctx, token)
	if err != nil {
		return err
	}
	return r.RevokeAll(ctx, claims.Subject)
}

// RevokeAll invalidates every outstanding session of principalID by moving
// its session generation forward.
func (r *Realm) RevokeAll(ctx context.Context, principalID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if principalID == "" {
		return ErrPrincipalNotFound
	}
	if _, err := r.sessions.RevokeAll(ctx, principalID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	r.engine.metricInc(MetricLogoutAll)
	r.emitSuccess(ctx, auditEventLogoutAll, principalID, "", nil)
	return nil
}

// RefreshSession issues a new session for the holder of a valid token and
// revokes the old one. The principal is reloaded and must still be active.
func (r *Realm) RefreshSession(ctx context.Context, token string) (*Session, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	claims, err := r.validate(ctx, token)
	if err != nil {
		r.emitFailure(ctx, auditEventSessionRejected, "", ReasonCode(err), nil)
		return nil, err
	}

	p, err := r.loadPrincipal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			err = ErrSessionInvalid
		}
		r.emitFailure(ctx, auditEventSessionRejected, claims.Subject, ReasonCode(err), nil)
		return nil, err
	}
	if !p.Active {
		r.emitFailure(ctx, auditEventSessionRejected, p.ID, "account_disabled", nil)
		return nil, ErrSessionRevoked
	}

	next, err := r.issueSession(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := r.sessions.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		r.engine.warn("goVerify: revoking refreshed %s session %s failed: %v", r.kind, claims.ID, err)
	}

	r.engine.metricInc(MetricSessionRefreshed)
	r.emitSuccess(ctx, auditEventSessionRefreshed, p.ID, next.Claims.ID, func() map[string]string {
		return map[string]string{"previous_session_id": claims.ID}
	})
	return next, nil
}
