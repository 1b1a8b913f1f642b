package goVerify

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	internalaudit "github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/internal/stores"
	"github.com/MrEthical07/goVerify/jwt"
	"github.com/MrEthical07/goVerify/passkey"
	"github.com/MrEthical07/goVerify/password"
	"github.com/MrEthical07/goVerify/session"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// passkeyCeremonies is satisfied by *passkey.Manager.
type passkeyCeremonies interface {
	BeginRegistration(user *passkey.User) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	FinishRegistration(user *passkey.User, session webauthn.SessionData, response []byte, name string) (*credstore.Passkey, error)
	BeginLogin(user *passkey.User) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	FinishLogin(session webauthn.SessionData, response []byte, resolve passkey.Resolver) (*passkey.Assertion, error)
}

// Engine holds the components shared by both realms. It is immutable after
// Builder.Build and safe for concurrent use.
type Engine struct {
	config    Config
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	password  *password.Verifier
	dummyHash string
	totp      *totpManager
	jwt       *jwt.Manager
	passkeys  passkeyCeremonies
	now       func() time.Time

	users  *Realm
	admins *Realm
}

// Realm is the verification surface for one principal kind. Every
// operation of the engine is reached through a Realm.
type Realm struct {
	engine     *Engine
	kind       PrincipalKind
	store      CredentialStore
	sessions   *session.Store
	challenges *stores.ChallengeStore
	pending    *stores.PendingLoginStore
	deps       flows.Deps
}

// Users returns the realm for regular users.
func (e *Engine) Users() *Realm { return e.users }

// Admins returns the realm for administrators.
func (e *Engine) Admins() *Realm { return e.admins }

// Realm returns the realm for kind, or nil for an unknown kind.
func (e *Engine) Realm(kind PrincipalKind) *Realm {
	switch kind {
	case KindUser:
		return e.users
	case KindAdmin:
		return e.admins
	default:
		return nil
	}
}

// Kind reports which principal kind the realm verifies.
func (r *Realm) Kind() PrincipalKind { return r.kind }

// SessionTTL is the lifetime of sessions issued by this realm.
func (r *Realm) SessionTTL() time.Duration { return r.engine.config.sessionTTL(r.kind) }

// ChallengeTTL is the lifetime of passkey ceremony challenges.
func (r *Realm) ChallengeTTL() time.Duration { return r.engine.config.Passkey.ChallengeTTL }

// PendingLoginTTL is the lifetime of a pending second-factor login.
func (r *Realm) PendingLoginTTL() time.Duration { return r.engine.config.TOTP.PendingLoginTTL }

func (r *Realm) ready() error {
	if r == nil || r.engine == nil || r.store == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Close drains the audit dispatcher. Operations after Close still work but
// their audit events are dropped.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditSinkFailures reports sink calls that panicked on the audit goroutine.
func (e *Engine) AuditSinkFailures() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.SinkFailures()
}

// AuditDropped reports events dropped because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// HashPassword hashes plain with the configured algorithm, for seeding
// principals.
func (e *Engine) HashPassword(plain string) (string, error) {
	if e == nil || e.password == nil {
		return "", ErrEngineNotReady
	}
	return e.password.Hash(plain)
}

func (e *Engine) dummyVerify(plain string) {
	if e.password == nil || e.dummyHash == "" {
		return
	}
	_, _ = e.password.Verify(plain, e.dummyHash)
}

func (e *Engine) warn(format string, args ...any) {
	log.Printf(format, args...)
}

func newRandomToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
