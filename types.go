package goVerify

import (
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	internalaudit "github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/jwt"
)

// PrincipalKind separates the user and admin realms. Each kind has its own
// credential store, session lifetime, key prefixes and cookie names.
type PrincipalKind string

const (
	KindUser  PrincipalKind = "user"
	KindAdmin PrincipalKind = "admin"
)

func (k PrincipalKind) valid() bool {
	return k == KindUser || k == KindAdmin
}

// CredentialStore is the narrow persistence capability one realm needs.
// Reference adapters live in credstore/redisstore and credstore/sqlstore.
type CredentialStore = credstore.Store

// Principal is an authenticatable account as returned by a CredentialStore.
type Principal = credstore.Principal

// Passkey is a registered public-key credential.
type Passkey = credstore.Passkey

// SessionClaims is the claim set carried by a session credential.
type SessionClaims = jwt.SessionClaims

// AuditEvent is the record delivered to an AuditSink for every decision.
type AuditEvent = internalaudit.Event

// Audit outcomes carried by AuditEvent.Outcome.
const (
	OutcomeSuccess = internalaudit.OutcomeSuccess
	OutcomeFailure = internalaudit.OutcomeFailure
	OutcomePending = internalaudit.OutcomePending
)

// AuditSink receives audit events. Emit must not block for long; the engine
// calls it from a single dispatcher goroutine.
type AuditSink = internalaudit.Sink

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	MultiSink      = internalaudit.MultiSink
)

var (
	NewChannelSink    = internalaudit.NewChannelSink
	NewJSONWriterSink = internalaudit.NewJSONWriterSink
)

// Identity is the authenticated-principal result external collaborators
// consume.
type Identity struct {
	PrincipalID string
	Email       string
	Role        string
	Kind        PrincipalKind
	SessionID   string
	ExpiresAt   time.Time
}

// Session is a freshly issued session credential.
type Session struct {
	Token     string
	ExpiresAt time.Time
	MaxAge    time.Duration
	Claims    *SessionClaims
}

// Identity returns the principal the session was issued to.
func (s *Session) Identity() Identity {
	if s == nil || s.Claims == nil {
		return Identity{}
	}
	return identityFromClaims(s.Claims)
}

func identityFromClaims(c *SessionClaims) Identity {
	id := Identity{
		PrincipalID: c.Subject,
		Email:       c.Email,
		Role:        c.Role,
		Kind:        PrincipalKind(c.Kind),
		SessionID:   c.ID,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// LoginState is the terminal state a Login call reached.
type LoginState int

const (
	// LoginComplete means a session was issued.
	LoginComplete LoginState = iota + 1
	// LoginFactorRequired means the password verified and a second factor
	// must be presented through CompleteSecondFactor.
	LoginFactorRequired
)

func (s LoginState) String() string {
	switch s {
	case LoginComplete:
		return "complete"
	case LoginFactorRequired:
		return "factor_required"
	default:
		return "unknown"
	}
}

// LoginResult is returned by a successful password step.
type LoginResult struct {
	State   LoginState
	Session *Session

	// PendingToken identifies the password-verified login while State is
	// LoginFactorRequired.
	PendingToken     string
	PendingExpiresAt time.Time
}

// SecondFactor carries at most one code. When both are set the TOTP code
// is used and the backup code ignored.
type SecondFactor struct {
	TOTPCode   string
	BackupCode string
}

func (f SecondFactor) empty() bool {
	return f.TOTPCode == "" && f.BackupCode == ""
}

// TOTPSetup is the provisioning material returned by BeginTOTPSetup.
type TOTPSetup struct {
	Secret string
	URI    string
	// QRCode is a PNG encoding of URI.
	QRCode []byte
}
