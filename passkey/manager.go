package passkey

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	// ErrVerificationFailed covers malformed responses and failed
	// signature, attestation, origin or RP checks.
	ErrVerificationFailed = errors.New("passkey ceremony verification failed")
	// ErrUnknownCredential is returned when an assertion names a credential
	// that no principal owns.
	ErrUnknownCredential = errors.New("passkey credential unknown")
	// ErrCounterRegression signals a signature counter that did not advance.
	ErrCounterRegression = errors.New("passkey signature counter did not advance")
)

// DefaultTimeout is the ceremony lifetime advertised to clients.
const DefaultTimeout = 5 * time.Minute

// Config describes the relying party.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	Timeout       time.Duration

	// UserVerification is "required", "preferred" or "discouraged".
	UserVerification string
	// ResidentKey is "required", "preferred" or "discouraged".
	ResidentKey string
}

type relyingParty interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, parsed *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidateDiscoverableLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// Resolver maps an asserted credential id (and the user handle the
// authenticator returned, if any) to its owner.
type Resolver func(credentialID, userHandle []byte) (*User, error)

// Assertion is a cryptographically verified authentication response.
// The counter rule has not been applied yet; see CheckCounter.
type Assertion struct {
	User           *User
	Stored         credstore.Passkey
	PresentedCount uint32
	BackedUp       bool
}

// Manager is safe for concurrent use.
type Manager struct {
	rp  relyingParty
	cfg Config
	now func() time.Time

	parseCreation  func(io.Reader) (*protocol.ParsedCredentialCreationData, error)
	parseAssertion func(io.Reader) (*protocol.ParsedCredentialAssertionData, error)
}

// NewManager builds a Manager backed by go-webauthn.
func NewManager(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.RPID) == "" {
		return nil, errors.New("passkey RPID is required")
	}
	if len(cfg.RPOrigins) == 0 {
		return nil, errors.New("passkey RPOrigins is required")
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = cfg.RPID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	timeout := webauthn.TimeoutConfig{Enforce: true, Timeout: cfg.Timeout, TimeoutUVD: cfg.Timeout}
	web, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeout,
			Registration: timeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("passkey relying party: %w", err)
	}

	return newManager(web, cfg), nil
}

func newManager(rp relyingParty, cfg Config) *Manager {
	return &Manager{
		rp:             rp,
		cfg:            cfg,
		now:            time.Now,
		parseCreation:  protocol.ParseCredentialCreationResponseBody,
		parseAssertion: protocol.ParseCredentialRequestResponseBody,
	}
}

// BeginRegistration returns creation options for user. Every passkey the
// user already owns is placed on the exclude list.
func (m *Manager) BeginRegistration(user *User) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if user == nil || len(user.Handle) == 0 {
		return nil, nil, errors.New("passkey registration requires a user handle")
	}

	selection := protocol.AuthenticatorSelection{
		ResidentKey:      residentKey(m.cfg.ResidentKey),
		UserVerification: userVerification(m.cfg.UserVerification),
	}
	if selection.ResidentKey == protocol.ResidentKeyRequirementRequired {
		required := true
		selection.RequireResidentKey = &required
	}

	return m.rp.BeginRegistration(user,
		webauthn.WithExclusions(user.exclusions()),
		webauthn.WithAuthenticatorSelection(selection),
	)
}

// FinishRegistration verifies a registration response and returns the
// credential to persist.
func (m *Manager) FinishRegistration(user *User, session webauthn.SessionData, response []byte, name string) (*credstore.Passkey, error) {
	parsed, err := m.parseCreation(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	cred, err := m.rp.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if name = strings.TrimSpace(name); name == "" {
		name = "Passkey"
	}
	out := fromWebAuthn(cred, name, m.now())
	if out.DeviceType == DeviceUnknown && parsed.AuthenticatorAttachment != "" {
		out.DeviceType = deviceType(parsed.AuthenticatorAttachment, out.Transports)
	}
	return &out, nil
}

// BeginLogin returns assertion options. A nil user, or one without
// passkeys, produces discoverable-credential options with no allow-list.
func (m *Manager) BeginLogin(user *User) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	uv := webauthn.WithUserVerification(userVerification(m.cfg.UserVerification))
	if user == nil || len(user.Passkeys) == 0 {
		return m.rp.BeginDiscoverableLogin(uv)
	}
	return m.rp.BeginLogin(user, uv)
}

// FinishLogin verifies an assertion. The owner is resolved from the
// asserted credential id, so allow-list and discoverable ceremonies share
// one path.
func (m *Manager) FinishLogin(session webauthn.SessionData, response []byte, resolve Resolver) (*Assertion, error) {
	parsed, err := m.parseAssertion(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	user, err := resolve(parsed.RawID, parsed.Response.UserHandle)
	if err != nil {
		return nil, err
	}
	stored, ok := user.passkey(parsed.RawID)
	if !ok {
		return nil, ErrUnknownCredential
	}

	var validated *webauthn.Credential
	if len(session.UserID) > 0 {
		validated, err = m.rp.ValidateLogin(user, session, parsed)
	} else {
		validated, err = m.rp.ValidateDiscoverableLogin(func(_, userHandle []byte) (webauthn.User, error) {
			if !bytes.Equal(userHandle, user.Handle) {
				return nil, ErrUnknownCredential
			}
			return user, nil
		}, session, parsed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	backedUp := stored.BackedUp
	if validated != nil {
		backedUp = validated.Flags.BackupState
	}

	return &Assertion{
		User:           user,
		Stored:         stored,
		PresentedCount: parsed.Response.AuthenticatorData.Counter,
		BackedUp:       backedUp,
	}, nil
}

// CheckCounter enforces that presented is strictly greater than stored,
// except that authenticators without counters report zero forever.
func CheckCounter(stored, presented uint32) error {
	if presented > stored || (presented == 0 && stored == 0) {
		return nil
	}
	return ErrCounterRegression
}

func userVerification(v string) protocol.UserVerificationRequirement {
	switch protocol.UserVerificationRequirement(v) {
	case protocol.VerificationRequired, protocol.VerificationDiscouraged:
		return protocol.UserVerificationRequirement(v)
	default:
		return protocol.VerificationPreferred
	}
}

func residentKey(v string) protocol.ResidentKeyRequirement {
	switch protocol.ResidentKeyRequirement(v) {
	case protocol.ResidentKeyRequirementRequired, protocol.ResidentKeyRequirementDiscouraged:
		return protocol.ResidentKeyRequirement(v)
	default:
		return protocol.ResidentKeyRequirementPreferred
	}
}
