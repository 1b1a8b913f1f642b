package goVerify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/MrEthical07/goVerify/credstore/redisstore"
	"github.com/MrEthical07/goVerify/passkey"
	"github.com/MrEthical07/goVerify/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct horse battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) byType(eventType string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeCeremonies stands in for go-webauthn. Responses are JSON
// {"id": credential id, "counter": presented counter, "handle": user handle}.
type fakeCeremonies struct {
	mu        sync.Mutex
	seq       int
	verifyErr error
}

type fakeResponse struct {
	ID      string `json:"id"`
	Counter uint32 `json:"counter"`
	Handle  []byte `json:"handle,omitempty"`
}

func fakeAssertion(id string, counter uint32) []byte {
	raw, _ := json.Marshal(fakeResponse{ID: id, Counter: counter})
	return raw
}

func fakeHandleAssertion(id string, counter uint32, handle []byte) []byte {
	raw, _ := json.Marshal(fakeResponse{ID: id, Counter: counter, Handle: handle})
	return raw
}

func fakeAttestation(id string) []byte {
	raw, _ := json.Marshal(fakeResponse{ID: id})
	return raw
}

func (f *fakeCeremonies) next(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-challenge-%d", prefix, f.seq)
}

func (f *fakeCeremonies) BeginRegistration(user *passkey.User) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	challenge := f.next("reg")
	excluded := make([]protocol.CredentialDescriptor, 0, len(user.Passkeys))
	for _, pk := range user.Passkeys {
		excluded = append(excluded, protocol.CredentialDescriptor{Type: protocol.PublicKeyCredentialType, CredentialID: pk.ID})
	}
	opts := &protocol.CredentialCreation{Response: protocol.PublicKeyCredentialCreationOptions{
		Challenge:             protocol.URLEncodedBase64(challenge),
		CredentialExcludeList: excluded,
	}}
	return opts, &webauthn.SessionData{Challenge: challenge, UserID: user.Handle}, nil
}

func (f *fakeCeremonies) FinishRegistration(user *passkey.User, session webauthn.SessionData, response []byte, name string) (*credstore.Passkey, error) {
	if f.verifyErr != nil {
		return nil, fmt.Errorf("%w: %v", passkey.ErrVerificationFailed, f.verifyErr)
	}
	var r fakeResponse
	if err := json.Unmarshal(response, &r); err != nil || r.ID == "" {
		return nil, passkey.ErrVerificationFailed
	}
	return &credstore.Passkey{
		ID:         []byte(r.ID),
		PublicKey:  []byte("cose-" + r.ID),
		SignCount:  r.Counter,
		DeviceType: passkey.DevicePlatform,
		Name:       name,
		CreatedAt:  time.Now(),
	}, nil
}

func (f *fakeCeremonies) BeginLogin(user *passkey.User) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	challenge := f.next("login")
	sd := &webauthn.SessionData{Challenge: challenge}
	if user != nil && len(user.Passkeys) > 0 {
		sd.UserID = user.Handle
		for _, pk := range user.Passkeys {
			sd.AllowedCredentialIDs = append(sd.AllowedCredentialIDs, pk.ID)
		}
	}
	return &protocol.CredentialAssertion{}, sd, nil
}

func (f *fakeCeremonies) FinishLogin(session webauthn.SessionData, response []byte, resolve passkey.Resolver) (*passkey.Assertion, error) {
	var r fakeResponse
	if err := json.Unmarshal(response, &r); err != nil {
		return nil, passkey.ErrVerificationFailed
	}
	user, err := resolve([]byte(r.ID), r.Handle)
	if err != nil {
		return nil, err
	}
	for _, pk := range user.Passkeys {
		if string(pk.ID) == r.ID {
			if f.verifyErr != nil {
				return nil, fmt.Errorf("%w: %v", passkey.ErrVerificationFailed, f.verifyErr)
			}
			return &passkey.Assertion{User: user, Stored: pk, PresentedCount: r.Counter, BackedUp: pk.BackedUp}, nil
		}
	}
	return nil, passkey.ErrUnknownCredential
}

type testEnv struct {
	engine   *Engine
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	users    *redisstore.Store
	admins   *redisstore.Store
	sink     *recordingSink
	clock    *testClock
	passkeys *fakeCeremonies
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Algorithm = password.AlgorithmArgon2id
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		mr:       mr,
		rdb:      rdb,
		users:    redisstore.New(rdb, "test:cred:user"),
		admins:   redisstore.New(rdb, "test:cred:admin"),
		sink:     &recordingSink{},
		clock:    &testClock{now: time.Now()},
		passkeys: &fakeCeremonies{},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithAdminStore(env.admins).
		WithAuditSink(env.sink).
		withPasskeyCeremonies(env.passkeys).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	engine.now = env.clock.Now
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) store(kind PrincipalKind) *redisstore.Store {
	if kind == KindAdmin {
		return env.admins
	}
	return env.users
}

func (env *testEnv) seed(t *testing.T, kind PrincipalKind, id, email string, active bool) {
	t.Helper()
	hash, err := env.engine.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	err = env.store(kind).PutPrincipal(context.Background(), credstore.Principal{
		ID:           id,
		Email:        email,
		Role:         string(kind) + "-role",
		DisplayName:  id,
		PasswordHash: hash,
		Active:       active,
	})
	if err != nil {
		t.Fatalf("seed principal: %v", err)
	}
}

// enableTOTP runs setup and confirmation and returns the secret and the
// backup codes. The clock is advanced one period so the confirming code's
// step is behind the caller.
func (env *testEnv) enableTOTP(t *testing.T, realm *Realm, principalID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := realm.BeginTOTPSetup(ctx, principalID)
	if err != nil {
		t.Fatalf("begin totp setup: %v", err)
	}
	codes, err := realm.ConfirmTOTPSetup(ctx, principalID, env.totpCode(t, setup.Secret, 0))
	if err != nil {
		t.Fatalf("confirm totp setup: %v", err)
	}
	env.clock.Advance(time.Duration(env.engine.config.TOTP.Period) * time.Second)
	return setup.Secret, codes
}

func (env *testEnv) totpCode(t *testing.T, secret string, stepOffset int) string {
	t.Helper()
	cfg := env.engine.config.TOTP
	at := env.clock.Now().Add(time.Duration(stepOffset*cfg.Period) * time.Second)
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    uint(cfg.Period),
		Digits:    env.engine.totp.digits,
		Algorithm: env.engine.totp.algorithm,
	})
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	return code
}

func (env *testEnv) principal(t *testing.T, kind PrincipalKind, id string) *credstore.Principal {
	t.Helper()
	p, err := env.store(kind).GetPrincipalByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load principal: %v", err)
	}
	return p
}

// flushAudit drains the dispatcher so the sink has every event.
func (env *testEnv) flushAudit() {
	env.engine.Close()
}
