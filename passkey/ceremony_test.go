package passkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"

	flagUserPresent  = 0x01
	flagAttestedData = 0x40
)

// softAuthenticator is an ES256 authenticator with "none" attestation.
type softAuthenticator struct {
	t       *testing.T
	key     *ecdsa.PrivateKey
	credID  []byte
	counter uint32
}

func newSoftAuthenticator(t *testing.T) *softAuthenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	id := make([]byte, 16)
	_, err = rand.Read(id)
	require.NoError(t, err)
	return &softAuthenticator{t: t, key: key, credID: id}
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func (a *softAuthenticator) authData(flags byte, attested []byte) []byte {
	rpHash := sha256.Sum256([]byte(testRPID))
	out := append([]byte{}, rpHash[:]...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, a.counter)
	return append(out, attested...)
}

func (a *softAuthenticator) coseKey() []byte {
	pub, err := a.key.PublicKey.ECDH()
	require.NoError(a.t, err)
	point := pub.Bytes()
	key, err := webauthncbor.Marshal(map[int]any{
		1:  2,  // kty: EC2
		3:  -7, // alg: ES256
		-1: 1,  // crv: P-256
		-2: point[1:33],
		-3: point[33:],
	})
	require.NoError(a.t, err)
	return key
}

func (a *softAuthenticator) clientData(ceremony, challenge, origin string) []byte {
	data, err := json.Marshal(map[string]any{
		"type":      ceremony,
		"challenge": challenge,
		"origin":    origin,
	})
	require.NoError(a.t, err)
	return data
}

func (a *softAuthenticator) register(challenge, origin string) []byte {
	attested := make([]byte, 16)
	attested = binary.BigEndian.AppendUint16(attested, uint16(len(a.credID)))
	attested = append(attested, a.credID...)
	attested = append(attested, a.coseKey()...)

	object, err := webauthncbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": a.authData(flagUserPresent|flagAttestedData, attested),
	})
	require.NoError(a.t, err)

	body, err := json.Marshal(map[string]any{
		"id":    b64(a.credID),
		"rawId": b64(a.credID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(a.clientData("webauthn.create", challenge, origin)),
			"attestationObject": b64(object),
			"transports":        []string{"internal"},
		},
	})
	require.NoError(a.t, err)
	return body
}

func (a *softAuthenticator) assert(challenge, origin string, handle []byte, corrupt bool) []byte {
	authData := a.authData(flagUserPresent, nil)
	clientData := a.clientData("webauthn.get", challenge, origin)
	clientHash := sha256.Sum256(clientData)
	digest := sha256.Sum256(append(append([]byte{}, authData...), clientHash[:]...))

	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	require.NoError(a.t, err)
	if corrupt {
		sig[len(sig)-1] ^= 0xff
	}

	body, err := json.Marshal(map[string]any{
		"id":    b64(a.credID),
		"rawId": b64(a.credID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(clientData),
			"authenticatorData": b64(authData),
			"signature":         b64(sig),
			"userHandle":        b64(handle),
		},
	})
	require.NoError(a.t, err)
	return body
}

func newRealManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{RPID: testRPID, RPOrigins: []string{testOrigin}})
	require.NoError(t, err)
	return m
}

// registerSoft runs a full registration and returns the owner with the new
// passkey attached.
func registerSoft(t *testing.T, m *Manager, auth *softAuthenticator) *User {
	t.Helper()
	user := &User{ID: "p-1", Handle: []byte("handle-1"), Name: "a@example.com"}

	_, session, err := m.BeginRegistration(user)
	require.NoError(t, err)

	pk, err := m.FinishRegistration(user, *session, auth.register(session.Challenge, testOrigin), "Laptop")
	require.NoError(t, err)
	user.Passkeys = []credstore.Passkey{*pk}
	return user
}

func TestSoftwareAuthenticatorRegisterAndLogin(t *testing.T) {
	m := newRealManager(t)
	auth := newSoftAuthenticator(t)
	auth.counter = 3
	user := registerSoft(t, m, auth)

	pk := user.Passkeys[0]
	assert.Equal(t, auth.credID, pk.ID)
	assert.Equal(t, uint32(3), pk.SignCount)
	assert.Equal(t, "none", pk.AttestationType)
	assert.Equal(t, DevicePlatform, pk.DeviceType)

	resolve := func(id, _ []byte) (*User, error) { return user, nil }

	auth.counter = 9
	_, session, err := m.BeginLogin(user)
	require.NoError(t, err)
	got, err := m.FinishLogin(*session, auth.assert(session.Challenge, testOrigin, user.Handle, false), resolve)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), got.PresentedCount)
	assert.NoError(t, CheckCounter(pk.SignCount, got.PresentedCount))

	// A validly signed assertion with a stale counter still fails the counter rule.
	auth.counter = 1
	_, session, err = m.BeginLogin(user)
	require.NoError(t, err)
	got, err = m.FinishLogin(*session, auth.assert(session.Challenge, testOrigin, user.Handle, false), resolve)
	require.NoError(t, err)
	assert.ErrorIs(t, CheckCounter(9, got.PresentedCount), ErrCounterRegression)
}

func TestSoftwareAuthenticatorRejectsForgedAssertions(t *testing.T) {
	m := newRealManager(t)
	auth := newSoftAuthenticator(t)
	user := registerSoft(t, m, auth)
	resolve := func(id, _ []byte) (*User, error) { return user, nil }

	cases := []struct {
		name      string
		challenge func(issued string) string
		origin    string
		corrupt   bool
	}{
		{"flipped signature byte", func(c string) string { return c }, testOrigin, true},
		{"wrong origin", func(c string) string { return c }, "https://evil.example", false},
		{"wrong challenge", func(string) string { return b64([]byte("some other challenge value")) }, testOrigin, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth.counter++
			_, session, err := m.BeginLogin(user)
			require.NoError(t, err)

			body := auth.assert(tc.challenge(session.Challenge), tc.origin, user.Handle, tc.corrupt)
			_, err = m.FinishLogin(*session, body, resolve)
			assert.ErrorIs(t, err, ErrVerificationFailed)
		})
	}
}

func TestSoftwareAuthenticatorRejectsForeignOriginRegistration(t *testing.T) {
	m := newRealManager(t)
	auth := newSoftAuthenticator(t)
	user := &User{ID: "p-1", Handle: []byte("handle-1"), Name: "a@example.com"}

	_, session, err := m.BeginRegistration(user)
	require.NoError(t, err)

	_, err = m.FinishRegistration(user, *session, auth.register(session.Challenge, "https://evil.example"), "")
	assert.ErrorIs(t, err, ErrVerificationFailed)

	_, err = m.FinishRegistration(user, *session, auth.register("not-the-challenge", testOrigin), "")
	assert.ErrorIs(t, err, ErrVerificationFailed)
}
