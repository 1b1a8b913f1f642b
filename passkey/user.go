package passkey

import (
	"bytes"
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

const (
	DevicePlatform      = "platform"
	DeviceCrossPlatform = "cross-platform"
	DeviceUnknown       = "unknown"
)

// User adapts a principal and its registered passkeys to webauthn.User.
type User struct {
	ID          string
	Handle      []byte
	Name        string
	DisplayName string
	Passkeys    []credstore.Passkey
}

func (u *User) WebAuthnID() []byte { return u.Handle }

func (u *User) WebAuthnName() string { return u.Name }

func (u *User) WebAuthnDisplayName() string {
	if u.DisplayName == "" {
		return u.Name
	}
	return u.DisplayName
}

func (u *User) WebAuthnIcon() string { return "" }

func (u *User) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.Passkeys))
	for _, pk := range u.Passkeys {
		out = append(out, toWebAuthn(pk))
	}
	return out
}

func (u *User) passkey(id []byte) (credstore.Passkey, bool) {
	for _, pk := range u.Passkeys {
		if bytes.Equal(pk.ID, id) {
			return pk, true
		}
	}
	return credstore.Passkey{}, false
}

func (u *User) exclusions() []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(u.Passkeys))
	for _, pk := range u.Passkeys {
		cred := toWebAuthn(pk)
		out = append(out, cred.Descriptor())
	}
	return out
}

func toWebAuthn(pk credstore.Passkey) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(pk.Transports))
	for _, t := range pk.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:              pk.ID,
		PublicKey:       pk.PublicKey,
		AttestationType: pk.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: pk.BackupEligible,
			BackupState:    pk.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    pk.AAGUID,
			SignCount: pk.SignCount,
		},
	}
}

func fromWebAuthn(cred *webauthn.Credential, name string, now time.Time) credstore.Passkey {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	return credstore.Passkey{
		ID:              cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		DeviceType:      deviceType(cred.Authenticator.Attachment, transports),
		BackupEligible:  cred.Flags.BackupEligible,
		BackedUp:        cred.Flags.BackupState,
		Transports:      transports,
		Name:            name,
		CreatedAt:       now,
	}
}

func deviceType(attachment protocol.AuthenticatorAttachment, transports []string) string {
	switch attachment {
	case protocol.Platform:
		return DevicePlatform
	case protocol.CrossPlatform:
		return DeviceCrossPlatform
	}

	for _, t := range transports {
		if t == string(protocol.Internal) {
			return DevicePlatform
		}
	}
	if len(transports) > 0 {
		return DeviceCrossPlatform
	}
	return DeviceUnknown
}
