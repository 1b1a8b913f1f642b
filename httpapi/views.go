package httpapi

import (
	"encoding/base64"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totp_code,omitempty"`
	BackupCode string `json:"backup_code,omitempty"`
}

type factorRequest struct {
	TOTPCode   string `json:"totp_code,omitempty"`
	BackupCode string `json:"backup_code,omitempty"`
}

func (f factorRequest) factor() goVerify.SecondFactor {
	return goVerify.SecondFactor{TOTPCode: f.TOTPCode, BackupCode: f.BackupCode}
}

type codeRequest struct {
	Code string `json:"code"`
}

type passkeyLoginRequest struct {
	Email string `json:"email,omitempty"`
}

type identityView struct {
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	Role        string    `json:"role,omitempty"`
	Kind        string    `json:"kind"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func newIdentityView(id goVerify.Identity) identityView {
	return identityView{
		PrincipalID: id.PrincipalID,
		Email:       id.Email,
		Role:        id.Role,
		Kind:        string(id.Kind),
		SessionID:   id.SessionID,
		ExpiresAt:   id.ExpiresAt,
	}
}

type loginView struct {
	State            string        `json:"state"`
	Identity         *identityView `json:"identity,omitempty"`
	PendingExpiresAt *time.Time    `json:"pending_expires_at,omitempty"`
}

type passkeyView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	DeviceType string     `json:"device_type"`
	BackedUp   bool       `json:"backed_up"`
	Transports []string   `json:"transports,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func newPasskeyView(pk goVerify.Passkey) passkeyView {
	v := passkeyView{
		ID:         base64.RawURLEncoding.EncodeToString(pk.ID),
		Name:       pk.Name,
		DeviceType: pk.DeviceType,
		BackedUp:   pk.BackedUp,
		Transports: pk.Transports,
		CreatedAt:  pk.CreatedAt,
	}
	if !pk.LastUsedAt.IsZero() {
		used := pk.LastUsedAt
		v.LastUsedAt = &used
	}
	return v
}

type totpSetupView struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode []byte `json:"qr_code"`
}

type backupCodesView struct {
	BackupCodes []string `json:"backup_codes"`
}

type remainingView struct {
	Remaining int `json:"remaining"`
}
