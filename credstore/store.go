package credstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a principal or passkey does not exist.
	ErrNotFound = errors.New("credstore: not found")
	// ErrConflict is returned when a unique key (email, handle, credential id) is taken.
	ErrConflict = errors.New("credstore: conflict")
)

// BackupCodeHash is SHA-256 over principal id, a zero byte, and the canonical code.
type BackupCodeHash = [32]byte

// Principal is an authenticatable account.
type Principal struct {
	ID           string
	Email        string
	Role         string
	DisplayName  string
	PasswordHash string
	Active       bool

	// WebAuthnHandle is the opaque user handle given to authenticators.
	WebAuthnHandle []byte

	// TOTPSecret is base32. It is set during setup before TOTPEnabled flips.
	TOTPSecret   string
	TOTPEnabled  bool
	TOTPLastStep int64

	LastLoginAt time.Time
}

// Passkey is a registered public-key credential.
type Passkey struct {
	ID              []byte
	PublicKey       []byte
	AttestationType string
	AAGUID          []byte
	SignCount       uint32
	DeviceType      string
	BackupEligible  bool
	BackedUp        bool
	Transports      []string
	Name            string
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// Store is the narrow capability the verification engine needs from a
// principal table.
type Store interface {
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (*Principal, error)
	GetPrincipalByHandle(ctx context.Context, handle []byte) (*Principal, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// SetTOTPSecret stores a pending secret without enabling the factor.
	SetTOTPSecret(ctx context.Context, id, secret string) error
	// EnableTOTP marks the factor enabled, records the confirming step and
	// replaces the backup code set in one unit.
	EnableTOTP(ctx context.Context, id string, step int64, codes []BackupCodeHash) error
	// DisableTOTP clears the secret, the step and all backup codes.
	DisableTOTP(ctx context.Context, id string) error
	// AdvanceTOTPStep stores step only if it is greater than the stored one.
	AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error)

	ReplaceBackupCodes(ctx context.Context, id string, codes []BackupCodeHash) error
	// ConsumeBackupCode removes the code and reports whether this call removed it.
	ConsumeBackupCode(ctx context.Context, id string, code BackupCodeHash) (bool, error)
	CountBackupCodes(ctx context.Context, id string) (int, error)

	ListPasskeys(ctx context.Context, principalID string) ([]Passkey, error)
	// FindPasskey resolves a credential id to its owner.
	FindPasskey(ctx context.Context, credentialID []byte) (string, *Passkey, error)
	CreatePasskey(ctx context.Context, principalID string, passkey Passkey) error
	// AdvancePasskeyCounter sets the counter to next only while it still
	// equals expected, and records the use time and backup state.
	AdvancePasskeyCounter(ctx context.Context, credentialID []byte, expected, next uint32, backedUp bool, usedAt time.Time) (bool, error)
	DeletePasskey(ctx context.Context, principalID string, credentialID []byte) error
}

// Seeder is implemented by stores that can create principals. The engine
// never creates accounts; operators and tests do.
type Seeder interface {
	PutPrincipal(ctx context.Context, p Principal) error
}
