package goVerify

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/password"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override what differs; Build validates the result.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Password PasswordConfig
	TOTP     TOTPConfig
	Passkey  PasskeyConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls how session credentials are signed.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	// PrivateKey is the HS256 secret (>= 32 bytes) or the Ed25519 private key.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	KeyID      string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetimes and the Redis key namespace.
type SessionConfig struct {
	UserTTL     time.Duration
	AdminTTL    time.Duration
	RedisPrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hashing algorithm for new hashes. Both bcrypt
// and argon2id hashes are always accepted on verify.
type PasswordConfig struct {
	Algorithm      string // "bcrypt" (default) or "argon2id"
	BcryptCost     int
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

// VerifierConfig converts p for password.New.
func (p PasswordConfig) VerifierConfig() password.Config {
	return password.Config{
		Algorithm:  p.Algorithm,
		BcryptCost: p.BcryptCost,
		Argon2: password.Argon2Config{
			Memory:      p.Memory,
			Time:        p.Time,
			Parallelism: p.Parallelism,
			SaltLength:  p.SaltLength,
			KeyLength:   p.KeyLength,
		},
		MinPasswordBytes: p.MinLength,
		MaxPasswordBytes: p.MaxLength,
	}
}

/*
====================================
SECOND FACTOR CONFIG
====================================
*/

// TOTPConfig controls one-time codes, backup codes and pending logins.
type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
	PendingLoginTTL         time.Duration
	PendingLoginMaxAttempts int
	BackupCodeCount         int
	BackupCodeLength        int
	QRCodeSize              int
}

// PasskeyConfig describes the WebAuthn relying party. Passkey operations
// return ErrPasskeyNotConfigured unless Enabled is set.
type PasskeyConfig struct {
	Enabled          bool
	RPID             string
	RPDisplayName    string
	RPOrigins        []string
	ChallengeTTL     time.Duration
	UserVerification string
	ResidentKey      string
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool

	// SinkTimeout bounds one sink call on the audit goroutine.
	SinkTimeout time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment-wide switches.
type SecurityConfig struct {
	ProductionMode bool
	// RevealDisabledAccounts returns ErrAccountDisabled instead of
	// ErrInvalidCredentials once the password of an inactive account verified.
	RevealDisabledAccounts bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. JWT.PrivateKey must still
// be supplied.
func DefaultConfig() Config {
	argon := password.DefaultArgon2Config()
	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "goverify",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			UserTTL:     30 * 24 * time.Hour,
			AdminTTL:    24 * time.Hour,
			RedisPrefix: "gv",
		},
		Password: PasswordConfig{
			Algorithm:      password.AlgorithmBcrypt,
			BcryptCost:     password.DefaultBcryptCost,
			Memory:         argon.Memory,
			Time:           argon.Time,
			Parallelism:    argon.Parallelism,
			SaltLength:     argon.SaltLength,
			KeyLength:      argon.KeyLength,
			MinLength:      password.DefaultMinPasswordBytes,
			MaxLength:      password.DefaultMaxPasswordBytes,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Issuer:                  "goVerify",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			PendingLoginTTL:         5 * time.Minute,
			PendingLoginMaxAttempts: 5,
			BackupCodeCount:         10,
			BackupCodeLength:        10,
			QRCodeSize:              256,
		},
		Passkey: PasskeyConfig{
			ChallengeTTL:     5 * time.Minute,
			UserVerification: "preferred",
			ResidentKey:      "preferred",
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Passkey.RPOrigins = append([]string(nil), cfg.Passkey.RPOrigins...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) sessionTTL(kind PrincipalKind) time.Duration {
	if kind == KindAdmin {
		return c.Session.AdminTTL
	}
	return c.Session.UserTTL
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// JWT
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.UserTTL <= 0 || c.Session.AdminTTL <= 0 {
		return errors.New("Session UserTTL and AdminTTL must be > 0")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Password
	if c.Password.Algorithm != password.AlgorithmBcrypt && c.Password.Algorithm != password.AlgorithmArgon2id {
		return errors.New("Password Algorithm must be 'bcrypt' or 'argon2id'")
	}
	if c.Password.Algorithm == password.AlgorithmBcrypt && (c.Password.BcryptCost < 10 || c.Password.BcryptCost > 15) {
		return errors.New("Password BcryptCost must be between 10 and 15")
	}

	// TOTP
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	if c.TOTP.PendingLoginTTL <= 0 {
		return errors.New("TOTP PendingLoginTTL must be > 0")
	}
	if c.TOTP.PendingLoginMaxAttempts <= 0 {
		return errors.New("TOTP PendingLoginMaxAttempts must be > 0")
	}
	if c.TOTP.BackupCodeCount <= 0 || c.TOTP.BackupCodeCount > 32 {
		return errors.New("TOTP BackupCodeCount must be between 1 and 32")
	}
	if c.TOTP.BackupCodeLength < 8 || c.TOTP.BackupCodeLength > 32 {
		return errors.New("TOTP BackupCodeLength must be between 8 and 32")
	}
	if c.TOTP.QRCodeSize < 64 {
		return errors.New("TOTP QRCodeSize must be >= 64")
	}

	// Passkey
	if c.Passkey.Enabled {
		if strings.TrimSpace(c.Passkey.RPID) == "" {
			return errors.New("Passkey RPID is required when passkeys are enabled")
		}
		if len(c.Passkey.RPOrigins) == 0 {
			return errors.New("Passkey RPOrigins is required when passkeys are enabled")
		}
		for _, origin := range c.Passkey.RPOrigins {
			u, err := url.Parse(origin)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return errors.New("Passkey RPOrigins entries must be absolute origins")
			}
		}
		if c.Passkey.ChallengeTTL <= 0 {
			return errors.New("Passkey ChallengeTTL must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	if c.Security.ProductionMode {
		if !c.TOTP.EnforceReplayProtection {
			return errors.New("ProductionMode requires TOTP EnforceReplayProtection")
		}
		if !c.Audit.Enabled {
			return errors.New("ProductionMode requires Audit to be enabled")
		}
		if c.Password.Algorithm == password.AlgorithmBcrypt && c.Password.BcryptCost < password.DefaultBcryptCost {
			return errors.New("ProductionMode requires BcryptCost >= 12")
		}
		for _, origin := range c.Passkey.RPOrigins {
			if !strings.HasPrefix(origin, "https://") {
				return errors.New("ProductionMode requires https passkey origins")
			}
		}
	}

	return nil
}
