package goVerify

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{"defaults with key", func(c *Config) {}, true},
		{"hs256 short key", func(c *Config) { c.JWT.PrivateKey = []byte("short") }, false},
		{"ed25519 missing public key", func(c *Config) { c.JWT.SigningMethod = "ed25519" }, false},
		{"unsupported signing method", func(c *Config) { c.JWT.SigningMethod = "rs256" }, false},
		{"leeway too large", func(c *Config) { c.JWT.Leeway = 3 * time.Minute }, false},
		{"zero user ttl", func(c *Config) { c.Session.UserTTL = 0 }, false},
		{"blank redis prefix", func(c *Config) { c.Session.RedisPrefix = "  " }, false},
		{"unknown password algorithm", func(c *Config) { c.Password.Algorithm = "md5" }, false},
		{"bcrypt cost too low", func(c *Config) { c.Password.BcryptCost = 4 }, false},
		{"argon2id", func(c *Config) { c.Password.Algorithm = "argon2id" }, true},
		{"seven digits", func(c *Config) { c.TOTP.Digits = 7 }, false},
		{"eight digits", func(c *Config) { c.TOTP.Digits = 8 }, true},
		{"md5 totp", func(c *Config) { c.TOTP.Algorithm = "MD5" }, false},
		{"sha256 totp lowercase", func(c *Config) { c.TOTP.Algorithm = "sha256" }, true},
		{"skew too wide", func(c *Config) { c.TOTP.Skew = 3 }, false},
		{"zero pending attempts", func(c *Config) { c.TOTP.PendingLoginMaxAttempts = 0 }, false},
		{"short backup codes", func(c *Config) { c.TOTP.BackupCodeLength = 6 }, false},
		{"too many backup codes", func(c *Config) { c.TOTP.BackupCodeCount = 33 }, false},
		{"tiny qr", func(c *Config) { c.TOTP.QRCodeSize = 16 }, false},
		{"passkey without rpid", func(c *Config) {
			c.Passkey.Enabled = true
			c.Passkey.RPOrigins = []string{"https://example.com"}
		}, false},
		{"passkey relative origin", func(c *Config) {
			c.Passkey.Enabled = true
			c.Passkey.RPID = "example.com"
			c.Passkey.RPOrigins = []string{"example.com"}
		}, false},
		{"passkey valid", func(c *Config) {
			c.Passkey.Enabled = true
			c.Passkey.RPID = "example.com"
			c.Passkey.RPOrigins = []string{"https://example.com"}
		}, true},
		{"audit without buffer", func(c *Config) { c.Audit.BufferSize = 0 }, false},
		{"audit disabled without buffer", func(c *Config) {
			c.Audit.Enabled = false
			c.Audit.BufferSize = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigProductionMode(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
		cfg.Security.ProductionMode = true
		return cfg
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("production defaults should validate: %v", err)
	}

	cases := map[string]func(*Config){
		"replay protection off": func(c *Config) { c.TOTP.EnforceReplayProtection = false },
		"audit off":             func(c *Config) { c.Audit.Enabled = false },
		"weak bcrypt":           func(c *Config) { c.Password.BcryptCost = 10 },
		"plain http origin": func(c *Config) {
			c.Passkey.Enabled = true
			c.Passkey.RPID = "localhost"
			c.Passkey.RPOrigins = []string{"http://localhost:8080"}
		},
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected production validation error", name)
		}
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected Build to fail without a signing key")
	}
}

func TestCloneConfigIsolatesSlices(t *testing.T) {
	cfg := testConfig()
	cfg.Passkey.RPOrigins = []string{"https://a.example"}
	out := cloneConfig(cfg)

	cfg.JWT.PrivateKey[0] = 'X'
	cfg.Passkey.RPOrigins[0] = "https://b.example"

	if out.JWT.PrivateKey[0] == 'X' || out.Passkey.RPOrigins[0] != "https://a.example" {
		t.Fatalf("clone shares memory with source: %+v", out)
	}
}
