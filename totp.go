package goVerify

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

type totpManager struct {
	config    TOTPConfig
	digits    otp.Digits
	algorithm otp.Algorithm
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	return &totpManager{
		config:    cfg,
		digits:    otp.Digits(cfg.Digits),
		algorithm: otpAlgorithm(cfg.Algorithm),
	}
}

func otpAlgorithm(name string) otp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// Generate creates a fresh secret with its otpauth URI and QR code.
func (m *totpManager) Generate(account string) (*TOTPSetup, error) {
	if m == nil {
		return nil, ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      uint(m.config.Period),
		SecretSize:  totpSecretBytes,
		Digits:      m.digits,
		Algorithm:   m.algorithm,
	})
	if err != nil {
		return nil, err
	}

	size := m.config.QRCodeSize
	if size <= 0 {
		size = 256
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &TOTPSetup{
		Secret: key.Secret(),
		URI:    key.URL(),
		QRCode: buf.Bytes(),
	}, nil
}

// VerifyCode checks code against every step in the skew window around now
// and returns the matched step. Malformed codes never reach the HMAC.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, 0, nil
	}
	if secret == "" {
		return false, 0, errors.New("empty totp secret")
	}

	opts := hotp.ValidateOpts{Digits: m.digits, Algorithm: m.algorithm}
	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotp.GenerateCodeCustom(secret, uint64(counter), opts)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
