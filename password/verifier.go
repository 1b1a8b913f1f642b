package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// AlgorithmBcrypt selects bcrypt for new hashes.
	AlgorithmBcrypt = "bcrypt"
	// AlgorithmArgon2id selects argon2id for new hashes.
	AlgorithmArgon2id = "argon2id"

	// DefaultBcryptCost is the work factor for new bcrypt hashes.
	DefaultBcryptCost = 12
	// DefaultMinPasswordBytes is the shortest plaintext Hash accepts.
	DefaultMinPasswordBytes = 8
	// DefaultMaxPasswordBytes bounds plaintext size on both Hash and Verify.
	DefaultMaxPasswordBytes = 72
)

// Config selects the primary algorithm and its parameters.
type Config struct {
	Algorithm        string
	BcryptCost       int
	Argon2           Argon2Config
	MinPasswordBytes int
	MaxPasswordBytes int
}

// DefaultConfig returns bcrypt at cost 12.
func DefaultConfig() Config {
	return Config{
		Algorithm:        AlgorithmBcrypt,
		BcryptCost:       DefaultBcryptCost,
		Argon2:           DefaultArgon2Config(),
		MinPasswordBytes: DefaultMinPasswordBytes,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

// Verifier hashes with the configured algorithm and verifies any supported
// stored hash. It is safe for concurrent use.
type Verifier struct {
	cfg    Config
	argon2 *argon2Hasher
}

// New validates cfg and returns a Verifier.
func New(cfg Config) (*Verifier, error) {
	if cfg.MinPasswordBytes <= 0 {
		cfg.MinPasswordBytes = DefaultMinPasswordBytes
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if cfg.MinPasswordBytes > cfg.MaxPasswordBytes {
		return nil, errors.New("password min length exceeds max length")
	}

	v := &Verifier{cfg: cfg}
	switch cfg.Algorithm {
	case "", AlgorithmBcrypt:
		v.cfg.Algorithm = AlgorithmBcrypt
		if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost must be within [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
		}
		if cfg.MaxPasswordBytes > 72 {
			return nil, errors.New("bcrypt max password length must be <= 72 bytes")
		}
	case AlgorithmArgon2id:
		a, err := newArgon2(cfg.Argon2)
		if err != nil {
			return nil, err
		}
		v.argon2 = a
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	return v, nil
}

// Hash returns a new hash of plain using the primary algorithm.
func (v *Verifier) Hash(plain string) (string, error) {
	if len(plain) < v.cfg.MinPasswordBytes {
		return "", ErrPasswordTooShort
	}
	if len(plain) > v.cfg.MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	if v.argon2 != nil {
		return v.argon2.hash(plain)
	}

	out, err := bcrypt.GenerateFromPassword([]byte(plain), v.cfg.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether plain matches encoded. A mismatch is (false, nil);
// an error means the stored hash itself is unusable.
func (v *Verifier) Verify(plain, encoded string) (bool, error) {
	if len(plain) > v.cfg.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}

	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return verifyArgon2(plain, encoded)
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash reports whether encoded was produced by a different algorithm
// or weaker parameters than the current configuration.
func (v *Verifier) NeedsRehash(encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		if v.argon2 == nil {
			return true, nil
		}
		return v.argon2.weaker(encoded)
	case isBcrypt(encoded):
		if v.argon2 != nil {
			return true, nil
		}
		cost, err := bcrypt.Cost([]byte(encoded))
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
		return cost < v.cfg.BcryptCost, nil
	default:
		return false, ErrUnsupportedHash
	}
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
