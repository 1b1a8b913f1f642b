package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	argon2Prefix = "$argon2id$"
)

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the parameters used when argon2id is selected
// as the primary algorithm.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type argon2Hasher struct {
	config Argon2Config
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func newArgon2(cfg Argon2Config) (*argon2Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, fmt.Errorf("argon2 memory must be >= %d KB", minMemoryKB)
	}
	if cfg.Time < minTimeCost {
		return nil, fmt.Errorf("argon2 time must be >= %d", minTimeCost)
	}
	if cfg.Parallelism < minParallelism {
		return nil, fmt.Errorf("argon2 parallelism must be >= %d", minParallelism)
	}
	if cfg.SaltLength < minSaltLength {
		return nil, fmt.Errorf("argon2 salt length must be >= %d", minSaltLength)
	}
	if cfg.KeyLength < minKeyLength {
		return nil, fmt.Errorf("argon2 key length must be >= %d", minKeyLength)
	}
	return &argon2Hasher{config: cfg}, nil
}

func (a *argon2Hasher) hash(plain string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(plain), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2(plain, encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plain), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func (a *argon2Hasher) weaker(encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	return a.config.Memory > parsed.memory ||
		a.config.Time > parsed.time ||
		a.config.Parallelism > parsed.parallelism ||
		a.config.KeyLength != uint32(len(parsed.hash)), nil
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, ErrMalformedHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return nil, ErrUnsupportedHash
	}

	out := &phc{}
	if err := parseArgon2Params(parts[3], out); err != nil {
		return nil, err
	}

	if out.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) < int(minSaltLength) {
		return nil, ErrMalformedHash
	}
	if out.hash, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(out.hash) == 0 {
		return nil, ErrMalformedHash
	}

	return out, nil
}

func parseArgon2Params(part string, out *phc) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return ErrMalformedHash
	}

	var seen int
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return ErrMalformedHash
		}

		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return ErrMalformedHash
			}
			out.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minTimeCost) {
				return ErrMalformedHash
			}
			out.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return ErrMalformedHash
			}
			out.parallelism = uint8(n)
		default:
			return ErrMalformedHash
		}
		seen++
	}

	if seen != 3 || out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return ErrMalformedHash
	}
	return nil
}
