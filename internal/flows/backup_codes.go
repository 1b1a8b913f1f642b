package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type BackupCodeErrors struct {
	InvalidSecondFactor error
	BackendUnavailable  error
}

type BackupCodeDeps struct {
	ConsumeBackupCode func(context.Context, string, [32]byte) (bool, error)
	Errors            BackupCodeErrors
}

// GenerateBackupCodes returns count display-formatted codes and their
// hashes bound to principalID.
func GenerateBackupCodes(principalID string, count, length int, randomIndex func(int) (int, error)) ([]string, [][32]byte, error) {
	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		raw, err := NewBackupCode(length, randomIndex)
		if err != nil {
			return nil, nil, err
		}
		hashes = append(hashes, BackupCodeHash(principalID, CanonicalizeBackupCode(raw)))
		codes = append(codes, FormatBackupCode(raw))
	}
	return codes, hashes, nil
}

// RunConsumeBackupCode removes code from the principal's set. Exactly one of
// several concurrent identical submissions succeeds; the store decides.
func RunConsumeBackupCode(ctx context.Context, principalID, code string, deps BackupCodeDeps) error {
	canonical := CanonicalizeBackupCode(code)
	if !validBackupCode(canonical) {
		return &FactorError{Err: deps.Errors.InvalidSecondFactor, Reason: "backup_code_malformed"}
	}

	ok, err := deps.ConsumeBackupCode(ctx, principalID, BackupCodeHash(principalID, canonical))
	if err != nil {
		return &FactorError{Err: deps.Errors.BackendUnavailable, Reason: "backend_unavailable"}
	}
	if !ok {
		return &FactorError{Err: deps.Errors.InvalidSecondFactor, Reason: "backup_code_invalid"}
	}
	return nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func validBackupCode(canonical string) bool {
	if len(canonical) < 8 || len(canonical) > 64 {
		return false
	}
	for i := 0; i < len(canonical); i++ {
		if strings.IndexByte(BackupCodeAlphabet, canonical[i]) < 0 {
			return false
		}
	}
	return true
}

func BackupCodeHash(principalID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(principalID)+1+len(canonicalCode))
	data = append(data, principalID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
