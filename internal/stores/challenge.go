package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExists   = errors.New("challenge already issued")
	ErrChallengeBackend  = errors.New("challenge backend unavailable")
)

// ChallengePurpose distinguishes registration from authentication ceremonies.
type ChallengePurpose uint8

const (
	PurposeRegistration   ChallengePurpose = 1
	PurposeAuthentication ChallengePurpose = 2
)

func (p ChallengePurpose) String() string {
	switch p {
	case PurposeRegistration:
		return "registration"
	case PurposeAuthentication:
		return "authentication"
	default:
		return "unknown"
	}
}

// Challenge is an outstanding ceremony. Session holds the serialized
// ceremony state the verifier needs to finish it.
type Challenge struct {
	Value       string
	Purpose     ChallengePurpose
	Kind        string
	PrincipalID string
	IssuedAt    int64
	Session     []byte
}

type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "gv:chal"
	}
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) key(value string) string {
	return s.prefix + ":" + value
}

// Issue persists a new challenge. Reusing a live challenge value fails.
func (s *ChallengeStore) Issue(ctx context.Context, record *Challenge, ttl time.Duration) error {
	if record.Value == "" {
		return errors.New("challenge value is required")
	}
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}

	ok, err := s.redis.SetNX(ctx, s.key(record.Value), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if !ok {
		return ErrChallengeExists
	}
	return nil
}

// Consume atomically deletes and returns the challenge. Missing, expired and
// already-consumed challenges all yield ErrChallengeNotFound.
func (s *ChallengeStore) Consume(ctx context.Context, value string) (*Challenge, error) {
	if value == "" {
		return nil, ErrChallengeNotFound
	}

	data, err := s.redis.GetDel(ctx, s.key(value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	record.Value = value
	return record, nil
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	if len(record.Kind) > 255 || len(record.PrincipalID) > 65535 {
		return nil, errors.New("challenge field length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(byte(record.Purpose))
	_ = binary.Write(&buf, binary.BigEndian, record.IssuedAt)
	buf.WriteByte(byte(len(record.Kind)))
	buf.WriteString(record.Kind)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID)))
	buf.WriteString(record.PrincipalID)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(record.Session)))
	buf.Write(record.Session)
	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge version")
	}

	record := &Challenge{}
	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Purpose = ChallengePurpose(purpose)

	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}

	kindLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	kind := make([]byte, kindLen)
	if _, err := io.ReadFull(reader, kind); err != nil {
		return nil, err
	}
	record.Kind = string(kind)

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.PrincipalID = string(id)

	var sessionLen uint32
	if err := binary.Read(reader, binary.BigEndian, &sessionLen); err != nil {
		return nil, err
	}
	if int64(sessionLen) > int64(reader.Len()) {
		return nil, errors.New("challenge session truncated")
	}
	record.Session = make([]byte, sessionLen)
	if _, err := io.ReadFull(reader, record.Session); err != nil {
		return nil, err
	}

	return record, nil
}
