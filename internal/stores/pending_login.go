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

const pendingLoginRecordVersion1 = 1

var (
	ErrPendingLoginNotFound = errors.New("pending login not found")
	ErrPendingLoginExpired  = errors.New("pending login expired")
	ErrPendingLoginBackend  = errors.New("pending login backend unavailable")
)

// PendingLogin is a password-verified login waiting for its second factor.
type PendingLogin struct {
	PrincipalID string
	Kind        string
	ExpiresAt   int64
	Attempts    uint16
}

type PendingLoginStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPendingLoginStore(redisClient redis.UniversalClient, prefix string) *PendingLoginStore {
	if prefix == "" {
		prefix = "gv:mfa"
	}
	return &PendingLoginStore{redis: redisClient, prefix: prefix}
}

func (s *PendingLoginStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *PendingLoginStore) Save(ctx context.Context, id string, record *PendingLogin, ttl time.Duration) error {
	encoded, err := encodePendingLogin(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingLoginBackend, err)
	}
	return nil
}

// Claim removes the record and returns it. Only one caller can claim a
// given id, so only one caller can spend a factor against it.
func (s *PendingLoginStore) Claim(ctx context.Context, id string) (*PendingLogin, error) {
	data, err := s.redis.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingLoginNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingLoginBackend, err)
	}

	record, err := decodePendingLogin(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPendingLoginBackend, err)
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, ErrPendingLoginExpired
	}
	return record, nil
}

// Release puts a claimed record back for the time it has left.
func (s *PendingLoginStore) Release(ctx context.Context, id string, record *PendingLogin) error {
	ttl := time.Until(time.Unix(record.ExpiresAt, 0))
	if ttl <= 0 {
		return ErrPendingLoginExpired
	}
	return s.Save(ctx, id, record, ttl)
}

// Delete removes the record and reports whether this caller removed it.
func (s *PendingLoginStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPendingLoginBackend, err)
	}
	return n > 0, nil
}

func encodePendingLogin(record *PendingLogin) ([]byte, error) {
	if len(record.PrincipalID) > 65535 || len(record.Kind) > 255 {
		return nil, errors.New("pending login field length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(pendingLoginRecordVersion1)
	_ = binary.Write(&buf, binary.BigEndian, record.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, record.ExpiresAt)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID)))
	buf.WriteString(record.PrincipalID)
	buf.WriteByte(byte(len(record.Kind)))
	buf.WriteString(record.Kind)
	return buf.Bytes(), nil
}

func decodePendingLogin(data []byte) (*PendingLogin, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingLoginRecordVersion1 {
		return nil, errors.New("invalid pending login version")
	}

	record := &PendingLogin{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.PrincipalID = string(id)

	kindLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	kind := make([]byte, kindLen)
	if _, err := io.ReadFull(reader, kind); err != nil {
		return nil, err
	}
	record.Kind = string(kind)

	return record, nil
}
