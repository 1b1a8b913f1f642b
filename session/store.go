package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every backend failure returned by Store.
var ErrRedisUnavailable = errors.New("redis unavailable")

const checkScript = `
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 1
end
local gen = tonumber(redis.call("GET", KEYS[1]) or "0")
if gen > tonumber(ARGV[1]) then
  return 2
end
return 0
`

var checkLua = redis.NewScript(checkScript)

// Store keeps revocation state in Redis under a fixed key prefix.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store. prefix separates principal realms, e.g. "gv:admin:sess".
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gv:sess"
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) genKey(principalID string) string {
	return s.prefix + ":gen:" + principalID
}

func (s *Store) denyKey(jti string) string {
	return s.prefix + ":deny:" + jti
}

// Generation returns the principal's current session generation (0 when unset).
func (s *Store) Generation(ctx context.Context, principalID string) (uint64, error) {
	raw, err := s.redis.Get(ctx, s.genKey(principalID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	gen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt generation %q", ErrRedisUnavailable, raw)
	}
	return gen, nil
}

// RevokeAll advances the principal's generation and returns the new value.
// Credentials carrying an older generation stop validating immediately.
func (s *Store) RevokeAll(ctx context.Context, principalID string) (uint64, error) {
	gen, err := s.redis.Incr(ctx, s.genKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return uint64(gen), nil
}

// Revoke deny-lists one credential id until expiresAt. Revoking an already
// expired credential is a no-op.
func (s *Store) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.denyKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Check reports the revocation state of a credential in one round-trip.
func (s *Store) Check(ctx context.Context, principalID, jti string, generation uint64) (Status, error) {
	res, err := checkLua.Run(ctx, s.redis,
		[]string{s.genKey(principalID), s.denyKey(jti)},
		strconv.FormatUint(generation, 10),
	).Int64()
	if err != nil {
		return StatusActive, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Status(res), nil
}
