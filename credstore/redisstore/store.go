package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 4

var (
	_ credstore.Store  = (*Store)(nil)
	_ credstore.Seeder = (*Store)(nil)
)

type principalDoc struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"password_hash"`
	Active       bool      `json:"active"`
	Handle       []byte    `json:"handle"`
	TOTPSecret   string    `json:"totp_secret,omitempty"`
	TOTPEnabled  bool      `json:"totp_enabled"`
	LastLoginAt  time.Time `json:"last_login_at"`
}

type passkeyDoc struct {
	PublicKey       []byte    `json:"public_key"`
	AttestationType string    `json:"attestation_type,omitempty"`
	AAGUID          []byte    `json:"aaguid,omitempty"`
	DeviceType      string    `json:"device_type"`
	BackupEligible  bool      `json:"backup_eligible"`
	Transports      []string  `json:"transports,omitempty"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store implements credstore.Store and credstore.Seeder.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a Store whose keys start with prefix, e.g. "gv:cred:user".
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gv:cred"
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) principalKey(id string) string  { return s.prefix + ":p:" + id }
func (s *Store) emailKey(email string) string   { return s.prefix + ":email:" + email }
func (s *Store) stepKey(id string) string       { return s.prefix + ":step:" + id }
func (s *Store) backupKey(id string) string     { return s.prefix + ":backup:" + id }
func (s *Store) passkeySetKey(id string) string { return s.prefix + ":pks:" + id }

func (s *Store) handleKey(handle []byte) string {
	return s.prefix + ":handle:" + base64.RawURLEncoding.EncodeToString(handle)
}

func (s *Store) passkeyKey(credentialID []byte) string {
	return s.prefix + ":pk:" + base64.RawURLEncoding.EncodeToString(credentialID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func backendErr(err error) error {
	return fmt.Errorf("redisstore: %w", err)
}

// PutPrincipal creates or replaces a principal. A missing WebAuthn handle is
// generated. Email and handle must not belong to another principal.
func (s *Store) PutPrincipal(ctx context.Context, p credstore.Principal) error {
	if p.ID == "" {
		return errors.New("redisstore: principal id required")
	}
	p.Email = normalizeEmail(p.Email)
	if p.Email == "" {
		return errors.New("redisstore: principal email required")
	}
	if len(p.WebAuthnHandle) == 0 {
		handle := make([]byte, 32)
		if _, err := rand.Read(handle); err != nil {
			return err
		}
		p.WebAuthnHandle = handle
	}

	doc := principalDoc{
		ID:           p.ID,
		Email:        p.Email,
		Role:         p.Role,
		DisplayName:  p.DisplayName,
		PasswordHash: p.PasswordHash,
		Active:       p.Active,
		Handle:       p.WebAuthnHandle,
		TOTPSecret:   p.TOTPSecret,
		TOTPEnabled:  p.TOTPEnabled,
		LastLoginAt:  p.LastLoginAt,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	emailKey := s.emailKey(p.Email)
	handleKey := s.handleKey(p.WebAuthnHandle)
	key := s.principalKey(p.ID)

	return s.watch(ctx, func(tx *redis.Tx) error {
		for _, k := range []string{emailKey, handleKey} {
			owner, err := tx.Get(ctx, k).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && owner != p.ID {
				return credstore.ErrConflict
			}
		}

		var previous *principalDoc
		if data, err := tx.Get(ctx, key).Bytes(); err == nil {
			previous = &principalDoc{}
			if err := json.Unmarshal(data, previous); err != nil {
				return err
			}
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previous != nil {
				if previous.Email != p.Email {
					pipe.Del(ctx, s.emailKey(previous.Email))
				}
				if prevHandle := s.handleKey(previous.Handle); prevHandle != handleKey {
					pipe.Del(ctx, prevHandle)
				}
			}
			pipe.Set(ctx, key, raw, 0)
			pipe.Set(ctx, emailKey, p.ID, 0)
			pipe.Set(ctx, handleKey, p.ID, 0)
			if p.TOTPLastStep > 0 {
				pipe.Set(ctx, s.stepKey(p.ID), p.TOTPLastStep, 0)
			}
			return nil
		})
		return err
	}, emailKey, handleKey, key)
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*credstore.Principal, error) {
	return s.lookup(ctx, s.emailKey(normalizeEmail(email)))
}

func (s *Store) GetPrincipalByHandle(ctx context.Context, handle []byte) (*credstore.Principal, error) {
	if len(handle) == 0 {
		return nil, credstore.ErrNotFound
	}
	return s.lookup(ctx, s.handleKey(handle))
}

func (s *Store) lookup(ctx context.Context, indexKey string) (*credstore.Principal, error) {
	id, err := s.redis.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, credstore.ErrNotFound
		}
		return nil, backendErr(err)
	}
	return s.GetPrincipalByID(ctx, id)
}

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (*credstore.Principal, error) {
	if id == "" {
		return nil, credstore.ErrNotFound
	}

	pipe := s.redis.Pipeline()
	docCmd := pipe.Get(ctx, s.principalKey(id))
	stepCmd := pipe.Get(ctx, s.stepKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, backendErr(err)
	}

	data, err := docCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, credstore.ErrNotFound
		}
		return nil, backendErr(err)
	}
	var doc principalDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, backendErr(err)
	}

	p := &credstore.Principal{
		ID:             doc.ID,
		Email:          doc.Email,
		Role:           doc.Role,
		DisplayName:    doc.DisplayName,
		PasswordHash:   doc.PasswordHash,
		Active:         doc.Active,
		WebAuthnHandle: doc.Handle,
		TOTPSecret:     doc.TOTPSecret,
		TOTPEnabled:    doc.TOTPEnabled,
		LastLoginAt:    doc.LastLoginAt,
	}
	if step, err := stepCmd.Int64(); err == nil {
		p.TOTPLastStep = step
	}
	return p, nil
}

// update applies fn to the principal document under WATCH and queues extra
// commands in the same MULTI.
func (s *Store) update(ctx context.Context, id string, fn func(doc *principalDoc) error, extra func(pipe redis.Pipeliner)) error {
	key := s.principalKey(id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return credstore.ErrNotFound
			}
			return err
		}
		var doc principalDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		updated, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		return err
	}, key)
}

func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, credstore.ErrNotFound) || errors.Is(err, credstore.ErrConflict) {
				return err
			}
			return backendErr(err)
		}
		return nil
	}
	return backendErr(errors.New("transaction contention"))
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, func(doc *principalDoc) error {
		doc.LastLoginAt = at.UTC()
		return nil
	}, nil)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, id, func(doc *principalDoc) error {
		doc.PasswordHash = hash
		return nil
	}, nil)
}

func (s *Store) SetTOTPSecret(ctx context.Context, id, secret string) error {
	return s.update(ctx, id, func(doc *principalDoc) error {
		if doc.TOTPEnabled {
			return credstore.ErrConflict
		}
		doc.TOTPSecret = secret
		return nil
	}, nil)
}

func (s *Store) EnableTOTP(ctx context.Context, id string, step int64, codes []credstore.BackupCodeHash) error {
	members := hashMembers(codes)
	return s.update(ctx, id, func(doc *principalDoc) error {
		if doc.TOTPEnabled {
			return credstore.ErrConflict
		}
		if doc.TOTPSecret == "" {
			return credstore.ErrNotFound
		}
		doc.TOTPEnabled = true
		return nil
	}, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, s.stepKey(id), step, 0)
		pipe.Del(ctx, s.backupKey(id))
		if len(members) > 0 {
			pipe.SAdd(ctx, s.backupKey(id), members...)
		}
	})
}

func (s *Store) DisableTOTP(ctx context.Context, id string) error {
	return s.update(ctx, id, func(doc *principalDoc) error {
		doc.TOTPEnabled = false
		doc.TOTPSecret = ""
		return nil
	}, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, s.stepKey(id), s.backupKey(id))
	})
}

func (s *Store) AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	res, err := advanceStepLua.Run(ctx, s.redis, []string{s.stepKey(id)}, step).Int64()
	if err != nil {
		return false, backendErr(err)
	}
	return res == 1, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, codes []credstore.BackupCodeHash) error {
	members := hashMembers(codes)
	return s.update(ctx, id, func(doc *principalDoc) error {
		if !doc.TOTPEnabled {
			return credstore.ErrNotFound
		}
		return nil
	}, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, s.backupKey(id))
		if len(members) > 0 {
			pipe.SAdd(ctx, s.backupKey(id), members...)
		}
	})
}

// ConsumeBackupCode relies on SREM being atomic: of concurrent callers
// presenting the same code exactly one sees a removal.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string, code credstore.BackupCodeHash) (bool, error) {
	n, err := s.redis.SRem(ctx, s.backupKey(id), hex.EncodeToString(code[:])).Result()
	if err != nil {
		return false, backendErr(err)
	}
	return n == 1, nil
}

func (s *Store) CountBackupCodes(ctx context.Context, id string) (int, error) {
	n, err := s.redis.SCard(ctx, s.backupKey(id)).Result()
	if err != nil {
		return 0, backendErr(err)
	}
	return int(n), nil
}

func (s *Store) ListPasskeys(ctx context.Context, principalID string) ([]credstore.Passkey, error) {
	ids, err := s.redis.SMembers(ctx, s.passkeySetKey(principalID)).Result()
	if err != nil {
		return nil, backendErr(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, encoded := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.prefix+":pk:"+encoded)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, backendErr(err)
	}

	out := make([]credstore.Passkey, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		credID, err := base64.RawURLEncoding.DecodeString(ids[i])
		if err != nil {
			return nil, backendErr(err)
		}
		_, pk, err := decodePasskey(credID, fields)
		if err != nil {
			return nil, backendErr(err)
		}
		out = append(out, *pk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindPasskey(ctx context.Context, credentialID []byte) (string, *credstore.Passkey, error) {
	fields, err := s.redis.HGetAll(ctx, s.passkeyKey(credentialID)).Result()
	if err != nil {
		return "", nil, backendErr(err)
	}
	if len(fields) == 0 {
		return "", nil, credstore.ErrNotFound
	}
	owner, pk, err := decodePasskey(credentialID, fields)
	if err != nil {
		return "", nil, backendErr(err)
	}
	return owner, pk, nil
}

func (s *Store) CreatePasskey(ctx context.Context, principalID string, pk credstore.Passkey) error {
	if len(pk.ID) == 0 {
		return errors.New("redisstore: credential id required")
	}
	data, err := json.Marshal(passkeyDoc{
		PublicKey:       pk.PublicKey,
		AttestationType: pk.AttestationType,
		AAGUID:          pk.AAGUID,
		DeviceType:      pk.DeviceType,
		BackupEligible:  pk.BackupEligible,
		Transports:      pk.Transports,
		Name:            pk.Name,
		CreatedAt:       pk.CreatedAt.UTC(),
	})
	if err != nil {
		return err
	}

	key := s.passkeyKey(pk.ID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Exists(ctx, s.principalKey(principalID)).Result()
		if err != nil {
			return err
		}
		if owner == 0 {
			return credstore.ErrNotFound
		}
		taken, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if taken == 1 {
			return credstore.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"owner", principalID,
				"data", data,
				"sign_count", strconv.FormatUint(uint64(pk.SignCount), 10),
				"backed_up", boolField(pk.BackedUp),
				"last_used", timeField(pk.LastUsedAt),
			)
			pipe.SAdd(ctx, s.passkeySetKey(principalID), base64.RawURLEncoding.EncodeToString(pk.ID))
			return nil
		})
		return err
	}, key)
}

func (s *Store) AdvancePasskeyCounter(ctx context.Context, credentialID []byte, expected, next uint32, backedUp bool, usedAt time.Time) (bool, error) {
	res, err := advanceCounterLua.Run(ctx, s.redis, []string{s.passkeyKey(credentialID)},
		expected, next, boolField(backedUp), timeField(usedAt),
	).Int64()
	if err != nil {
		return false, backendErr(err)
	}
	if res < 0 {
		return false, credstore.ErrNotFound
	}
	return res == 1, nil
}

func (s *Store) DeletePasskey(ctx context.Context, principalID string, credentialID []byte) error {
	key := s.passkeyKey(credentialID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.HGet(ctx, key, "owner").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return credstore.ErrNotFound
			}
			return err
		}
		if owner != principalID {
			return credstore.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.passkeySetKey(principalID), base64.RawURLEncoding.EncodeToString(credentialID))
			return nil
		})
		return err
	}, key)
}

func decodePasskey(credentialID []byte, fields map[string]string) (string, *credstore.Passkey, error) {
	var doc passkeyDoc
	if err := json.Unmarshal([]byte(fields["data"]), &doc); err != nil {
		return "", nil, err
	}
	count, err := strconv.ParseUint(fields["sign_count"], 10, 32)
	if err != nil {
		return "", nil, err
	}
	lastUsed, err := strconv.ParseInt(fields["last_used"], 10, 64)
	if err != nil {
		return "", nil, err
	}

	pk := &credstore.Passkey{
		ID:              credentialID,
		PublicKey:       doc.PublicKey,
		AttestationType: doc.AttestationType,
		AAGUID:          doc.AAGUID,
		SignCount:       uint32(count),
		DeviceType:      doc.DeviceType,
		BackupEligible:  doc.BackupEligible,
		BackedUp:        fields["backed_up"] == "1",
		Transports:      doc.Transports,
		Name:            doc.Name,
		CreatedAt:       doc.CreatedAt,
	}
	if lastUsed > 0 {
		pk.LastUsedAt = time.Unix(0, lastUsed).UTC()
	}
	return fields["owner"], pk, nil
}

func hashMembers(codes []credstore.BackupCodeHash) []interface{} {
	out := make([]interface{}, 0, len(codes))
	for _, c := range codes {
		out = append(out, hex.EncodeToString(c[:]))
	}
	return out
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func timeField(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}
