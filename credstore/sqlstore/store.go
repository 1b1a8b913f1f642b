package sqlstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/credstore"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	_ credstore.Store  = (*Store)(nil)
	_ credstore.Seeder = (*Store)(nil)
)

// Store implements credstore.Store and credstore.Seeder.
type Store struct {
	db          *gorm.DB
	principals  string
	passkeys    string
	backupCodes string
}

// Open opens a SQLite database at dsn and migrates the tables for prefix.
func Open(dsn, prefix string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer.
	sqlDB.SetMaxOpenConns(1)
	return New(db, prefix)
}

// New migrates the tables for prefix on db and returns a Store.
func New(db *gorm.DB, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = "user"
	}
	s := &Store{
		db:          db,
		principals:  prefix + "_principals",
		passkeys:    prefix + "_passkeys",
		backupCodes: prefix + "_backup_codes",
	}

	if err := db.Table(s.principals).AutoMigrate(&principalRow{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate %s: %w", s.principals, err)
	}
	if err := db.Table(s.passkeys).AutoMigrate(&passkeyRow{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate %s: %w", s.passkeys, err)
	}
	if err := db.Table(s.backupCodes).AutoMigrate(&backupCodeRow{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate %s: %w", s.backupCodes, err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) principalTable(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.principals)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, credstore.ErrNotFound):
		return credstore.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, credstore.ErrConflict):
		return credstore.ErrConflict
	default:
		return fmt.Errorf("sqlstore: %w", err)
	}
}

func (s *Store) PutPrincipal(ctx context.Context, p credstore.Principal) error {
	if p.ID == "" {
		return errors.New("sqlstore: principal id required")
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Email == "" {
		return errors.New("sqlstore: principal email required")
	}
	if len(p.WebAuthnHandle) == 0 {
		handle := make([]byte, 32)
		if _, err := rand.Read(handle); err != nil {
			return err
		}
		p.WebAuthnHandle = handle
	}

	row := principalRow{
		ID:           p.ID,
		Email:        p.Email,
		Role:         p.Role,
		DisplayName:  p.DisplayName,
		PasswordHash: p.PasswordHash,
		Active:       p.Active,
		Handle:       p.WebAuthnHandle,
		TOTPSecret:   p.TOTPSecret,
		TOTPEnabled:  p.TOTPEnabled,
		TOTPLastStep: p.TOTPLastStep,
	}
	if !p.LastLoginAt.IsZero() {
		at := p.LastLoginAt.UTC()
		row.LastLoginAt = &at
	}

	return mapErr(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		err := tx.Table(s.principals).
			Where("id <> ? AND (email = ? OR handle = ?)", p.ID, p.Email, p.WebAuthnHandle).
			Count(&taken).Error
		if err != nil {
			return err
		}
		if taken > 0 {
			return credstore.ErrConflict
		}
		// Save with an explicit Table updates by primary key or inserts.
		return tx.Table(s.principals).Save(&row).Error
	}))
}

func (s *Store) getPrincipal(ctx context.Context, query string, arg any) (*credstore.Principal, error) {
	var row principalRow
	if err := s.principalTable(ctx).Where(query, arg).Take(&row).Error; err != nil {
		return nil, mapErr(err)
	}
	return row.principal(), nil
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*credstore.Principal, error) {
	return s.getPrincipal(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (*credstore.Principal, error) {
	if id == "" {
		return nil, credstore.ErrNotFound
	}
	return s.getPrincipal(ctx, "id = ?", id)
}

func (s *Store) GetPrincipalByHandle(ctx context.Context, handle []byte) (*credstore.Principal, error) {
	if len(handle) == 0 {
		return nil, credstore.ErrNotFound
	}
	return s.getPrincipal(ctx, "handle = ?", handle)
}

func (r *principalRow) principal() *credstore.Principal {
	p := &credstore.Principal{
		ID:             r.ID,
		Email:          r.Email,
		Role:           r.Role,
		DisplayName:    r.DisplayName,
		PasswordHash:   r.PasswordHash,
		Active:         r.Active,
		WebAuthnHandle: r.Handle,
		TOTPSecret:     r.TOTPSecret,
		TOTPEnabled:    r.TOTPEnabled,
		TOTPLastStep:   r.TOTPLastStep,
	}
	if r.LastLoginAt != nil {
		p.LastLoginAt = r.LastLoginAt.UTC()
	}
	return p
}

// updatePrincipal runs a conditional update and tells a missing row apart
// from a failed condition.
func (s *Store) updatePrincipal(tx *gorm.DB, id string, cond string, values map[string]any) error {
	q := tx.Table(s.principals).Where("id = ?", id)
	if cond != "" {
		q = q.Where(cond)
	}
	res := q.Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := tx.Table(s.principals).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return credstore.ErrNotFound
	}
	return credstore.ErrConflict
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return mapErr(s.updatePrincipal(s.db.WithContext(ctx), id, "", map[string]any{"last_login_at": &at}))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return mapErr(s.updatePrincipal(s.db.WithContext(ctx), id, "", map[string]any{"password_hash": hash}))
}

func (s *Store) SetTOTPSecret(ctx context.Context, id, secret string) error {
	return mapErr(s.updatePrincipal(s.db.WithContext(ctx), id, "totp_enabled = false", map[string]any{"totp_secret": secret}))
}

func (s *Store) EnableTOTP(ctx context.Context, id string, step int64, codes []credstore.BackupCodeHash) error {
	return mapErr(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.updatePrincipal(tx, id, "NOT totp_enabled AND totp_secret <> ''", map[string]any{
			"totp_enabled":   true,
			"totp_last_step": step,
		})
		if errors.Is(err, credstore.ErrConflict) {
			// Either another confirmation won or there is no pending secret.
			var row principalRow
			if err := tx.Table(s.principals).Select("totp_enabled").Where("id = ?", id).Take(&row).Error; err != nil {
				return err
			}
			if row.TOTPEnabled {
				return credstore.ErrConflict
			}
			return credstore.ErrNotFound
		}
		if err != nil {
			return err
		}
		return s.replaceCodes(tx, id, codes)
	}))
}

func (s *Store) DisableTOTP(ctx context.Context, id string) error {
	return mapErr(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.updatePrincipal(tx, id, "", map[string]any{
			"totp_enabled":   false,
			"totp_secret":    "",
			"totp_last_step": 0,
		}); err != nil {
			return err
		}
		return tx.Table(s.backupCodes).Where("principal_id = ?", id).Delete(&backupCodeRow{}).Error
	}))
}

func (s *Store) AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	res := s.principalTable(ctx).
		Where("id = ? AND totp_last_step < ?", id, step).
		Update("totp_last_step", step)
	if res.Error != nil {
		return false, mapErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, codes []credstore.BackupCodeHash) error {
	return mapErr(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Table(s.principals).Where("id = ? AND totp_enabled = ?", id, true).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return credstore.ErrNotFound
		}
		return s.replaceCodes(tx, id, codes)
	}))
}

func (s *Store) replaceCodes(tx *gorm.DB, id string, codes []credstore.BackupCodeHash) error {
	if err := tx.Table(s.backupCodes).Where("principal_id = ?", id).Delete(&backupCodeRow{}).Error; err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}
	rows := make([]backupCodeRow, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, backupCodeRow{PrincipalID: id, Hash: hex.EncodeToString(c[:])})
	}
	return tx.Table(s.backupCodes).Create(&rows).Error
}

// ConsumeBackupCode deletes the matching row. Concurrent callers race on the
// DELETE and only one observes an affected row.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string, code credstore.BackupCodeHash) (bool, error) {
	res := s.db.WithContext(ctx).Table(s.backupCodes).
		Where("principal_id = ? AND hash = ?", id, hex.EncodeToString(code[:])).
		Delete(&backupCodeRow{})
	if res.Error != nil {
		return false, mapErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) CountBackupCodes(ctx context.Context, id string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Table(s.backupCodes).Where("principal_id = ?", id).Count(&n).Error; err != nil {
		return 0, mapErr(err)
	}
	return int(n), nil
}

func (s *Store) ListPasskeys(ctx context.Context, principalID string) ([]credstore.Passkey, error) {
	var rows []passkeyRow
	err := s.db.WithContext(ctx).Table(s.passkeys).
		Where("principal_id = ?", principalID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]credstore.Passkey, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].passkey())
	}
	return out, nil
}

func (s *Store) FindPasskey(ctx context.Context, credentialID []byte) (string, *credstore.Passkey, error) {
	var row passkeyRow
	err := s.db.WithContext(ctx).Table(s.passkeys).Where("credential_id = ?", credentialID).Take(&row).Error
	if err != nil {
		return "", nil, mapErr(err)
	}
	pk := row.passkey()
	return row.PrincipalID, &pk, nil
}

func (s *Store) CreatePasskey(ctx context.Context, principalID string, pk credstore.Passkey) error {
	if len(pk.ID) == 0 {
		return errors.New("sqlstore: credential id required")
	}
	transports, err := json.Marshal(pk.Transports)
	if err != nil {
		return err
	}
	row := passkeyRow{
		CredentialID:    pk.ID,
		PrincipalID:     principalID,
		PublicKey:       pk.PublicKey,
		AttestationType: pk.AttestationType,
		AAGUID:          pk.AAGUID,
		SignCount:       pk.SignCount,
		DeviceType:      pk.DeviceType,
		BackupEligible:  pk.BackupEligible,
		BackupState:     pk.BackedUp,
		Transports:      string(transports),
		Name:            pk.Name,
		CreatedAt:       pk.CreatedAt.UTC(),
	}
	if !pk.LastUsedAt.IsZero() {
		used := pk.LastUsedAt.UTC()
		row.LastUsedAt = &used
	}

	return mapErr(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Table(s.principals).Where("id = ?", principalID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return credstore.ErrNotFound
		}
		if err := tx.Table(s.passkeys).Where("credential_id = ?", pk.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return credstore.ErrConflict
		}
		return tx.Table(s.passkeys).Create(&row).Error
	}))
}

// AdvancePasskeyCounter is a conditional UPDATE on the expected counter.
func (s *Store) AdvancePasskeyCounter(ctx context.Context, credentialID []byte, expected, next uint32, backedUp bool, usedAt time.Time) (bool, error) {
	usedAt = usedAt.UTC()
	res := s.db.WithContext(ctx).Table(s.passkeys).
		Where("credential_id = ? AND sign_count = ?", credentialID, expected).
		Updates(map[string]any{
			"sign_count":   next,
			"backup_state": backedUp,
			"last_used_at": &usedAt,
		})
	if res.Error != nil {
		return false, mapErr(res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var n int64
	if err := s.db.WithContext(ctx).Table(s.passkeys).Where("credential_id = ?", credentialID).Count(&n).Error; err != nil {
		return false, mapErr(err)
	}
	if n == 0 {
		return false, credstore.ErrNotFound
	}
	return false, nil
}

func (s *Store) DeletePasskey(ctx context.Context, principalID string, credentialID []byte) error {
	res := s.db.WithContext(ctx).Table(s.passkeys).
		Where("principal_id = ? AND credential_id = ?", principalID, credentialID).
		Delete(&passkeyRow{})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return credstore.ErrNotFound
	}
	return nil
}

func (r *passkeyRow) passkey() credstore.Passkey {
	pk := credstore.Passkey{
		ID:              r.CredentialID,
		PublicKey:       r.PublicKey,
		AttestationType: r.AttestationType,
		AAGUID:          r.AAGUID,
		SignCount:       r.SignCount,
		DeviceType:      r.DeviceType,
		BackupEligible:  r.BackupEligible,
		BackedUp:        r.BackupState,
		Name:            r.Name,
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if r.Transports != "" {
		_ = json.Unmarshal([]byte(r.Transports), &pk.Transports)
	}
	if r.LastUsedAt != nil {
		pk.LastUsedAt = r.LastUsedAt.UTC()
	}
	return pk
}
