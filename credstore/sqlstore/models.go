package sqlstore

import "time"

type principalRow struct {
	ID           string `gorm:"primaryKey;size:64"`
	Email        string `gorm:"uniqueIndex;size:320;not null"`
	Role         string `gorm:"size:64"`
	DisplayName  string `gorm:"size:200"`
	PasswordHash string `gorm:"type:text;not null"`
	Active       bool   `gorm:"not null;default:true"`
	Handle       []byte `gorm:"uniqueIndex;not null"`
	TOTPSecret   string `gorm:"column:totp_secret;size:128"`
	TOTPEnabled  bool   `gorm:"column:totp_enabled;not null;default:false"`
	TOTPLastStep int64  `gorm:"column:totp_last_step;not null;default:0"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type passkeyRow struct {
	ID              uint   `gorm:"primaryKey"`
	CredentialID    []byte `gorm:"uniqueIndex;not null"`
	PrincipalID     string `gorm:"index;size:64;not null"`
	PublicKey       []byte `gorm:"not null"`
	AttestationType string `gorm:"size:50"`
	AAGUID          []byte `gorm:"column:aaguid"`
	SignCount       uint32 `gorm:"not null;default:0"`
	DeviceType      string `gorm:"size:20"`
	BackupEligible  bool   `gorm:"not null;default:false"`
	BackupState     bool   `gorm:"not null;default:false"`
	Transports      string `gorm:"type:text"` // JSON array
	Name            string `gorm:"size:100"`
	LastUsedAt      *time.Time
	CreatedAt       time.Time
}

type backupCodeRow struct {
	ID          uint   `gorm:"primaryKey"`
	PrincipalID string `gorm:"index;size:64;not null"`
	Hash        string `gorm:"uniqueIndex;size:64;not null"`
}
