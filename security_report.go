package goVerify

import (
	"strings"

	"github.com/MrEthical07/goVerify/internal/security"
)

// SecurityReport summarizes the verification posture of a configuration.
type SecurityReport = security.Report

// PasswordConfigReport is the hashing part of SecurityReport.
type PasswordConfigReport = security.PasswordReport

// SecurityReport describes the running engine's configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return BuildSecurityReport(e.config)
}

// BuildSecurityReport describes cfg without building an engine.
func BuildSecurityReport(cfg Config) SecurityReport {
	return security.BuildReport(security.ReportInput{
		ProductionMode:   cfg.Security.ProductionMode,
		SigningAlgorithm: cfg.JWT.SigningMethod,
		UserSessionTTL:   cfg.Session.UserTTL,
		AdminSessionTTL:  cfg.Session.AdminTTL,
		Password: security.PasswordReport{
			Algorithm:   cfg.Password.Algorithm,
			BcryptCost:  cfg.Password.BcryptCost,
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
		},
		RehashOnLogin:           cfg.Password.UpgradeOnLogin,
		TOTPAlgorithm:           strings.ToUpper(cfg.TOTP.Algorithm),
		TOTPDigits:              cfg.TOTP.Digits,
		TOTPSkew:                cfg.TOTP.Skew,
		TOTPReplayProtection:    cfg.TOTP.EnforceReplayProtection,
		BackupCodeCount:         cfg.TOTP.BackupCodeCount,
		PendingLoginMaxAttempts: cfg.TOTP.PendingLoginMaxAttempts,
		PasskeysEnabled:         cfg.Passkey.Enabled,
		PasskeyRPID:             cfg.Passkey.RPID,
		PasskeyUserVerification: cfg.Passkey.UserVerification,
		RevealDisabledAccounts:  cfg.Security.RevealDisabledAccounts,
		AuditEnabled:            cfg.Audit.Enabled,
		AuditDropIfFull:         cfg.Audit.DropIfFull,
	})
}
