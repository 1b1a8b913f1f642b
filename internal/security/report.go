package security

import "time"

type PasswordReport struct {
	Algorithm   string
	BcryptCost  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

type Report struct {
	ProductionMode          bool
	SigningAlgorithm        string
	UserSessionTTL          time.Duration
	AdminSessionTTL         time.Duration
	Password                PasswordReport
	RehashOnLogin           bool
	TOTPAlgorithm           string
	TOTPDigits              int
	TOTPSkew                int
	TOTPReplayProtection    bool
	BackupCodeCount         int
	PendingLoginMaxAttempts int
	PasskeysEnabled         bool
	PasskeyRPID             string
	PasskeyUserVerification string
	RevealDisabledAccounts  bool
	AuditEnabled            bool
	AuditDropIfFull         bool
	Warnings                []string
}

type ReportInput struct {
	ProductionMode          bool
	SigningAlgorithm        string
	UserSessionTTL          time.Duration
	AdminSessionTTL         time.Duration
	Password                PasswordReport
	RehashOnLogin           bool
	TOTPAlgorithm           string
	TOTPDigits              int
	TOTPSkew                int
	TOTPReplayProtection    bool
	BackupCodeCount         int
	PendingLoginMaxAttempts int
	PasskeysEnabled         bool
	PasskeyRPID             string
	PasskeyUserVerification string
	RevealDisabledAccounts  bool
	AuditEnabled            bool
	AuditDropIfFull         bool
}

// BuildReport copies input and adds warnings for settings that weaken
// verification without failing validation.
func BuildReport(input ReportInput) Report {
	var warnings []string
	if !input.ProductionMode {
		warnings = append(warnings, "production mode is off")
	}
	if input.RevealDisabledAccounts {
		warnings = append(warnings, "disabled accounts are distinguishable from wrong passwords")
	}
	if input.TOTPSkew > 1 {
		warnings = append(warnings, "totp window accepts more than one step of drift")
	}
	if input.PasskeysEnabled && input.PasskeyUserVerification == "discouraged" {
		warnings = append(warnings, "passkey user verification is discouraged")
	}
	if input.AuditEnabled && input.AuditDropIfFull {
		warnings = append(warnings, "audit events are dropped when the buffer is full")
	}
	if input.AdminSessionTTL > input.UserSessionTTL {
		warnings = append(warnings, "admin sessions outlive user sessions")
	}

	return Report{
		ProductionMode:          input.ProductionMode,
		SigningAlgorithm:        input.SigningAlgorithm,
		UserSessionTTL:          input.UserSessionTTL,
		AdminSessionTTL:         input.AdminSessionTTL,
		Password:                input.Password,
		RehashOnLogin:           input.RehashOnLogin,
		TOTPAlgorithm:           input.TOTPAlgorithm,
		TOTPDigits:              input.TOTPDigits,
		TOTPSkew:                input.TOTPSkew,
		TOTPReplayProtection:    input.TOTPReplayProtection,
		BackupCodeCount:         input.BackupCodeCount,
		PendingLoginMaxAttempts: input.PendingLoginMaxAttempts,
		PasskeysEnabled:         input.PasskeysEnabled,
		PasskeyRPID:             input.PasskeyRPID,
		PasskeyUserVerification: input.PasskeyUserVerification,
		RevealDisabledAccounts:  input.RevealDisabledAccounts,
		AuditEnabled:            input.AuditEnabled,
		AuditDropIfFull:         input.AuditDropIfFull,
		Warnings:                warnings,
	}
}
