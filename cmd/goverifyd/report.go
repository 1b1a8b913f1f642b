package main

import (
	"fmt"
	"io"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the security posture of the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := loadSettings(viper.GetViper()).engineConfig()
		if err := cfg.Validate(); err != nil {
			warnf("configuration does not validate: %v", err)
		}
		writeReport(stdout, goVerify.BuildSecurityReport(cfg))
		return nil
	},
}

func writeReport(w io.Writer, r goVerify.SecurityReport) {
	table := newTable(w, "Setting", "Value")
	table.Append([]string{"Production mode", yesNo(r.ProductionMode)})
	table.Append([]string{"Signing algorithm", r.SigningAlgorithm})
	table.Append([]string{"User session TTL", r.UserSessionTTL.String()})
	table.Append([]string{"Admin session TTL", r.AdminSessionTTL.String()})
	table.Append([]string{"Password algorithm", passwordSummary(r.Password)})
	table.Append([]string{"Rehash on login", yesNo(r.RehashOnLogin)})
	table.Append([]string{"TOTP", fmt.Sprintf("%s, %d digits, skew %d", r.TOTPAlgorithm, r.TOTPDigits, r.TOTPSkew)})
	table.Append([]string{"TOTP replay protection", yesNo(r.TOTPReplayProtection)})
	table.Append([]string{"Backup codes", fmt.Sprint(r.BackupCodeCount)})
	table.Append([]string{"Pending login attempts", fmt.Sprint(r.PendingLoginMaxAttempts)})
	table.Append([]string{"Passkeys", yesNo(r.PasskeysEnabled)})
	if r.PasskeysEnabled {
		table.Append([]string{"Passkey RP ID", r.PasskeyRPID})
		table.Append([]string{"User verification", r.PasskeyUserVerification})
	}
	table.Append([]string{"Reveal disabled accounts", yesNo(r.RevealDisabledAccounts)})
	table.Append([]string{"Audit", yesNo(r.AuditEnabled)})
	table.Render()

	for _, warning := range r.Warnings {
		fmt.Fprintln(w, color.YellowString("! %s", warning))
	}
}

func passwordSummary(p goVerify.PasswordConfigReport) string {
	if p.Algorithm == "argon2id" {
		return fmt.Sprintf("argon2id m=%d t=%d p=%d", p.Memory, p.Time, p.Parallelism)
	}
	return fmt.Sprintf("%s cost %d", p.Algorithm, p.BcryptCost)
}
