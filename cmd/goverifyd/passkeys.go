package main

import (
	"encoding/base64"
	"fmt"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/spf13/cobra"
)

var passkeysKind string

var passkeysCmd = &cobra.Command{
	Use:   "passkeys",
	Short: "Inspect and revoke registered passkeys",
}

var passkeysListCmd = &cobra.Command{
	Use:   "list EMAIL",
	Short: "List the passkeys registered to a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(cmd.Context(), func(st *stores) error {
			store, err := st.forKind(goVerify.PrincipalKind(passkeysKind))
			if err != nil {
				return err
			}
			p, err := store.GetPrincipalByEmail(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s %s: %w", passkeysKind, args[0], err)
			}
			list, err := store.ListPasskeys(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(stdout, "No passkeys registered")
				return nil
			}

			table := newTable(stdout, "ID", "Name", "Device", "Backed up", "Transports", "Sign count", "Created", "Last used")
			for _, pk := range list {
				table.Append([]string{
					base64.RawURLEncoding.EncodeToString(pk.ID),
					pk.Name,
					pk.DeviceType,
					yesNo(pk.BackedUp),
					strings.Join(pk.Transports, ","),
					fmt.Sprint(pk.SignCount),
					formatTime(pk.CreatedAt),
					formatTime(pk.LastUsedAt),
				})
			}
			table.Render()
			return nil
		})
	},
}

var passkeysRevokeCmd = &cobra.Command{
	Use:   "revoke EMAIL CREDENTIAL_ID",
	Short: "Delete one passkey; CREDENTIAL_ID is base64url as shown by list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := base64.RawURLEncoding.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("credential id: %w", err)
		}
		return withStores(cmd.Context(), func(st *stores) error {
			store, err := st.forKind(goVerify.PrincipalKind(passkeysKind))
			if err != nil {
				return err
			}
			p, err := store.GetPrincipalByEmail(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s %s: %w", passkeysKind, args[0], err)
			}
			if err := store.DeletePasskey(cmd.Context(), p.ID, id); err != nil {
				return err
			}
			successf("passkey %s revoked", args[1])
			return nil
		})
	},
}

func init() {
	passkeysCmd.PersistentFlags().StringVar(&passkeysKind, "kind", string(goVerify.KindUser), "principal kind (user or admin)")
	passkeysCmd.AddCommand(passkeysListCmd)
	passkeysCmd.AddCommand(passkeysRevokeCmd)
}
