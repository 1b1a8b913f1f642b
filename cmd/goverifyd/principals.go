package main

import (
	"context"
	"fmt"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/credstore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var principalsCmd = &cobra.Command{
	Use:   "principals",
	Short: "Manage principals in the credential store",
}

var principalsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or replace a principal",
	Long: `Create or replace a principal. The password is read from --password
or, when omitted, from stdin.`,
	Args: cobra.NoArgs,
	RunE: runPrincipalsAdd,
}

var principalsShowCmd = &cobra.Command{
	Use:   "show EMAIL",
	Short: "Show a principal's second-factor state",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrincipalsShow,
}

var (
	addKind        string
	addID          string
	addEmail       string
	addPassword    string
	addRole        string
	addDisplayName string
	addInactive    bool
	showKind       string
)

func init() {
	f := principalsAddCmd.Flags()
	f.StringVar(&addKind, "kind", string(goVerify.KindUser), "principal kind (user or admin)")
	f.StringVar(&addID, "id", "", "principal id (default: random UUID)")
	f.StringVar(&addEmail, "email", "", "login email")
	f.StringVar(&addPassword, "password", "", "password (default: read from stdin)")
	f.StringVar(&addRole, "role", "", "coarse role tag")
	f.StringVar(&addDisplayName, "display-name", "", "display name shown by authenticators")
	f.BoolVar(&addInactive, "inactive", false, "create the principal disabled")
	_ = principalsAddCmd.MarkFlagRequired("email")

	principalsShowCmd.Flags().StringVar(&showKind, "kind", string(goVerify.KindUser), "principal kind (user or admin)")

	principalsCmd.AddCommand(principalsAddCmd)
	principalsCmd.AddCommand(principalsShowCmd)
}

// withStores opens the configured backend for the duration of fn. Redis is
// only dialed when the backend needs it.
func withStores(ctx context.Context, fn func(*stores) error) error {
	s := loadSettings(viper.GetViper())
	if err := s.validate(); err != nil {
		return err
	}

	var rdb redis.UniversalClient
	if s.Backend == backendRedis {
		client, release, err := openRedis(ctx, s, false)
		if err != nil {
			return err
		}
		defer release()
		rdb = client
	}

	st, err := openStores(s, rdb)
	if err != nil {
		return err
	}
	defer st.close()
	return fn(st)
}

func runPrincipalsAdd(cmd *cobra.Command, _ []string) error {
	plain := addPassword
	if plain == "" {
		var err error
		if plain, err = passwordArg(nil); err != nil {
			return err
		}
	}
	hash, err := hashPassword(loadSettings(viper.GetViper()).engineConfig(), plain)
	if err != nil {
		return err
	}
	if addID == "" {
		addID = uuid.NewString()
	}

	return withStores(cmd.Context(), func(st *stores) error {
		store, err := st.forKind(goVerify.PrincipalKind(addKind))
		if err != nil {
			return err
		}
		p := credstore.Principal{
			ID:           addID,
			Email:        addEmail,
			Role:         addRole,
			DisplayName:  addDisplayName,
			PasswordHash: hash,
			Active:       !addInactive,
		}
		if err := store.PutPrincipal(cmd.Context(), p); err != nil {
			return err
		}
		successf("%s %s created with id %s", addKind, addEmail, addID)
		return nil
	})
}

func runPrincipalsShow(cmd *cobra.Command, args []string) error {
	return withStores(cmd.Context(), func(st *stores) error {
		store, err := st.forKind(goVerify.PrincipalKind(showKind))
		if err != nil {
			return err
		}
		p, err := store.GetPrincipalByEmail(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("%s %s: %w", showKind, args[0], err)
		}
		codes, err := store.CountBackupCodes(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		passkeys, err := store.ListPasskeys(cmd.Context(), p.ID)
		if err != nil {
			return err
		}

		table := newTable(stdout, "Property", "Value")
		table.Append([]string{"ID", p.ID})
		table.Append([]string{"Email", p.Email})
		table.Append([]string{"Role", p.Role})
		table.Append([]string{"Active", yesNo(p.Active)})
		table.Append([]string{"TOTP", yesNo(p.TOTPEnabled)})
		table.Append([]string{"Backup codes", fmt.Sprint(codes)})
		table.Append([]string{"Passkeys", fmt.Sprint(len(passkeys))})
		table.Append([]string{"Last login", formatTime(p.LastLoginAt)})
		table.Render()
		return nil
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
