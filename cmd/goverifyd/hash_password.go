package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/password"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Hash a password with the configured algorithm",
	Long: `Hash a password with the configured algorithm and print the encoded
hash. The password is read from stdin when no argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plain, err := passwordArg(args)
		if err != nil {
			return err
		}
		hash, err := hashPassword(loadSettings(viper.GetViper()).engineConfig(), plain)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func passwordArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password on stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// hashPassword hashes without building an engine, so it works with no
// Redis reachable.
func hashPassword(cfg goVerify.Config, plain string) (string, error) {
	v, err := password.New(cfg.Password.VerifierConfig())
	if err != nil {
		return "", err
	}
	return v.Hash(plain)
}
