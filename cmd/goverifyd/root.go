package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:          "goverifyd",
	Short:        "goVerify authentication daemon and operator tooling",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			disableColor()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./goverify.yaml if present)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(principalsCmd)
	rootCmd.AddCommand(passkeysCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(benchCmd)
}

// initConfig reads the config file and GOVERIFY_ environment variables.
func initConfig() {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("goverify")
	}

	viper.SetEnvPrefix("GOVERIFY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing || cfgFile != "" {
			fmt.Fprintf(os.Stderr, "goverifyd: reading config: %v\n", err)
			os.Exit(1)
		}
	}
}
