package cmd

import (
	"fmt"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hvackit/nexia/internal/pkg/logging"
)

var (
	_cfgFile string
	_debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "nexia",
	Short: "Query and control Nexia / Trane Home / American Standard Home thermostats",

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return logging.Configure(viper.GetViper())
	},

	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logging.Logger(nil).WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&_cfgFile, "config", "", "config file (default is $HOME/.nexia.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&_debug, "debug", "d", false, "enable debug logging")

	rootCmd.PersistentFlags().String("brand", "nexia", "service brand: nexia, asair or trane")
	rootCmd.PersistentFlags().String("username", "", "account user name")
	rootCmd.PersistentFlags().String("password", "", "account password")
	rootCmd.PersistentFlags().String("house-id", "", "house ID (discovered automatically when unset)")
	rootCmd.PersistentFlags().String("state-file", "", "device UUID state file")

	errPanic(viper.GetViper().BindPFlag("nexia.brand", rootCmd.PersistentFlags().Lookup("brand")))
	errPanic(viper.GetViper().BindPFlag("nexia.username", rootCmd.PersistentFlags().Lookup("username")))
	errPanic(viper.GetViper().BindPFlag("nexia.password", rootCmd.PersistentFlags().Lookup("password")))
	errPanic(viper.GetViper().BindPFlag("nexia.house-id", rootCmd.PersistentFlags().Lookup("house-id")))
	errPanic(viper.GetViper().BindPFlag("nexia.state-file", rootCmd.PersistentFlags().Lookup("state-file")))
}

func initConfig() {
	if _cfgFile != "" {
		viper.SetConfigFile(_cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".nexia")
	}

	viper.SetEnvPrefix("NEXIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logging.Logger(nil).Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}

func checkRequiredFlags(needFlags ...string) error {
	missingFlags := []string{}

	for _, f := range needFlags {
		if !viper.IsSet(f) || viper.GetString(f) == "" {
			missingFlags = append(missingFlags, f)
		}
	}

	if len(missingFlags) > 0 {
		itemPlural := "item"
		if len(missingFlags) > 1 {
			itemPlural = "items"
		}
		return fmt.Errorf("required config %s `%s` not set", itemPlural, strings.Join(missingFlags, "`, `"))
	}

	return nil
}
