package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hvackit/nexia/pkg/nexia"
)

var _activateCmdOpts struct {
	automationID string
	timeout      time.Duration
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Run an automation by its ID",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doActivate(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("nexia.username", "nexia.password", "nexia.automation-id")
	},
}

func init() {
	activateCmd.Flags().StringVar(&_activateCmdOpts.automationID, "automation-id", "", "ID of the automation to run")
	activateCmd.Flags().DurationVar(&_activateCmdOpts.timeout, "timeout", time.Minute, "maximum duration of the whole operation, eg. 30s or 2m")

	errPanic(viper.GetViper().BindPFlag("nexia.automation-id", activateCmd.Flags().Lookup("automation-id")))
	errPanic(viper.GetViper().BindPFlag("nexia.timeout", activateCmd.Flags().Lookup("timeout")))

	rootCmd.AddCommand(activateCmd)
}

func doActivate() error {
	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("nexia.timeout"))
	defer cancel()

	home, err := homeFromConfig()
	if err != nil {
		return err
	}
	if err := home.Login(ctx); err != nil {
		return err
	}
	if _, err := home.Update(ctx); err != nil {
		return err
	}

	automation, err := home.AutomationByID(nexia.DeviceID(viper.GetString("nexia.automation-id")))
	if err != nil {
		return err
	}
	if err := automation.Activate(ctx); err != nil {
		return err
	}

	fmt.Printf("Activated automation %s\n", automation.Name())
	return nil
}
