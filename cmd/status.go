package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hvackit/nexia/internal/pkg/statefile"
	"github.com/hvackit/nexia/pkg/nexia"
)

var _statusCmdOpts struct {
	timeout time.Duration
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Log in and print the state of every thermostat and zone",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doStatus(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("nexia.username", "nexia.password")
	},
}

func init() {
	statusCmd.Flags().DurationVar(&_statusCmdOpts.timeout, "timeout", time.Minute, "maximum duration of the whole operation, eg. 30s or 2m")
	errPanic(viper.GetViper().BindPFlag("nexia.timeout", statusCmd.Flags().Lookup("timeout")))

	rootCmd.AddCommand(statusCmd)
}

func homeFromConfig() (*nexia.Home, error) {
	brand := viper.GetString("nexia.brand")
	username := viper.GetString("nexia.username")

	stateFile := viper.GetString("nexia.state-file")
	if stateFile == "" {
		var err error
		stateFile, err = statefile.DefaultPath(brand, username)
		if err != nil {
			return nil, err
		}
	}

	return nexia.NewHome(nexia.Config{
		Brand:     brand,
		Username:  username,
		Password:  viper.GetString("nexia.password"),
		HouseID:   nexia.DeviceID(viper.GetString("nexia.house-id")),
		StateFile: stateFile,
	}), nil
}

func doStatus() error {
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

	fmt.Printf("House: %s (id %s)\n", home.Name(), home.HouseID())

	for _, thermostat := range home.Thermostats() {
		fmt.Printf("\nThermostat: %s (id %s)\n", thermostat.Name(), thermostat.ID())
		fmt.Printf("  Model:    %s\n", thermostat.Model())
		fmt.Printf("  Firmware: %s\n", thermostat.Firmware())
		fmt.Printf("  Status:   %s\n", thermostat.SystemStatus())
		fmt.Printf("  Fan mode: %s\n", thermostat.FanMode())

		if thermostat.HasOutdoorTemperature() {
			if outdoor, err := thermostat.OutdoorTemperature(); err == nil {
				fmt.Printf("  Outdoor:  %.1f°%s\n", outdoor, thermostat.Unit())
			}
		}
		if thermostat.HasRelativeHumidity() {
			if humidity, err := thermostat.RelativeHumidity(); err == nil && humidity != nil {
				fmt.Printf("  Humidity: %.0f%%\n", *humidity*100)
			}
		}

		for _, zone := range thermostat.Zones() {
			fmt.Printf("  Zone: %s (id %s)\n", zone.Name(), zone.ID())
			fmt.Printf("    Temperature: %.1f°%s\n", zone.Temperature(), thermostat.Unit())
			fmt.Printf("    Setpoints:   heat %.1f / cool %.1f\n", zone.HeatingSetpoint(), zone.CoolingSetpoint())
			fmt.Printf("    Mode:        %s (requested %s)\n", zone.CurrentMode(), zone.RequestedMode())
			fmt.Printf("    Status:      %s / %s\n", zone.Status(), zone.SetpointStatus())

			for _, sensor := range zone.Sensors() {
				active := " "
				if sensor.IsActive() {
					active = "*"
				}
				fmt.Printf("    Sensor %s %s (id %d): %.1f°%s\n",
					active, sensor.Name, sensor.ID, sensor.Temperature, thermostat.Unit())
			}
		}
	}

	for _, automation := range home.Automations() {
		state := "disabled"
		if automation.Enabled() {
			state = "enabled"
		}
		fmt.Printf("\nAutomation: %s (id %s, %s)\n  %s\n",
			automation.Name(), automation.ID(), state, automation.Description())
	}

	return nil
}
