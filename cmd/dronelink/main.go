package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dronelink/internal/app"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dronelink",
		Short: "Drone control link",
		Long: `Drone control link over the drone's Wi-Fi access point.

Keeps a navigation channel (telemetry in, commands out) and a video channel
open to the drone, and drives it from an interactive console.

Example usage:
  dronelink link --host 192.168.4.1
  dronelink sim --format png`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(newLinkCommand(), newSimCommand(), newVersionCommand())
	return rootCmd
}

func newLinkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Connect to a drone and open the operator console",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return app.NewApplication(config).Start()
		},
	}

	defaults := app.DefaultConfig()
	flags := cmd.Flags()
	flags.String("host", defaults.Host, "Drone address")
	flags.Int("video-port", defaults.VideoPort, "Video channel port")
	flags.Int("nav-port", defaults.NavPort, "Navigation channel port")
	flags.Duration("dial-timeout", time.Duration(defaults.DialTimeout), "Connect timeout per channel")
	flags.Duration("read-timeout", time.Duration(defaults.ReadTimeout), "Silence before a channel is declared lost (0 waits forever)")
	flags.Duration("hold-interval", time.Duration(defaults.HoldInterval), "Repeat interval of a held button")
	flags.StringP("log-dir", "l", defaults.LogDir, "Journal directory")
	flags.BoolP("utc", "u", defaults.LogRotateUTC, "Use UTC for journal rotation")
	flags.Bool("journal", defaults.Journal, "Write the CSV telemetry journal")
	flags.String("recorder", defaults.RecorderPath, "Flight recorder database (empty disables)")
	flags.String("snapshot-dir", defaults.SnapshotDir, "Snapshot directory")
	flags.Int("fly-mode", defaults.FlyMode, "Initial fly mode (3 manual, 4 follow, 5 trail, 6 above)")
	flags.Float64("velocity", defaults.Velocity, "Requested velocity")
	flags.Float64("lat", defaults.Latitude, "Operator latitude")
	flags.Float64("lon", defaults.Longitude, "Operator longitude")
	return cmd
}

func newSimCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a simulated drone",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return app.RunSimulator(context.Background(), config)
		},
	}

	defaults := app.DefaultConfig().Sim
	flags := cmd.Flags()
	flags.String("listen", defaults.Host, "Address to listen on")
	flags.Int("video-port", defaults.VideoPort, "Video channel port")
	flags.Int("nav-port", defaults.NavPort, "Navigation channel port")
	flags.String("format", defaults.VideoFormat, "Video format (jpeg, png, rgba)")
	flags.Int("battery", defaults.Battery, "Initial battery level")
	flags.Float64("lat", defaults.Latitude, "Initial latitude")
	flags.Float64("lon", defaults.Longitude, "Initial longitude")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			app.ShowVersion(cmd.OutOrStdout())
		},
	}
}
