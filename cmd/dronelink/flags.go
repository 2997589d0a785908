package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"dronelink/internal/app"
)

// resolveConfig loads the config file and applies the flags the user set on
// top of it. Unset flags never override the file.
func resolveConfig(cmd *cobra.Command) (app.Config, error) {
	flags := cmd.Flags()

	path, err := flags.GetString("config")
	if err != nil {
		return app.Config{}, err
	}

	config, err := app.LoadConfig(path)
	if err != nil {
		return config, err
	}

	var applyErr error
	flags.Visit(func(f *pflag.Flag) {
		if applyErr == nil {
			applyErr = applyFlag(flags, cmd.Name(), f.Name, &config)
		}
	})
	if applyErr != nil {
		return config, fmt.Errorf("failed to apply flags: %w", applyErr)
	}

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyFlag(flags *pflag.FlagSet, command, name string, config *app.Config) (err error) {
	if name == "verbose" {
		config.Verbose, err = flags.GetBool(name)
		return err
	}

	if command == "sim" {
		s := &config.Sim
		switch name {
		case "listen":
			s.Host, err = flags.GetString(name)
		case "video-port":
			s.VideoPort, err = flags.GetInt(name)
		case "nav-port":
			s.NavPort, err = flags.GetInt(name)
		case "format":
			s.VideoFormat, err = flags.GetString(name)
		case "battery":
			s.Battery, err = flags.GetInt(name)
		case "lat":
			s.Latitude, err = flags.GetFloat64(name)
		case "lon":
			s.Longitude, err = flags.GetFloat64(name)
		}
		return err
	}

	switch name {
	case "host":
		config.Host, err = flags.GetString(name)
	case "video-port":
		config.VideoPort, err = flags.GetInt(name)
	case "nav-port":
		config.NavPort, err = flags.GetInt(name)
	case "dial-timeout":
		err = durationFlag(flags, name, &config.DialTimeout)
	case "read-timeout":
		err = durationFlag(flags, name, &config.ReadTimeout)
	case "hold-interval":
		err = durationFlag(flags, name, &config.HoldInterval)
	case "log-dir":
		config.LogDir, err = flags.GetString(name)
	case "utc":
		config.LogRotateUTC, err = flags.GetBool(name)
	case "journal":
		config.Journal, err = flags.GetBool(name)
	case "recorder":
		config.RecorderPath, err = flags.GetString(name)
	case "snapshot-dir":
		config.SnapshotDir, err = flags.GetString(name)
	case "fly-mode":
		config.FlyMode, err = flags.GetInt(name)
	case "velocity":
		config.Velocity, err = flags.GetFloat64(name)
	case "lat":
		config.Latitude, err = flags.GetFloat64(name)
	case "lon":
		config.Longitude, err = flags.GetFloat64(name)
	}
	return err
}

func durationFlag(flags *pflag.FlagSet, name string, dst *app.Duration) error {
	d, err := flags.GetDuration(name)
	if err != nil {
		return err
	}
	*dst = app.Duration(d)
	return nil
}
