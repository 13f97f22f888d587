package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pointaudio/pointaudio/cmd/banks"
	"github.com/pointaudio/pointaudio/cmd/play"
	"github.com/pointaudio/pointaudio/cmd/run"
	"github.com/pointaudio/pointaudio/cmd/simulate"
	"github.com/pointaudio/pointaudio/internal/buildinfo"
	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/logging"
	"github.com/pointaudio/pointaudio/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "pointaudio",
		Short:        "Pointaudio event playback CLI",
		Version:      build.String(),
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	banksCmd := banks.Command(settings)
	subcommands := []*cobra.Command{
		play.Command(settings),
		simulate.Command(settings),
		run.Command(settings),
		banksCmd,
	}
	rootCmd.AddCommand(subcommands...)

	var closeLog func() error

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}

		// Manifest inspection needs neither telemetry nor file logs
		if cmd.Name() == banksCmd.Name() {
			return nil
		}

		var err error
		closeLog, err = initialize(settings, build)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		telemetry.Shutdown(telemetryFlushTimeout)
		if closeLog != nil {
			return closeLog()
		}
		return nil
	}

	return rootCmd
}

// initialize sets up error reporting and the main log file before a
// subcommand runs. The returned function closes the log file.
func initialize(settings *conf.Settings, build *buildinfo.Context) (func() error, error) {
	if err := telemetry.InitSentry(settings, build); err != nil {
		slog.Warn("telemetry disabled", "error", err)
	}

	if !settings.Main.Log.Enabled {
		return nil, nil
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	fileLogger, closeFn, err := logging.NewFileLogger(settings.Main.Log.Path, "pointaudio", level, settings.Main.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to open main log: %w", err)
	}
	logging.AddStructuredSink(fileLogger)

	return closeFn, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output and strict stale handle checks")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.Backend, "backend", settings.Audio.Backend, "Audio backend (\"sim\" or \"malgo\")")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.BankPath, "bankpath", settings.Audio.BankPath, "Directory holding bank manifests")
	rootCmd.PersistentFlags().IntVar(&settings.Audio.Handlers.Capacity, "handlers", settings.Audio.Handlers.Capacity, "Initial handle slot capacity")
	rootCmd.PersistentFlags().IntVar(&settings.Audio.TickRate, "tickrate", settings.Audio.TickRate, "Fixed update rate in Hz")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
