package simulate

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/engine"
)

var opts engine.SimulateOptions

// Command creates the simulate command, a stress run of the handle pool
// against the simulated backend.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Stress the handle pool with the simulated backend",
		Long:  "Play random short events every tick, let them finish and report the peak slot capacity reached.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := engine.Simulate(ctx, settings, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return nil
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&opts.Instances, "instances", 16, "Maximum events started per tick")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 500, "Number of fixed updates to run")
	cmd.Flags().IntVar(&opts.Capacity, "capacity", settings.Audio.Handlers.Capacity, "Initial handle slot capacity")
	cmd.Flags().IntVar(&opts.Events, "events", 8, "Number of synthetic events to define")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "Random seed")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
