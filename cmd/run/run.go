package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/engine"
)

var (
	scene string
	vars  []string
)

// Command creates the run command, which keeps the audio engine running
// until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the audio engine",
		Long:  "Start the fixed update loop, play startup audios, load a scene and serve diagnostics until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			variables, err := parseVariables(vars)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return engine.Run(ctx, settings, engine.RunOptions{
				Scene:     scene,
				Variables: variables,
			})
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&scene, "scene", "", "Scene whose dependencies are started after startup")
	cmd.Flags().StringSliceVar(&vars, "var", nil, "Expression variable as name=value, repeatable")
	cmd.Flags().StringVar(&settings.Audio.RuntimeVariables, "runtime", settings.Audio.RuntimeVariables, "Path to the runtime variables file")
	cmd.Flags().BoolVar(&settings.Diagnostics.Enabled, "diagnostics", settings.Diagnostics.Enabled, "Serve the diagnostics endpoint")
	cmd.Flags().StringVar(&settings.Diagnostics.Listen, "listen", settings.Diagnostics.Listen, "Listen address of the diagnostics endpoint")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

func parseVariables(raw []string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: expected name=value", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --var %q: %w", kv, err)
		}
		out[name] = v
	}
	return out, nil
}
