package play

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pointaudio/pointaudio/internal/audiocore"
	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/engine"
	"github.com/pointaudio/pointaudio/internal/errors"
)

var (
	bank     string
	params   []string
	position string
	duration time.Duration
)

// Command creates the play command, which plays a single event to the end.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <event>",
		Short: "Play one event",
		Long:  "Resolve an event by path, apply parameters and position, and play it until it ends or the duration elapses.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildOptions(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return engine.Play(ctx, settings, opts)
		},
	}

	setupFlags(cmd)

	return cmd
}

func setupFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&bank, "bank", "", "Bank to load before resolving the event")
	cmd.Flags().StringSliceVar(&params, "param", nil, "Event parameter as name=value, repeatable")
	cmd.Flags().StringVar(&position, "position", "0,0,0", "Emitter position as x,y,z")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop playback after this long, 0 waits for the event to end")
}

func buildOptions(event string) (engine.PlayOptions, error) {
	values, err := parseParams(params)
	if err != nil {
		return engine.PlayOptions{}, err
	}
	pos, err := parsePosition(position)
	if err != nil {
		return engine.PlayOptions{}, err
	}
	return engine.PlayOptions{
		Event:    event,
		Bank:     bank,
		Params:   values,
		Position: pos,
		Duration: duration,
	}, nil
}

func parseParams(raw []string) (map[string]float32, error) {
	out := make(map[string]float32, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, flagError("param", kv, "expected name=value")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
		if err != nil {
			return nil, flagError("param", kv, err.Error())
		}
		out[strings.TrimSpace(name)] = float32(v)
	}
	return out, nil
}

func parsePosition(raw string) (audiocore.Vector3, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return audiocore.Vector3{}, flagError("position", raw, "expected x,y,z")
	}
	var xyz [3]float32
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return audiocore.Vector3{}, flagError("position", raw, err.Error())
		}
		xyz[i] = float32(v)
	}
	return audiocore.Vector3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func flagError(flag, value, reason string) error {
	return errors.Newf("invalid --%s %q: %s", flag, value, reason).
		Component("cli").
		Category(errors.CategoryValidation).
		Context("flag", flag).
		Build()
}
