package engine

import (
	"context"
	"time"

	"github.com/pointaudio/pointaudio/internal/audiocore"
	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/studio/simstudio"
)

const playPollInterval = 20 * time.Millisecond

// PlayOptions configures Play.
type PlayOptions struct {
	Event    string
	Bank     string
	Params   map[string]float32
	Position audiocore.Vector3
	// Duration stops playback after this long; zero waits for the event to end
	Duration time.Duration
}

// Play plays one event and blocks until it ends, Duration elapses or ctx
// is cancelled.
func Play(ctx context.Context, settings *conf.Settings, opts PlayOptions, engineOpts ...Option) error {
	e, err := New(settings, engineOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			e.logger.Error("engine shutdown failed", "error", err)
		}
	}()

	if opts.Bank != "" && !e.Manager.IsBankLoaded(opts.Bank) {
		if err := e.Manager.LoadBank(opts.Bank, true); err != nil {
			return err
		}
	}
	if err := e.OpenOutput(); err != nil {
		return err
	}
	if err := e.Manager.Start(ctx); err != nil {
		return err
	}

	a, err := e.Manager.GetAudio(opts.Event)
	if err != nil {
		return err
	}
	for name, v := range opts.Params {
		if err := a.SetParameter(name, v); err != nil {
			return err
		}
	}
	a.SetPosition(opts.Position)
	a.SetAllowFadeout(true)

	if err := a.Play(); err != nil {
		return err
	}
	e.logger.Info("playing event", "event", opts.Event, "slot", a.Ref().String(), "length", a.EventDescription().Length())

	return e.wait(ctx, &a, opts.Duration)
}

func (e *Engine) wait(ctx context.Context, a *audiocore.Audio, limit time.Duration) error {
	ticker := time.NewTicker(playPollInterval)
	defer ticker.Stop()

	sim, _ := e.System.(*simstudio.System)
	start := time.Now()
	last := start

	for a.IsValid() {
		select {
		case <-ctx.Done():
			return a.Stop()
		case now := <-ticker.C:
			// the simulated backend only advances when told to
			if sim != nil {
				sim.Advance(now.Sub(last))
			}
			last = now
			if limit > 0 && now.Sub(start) >= limit {
				return a.Stop()
			}
		}
	}
	return nil
}
