package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/diagnostics"
)

// RunOptions configures Run.
type RunOptions struct {
	Scene     string
	Variables map[string]float64
}

// Run starts the manager's fixed-update loop, plays the startup audios,
// loads opts.Scene and serves diagnostics until ctx is cancelled. Edits to
// the config file reload the runtime variables.
func Run(ctx context.Context, settings *conf.Settings, opts RunOptions, engineOpts ...Option) error {
	e, err := New(settings, engineOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			e.logger.Error("engine shutdown failed", "error", err)
		}
	}()

	for name, v := range opts.Variables {
		e.SetVariable(name, v)
	}

	if err := e.OpenOutput(); err != nil {
		return err
	}
	if err := e.Manager.Start(ctx); err != nil {
		return err
	}

	if rv := e.RuntimeVariables(); rv != nil {
		if err := rv.Initialize(e.Manager); err != nil {
			e.logger.Warn("some startup audios failed", "error", err)
		}
	}
	if opts.Scene != "" {
		if err := e.Manager.SceneLoaded(opts.Scene); err != nil {
			e.logger.Warn("scene dependencies incomplete", "scene", opts.Scene, "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if settings.Diagnostics.Enabled {
		srv := diagnostics.New(e.Manager, e.Registry, settings.Diagnostics.Listen, e.logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if conf.ConfigFileUsed() != "" {
		conf.Watch(e.logger, func(s *conf.Settings) { e.reload(s, opts.Scene) })
	}

	e.logger.Info("audio engine running",
		"backend", settings.Audio.Backend,
		"tick_rate", settings.Audio.TickRate,
		"capacity", e.Manager.Capacity(),
		"scene", opts.Scene)

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	e.logger.Info("audio engine stopping", "active", e.Manager.ActiveCount())
	return err
}

// reload re-reads the runtime variables after a config edit and restarts
// the scene's dependencies.
func (e *Engine) reload(s *conf.Settings, scene string) {
	path := s.Audio.RuntimeVariables
	if path == "" {
		return
	}
	if err := e.LoadRuntimeVariables(path); err != nil {
		e.logger.Error("runtime variables reload failed", "path", path, "error", err)
		return
	}
	if scene == "" {
		return
	}
	if err := e.Manager.SceneLoaded(scene); err != nil {
		e.logger.Warn("scene dependencies incomplete", "scene", scene, "error", err)
	}
}
