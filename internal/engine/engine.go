// Package engine assembles a running audio stack from settings: the
// middleware backend, the handle pool manager, metrics, banks and runtime
// variables.
package engine

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pointaudio/pointaudio/internal/audiocore"
	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/logging"
	"github.com/pointaudio/pointaudio/internal/observability/metrics"
	"github.com/pointaudio/pointaudio/internal/studio"
	"github.com/pointaudio/pointaudio/internal/studio/malgostudio"
	"github.com/pointaudio/pointaudio/internal/studio/simstudio"
)

// Engine owns one middleware system and the manager driving it.
type Engine struct {
	Settings *conf.Settings
	System   studio.System
	Manager  *audiocore.Manager
	Registry *prometheus.Registry
	Metrics  *metrics.AudioMetrics

	logger *slog.Logger
	clock  func() time.Time

	varsMu sync.RWMutex
	vars   map[string]any

	rvMu    sync.Mutex
	runtime *audiocore.RuntimeVariables
}

// Option configures New.
type Option func(*Engine)

// WithSystem uses sys instead of building the configured backend.
func WithSystem(sys studio.System) Option {
	return func(e *Engine) { e.System = sys }
}

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source for the hour and minute variables.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New builds the backend, manager and metrics described by settings, loads
// the configured banks and, when set, the runtime variables file.
func New(settings *conf.Settings, opts ...Option) (*Engine, error) {
	e := &Engine{
		Settings: settings,
		clock:    time.Now,
		vars:     make(map[string]any),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.ForService("engine")
		if e.logger == nil {
			e.logger = slog.Default().With("service", "engine")
		}
	}

	if e.System == nil {
		sys, err := newSystem(settings, e.logger)
		if err != nil {
			return nil, err
		}
		e.System = sys
	}

	if settings.Metrics.Enabled {
		e.Registry = prometheus.NewRegistry()
		m, err := metrics.NewAudioMetrics(e.Registry)
		if err != nil {
			_ = e.System.Close()
			return nil, errors.New(err).
				Component("engine").
				Category(errors.CategorySystem).
				Context("operation", "register_metrics").
				Build()
		}
		e.Metrics = m
	}

	manager, err := audiocore.NewManager(e.System, audiocore.ManagerConfig{
		ID:              settings.Main.Name,
		InitialCapacity: settings.Audio.Handlers.Capacity,
		BatchSize:       settings.Audio.Handlers.BatchSize,
		Workers:         settings.Audio.Handlers.Workers,
		TickRate:        settings.Audio.TickRate,
		Strict:          settings.Debug,
		Metrics:         e.Metrics,
		Logger:          e.logger,
	})
	if err != nil {
		_ = e.System.Close()
		return nil, err
	}
	e.Manager = manager

	for _, bank := range settings.Audio.Banks {
		if err := manager.LoadBank(bank, settings.Audio.LoadSamples); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	if path := settings.Audio.RuntimeVariables; path != "" {
		if err := e.LoadRuntimeVariables(path); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	return e, nil
}

func newSystem(settings *conf.Settings, logger *slog.Logger) (studio.System, error) {
	switch settings.Audio.Backend {
	case conf.BackendMalgo:
		return malgostudio.New(malgostudio.Config{
			SampleRate:   settings.Audio.Output.SampleRate,
			Channels:     settings.Audio.Output.Channels,
			BufferFrames: settings.Audio.Output.BufferFrames,
			BankDir:      settings.Audio.BankPath,
			Logger:       logger,
		})
	case conf.BackendSim, "":
		return simstudio.New(simstudio.WithBankDir(settings.Audio.BankPath))
	default:
		return nil, errors.Newf("unknown audio backend %q", settings.Audio.Backend).
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// OpenOutput starts the playback device when the backend has one.
func (e *Engine) OpenOutput() error {
	if sys, ok := e.System.(*malgostudio.System); ok {
		return sys.Open()
	}
	return nil
}

// LoadRuntimeVariables reads path and attaches it to the manager,
// replacing and stopping any previous scene audios.
func (e *Engine) LoadRuntimeVariables(path string) error {
	rv, err := audiocore.LoadRuntimeVariables(path, e.Variables)
	if err != nil {
		return err
	}

	e.rvMu.Lock()
	prev := e.runtime
	e.runtime = rv
	e.rvMu.Unlock()

	if prev != nil {
		if err := prev.StopGlobalAudios(); err != nil {
			e.logger.Warn("failed to stop previous scene audios", "error", err)
		}
	}
	e.Manager.SetRuntimeVariables(rv)
	e.logger.Info("runtime variables loaded", "path", path, "scenes", len(rv.Scenes()))
	return nil
}

// RuntimeVariables returns the attached runtime variables, nil when none.
func (e *Engine) RuntimeVariables() *audiocore.RuntimeVariables {
	e.rvMu.Lock()
	defer e.rvMu.Unlock()
	return e.runtime
}

// SetVariable sets a host variable visible to parameter expressions.
func (e *Engine) SetVariable(name string, value any) {
	e.varsMu.Lock()
	defer e.varsMu.Unlock()
	e.vars[name] = value
}

// Variables returns the host variables: hour and minute of the engine clock
// plus everything set with SetVariable.
func (e *Engine) Variables() map[string]any {
	now := e.clock()

	e.varsMu.RLock()
	defer e.varsMu.RUnlock()
	out := make(map[string]any, len(e.vars)+2)
	out["hour"] = now.Hour()
	out["minute"] = now.Minute()
	maps.Copy(out, e.vars)
	return out
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Close stops scene audios, closes the manager and then the backend.
func (e *Engine) Close() error {
	var errs []error
	if rv := e.RuntimeVariables(); rv != nil {
		if err := rv.StopGlobalAudios(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.Manager != nil {
		if err := e.Manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.System.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
