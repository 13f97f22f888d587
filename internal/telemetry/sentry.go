// Package telemetry provides opt-in sentry error reporting
package telemetry

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/pointaudio/pointaudio/internal/buildinfo"
	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/logging"
	"github.com/pointaudio/pointaudio/internal/privacy"
)

var initialized atomic.Bool

// InitSentry initializes the sentry SDK and routes enhanced errors to it.
// It does nothing unless telemetry is enabled in settings.
func InitSentry(settings *conf.Settings, build *buildinfo.Context) error {
	return initSentry(settings, build, nil)
}

func initSentry(settings *conf.Settings, build *buildinfo.Context, transport sentry.Transport) error {
	logger := serviceLogger()
	if !settings.Telemetry.Enabled {
		logger.Debug("sentry telemetry is disabled (opt-in required)")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Telemetry.DSN,
		SampleRate: 1.0,
		Debug:      settings.Telemetry.Debug,

		AttachStacktrace: false,
		Environment:      environment(settings),
		ServerName:       "",
		Release:          "pointaudio@" + build.Version(),

		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
		Transport: transport,
	})
	if err != nil {
		return errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	configureScope(settings, build)
	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)

	logger.Info("sentry telemetry initialized",
		"version", build.Version(),
		"os", runtime.GOOS,
		"arch", runtime.GOARCH,
		"backend", settings.Audio.Backend)
	return nil
}

func environment(settings *conf.Settings) string {
	if settings.Debug {
		return "development"
	}
	return "production"
}

// applyPrivacyFilters strips host identifying data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	for _, key := range []string{"device", "os", "runtime"} {
		delete(event.Contexts, key)
	}
	for _, key := range []string{"server_name", "hostname"} {
		delete(event.Tags, key)
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	return event
}

func configureScope(settings *conf.Settings, build *buildinfo.Context) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("backend", settings.Audio.Backend)
		scope.SetTag("system_id", build.SystemID())

		scope.SetContext("application", map[string]any{
			"name":       "pointaudio",
			"version":    build.Version(),
			"build_date": build.BuildDate(),
		})
		scope.SetContext("audio", map[string]any{
			"tick_rate":        settings.Audio.TickRate,
			"initial_capacity": settings.Audio.Handlers.Capacity,
			"workers":          settings.Audio.Handlers.Workers,
		})
	})
}

// Flush waits up to timeout for buffered events to be sent.
func Flush(timeout time.Duration) {
	if !initialized.Load() {
		return
	}
	sentry.Flush(timeout)
}

// Shutdown flushes pending events and stops routing errors to sentry.
func Shutdown(timeout time.Duration) {
	if !initialized.CompareAndSwap(true, false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	errors.SetPrivacyScrubber(nil)
	sentry.Flush(timeout)
}

func serviceLogger() *slog.Logger {
	if l := logging.ForService("telemetry"); l != nil {
		return l
	}
	return slog.Default().With("service", "telemetry")
}
