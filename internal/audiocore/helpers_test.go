package audiocore

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pointaudio/pointaudio/internal/jobs"
	"github.com/pointaudio/pointaudio/internal/studio"
	"github.com/pointaudio/pointaudio/internal/studio/simstudio"
)

const (
	shotPath = "event:/SFX/Shot"
	windPath = "event:/Amb/Wind"
	uiPath   = "event:/UI/Click"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSim builds a middleware with a 3D shot event carrying parameter X, a
// 2D click and a 3D wind with fade-out.
func newSim(t *testing.T, opts ...simstudio.Option) *simstudio.System {
	t.Helper()
	sys, err := simstudio.New(opts...)
	require.NoError(t, err)

	sys.DefineEvent(shotPath, true, studio.ParameterDefinition{Name: "X", Min: 0, Max: 10})
	sys.DefineEvent(uiPath, false)
	sys.DefineEventWith(studio.EventDefinition{
		Path:           windPath,
		Is3D:           true,
		Loop:           true,
		Fadeout:        200 * time.Millisecond,
		UserProperties: map[string]string{"category": "ambience"},
	})
	sys.DefineGlobalParameter(studio.ParameterDefinition{Name: "TimeOfDay", Min: 0, Max: 24})

	t.Cleanup(func() { _ = sys.Close() })
	return sys
}

func newTestManager(t *testing.T, sys studio.System, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	m, err := NewManager(sys, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newTestContainer(t *testing.T, capacity int) *HandleContainer {
	t.Helper()
	sched := jobs.NewScheduler(2, jobs.WithLogger(quietLogger()))
	c, err := NewHandleContainer(capacity, sched, WithContainerLogger(quietLogger()), WithBatchSize(2))
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Dispose()
		sched.Wait()
	})
	return c
}

// instanceOf returns the simulated instance bound to a.
func instanceOf(t *testing.T, a *Audio) *simstudio.Instance {
	t.Helper()
	_, b := a.binding()
	require.NotNil(t, b, "audio is not bound")
	inst, ok := b.instance.(*simstudio.Instance)
	require.True(t, ok)
	return inst
}

func tick(m *Manager) {
	m.Tick().Complete()
}
