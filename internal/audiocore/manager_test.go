package audiocore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/observability/metrics"
	"github.com/pointaudio/pointaudio/internal/studio"
	"github.com/pointaudio/pointaudio/internal/studio/simstudio"
)

func TestNewManagerDefaults(t *testing.T) {
	m := newTestManager(t, newSim(t), ManagerConfig{})
	assert.Equal(t, DefaultInitialCapacity, m.Capacity())
	assert.Equal(t, DefaultManagerID, m.ID())
	assert.Equal(t, 0, m.ActiveCount())
	assert.True(t, m.IsFocused())

	_, err := NewManager(nil, ManagerConfig{})
	assert.Error(t, err)

	_, err = NewManager(newSim(t), ManagerConfig{InitialCapacity: -3, Logger: quietLogger()})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestGetAudio(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a, err := m.GetAudio(shotPath)
	require.NoError(t, err)
	assert.True(t, a.IsValidID())
	assert.False(t, a.IsValid())
	assert.False(t, a.HasInitialized())
	assert.True(t, a.Is3D())
	assert.True(t, a.AllowFadeout())
	assert.Equal(t, IdentityQuaternion(), a.Rotation())
	minD, maxD, on := a.OverrideAttenuation()
	assert.False(t, on)
	assert.Equal(t, float32(-1), minD)
	assert.Equal(t, float32(-1), maxD)

	byID, err := m.GetAudioByID(a.EventDescription().ID())
	require.NoError(t, err)
	assert.True(t, studio.SameEvent(a.EventDescription(), byID.EventDescription()))
	assert.NotEqual(t, a.Hash(), byID.Hash(), "every resolved audio gets its own identity")

	_, err = m.GetAudio("event:/Missing")
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.True(t, errors.IsNotFound(err))

	assert.Panics(t, func() { m.MustGetAudio("event:/Missing") })
	assert.NotPanics(t, func() { m.MustGetAudio(uiPath) })
}

func TestPlayQueuesParametersBeforeStart(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a, err := m.GetAudio(shotPath)
	require.NoError(t, err)
	require.NoError(t, a.SetParameter("X", 1.0))
	require.NoError(t, a.Play())
	require.True(t, a.IsValid())

	inst := instanceOf(t, &a)
	calls := sys.CallsFor(inst)

	wantID := studio.ParameterIDFor("X", false)
	param := simstudio.IndexOf(calls, func(c simstudio.Call) bool {
		return c.Kind == simstudio.CallSetParameter && c.Param == wantID && c.Value == 1.0
	})
	start := simstudio.IndexOf(calls, func(c simstudio.Call) bool { return c.Kind == simstudio.CallStart })

	require.GreaterOrEqual(t, param, 0, "parameter was never applied")
	require.GreaterOrEqual(t, start, 0, "instance never started")
	assert.Less(t, param, start)
	assert.Equal(t, studio.PlaybackPlaying, a.PlaybackState())
}

func TestImmediateStopIsReclaimedByPolling(t *testing.T) {
	sys := newSim(t, simstudio.WithStopCallbacks(false))
	m := newTestManager(t, sys, ManagerConfig{})

	a, err := m.GetAudio(windPath)
	require.NoError(t, err)
	a.SetAllowFadeout(false)
	require.NoError(t, a.Play())
	inst := instanceOf(t, &a)

	require.NoError(t, a.Stop())
	assert.Equal(t, studio.StopImmediate, simstudio.OfKind(sys.CallsFor(inst), simstudio.CallStop)[0].Mode)
	assert.Equal(t, 1, m.ActiveCount(), "reclaimed on the next tick, not inline")

	tick(m)
	assert.Equal(t, 0, m.ActiveCount())
	assert.False(t, a.IsValid())
	assert.True(t, inst.Released())
}

func TestFadeoutStopWaitsForCallback(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a, err := m.GetAudio(windPath)
	require.NoError(t, err)
	require.NoError(t, a.Play())
	require.NoError(t, a.Stop())
	assert.Equal(t, studio.PlaybackStopping, a.PlaybackState())

	tick(m)
	assert.True(t, a.IsValid(), "still fading out")

	sys.Advance(time.Second)
	assert.False(t, a.IsValid(), "stopped callback reclaims the slot")
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, int64(0), sys.DoubleReleases())
}

func TestFindEventInstancesOfTwoPlays(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	first := m.MustGetAudio(shotPath)
	second := m.MustGetAudio(shotPath)
	other := m.MustGetAudio(uiPath)
	require.NoError(t, first.Play())
	require.NoError(t, second.Play())
	require.NoError(t, other.Play())

	n := 0
	for info := range m.FindEventInstancesOf(first.EventDescription()) {
		assert.Equal(t, shotPath, info.Event)
		n++
	}
	assert.Equal(t, 2, n)
}

func TestStaleAudio(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
	}{
		{"lenient", false},
		{"strict", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := newSim(t, simstudio.WithStopCallbacks(false))
			m := newTestManager(t, sys, ManagerConfig{InitialCapacity: 1, Strict: tt.strict})

			a := m.MustGetAudio(shotPath)
			require.NoError(t, a.Play())
			copied := a
			instanceOf(t, &a).Finish()
			tick(m)

			assert.False(t, a.IsValid())
			assert.False(t, copied.IsValid())
			assert.True(t, a.HasInitialized())

			// a new occupant of the same slot is not reachable through the stale value
			b := m.MustGetAudio(shotPath)
			require.NoError(t, b.Play())
			assert.Equal(t, a.Ref().Index, b.Ref().Index)
			assert.False(t, a.IsValid())

			sys.ResetCalls()
			err := a.Stop()
			if tt.strict {
				assert.ErrorIs(t, err, ErrInvalidAudio)
				assert.True(t, errors.IsCategory(err, errors.CategoryStaleAudio))
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, a.SetParameter("X", 3))
			assert.Empty(t, sys.Calls(), "stale access must not reach the middleware")
			assert.True(t, b.IsValid())
			assert.Equal(t, studio.PlaybackStopped, a.PlaybackState())
		})
	}
}

func TestReplayCreatesNewInstance(t *testing.T) {
	sys := newSim(t, simstudio.WithStopCallbacks(false))
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio(shotPath)
	require.NoError(t, a.Play())
	first := instanceOf(t, &a)
	first.Finish()
	tick(m)
	require.False(t, a.IsValid())

	require.NoError(t, a.Play())
	assert.True(t, a.IsValid())
	assert.NotEqual(t, first.ID(), instanceOf(t, &a).ID())
}

func TestPlayWhilePlayingRestarts(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio(windPath)
	require.NoError(t, a.Play())
	inst := instanceOf(t, &a)
	require.NoError(t, a.Play())

	assert.Same(t, inst, instanceOf(t, &a))
	assert.Len(t, simstudio.OfKind(sys.CallsFor(inst), simstudio.CallStart), 2)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestCreateInstanceThenStop(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio(uiPath)
	require.NoError(t, a.CreateInstance())
	assert.True(t, a.IsValid())
	assert.Equal(t, studio.PlaybackStopped, a.PlaybackState())

	tick(m)
	assert.True(t, a.IsValid(), "an instance that never started is kept")

	require.NoError(t, a.Stop())
	assert.False(t, a.IsValid())
	assert.Empty(t, sys.LiveInstances())
}

func TestUnloadBankReclaimsCreatedInstances(t *testing.T) {
	sys := newSim(t, simstudio.WithBankDir("testdata"))
	m := newTestManager(t, sys, ManagerConfig{})
	require.NoError(t, m.LoadBank("forest", false))

	a := m.MustGetAudio("event:/Forest/Birds")
	require.NoError(t, a.CreateInstance())
	require.True(t, a.IsValid())

	require.NoError(t, m.UnloadBank("forest"))
	tick(m)

	assert.False(t, a.IsValid())
	assert.False(t, a.IsValidID())
	assert.Equal(t, 0, m.ActiveCount())
	assert.Empty(t, sys.LiveInstances())
}

func TestInvalidatedInstanceIsReplacedOnPlay(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{InitialCapacity: 1})

	a := m.MustGetAudio(shotPath)
	require.NoError(t, a.CreateInstance())
	first := instanceOf(t, &a)
	require.NoError(t, first.Release())

	assert.False(t, a.IsValid(), "a released handle no longer backs the audio")
	tick(m)
	assert.Equal(t, 0, m.ActiveCount())

	require.NoError(t, a.Play())
	assert.True(t, a.IsValid())
	assert.NotEqual(t, first.ID(), instanceOf(t, &a).ID())
	assert.Equal(t, 1, m.Capacity())
	assert.Equal(t, int64(0), sys.DoubleReleases())
}

func TestFailedStartFreesSlot(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{InitialCapacity: 1})

	a := m.MustGetAudio(shotPath)
	sys.RejectStarts(true)
	require.Error(t, a.Play())

	assert.False(t, a.IsValid())
	assert.Equal(t, 0, m.ActiveCount())
	assert.Empty(t, sys.LiveInstances())

	sys.RejectStarts(false)
	require.NoError(t, a.Play())
	assert.True(t, a.IsValid())
	assert.Equal(t, studio.PlaybackPlaying, a.PlaybackState())
	assert.Equal(t, 1, m.Capacity())
}

func TestPoseReachesMiddleware(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	pos := Vector3{X: 1, Y: 2, Z: 3}
	rot := QuaternionFromEuler(0, math32.Pi/2, 0)

	a := m.MustGetAudio(shotPath)
	a.SetPosition(pos)
	a.SetRotation(rot)
	require.NoError(t, a.Play())
	tick(m)

	s, b := a.binding()
	require.NotNil(t, b)
	gotPos, gotRot := s.pose()
	assert.Equal(t, pos, gotPos)
	assert.Equal(t, rot, gotRot)

	attrs, sets := instanceOf(t, &a).Attributes()
	assert.GreaterOrEqual(t, sets, 2, "pushed on play and on tick")
	assert.Equal(t, studio.Vector{X: 1, Y: 2, Z: 3}, attrs.Position)
	assert.InDelta(t, 1, attrs.Forward.X, 1e-5)
	assert.InDelta(t, 0, attrs.Forward.Z, 1e-5)
	assert.InDelta(t, 1, attrs.Up.Y, 1e-5)

	moved := Vector3{X: -4}
	a.SetPosition(moved)
	assert.Equal(t, moved, a.Position())
	tick(m)
	attrs, _ = instanceOf(t, &a).Attributes()
	assert.Equal(t, float32(-4), attrs.Position.X)
}

func TestAttenuationOverride(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio(shotPath)
	a.SetOverrideAttenuation(2, 40)
	require.NoError(t, a.Play())
	inst := instanceOf(t, &a)

	v, ok := inst.Property(studio.PropertyMinimumDistance)
	require.True(t, ok)
	assert.Equal(t, float32(2), v)
	v, ok = inst.Property(studio.PropertyMaximumDistance)
	require.True(t, ok)
	assert.Equal(t, float32(40), v)

	ui := m.MustGetAudio(uiPath)
	ui.SetOverrideAttenuation(2, 40)
	require.NoError(t, ui.Play())
	_, ok = instanceOf(t, &ui).Property(studio.PropertyMinimumDistance)
	assert.False(t, ok, "2D events ignore attenuation overrides")
}

func TestVolume(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio(uiPath)
	require.NoError(t, a.SetVolume(0.5))
	require.NoError(t, a.Play())
	assert.Equal(t, float32(0.5), a.Volume())

	require.NoError(t, a.SetVolume(0.25))
	v, err := instanceOf(t, &a).Volume()
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), v)
}

func TestParameterFailureIsLoggedAndSkipped(t *testing.T) {
	sys := newSim(t)
	registry := prometheus.NewRegistry()
	am, err := metrics.NewAudioMetrics(registry)
	require.NoError(t, err)
	m := newTestManager(t, sys, ManagerConfig{Metrics: am})

	a := m.MustGetAudio(shotPath)
	require.NoError(t, a.SetParameter("X", 4))
	sys.RejectParameter(studio.ParameterIDFor("X", false))

	require.NoError(t, a.Play(), "rejected parameters do not prevent playback")
	assert.Equal(t, studio.PlaybackPlaying, a.PlaybackState())

	err = a.SetParameter("X", 5)
	assert.True(t, errors.IsCategory(err, errors.CategoryParameter))

	n, err := testutil.GatherAndCount(registry, "pointaudio_parameter_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGlobalParameters(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	require.NoError(t, m.SetGlobalParameter("TimeOfDay", 12))
	p, err := m.GetGlobalParameter("TimeOfDay")
	require.NoError(t, err)
	assert.Equal(t, float32(12), p.Value)
	assert.True(t, p.Global)
	assert.Equal(t, "TimeOfDay: 12", p.String())

	require.NoError(t, m.SetGlobalParameterEnum(timeOfDay(6)))
	p, err = m.GetGlobalParameter("TimeOfDay")
	require.NoError(t, err)
	assert.Equal(t, float32(6), p.Value)

	_, err = m.GetGlobalParameter("Nope")
	assert.ErrorIs(t, err, ErrGlobalParameter)

	a := m.MustGetAudio(shotPath)
	local, err := NewParamReference(a.EventDescription(), "X", 1)
	require.NoError(t, err)
	assert.ErrorIs(t, m.SetGlobalParameterRef(local), ErrGlobalParameter)
	assert.ErrorIs(t, a.SetParameterRef(p), ErrGlobalParameter, "global parameters cannot be queued on events")
}

type timeOfDay float32

func (t timeOfDay) StudioParameter() string { return "TimeOfDay" }
func (t timeOfDay) Value() float32          { return float32(t) }

func TestParameterQueue(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio(shotPath)
	assert.ErrorIs(t, a.SetParameter("Missing", 1), ErrParameterNotFound)

	require.NoError(t, a.SetParameter("X", 1))
	require.NoError(t, a.SetParameter("X", 2))
	require.Len(t, a.Parameters(), 1, "same parameter replaces the queued entry")

	p, ok := a.GetParameter("X")
	require.True(t, ok)
	assert.Equal(t, float32(2), p.Value)
	assert.True(t, a.HasParameter("X"))
	assert.True(t, a.HasParameterValue(p))
	p.Value = 9
	assert.False(t, a.HasParameterValue(p))

	v, err := a.ParameterValue("X")
	require.NoError(t, err)
	assert.Equal(t, float32(2), v)

	require.NoError(t, a.Play())
	require.NoError(t, a.SetParameter("X", 7))
	v, err = a.ParameterValue("X")
	require.NoError(t, err)
	assert.Equal(t, float32(7), v)

	assert.True(t, a.RemoveParameter("X"))
	assert.False(t, a.RemoveParameter("X"))
	assert.Empty(t, a.Parameters())
}

func TestCopiedAudioHasIndependentParameters(t *testing.T) {
	sys := newSim(t)
	sys.DefineEvent("event:/SFX/Door", false,
		studio.ParameterDefinition{Name: "X", Min: 0, Max: 10},
		studio.ParameterDefinition{Name: "Y", Min: 0, Max: 10})
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio("event:/SFX/Door")
	require.NoError(t, a.SetParameter("X", 1))

	b := a
	c := a
	require.NoError(t, b.SetParameter("X", 5))
	require.NoError(t, b.SetParameter("Y", 2))
	require.NoError(t, c.SetParameter("Y", 3))

	value := func(au *Audio, name string) float32 {
		p, ok := au.GetParameter(name)
		require.True(t, ok, "%s missing", name)
		return p.Value
	}
	assert.Equal(t, float32(1), value(&a, "X"))
	assert.False(t, a.HasParameter("Y"))
	assert.Equal(t, float32(5), value(&b, "X"))
	assert.Equal(t, float32(2), value(&b, "Y"))
	assert.Equal(t, float32(1), value(&c, "X"))
	assert.Equal(t, float32(3), value(&c, "Y"))

	require.True(t, c.RemoveParameter("X"))
	c.ClearParameters()
	assert.Empty(t, c.Parameters())
	assert.Equal(t, float32(1), value(&a, "X"))
	assert.Len(t, b.Parameters(), 2)
}

func TestUserProperties(t *testing.T) {
	m := newTestManager(t, newSim(t), ManagerConfig{})
	a := m.MustGetAudio(windPath)

	v, ok := a.UserProperty("category")
	assert.True(t, ok)
	assert.Equal(t, "ambience", v)

	_, ok = a.UserProperty("missing")
	assert.False(t, ok)
}

func TestResetAudio(t *testing.T) {
	sys := newSim(t)
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio(shotPath)
	require.NoError(t, a.SetParameter("X", 1))
	ui := m.MustGetAudio(uiPath)

	require.NoError(t, m.ResetAudio(&a, ui.EventDescription().ID()))
	assert.Equal(t, uiPath, a.EventDescription().Path())
	assert.Empty(t, a.Parameters())

	require.NoError(t, a.Play())
	assert.ErrorIs(t, m.ResetAudio(&a, ui.EventDescription().ID()), ErrInvalidAudio)
}

func TestBanks(t *testing.T) {
	sys := newSim(t, simstudio.WithStopCallbacks(false), simstudio.WithBankDir("testdata"))
	m := newTestManager(t, sys, ManagerConfig{})

	require.NoError(t, m.LoadBank("forest", false))
	assert.True(t, m.IsBankLoaded("forest"))
	assert.Error(t, m.LoadBank("forest", false))

	a := m.MustGetAudio("event:/Forest/Birds")
	require.NoError(t, a.Play())

	require.NoError(t, m.UnloadBank("forest"))
	assert.False(t, m.IsBankLoaded("forest"))
	tick(m)
	assert.False(t, a.IsValid(), "unloading stops instances and the next tick reclaims them")

	_, err := m.GetAudio("event:/Forest/Birds")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	err = m.UnloadBank("forest")
	assert.ErrorIs(t, err, ErrBankNotLoaded)
}

func TestStartDrivesTicks(t *testing.T) {
	sys := newSim(t, simstudio.WithStopCallbacks(false))
	m := newTestManager(t, sys, ManagerConfig{TickRate: 200})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx))

	a := m.MustGetAudio(shotPath)
	require.NoError(t, a.Play())
	instanceOf(t, &a).Finish()

	assert.Eventually(t, func() bool { return m.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPauseSkipsTicks(t *testing.T) {
	sys := newSim(t, simstudio.WithStopCallbacks(false))
	m := newTestManager(t, sys, ManagerConfig{})

	a := m.MustGetAudio(shotPath)
	require.NoError(t, a.Play())
	instanceOf(t, &a).Finish()

	m.Pause(true)
	assert.True(t, m.IsPaused())
	tick(m)
	assert.Equal(t, 1, m.ActiveCount())

	m.Pause(false)
	tick(m)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestCloseReleasesAndRejects(t *testing.T) {
	sys := newSim(t)
	m, err := NewManager(sys, ManagerConfig{Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	a := m.MustGetAudio(windPath)
	require.NoError(t, a.Play())
	b := m.MustGetAudio(shotPath)
	require.NoError(t, b.CreateInstance())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Empty(t, sys.LiveInstances())
	assert.Equal(t, int64(0), sys.DoubleReleases())
	assert.False(t, a.IsValid())
	assert.ErrorIs(t, a.Play(), ErrManagerClosed)
	assert.ErrorIs(t, m.Start(context.Background()), ErrManagerClosed)
}

func TestMetricsFollowThePool(t *testing.T) {
	sys := newSim(t, simstudio.WithStopCallbacks(false))
	registry := prometheus.NewRegistry()
	am, err := metrics.NewAudioMetrics(registry)
	require.NoError(t, err)
	m := newTestManager(t, sys, ManagerConfig{ID: "test", InitialCapacity: 1, Metrics: am})

	a := m.MustGetAudio(shotPath)
	b := m.MustGetAudio(shotPath)
	require.NoError(t, a.Play())
	require.NoError(t, b.Play())
	instanceOf(t, &a).Finish()
	tick(m)

	expected := `
# HELP pointaudio_pool_growths_total Number of times the slot pool doubled
# TYPE pointaudio_pool_growths_total counter
pointaudio_pool_growths_total{manager_id="test"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "pointaudio_pool_growths_total"))

	n, err := testutil.GatherAndCount(registry, "pointaudio_slot_reclaims_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
