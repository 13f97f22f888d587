package simstudio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointaudio/pointaudio/internal/studio"
	"github.com/pointaudio/pointaudio/internal/testutil"
)

func TestInstanceLifecycle(t *testing.T) {
	sys, err := New()
	require.NoError(t, err)

	ev := sys.DefineEventWith(studio.EventDefinition{Path: "event:/SFX/Step", Length: time.Second})
	raw, err := ev.CreateInstance()
	require.NoError(t, err)
	inst := raw.(*Instance)

	state, err := inst.PlaybackState()
	require.NoError(t, err)
	assert.Equal(t, studio.PlaybackStopped, state, "created instances are stopped until started")

	var stopped int
	require.NoError(t, inst.SetStoppedCallback(func() { stopped++ }))
	require.NoError(t, inst.Start())
	assert.Equal(t, studio.PlaybackPlaying, inst.State())

	sys.Advance(500 * time.Millisecond)
	assert.Equal(t, studio.PlaybackPlaying, inst.State())

	sys.Advance(500 * time.Millisecond)
	assert.Equal(t, studio.PlaybackStopped, inst.State())
	assert.Equal(t, 1, stopped)

	require.NoError(t, inst.Release())
	assert.ErrorIs(t, inst.Release(), studio.ErrInvalidHandle)
	assert.Equal(t, int64(1), sys.DoubleReleases())
}

func TestStopModes(t *testing.T) {
	sys, err := New()
	require.NoError(t, err)
	ev := sys.DefineEventWith(studio.EventDefinition{Path: "event:/Amb/Wind", Loop: true, Fadeout: 200 * time.Millisecond})

	fade, _ := ev.CreateInstance()
	require.NoError(t, fade.Start())
	require.NoError(t, fade.Stop(studio.StopAllowFadeout))
	assert.Equal(t, studio.PlaybackStopping, fade.(*Instance).State())
	sys.Advance(200 * time.Millisecond)
	assert.Equal(t, studio.PlaybackStopped, fade.(*Instance).State())

	cut, _ := ev.CreateInstance()
	require.NoError(t, cut.Start())
	require.NoError(t, cut.Stop(studio.StopImmediate))
	assert.Equal(t, studio.PlaybackStopped, cut.(*Instance).State())
}

func TestCallbacksDisabled(t *testing.T) {
	sys, err := New(WithStopCallbacks(false))
	require.NoError(t, err)
	ev := sys.DefineEvent("event:/SFX/Click", false)

	inst, _ := ev.CreateInstance()
	called := false
	require.NoError(t, inst.SetStoppedCallback(func() { called = true }))
	require.NoError(t, inst.Start())
	require.NoError(t, inst.Stop(studio.StopImmediate))

	assert.False(t, called)
}

func TestAsyncCallbacks(t *testing.T) {
	sys, err := New(WithAsyncCallbacks())
	require.NoError(t, err)
	ev := sys.DefineEvent("event:/SFX/Click", false)

	inst, _ := ev.CreateInstance()
	done := make(chan struct{})
	require.NoError(t, inst.SetStoppedCallback(func() { close(done) }))
	require.NoError(t, inst.Start())
	inst.(*Instance).Finish()

	testutil.WaitForChannel(t, done, testutil.ShortTestTimeout, "stop callback")
	require.NoError(t, sys.Close())
}

func TestParametersAndCalls(t *testing.T) {
	sys, err := New()
	require.NoError(t, err)
	ev := sys.DefineEvent("event:/SFX/Engine", true, studio.ParameterDefinition{Name: "RPM", Min: 0, Max: 8000, Default: 800})

	desc, err := ev.ParameterDescriptionByName("RPM")
	require.NoError(t, err)

	inst, _ := ev.CreateInstance()
	v, err := inst.ParameterByID(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, float32(800), v)

	require.NoError(t, inst.SetParameterByID(desc.ID, 9000, false))
	v, _ = inst.ParameterByID(desc.ID)
	assert.Equal(t, float32(8000), v)

	assert.ErrorIs(t, inst.SetParameterByID(studio.ParameterID{Data1: 1}, 1, false), studio.ErrInvalidParam)

	sys.RejectParameter(desc.ID)
	assert.ErrorIs(t, inst.SetParameterByID(desc.ID, 1, false), studio.ErrInvalidParam)

	calls := sys.CallsFor(inst.(*Instance))
	require.Len(t, calls, 2)
	assert.Equal(t, CallCreate, calls[0].Kind)
	assert.Equal(t, CallSetParameter, calls[1].Kind)
	assert.Equal(t, "RPM", calls[1].Name)
}

func TestGlobalParameters(t *testing.T) {
	sys, err := New()
	require.NoError(t, err)
	desc := sys.DefineGlobalParameter(studio.ParameterDefinition{Name: "TimeOfDay", Min: 0, Max: 1, Default: 0.5})

	v, err := sys.ParameterByName("TimeOfDay")
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), v)

	require.NoError(t, sys.SetParameterByName("TimeOfDay", 0.75, true))
	v, _ = sys.ParameterByName("TimeOfDay")
	assert.Equal(t, float32(0.75), v)

	require.NoError(t, sys.SetParameterByID(desc.ID, 0.25, false))
	v, _ = sys.ParameterByName("TimeOfDay")
	assert.Equal(t, float32(0.25), v)

	_, err = sys.ParameterByName("Missing")
	assert.ErrorIs(t, err, studio.ErrNotFound)
	assert.Len(t, OfKind(sys.Calls(), CallSetGlobal), 2)
}

func TestLoadAndUnloadBank(t *testing.T) {
	dir := t.TempDir()
	manifest := `
name: SFX
events:
  - { path: event:/SFX/Door, id: 1d2c3b4a-5f6e-4a8b-9c0d-1e2f3a4b5c6d, loop: true }
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SFX.yaml"), []byte(manifest), 0o600))

	sys, err := New(WithBankDir(dir))
	require.NoError(t, err)

	require.NoError(t, sys.LoadBank("SFX", false))
	assert.ErrorIs(t, sys.LoadBank("SFX", false), studio.ErrBankLoaded)
	assert.Equal(t, []string{"SFX"}, sys.Banks())

	ev, err := sys.GetEvent("event:/SFX/Door")
	require.NoError(t, err)
	byID, err := sys.GetEventByID(ev.ID())
	require.NoError(t, err)
	assert.True(t, studio.SameEvent(ev, byID))

	inst, _ := ev.CreateInstance()
	require.NoError(t, inst.Start())

	require.NoError(t, sys.UnloadBank("SFX"))
	assert.False(t, ev.IsValid())
	assert.Equal(t, studio.PlaybackStopped, inst.(*Instance).State())

	_, err = sys.GetEvent("event:/SFX/Door")
	assert.ErrorIs(t, err, studio.ErrNotFound)
	assert.ErrorIs(t, sys.UnloadBank("SFX"), studio.ErrBankNotLoaded)
}

func TestUserProperties(t *testing.T) {
	sys, err := New()
	require.NoError(t, err)
	ev := sys.DefineEventWith(studio.EventDefinition{
		Path:           "event:/UI/Click",
		UserProperties: map[string]string{"b": "2", "a": "1"},
	})

	props := ev.UserProperties()
	require.Len(t, props, 2)
	assert.Equal(t, "a", props[0].Name)
	assert.Equal(t, "2", props[1].Value)
}

func TestRejectStarts(t *testing.T) {
	sys, err := New()
	require.NoError(t, err)

	ev := sys.DefineEvent("event:/SFX/Step", false)
	raw, err := ev.CreateInstance()
	require.NoError(t, err)
	inst := raw.(*Instance)

	sys.RejectStarts(true)
	require.Error(t, inst.Start())
	assert.Equal(t, studio.PlaybackStopped, inst.State())
	assert.True(t, inst.IsValid())

	sys.RejectStarts(false)
	require.NoError(t, inst.Start())
	assert.Equal(t, studio.PlaybackPlaying, inst.State())
}
