package malgostudio

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointaudio/pointaudio/internal/audiocore"
	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
)

const (
	testRate  = 8000
	beepPath  = "event:/Test/Beep"
	beep3D    = "event:/Test/Beep3D"
	loopPath  = "event:/Test/Loop"
	quietPath = "event:/Test/Silent"
)

const testBank = `
name: test
globalParameters:
  - { name: Weather, min: 0, max: 1 }
events:
  - path: event:/Test/Beep
    id: 5d1e7c2a-0b3f-4e6d-8a9c-1f2e3d4c5b6a
    file: beep.wav
  - path: event:/Test/Beep3D
    id: 6e2f8d3b-1c40-4f7e-9bad-203f4e5d6c7b
    is3d: true
    file: beep.wav
    minDistance: 1
    maxDistance: 10
  - path: event:/Test/Loop
    id: 7f309e4c-2d51-4a8f-8cbe-3140f5e6d7c8
    file: beep.wav
    loop: true
    fadeout: 10ms
  - path: event:/Test/Silent
    id: 80410f5d-3e62-4b90-9dcf-4251a6f7e8d9
    length: 5ms
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeBeep writes a mono 16-bit WAV at twice the test rate holding a
// constant half-scale signal.
func writeBeep(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, frames)
	for i := range data {
		data[i] = 16384
	}
	enc := wav.NewEncoder(f, testRate*2, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: testRate * 2, NumChannels: 1},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func newTestSystem(t *testing.T) *System {
	t.Helper()
	dir := t.TempDir()
	writeBeep(t, filepath.Join(dir, "beep.wav"), 1600)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(testBank), 0o644))

	sys, err := New(Config{SampleRate: testRate, Channels: 2, BankDir: dir, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })

	require.NoError(t, sys.LoadBank("test", true))
	return sys
}

func startInstance(t *testing.T, sys *System, path string) (*Instance, *atomic.Int32) {
	t.Helper()
	desc, err := sys.GetEvent(path)
	require.NoError(t, err)
	ei, err := desc.CreateInstance()
	require.NoError(t, err)
	inst := ei.(*Instance)

	var stopped atomic.Int32
	require.NoError(t, inst.SetStoppedCallback(func() { stopped.Add(1) }))
	require.NoError(t, inst.Start())
	return inst, &stopped
}

func state(t *testing.T, inst *Instance) studio.PlaybackState {
	t.Helper()
	s, err := inst.PlaybackState()
	require.NoError(t, err)
	return s
}

func TestDecodeWAVConvertsFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beep.wav")
	writeBeep(t, path, 1600)

	s, err := DecodeFile(path, testRate, 2)
	require.NoError(t, err)
	assert.Equal(t, testRate, s.Rate)
	assert.Equal(t, 2, s.Channels)
	assert.Equal(t, 800, s.Frames())
	assert.Equal(t, "100ms", s.Duration().String())
	assert.InDelta(t, 0.5, s.Data[0], 1e-4)
	assert.InDelta(t, 0.5, s.Data[1], 1e-4)
}

func TestDecodeUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beep.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3"), 0o644))

	_, err := DecodeFile(path, testRate, 2)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))

	_, err = DecodeFile(filepath.Join(t.TempDir(), "missing.wav"), testRate, 2)
	assert.Error(t, err)
}

func TestConvertDownmixes(t *testing.T) {
	s := convert([]float32{1, 0, 0.5, 0.5}, testRate, 2, testRate, 1)
	assert.Equal(t, []float32{0.5, 0.5}, s.Data)
}

func TestNewRejectsChannelLayout(t *testing.T) {
	_, err := New(Config{Channels: 6})
	assert.Error(t, err)
}

func TestPlayToEnd(t *testing.T) {
	sys := newTestSystem(t)
	inst, stopped := startInstance(t, sys, beepPath)

	out := sys.Render(400)
	// centre pan splits power equally
	assert.InDelta(t, 0.5*0.70710678, out[0], 1e-3)
	assert.InDelta(t, out[0], out[1], 1e-6)

	sys.Render(400)
	assert.Equal(t, studio.PlaybackPlaying, state(t, inst))
	assert.Zero(t, stopped.Load())

	sys.Render(1)
	assert.Equal(t, studio.PlaybackStopped, state(t, inst))
	assert.Equal(t, int32(1), stopped.Load())
	assert.Zero(t, sys.ActiveVoices())

	sys.Render(1)
	assert.Equal(t, int32(1), stopped.Load(), "callback fires once per start")
}

func TestImmediateStopCallsBackOnNextPass(t *testing.T) {
	sys := newTestSystem(t)
	inst, stopped := startInstance(t, sys, beepPath)

	require.NoError(t, inst.Stop(studio.StopImmediate))
	assert.Equal(t, studio.PlaybackStopped, state(t, inst))
	assert.Zero(t, stopped.Load())

	out := sys.Render(4)
	assert.Equal(t, int32(1), stopped.Load())
	assert.Zero(t, out[0])
}

func TestFadeoutStop(t *testing.T) {
	sys := newTestSystem(t)
	inst, stopped := startInstance(t, sys, loopPath)

	sys.Render(10)
	require.NoError(t, inst.Stop(studio.StopAllowFadeout))
	assert.Equal(t, studio.PlaybackStopping, state(t, inst))

	out := sys.Render(40)
	assert.Greater(t, out[0], out[2*39], "fade decreases gain")
	assert.Equal(t, studio.PlaybackStopping, state(t, inst))

	sys.Render(41)
	assert.Equal(t, studio.PlaybackStopped, state(t, inst))
	assert.Equal(t, int32(1), stopped.Load())
}

func TestLoopRestartsAtEnd(t *testing.T) {
	sys := newTestSystem(t)
	inst, stopped := startInstance(t, sys, loopPath)

	out := sys.Render(2000)
	assert.Equal(t, studio.PlaybackPlaying, state(t, inst))
	assert.NotZero(t, out[2*1999])
	assert.Zero(t, stopped.Load())
}

func TestSilentEventEndsAfterLength(t *testing.T) {
	sys := newTestSystem(t)
	inst, stopped := startInstance(t, sys, quietPath)

	sys.Render(40)
	assert.Equal(t, studio.PlaybackPlaying, state(t, inst))
	sys.Render(1)
	assert.Equal(t, int32(1), stopped.Load())
}

func TestReleaseDropsVoiceSilently(t *testing.T) {
	sys := newTestSystem(t)
	inst, stopped := startInstance(t, sys, beepPath)

	require.NoError(t, inst.Release())
	sys.Render(1)
	assert.Zero(t, stopped.Load())
	assert.Zero(t, sys.ActiveVoices())

	assert.False(t, inst.IsValid())
	assert.ErrorIs(t, inst.Release(), studio.ErrInvalidHandle)
	assert.ErrorIs(t, inst.Start(), studio.ErrInvalidHandle)
	_, err := inst.PlaybackState()
	assert.ErrorIs(t, err, studio.ErrInvalidHandle)
}

func TestSpatialization(t *testing.T) {
	sys := newTestSystem(t)
	inst, _ := startInstance(t, sys, beep3D)

	require.NoError(t, inst.Set3DAttributes(studio.Attributes3D{Position: studio.Vector{X: 5}}))
	out := sys.Render(1)
	assert.InDelta(t, 0, out[0], 1e-4, "hard right leaves left silent")
	assert.InDelta(t, 0.5*(10-5)/9.0, out[1], 1e-3)

	require.NoError(t, inst.Set3DAttributes(studio.Attributes3D{Position: studio.Vector{Z: 20}}))
	out = sys.Render(1)
	assert.Zero(t, out[0])
	assert.Zero(t, out[1])

	require.NoError(t, inst.SetProperty(studio.PropertyMaximumDistance, 40))
	out = sys.Render(1)
	assert.InDelta(t, 0.5*(40-20)/39.0*0.70710678, out[0], 1e-3)

	require.NoError(t, inst.SetVolume(0))
	out = sys.Render(1)
	assert.Zero(t, out[0])
}

func TestGlobalParameters(t *testing.T) {
	sys := newTestSystem(t)

	pd, err := sys.ParameterDescriptionByName("Weather")
	require.NoError(t, err)
	assert.True(t, pd.Global)

	require.NoError(t, sys.SetParameterByName("Weather", 3, false))
	v, err := sys.ParameterByName("Weather")
	require.NoError(t, err)
	assert.Equal(t, float32(1), v, "clamped to range")

	require.NoError(t, sys.SetParameterByID(pd.ID, 0.25, true))
	v, err = sys.ParameterByName("Weather")
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), v)

	assert.ErrorIs(t, sys.SetParameterByName("Nope", 1, false), studio.ErrNotFound)
}

func TestUnloadBankStopsVoices(t *testing.T) {
	sys := newTestSystem(t)
	inst, stopped := startInstance(t, sys, loopPath)
	desc, err := sys.GetEvent(loopPath)
	require.NoError(t, err)

	assert.ErrorIs(t, sys.LoadBank("test", true), studio.ErrBankLoaded)
	require.NoError(t, sys.UnloadBank("test"))
	assert.Empty(t, sys.Banks())
	assert.False(t, desc.IsValid())

	_, err = sys.GetEvent(loopPath)
	assert.ErrorIs(t, err, studio.ErrNotFound)
	_, err = desc.CreateInstance()
	assert.ErrorIs(t, err, studio.ErrInvalidHandle)

	sys.Render(1)
	assert.Equal(t, studio.PlaybackStopped, state(t, inst))
	assert.Equal(t, int32(1), stopped.Load())

	assert.ErrorIs(t, sys.UnloadBank("test"), studio.ErrBankNotLoaded)
}

func TestLazySampleLoading(t *testing.T) {
	dir := t.TempDir()
	writeBeep(t, filepath.Join(dir, "beep.wav"), 1600)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(testBank), 0o644))

	sys, err := New(Config{SampleRate: testRate, BankDir: dir, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	require.NoError(t, sys.LoadBank("test", false))

	desc, err := sys.GetEvent(beepPath)
	require.NoError(t, err)
	assert.Zero(t, desc.Length(), "length unknown before decoding")

	_, err = desc.CreateInstance()
	require.NoError(t, err)
	assert.Equal(t, "100ms", desc.Length().String())
}

// The manager reclaims slots from stop callbacks that run on the mixing
// goroutine rather than the caller's.
func TestManagerReclaimsFromMixerGoroutine(t *testing.T) {
	sys := newTestSystem(t)

	m, err := audiocore.NewManager(sys, audiocore.ManagerConfig{InitialCapacity: 2, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	a, err := m.GetAudio(beepPath)
	require.NoError(t, err)
	require.NoError(t, a.Play())
	assert.Equal(t, 1, m.ActiveCount())

	done := make(chan struct{})
	go func() {
		defer close(done)
		sys.Render(801)
	}()
	<-done

	assert.Equal(t, 0, m.ActiveCount())
	assert.False(t, a.IsValid())
}
