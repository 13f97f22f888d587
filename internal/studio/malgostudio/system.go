// Package malgostudio is a playback middleware: events come from bank
// manifests, their WAV or FLAC samples are decoded to the output format and
// mixed in software onto a malgo playback device. Stopped callbacks run on
// the device's data callback goroutine.
package malgostudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
)

// Config describes the output format and where banks are read from.
type Config struct {
	SampleRate   int
	Channels     int
	BufferFrames int
	BankDir      string
	Logger       *slog.Logger
}

// System is a studio.System that renders through malgo.
type System struct {
	cfg    Config
	logger *slog.Logger
	mixer  mixer

	mu          sync.RWMutex
	closed      bool
	banks       map[string]*studio.Bank
	events      map[string]*description
	eventsByID  map[studio.GUID]*description
	globals     map[string]*globalParam
	globalsByID map[studio.ParameterID]*globalParam

	nextID atomic.Uint64

	deviceMu sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	scratch  []float32
}

type globalParam struct {
	desc  studio.ParameterDescription
	value float32
}

var _ studio.System = (*System)(nil)

// New creates a System without opening an output device. Call Open to start
// playback, or Render to mix manually.
func New(cfg Config) (*System, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.BufferFrames == 0 {
		cfg.BufferFrames = 512
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, errors.Newf("unsupported output channel count %d", cfg.Channels).
			Component("malgostudio").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &System{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "malgostudio"),
		mixer:       mixer{channels: cfg.Channels},
		banks:       make(map[string]*studio.Bank),
		events:      make(map[string]*description),
		eventsByID:  make(map[studio.GUID]*description),
		globals:     make(map[string]*globalParam),
		globalsByID: make(map[studio.ParameterID]*globalParam),
	}, nil
}

// Open initializes the malgo context and starts the playback device.
func (s *System) Open() error {
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()

	if s.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend()}, malgo.ContextConfig{}, func(message string) {
		s.logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return errors.New(err).
			Component("malgostudio").
			Category(errors.CategoryAudio).
			Context("backend", runtime.GOOS).
			Context("operation", "init_context").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(s.cfg.BufferFrames)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onSamples,
		Stop: s.onDeviceStop,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return errors.New(err).
			Component("malgostudio").
			Category(errors.CategoryAudio).
			Context("operation", "init_device").
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return errors.New(err).
			Component("malgostudio").
			Category(errors.CategoryAudio).
			Context("operation", "start_device").
			Build()
	}

	s.ctx = ctx
	s.device = device
	s.logger.Info("playback device started",
		"sample_rate", device.SampleRate(),
		"channels", s.cfg.Channels,
		"buffer_frames", s.cfg.BufferFrames)
	return nil
}

// onSamples is the device data callback.
func (s *System) onSamples(pOutput, _ []byte, frameCount uint32) {
	n := int(frameCount) * s.cfg.Channels
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	buf := s.scratch[:n]
	s.mixer.render(buf)

	for i, v := range buf {
		binary.LittleEndian.PutUint32(pOutput[i*4:], math.Float32bits(v))
	}
}

func (s *System) onDeviceStop() {
	s.logger.Warn("playback device stopped")
}

// Render mixes frames of output without a device and returns them
// interleaved. Stopped callbacks run on the calling goroutine.
func (s *System) Render(frames int) []float32 {
	out := make([]float32, frames*s.cfg.Channels)
	s.mixer.render(out)
	return out
}

// ActiveVoices returns the number of voices in the mixer.
func (s *System) ActiveVoices() int {
	return s.mixer.active()
}

func (s *System) framesFor(d time.Duration) int {
	return int(d * time.Duration(s.cfg.SampleRate) / time.Second)
}

func (s *System) newInstance(d *description, sample *Sample) *Instance {
	inst := &Instance{
		sys:    s,
		id:     s.nextID.Add(1),
		desc:   d,
		sample: sample,
		state:  studio.PlaybackStopped,
		params: make(map[studio.ParameterID]float32),
		props:  make(map[studio.EventProperty]float32),
		volume: 1,
	}
	if sample != nil {
		inst.length = sample.Frames()
	} else {
		inst.length = s.framesFor(d.def.Length)
	}
	for _, p := range d.params {
		inst.params[p.ID] = p.DefaultValue
	}
	return inst
}

// GetEvent resolves an event by path.
func (s *System) GetEvent(path string) (studio.EventDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, studio.ErrClosed
	}
	d, ok := s.events[path]
	if !ok {
		return nil, fmt.Errorf("event %q: %w", path, studio.ErrNotFound)
	}
	return d, nil
}

// GetEventByID resolves an event by GUID.
func (s *System) GetEventByID(id studio.GUID) (studio.EventDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, studio.ErrClosed
	}
	d, ok := s.eventsByID[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, studio.ErrNotFound)
	}
	return d, nil
}

func (s *System) ParameterDescriptionByName(name string) (studio.ParameterDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.globals[name]
	if !ok {
		return studio.ParameterDescription{}, fmt.Errorf("global parameter %q: %w", name, studio.ErrNotFound)
	}
	return g.desc, nil
}

func (s *System) ParameterByName(name string) (float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.globals[name]
	if !ok {
		return 0, fmt.Errorf("global parameter %q: %w", name, studio.ErrNotFound)
	}
	return g.value, nil
}

func (s *System) SetParameterByName(name string, value float32, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.globals[name]
	if !ok {
		return fmt.Errorf("global parameter %q: %w", name, studio.ErrNotFound)
	}
	g.value = g.desc.Clamp(value)
	return nil
}

func (s *System) SetParameterByID(id studio.ParameterID, value float32, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.globalsByID[id]
	if !ok {
		return fmt.Errorf("global parameter %v: %w", id, studio.ErrInvalidParam)
	}
	g.value = g.desc.Clamp(value)
	return nil
}

// LoadBank reads <BankDir>/<name>.yaml. With loadSamples every event's file
// is decoded now; otherwise on first instance creation.
func (s *System) LoadBank(name string, loadSamples bool) error {
	s.mu.RLock()
	_, loaded := s.banks[name]
	s.mu.RUnlock()
	if loaded {
		return fmt.Errorf("bank %q: %w", name, studio.ErrBankLoaded)
	}

	bank, err := studio.LoadBankManifest(s.cfg.BankDir, name)
	if err != nil {
		return err
	}

	descs := make([]*description, 0, len(bank.Events))
	for _, def := range bank.Events {
		d := newDescription(s, bank, def)
		if loadSamples {
			if _, err := d.loadSample(); err != nil {
				return err
			}
		}
		descs = append(descs, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banks[name]; ok {
		return fmt.Errorf("bank %q: %w", name, studio.ErrBankLoaded)
	}
	s.banks[name] = bank
	for _, d := range descs {
		s.events[d.def.Path] = d
		s.eventsByID[d.id] = d
	}
	for _, p := range bank.GlobalParameters {
		g := &globalParam{desc: p.Describe(true), value: p.Default}
		s.globals[p.Name] = g
		s.globalsByID[g.desc.ID] = g
	}

	s.logger.Info("bank loaded", "bank", name, "events", len(descs), "samples_loaded", loadSamples)
	return nil
}

// UnloadBank removes a bank's events. Voices playing them stop on the next
// mixer pass.
func (s *System) UnloadBank(name string) error {
	s.mu.Lock()
	bank, ok := s.banks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("bank %q: %w", name, studio.ErrBankNotLoaded)
	}
	delete(s.banks, name)

	var removed []*description
	for _, def := range bank.Events {
		if d, ok := s.events[def.Path]; ok && d.bank == bank {
			d.valid.Store(false)
			delete(s.events, def.Path)
			delete(s.eventsByID, d.id)
			removed = append(removed, d)
		}
	}
	s.mu.Unlock()

	s.mixer.mu.Lock()
	voices := slices.Clone(s.mixer.voices)
	s.mixer.mu.Unlock()
	for _, v := range voices {
		if slices.Contains(removed, v.desc) {
			_ = v.Stop(studio.StopImmediate)
		}
	}
	return nil
}

// Banks lists loaded bank names in sorted order.
func (s *System) Banks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.banks))
}

// Close stops the device and rejects further lookups.
func (s *System) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()

	var errs []error
	if s.device != nil {
		if err := s.device.Stop(); err != nil {
			errs = append(errs, err)
		}
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		if err := s.ctx.Uninit(); err != nil {
			errs = append(errs, err)
		}
		s.ctx.Free()
		s.ctx = nil
	}
	return errors.Join(errs...)
}

func backend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}
