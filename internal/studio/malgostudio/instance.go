package malgostudio

import (
	"fmt"
	"sync"

	"github.com/chewxy/math32"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
)

// Instance is a voice mixed into the playback device.
type Instance struct {
	sys    *System
	id     uint64
	desc   *description
	sample *Sample

	mu        sync.Mutex
	state     studio.PlaybackState
	released  bool
	params    map[studio.ParameterID]float32
	props     map[studio.EventProperty]float32
	attrs     studio.Attributes3D
	volume    float32
	cursor    int
	length    int
	fadeLeft  int
	fadeTotal int
	onStopped func()
	fired     bool
}

var _ studio.EventInstance = (*Instance)(nil)

func (i *Instance) Description() (studio.EventDescription, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return nil, errInvalid(i.id)
	}
	return i.desc, nil
}

func (i *Instance) IsValid() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return !i.released
}

func (i *Instance) SetParameterByID(id studio.ParameterID, value float32, _ bool) error {
	p, ok := i.desc.paramByID(id)
	if !ok {
		return fmt.Errorf("instance %d parameter %v: %w", i.id, id, studio.ErrInvalidParam)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return errInvalid(i.id)
	}
	i.params[id] = p.Clamp(value)
	return nil
}

func (i *Instance) ParameterByID(id studio.ParameterID) (float32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return 0, errInvalid(i.id)
	}
	v, ok := i.params[id]
	if !ok {
		return 0, fmt.Errorf("instance %d parameter %v: %w", i.id, id, studio.ErrInvalidParam)
	}
	return v, nil
}

func (i *Instance) SetProperty(p studio.EventProperty, value float32) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return errInvalid(i.id)
	}
	i.props[p] = value
	return nil
}

func (i *Instance) Set3DAttributes(a studio.Attributes3D) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return errInvalid(i.id)
	}
	i.attrs = a
	return nil
}

func (i *Instance) SetVolume(v float32) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return errInvalid(i.id)
	}
	i.volume = max(v, 0)
	return nil
}

func (i *Instance) Volume() (float32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return 0, errInvalid(i.id)
	}
	return i.volume, nil
}

func (i *Instance) PlaybackState() (studio.PlaybackState, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return studio.PlaybackStopped, errInvalid(i.id)
	}
	return i.state, nil
}

func (i *Instance) SetStoppedCallback(fn func()) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return errInvalid(i.id)
	}
	i.onStopped = fn
	return nil
}

// Start restarts playback from the beginning and hands the voice to the mixer.
func (i *Instance) Start() error {
	i.mu.Lock()
	if i.released {
		i.mu.Unlock()
		return errInvalid(i.id)
	}
	i.state = studio.PlaybackPlaying
	i.cursor = 0
	i.fadeLeft, i.fadeTotal = 0, 0
	i.fired = false
	i.mu.Unlock()

	i.sys.mixer.add(i)
	return nil
}

// Stop ends playback. Immediate stops and the end of a fade are delivered to
// the stopped callback by the next mixer pass.
func (i *Instance) Stop(mode studio.StopMode) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return errInvalid(i.id)
	}

	switch {
	case i.state == studio.PlaybackStopped:
	case mode == studio.StopAllowFadeout && i.desc.def.Fadeout > 0:
		if i.state != studio.PlaybackStopping {
			i.fadeTotal = max(i.sys.framesFor(i.desc.def.Fadeout), 1)
			i.fadeLeft = i.fadeTotal
			i.state = studio.PlaybackStopping
		}
	default:
		i.state = studio.PlaybackStopped
	}
	return nil
}

func (i *Instance) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return errInvalid(i.id)
	}
	i.released = true
	i.state = studio.PlaybackStopped
	i.onStopped = nil
	return nil
}

// mixInto adds the voice to out. It reports whether the voice is finished
// and, once per start, the stopped callback to run.
func (i *Instance) mixInto(out []float32, channels int) (done bool, cb func()) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.released {
		return true, nil
	}
	if i.state == studio.PlaybackStopped {
		return true, i.takeCallbackLocked()
	}

	gains := i.gainsLocked(channels)
	frames := len(out) / channels
	for f := range frames {
		fade := float32(1)
		if i.state == studio.PlaybackStopping {
			if i.fadeLeft == 0 {
				i.state = studio.PlaybackStopped
				break
			}
			fade = float32(i.fadeLeft) / float32(i.fadeTotal)
			i.fadeLeft--
		}

		if i.cursor >= i.length {
			if !i.desc.def.Loop {
				i.state = studio.PlaybackStopped
				break
			}
			if i.length > 0 {
				i.cursor = 0
			}
		}

		if i.sample != nil && i.cursor < i.length {
			src := i.sample.Data[i.cursor*channels : (i.cursor+1)*channels]
			for c := range channels {
				out[f*channels+c] += src[c] * gains[c] * fade
			}
		}
		i.cursor++
	}

	if i.state == studio.PlaybackStopped {
		return true, i.takeCallbackLocked()
	}
	return false, nil
}

// gainsLocked computes per-channel gain from volume, distance attenuation and
// stereo position. The listener sits at the origin facing +Z.
func (i *Instance) gainsLocked(channels int) []float32 {
	gains := make([]float32, channels)
	g := i.volume

	pan := float32(0)
	if i.desc.def.Is3D {
		p := i.attrs.Position
		dist := math32.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
		g *= i.attenuationLocked(dist)
		if dist > 0 {
			pan = max(-1, min(1, p.X/dist))
		}
	}

	if channels == 2 {
		// equal power pan
		angle := (pan + 1) * math32.Pi / 4
		gains[0] = g * math32.Cos(angle)
		gains[1] = g * math32.Sin(angle)
		return gains
	}
	for c := range gains {
		gains[c] = g
	}
	return gains
}

func (i *Instance) attenuationLocked(dist float32) float32 {
	minDistance, maxDistance := i.desc.distances()
	if v, ok := i.props[studio.PropertyMinimumDistance]; ok && v > 0 {
		minDistance = v
	}
	if v, ok := i.props[studio.PropertyMaximumDistance]; ok && v > minDistance {
		maxDistance = v
	}

	switch {
	case dist <= minDistance:
		return 1
	case dist >= maxDistance:
		return 0
	default:
		return (maxDistance - dist) / (maxDistance - minDistance)
	}
}

func (i *Instance) takeCallbackLocked() func() {
	if i.fired || i.onStopped == nil {
		return nil
	}
	i.fired = true
	return i.onStopped
}

func errInvalid(id uint64) error {
	return errors.New(fmt.Errorf("instance %d: %w", id, studio.ErrInvalidHandle)).
		Component("malgostudio").
		Category(errors.CategoryAudioSource).
		Build()
}
