package simstudio

import (
	"fmt"
	"sync"
	"time"

	"github.com/pointaudio/pointaudio/internal/studio"
)

// Instance is an in-memory studio.EventInstance.
type Instance struct {
	sys  *System
	id   uint64
	desc *description

	mu        sync.Mutex
	state     studio.PlaybackState
	released  bool
	started   bool
	params    map[studio.ParameterID]float32
	props     map[studio.EventProperty]float32
	attrs     studio.Attributes3D
	attrSets  int
	volume    float32
	startedAt time.Duration
	stopAt    time.Duration
	onStopped func()
	fired     bool
}

var _ studio.EventInstance = (*Instance)(nil)

// ID is the instance's creation sequence number.
func (i *Instance) ID() uint64 { return i.id }

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

func (i *Instance) SetParameterByID(id studio.ParameterID, value float32, ignoreSeekSpeed bool) error {
	p, ok := i.desc.paramByID(id)
	if !ok || i.sys.isRejected(id) {
		return fmt.Errorf("instance %d parameter %v: %w", i.id, id, studio.ErrInvalidParam)
	}

	i.mu.Lock()
	if i.released {
		i.mu.Unlock()
		return errInvalid(i.id)
	}
	i.params[id] = p.Clamp(value)
	i.mu.Unlock()

	i.sys.calls.add(Call{
		Kind: CallSetParameter, Instance: i.id, Event: i.desc.def.Path,
		Name: p.Name, Param: id, Value: value, IgnoreSeekSpeed: ignoreSeekSpeed,
	})
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
		return 0, fmt.Errorf("instance %d parameter %v: %w", i.id, id, studio.ErrNotFound)
	}
	return v, nil
}

func (i *Instance) SetProperty(p studio.EventProperty, value float32) error {
	i.mu.Lock()
	if i.released {
		i.mu.Unlock()
		return errInvalid(i.id)
	}
	i.props[p] = value
	i.mu.Unlock()

	i.sys.calls.add(Call{Kind: CallSetProperty, Instance: i.id, Event: i.desc.def.Path, Property: p, Value: value})
	return nil
}

// Property returns a property override and whether it was set.
func (i *Instance) Property(p studio.EventProperty) (float32, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.props[p]
	return v, ok
}

func (i *Instance) Set3DAttributes(a studio.Attributes3D) error {
	i.mu.Lock()
	if i.released {
		i.mu.Unlock()
		return errInvalid(i.id)
	}
	i.attrs = a
	i.attrSets++
	i.mu.Unlock()

	i.sys.calls.add(Call{Kind: CallSet3D, Instance: i.id, Event: i.desc.def.Path, Attributes: a})
	return nil
}

// Attributes returns the last 3D attributes and how many times they were set.
func (i *Instance) Attributes() (studio.Attributes3D, int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.attrs, i.attrSets
}

func (i *Instance) SetVolume(v float32) error {
	i.mu.Lock()
	if i.released {
		i.mu.Unlock()
		return errInvalid(i.id)
	}
	i.volume = v
	i.mu.Unlock()

	i.sys.calls.add(Call{Kind: CallSetVolume, Instance: i.id, Event: i.desc.def.Path, Value: v})
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

// State returns the playback state regardless of release.
func (i *Instance) State() studio.PlaybackState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Released reports whether Release has been called.
func (i *Instance) Released() bool {
	return !i.IsValid()
}

func (i *Instance) SetStoppedCallback(fn func()) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return errInvalid(i.id)
	}
	i.onStopped = fn
	i.fired = false
	return nil
}

func (i *Instance) Start() error {
	now := i.sys.clock()

	i.mu.Lock()
	if i.released {
		i.mu.Unlock()
		return errInvalid(i.id)
	}
	if i.sys.rejectStarts.Load() {
		i.mu.Unlock()
		return fmt.Errorf("instance %d: start rejected", i.id)
	}
	i.state = studio.PlaybackPlaying
	i.started = true
	i.startedAt = now
	i.fired = false
	i.mu.Unlock()

	i.sys.calls.add(Call{Kind: CallStart, Instance: i.id, Event: i.desc.def.Path})
	return nil
}

func (i *Instance) Stop(mode studio.StopMode) error {
	now := i.sys.clock()

	i.mu.Lock()
	if i.released {
		i.mu.Unlock()
		return errInvalid(i.id)
	}
	var cb func()
	switch {
	case i.state == studio.PlaybackStopped:
	case mode == studio.StopAllowFadeout && i.desc.def.Fadeout > 0:
		i.state = studio.PlaybackStopping
		i.stopAt = now + i.desc.def.Fadeout
	default:
		i.state = studio.PlaybackStopped
		cb = i.takeCallbackLocked()
	}
	i.mu.Unlock()

	i.sys.calls.add(Call{Kind: CallStop, Instance: i.id, Event: i.desc.def.Path, Mode: mode})
	i.sys.fire(cb)
	return nil
}

func (i *Instance) Release() error {
	i.mu.Lock()
	if i.released {
		i.mu.Unlock()
		i.sys.doubleReleases.Add(1)
		return errInvalid(i.id)
	}
	i.released = true
	i.onStopped = nil
	i.mu.Unlock()

	i.sys.calls.add(Call{Kind: CallRelease, Instance: i.id, Event: i.desc.def.Path})
	return nil
}

// Finish ends playback as if the event reached its natural end.
func (i *Instance) Finish() {
	i.mu.Lock()
	if i.released || i.state == studio.PlaybackStopped {
		i.mu.Unlock()
		return
	}
	i.state = studio.PlaybackStopped
	cb := i.takeCallbackLocked()
	i.mu.Unlock()

	i.sys.fire(cb)
}

// ForceState sets the playback state without firing callbacks.
func (i *Instance) ForceState(state studio.PlaybackState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = state
}

// FireStopped invokes the registered callback again even if it already ran,
// the way a late duplicate notification would.
func (i *Instance) FireStopped() {
	i.mu.Lock()
	cb := i.onStopped
	i.mu.Unlock()
	i.sys.fire(cb)
}

func (i *Instance) advance(now time.Duration) {
	i.mu.Lock()
	if i.released || !i.started {
		i.mu.Unlock()
		return
	}
	var cb func()
	switch i.state {
	case studio.PlaybackPlaying, studio.PlaybackSustaining:
		if !i.desc.def.Loop && i.desc.def.Length > 0 && now-i.startedAt >= i.desc.def.Length {
			i.state = studio.PlaybackStopped
			cb = i.takeCallbackLocked()
		}
	case studio.PlaybackStopping:
		if now >= i.stopAt {
			i.state = studio.PlaybackStopped
			cb = i.takeCallbackLocked()
		}
	}
	i.mu.Unlock()

	i.sys.fire(cb)
}

// takeCallbackLocked returns the callback once per start.
func (i *Instance) takeCallbackLocked() func() {
	if i.fired || i.onStopped == nil {
		return nil
	}
	i.fired = true
	return i.onStopped
}
