package audiocore

import (
	"sync"
	"sync/atomic"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/observability/metrics"
	"github.com/pointaudio/pointaudio/internal/studio"
)

// binding ties one middleware instance to the Audio that created it.
type binding struct {
	instance     studio.EventInstance
	desc         studio.EventDescription
	instanceHash Hash
	event        string
	started      atomic.Bool
}

// slot is one reusable entry of a HandleContainer. The binding pointer is
// the only state shared with job goroutines and stop callbacks; whoever
// swaps it to nil owns the Release call.
type slot struct {
	hash       Hash
	owner      *HandleContainer
	generation atomic.Uint32
	bound      atomic.Pointer[binding]

	mu          sync.Mutex
	translation Vector3
	rotation    Quaternion
}

// atomicSlots publishes the slot array to lock-free readers.
type atomicSlots struct {
	p atomic.Pointer[[]*slot]
}

func (a *atomicSlots) load() []*slot {
	if p := a.p.Load(); p != nil {
		return *p
	}
	return nil
}

func (a *atomicSlots) store(slots []*slot) {
	a.p.Store(&slots)
}

func newSlot(owner *HandleContainer) *slot {
	return &slot{
		hash:     NewHash(),
		owner:    owner,
		rotation: IdentityQuaternion(),
	}
}

// isEmpty reports whether the slot holds no valid instance handle.
func (s *slot) isEmpty() bool {
	b := s.bound.Load()
	return b == nil || !b.instance.IsValid()
}

func (s *slot) instanceHash() Hash {
	if b := s.bound.Load(); b != nil {
		return b.instanceHash
	}
	return EmptyHash
}

func (s *slot) setPose(translation Vector3, rotation Quaternion) {
	s.mu.Lock()
	s.translation = translation
	s.rotation = rotation
	s.mu.Unlock()
}

func (s *slot) setTranslation(v Vector3) {
	s.mu.Lock()
	s.translation = v
	s.mu.Unlock()
}

func (s *slot) setRotation(q Quaternion) {
	s.mu.Lock()
	s.rotation = q
	s.mu.Unlock()
}

func (s *slot) pose() (Vector3, Quaternion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.translation, s.rotation
}

// createInstance binds a fresh middleware instance for a. Queued
// parameters, attenuation overrides and volume are applied before the
// binding is published.
func (s *slot) createInstance(a *Audio) (*binding, error) {
	// a handle invalidated behind our back still occupies the slot until
	// the next poll
	if old := s.bound.Load(); old != nil {
		s.reclaim(old, metrics.ReclaimPoll)
	}

	inst, err := a.desc.CreateInstance()
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryAudioSource).
			Context("operation", opCreateInstance).
			Context("event", a.desc.Path()).
			Build()
	}

	b := &binding{
		instance:     inst,
		desc:         a.desc,
		instanceHash: a.hash,
		event:        a.desc.Path(),
	}
	if a.volume != 1 {
		if err := inst.SetVolume(a.volume); err != nil {
			s.owner.logger.Warn("failed to apply volume",
				"event", b.event,
				"volume", a.volume,
				"error", err)
		}
	}
	s.setParameters(b, a)

	s.bound.Store(b)
	return b, nil
}

// setParameters pushes every queued parameter, then re-applies attenuation
// overrides. Individual failures are logged and skipped.
func (s *slot) setParameters(b *binding, a *Audio) {
	for _, p := range a.params {
		if err := b.instance.SetParameterByID(p.Description.ID, p.Value, p.IgnoreSeekSpeed); err != nil {
			s.owner.parameterFailed(b.event, p, err)
		}
	}
	s.applyAttenuation(b, a)
}

func (s *slot) applyAttenuation(b *binding, a *Audio) {
	if !a.overrideAttenuation || !a.Is3D() {
		return
	}
	if err := b.instance.SetProperty(studio.PropertyMinimumDistance, a.overrideMinDistance); err != nil {
		s.owner.logger.Warn("failed to override minimum distance", "event", b.event, "error", err)
	}
	if err := b.instance.SetProperty(studio.PropertyMaximumDistance, a.overrideMaxDistance); err != nil {
		s.owner.logger.Warn("failed to override maximum distance", "event", b.event, "error", err)
	}
}

// set3DAttributes pushes the cached pose into the bound instance.
func (s *slot) set3DAttributes() {
	b := s.bound.Load()
	if b == nil {
		return
	}
	translation, rotation := s.pose()
	if err := b.instance.Set3DAttributes(Attributes3D(translation, rotation)); err != nil &&
		!errors.Is(err, studio.ErrInvalidHandle) {
		s.owner.logger.Debug("failed to set 3D attributes", "event", b.event, "error", err)
	}
}

// startInstance registers the stopped callback and starts playback.
func (s *slot) startInstance(b *binding) error {
	if err := b.instance.SetStoppedCallback(func() {
		s.reclaim(b, metrics.ReclaimCallback)
	}); err != nil {
		s.owner.logger.Debug("stopped callback not registered", "event", b.event, "error", err)
	}

	if err := b.instance.Start(); err != nil {
		return err
	}
	b.started.Store(true)
	return nil
}

// stopInstance stops playback. An instance that never started produces no
// stop notification, so it is reclaimed here.
func (s *slot) stopInstance(b *binding, allowFadeout bool) error {
	if !b.started.Load() {
		s.clear(b, metrics.ReclaimStop)
		return nil
	}

	mode := studio.StopImmediate
	if allowFadeout {
		mode = studio.StopAllowFadeout
	}
	return b.instance.Stop(mode)
}

// pollStopped reclaims the slot when its handle has gone invalid, its
// started instance has stopped, or its unstarted instance lost its event.
func (s *slot) pollStopped() bool {
	b := s.bound.Load()
	if b == nil {
		return false
	}
	if !b.instance.IsValid() {
		return s.reclaim(b, metrics.ReclaimPoll)
	}
	if !b.started.Load() {
		if !b.desc.IsValid() {
			return s.clear(b, metrics.ReclaimPoll)
		}
		return false
	}
	state, err := b.instance.PlaybackState()
	if err != nil || state == studio.PlaybackStopped {
		return s.reclaim(b, metrics.ReclaimPoll)
	}
	return false
}

func (s *slot) playbackState() studio.PlaybackState {
	b := s.bound.Load()
	if b == nil {
		return studio.PlaybackStopped
	}
	state, err := b.instance.PlaybackState()
	if err != nil {
		return studio.PlaybackStopped
	}
	return state
}

// reclaim returns the slot to the pool if b is still its binding. Only the
// caller that wins the swap releases the instance.
func (s *slot) reclaim(b *binding, path string) bool {
	if b == nil || !s.bound.CompareAndSwap(b, nil) {
		return false
	}
	s.release(b, path)
	return true
}

// clear forcibly stops and reclaims b.
func (s *slot) clear(b *binding, path string) bool {
	if b == nil || !s.bound.CompareAndSwap(b, nil) {
		return false
	}
	if b.started.Load() && b.instance.IsValid() {
		_ = b.instance.Stop(studio.StopImmediate)
	}
	s.release(b, path)
	return true
}

// release frees a binding the caller has already unpublished. Handles the
// middleware invalidated itself are not released twice.
func (s *slot) release(b *binding, path string) {
	if b.instance.IsValid() {
		if err := b.instance.Release(); err != nil {
			s.owner.logger.Debug("instance release failed", "event", b.event, "path", path, "error", err)
		}
	}
	s.owner.reclaimed(path)
}
