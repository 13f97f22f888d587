package audiocore

import (
	"fmt"
	"iter"
	"slices"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
)

const inlineParams = 4

// Audio is a copyable handle to one playable event. It carries the event,
// queued parameters, playback flags and pose, and refers to at most one
// pooled instance. Copies share identity: a copy can stop the instance the
// original started.
type Audio struct {
	manager *Manager
	desc    studio.EventDescription
	params  []ParamReference
	hash    Hash

	allowFadeout        bool
	overrideAttenuation bool
	overrideMinDistance float32
	overrideMaxDistance float32
	volume              float32

	translation Vector3
	rotation    Quaternion

	ref   SlotRef
	bound bool
}

func newAudio(m *Manager, desc studio.EventDescription) Audio {
	return Audio{
		manager:             m,
		desc:                desc,
		hash:                NewHash(),
		allowFadeout:        true,
		overrideMinDistance: unsetDistance,
		overrideMaxDistance: unsetDistance,
		volume:              1,
		rotation:            IdentityQuaternion(),
	}
}

// binding returns the slot and binding a refers to, or nils when a is not
// bound to a live instance.
func (a *Audio) binding() (*slot, *binding) {
	if a == nil || a.manager == nil || !a.bound {
		return nil, nil
	}
	s, ok := a.manager.container.resolve(a.ref)
	if !ok {
		return nil, nil
	}
	b := s.bound.Load()
	if b == nil || b.instanceHash != a.hash || !b.instance.IsValid() {
		return nil, nil
	}
	return s, b
}

// IsValidID reports whether the event description is resolved and loaded.
func (a *Audio) IsValidID() bool {
	return a != nil && a.desc != nil && a.desc.IsValid()
}

// IsValid reports whether a is bound to a live instance.
func (a *Audio) IsValid() bool {
	_, b := a.binding()
	return b != nil
}

// HasInitialized reports whether an instance was ever created for a.
func (a *Audio) HasInitialized() bool {
	return a != nil && a.bound
}

// Is3D reports whether the event is spatialised.
func (a *Audio) Is3D() bool {
	return a.IsValidID() && a.desc.Is3D()
}

// EventDescription returns the resolved event.
func (a *Audio) EventDescription() studio.EventDescription {
	return a.desc
}

// Hash returns a's identity.
func (a *Audio) Hash() Hash {
	return a.hash
}

// Ref returns the slot reference of the last created instance.
func (a *Audio) Ref() SlotRef {
	return a.ref
}

// PlaybackState returns the instance state, or stopped when unbound.
func (a *Audio) PlaybackState() studio.PlaybackState {
	s, _ := a.binding()
	if s == nil {
		return studio.PlaybackStopped
	}
	return s.playbackState()
}

// Position returns the pose translation, read from the slot when bound.
func (a *Audio) Position() Vector3 {
	if s, _ := a.binding(); s != nil {
		t, _ := s.pose()
		return t
	}
	return a.translation
}

// SetPosition caches v and updates the bound slot. The middleware sees it
// on the next tick.
func (a *Audio) SetPosition(v Vector3) {
	a.translation = v
	if s, _ := a.binding(); s != nil {
		s.setTranslation(v)
	}
}

// Rotation returns the pose rotation, read from the slot when bound.
func (a *Audio) Rotation() Quaternion {
	if s, _ := a.binding(); s != nil {
		_, r := s.pose()
		return r
	}
	return a.rotation
}

// SetRotation caches q and updates the bound slot.
func (a *Audio) SetRotation(q Quaternion) {
	a.rotation = q
	if s, _ := a.binding(); s != nil {
		s.setRotation(q)
	}
}

// AllowFadeout reports whether Stop lets the event fade out.
func (a *Audio) AllowFadeout() bool {
	return a.allowFadeout
}

// SetAllowFadeout selects fade-out or immediate stop.
func (a *Audio) SetAllowFadeout(allow bool) {
	a.allowFadeout = allow
}

// OverrideAttenuation returns the distance override and whether it is on.
func (a *Audio) OverrideAttenuation() (minDistance, maxDistance float32, enabled bool) {
	return a.overrideMinDistance, a.overrideMaxDistance, a.overrideAttenuation
}

// SetOverrideAttenuation overrides the event's attenuation distances for 3D
// events. The override reaches a bound instance immediately.
func (a *Audio) SetOverrideAttenuation(minDistance, maxDistance float32) {
	a.overrideAttenuation = true
	a.overrideMinDistance = minDistance
	a.overrideMaxDistance = maxDistance
	if s, b := a.binding(); b != nil {
		s.applyAttenuation(b, a)
	}
}

// ClearOverrideAttenuation restores the event's attenuation for future
// instances.
func (a *Audio) ClearOverrideAttenuation() {
	a.overrideAttenuation = false
	a.overrideMinDistance = unsetDistance
	a.overrideMaxDistance = unsetDistance
}

// Volume returns the instance volume, or the queued volume when unbound.
func (a *Audio) Volume() float32 {
	if _, b := a.binding(); b != nil {
		if v, err := b.instance.Volume(); err == nil {
			return v
		}
	}
	return a.volume
}

// SetVolume stores v for future instances and forwards it to a bound one.
func (a *Audio) SetVolume(v float32) error {
	a.volume = v
	_, b := a.binding()
	if b == nil {
		if a.bound && a.manager != nil {
			return a.manager.staleAccess(opSetVolume, a)
		}
		return nil
	}
	return b.instance.SetVolume(v)
}

// HasParameter reports whether a parameter called name is queued.
func (a *Audio) HasParameter(name string) bool {
	return slices.ContainsFunc(a.params, func(p ParamReference) bool { return p.MatchesName(name) })
}

// HasParameterValue reports whether p is queued with the same value and
// seek behaviour.
func (a *Audio) HasParameterValue(p ParamReference) bool {
	i := slices.IndexFunc(a.params, p.Equal)
	return i >= 0 && a.params[i].Value == p.Value && a.params[i].IgnoreSeekSpeed == p.IgnoreSeekSpeed
}

// GetParameter returns the queued parameter called name.
func (a *Audio) GetParameter(name string) (ParamReference, bool) {
	i := slices.IndexFunc(a.params, func(p ParamReference) bool { return p.MatchesName(name) })
	if i < 0 {
		return ParamReference{}, false
	}
	return a.params[i], true
}

// ParameterValue reads name from the bound instance, falling back to the
// queued value.
func (a *Audio) ParameterValue(name string) (float32, error) {
	p, ok := a.GetParameter(name)
	if _, b := a.binding(); b != nil {
		if !ok {
			ref, err := NewParamReference(a.desc, name, 0)
			if err != nil {
				return 0, err
			}
			p = ref
		}
		return b.instance.ParameterByID(p.Description.ID)
	}
	if !ok {
		return 0, errors.New(fmt.Errorf("%w: %q is not queued", ErrParameterNotFound, name)).
			Component(ComponentAudioCore).
			Category(errors.CategoryNotFound).
			Build()
	}
	return p.Value, nil
}

// Parameters returns a copy of the queued parameters.
func (a *Audio) Parameters() []ParamReference {
	return slices.Clone(a.params)
}

// SetParameter resolves name on the event, queues it and forwards it to a
// bound instance.
func (a *Audio) SetParameter(name string, value float32) error {
	p, err := NewParamReference(a.desc, name, value)
	if err != nil {
		return err
	}
	return a.SetParameterRef(p)
}

// SetParameterRef queues p, replacing an entry for the same parameter, and
// forwards it to a bound instance. Global parameters are rejected.
func (a *Audio) SetParameterRef(p ParamReference) error {
	if p.Global || p.Description.Global {
		return errors.New(fmt.Errorf("%w: %q is global and cannot be set on an event", ErrGlobalParameter, p.Description.Name)).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("parameter", p.Description.Name).
			Build()
	}

	params := a.ownParams()
	if i := slices.IndexFunc(params, p.Equal); i >= 0 {
		params[i] = p
	} else {
		params = append(params, p)
	}
	a.params = params

	s, b := a.binding()
	if b == nil {
		return nil
	}
	if err := b.instance.SetParameterByID(p.Description.ID, p.Value, p.IgnoreSeekSpeed); err != nil {
		s.owner.parameterFailed(b.event, p, err)
		return errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryParameter).
			Context("parameter", p.Description.Name).
			Context("event", b.event).
			Build()
	}
	s.applyAttenuation(b, a)
	return nil
}

// RemoveParameter drops the queued parameter called name.
func (a *Audio) RemoveParameter(name string) bool {
	return a.removeParams(func(p ParamReference) bool { return p.MatchesName(name) })
}

// RemoveParameterRef drops the queued entry for p's parameter.
func (a *Audio) RemoveParameterRef(p ParamReference) bool {
	return a.removeParams(p.Equal)
}

// ClearParameters drops every queued parameter.
func (a *Audio) ClearParameters() {
	a.params = nil
}

func (a *Audio) removeParams(match func(ParamReference) bool) bool {
	if !slices.ContainsFunc(a.params, match) {
		return false
	}
	a.params = slices.DeleteFunc(a.ownParams(), match)
	return true
}

// ownParams returns a private copy of the queue with room for one more
// entry. Copies of an Audio share the backing array until one of them
// writes.
func (a *Audio) ownParams() []ParamReference {
	params := make([]ParamReference, len(a.params), max(len(a.params)+1, inlineParams))
	copy(params, a.params)
	return params
}

// UserProperties yields the event's designer properties.
func (a *Audio) UserProperties() iter.Seq[studio.UserProperty] {
	return func(yield func(studio.UserProperty) bool) {
		if !a.IsValidID() {
			return
		}
		for _, p := range a.desc.UserProperties() {
			if !yield(p) {
				return
			}
		}
	}
}

// UserProperty returns the value of the named designer property.
func (a *Audio) UserProperty(name string) (string, bool) {
	for p := range a.UserProperties() {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// CreateInstance binds a to a pooled instance without starting it.
func (a *Audio) CreateInstance() error {
	if a.manager == nil {
		return stateError(ErrInvalidAudio, opCreateInstance)
	}
	return a.manager.CreateInstance(a)
}

// Play starts a, creating an instance when a is not bound.
func (a *Audio) Play() error {
	if a.manager == nil {
		return stateError(ErrInvalidAudio, opPlay)
	}
	return a.manager.Play(a)
}

// Stop stops the bound instance.
func (a *Audio) Stop() error {
	if a.manager == nil {
		return stateError(ErrInvalidAudio, opStop)
	}
	return a.manager.Stop(a)
}

func (a *Audio) String() string {
	path := "<unresolved>"
	if a.desc != nil {
		path = a.desc.Path()
	}
	if !a.bound {
		return fmt.Sprintf("Audio(%s, unbound)", path)
	}
	return fmt.Sprintf("Audio(%s, slot %s)", path, a.ref)
}
