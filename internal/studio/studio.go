// Package studio defines the contract between the handle pool and an audio
// middleware. Implementations own the playback resources; callers only hold
// opaque descriptions and instances.
package studio

import (
	"time"

	"github.com/google/uuid"

	"github.com/pointaudio/pointaudio/internal/errors"
)

// GUID identifies an event description.
type GUID = uuid.UUID

// Sentinel errors returned by middleware implementations.
var (
	ErrNotFound      = errors.NewStd("not found")
	ErrInvalidHandle = errors.NewStd("invalid handle")
	ErrInvalidParam  = errors.NewStd("invalid parameter")
	ErrBankLoaded    = errors.NewStd("bank already loaded")
	ErrBankNotLoaded = errors.NewStd("bank not loaded")
	ErrClosed        = errors.NewStd("system closed")
)

// ParameterID is the middleware-internal identity of a parameter.
type ParameterID struct {
	Data1 uint32
	Data2 uint32
}

// IsZero reports whether id is unset.
func (id ParameterID) IsZero() bool {
	return id.Data1 == 0 && id.Data2 == 0
}

// ParameterDescription describes a local or global parameter.
type ParameterDescription struct {
	Name         string
	ID           ParameterID
	Minimum      float32
	Maximum      float32
	DefaultValue float32
	Global       bool
}

// Vector is a middleware-space vector.
type Vector struct {
	X, Y, Z float32
}

// Attributes3D is the position and orientation pushed into a 3D instance.
type Attributes3D struct {
	Position Vector
	Velocity Vector
	Forward  Vector
	Up       Vector
}

// PlaybackState of an instance.
type PlaybackState int

const (
	PlaybackPlaying PlaybackState = iota
	PlaybackSustaining
	PlaybackStopped
	PlaybackStarting
	PlaybackStopping
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackPlaying:
		return "playing"
	case PlaybackSustaining:
		return "sustaining"
	case PlaybackStopped:
		return "stopped"
	case PlaybackStarting:
		return "starting"
	case PlaybackStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// StopMode selects how an instance stops.
type StopMode int

const (
	StopAllowFadeout StopMode = iota
	StopImmediate
)

func (m StopMode) String() string {
	if m == StopImmediate {
		return "immediate"
	}
	return "fadeout"
}

// EventProperty is a per-instance property override.
type EventProperty int

const (
	PropertyMinimumDistance EventProperty = iota
	PropertyMaximumDistance
)

// UserProperty is designer metadata attached to an event.
type UserProperty struct {
	Name  string
	Value string
}

// System is the middleware runtime.
type System interface {
	GetEvent(path string) (EventDescription, error)
	GetEventByID(id GUID) (EventDescription, error)

	ParameterDescriptionByName(name string) (ParameterDescription, error)
	ParameterByName(name string) (float32, error)
	SetParameterByName(name string, value float32, ignoreSeekSpeed bool) error
	SetParameterByID(id ParameterID, value float32, ignoreSeekSpeed bool) error

	LoadBank(name string, loadSamples bool) error
	UnloadBank(name string) error
	Banks() []string

	Close() error
}

// EventDescription is an immutable, resolved event.
type EventDescription interface {
	ID() GUID
	Path() string
	Is3D() bool
	IsValid() bool
	Length() time.Duration
	ParameterDescriptionByName(name string) (ParameterDescription, error)
	UserProperties() []UserProperty
	CreateInstance() (EventInstance, error)
}

// EventInstance is a live playable occurrence of an event. Methods may be
// called from job goroutines; implementations must be safe for concurrent use.
type EventInstance interface {
	Description() (EventDescription, error)
	IsValid() bool

	SetParameterByID(id ParameterID, value float32, ignoreSeekSpeed bool) error
	ParameterByID(id ParameterID) (float32, error)
	SetProperty(p EventProperty, value float32) error
	Set3DAttributes(a Attributes3D) error
	SetVolume(v float32) error
	Volume() (float32, error)

	PlaybackState() (PlaybackState, error)
	// SetStoppedCallback registers fn to run once when playback ends. fn may
	// run on a middleware-owned goroutine.
	SetStoppedCallback(fn func()) error

	Start() error
	Stop(mode StopMode) error
	Release() error
}

// SameEvent reports whether a and b resolve to the same event.
func SameEvent(a, b EventDescription) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID() == b.ID()
}
