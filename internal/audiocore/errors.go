package audiocore

import (
	"github.com/pointaudio/pointaudio/internal/errors"
)

// Component identifier for audiocore errors
const ComponentAudioCore = "audiocore"

// Sentinel errors. Returned errors wrap these and carry component and
// category metadata, so errors.Is works against the sentinel.
var (
	// ErrInvalidEvent is returned when an event path or GUID does not resolve
	ErrInvalidEvent = errors.NewStd("invalid event")

	// ErrInvalidAudio is returned when an Audio has no live instance
	ErrInvalidAudio = errors.NewStd("audio is not bound to a live instance")

	// ErrGlobalParameter is returned when a global parameter cannot be resolved or set
	ErrGlobalParameter = errors.NewStd("global parameter")

	// ErrParameterNotFound is returned when an event has no parameter with the given name
	ErrParameterNotFound = errors.NewStd("parameter not found")

	// ErrManagerClosed is returned by operations on a closed Manager
	ErrManagerClosed = errors.NewStd("audio manager closed")

	// ErrBankNotLoaded is returned when unloading a bank the manager did not load
	ErrBankNotLoaded = errors.NewStd("bank not loaded")
)

func stateError(err error, op string) error {
	return errors.New(err).
		Component(ComponentAudioCore).
		Category(errors.CategoryState).
		Context("operation", op).
		Build()
}
