package audiocore

import (
	"fmt"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
)

// ParamReference is a resolved parameter and the value to write to it.
type ParamReference struct {
	Description     studio.ParameterDescription
	Value           float32
	IgnoreSeekSpeed bool
	Global          bool
}

// NewParamReference resolves an event-local parameter by name.
func NewParamReference(desc studio.EventDescription, name string, value float32) (ParamReference, error) {
	if desc == nil || !desc.IsValid() {
		return ParamReference{}, errors.New(fmt.Errorf("%w: parameter %q on unresolved event", ErrInvalidEvent, name)).
			Component(ComponentAudioCore).
			Category(errors.CategoryNotFound).
			Context("parameter", name).
			Build()
	}

	pd, err := desc.ParameterDescriptionByName(name)
	if err != nil {
		return ParamReference{}, errors.New(fmt.Errorf("%w: %q on %s: %w", ErrParameterNotFound, name, desc.Path(), err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryNotFound).
			Context("parameter", name).
			Context("event", desc.Path()).
			Build()
	}

	return ParamReference{Description: pd, Value: value}, nil
}

// Name returns the parameter name.
func (p ParamReference) Name() string {
	return p.Description.Name
}

// ID returns the middleware parameter identity.
func (p ParamReference) ID() studio.ParameterID {
	return p.Description.ID
}

// Equal reports whether p and other address the same parameter. Values are
// not compared.
func (p ParamReference) Equal(other ParamReference) bool {
	return p.MatchesID(other.Description.ID) && p.Global == other.Global
}

// MatchesID reports whether p addresses id.
func (p ParamReference) MatchesID(id studio.ParameterID) bool {
	return p.Description.ID.Data1 == id.Data1 && p.Description.ID.Data2 == id.Data2
}

// MatchesName reports whether p's parameter is called name.
func (p ParamReference) MatchesName(name string) bool {
	return p.Description.Name == name
}

func (p ParamReference) String() string {
	return fmt.Sprintf("%s: %g", p.Description.Name, p.Value)
}
