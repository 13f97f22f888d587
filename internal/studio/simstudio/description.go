package simstudio

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pointaudio/pointaudio/internal/studio"
)

type description struct {
	sys    *System
	bank   string
	def    studio.EventDefinition
	id     studio.GUID
	params map[string]studio.ParameterDescription
	valid  atomic.Bool
}

var _ studio.EventDescription = (*description)(nil)

func newDescription(s *System, bank string, def studio.EventDefinition) *description {
	id, err := uuid.Parse(def.ID)
	if err != nil {
		id = uuid.NewSHA1(eventNamespace, []byte(def.Path))
	}

	d := &description{
		sys:    s,
		bank:   bank,
		def:    def,
		id:     id,
		params: make(map[string]studio.ParameterDescription, len(def.Parameters)),
	}
	for _, p := range def.Parameters {
		d.params[p.Name] = p.Describe(false)
	}
	d.valid.Store(true)
	return d
}

func (d *description) ID() studio.GUID       { return d.id }
func (d *description) Path() string          { return d.def.Path }
func (d *description) Is3D() bool            { return d.def.Is3D }
func (d *description) IsValid() bool         { return d.valid.Load() }
func (d *description) Length() time.Duration { return d.def.Length }

func (d *description) ParameterDescriptionByName(name string) (studio.ParameterDescription, error) {
	p, ok := d.params[name]
	if !ok {
		return studio.ParameterDescription{}, fmt.Errorf("parameter %q on %s: %w", name, d.def.Path, studio.ErrNotFound)
	}
	return p, nil
}

func (d *description) UserProperties() []studio.UserProperty {
	props := make([]studio.UserProperty, 0, len(d.def.UserProperties))
	for _, k := range slices.Sorted(maps.Keys(d.def.UserProperties)) {
		props = append(props, studio.UserProperty{Name: k, Value: d.def.UserProperties[k]})
	}
	return props
}

func (d *description) CreateInstance() (studio.EventInstance, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("event %s: %w", d.def.Path, studio.ErrInvalidHandle)
	}
	return d.sys.newInstance(d), nil
}

func (d *description) paramByID(id studio.ParameterID) (studio.ParameterDescription, bool) {
	for _, p := range d.params {
		if p.ID == id {
			return p, true
		}
	}
	return studio.ParameterDescription{}, false
}
