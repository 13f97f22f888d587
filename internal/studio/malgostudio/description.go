package malgostudio

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pointaudio/pointaudio/internal/studio"
)

type description struct {
	sys    *System
	bank   *studio.Bank
	def    studio.EventDefinition
	id     studio.GUID
	params map[string]studio.ParameterDescription
	valid  atomic.Bool

	sampleMu sync.Mutex
	sample   *Sample
}

var _ studio.EventDescription = (*description)(nil)

func newDescription(s *System, bank *studio.Bank, def studio.EventDefinition) *description {
	d := &description{
		sys:    s,
		bank:   bank,
		def:    def,
		id:     def.GUID(),
		params: make(map[string]studio.ParameterDescription, len(def.Parameters)),
	}
	for _, p := range def.Parameters {
		d.params[p.Name] = p.Describe(false)
	}
	d.valid.Store(true)
	return d
}

func (d *description) ID() studio.GUID { return d.id }
func (d *description) Path() string    { return d.def.Path }
func (d *description) Is3D() bool      { return d.def.Is3D }
func (d *description) IsValid() bool   { return d.valid.Load() }

// Length is the decoded sample length when known, else the manifest length.
func (d *description) Length() time.Duration {
	d.sampleMu.Lock()
	defer d.sampleMu.Unlock()
	if d.sample != nil {
		return d.sample.Duration()
	}
	return d.def.Length
}

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
	sample, err := d.loadSample()
	if err != nil {
		return nil, err
	}
	return d.sys.newInstance(d, sample), nil
}

// loadSample decodes the event's file on first use. Events without a file
// play silence for their manifest length.
func (d *description) loadSample() (*Sample, error) {
	d.sampleMu.Lock()
	defer d.sampleMu.Unlock()

	if d.sample != nil || d.def.File == "" {
		return d.sample, nil
	}
	sample, err := DecodeFile(d.bank.SamplePath(d.def), d.sys.cfg.SampleRate, d.sys.cfg.Channels)
	if err != nil {
		return nil, err
	}
	d.sample = sample
	return sample, nil
}

func (d *description) paramByID(id studio.ParameterID) (studio.ParameterDescription, bool) {
	for _, p := range d.params {
		if p.ID == id {
			return p, true
		}
	}
	return studio.ParameterDescription{}, false
}

// distances returns the attenuation range, falling back to 1..20 units.
func (d *description) distances() (minDistance, maxDistance float32) {
	minDistance, maxDistance = d.def.MinDistance, d.def.MaxDistance
	if minDistance <= 0 {
		minDistance = 1
	}
	if maxDistance <= minDistance {
		maxDistance = max(20, minDistance*2)
	}
	return minDistance, maxDistance
}
