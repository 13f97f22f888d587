package studio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pointaudio/pointaudio/internal/errors"
)

// parameterNamespace seeds deterministic parameter IDs derived from names.
var parameterNamespace = uuid.MustParse("6f1c3b4e-8a52-4c1f-9d1e-2a7c5e0b9f41")

// Bank is a YAML manifest describing the events a middleware can resolve.
type Bank struct {
	Name             string                `yaml:"name"`
	Events           []EventDefinition     `yaml:"events"`
	GlobalParameters []ParameterDefinition `yaml:"globalParameters"`

	dir string
}

// EventDefinition describes one event inside a bank.
type EventDefinition struct {
	Path           string                `yaml:"path"`
	ID             string                `yaml:"id"`
	Is3D           bool                  `yaml:"is3d"`
	File           string                `yaml:"file"`
	Length         time.Duration         `yaml:"length"`
	Loop           bool                  `yaml:"loop"`
	Fadeout        time.Duration         `yaml:"fadeout"`
	MinDistance    float32               `yaml:"minDistance"`
	MaxDistance    float32               `yaml:"maxDistance"`
	Parameters     []ParameterDefinition `yaml:"parameters"`
	UserProperties map[string]string     `yaml:"userProperties"`
}

// ParameterDefinition describes a local or global parameter.
type ParameterDefinition struct {
	Name    string  `yaml:"name"`
	Min     float32 `yaml:"min"`
	Max     float32 `yaml:"max"`
	Default float32 `yaml:"default"`
}

// LoadBankManifest reads dir/<name>.yaml.
func LoadBankManifest(dir, name string) (*Bank, error) {
	path := filepath.Join(dir, name+".yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(fmt.Errorf("bank %q: %w", name, ErrNotFound)).
				Category(errors.CategoryBank).
				FileContext(path, 0).
				Build()
		}
		return nil, errors.FileError(err, path, 0)
	}

	return ParseBank(data, dir, name)
}

// ParseBank decodes and validates a bank manifest. dir anchors relative sample paths.
func ParseBank(data []byte, dir, name string) (*Bank, error) {
	var bank Bank
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("bank", name).
			Build()
	}
	if bank.Name == "" {
		bank.Name = name
	}
	bank.dir = dir

	if err := bank.Validate(); err != nil {
		return nil, err
	}
	return &bank, nil
}

// Validate checks that paths and GUIDs are unique and well formed.
func (b *Bank) Validate() error {
	var errs []error
	paths := make(map[string]bool, len(b.Events))
	ids := make(map[uuid.UUID]bool, len(b.Events))

	for i, ev := range b.Events {
		if !strings.HasPrefix(ev.Path, "event:/") {
			errs = append(errs, fmt.Errorf("event %d: path %q must start with event:/", i, ev.Path))
		}
		if paths[ev.Path] {
			errs = append(errs, fmt.Errorf("event %d: duplicate path %q", i, ev.Path))
		}
		paths[ev.Path] = true

		id, err := uuid.Parse(ev.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %q: invalid id %q: %w", ev.Path, ev.ID, err))
			continue
		}
		if ids[id] {
			errs = append(errs, fmt.Errorf("event %q: duplicate id %s", ev.Path, id))
		}
		ids[id] = true

		for _, p := range ev.Parameters {
			if err := p.validate(); err != nil {
				errs = append(errs, fmt.Errorf("event %q: %w", ev.Path, err))
			}
		}
	}

	for _, p := range b.GlobalParameters {
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("global: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.New(errors.Join(errs...)).
		Category(errors.CategoryValidation).
		Context("bank", b.Name).
		Build()
}

func (p ParameterDefinition) validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter without name")
	}
	if p.Max < p.Min {
		return fmt.Errorf("parameter %q: max %v below min %v", p.Name, p.Max, p.Min)
	}
	if p.Default < p.Min || p.Default > p.Max {
		return fmt.Errorf("parameter %q: default %v outside [%v, %v]", p.Name, p.Default, p.Min, p.Max)
	}
	return nil
}

// GUID returns the parsed event id. Only valid after Validate succeeded.
func (e EventDefinition) GUID() GUID {
	return uuid.MustParse(e.ID)
}

// SamplePath resolves the event sample file relative to the bank directory.
func (b *Bank) SamplePath(e EventDefinition) string {
	if e.File == "" || filepath.IsAbs(e.File) {
		return e.File
	}
	return filepath.Join(b.dir, e.File)
}

// Describe builds the parameter description for p.
func (p ParameterDefinition) Describe(global bool) ParameterDescription {
	return ParameterDescription{
		Name:         p.Name,
		ID:           ParameterIDFor(p.Name, global),
		Minimum:      p.Min,
		Maximum:      p.Max,
		DefaultValue: p.Default,
		Global:       global,
	}
}

// ParameterIDFor derives a stable ID from a parameter name so rebuilt banks
// keep their parameter identities.
func ParameterIDFor(name string, global bool) ParameterID {
	scope := "local:"
	if global {
		scope = "global:"
	}
	u := uuid.NewSHA1(parameterNamespace, []byte(scope+name))
	return ParameterID{
		Data1: binary.BigEndian.Uint32(u[0:4]),
		Data2: binary.BigEndian.Uint32(u[4:8]),
	}
}

// Clamp restricts v to the parameter range.
func (d ParameterDescription) Clamp(v float32) float32 {
	if d.Maximum <= d.Minimum {
		return v
	}
	return min(max(v, d.Minimum), d.Maximum)
}
