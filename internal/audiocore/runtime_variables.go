package audiocore

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pointaudio/pointaudio/internal/errors"
)

// GlobalParameterSpec is one global parameter entry of a scene. Either
// Value or Expr is used; Expr is a script expression over Vars.
type GlobalParameterSpec struct {
	Name            string   `yaml:"name"`
	Value           float32  `yaml:"value"`
	Expr            string   `yaml:"expr"`
	Vars            []string `yaml:"vars"`
	IgnoreSeekSpeed bool     `yaml:"ignoreSeekSpeed"`
}

// SceneSpec lists what a scene needs when it loads.
type SceneSpec struct {
	Name             string                `yaml:"name"`
	GlobalParameters []GlobalParameterSpec `yaml:"globalParameters"`
	GlobalAudios     []string              `yaml:"globalAudios"`
}

type runtimeFile struct {
	PlayOnStart []string    `yaml:"playOnStart"`
	Scenes      []SceneSpec `yaml:"scenes"`
}

type sceneDependency struct {
	name   string
	params []*ParamField
	audios []string
}

// RuntimeVariables holds events played at startup and per-scene global
// parameters and audios.
type RuntimeVariables struct {
	playOnStart []string
	scenes      []sceneDependency

	mu           sync.Mutex
	globalAudios []Audio
}

// LoadRuntimeVariables reads a runtime-variables YAML file. variables
// supplies values for parameter expressions and may be nil.
func LoadRuntimeVariables(path string, variables func() map[string]any) (*RuntimeVariables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading runtime variables: %w", err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	rv, err := ParseRuntimeVariables(data, variables)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	return rv, nil
}

// ParseRuntimeVariables decodes runtime variables and compiles every
// parameter expression.
func ParseRuntimeVariables(data []byte, variables func() map[string]any) (*RuntimeVariables, error) {
	var f runtimeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing runtime variables: %w", err)
	}

	rv := &RuntimeVariables{playOnStart: f.PlayOnStart}
	for _, sc := range f.Scenes {
		if sc.Name == "" {
			return nil, fmt.Errorf("scene without a name")
		}
		dep := sceneDependency{name: sc.Name, audios: sc.GlobalAudios}
		for _, p := range sc.GlobalParameters {
			field, err := p.field(variables)
			if err != nil {
				return nil, fmt.Errorf("scene %q: %w", sc.Name, err)
			}
			dep.params = append(dep.params, field)
		}
		rv.scenes = append(rv.scenes, dep)
	}
	return rv, nil
}

func (p GlobalParameterSpec) field(variables func() map[string]any) (*ParamField, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("global parameter without a name")
	}

	var source ValueSource = ConstantValue(p.Value)
	if p.Expr != "" {
		expr, err := NewExpressionValue(p.Expr, variables, p.Vars...)
		if err != nil {
			return nil, err
		}
		source = expr
	}

	return &ParamField{
		Name:            p.Name,
		Global:          true,
		IgnoreSeekSpeed: p.IgnoreSeekSpeed,
		Source:          source,
	}, nil
}

// PlayOnStart returns the events Initialize plays.
func (rv *RuntimeVariables) PlayOnStart() []string {
	return slices.Clone(rv.playOnStart)
}

// Scenes returns the configured scene names.
func (rv *RuntimeVariables) Scenes() []string {
	names := make([]string, 0, len(rv.scenes))
	for _, sc := range rv.scenes {
		names = append(names, sc.name)
	}
	return names
}

// Initialize plays every play-on-start event. Failures are logged and
// returned together; the remaining events still play.
func (rv *RuntimeVariables) Initialize(m *Manager) error {
	var errs []error
	for _, path := range rv.playOnStart {
		a, err := m.GetAudio(path)
		if err == nil {
			err = a.Play()
		}
		if err != nil {
			m.logger.Error("failed to play startup audio", "event", path, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartSceneDependencies applies the global parameters and plays the
// global audios configured for scene. Played audios are kept until
// StopGlobalAudios.
func (rv *RuntimeVariables) StartSceneDependencies(m *Manager, scene string) error {
	var errs []error
	for _, sc := range rv.scenes {
		if sc.name != scene {
			continue
		}

		for _, field := range sc.params {
			ref, err := field.ResolveGlobal(m)
			if err == nil {
				err = m.SetGlobalParameterRef(ref)
			}
			if err != nil {
				m.logger.Error("failed to apply scene parameter",
					"scene", scene,
					"param", field.Name,
					"error", err)
				errs = append(errs, err)
			}
		}

		for _, path := range sc.audios {
			a, err := m.GetAudio(path)
			if err == nil {
				err = a.Play()
			}
			if err != nil {
				m.logger.Error("failed to play scene audio",
					"scene", scene,
					"event", path,
					"error", err)
				errs = append(errs, err)
				continue
			}
			rv.mu.Lock()
			rv.globalAudios = append(rv.globalAudios, a)
			rv.mu.Unlock()
		}
	}

	m.logger.Info("scene dependencies started", "scene", scene)
	return errors.Join(errs...)
}

// GlobalAudios returns the audios started by scenes.
func (rv *RuntimeVariables) GlobalAudios() []Audio {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	return slices.Clone(rv.globalAudios)
}

// StopGlobalAudios stops and forgets every scene audio.
func (rv *RuntimeVariables) StopGlobalAudios() error {
	rv.mu.Lock()
	audios := rv.globalAudios
	rv.globalAudios = nil
	rv.mu.Unlock()

	var errs []error
	for i := range audios {
		if err := audios[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
