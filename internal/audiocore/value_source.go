package audiocore

import (
	"fmt"
	"sync"

	"github.com/d5/tengo/v2"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
)

// ValueSource supplies the value of a ParamField when it is resolved.
type ValueSource interface {
	Value() (float32, error)
}

// ConstantValue always yields the same value.
type ConstantValue float32

func (c ConstantValue) Value() (float32, error) {
	return float32(c), nil
}

// AccessorValue reads the value from a host-provided function.
type AccessorValue func() float32

func (f AccessorValue) Value() (float32, error) {
	if f == nil {
		return 0, errors.Newf("nil accessor").
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}
	return f(), nil
}

// BoolAccessorValue maps a host flag to 1 or 0.
type BoolAccessorValue func() bool

func (f BoolAccessorValue) Value() (float32, error) {
	if f == nil {
		return 0, errors.Newf("nil accessor").
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}
	if f() {
		return 1, nil
	}
	return 0, nil
}

const expressionResult = "__value"

// ExpressionValue evaluates a tengo expression over named host variables.
// The expression is compiled once; each Value call binds the current
// variables and runs it.
type ExpressionValue struct {
	expr      string
	names     []string
	variables func() map[string]any

	mu       sync.Mutex
	compiled *tengo.Compiled
}

// NewExpressionValue compiles expr. names lists every variable the
// expression may read; variables is called on each evaluation and missing
// names evaluate as 0.
func NewExpressionValue(expr string, variables func() map[string]any, names ...string) (*ExpressionValue, error) {
	script := tengo.NewScript([]byte(expressionResult + " := (" + expr + ")"))
	for _, name := range names {
		if err := script.Add(name, 0); err != nil {
			return nil, expressionError(expr, err)
		}
	}

	compiled, err := script.Compile()
	if err != nil {
		return nil, expressionError(expr, err)
	}

	return &ExpressionValue{
		expr:      expr,
		names:     names,
		variables: variables,
		compiled:  compiled,
	}, nil
}

func (e *ExpressionValue) Value() (float32, error) {
	var vars map[string]any
	if e.variables != nil {
		vars = e.variables()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, name := range e.names {
		v, ok := vars[name]
		if !ok {
			v = 0
		}
		if err := e.compiled.Set(name, scriptValue(v)); err != nil {
			return 0, expressionError(e.expr, err)
		}
	}
	if err := e.compiled.Run(); err != nil {
		return 0, expressionError(e.expr, err)
	}

	switch v := e.compiled.Get(expressionResult).Value().(type) {
	case int64:
		return float32(v), nil
	case float64:
		return float32(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, expressionError(e.expr, fmt.Errorf("result %T is not numeric", v))
	}
}

// scriptValue widens host numbers to the types the script runtime accepts.
func scriptValue(v any) any {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case uint:
		return int64(n)
	default:
		return v
	}
}

func (e *ExpressionValue) String() string {
	return e.expr
}

func expressionError(expr string, err error) error {
	return errors.New(fmt.Errorf("parameter expression %q: %w", expr, err)).
		Component(ComponentAudioCore).
		Category(errors.CategoryValidation).
		Context("expression", expr).
		Build()
}

// ParamField is a configured parameter whose value comes from a ValueSource.
// Descriptions are resolved on first use and kept.
type ParamField struct {
	Name            string
	Global          bool
	IgnoreSeekSpeed bool
	Source          ValueSource

	mu       sync.Mutex
	resolved map[studio.GUID]studio.ParameterDescription
	global   *studio.ParameterDescription
}

// Resolve builds the ParamReference for an event-local field on desc.
func (f *ParamField) Resolve(desc studio.EventDescription) (ParamReference, error) {
	if f.Global {
		return ParamReference{}, errors.Newf("parameter field %q is global", f.Name).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}

	value, err := f.value()
	if err != nil {
		return ParamReference{}, err
	}

	f.mu.Lock()
	pd, ok := f.resolved[desc.ID()]
	f.mu.Unlock()

	if !ok {
		ref, err := NewParamReference(desc, f.Name, value)
		if err != nil {
			return ParamReference{}, err
		}
		pd = ref.Description

		f.mu.Lock()
		if f.resolved == nil {
			f.resolved = make(map[studio.GUID]studio.ParameterDescription)
		}
		f.resolved[desc.ID()] = pd
		f.mu.Unlock()
	}

	return ParamReference{Description: pd, Value: value, IgnoreSeekSpeed: f.IgnoreSeekSpeed}, nil
}

// ResolveGlobal builds the ParamReference for a global field.
func (f *ParamField) ResolveGlobal(m *Manager) (ParamReference, error) {
	if !f.Global {
		return ParamReference{}, errors.Newf("parameter field %q is not global", f.Name).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}

	value, err := f.value()
	if err != nil {
		return ParamReference{}, err
	}

	f.mu.Lock()
	cached := f.global
	f.mu.Unlock()

	if cached == nil {
		ref, err := m.GlobalParamReference(f.Name, value)
		if err != nil {
			return ParamReference{}, err
		}
		f.mu.Lock()
		f.global = &ref.Description
		f.mu.Unlock()
		cached = &ref.Description
	}

	return ParamReference{Description: *cached, Value: value, IgnoreSeekSpeed: f.IgnoreSeekSpeed, Global: true}, nil
}

// Apply resolves the field and queues it on a, or sets it globally on m.
func (f *ParamField) Apply(m *Manager, a *Audio) error {
	if f.Global {
		ref, err := f.ResolveGlobal(m)
		if err != nil {
			return err
		}
		return m.SetGlobalParameterRef(ref)
	}
	ref, err := f.Resolve(a.EventDescription())
	if err != nil {
		return err
	}
	return a.SetParameterRef(ref)
}

func (f *ParamField) value() (float32, error) {
	if f.Source == nil {
		return 0, nil
	}
	return f.Source.Value()
}
