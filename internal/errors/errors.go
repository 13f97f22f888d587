// Package errors provides the error builder used across pointaudio: errors
// carry a component, a category and context, and are optionally reported to
// telemetry when built.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrorCategory groups errors for filtering and telemetry.
type ErrorCategory string

// CategorizedError is implemented by errors that know their own category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryFileParsing   ErrorCategory = "file-parsing"
	CategoryAudio         ErrorCategory = "audio-processing"
	CategoryAudioSource   ErrorCategory = "audio-source"
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryGeneric       ErrorCategory = "generic"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryState         ErrorCategory = "state"
	CategoryLimit         ErrorCategory = "limit"

	CategoryWorker     ErrorCategory = "worker-pool"     // job scheduler
	CategoryParameter  ErrorCategory = "parameter"       // middleware parameter writes
	CategoryStaleAudio ErrorCategory = "stale-handle"    // access through a reclaimed handle
	CategoryBank       ErrorCategory = "bank-management" // bank load and unload
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

const modulePath = "github.com/pointaudio/pointaudio/internal/errors"

// EnhancedError wraps an error with component, category and context.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	mu        sync.RWMutex
	component string
	reported  bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, anything else through the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component the error was raised in.
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.component
}

// GetCategory returns the category as a string.
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported records that telemetry has seen this error.
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported reports whether telemetry has seen this error.
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building an enhanced error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an enhanced error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the component raising the error. Without it the
// component is detected from the call stack when telemetry is active.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key to the error context.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// FileContext records the kind and extension of a file, never its path.
func (eb *ErrorBuilder) FileContext(path string, size int64) *ErrorBuilder {
	if path != "" {
		kind := "relative-path"
		if filepath.IsAbs(path) {
			kind = "absolute-path"
		}
		eb.Context("file_type", kind)
		eb.Context("file_extension", fileExtension(path))
	}
	if size > 0 {
		eb.Context("file_size_category", sizeCategory(size))
	}
	return eb
}

// Build creates the error and hands it to telemetry when reporting is active.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}

	// component detection and reporting only run with telemetry active
	if !hasActiveReporting.Load() {
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
		if ee.Category == "" {
			ee.Category = CategoryGeneric
		}
		return ee
	}

	if ee.component == "" {
		ee.component = callerComponent()
	}
	if ee.Category == "" {
		ee.Category = detectCategory(eb.err, ee.component)
	}
	reportToTelemetry(ee)
	return ee
}

// components maps package path fragments to component names.
var components = []struct{ pattern, name string }{
	{"internal/audiocore", "audiocore"},
	{"internal/jobs", "jobs"},
	{"studio/simstudio", "studio.sim"},
	{"studio/malgostudio", "studio.malgo"},
	{"internal/studio", "studio"},
	{"internal/conf", "configuration"},
	{"internal/diagnostics", "diagnostics"},
	{"internal/engine", "engine"},
	{"pointaudio/cmd", "cli"},
}

// callerComponent walks the stack above this package and returns the first
// frame that maps to a known component.
func callerComponent() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, modulePath) {
			for _, c := range components {
				if strings.Contains(frame.Function, c.pattern) {
					return c.name
				}
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// detectCategory derives a category for errors built without one.
func detectCategory(err error, component string) ErrorCategory {
	var catErr CategorizedError
	if As(err, &catErr) {
		return catErr.ErrorCategory()
	}
	var enhanced *EnhancedError
	if As(err, &enhanced) && enhanced.Category != "" {
		return enhanced.Category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "bank"):
		return CategoryBank
	case strings.Contains(msg, "parameter"):
		return CategoryParameter
	case strings.Contains(msg, "file") || strings.Contains(msg, "open"):
		return CategoryFileIO
	case strings.Contains(msg, "invalid"):
		return CategoryValidation
	}

	switch component {
	case "audiocore":
		return CategoryAudio
	case "studio", "studio.sim", "studio.malgo":
		return CategoryAudioSource
	case "jobs":
		return CategoryWorker
	case "configuration":
		return CategoryConfiguration
	}
	return CategoryGeneric
}

func fileExtension(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "none"
	}
	return strings.ToLower(ext)
}

func sizeCategory(size int64) string {
	switch {
	case size < 1<<10:
		return "tiny"
	case size < 1<<20:
		return "small"
	case size < 10<<20:
		return "medium"
	case size < 100<<20:
		return "large"
	default:
		return "very-large"
	}
}

// FileError wraps a file I/O failure.
func FileError(err error, path string, size int64) *EnhancedError {
	return New(err).
		Category(CategoryFileIO).
		FileContext(path, size).
		Build()
}

// NewStd creates a plain error, for package sentinels.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory reports whether err wraps an EnhancedError of category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhanced *EnhancedError
	return As(err, &enhanced) && enhanced.Category == category
}

// IsNotFound reports whether err wraps a not-found EnhancedError.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
