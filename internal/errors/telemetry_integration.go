// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// ErrorHook is called for every reported error, after telemetry
type ErrorHook func(ee *EnhancedError)

var (
	reporterMu         sync.RWMutex
	telemetryReporter  TelemetryReporter
	errorHooks         []ErrorHook
	hasActiveReporting atomic.Bool
)

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		title := generateErrorTitle(ee)
		component := ee.GetComponent()

		scope.SetTag("error_title", title)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle creates a grouping title from component, category and operation
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string

	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, titleCase(c))
	}
	if cat := formatCategoryForTitle(ee.Category); cat != "" {
		parts = append(parts, cat)
	}
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		words := strings.Fields(strings.ReplaceAll(op, "_", " "))
		for i, w := range words {
			words[i] = titleCase(w)
		}
		parts = append(parts, strings.Join(words, " "))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryFileParsing:
		return "File Parsing Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryBank:
		return "Bank Error"
	case CategoryParameter:
		return "Parameter Error"
	case CategoryStaleAudio:
		return "Stale Handle"
	case CategorySystem:
		return "System Error"
	default:
		return string(category)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryParameter, CategoryStaleAudio, CategoryAudio, CategoryAudioSource:
		return sentry.LevelWarning
	case CategoryFileIO, CategoryHTTP:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	telemetryReporter = reporter
	updateActiveReporting()
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return telemetryReporter
}

// AddErrorHook registers a hook invoked for every built error while reporting is active
func AddErrorHook(hook ErrorHook) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	errorHooks = append(errorHooks, hook)
	updateActiveReporting()
}

// ClearErrorHooks removes all registered hooks
func ClearErrorHooks() {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	errorHooks = nil
	updateActiveReporting()
}

// updateActiveReporting must be called with reporterMu held
func updateActiveReporting() {
	active := len(errorHooks) > 0 || (telemetryReporter != nil && telemetryReporter.IsEnabled())
	hasActiveReporting.Store(active)
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := telemetryReporter
	hooks := errorHooks
	reporterMu.RUnlock()

	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
	for _, hook := range hooks {
		hook(ee)
	}
}

// PrivacyScrubber is a function type for privacy scrubbing
type PrivacyScrubber func(string) string

var privacyScrubber atomic.Pointer[PrivacyScrubber]

// SetPrivacyScrubber sets the global privacy scrubbing function
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	privacyScrubber.Store(&scrubber)
}

var (
	urlQueryRegex = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	homePathRegex = regexp.MustCompile(`(/home/|/Users/|C:\\Users\\)[^/\\\s]+`)
	secretRegex   = regexp.MustCompile(`(?i)(dsn|token|key)[=:]\S+`)
)

// scrubMessage applies privacy protection to error messages
func scrubMessage(message string) string {
	if p := privacyScrubber.Load(); p != nil && *p != nil {
		return (*p)(message)
	}
	return basicScrub(message)
}

// basicScrub removes URL query strings, secrets and user home directories
func basicScrub(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = secretRegex.ReplaceAllString(scrubbed, "$1=[REDACTED]")
	scrubbed = homePathRegex.ReplaceAllString(scrubbed, "${1}[USER]")
	return scrubbed
}
