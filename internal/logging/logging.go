package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pointaudio/pointaudio/internal/conf"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu                  sync.RWMutex
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger
	structuredLevel     = new(slog.LevelVar)
	humanReadableLevel  = new(slog.LevelVar)
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		label, exists := levelNames[level]
		if !exists {
			label = level.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

// Init initializes the logging system with structured and human-readable loggers.
// Structured logs go to stdout as JSON, human-readable logs to stderr as text.
func Init() {
	structuredLevel.Set(slog.LevelDebug)
	humanReadableLevel.Set(slog.LevelInfo)
	SetOutput(os.Stdout, os.Stderr)
}

// SetLevel sets the minimum logging level for both loggers.
func SetLevel(level slog.Level) {
	structuredLevel.Set(level)
	humanReadableLevel.Set(level)
}

// SetOutput redirects both loggers, keeping their current levels.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	structuredLogger = slog.New(slog.NewJSONHandler(structuredOutput, &slog.HandlerOptions{
		Level:       structuredLevel,
		ReplaceAttr: replaceLevelName,
	}))
	humanReadableLogger = slog.New(slog.NewTextHandler(humanReadableOutput, &slog.HandlerOptions{
		Level:       humanReadableLevel,
		ReplaceAttr: replaceLevelName,
	}))

	slog.SetDefault(structuredLogger)
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
// Returns nil if Init() has not been called.
func HumanReadable() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return humanReadableLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// Returns nil if Init() has not been called.
func ForService(serviceName string) *slog.Logger {
	base := Structured()
	if base == nil {
		return nil
	}
	return base.With("service", serviceName)
}

// AddStructuredSink tees the structured logger into l. Loggers obtained
// from ForService afterwards write to both.
func AddStructuredSink(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	structuredLogger = Tee(structuredLogger, l)
	slog.SetDefault(structuredLogger)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

// NewFileLogger creates a JSON slog.Logger writing to filePath with lumberjack rotation
// derived from the given log settings. The returned function closes the writer.
func NewFileLogger(filePath, serviceName string, level slog.Level, logConf conf.LogConfig) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	writer := &lumberjack.Logger{
		Filename: filePath,
		MaxSize:  100,
		MaxAge:   28,
	}
	writer.MaxBackups = 3

	if mb := int(logConf.MaxSize / (1024 * 1024)); mb > 0 {
		writer.MaxSize = mb
	}

	switch logConf.Rotation {
	case conf.RotationDaily:
		writer.MaxAge = 1
		writer.MaxBackups = 30
	case conf.RotationWeekly:
		writer.MaxAge = 7
		writer.MaxBackups = 4
	case conf.RotationSize:
	default:
		slog.Warn("Unknown log rotation type in config, using size-based defaults", "configuredType", logConf.Rotation)
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelName,
	})

	return slog.New(handler).With("service", serviceName), writer.Close, nil
}

// Tee returns a logger that writes every record to both loggers.
func Tee(a, b *slog.Logger) *slog.Logger {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return slog.New(teeHandler{a.Handler(), b.Handler()})
}

type teeHandler struct {
	a, b slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return t.a.Enabled(ctx, l) || t.b.Enabled(ctx, l)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if t.a.Enabled(ctx, r.Level) {
		err = t.a.Handle(ctx, r.Clone())
	}
	if t.b.Enabled(ctx, r.Level) {
		if err2 := t.b.Handle(ctx, r.Clone()); err == nil {
			err = err2
		}
	}
	return err
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{t.a.WithAttrs(attrs), t.b.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{t.a.WithGroup(name), t.b.WithGroup(name)}
}
