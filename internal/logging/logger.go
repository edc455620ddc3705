package logging

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"chatgem/internal/observability"
)

// Logger is the printf-style contract the ledger services log through.
// Services never import the zap-backed observability logger directly.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level identifies the severity a formatted line is emitted at.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// emitLogger adapts an emit function to Logger. Formatting happens once,
// before the backend sees the message.
type emitLogger struct {
	emit func(Level, string)
}

func (l emitLogger) Debug(format string, args ...any) {
	l.emit(LevelDebug, fmt.Sprintf(format, args...))
}

func (l emitLogger) Info(format string, args ...any) {
	l.emit(LevelInfo, fmt.Sprintf(format, args...))
}

func (l emitLogger) Warn(format string, args ...any) {
	l.emit(LevelWarn, fmt.Sprintf(format, args...))
}

func (l emitLogger) Error(format string, args ...any) {
	l.emit(LevelError, fmt.Sprintf(format, args...))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger { return nopLogger{} }

// IsNil reports whether logger is nil, including a typed nil behind the interface.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	switch v := reflect.ValueOf(logger); v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return v.IsNil()
	}
	return false
}

func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var backend atomic.Pointer[observability.Logger]

// SetDefault installs the process-wide zap backend. nil restores discard.
func SetDefault(logger *observability.Logger) {
	backend.Store(logger)
}

// Default returns the installed backend or a nop observability logger.
func Default() *observability.Logger {
	if logger := backend.Load(); logger != nil {
		return logger
	}
	return observability.NewNopLogger()
}

// NewComponentLogger returns a logger tagged with component that writes to
// whatever backend is installed at call time, so package-level loggers
// created before SetDefault still reach the configured sink.
func NewComponentLogger(component string) Logger {
	return emitLogger{emit: func(level Level, msg string) {
		emitTo(Default(), component, level, msg)
	}}
}

// FromObservabilityWithComponent pins a logger to a specific backend.
func FromObservabilityWithComponent(logger *observability.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	if component != "" {
		logger = logger.With("component", component)
	}
	return emitLogger{emit: func(level Level, msg string) {
		emitTo(logger, "", level, msg)
	}}
}

func emitTo(logger *observability.Logger, component string, level Level, msg string) {
	if component != "" {
		logger = logger.With("component", component)
	}
	switch level {
	case LevelDebug:
		logger.Debug(msg)
	case LevelInfo:
		logger.Info(msg)
	case LevelWarn:
		logger.Warn(msg)
	default:
		logger.Error(msg)
	}
}
