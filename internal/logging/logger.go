// Package logging provides the printf-style logger used across shipment.
// Lines are sanitized and forwarded to the structured observability logger.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"shipment/internal/observability"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var defaultBase atomic.Pointer[observability.Logger]

// SetDefault installs the structured logger behind NewComponentLogger.
// Until it is called component loggers discard their output.
func SetDefault(base *observability.Logger) {
	defaultBase.Store(base)
}

// NewComponentLogger returns a logger tagged with component that writes
// through whatever default is installed at the time of each call.
func NewComponentLogger(component string) Logger {
	return &printfLogger{component: component}
}

// FromObservabilityWithComponent binds a printf logger to base.
func FromObservabilityWithComponent(base *observability.Logger, component string) Logger {
	if base == nil {
		return Nop()
	}
	if component != "" {
		base = base.With("component", component)
	}
	return &printfLogger{base: base}
}

type printfLogger struct {
	base      *observability.Logger // nil means the package default
	component string
}

func (l *printfLogger) Debug(format string, args ...any) { l.logf(slog.LevelDebug, format, args) }
func (l *printfLogger) Info(format string, args ...any)  { l.logf(slog.LevelInfo, format, args) }
func (l *printfLogger) Warn(format string, args ...any)  { l.logf(slog.LevelWarn, format, args) }
func (l *printfLogger) Error(format string, args ...any) { l.logf(slog.LevelError, format, args) }

func (l *printfLogger) logf(level slog.Level, format string, args []any) {
	base := l.base
	if base == nil {
		base = defaultBase.Load()
		if base == nil {
			return
		}
		if l.component != "" {
			base = base.With("component", l.component)
		}
	}
	base.Log(context.Background(), level, Sanitize(fmt.Sprintf(format, args...)))
}
