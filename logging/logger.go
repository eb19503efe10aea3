// Package logging defines the logger contract shared by every formflow
// component and backs it with go-logger.
package logging

import "context"

// Logger is the runtime logging contract.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger extends Logger with structured-field support.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

// Normalize returns logger, or an info-level console logger on stdout when
// it is nil.
func Normalize(logger Logger) Logger {
	if logger == nil {
		return New("info", "console", nil)
	}
	return logger
}

// WithFields attaches fields when the logger supports them.
func WithFields(logger Logger, fields map[string]any) Logger {
	logger = Normalize(logger)
	if fl, ok := logger.(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}

// Nop discards everything.
type Nop struct{}

func (Nop) Trace(string, ...any)                 {}
func (Nop) Debug(string, ...any)                 {}
func (Nop) Info(string, ...any)                  {}
func (Nop) Warn(string, ...any)                  {}
func (Nop) Error(string, ...any)                 {}
func (Nop) Fatal(string, ...any)                 {}
func (n Nop) WithContext(context.Context) Logger { return n }
