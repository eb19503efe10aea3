package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

type glogAdapter struct {
	logger glog.Logger
}

// FromGlog adapts a go-logger logger to Logger. A nil logger yields the
// default console logger.
func FromGlog(logger glog.Logger) Logger {
	if logger == nil {
		return New("info", "console", nil)
	}
	return glogAdapter{logger: logger}
}

// New builds a go-logger backed Logger. format "json" selects JSON
// output; anything else keeps go-logger's console format.
func New(level, format string, out io.Writer) Logger {
	if out == nil {
		out = os.Stdout
	}
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	level = strings.ToLower(strings.TrimSpace(level))
	var base glog.Logger
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		base = glog.NewLogger(glog.WithWriter(out), glog.WithLevel(level), glog.WithLoggerTypeJSON())
	} else {
		base = glog.NewLogger(glog.WithWriter(out), glog.WithLevel(level))
	}
	return FromGlog(base)
}

func (l glogAdapter) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogAdapter) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogAdapter) WithContext(ctx context.Context) Logger {
	return glogAdapter{logger: l.logger.WithContext(ctx)}
}

func (l glogAdapter) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogAdapter{logger: fl.WithFields(fields)}
	}
	return l
}
