package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLoggerEmitsStructuredFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New("trace", "json", buf)
	WithFields(logger, map[string]any{"document_id": "doc-9"}).WithContext(context.Background()).Info("transition applied")

	logged := buf.String()
	if strings.TrimSpace(logged) == "" {
		t.Fatalf("expected go-logger output")
	}
	if !strings.Contains(logged, "transition applied") || !strings.Contains(logged, "document_id") {
		t.Fatalf("expected message and correlation field, got %q", logged)
	}
}

func TestLoggerFieldsDoNotLeak(t *testing.T) {
	buf := &bytes.Buffer{}
	base := New("info", "json", buf)
	_ = WithFields(base, map[string]any{"leaked_key": 1})
	base.Warn("plain")
	if strings.Contains(buf.String(), "leaked_key") {
		t.Fatalf("fields leaked into parent logger: %q", buf.String())
	}
}

func TestNormalizeDefaults(t *testing.T) {
	if _, ok := Normalize(nil).(glogAdapter); !ok {
		t.Fatalf("expected go-logger default")
	}
	if _, ok := FromGlog(nil).(glogAdapter); !ok {
		t.Fatalf("expected go-logger default for nil glog logger")
	}
	var n Logger = Nop{}
	if Normalize(n) != n {
		t.Fatalf("expected logger passthrough")
	}
	if WithFields(n, map[string]any{"a": 1}) != n {
		t.Fatalf("expected loggers without field support to pass through")
	}
}
