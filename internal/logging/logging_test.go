package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, "engine")

	l.Debugf("dropped")
	l.Infof("dropped too")
	l.Warnf("kept command=%s", "echo")
	l.Errorf("kept as well")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("low-severity lines leaked: %q", out)
	}
	if !strings.Contains(out, "WARN engine: kept command=echo") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "ERROR engine: kept as well") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, "server")

	l.With("groups").Infof("reloaded")

	if !strings.Contains(buf.String(), "INFO groups: reloaded") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestDiscardWritesNothing(t *testing.T) {
	// Must not panic and must not reach any sink.
	Discard().Errorf("into the void")
}
