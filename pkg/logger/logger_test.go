package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInit_SimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := Init(slog.LevelInfo, &buf, "simple")

	l.With("component", "test").Info("provider selected", "provider", "ollama", "model", "phi3:mini")
	l.Debug("hidden")

	out := buf.String()
	if !strings.HasPrefix(out, "INFO provider selected") {
		t.Fatalf("unexpected line: %q", out)
	}
	for _, want := range []string{"component=test", "provider=ollama", "model=phi3:mini"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug record should be filtered at info level")
	}
}

func TestInit_QuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	l := Init(slog.LevelDebug, &buf, "simple")

	l.Warn("switch", "error", "connection refused by peer")

	if !strings.Contains(buf.String(), `error="connection refused by peer"`) {
		t.Errorf("expected quoted value, got %q", buf.String())
	}
	if !strings.HasPrefix(buf.String(), "WARN ") {
		t.Errorf("expected WARN prefix, got %q", buf.String())
	}
}

func TestInit_Groups(t *testing.T) {
	var buf bytes.Buffer
	l := Init(slog.LevelInfo, &buf, "simple")

	l.WithGroup("turn").Info("done", "steps", 3)

	if !strings.Contains(buf.String(), "turn.steps=3") {
		t.Errorf("expected grouped key, got %q", buf.String())
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"", "simple", "verbose", "json"} {
		if !ValidFormat(f) {
			t.Errorf("ValidFormat(%q) = false", f)
		}
	}
	if ValidFormat("xml") {
		t.Error("ValidFormat(xml) = true")
	}
}
