package env

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	t.Setenv("CARBON_TEST_VAR", "value")
	if got := Get("CARBON_TEST_VAR", "default"); got != "value" {
		t.Errorf("Get() = %q, want value", got)
	}
	if got := Get("CARBON_TEST_UNSET", "default"); got != "default" {
		t.Errorf("Get() = %q, want default", got)
	}
}

func TestGetTyped(t *testing.T) {
	t.Setenv("CARBON_INT", "42")
	t.Setenv("CARBON_BAD_INT", "forty")
	t.Setenv("CARBON_DUR", "250ms")
	t.Setenv("CARBON_BOOL", "Yes")

	if got := GetInt("CARBON_INT", 1); got != 42 {
		t.Errorf("GetInt() = %d, want 42", got)
	}
	if got := GetInt("CARBON_BAD_INT", 7); got != 7 {
		t.Errorf("GetInt() with invalid value = %d, want 7", got)
	}
	if got := GetDuration("CARBON_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("GetDuration() = %v, want 250ms", got)
	}
	if got := GetDuration("CARBON_UNSET", time.Second); got != time.Second {
		t.Errorf("GetDuration() unset = %v, want 1s", got)
	}
	if got := GetBool("CARBON_BOOL", false); !got {
		t.Error("GetBool() = false, want true")
	}
	if got := GetBool("CARBON_UNSET", true); !got {
		t.Error("GetBool() unset = false, want default true")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.raw)
			if got := ParseLogLevel(slog.LevelInfo); got != tt.want {
				t.Errorf("ParseLogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })

	t.Setenv("LOG_LEVEL", "warn")
	logger := NewLogger("exchange", slog.LevelInfo)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, "service=exchange") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected log output: %q", out)
	}
}
