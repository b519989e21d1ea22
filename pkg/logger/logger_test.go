package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"DEBUG", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInitLogger(t *testing.T) {
	if err := InitLogger("debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !GetLogger().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled after InitLogger(\"debug\")")
	}
	if err := InitLogger("loud"); err == nil {
		t.Error("expected error for invalid log level, got nil")
	}
}

func TestInitLoggerWithOptions_Formats(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := InitLoggerWithOptions(Options{Level: "info", Format: "text", Writer: &buf}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		GetLogger().Info("scope updated", "version", 3)
		if !strings.Contains(buf.String(), "version=3") {
			t.Errorf("expected text output with version=3, got %q", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := InitLoggerWithOptions(Options{Level: "info", Format: "json", Writer: &buf}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		GetLogger().Info("scope updated", "version", 3)
		if !strings.Contains(buf.String(), `"version":3`) {
			t.Errorf("expected json output with version, got %q", buf.String())
		}
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		if err := InitLoggerWithOptions(Options{Level: "warn", Writer: &buf}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		GetLogger().Debug("hidden")
		if buf.Len() != 0 {
			t.Errorf("expected no output below warn, got %q", buf.String())
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		if err := InitLoggerWithOptions(Options{Level: "info", Format: "xml"}); err == nil {
			t.Error("expected error for invalid format")
		}
	})
}

func TestGetLogger_BeforeInit(t *testing.T) {
	// globalLoggerをリセット
	mu.Lock()
	globalLogger = nil
	mu.Unlock()

	logger := GetLogger()
	if logger == nil {
		t.Error("GetLogger() should return default logger when not initialized")
	}

	if logger != slog.Default() {
		t.Error("GetLogger() should return slog.Default() when not initialized")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l == nil {
		t.Fatal("Discard() returned nil")
	}
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger should not be enabled for error level")
	}
}
