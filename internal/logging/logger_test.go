package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"WARN", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"loud", log.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWithWriter(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	t.Setenv(EnvPrefix, "test ")

	var buf bytes.Buffer
	lg := NewLoggerWithWriter(&buf)
	defer lg.Close()

	lg.Debug("resolved", "xrefs", 3)
	out := buf.String()
	if !strings.Contains(out, "test") || !strings.Contains(out, "xrefs=3") {
		t.Fatalf("unexpected log output: %q", out)
	}
	if !IsDebug() {
		t.Fatal("IsDebug() = false with debug level set")
	}
}

func TestLogFilePath(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Setenv(EnvToFile, "")
	if got := LogFilePath(now); got != "" {
		t.Errorf("LogFilePath() = %q with file logging off", got)
	}
	t.Setenv(EnvToFile, "1")
	if got := LogFilePath(now); got != "machscope-20260304-050607-debug.log" {
		t.Errorf("LogFilePath() = %q", got)
	}
}

func TestNewLoggerToFile(t *testing.T) {
	t.Setenv(EnvLevel, "info")
	path := filepath.Join(t.TempDir(), "run.log")

	var fallback bytes.Buffer
	lg := NewLogger(path, &fallback)
	lg.Info("patched", "bytes", 4)
	if err := lg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "bytes=4") {
		t.Errorf("log file = %q", data)
	}
	if fallback.Len() != 0 {
		t.Errorf("fallback written: %q", fallback.String())
	}
}

func TestNewLoggerFallsBack(t *testing.T) {
	t.Setenv(EnvLevel, "info")
	var fallback bytes.Buffer
	lg := NewLogger(filepath.Join(t.TempDir(), "missing", "run.log"), &fallback)
	defer lg.Close()
	lg.Info("hello")
	if !strings.Contains(fallback.String(), "hello") {
		t.Errorf("fallback = %q", fallback.String())
	}

	fallback.Reset()
	lg = NewLogger("", &fallback)
	lg.Info("again")
	if !strings.Contains(fallback.String(), "again") {
		t.Errorf("fallback = %q", fallback.String())
	}
}
