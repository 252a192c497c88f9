package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{input: "debug", expected: zapcore.DebugLevel},
		{input: " WARN ", expected: zapcore.WarnLevel},
		{input: "warning", expected: zapcore.WarnLevel},
		{input: "error", expected: zapcore.ErrorLevel},
		{input: "", expected: zapcore.InfoLevel},
		{input: "verbose", expected: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "agent.log")
	logger, err := NewLogger(Options{Level: "info", FilePath: logPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("queue drained")
	_ = logger.Sync()

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(contents), "queue drained") {
		t.Fatalf("expected log entry in file, got %q", string(contents))
	}
}
