package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ChaneHaDa/stock-batch-server/pkg/config"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew_LevelIsPerLogger(t *testing.T) {
	var debugBuf, errBuf bytes.Buffer
	debugLog := NewWithWriter(&config.Config{Env: "development", LogLevel: "debug", LogFormat: "json"}, &debugBuf)
	errLog := NewWithWriter(&config.Config{Env: "development", LogLevel: "error", LogFormat: "json"}, &errBuf)

	if debugLog.Level() != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %v", debugLog.Level())
	}
	if errLog.Level() != zerolog.ErrorLevel {
		t.Errorf("Expected error level, got %v", errLog.Level())
	}

	debugLog.Info("kept")
	errLog.Info("dropped")

	if !strings.Contains(debugBuf.String(), "kept") {
		t.Errorf("debug logger lost an info entry: %q", debugBuf.String())
	}
	if errBuf.Len() != 0 {
		t.Errorf("error logger wrote an info entry: %q", errBuf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Env: "development", LogLevel: "debug", LogFormat: "json"}, &buf)

	tests := []struct {
		name      string
		logFunc   func()
		wantMsg   string
		wantLevel string
	}{
		{"debug", func() { log.Debug("debug message") }, "debug message", "debug"},
		{"info", func() { log.Info("info message") }, "info message", "info"},
		{"warn", func() { log.Warn("warn message") }, "warn message", "warn"},
		{"error", func() { log.Error("error message") }, "error message", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()

			entry := decode(t, &buf)
			if entry["level"] != tt.wantLevel {
				t.Errorf("Expected level %q, got %q", tt.wantLevel, entry["level"])
			}
			if entry["message"] != tt.wantMsg {
				t.Errorf("Expected message %q, got %q", tt.wantMsg, entry["message"])
			}
			if entry["service"] != "stock-batch" {
				t.Errorf("Expected service field, got %v", entry["service"])
			}
		})
	}
}

func TestWithFieldsAndJob(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Env: "development", LogLevel: "debug", LogFormat: "json"}, &buf)

	log.WithJob("run-1", "aggregate:all:2024-06").
		WithChunk(3, 10).
		WithFields(map[string]interface{}{"isin": "KR7005930003"}).
		Info("chunk committed")

	entry := decode(t, &buf)
	if entry["job_id"] != "run-1" {
		t.Errorf("Expected job_id run-1, got %v", entry["job_id"])
	}
	if entry["fingerprint"] != "aggregate:all:2024-06" {
		t.Errorf("unexpected fingerprint %v", entry["fingerprint"])
	}
	if entry["chunk"] != float64(3) {
		t.Errorf("Expected chunk 3, got %v", entry["chunk"])
	}
	if entry["items"] != float64(10) {
		t.Errorf("Expected items 10, got %v", entry["items"])
	}
	if entry["isin"] != "KR7005930003" {
		t.Errorf("unexpected isin %v", entry["isin"])
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Env: "development", LogLevel: "debug", LogFormat: "json"}, &buf)

	log.WithError(errors.New("database connection failed")).Error("operation failed")

	entry := decode(t, &buf)
	if entry["error"] != "database connection failed" {
		t.Errorf("unexpected error field %v", entry["error"])
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Env: "development", LogLevel: "info", LogFormat: "console"}, &buf)
	log.Info("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", buf.String())
	}
}

func TestNop(t *testing.T) {
	// must not panic
	Nop().WithField("k", "v").Info("discarded")
}
