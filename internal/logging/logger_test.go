package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}}},
		{name: "text format", config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if logger := NewLogger(tt.config); logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithController(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})

	ctrlLogger := logger.WithController(0)
	ctrlLogger.Info("controller attached")

	output := buf.String()
	if !strings.Contains(output, "ctrl_id=0") {
		t.Errorf("expected ctrl_id=0 in output, got: %s", output)
	}
}

func TestLoggerWithQueueAndCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})

	queueLogger := logger.WithController(0).WithQueue(1)
	queueLogger.Info("queue pair created")

	output := buf.String()
	if !strings.Contains(output, "ctrl_id=0") {
		t.Errorf("expected inherited ctrl_id=0 in output, got: %s", output)
	}
	if !strings.Contains(output, "qid=1") {
		t.Errorf("expected qid=1 in output, got: %s", output)
	}

	buf.Reset()
	cmdLogger := queueLogger.WithCommand(42, "read")
	cmdLogger.Debug("processing command")

	output = buf.String()
	if !strings.Contains(output, "cid=42") {
		t.Errorf("expected cid=42 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=read") {
		t.Errorf("expected op=read in output, got: %s", output)
	}
}

func TestLoggerWithNamespace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})

	nsLogger := logger.WithNamespace(1)
	nsLogger.Warn("namespace not ready")

	if !strings.Contains(buf.String(), "nsid=1") {
		t.Errorf("expected nsid=1 in output, got: %s", buf.String())
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})

	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	if !strings.Contains(buf.String(), "test error") {
		t.Errorf("expected 'test error' in output, got: %s", buf.String())
	}
}

func TestIOLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})

	logger.IOStart("read", 7, 4096, 512)
	output := buf.String()
	for _, want := range []string{"command submitted", "op=read", "cid=7", "offset=4096", "length=512"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}

	buf.Reset()
	logger.IOComplete("read", 7, 4096, 512, 150)
	output = buf.String()
	for _, want := range []string{"command completed", "cid=7", "latency_us=150"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}

	buf.Reset()
	testErr := errors.New("read failed")
	logger.IOError("read", 7, 4096, 512, testErr)
	output = buf.String()
	for _, want := range []string{"command failed", "cid=7", "read failed"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true}))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") || !strings.Contains(output, "key=value") {
		t.Errorf("expected debug message with key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}

func TestPrintfCompat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true})

	logger.Printf("queue: completion for unknown cid %d", 9)
	if !strings.Contains(buf.String(), "unknown cid 9") {
		t.Errorf("expected formatted Printf output, got: %s", buf.String())
	}
}
