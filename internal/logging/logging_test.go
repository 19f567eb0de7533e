package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONWithServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(Config{Service: "worker", Level: "debug", Output: &buf})
	defer closer.Close()

	logger.WithField("job_id", "job-1").Debug("task processed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if line["service"] != "worker" || line["job_id"] != "job-1" || line["message"] != "task processed" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestNewTextFormatAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(Config{Format: "text", Level: "warn", Output: &buf})
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "visible") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNewMirrorsToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	var buf bytes.Buffer
	logger, closer := New(Config{Service: "api", File: path, Output: &buf})

	logger.Info("started")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "started") {
		t.Fatalf("expected log file to contain the line, got %q", content)
	}
}
