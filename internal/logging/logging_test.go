package logging

import (
	"bytes"
	"encoding/json"
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
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetup_JSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger, err := Setup(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Info("accepted connection", "remote_addr", "127.0.0.1:5000")
	logger.Debug("hidden")

	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "\n") {
		t.Fatalf("expected one entry, got %q", line)
	}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["remote_addr"] != "127.0.0.1:5000" {
		t.Errorf("remote_addr = %v", entry["remote_addr"])
	}
	if slog.Default() != logger {
		t.Error("Setup did not install the default logger")
	}
}

func TestSetup_UnknownFormat(t *testing.T) {
	if _, err := Setup(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSetLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger, err := Setup(Config{Level: "error", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Info("before")
	if buf.Len() != 0 {
		t.Fatalf("info logged at error level: %q", buf.String())
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	if Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", Level())
	}

	logger.Info("after")
	if !strings.Contains(buf.String(), "after") {
		t.Errorf("info not logged after SetLevel: %q", buf.String())
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
