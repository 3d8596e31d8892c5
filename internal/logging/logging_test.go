package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		enabled bool
		wantErr bool
	}{
		{"debug", slog.LevelDebug, true, false},
		{"dev", slog.LevelDebug, true, false},
		{"info", slog.LevelInfo, true, false},
		{"warning", slog.LevelWarn, true, false},
		{"", slog.LevelError, true, false},
		{"none", 0, false, false},
		{"loud", 0, false, true},
	}

	for _, tt := range tests {
		got, enabled, err := ParseLevel(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want || enabled != tt.enabled {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.name, got, enabled, tt.want, tt.enabled)
		}
	}
}

func TestInitWritesJSONToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "call.log")
	f, err := Init("info", path)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if f == nil {
		t.Fatal("expected log file handle")
	}

	slog.Info("state changed", "state", "connected")
	slog.Debug("filtered out")
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %s", len(lines), data)
	}

	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["state"] != "connected" {
		t.Errorf("state attr = %v, want connected", rec["state"])
	}
}

func TestInitFallsBackToEnv(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Setenv("LOG_LEVEL", "bogus")
	if _, err := Init("", ""); err == nil {
		t.Fatal("expected error from invalid LOG_LEVEL")
	}
}
