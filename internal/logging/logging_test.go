package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestNewFileLoggerDisabled(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, false, slog.LevelDebug)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if fl.Enabled || fl.Path != "" {
		t.Fatalf("expected disabled logger, got %+v", fl)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewFileLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, true, slog.LevelInfo)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	Component(fl.Logger, "toolworker").Debug("toolworker.dropped")
	Component(fl.Logger, "toolworker").Info("toolworker.started", "pid", 42)
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(fl.Path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %s", len(lines), data)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if record["msg"] != "toolworker.started" || record["component"] != "toolworker" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelDebug,
		"verbose": slog.LevelDebug,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestRedactAny(t *testing.T) {
	out := RedactAny(map[string]any{
		"api_path": "gimp.image.flatten",
		"token":    "abcdef123456",
		"nested":   map[string]any{"password": "hunter22"},
	}).(map[string]any)
	if out["api_path"] != "gimp.image.flatten" {
		t.Fatalf("expected api_path to pass through")
	}
	if out["token"] != "****3456" {
		t.Fatalf("expected masked token, got %v", out["token"])
	}
	if nested := out["nested"].(map[string]any); nested["password"] != "****er22" {
		t.Fatalf("expected masked password, got %v", nested["password"])
	}
}

func TestRedactAnyClipsAndHandlesStructs(t *testing.T) {
	image := strings.Repeat("A", 4096)
	params := struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}{
		Name:      "call_api",
		Arguments: map[string]any{"data": image, "ollama_api_key": "sk-local-9999"},
	}
	out, ok := RedactAny(params).(map[string]any)
	if !ok {
		t.Fatalf("expected struct to be logged as an object, got %T", RedactAny(params))
	}
	args := out["arguments"].(map[string]any)
	if args["ollama_api_key"] != "****9999" {
		t.Fatalf("expected suffix-matched key to be masked, got %v", args["ollama_api_key"])
	}
	data := args["data"].(string)
	if len(data) >= len(image) || !strings.HasSuffix(data, "...(4096 bytes)") {
		t.Fatalf("expected clipped image data, got %d bytes", len(data))
	}
	if got := RedactJSON(json.RawMessage(`not json`)); got != "not json" {
		t.Fatalf("expected raw text passthrough, got %v", got)
	}
}
