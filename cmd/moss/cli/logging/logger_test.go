package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readLogEntries(t *testing.T, root string) []map[string]interface{} {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(root, ".moss", "logs", LogFileName))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Log output is not valid JSON: %v\nContent: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestInit_CreatesLogsDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	defer resetLogger()

	if err := Init(tmpDir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	logsDir := filepath.Join(tmpDir, ".moss", "logs")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		t.Errorf("Init() did not create .moss/logs/ directory")
	}
}

func TestInit_WritesJSONLogs(t *testing.T) {
	tmpDir := t.TempDir()
	defer resetLogger()

	if err := Init(tmpDir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Info(context.Background(), "test message", slog.String("key", "value"))
	Close()

	entries := readLogEntries(t, tmpDir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	entry := entries[0]
	if msg, ok := entry["msg"].(string); !ok || msg != "test message" {
		t.Errorf("Expected msg='test message', got %v", entry["msg"])
	}
	if key, ok := entry["key"].(string); !ok || key != "value" {
		t.Errorf("Expected key='value', got %v", entry["key"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected 'time' field in log entry")
	}
}

func TestInit_RespectsLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	defer resetLogger()
	t.Setenv(LogLevelEnvVar, "WARN")

	if err := Init(tmpDir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx := context.Background()
	Debug(ctx, "debug message")
	Info(ctx, "info message")
	Warn(ctx, "warn message")
	Close()

	content, err := os.ReadFile(filepath.Join(tmpDir, ".moss", "logs", LogFileName))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	contentStr := string(content)
	if strings.Contains(contentStr, "debug message") {
		t.Error("DEBUG message should not be logged when level is WARN")
	}
	if strings.Contains(contentStr, "info message") {
		t.Error("INFO message should not be logged when level is WARN")
	}
	if !strings.Contains(contentStr, "warn message") {
		t.Error("WARN message should be logged when level is WARN")
	}
}

func TestInit_UsesSettingsGetterWhenEnvUnset(t *testing.T) {
	tmpDir := t.TempDir()
	defer resetLogger()
	defer SetLogLevelGetter(nil)
	t.Setenv(LogLevelEnvVar, "")

	SetLogLevelGetter(func() string { return "ERROR" })
	if err := Init(tmpDir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	Warn(context.Background(), "dropped")
	Error(context.Background(), "kept")
	Close()

	entries := readLogEntries(t, tmpDir)
	if len(entries) != 1 || entries[0]["msg"] != "kept" {
		t.Errorf("expected only the ERROR entry, got %v", entries)
	}
}

func TestLog_ExtractsContextAttributes(t *testing.T) {
	tmpDir := t.TempDir()
	defer resetLogger()

	if err := Init(tmpDir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx := WithWorktree(context.Background(), "/tmp/wt")
	ctx = WithOperation(ctx, "op-123")
	ctx = WithComponent(ctx, "engine")
	Info(ctx, "with context")
	LogDuration(ctx, slog.LevelInfo, "timed", time.Now().Add(-5*time.Millisecond))
	Close()

	entries := readLogEntries(t, tmpDir)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry["worktree"] != "/tmp/wt" {
			t.Errorf("worktree = %v, want /tmp/wt", entry["worktree"])
		}
		if entry["operation_id"] != "op-123" {
			t.Errorf("operation_id = %v, want op-123", entry["operation_id"])
		}
		if entry["component"] != "engine" {
			t.Errorf("component = %v, want engine", entry["component"])
		}
	}
	if ms, ok := entries[1]["duration_ms"].(float64); !ok || ms < 5 {
		t.Errorf("duration_ms = %v, want >= 5", entries[1]["duration_ms"])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		want   slog.Level
		wantOK bool
	}{
		{"DEBUG", slog.LevelDebug, true},
		{"debug", slog.LevelDebug, true},
		{" info ", slog.LevelInfo, true},
		{"WARN", slog.LevelWarn, true},
		{"WARNING", slog.LevelWarn, true},
		{"ERROR", slog.LevelError, true},
		{"", slog.LevelInfo, true},
		{"bogus", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseLevel(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestInit_RotatesLargeLog(t *testing.T) {
	tmpDir := t.TempDir()
	defer resetLogger()

	logsDir := filepath.Join(tmpDir, ".moss", "logs")
	if err := os.MkdirAll(logsDir, 0o750); err != nil {
		t.Fatal(err)
	}
	big := make([]byte, maxLogSize+1)
	if err := os.WriteFile(filepath.Join(logsDir, LogFileName), big, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Init(tmpDir); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	Info(context.Background(), "fresh")
	Close()

	rotated, err := os.Stat(filepath.Join(logsDir, LogFileName+".1"))
	if err != nil {
		t.Fatalf("expected rotated log: %v", err)
	}
	if rotated.Size() != int64(len(big)) {
		t.Errorf("rotated size = %d, want %d", rotated.Size(), len(big))
	}
	if entries := readLogEntries(t, tmpDir); len(entries) != 1 {
		t.Errorf("expected 1 entry in the new log, got %d", len(entries))
	}
}

func TestNewOperationID_Unique(t *testing.T) {
	t.Parallel()

	a, b := NewOperationID(), NewOperationID()
	if a == "" || a == b {
		t.Errorf("NewOperationID() returned %q and %q", a, b)
	}
}
