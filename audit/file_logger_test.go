package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLoggerWritesJSONL(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": logPath, "session_id": "test-session"},
	})
	if err != nil {
		t.Fatalf("failed to create file logger: %v", err)
	}

	if err = logger.Log("migrate_file", true, map[string]interface{}{"file": "app.mv.db"}); err != nil {
		t.Fatalf("failed to log: %v", err)
	}
	if err = logger.Log("migrate_file", false, map[string]interface{}{"error": "boom"}); err != nil {
		t.Fatalf("failed to log: %v", err)
	}
	if err = logger.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		if err = json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		events = append(events, event)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != "migrate_file" || !events[0].Success {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[0].SessionID != "test-session" {
		t.Errorf("expected session id to be carried, got %q", events[0].SessionID)
	}
	if events[1].Success || events[1].Error != "boom" {
		t.Errorf("unexpected second event: %+v", events[1])
	}
}

func TestNewLoggerDisabled(t *testing.T) {
	logger, err := NewLogger(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := logger.(*NoOpLogger); !ok {
		t.Errorf("expected a no-op logger, got %T", logger)
	}
}

func TestNewLoggerUnknownType(t *testing.T) {
	if _, err := NewLogger(&Config{Enabled: true, Type: "carrier-pigeon"}); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}

func TestFileLoggerRequiresPath(t *testing.T) {
	if _, err := NewFileLogger(&Config{Enabled: true, Type: FileAuditType}); err == nil {
		t.Fatal("expected an error when file_path is missing")
	}
}
