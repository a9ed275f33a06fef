package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("decode %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

func TestErrorCarriesContextFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOrganizationID(ctx, "org-1")
	log.Error(ctx, "cancel failed", errors.New("row locked"))

	entry := lastEntry(t, buf)
	for key, want := range map[string]string{
		"service":         "api",
		"request_id":      "req-123",
		"organization_id": "org-1",
		"error":           "row locked",
		"level":           "error",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
	if entry["stack"] == "" || entry["stack"] == nil {
		t.Error("expected stack on error entries")
	}
}

func TestChildFieldsStayInChildContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "cron-worker", Output: buf})

	parent := log.WithJob(context.Background(), "usage-recalculate")
	child := log.WithFields(parent, map[string]any{"resource_key": "students", "organizations": 3})

	log.Info(child, "recalculated")
	if entry := lastEntry(t, buf); entry["resource_key"] != "students" || entry["job"] != "usage-recalculate" {
		t.Fatalf("child entry missing fields: %v", entry)
	}
	log.Info(parent, "tick")
	if entry := lastEntry(t, buf); entry["resource_key"] != nil {
		t.Fatalf("child field leaked into parent: %v", entry)
	}
}

func TestLevelsAndWarnStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.WarnLevel, WarnStack: true, Output: buf})

	log.Info(context.Background(), "hidden")
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("entries below warn were written: %s", buf.String())
	}
	log.Warn(context.Background(), "plan cache stale")
	if entry := lastEntry(t, buf); entry["stack"] == nil {
		t.Fatalf("expected stack on warning: %v", entry)
	}
}

func TestConsoleOutputIsNotJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Console: true, Output: buf}).Info(context.Background(), "hello")
	if !strings.Contains(buf.String(), "hello") || json.Valid(buf.Bytes()) {
		t.Fatalf("unexpected console output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" WARN ":  zerolog.WarnLevel,
		"debug":   zerolog.DebugLevel,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
