package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"Trace", LevelTrace},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{" debug ", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", &buf)
	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged at info level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("info message missing")
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("trace", &buf)
	logger.Log(context.Background(), LevelTrace, "argv")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("trace record not labelled TRACE: %q", buf.String())
	}
}

func TestNewEventLog_InfoLevelDisabled(t *testing.T) {
	dir := t.TempDir()
	if el := NewEventLog(dir, "info"); el != nil {
		t.Error("NewEventLog(info) returned a log, want nil")
	}
	if _, err := os.Stat(filepath.Join(dir, "events.jsonl")); !os.IsNotExist(err) {
		t.Error("events.jsonl created at info level")
	}
}

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer f.Close()

	var events []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e map[string]any
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSONL line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestEventLog_WritesEvents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "study")
	el := NewEventLog(dir, "debug")
	if el == nil {
		t.Fatal("NewEventLog(debug) returned nil")
	}

	batch := el.With(map[string]any{"batch_id": "b-1"})
	fields := map[string]any{"path": "server.py"}
	batch.Log("process_started", fields)
	el.Log("expanded", map[string]any{"type": "baseline"})
	el.Close()

	if len(fields) != 1 {
		t.Errorf("caller map mutated: %v", fields)
	}

	events := readEvents(t, filepath.Join(dir, "events.jsonl"))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0]["event"] != "process_started" || events[0]["batch_id"] != "b-1" {
		t.Errorf("first event = %v", events[0])
	}
	if _, ok := events[1]["batch_id"]; ok {
		t.Errorf("With fields leaked into parent log: %v", events[1])
	}
	for _, e := range events {
		if _, ok := e["time"]; !ok {
			t.Errorf("event missing time: %v", e)
		}
	}
}

func TestEventLog_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLog(dir, "trace")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			el.Log("process_exited", map[string]any{"index": i})
		}(i)
	}
	wg.Wait()
	el.Close()

	if got := len(readEvents(t, filepath.Join(dir, "events.jsonl"))); got != 20 {
		t.Errorf("got %d events, want 20", got)
	}
}

func TestEventLog_NilAndClosedSafe(t *testing.T) {
	var el *EventLog
	el.Log("x", nil)
	el.With(map[string]any{"a": 1}).Log("y", nil)
	el.Close()

	live := NewEventLog(t.TempDir(), "debug")
	live.Close()
	live.Log("after_close", nil)
	live.Close()
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Error("OrDiscard(nil) = nil")
	}
	l := Discard()
	if OrDiscard(l) != l {
		t.Error("OrDiscard(l) did not return l")
	}
}
