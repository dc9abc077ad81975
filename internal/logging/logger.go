// Package logging provides leveled logging and the per-study event log.
//
// Operational messages go to a leveled slog.Logger on stderr. At debug and
// trace level, expansions, launches and process exits are also appended as
// JSON lines to <study dir>/events.jsonl, so a finished batch can be audited
// after the terminal output is gone.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/simbatch/internal/constants"
)

// LevelTrace is a custom slog level below Debug. At this level full process
// argument lists and derived configs are logged.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps "info", "debug", "trace", "warn" or "error"
// (case-insensitive) to a slog.Level. Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing text records to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// EventLog appends study events to a JSONL file. It is safe for concurrent
// use, and a nil *EventLog is a valid no-op log.
type EventLog struct {
	sink   *eventSink
	fields map[string]any
}

type eventSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewEventLog opens dir/events.jsonl for append when level is debug or
// trace. At any other level, or if the file cannot be opened, it returns nil.
func NewEventLog(dir string, level string) *EventLog {
	if ParseLevel(level) > slog.LevelDebug {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, constants.EventLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}
	return &EventLog{sink: &eventSink{file: f}}
}

// With returns a log that adds fields to every event and shares the
// underlying file. Closing either closes both.
func (el *EventLog) With(fields map[string]any) *EventLog {
	if el == nil {
		return nil
	}
	merged := make(map[string]any, len(el.fields)+len(fields))
	for k, v := range el.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &EventLog{sink: el.sink, fields: merged}
}

// Log writes one event line with "event" and "time" keys added.
// The caller's map is not mutated.
func (el *EventLog) Log(event string, fields map[string]any) {
	if el == nil {
		return
	}

	entry := make(map[string]any, len(el.fields)+len(fields)+2)
	for k, v := range el.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	entry["event"] = event
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	el.sink.mu.Lock()
	defer el.sink.mu.Unlock()
	if el.sink.file == nil {
		return
	}
	_, _ = el.sink.file.Write(data)
}

// Close closes the file. Safe to call on a nil log and more than once.
func (el *EventLog) Close() {
	if el == nil {
		return
	}
	el.sink.mu.Lock()
	defer el.sink.mu.Unlock()
	if el.sink.file != nil {
		el.sink.file.Close()
		el.sink.file = nil
	}
}
