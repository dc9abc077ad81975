// Package studytest provides study config fixtures shared by tests.
package studytest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/simbatch/internal/study"
)

// SampleJSON is a compatible study with two learning participants (P1, P2),
// one static participant (P3) and a two-element start range.
const SampleJSON = `{
  "version": "3.7.1",
  "study": {
    "name": "sample study",
    "generations": 4,
    "days": 1,
    "start_datetime": ["2021-01-01 00:00:00", "2021-01-05 00:00:00"],
    "start_datetime_sequence": "sequential",
    "timezone": "America/Vancouver",
    "notes": "kept verbatim"
  },
  "market": {
    "id": "",
    "save_transactions": false,
    "grid": {"price": 0.1}
  },
  "participants": {
    "P1": {"trader": {"type": "tabular_q", "learning": true, "learning_rate": 0.05}, "load": {"scale": 1}},
    "P2": {"trader": {"type": "tabular_q", "learning": true}},
    "P3": {"trader": {"type": "net_metering", "learning": false}}
  },
  "server": {"host": "localhost", "port": 42000}
}`

// Sample parses SampleJSON, failing the test on error.
func Sample(t testing.TB) *study.Config {
	t.Helper()
	cfg, err := study.Parse([]byte(SampleJSON))
	if err != nil {
		t.Fatalf("parsing sample config: %v", err)
	}
	return cfg
}

// Rooted returns Sample with sim_root and output_db_location placed under
// dir, so stores and study directories stay inside a test temp dir.
func Rooted(t testing.TB, dir string) *study.Config {
	t.Helper()
	cfg := Sample(t)
	cfg.Study.SimRoot = dir
	cfg.Study.OutputDBLocation = filepath.Join(dir, "db")
	if err := os.MkdirAll(cfg.Study.OutputDBLocation, 0755); err != nil {
		t.Fatalf("creating db dir: %v", err)
	}
	return cfg
}

// WriteConfig writes cfg as <dir>/<name>.json and returns the path.
func WriteConfig(t testing.TB, dir, name string, cfg *study.Config) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating config dir: %v", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("marshaling config: %v", err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// JSONEqual reports whether a and b encode to the same JSON value.
func JSONEqual(t testing.TB, a, b any) bool {
	t.Helper()
	return canonical(t, a) == canonical(t, b)
}

func canonical(t testing.TB, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling: %v", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		t.Fatalf("re-marshaling: %v", err)
	}
	return string(out)
}
