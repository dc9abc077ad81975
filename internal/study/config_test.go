package study_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/simbatch/internal/study"
	"github.com/nvandessel/simbatch/internal/study/studytest"
)

func TestParse_JSON(t *testing.T) {
	cfg := studytest.Sample(t)

	if cfg.Version != "3.7.1" {
		t.Errorf("Version = %q, want 3.7.1", cfg.Version)
	}
	if cfg.Study.Generations != 4 {
		t.Errorf("Generations = %d, want 4", cfg.Study.Generations)
	}
	if !cfg.Study.StartDatetime.IsRange() {
		t.Error("expected start_datetime to be a range")
	}
	if !cfg.Study.Sequential() {
		t.Error("expected sequential start mode")
	}
	if cfg.Server.Port != 42000 {
		t.Errorf("Server.Port = %d, want 42000", cfg.Server.Port)
	}
	if len(cfg.Participants) != 3 {
		t.Fatalf("len(Participants) = %d, want 3", len(cfg.Participants))
	}
	if !cfg.Participants["P1"].Trader.Learning {
		t.Error("expected P1 to be learning")
	}
}

func TestParse_PreservesUnknownKeys(t *testing.T) {
	cfg := studytest.Sample(t)

	if cfg.Study.Extra["notes"] != "kept verbatim" {
		t.Errorf("study extra notes = %v", cfg.Study.Extra["notes"])
	}
	if _, ok := cfg.Market.Extra["grid"]; !ok {
		t.Error("market extra grid missing")
	}
	if _, ok := cfg.Participants["P1"].Trader.Extra["learning_rate"]; !ok {
		t.Error("trader extra learning_rate missing")
	}
	if _, ok := cfg.Participants["P1"].Extra["load"]; !ok {
		t.Error("participant extra load missing")
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{`"notes":"kept verbatim"`, `"learning_rate":0.05`, `"grid":{"price":0.1}`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("marshaled config missing %s", want)
		}
	}
}

func TestParse_RoundTripIsStable(t *testing.T) {
	cfg := studytest.Sample(t)

	first, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	again, err := study.Parse(first)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !studytest.JSONEqual(t, cfg, again) {
		t.Error("config changed across a marshal/parse round trip")
	}
}

func TestParse_YAMLWithComments(t *testing.T) {
	src := `
# study used for smoke tests
version: 3.6
study:
  generations: 2
  days: 1
  start_datetime: "2021-06-01 00:00:00"   # fixed start
  timezone: UTC
market:
  id: ""
participants:
  1:
    trader:
      type: baseline
      learning: true
server:
  port: 3500
`
	cfg, err := study.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Version != "3.6" {
		t.Errorf("Version = %q, want 3.6", cfg.Version)
	}
	if !cfg.Study.StartDatetime.IsSingle() {
		t.Error("expected single start_datetime")
	}
	if !cfg.HasParticipant("1") {
		t.Errorf("numeric participant key not normalized: %v", cfg.ParticipantIDs())
	}
}

func TestParse_VersionKeepsLiteralText(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		want       string
		compatible bool
	}{
		{"unquoted yaml minor 10", "version: 3.10\n", "3.10", true},
		{"unquoted yaml trailing zero", "version: 3.60\n", "3.60", true},
		{"unquoted yaml integer", "version: 4\n", "4", true},
		{"quoted yaml", "version: \"3.10\"\n", "3.10", true},
		{"json number", `{"version": 3.10}`, "3.10", true},
		{"json string", `{"version": "3.5.9"}`, "3.5.9", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := study.Parse([]byte(tt.input))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.Version != tt.want {
				t.Errorf("Version = %q, want %q", cfg.Version, tt.want)
			}
			if got := cfg.Compatible(); got != tt.compatible {
				t.Errorf("Compatible() = %v, want %v", got, tt.compatible)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty document", ""},
		{"invalid yaml", "study: [unclosed"},
		{"start_datetime wrong type", `{"study": {"start_datetime": 5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := study.Parse([]byte(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStartSpec(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSingle bool
		wantRange  bool
		wantValues int
	}{
		{"single", `"2021-01-01"`, true, false, 1},
		{"range", `["2021-01-01", "2021-02-01"]`, false, true, 2},
		{"list", `["2021-01-01", "2021-02-01", "2021-03-01"]`, false, false, 3},
		{"one element list", `["2021-01-01"]`, false, false, 1},
		{"null", `null`, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s study.StartSpec
			if err := json.Unmarshal([]byte(tt.input), &s); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if s.IsSingle() != tt.wantSingle {
				t.Errorf("IsSingle() = %v, want %v", s.IsSingle(), tt.wantSingle)
			}
			if s.IsRange() != tt.wantRange {
				t.Errorf("IsRange() = %v, want %v", s.IsRange(), tt.wantRange)
			}
			if len(s.Values()) != tt.wantValues {
				t.Errorf("len(Values()) = %d, want %d", len(s.Values()), tt.wantValues)
			}

			out, err := json.Marshal(s)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var a, b any
			json.Unmarshal([]byte(tt.input), &a)
			json.Unmarshal(out, &b)
			if !reflect.DeepEqual(a, b) {
				t.Errorf("round trip = %s, want %s", out, tt.input)
			}
		})
	}
}

func TestClone_IsIndependent(t *testing.T) {
	cfg := studytest.Sample(t)

	clone, err := cfg.Clone()
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}

	clone.Market.ID = "changed"
	clone.Server.Port = 1
	clone.UpdateTrader("P1", func(tr *study.Trader) { tr.Learning = false })
	clone.Study.Extra["notes"] = "changed"

	if cfg.Market.ID != "" {
		t.Error("clone market edit leaked into original")
	}
	if cfg.Server.Port != 42000 {
		t.Error("clone port edit leaked into original")
	}
	if !cfg.Participants["P1"].Trader.Learning {
		t.Error("clone trader edit leaked into original")
	}
	if cfg.Study.Extra["notes"] != "kept verbatim" {
		t.Error("clone extra edit leaked into original")
	}
}

func TestLearningParticipants(t *testing.T) {
	cfg := studytest.Sample(t)

	got := cfg.LearningParticipants()
	want := []string{"P1", "P2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LearningParticipants() = %v, want %v", got, want)
	}

	if ids := cfg.ParticipantIDs(); !reflect.DeepEqual(ids, []string{"P1", "P2", "P3"}) {
		t.Errorf("ParticipantIDs() = %v", ids)
	}
}

func TestUpdateTrader_UnknownParticipant(t *testing.T) {
	cfg := studytest.Sample(t)
	called := false
	cfg.UpdateTrader("nope", func(*study.Trader) { called = true })
	if called {
		t.Error("UpdateTrader called fn for unknown participant")
	}
	if cfg.HasParticipant("nope") {
		t.Error("UpdateTrader created a participant")
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"3.6.0", true},
		{"3.7.1", true},
		{"4.0.0", true},
		{"3.6", true},
		{"3.5.9", false},
		{"2.0.0", false},
		{"", false},
		{"not-a-version", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			cfg := &study.Config{Version: tt.version}
			if got := cfg.Compatible(); got != tt.want {
				t.Errorf("Compatible(%q) = %v, want %v (err: %v)", tt.version, got, tt.want, cfg.CheckVersion())
			}
		})
	}
}

func TestAccessorDefaults(t *testing.T) {
	var cfg study.Config

	if got := cfg.Server.BasePort(); got != 3000 {
		t.Errorf("BasePort() = %d, want 3000", got)
	}
	if got := cfg.Server.HostOrDefault(); got != "localhost" {
		t.Errorf("HostOrDefault() = %q, want localhost", got)
	}
	if cfg.Study.Sequential() {
		t.Error("Sequential() should default to false")
	}
	if d, err := cfg.Launcher.Delay(); err != nil || d != 0 {
		t.Errorf("nil Launcher.Delay() = %v, %v", d, err)
	}

	cfg.Study.Name = "s"
	cfg.Study.OutputDBLocation = "/data/db/"
	if got := cfg.Study.StoreDSN(); got != "/data/db/s" {
		t.Errorf("StoreDSN() = %q, want /data/db/s", got)
	}
	cfg.Study.OutputDatabase = "/elsewhere/s"
	if got := cfg.Study.StoreDSN(); got != "/elsewhere/s" {
		t.Errorf("StoreDSN() with override = %q", got)
	}

	cfg.Study.SimRoot = "/sims"
	if got := cfg.Study.Dir(); got != filepath.Join("/sims", "_simulations", "s") {
		t.Errorf("Dir() = %q", got)
	}
}

func TestLauncherDelay(t *testing.T) {
	l := &study.Launcher{StartupDelay: "1500ms"}
	d, err := l.Delay()
	if err != nil {
		t.Fatalf("Delay() error = %v", err)
	}
	if d != 1500*time.Millisecond {
		t.Errorf("Delay() = %v, want 1.5s", d)
	}

	for _, bad := range []string{"soon", "-1s"} {
		l := &study.Launcher{StartupDelay: bad}
		if _, err := l.Delay(); err == nil {
			t.Errorf("Delay(%q) expected error", bad)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *study.Config)
		wantErr string
	}{
		{"valid", func(c *study.Config) {}, ""},
		{"missing name", func(c *study.Config) { c.Study.Name = "" }, "study.name"},
		{"name with separator", func(c *study.Config) { c.Study.Name = "../escape" }, "path separators"},
		{"zero generations", func(c *study.Config) { c.Study.Generations = 0 }, "generations"},
		{"no store", func(c *study.Config) { c.Study.OutputDBLocation = "" }, "output_db_location"},
		{"bad delay", func(c *study.Config) { c.Launcher = &study.Launcher{StartupDelay: "x"} }, "startup_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := studytest.Rooted(t, t.TempDir())
			cfg.Study.Name = "valid"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNamed(t *testing.T) {
	dir := t.TempDir()
	cfg := studytest.Sample(t)
	studytest.WriteConfig(t, dir, "alpha", cfg)

	yamlPath := filepath.Join(dir, "beta.yaml")
	if err := os.WriteFile(yamlPath, []byte("version: 3.6.0\nstudy:\n  generations: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, path, err := study.LoadNamed(dir, "alpha")
	if err != nil {
		t.Fatalf("LoadNamed(alpha) error = %v", err)
	}
	if filepath.Base(path) != "alpha.json" {
		t.Errorf("path = %q, want alpha.json", path)
	}
	if !studytest.JSONEqual(t, got, cfg) {
		t.Error("loaded config differs from written config")
	}

	if _, path, err := study.LoadNamed(dir, "beta"); err != nil || filepath.Base(path) != "beta.yaml" {
		t.Errorf("LoadNamed(beta) = %q, %v", path, err)
	}

	_, _, err = study.LoadNamed(dir, "missing")
	if !errors.Is(err, study.ErrConfigNotFound) {
		t.Errorf("LoadNamed(missing) error = %v, want ErrConfigNotFound", err)
	}
}
