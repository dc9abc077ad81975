package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Launch.MaxParallel != 0 {
		t.Errorf("expected MaxParallel 0, got %d", config.Launch.MaxParallel)
	}
	if config.Store.RetryAttempts != 5 {
		t.Errorf("expected RetryAttempts 5, got %d", config.Store.RetryAttempts)
	}
	if config.Store.RetryWait != time.Second {
		t.Errorf("expected RetryWait 1s, got %v", config.Store.RetryWait)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
paths:
  config_dir: /studies/configs
launch:
  max_parallel: 8
  interpreters:
    .py: [python3]
store:
  retry_attempts: 2
  retry_wait: 250ms
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Paths.ConfigDir != "/studies/configs" {
		t.Errorf("expected ConfigDir '/studies/configs', got '%s'", config.Paths.ConfigDir)
	}
	if config.Launch.MaxParallel != 8 {
		t.Errorf("expected MaxParallel 8, got %d", config.Launch.MaxParallel)
	}
	if got := config.Launch.Interpreters[".py"]; len(got) != 1 || got[0] != "python3" {
		t.Errorf("expected .py interpreters [python3], got %v", got)
	}
	if config.Store.RetryAttempts != 2 {
		t.Errorf("expected RetryAttempts 2, got %d", config.Store.RetryAttempts)
	}
	if config.Store.RetryWait != 250*time.Millisecond {
		t.Errorf("expected RetryWait 250ms, got %v", config.Store.RetryWait)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected Level 'debug', got '%s'", config.Logging.Level)
	}
}

func TestLoadFromFile_KeepsDefaultsForMissingKeys(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("launch:\n  max_parallel: 3\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Store.RetryAttempts != 5 {
		t.Errorf("expected default RetryAttempts 5, got %d", config.Store.RetryAttempts)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected default Level 'info', got '%s'", config.Logging.Level)
	}
}

func TestLoadFromFile_ExpandsPaths(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SIMBATCH_TEST_ROOT", "/data")
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("paths:\n  config_dir: ${SIMBATCH_TEST_ROOT}/configs\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Paths.ConfigDir != "/data/configs" {
		t.Errorf("expected '/data/configs', got '%s'", config.Paths.ConfigDir)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("launch: [unclosed"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIMBATCH_CONFIG_DIR", "/env/configs")
	t.Setenv("SIMBATCH_MAX_PARALLEL", "4")
	t.Setenv("SIMBATCH_WORK_DIR", "/env/work")
	t.Setenv("SIMBATCH_RETRY_ATTEMPTS", "9")
	t.Setenv("SIMBATCH_RETRY_WAIT", "2s")
	t.Setenv("SIMBATCH_LOG_LEVEL", "TRACE")

	config := Default()
	applyEnvOverrides(config)

	if config.Paths.ConfigDir != "/env/configs" {
		t.Errorf("expected ConfigDir '/env/configs', got '%s'", config.Paths.ConfigDir)
	}
	if config.Launch.MaxParallel != 4 {
		t.Errorf("expected MaxParallel 4, got %d", config.Launch.MaxParallel)
	}
	if config.Launch.WorkDir != "/env/work" {
		t.Errorf("expected WorkDir '/env/work', got '%s'", config.Launch.WorkDir)
	}
	if config.Store.RetryAttempts != 9 {
		t.Errorf("expected RetryAttempts 9, got %d", config.Store.RetryAttempts)
	}
	if config.Store.RetryWait != 2*time.Second {
		t.Errorf("expected RetryWait 2s, got %v", config.Store.RetryWait)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("expected Level 'trace', got '%s'", config.Logging.Level)
	}
}

func TestEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SIMBATCH_MAX_PARALLEL", "many")
	t.Setenv("SIMBATCH_RETRY_WAIT", "soon")

	config := Default()
	applyEnvOverrides(config)

	if config.Launch.MaxParallel != 0 {
		t.Errorf("expected MaxParallel unchanged, got %d", config.Launch.MaxParallel)
	}
	if config.Store.RetryWait != time.Second {
		t.Errorf("expected RetryWait unchanged, got %v", config.Store.RetryWait)
	}
}

func TestLoad_UsesHomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("SIMBATCH_MAX_PARALLEL", "")

	dir := filepath.Join(home, ".simbatch")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("launch:\n  max_parallel: 6\n"), 0600); err != nil {
		t.Fatal(err)
	}

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Launch.MaxParallel != 6 {
		t.Errorf("expected MaxParallel 6, got %d", config.Launch.MaxParallel)
	}
}

func TestLoad_NoFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Store.RetryAttempts != 5 {
		t.Errorf("expected defaults, got RetryAttempts %d", config.Store.RetryAttempts)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *SimbatchConfig)
		wantErr string
	}{
		{"defaults", func(c *SimbatchConfig) {}, ""},
		{"negative parallel", func(c *SimbatchConfig) { c.Launch.MaxParallel = -1 }, "max_parallel"},
		{"extension without dot", func(c *SimbatchConfig) {
			c.Launch.Interpreters = map[string][]string{"py": {"python"}}
		}, "must start with a dot"},
		{"empty interpreter list", func(c *SimbatchConfig) {
			c.Launch.Interpreters = map[string][]string{".py": nil}
		}, "is empty"},
		{"uppercase extension", func(c *SimbatchConfig) {
			c.Launch.Interpreters = map[string][]string{".PY": {"python3"}}
		}, ""},
		{"extensions differing in case", func(c *SimbatchConfig) {
			c.Launch.Interpreters = map[string][]string{".py": {"python"}, ".PY": {"python3"}}
		}, "differ only in case"},
		{"zero attempts", func(c *SimbatchConfig) { c.Store.RetryAttempts = 0 }, "retry_attempts"},
		{"negative wait", func(c *SimbatchConfig) { c.Store.RetryWait = -time.Second }, "retry_wait"},
		{"bad level", func(c *SimbatchConfig) { c.Logging.Level = "loud" }, "invalid log level"},
		{"empty level", func(c *SimbatchConfig) { c.Logging.Level = "" }, ""},
		{"negative launch rate", func(c *SimbatchConfig) { c.MCP.LaunchesPerMinute = -1 }, "launches_per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigDirAndWorkDir(t *testing.T) {
	c := Default()
	if got, want := c.ConfigDir("/sim"), filepath.Join("/sim", "_simulations", "_configs"); got != want {
		t.Errorf("ConfigDir = %q, want %q", got, want)
	}
	if got := c.WorkDir("/sim"); got != "/sim" {
		t.Errorf("WorkDir = %q, want /sim", got)
	}

	c.Paths.ConfigDir = "/elsewhere"
	c.Launch.WorkDir = "/work"
	if got := c.ConfigDir("/sim"); got != "/elsewhere" {
		t.Errorf("ConfigDir = %q, want /elsewhere", got)
	}
	if got := c.WorkDir("/sim"); got != "/work" {
		t.Errorf("WorkDir = %q, want /work", got)
	}
}

func TestGetSet(t *testing.T) {
	c := Default()

	sets := map[string]string{
		"paths.config_dir":        "/configs",
		"launch.max_parallel":     "12",
		"launch.work_dir":         "/work",
		"store.retry_attempts":    "3",
		"store.retry_wait":        "500ms",
		"logging.level":           "Debug",
		"mcp.launches_per_minute": "2.5",
	}
	for k, v := range sets {
		if err := c.Set(k, v); err != nil {
			t.Fatalf("Set(%s, %s): %v", k, v, err)
		}
	}

	want := map[string]any{
		"paths.config_dir":        "/configs",
		"launch.max_parallel":     12,
		"launch.work_dir":         "/work",
		"store.retry_attempts":    3,
		"store.retry_wait":        "500ms",
		"logging.level":           "debug",
		"mcp.launches_per_minute": 2.5,
	}
	for _, k := range Keys() {
		got, ok := c.Get(k)
		if !ok {
			t.Errorf("Get(%s) not found", k)
			continue
		}
		if got != want[k] {
			t.Errorf("Get(%s) = %v, want %v", k, got, want[k])
		}
	}
}

func TestSet_RejectsInvalid(t *testing.T) {
	c := Default()

	tests := []struct{ key, value string }{
		{"launch.max_parallel", "lots"},
		{"launch.max_parallel", "-2"},
		{"store.retry_attempts", "0"},
		{"store.retry_wait", "later"},
		{"logging.level", "shout"},
		{"no.such.key", "x"},
	}
	for _, tt := range tests {
		if err := c.Set(tt.key, tt.value); err == nil {
			t.Errorf("Set(%s, %s) should fail", tt.key, tt.value)
		}
	}
	if c.Launch.MaxParallel != 0 || c.Store.RetryAttempts != 5 || c.Logging.Level != "info" {
		t.Errorf("failed Set must leave config unchanged, got %+v", c)
	}
}

func TestGet_UnknownKey(t *testing.T) {
	if _, ok := Default().Get("llm.provider"); ok {
		t.Error("expected unknown key to be reported")
	}
}

func TestSave(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	c := Default()
	c.Launch.MaxParallel = 7
	if err := Save(c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	path := filepath.Join(home, ".simbatch", "config.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Launch.MaxParallel != 7 {
		t.Errorf("expected MaxParallel 7 after save, got %d", loaded.Launch.MaxParallel)
	}
}
