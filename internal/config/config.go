// Package config loads simbatch's own settings: where study configs live,
// how many processes may run at once, how study setup is retried, and the
// log level. Study configs themselves are handled by package study.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/simbatch/internal/constants"
)

// SimbatchConfig contains all simbatch settings.
type SimbatchConfig struct {
	Paths   PathsConfig   `json:"paths" yaml:"paths"`
	Launch  LaunchConfig  `json:"launch" yaml:"launch"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	MCP     MCPConfig     `json:"mcp" yaml:"mcp"`
}

// PathsConfig locates study configs.
type PathsConfig struct {
	// ConfigDir holds <name>.{json,yaml,yml} study configs. Empty means
	// <root>/_simulations/_configs.
	ConfigDir string `json:"config_dir,omitempty" yaml:"config_dir,omitempty"`
}

// LaunchConfig controls process launching.
type LaunchConfig struct {
	// MaxParallel bounds concurrently running processes. 0 runs every
	// process of a batch at once.
	MaxParallel int `json:"max_parallel" yaml:"max_parallel"`

	// Interpreters maps a script extension to interpreter candidates, tried
	// in order. Entries replace the built-in list for that extension.
	Interpreters map[string][]string `json:"interpreters,omitempty" yaml:"interpreters,omitempty"`

	// WorkDir is the directory processes are started in. Empty means the
	// simbatch root.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
}

// StoreConfig controls how study store and directory creation is retried.
type StoreConfig struct {
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryWait     time.Duration `json:"retry_wait" yaml:"retry_wait"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is "info" (default), "debug" or "trace". Debug and trace also
	// write <study dir>/events.jsonl.
	Level string `json:"level" yaml:"level"`
}

// MCPConfig configures the MCP server.
type MCPConfig struct {
	// LaunchesPerMinute limits batch_launch calls. 0 uses the built-in limit.
	LaunchesPerMinute float64 `json:"launches_per_minute,omitempty" yaml:"launches_per_minute,omitempty"`
}

// Default returns a SimbatchConfig with the built-in defaults.
func Default() *SimbatchConfig {
	return &SimbatchConfig{
		Store: StoreConfig{
			RetryAttempts: constants.DefaultRetryAttempts,
			RetryWait:     constants.DefaultRetryWait,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns ~/.simbatch/config.yaml.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, constants.ToolDir, "config.yaml"), nil
}

// Load loads configuration from the default location and the environment.
// Order: defaults -> ~/.simbatch/config.yaml -> SIMBATCH_* variables.
func Load() (*SimbatchConfig, error) {
	cfg := Default()

	if path, err := Path(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			fileCfg, loadErr := LoadFromFile(path)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			cfg = fileCfg
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*SimbatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Paths.ConfigDir = expandPath(cfg.Paths.ConfigDir)
	cfg.Launch.WorkDir = expandPath(cfg.Launch.WorkDir)
	return cfg, nil
}

// Save writes the configuration to ~/.simbatch/config.yaml.
func Save(cfg *SimbatchConfig) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *SimbatchConfig) Validate() error {
	if c.Launch.MaxParallel < 0 {
		return fmt.Errorf("launch.max_parallel must be non-negative, got %d", c.Launch.MaxParallel)
	}
	seen := make(map[string]string, len(c.Launch.Interpreters))
	for ext, candidates := range c.Launch.Interpreters {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("launch.interpreters key %q must start with a dot", ext)
		}
		if len(candidates) == 0 {
			return fmt.Errorf("launch.interpreters[%s] is empty", ext)
		}
		// Extensions match case-insensitively, so .py and .PY are one key.
		if other, ok := seen[strings.ToLower(ext)]; ok {
			return fmt.Errorf("launch.interpreters keys %q and %q differ only in case", other, ext)
		}
		seen[strings.ToLower(ext)] = ext
	}
	if c.Store.RetryAttempts < 1 {
		return fmt.Errorf("store.retry_attempts must be at least 1, got %d", c.Store.RetryAttempts)
	}
	if c.Store.RetryWait < 0 {
		return fmt.Errorf("store.retry_wait must be non-negative, got %v", c.Store.RetryWait)
	}
	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	if c.MCP.LaunchesPerMinute < 0 {
		return fmt.Errorf("mcp.launches_per_minute must be non-negative, got %v", c.MCP.LaunchesPerMinute)
	}
	return nil
}

// ConfigDir returns the study config directory for root.
func (c *SimbatchConfig) ConfigDir(root string) string {
	if c.Paths.ConfigDir != "" {
		return c.Paths.ConfigDir
	}
	return filepath.Join(root, constants.SimulationsDir, constants.ConfigsDir)
}

// WorkDir returns the directory processes start in for root.
func (c *SimbatchConfig) WorkDir(root string) string {
	if c.Launch.WorkDir != "" {
		return c.Launch.WorkDir
	}
	return root
}

// LogLevel returns the configured level, defaulting to info.
func (c *SimbatchConfig) LogLevel() string {
	if c.Logging.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Logging.Level)
}

// Keys lists every key Get and Set accept.
func Keys() []string {
	keys := []string{
		"paths.config_dir",
		"launch.max_parallel",
		"launch.work_dir",
		"store.retry_attempts",
		"store.retry_wait",
		"logging.level",
		"mcp.launches_per_minute",
	}
	sort.Strings(keys)
	return keys
}

// Get returns a configuration value by dot-notation key.
func (c *SimbatchConfig) Get(key string) (any, bool) {
	switch key {
	case "paths.config_dir":
		return c.Paths.ConfigDir, true
	case "launch.max_parallel":
		return c.Launch.MaxParallel, true
	case "launch.work_dir":
		return c.Launch.WorkDir, true
	case "store.retry_attempts":
		return c.Store.RetryAttempts, true
	case "store.retry_wait":
		return c.Store.RetryWait.String(), true
	case "logging.level":
		return c.LogLevel(), true
	case "mcp.launches_per_minute":
		return c.MCP.LaunchesPerMinute, true
	default:
		return nil, false
	}
}

// Set sets a configuration value by dot-notation key and re-validates.
func (c *SimbatchConfig) Set(key, value string) error {
	next := *c
	switch key {
	case "paths.config_dir":
		next.Paths.ConfigDir = expandPath(value)
	case "launch.max_parallel":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %s", value)
		}
		next.Launch.MaxParallel = n
	case "launch.work_dir":
		next.Launch.WorkDir = expandPath(value)
	case "store.retry_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %s", value)
		}
		next.Store.RetryAttempts = n
	case "store.retry_wait":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %s", value)
		}
		next.Store.RetryWait = d
	case "logging.level":
		next.Logging.Level = strings.ToLower(value)
	case "mcp.launches_per_minute":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %s", value)
		}
		next.MCP.LaunchesPerMinute = f
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// applyEnvOverrides applies SIMBATCH_* environment variables. Malformed
// numeric values are ignored.
func applyEnvOverrides(cfg *SimbatchConfig) {
	if v := os.Getenv("SIMBATCH_CONFIG_DIR"); v != "" {
		cfg.Paths.ConfigDir = expandPath(v)
	}
	if v := os.Getenv("SIMBATCH_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Launch.MaxParallel = n
		}
	}
	if v := os.Getenv("SIMBATCH_WORK_DIR"); v != "" {
		cfg.Launch.WorkDir = expandPath(v)
	}
	if v := os.Getenv("SIMBATCH_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.RetryAttempts = n
		}
	}
	if v := os.Getenv("SIMBATCH_RETRY_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.RetryWait = d
		}
	}
	if v := os.Getenv("SIMBATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// expandPath expands ${VAR} references and a leading ~/.
func expandPath(s string) string {
	if s == "" {
		return s
	}
	if strings.Contains(s, "$") {
		s = os.Expand(s, os.Getenv)
	}
	if strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, s[2:])
		}
	}
	return s
}
