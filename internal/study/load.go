package study

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigExtensions are tried, in order, when resolving a config by name.
var ConfigExtensions = []string{".json", ".yaml", ".yml"}

// ErrConfigNotFound is returned when no file matches a config name.
var ErrConfigNotFound = errors.New("study config not found")

// Load reads a study config from a JSON or YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading study config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// LoadNamed resolves <configDir>/<name>.{json,yaml,yml} and loads it.
func LoadNamed(configDir, name string) (*Config, string, error) {
	path, err := Resolve(configDir, name)
	if err != nil {
		return nil, "", err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Resolve returns the path of the first existing config file for name.
func Resolve(configDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty config name", ErrConfigNotFound)
	}
	for _, ext := range ConfigExtensions {
		path := filepath.Join(configDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrConfigNotFound, name, configDir)
}

// Parse decodes a study config. The input may be YAML or JSON; YAML is a
// superset of JSON, so both go through yaml.v3 and are then normalized to
// JSON so one set of unmarshal rules applies. '#' comments are tolerated.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing study config: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("parsing study config: document is empty")
	}
	var raw any
	if err := root.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing study config: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parsing study config: document is empty")
	}

	doc := normalize(raw)
	if m, ok := doc.(map[string]any); ok {
		// An unquoted YAML version such as 3.10 decodes as a number and would
		// lose digits; the literal text is the version.
		if v, ok := versionLiteral(&root); ok {
			m["version"] = v
		}
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalizing study config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(normalized, &cfg); err != nil {
		return nil, fmt.Errorf("decoding study config: %w", err)
	}
	return &cfg, nil
}

// versionLiteral returns the source text of the top-level version scalar.
func versionLiteral(root *yaml.Node) (string, bool) {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return "", false
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "version" {
			continue
		}
		v := doc.Content[i+1]
		if v.Kind != yaml.ScalarNode || v.Tag == "!!null" {
			return "", false
		}
		return v.Value, true
	}
	return "", false
}

// normalize converts YAML-decoded values into JSON-encodable ones.
// Non-string map keys (unquoted participant ids such as 1) become strings.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}
