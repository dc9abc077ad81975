package study

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/nvandessel/simbatch/internal/constants"
)

var minVersion = version.Must(version.NewVersion(constants.MinStudyVersion))

// Compatible reports whether the config version is at least MinStudyVersion.
// Missing or unparseable versions are incompatible.
func (c *Config) Compatible() bool {
	return c.CheckVersion() == nil
}

// CheckVersion explains why a config is incompatible, or returns nil.
func (c *Config) CheckVersion() error {
	if c.Version == "" {
		return fmt.Errorf("config has no version (need >= %s)", constants.MinStudyVersion)
	}
	v, err := version.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("config version %q is not a semantic version: %w", c.Version, err)
	}
	if v.LessThan(minVersion) {
		return fmt.Errorf("config version %s is older than %s", v, constants.MinStudyVersion)
	}
	return nil
}
