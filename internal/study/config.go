// Package study defines the study configuration schema: the study, market,
// participant and server sections a batch of simulation runs is derived from.
//
// Every section keeps keys it does not model in an Extra map and writes them
// back on marshal, so configs round-trip through the output store without
// losing settings that only the launched processes understand.
package study

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nvandessel/simbatch/internal/constants"
)

// Config is a complete study definition.
type Config struct {
	// Version is the semantic version of the config format.
	Version string `json:"version"`

	Study        Study                  `json:"study"`
	Market       Market                 `json:"market"`
	Participants map[string]Participant `json:"participants"`
	Server       Server                 `json:"server"`

	// Launcher configures the default launch list builder. Optional.
	Launcher *Launcher `json:"launcher,omitempty"`

	Extra map[string]any `json:"-"`
}

// Study holds the study-wide settings.
type Study struct {
	// Name identifies the study within its output store. Defaults to the
	// config file identifier; spaces are replaced with underscores.
	Name string `json:"name,omitempty"`

	// SimRoot is the directory holding the _simulations tree. Defaults to ".".
	SimRoot string `json:"sim_root,omitempty"`

	// OutputDBLocation is the directory the study store is created in.
	OutputDBLocation string `json:"output_db_location,omitempty"`

	// OutputDatabase is the full store connection string. When empty it is
	// derived as <output_db_location>/<name>.
	OutputDatabase string `json:"output_database,omitempty"`

	Generations int     `json:"generations"`
	Days        float64 `json:"days"`

	StartDatetime StartSpec `json:"start_datetime"`

	// StartSequence selects sequential start times when set to "sequential".
	// Any other value, or none, selects random start times.
	StartSequence string `json:"start_datetime_sequence,omitempty"`

	Timezone string `json:"timezone"`

	// Seed makes random start times reproducible. 0 seeds from the clock.
	Seed int64 `json:"seed,omitempty"`

	Resume bool   `json:"resume"`
	Type   string `json:"type,omitempty"`

	Extra map[string]any `json:"-"`
}

// Market identifies the market a run trades in.
type Market struct {
	ID               string `json:"id,omitempty"`
	SaveTransactions bool   `json:"save_transactions"`

	Extra map[string]any `json:"-"`
}

// Participant is one market participant.
type Participant struct {
	Trader Trader `json:"trader"`

	Extra map[string]any `json:"-"`
}

// Trader describes how a participant trades.
type Trader struct {
	Type     string `json:"type,omitempty"`
	Learning bool   `json:"learning"`

	Extra map[string]any `json:"-"`
}

// Server holds the market server connection settings.
type Server struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	Extra map[string]any `json:"-"`
}

// Launcher lists the scripts the default launch list builder invokes.
// Empty fields fall back to the standard layout.
type Launcher struct {
	Server      string `json:"server,omitempty"`
	Market      string `json:"market,omitempty"`
	Controller  string `json:"controller,omitempty"`
	Participant string `json:"participant,omitempty"`

	// StartupDelay is a Go duration string ("5s") applied before every
	// non-server process so the server can come up first.
	StartupDelay string `json:"startup_delay,omitempty"`

	Extra map[string]any `json:"-"`
}

// Sequential reports whether start times are assigned sequentially.
func (s Study) Sequential() bool {
	return s.StartSequence == constants.SequentialStartMode
}

// DefaultDSN returns <output_db_location>/<name>.
func (s Study) DefaultDSN() string {
	if s.OutputDBLocation == "" {
		return ""
	}
	return strings.TrimRight(s.OutputDBLocation, "/") + "/" + s.Name
}

// StoreDSN returns the store connection string for the study:
// output_database when set, otherwise DefaultDSN.
func (s Study) StoreDSN() string {
	if s.OutputDatabase != "" {
		return s.OutputDatabase
	}
	return s.DefaultDSN()
}

// SimulationsRoot returns <sim_root>/_simulations.
func (s Study) SimulationsRoot() string {
	root := s.SimRoot
	if root == "" {
		root = "."
	}
	return filepath.Join(root, constants.SimulationsDir)
}

// Dir returns the study directory <sim_root>/_simulations/<name>.
func (s Study) Dir() string {
	return filepath.Join(s.SimulationsRoot(), s.Name)
}

// BasePort returns the configured port or DefaultBasePort.
func (s Server) BasePort() int {
	if s.Port == 0 {
		return constants.DefaultBasePort
	}
	return s.Port
}

// HostOrDefault returns the configured host or DefaultServerHost.
func (s Server) HostOrDefault() string {
	if s.Host == "" {
		return constants.DefaultServerHost
	}
	return s.Host
}

// Delay parses StartupDelay. A nil launcher or empty value means no delay.
func (l *Launcher) Delay() (time.Duration, error) {
	if l == nil || l.StartupDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(l.StartupDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid launcher.startup_delay %q: %w", l.StartupDelay, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("launcher.startup_delay must be non-negative, got %v", d)
	}
	return d, nil
}

// ParticipantIDs returns all participant ids in sorted order.
func (c *Config) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for id := range c.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LearningParticipants returns the sorted ids of participants whose trader
// has learning enabled.
func (c *Config) LearningParticipants() []string {
	var ids []string
	for id, p := range c.Participants {
		if p.Trader.Learning {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// HasParticipant reports whether id names a participant.
func (c *Config) HasParticipant(id string) bool {
	_, ok := c.Participants[id]
	return ok
}

// UpdateTrader applies fn to the trader of participant id.
// Participants are stored by value, so edits go through this helper.
func (c *Config) UpdateTrader(id string, fn func(t *Trader)) {
	p, ok := c.Participants[id]
	if !ok {
		return
	}
	fn(&p.Trader)
	c.Participants[id] = p
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() (*Config, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling study config: %w", err)
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling study config: %w", err)
	}
	return &out, nil
}

// Validate checks the settings every study needs before it can be stored.
// Version compatibility is not checked here; see Compatible.
func (c *Config) Validate() error {
	if c.Study.Name == "" {
		return fmt.Errorf("study.name is empty")
	}
	if strings.ContainsAny(c.Study.Name, `/\`) || c.Study.Name == "." || c.Study.Name == ".." {
		return fmt.Errorf("study.name %q must not contain path separators", c.Study.Name)
	}
	if c.Study.Generations < 1 {
		return fmt.Errorf("study.generations must be at least 1, got %d", c.Study.Generations)
	}
	if c.Study.StoreDSN() == "" {
		return fmt.Errorf("study.output_db_location or study.output_database must be set")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be non-negative, got %d", c.Server.Port)
	}
	if _, err := c.Launcher.Delay(); err != nil {
		return err
	}
	return nil
}
