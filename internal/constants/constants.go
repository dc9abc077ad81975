// Package constants provides named constants used throughout the simbatch codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

import "time"

// Study compatibility
const (
	// MinStudyVersion is the oldest study config version simbatch can expand.
	// Older configs produce no runs.
	MinStudyVersion = "3.6.0"
)

// Layout constants for the on-disk study tree.
const (
	// SimulationsDir is the directory under sim_root holding one directory per study.
	SimulationsDir = "_simulations"

	// ConfigsDir is the directory under SimulationsDir holding study config files.
	ConfigsDir = "_configs"

	// EventLogFile is the JSONL event log written inside a study directory.
	EventLogFile = "events.jsonl"

	// ArchivesDir is the directory under SimulationsDir where study exports go.
	ArchivesDir = "_archives"

	// ToolDir is the per-user directory under $HOME holding config.yaml and archives.
	ToolDir = ".simbatch"
)

// Output store layout
const (
	// ConfigsTable holds the single canonical study config row.
	ConfigsTable = "configs"

	// MetadataTable holds one row per generation with its simulated time window.
	MetadataTable = "metadata"

	// CanonicalConfigID is the fixed key of the canonical config row.
	CanonicalConfigID = 0
)

// Run expansion
const (
	// DefaultBasePort is used when the study config does not set server.port.
	DefaultBasePort = 3000

	// DefaultServerHost is used when the study config does not set server.host.
	DefaultServerHost = "localhost"

	// BaselineAgentType replaces every trader type in baseline runs.
	BaselineAgentType = "baseline_agent"

	// BaselineGenerations is forced on baseline runs whose start time is a single value.
	BaselineGenerations = 2

	// MinutesPerDay converts the study days setting into window length.
	MinutesPerDay = 1440

	// SequentialStartMode is the start_datetime_sequence value selecting sequential windows.
	SequentialStartMode = "sequential"
)

// Retry defaults for study store and directory creation.
const (
	// DefaultRetryAttempts bounds store/path creation attempts before giving up.
	DefaultRetryAttempts = 5

	// DefaultRetryWait is the fixed wait between creation attempts.
	DefaultRetryWait = time.Second
)
