package mcp

import (
	"github.com/nvandessel/simbatch/internal/batch"
	"github.com/nvandessel/simbatch/internal/launchlist"
	"github.com/nvandessel/simbatch/internal/timewindow"
)

// StudyShowInput defines the input for the study_show tool.
type StudyShowInput struct {
	Study string `json:"study" jsonschema:"Study config name under the config directory, without extension"`
}

// StudyShowOutput defines the output for the study_show tool.
type StudyShowOutput struct {
	Name         string   `json:"name" jsonschema:"Normalized study name"`
	Version      string   `json:"version" jsonschema:"Study config version"`
	Compatible   bool     `json:"compatible" jsonschema:"Whether the config version can be expanded"`
	Incompatible string   `json:"incompatible,omitempty" jsonschema:"Why the config version cannot be expanded"`
	Persisted    bool     `json:"persisted" jsonschema:"Whether the config shown is the one stored by an earlier launch"`
	Generations  int      `json:"generations" jsonschema:"Number of generations per run"`
	Seeded       int      `json:"seeded" jsonschema:"Number of generations with a stored time window"`
	MarketID     string   `json:"market_id,omitempty" jsonschema:"Market id of the base config"`
	Participants []string `json:"participants" jsonschema:"All participant ids"`
	Learning     []string `json:"learning" jsonschema:"Participant ids whose trader learns"`
	BasePort     int      `json:"base_port" jsonschema:"Server port of the first run in a batch"`
	StudyDir     string   `json:"study_dir" jsonschema:"Study output directory, shortened"`
}

// StudyGenerationsInput defines the input for the study_generations tool.
type StudyGenerationsInput struct {
	Study string `json:"study" jsonschema:"Study config name"`
}

// StudyGenerationsOutput defines the output for the study_generations tool.
type StudyGenerationsOutput struct {
	Study    string              `json:"study" jsonschema:"Normalized study name"`
	Windows  []timewindow.Window `json:"windows" jsonschema:"Stored time window per generation"`
	Count    int                 `json:"count" jsonschema:"Number of windows"`
	Timezone string              `json:"timezone" jsonschema:"Timezone the start times were interpreted in"`
}

// RunExpandInput defines the input for the run_expand tool.
type RunExpandInput struct {
	Study      string `json:"study" jsonschema:"Study config name"`
	Run        string `json:"run" jsonschema:"Run as type[:target], e.g. training:P1 or validation"`
	Seq        int    `json:"seq,omitempty" jsonschema:"Position in the batch; the server port is the base port plus seq"`
	SkipServer bool   `json:"skip_server,omitempty" jsonschema:"Leave the server process out of the launch list"`
}

// RunExpandOutput defines the output for the run_expand tool.
type RunExpandOutput struct {
	Run       string                   `json:"run" jsonschema:"Normalized run request"`
	Empty     bool                     `json:"empty" jsonschema:"True when the run expands to nothing"`
	Reason    string                   `json:"reason,omitempty" jsonschema:"Why the run is empty"`
	Detail    string                   `json:"detail,omitempty" jsonschema:"Details about an empty run"`
	MarketID  string                   `json:"market_id,omitempty" jsonschema:"Market id of the variant"`
	Port      int                      `json:"port,omitempty" jsonschema:"Server port of the variant"`
	Processes []launchlist.ProcessSpec `json:"processes,omitempty" jsonschema:"Processes the run would launch"`
}

// BatchLaunchInput defines the input for the batch_launch tool.
type BatchLaunchInput struct {
	Study       string   `json:"study" jsonschema:"Study config name"`
	Runs        []string `json:"runs,omitempty" jsonschema:"Runs as type[:target]; empty launches baseline, training and validation"`
	Resume      bool     `json:"resume,omitempty" jsonschema:"Reuse the stored study config and generations"`
	SkipServers bool     `json:"skip_servers,omitempty" jsonschema:"Leave server processes out of every run"`
	DryRun      bool     `json:"dry_run,omitempty" jsonschema:"Plan the batch without touching the study or starting processes"`
}

// BatchLaunchOutput defines the output for the batch_launch tool.
type BatchLaunchOutput struct {
	BatchID    string            `json:"batch_id" jsonschema:"Batch identifier used in logs and events"`
	Compatible bool              `json:"compatible" jsonschema:"False when the config version blocked expansion"`
	Runs       []batch.RunReport `json:"runs" jsonschema:"Per-run summary"`
	Processes  int               `json:"processes" jsonschema:"Number of processes planned"`
	Failed     int               `json:"failed" jsonschema:"Number of processes that did not exit cleanly"`
	Message    string            `json:"message" jsonschema:"Human-readable summary"`
}
