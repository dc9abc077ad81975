// Package launchlist turns a run config into the ordered list of processes
// that make up one simulation run.
package launchlist

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nvandessel/simbatch/internal/study"
)

// Role names the part a process plays in a run.
type Role string

const (
	RoleServer      Role = "server"
	RoleMarket      Role = "market"
	RoleController  Role = "controller"
	RoleParticipant Role = "participant"
)

// ProcessSpec is one process to launch: an executable or script path, its
// arguments, and how long to wait before starting it.
type ProcessSpec struct {
	Path  string        `json:"path"`
	Args  []string      `json:"args,omitempty"`
	Delay time.Duration `json:"delay,omitempty"`

	Role Role `json:"role,omitempty"`

	// Run identifies the run the process belongs to, for logs.
	Run string `json:"run,omitempty"`
}

// List groups a run's processes by role.
type List struct {
	Server       []ProcessSpec `json:"server,omitempty"`
	Market       []ProcessSpec `json:"market,omitempty"`
	Controller   []ProcessSpec `json:"controller,omitempty"`
	Participants []ProcessSpec `json:"participants,omitempty"`
}

// Sequence returns market, controller and participant specs in that order,
// preceded by the server specs unless skipServer is set.
func (l List) Sequence(skipServer bool) []ProcessSpec {
	n := len(l.Market) + len(l.Controller) + len(l.Participants)
	if !skipServer {
		n += len(l.Server)
	}
	out := make([]ProcessSpec, 0, n)
	if !skipServer {
		out = append(out, l.Server...)
	}
	out = append(out, l.Market...)
	out = append(out, l.Controller...)
	return append(out, l.Participants...)
}

// Builder produces the launch list for a run config.
type Builder interface {
	Build(cfg *study.Config) (List, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(cfg *study.Config) (List, error)

// Build calls f.
func (f BuilderFunc) Build(cfg *study.Config) (List, error) {
	return f(cfg)
}

// Default script locations, relative to the working directory processes are
// launched from.
const (
	DefaultServerScript      = "_server/server.py"
	DefaultMarketScript      = "_clients/markets/market.py"
	DefaultControllerScript  = "_clients/sim_controller/main.py"
	DefaultParticipantScript = "_clients/participants/participants.py"
)

// ScriptBuilder builds the standard layout: one server, one market, one
// simulation controller and one process per participant. Script paths come
// from the config's launcher section, falling back to the defaults above.
//
// Every process gets --host and --port. The controller receives the whole run
// config as JSON; each participant receives its own section.
type ScriptBuilder struct{}

// Build implements Builder.
func (ScriptBuilder) Build(cfg *study.Config) (List, error) {
	if cfg == nil {
		return List{}, fmt.Errorf("launch list: nil config")
	}
	delay, err := cfg.Launcher.Delay()
	if err != nil {
		return List{}, err
	}

	host := cfg.Server.HostOrDefault()
	port := strconv.Itoa(cfg.Server.BasePort())
	conn := []string{"--host", host, "--port", port}
	run := runLabel(cfg)

	script := func(set, def string) string {
		if set != "" {
			return set
		}
		return def
	}
	var l study.Launcher
	if cfg.Launcher != nil {
		l = *cfg.Launcher
	}

	runJSON, err := json.Marshal(cfg)
	if err != nil {
		return List{}, fmt.Errorf("launch list: encoding run config: %w", err)
	}

	list := List{
		Server: []ProcessSpec{{
			Path: script(l.Server, DefaultServerScript),
			Args: append([]string(nil), conn...),
			Role: RoleServer,
			Run:  run,
		}},
		Market: []ProcessSpec{{
			Path:  script(l.Market, DefaultMarketScript),
			Args:  append(append([]string(nil), conn...), "--id", cfg.Market.ID),
			Delay: delay,
			Role:  RoleMarket,
			Run:   run,
		}},
		Controller: []ProcessSpec{{
			Path:  script(l.Controller, DefaultControllerScript),
			Args:  append(append([]string(nil), conn...), "--config", string(runJSON)),
			Delay: delay,
			Role:  RoleController,
			Run:   run,
		}},
	}

	for _, id := range cfg.ParticipantIDs() {
		p, err := json.Marshal(cfg.Participants[id])
		if err != nil {
			return List{}, fmt.Errorf("launch list: encoding participant %s: %w", id, err)
		}
		list.Participants = append(list.Participants, ProcessSpec{
			Path:  script(l.Participant, DefaultParticipantScript),
			Args:  append(append([]string(nil), conn...), "--id", id, "--config", string(p)),
			Delay: delay,
			Role:  RoleParticipant,
			Run:   run,
		})
	}
	return list, nil
}

// runLabel names a run by its type and market id, e.g. "training/training-P1".
func runLabel(cfg *study.Config) string {
	if cfg.Study.Type == "" {
		return cfg.Market.ID
	}
	if cfg.Market.ID == "" {
		return cfg.Study.Type
	}
	return cfg.Study.Type + "/" + cfg.Market.ID
}
