// Package expand derives per-run configs from a study config. Each run is a
// baseline, training or validation variant of the study, bound to its own
// server port, and expands into the processes that execute it.
package expand

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nvandessel/simbatch/internal/constants"
	"github.com/nvandessel/simbatch/internal/launchlist"
	"github.com/nvandessel/simbatch/internal/logging"
	"github.com/nvandessel/simbatch/internal/sanitize"
	"github.com/nvandessel/simbatch/internal/study"
	"github.com/nvandessel/simbatch/internal/studystate"
	"github.com/nvandessel/simbatch/internal/timewindow"
)

// Request describes one desired run.
type Request struct {
	Type   constants.RunType `json:"type"`
	Target string            `json:"target,omitempty"`

	// Seq offsets the server port so concurrent runs do not collide.
	Seq int `json:"seq"`

	SkipServer bool `json:"skip_server,omitempty"`
}

func (r Request) String() string {
	if r.Target == "" {
		return string(r.Type)
	}
	return string(r.Type) + ":" + r.Target
}

// Reason explains why a request produced no run.
type Reason string

const (
	ReasonIncompatible   Reason = "study config not compatible"
	ReasonUnknownTarget  Reason = "unknown target participant"
	ReasonUnknownRunType Reason = "unknown run type"
)

// Result is either an expanded run (Config set) or an empty one (Reason set).
type Result struct {
	Config    *study.Config            `json:"config,omitempty"`
	Processes []launchlist.ProcessSpec `json:"processes,omitempty"`

	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Expanded returns a result for a derived run.
func Expanded(cfg *study.Config, processes []launchlist.ProcessSpec) Result {
	return Result{Config: cfg, Processes: processes}
}

// Empty returns a result that launches nothing.
func Empty(reason Reason, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}

// IsEmpty reports whether the result launches nothing.
func (r Result) IsEmpty() bool {
	return r.Config == nil
}

// Expander expands requests against an open study.
type Expander struct {
	handle  *studystate.Handle
	builder launchlist.Builder
	deriver *timewindow.Deriver
	logger  *slog.Logger
}

// New creates an Expander. A nil builder uses launchlist.ScriptBuilder; a nil
// deriver is seeded from the study config.
func New(h *studystate.Handle, b launchlist.Builder, d *timewindow.Deriver) *Expander {
	if b == nil {
		b = launchlist.ScriptBuilder{}
	}
	if d == nil {
		d = timewindow.ForStudy(h.Config.Study)
	}
	return &Expander{handle: h, builder: b, deriver: d, logger: h.Logger()}
}

// Variant derives the run config for req from the study config without any
// I/O. The study config is not modified.
func (e *Expander) Variant(req Request) (Result, error) {
	return Variant(e.handle.Config, req)
}

// Expand derives the run config, makes sure the study's generation metadata
// exists, and builds the run's process list. Empty results are not errors.
func (e *Expander) Expand(ctx context.Context, req Request) (Result, error) {
	res, err := e.Variant(req)
	if err != nil || res.IsEmpty() {
		if err == nil {
			e.logger.Warn("run skipped", "run", req.String(), "reason", res.Reason, "detail", res.Detail)
			e.handle.Events.Log("run_skipped", map[string]any{
				"run":    req.String(),
				"reason": string(res.Reason),
				"detail": res.Detail,
			})
		}
		return res, err
	}

	if err := e.handle.EnsureGenerations(ctx, e.deriver); err != nil {
		return Result{}, err
	}

	list, err := e.builder.Build(res.Config)
	if err != nil {
		return Result{}, fmt.Errorf("building launch list for %s: %w", req, err)
	}
	res.Processes = list.Sequence(req.SkipServer)

	e.logger.Info("run expanded",
		"run", req.String(),
		"market", res.Config.Market.ID,
		"port", res.Config.Server.Port,
		"processes", len(res.Processes))
	if e.logger.Enabled(ctx, logging.LevelTrace) {
		for _, p := range res.Processes {
			e.logger.Log(ctx, logging.LevelTrace, "process", "path", p.Path, "args", sanitize.LogArgs(p.Args))
		}
	}
	e.handle.Events.Log("run_expanded", map[string]any{
		"run":       req.String(),
		"seq":       req.Seq,
		"market":    res.Config.Market.ID,
		"port":      res.Config.Server.Port,
		"processes": len(res.Processes),
	})
	return res, nil
}

// Variant derives the run config for req from cfg:
//
//   - the copy's server port is the base port plus req.Seq;
//   - study.type records the run type;
//   - baseline runs freeze every trader as a baseline agent, and a study with
//     a single start time is cut to two generations;
//   - training runs train every learning participant, or only req.Target
//     while the other learners are frozen;
//   - validation runs freeze every trader.
//
// Baseline, training and validation runs all save transactions.
func Variant(cfg *study.Config, req Request) (Result, error) {
	if !cfg.Compatible() {
		return Empty(ReasonIncompatible, fmt.Sprintf("version %q is older than %s or invalid", cfg.Version, constants.MinStudyVersion)), nil
	}
	if !req.Type.Valid() {
		return Empty(ReasonUnknownRunType, fmt.Sprintf("%q", req.Type)), nil
	}
	if req.Type == constants.RunTraining && req.Target != "" && !cfg.HasParticipant(req.Target) {
		return Empty(ReasonUnknownTarget, req.Target), nil
	}

	run, err := cfg.Clone()
	if err != nil {
		return Result{}, err
	}
	run.Server.Port = cfg.Server.BasePort() + req.Seq
	run.Study.Type = string(req.Type)
	learners := cfg.LearningParticipants()

	switch req.Type {
	case constants.RunBaseline:
		if cfg.Study.StartDatetime.IsSingle() {
			run.Study.Generations = constants.BaselineGenerations
		}
		run.Market.ID = string(constants.RunBaseline)
		run.Market.SaveTransactions = true
		for _, id := range run.ParticipantIDs() {
			run.UpdateTrader(id, func(t *study.Trader) {
				t.Learning = false
				t.Type = constants.BaselineAgentType
			})
		}

	case constants.RunTraining:
		run.Market.ID = string(constants.RunTraining)
		run.Market.SaveTransactions = true
		if req.Target != "" {
			run.Market.ID += "-" + req.Target
			for _, id := range learners {
				run.UpdateTrader(id, func(t *study.Trader) { t.Learning = false })
			}
			run.UpdateTrader(req.Target, func(t *study.Trader) { t.Learning = true })
		} else {
			for _, id := range learners {
				run.UpdateTrader(id, func(t *study.Trader) { t.Learning = true })
			}
		}

	case constants.RunValidation:
		run.Market.ID = string(constants.RunValidation)
		run.Market.SaveTransactions = true
		for _, id := range run.ParticipantIDs() {
			run.UpdateTrader(id, func(t *study.Trader) { t.Learning = false })
		}
	}

	return Expanded(run, nil), nil
}

// Preview derives the run config for req and builds its process list
// without touching any store. A nil builder uses launchlist.ScriptBuilder.
func Preview(cfg *study.Config, b launchlist.Builder, req Request) (Result, error) {
	res, err := Variant(cfg, req)
	if err != nil || res.IsEmpty() {
		return res, err
	}
	if b == nil {
		b = launchlist.ScriptBuilder{}
	}
	list, err := b.Build(res.Config)
	if err != nil {
		return Result{}, fmt.Errorf("building launch list for %s: %w", req, err)
	}
	res.Processes = list.Sequence(req.SkipServer)
	return res, nil
}

// DefaultPlan returns the usual study sequence: a baseline run, one joint
// training run and a validation run.
func DefaultPlan() []Request {
	return []Request{
		{Type: constants.RunBaseline},
		{Type: constants.RunTraining},
		{Type: constants.RunValidation},
	}
}

// ParseRequest parses "type" or "type:target", e.g. "training:P1".
// Types other than baseline, training and validation are rejected; a
// Request built directly with an unknown type expands to Empty instead.
func ParseRequest(s string) (Request, error) {
	typ, target, _ := strings.Cut(strings.TrimSpace(s), ":")
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ == "" {
		return Request{}, fmt.Errorf("invalid run %q: missing run type", s)
	}
	rt := constants.RunType(typ)
	if !rt.Valid() {
		return Request{}, fmt.Errorf("invalid run %q: unknown run type %q", s, typ)
	}
	return Request{Type: rt, Target: strings.TrimSpace(target)}, nil
}

// ParseRequests parses each run spec, or returns DefaultPlan when specs is empty.
func ParseRequests(specs []string) ([]Request, error) {
	if len(specs) == 0 {
		return DefaultPlan(), nil
	}
	out := make([]Request, 0, len(specs))
	for _, s := range specs {
		r, err := ParseRequest(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
