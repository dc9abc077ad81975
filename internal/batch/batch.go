// Package batch launches a batch of runs for an open study: it assigns each
// run its sequence number, expands the runs into process specs and hands
// them all to one launcher pool.
package batch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nvandessel/simbatch/internal/expand"
	"github.com/nvandessel/simbatch/internal/launcher"
	"github.com/nvandessel/simbatch/internal/launchlist"
	"github.com/nvandessel/simbatch/internal/logging"
	"github.com/nvandessel/simbatch/internal/study"
	"github.com/nvandessel/simbatch/internal/studystate"
)

// RunReport summarizes one requested run.
type RunReport struct {
	Request expand.Request `json:"request"`

	// Reason is set when the run was skipped.
	Reason expand.Reason `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`

	MarketID  string `json:"market_id,omitempty"`
	Port      int    `json:"port,omitempty"`
	Processes int    `json:"processes"`
}

// Report describes a batch.
type Report struct {
	BatchID string `json:"batch_id"`

	// Compatible is false when the study config failed the version gate and
	// nothing was expanded.
	Compatible bool `json:"compatible"`

	Runs      []RunReport              `json:"runs,omitempty"`
	Processes []launchlist.ProcessSpec `json:"processes,omitempty"`
	Results   []launcher.Result        `json:"results,omitempty"`
}

// Failed counts processes that did not exit cleanly.
func (r Report) Failed() int {
	return launcher.Failed(r.Results)
}

// Launcher expands and launches batches for one study.
type Launcher struct {
	handle   *studystate.Handle
	expander *expand.Expander
	pool     *launcher.Pool
	logger   *slog.Logger
}

// New creates a batch launcher. The pool's event log defaults to the study's.
func New(h *studystate.Handle, e *expand.Expander, pool *launcher.Pool) *Launcher {
	if pool.Events == nil {
		pool.Events = h.Events
	}
	if pool.Logger == nil {
		pool.Logger = h.Logger()
	}
	return &Launcher{handle: h, expander: e, pool: pool, logger: h.Logger()}
}

// Plan expands runs without launching anything. Run i gets sequence number i,
// so its server listens on the base port plus i. Process specs from all runs
// are concatenated in run order. Missing generation windows are seeded.
func (l *Launcher) Plan(ctx context.Context, runs []expand.Request, skipServers bool) (Report, error) {
	return plan(l.handle.Config, runs, skipServers, l.logger, func(req expand.Request) (expand.Result, error) {
		return l.expander.Expand(ctx, req)
	})
}

// Preview plans runs for cfg like Plan, but touches no store or directory.
// A nil builder uses launchlist.ScriptBuilder.
func Preview(cfg *study.Config, b launchlist.Builder, runs []expand.Request, skipServers bool, logger *slog.Logger) (Report, error) {
	return plan(cfg, runs, skipServers, logging.OrDiscard(logger), func(req expand.Request) (expand.Result, error) {
		return expand.Preview(cfg, b, req)
	})
}

func plan(cfg *study.Config, runs []expand.Request, skipServers bool, logger *slog.Logger,
	expandRun func(expand.Request) (expand.Result, error)) (Report, error) {
	rep := Report{BatchID: uuid.NewString(), Compatible: cfg.Compatible()}
	if !rep.Compatible {
		logger.Warn("study config not compatible",
			"study", cfg.Study.Name,
			"version", cfg.Version)
		return rep, nil
	}

	for i, req := range runs {
		req.Seq = i
		req.SkipServer = skipServers

		res, err := expandRun(req)
		if err != nil {
			return rep, err
		}
		rr := RunReport{Request: req, Reason: res.Reason, Detail: res.Detail}
		if !res.IsEmpty() {
			rr.MarketID = res.Config.Market.ID
			rr.Port = res.Config.Server.Port
			rr.Processes = len(res.Processes)
			rep.Processes = append(rep.Processes, res.Processes...)
		}
		rep.Runs = append(rep.Runs, rr)
	}
	return rep, nil
}

// Launch plans runs and executes every resulting process, blocking until all
// have exited. Process failures are reported in Report.Results, not as an
// error.
func (l *Launcher) Launch(ctx context.Context, runs []expand.Request, skipServers bool) (Report, error) {
	rep, err := l.Plan(ctx, runs, skipServers)
	if err != nil || !rep.Compatible {
		return rep, err
	}

	events := l.handle.Events.With(map[string]any{"batch_id": rep.BatchID})
	events.Log("batch_started", map[string]any{
		"runs":      len(runs),
		"processes": len(rep.Processes),
	})

	pool := *l.pool
	pool.Events = l.pool.Events.With(map[string]any{"batch_id": rep.BatchID})
	pool.Logger = l.pool.Logger.With("batch_id", rep.BatchID)
	rep.Results = pool.Run(ctx, rep.Processes)

	events.Log("batch_finished", map[string]any{
		"processes": len(rep.Results),
		"failed":    rep.Failed(),
	})
	l.logger.Info("batch finished",
		"batch_id", rep.BatchID,
		"processes", len(rep.Results),
		"failed", rep.Failed())
	return rep, nil
}
