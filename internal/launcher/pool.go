// Package launcher runs process specs concurrently. Each spec waits out its
// delay, picks an interpreter by file extension, and runs to completion.
// A failing process is recorded and never stops its siblings.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/simbatch/internal/launchlist"
	"github.com/nvandessel/simbatch/internal/logging"
	"github.com/nvandessel/simbatch/internal/sanitize"
)

// ErrNoInterpreter is returned when no interpreter candidate for a script
// could be started.
var ErrNoInterpreter = errors.New("no usable interpreter")

// Interpreters maps a lowercase file extension (".py") to the interpreter
// candidates tried, in order, for scripts with that extension.
type Interpreters map[string][]string

// DefaultInterpreters prefers a project virtualenv over the system python.
func DefaultInterpreters() Interpreters {
	return Interpreters{
		".py": {"env/bin/python", "venv/Scripts/python", "python"},
	}
}

// Result is the outcome of one process spec.
type Result struct {
	Spec launchlist.ProcessSpec `json:"spec"`

	// Interpreter is the interpreter the script ran under, empty for
	// directly executed paths.
	Interpreter string `json:"interpreter,omitempty"`

	Started  bool          `json:"started"`
	ExitCode int           `json:"exit_code"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the process started and exited cleanly.
func (r Result) OK() bool {
	return r.Started && r.Err == nil && r.ExitCode == 0
}

// Failed counts results that did not exit cleanly.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}

// Pool runs specs with bounded parallelism.
type Pool struct {
	Runner       Runner
	Interpreters Interpreters

	// MaxParallel bounds concurrently running specs. 0 runs every spec at once.
	MaxParallel int

	Logger *slog.Logger
	Events *logging.EventLog

	// Available decides whether an interpreter candidate can be tried.
	// Nil uses the runner's Available method when it has one, and accepts
	// every candidate otherwise.
	Available func(candidate string) bool
}

// NewPool creates a pool running processes with runner.
func NewPool(runner Runner, maxParallel int, logger *slog.Logger) *Pool {
	return &Pool{
		Runner:       runner,
		Interpreters: DefaultInterpreters(),
		MaxParallel:  maxParallel,
		Logger:       logger,
	}
}

// Run executes every spec and blocks until all have finished. Results are
// returned in spec order. Cancelling ctx prevents specs that have not yet
// started from starting; running processes are left alone.
func (p *Pool) Run(ctx context.Context, specs []launchlist.ProcessSpec) []Result {
	results := make([]Result, len(specs))
	if len(specs) == 0 {
		return results
	}

	limit := len(specs)
	if p.MaxParallel > 0 && p.MaxParallel < limit {
		limit = p.MaxParallel
	}
	logger := logging.OrDiscard(p.Logger)
	logger.Info("launching processes", "count", len(specs), "parallel", limit)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = p.runOne(ctx, spec)
			p.report(logger, results[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pool) runOne(ctx context.Context, spec launchlist.ProcessSpec) (res Result) {
	res = Result{Spec: spec, ExitCode: -1}

	if spec.Delay > 0 {
		timer := time.NewTimer(spec.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Err = fmt.Errorf("not started: %w", ctx.Err())
			return res
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("not started: %w", err)
		return res
	}

	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	candidates, isScript := p.Interpreters[strings.ToLower(filepath.Ext(spec.Path))]
	if !isScript {
		res.ExitCode, res.Started, res.Err = p.Runner.Run(ctx, spec.Path, spec.Args)
		return res
	}

	args := append([]string{spec.Path}, spec.Args...)
	var lastErr error
	for _, interp := range candidates {
		if !p.available(interp) {
			continue
		}
		code, started, err := p.Runner.Run(ctx, interp, args)
		if !started {
			lastErr = err
			continue
		}
		res.Interpreter = interp
		res.Started = true
		res.ExitCode = code
		res.Err = err
		return res
	}
	if lastErr != nil {
		res.Err = fmt.Errorf("%w for %s: %w", ErrNoInterpreter, spec.Path, lastErr)
	} else {
		res.Err = fmt.Errorf("%w for %s: tried %s", ErrNoInterpreter, spec.Path, strings.Join(candidates, ", "))
	}
	return res
}

func (p *Pool) available(candidate string) bool {
	if p.Available != nil {
		return p.Available(candidate)
	}
	if a, ok := p.Runner.(interface{ Available(string) bool }); ok {
		return a.Available(candidate)
	}
	return true
}

func (p *Pool) report(logger *slog.Logger, r Result) {
	attrs := []any{
		"path", r.Spec.Path,
		"role", r.Spec.Role,
		"run", r.Spec.Run,
		"exit_code", r.ExitCode,
		"duration", r.Duration,
	}
	if r.Interpreter != "" {
		attrs = append(attrs, "interpreter", r.Interpreter)
	}

	event := map[string]any{
		"path":      r.Spec.Path,
		"args":      sanitize.LogArgs(r.Spec.Args),
		"role":      string(r.Spec.Role),
		"run":       r.Spec.Run,
		"started":   r.Started,
		"exit_code": r.ExitCode,
		"duration":  r.Duration.String(),
	}
	if r.Err != nil {
		event["error"] = r.Err.Error()
	}
	p.Events.Log("process_exited", event)

	if r.OK() {
		logger.Info("process finished", attrs...)
		return
	}
	logger.Error("process failed", append(attrs, "error", r.Err)...)
}
