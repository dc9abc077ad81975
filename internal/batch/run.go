package batch

import (
	"context"
	"os"
	"strings"

	"github.com/nvandessel/simbatch/internal/expand"
	"github.com/nvandessel/simbatch/internal/launcher"
	"github.com/nvandessel/simbatch/internal/launchlist"
	"github.com/nvandessel/simbatch/internal/studystate"
	"github.com/nvandessel/simbatch/internal/timewindow"
)

// Options describes a whole batch invocation: which study to open, which
// runs to expand and how to launch them.
type Options struct {
	Study studystate.Options

	// Runs to expand. Empty means expand.DefaultPlan.
	Runs        []expand.Request
	SkipServers bool

	// DryRun plans the batch without creating, wiping or launching anything.
	DryRun bool

	// Runner starts processes. Nil uses an ExecRunner in WorkDir.
	Runner  launcher.Runner
	WorkDir string

	// Interpreters override the defaults per extension. Keys match
	// case-insensitively.
	Interpreters launcher.Interpreters
	MaxParallel  int

	Builder launchlist.Builder
	Deriver *timewindow.Deriver
}

// Run opens the study, expands the runs and launches them. With DryRun set
// the study is only inspected and the runs are previewed. The study is closed
// before Run returns.
func Run(ctx context.Context, opts Options) (Report, error) {
	runs := opts.Runs
	if len(runs) == 0 {
		runs = expand.DefaultPlan()
	}

	if opts.DryRun {
		return dryRun(ctx, opts, runs)
	}

	h, err := studystate.Open(ctx, opts.Study)
	if err != nil {
		return Report{}, err
	}
	defer h.Close()

	runner := opts.Runner
	if runner == nil {
		runner = launcher.ExecRunner{Dir: opts.WorkDir, Stdout: os.Stdout, Stderr: os.Stderr}
	}
	pool := launcher.NewPool(runner, opts.MaxParallel, h.Logger())
	for ext, candidates := range opts.Interpreters {
		pool.Interpreters[strings.ToLower(ext)] = candidates
	}

	l := New(h, expand.New(h, opts.Builder, opts.Deriver), pool)
	return l.Launch(ctx, runs, opts.SkipServers)
}

// dryRun previews runs against the config a real launch would use: the stored
// one when resuming an existing study, the config file otherwise.
func dryRun(ctx context.Context, opts Options, runs []expand.Request) (Report, error) {
	if !opts.Study.Resume {
		cfg, err := studystate.LoadConfig(opts.Study)
		if err != nil {
			return Report{}, err
		}
		return Preview(cfg, opts.Builder, runs, opts.SkipServers, opts.Study.Logger)
	}

	h, err := studystate.Inspect(ctx, opts.Study)
	if err != nil {
		return Report{}, err
	}
	defer h.Close()
	return Preview(h.Config, opts.Builder, runs, opts.SkipServers, h.Logger())
}
