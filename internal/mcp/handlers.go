package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/simbatch/internal/batch"
	"github.com/nvandessel/simbatch/internal/expand"
	"github.com/nvandessel/simbatch/internal/launcher"
	"github.com/nvandessel/simbatch/internal/pathutil"
	"github.com/nvandessel/simbatch/internal/ratelimit"
	"github.com/nvandessel/simbatch/internal/retry"
	"github.com/nvandessel/simbatch/internal/sanitize"
	"github.com/nvandessel/simbatch/internal/studystate"
)

// registerTools registers all simbatch MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolStudyShow,
		Description: "Show a study config: version gate, participants, learners and stored generations",
	}, s.handleStudyShow)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolStudyGenerations,
		Description: "List the stored simulated time window of every generation of a study",
	}, s.handleStudyGenerations)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolRunExpand,
		Description: "Preview one baseline, training or validation run: its derived settings and process list",
	}, s.handleRunExpand)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolBatchLaunch,
		Description: "Launch a batch of runs for a study and wait for every process to exit",
	}, s.handleBatchLaunch)
}

// studyOptions builds the options every tool opens a study with.
func (s *Server) studyOptions(name string) studystate.Options {
	return studystate.Options{
		ConfigDir:  s.settings.ConfigDir(s.root),
		ConfigName: name,
		Retry:      retry.Fixed(s.settings.Store.RetryAttempts, s.settings.Store.RetryWait),
		Logger:     s.logger,
		LogLevel:   s.settings.LogLevel(),
	}
}

// inspect opens a study read-only.
func (s *Server) inspect(ctx context.Context, name string) (*studystate.Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("study is required")
	}
	return studystate.Inspect(ctx, s.studyOptions(name))
}

// handleStudyShow implements the study_show tool.
func (s *Server) handleStudyShow(ctx context.Context, req *sdk.CallToolRequest, args StudyShowInput) (_ *sdk.CallToolResult, _ StudyShowOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolStudyShow, sanitize.StudyName(args.Study), start, retErr,
			sanitizeToolParams(map[string]any{"study": args.Study}))
	}()

	if err := s.toolLimiters.Check(ratelimit.ToolStudyShow); err != nil {
		return nil, StudyShowOutput{}, err
	}

	h, err := s.inspect(ctx, args.Study)
	if err != nil {
		return nil, StudyShowOutput{}, err
	}
	defer h.Close()

	gens, err := h.Generations(ctx)
	if err != nil {
		return nil, StudyShowOutput{}, fmt.Errorf("reading generations: %w", err)
	}

	cfg := h.Config
	out := StudyShowOutput{
		Name:         cfg.Study.Name,
		Version:      cfg.Version,
		Compatible:   cfg.Compatible(),
		Persisted:    h.Resumed,
		Generations:  cfg.Study.Generations,
		Seeded:       len(gens),
		MarketID:     cfg.Market.ID,
		Participants: cfg.ParticipantIDs(),
		Learning:     cfg.LearningParticipants(),
		BasePort:     cfg.Server.BasePort(),
		StudyDir:     pathutil.RedactPath(h.Dir),
	}
	if err := cfg.CheckVersion(); err != nil {
		out.Incompatible = err.Error()
	}
	if out.Learning == nil {
		out.Learning = []string{}
	}
	return nil, out, nil
}

// handleStudyGenerations implements the study_generations tool.
func (s *Server) handleStudyGenerations(ctx context.Context, req *sdk.CallToolRequest, args StudyGenerationsInput) (_ *sdk.CallToolResult, _ StudyGenerationsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolStudyGenerations, sanitize.StudyName(args.Study), start, retErr,
			sanitizeToolParams(map[string]any{"study": args.Study}))
	}()

	if err := s.toolLimiters.Check(ratelimit.ToolStudyGenerations); err != nil {
		return nil, StudyGenerationsOutput{}, err
	}

	h, err := s.inspect(ctx, args.Study)
	if err != nil {
		return nil, StudyGenerationsOutput{}, err
	}
	defer h.Close()

	if h.Store == nil {
		return nil, StudyGenerationsOutput{}, fmt.Errorf("study %s has not been launched yet", h.Config.Study.Name)
	}
	windows, err := h.Generations(ctx)
	if err != nil {
		return nil, StudyGenerationsOutput{}, fmt.Errorf("reading generations: %w", err)
	}

	return nil, StudyGenerationsOutput{
		Study:    h.Config.Study.Name,
		Windows:  windows,
		Count:    len(windows),
		Timezone: h.Config.Study.Timezone,
	}, nil
}

// handleRunExpand implements the run_expand tool. It reads the study but
// never writes to it.
func (s *Server) handleRunExpand(ctx context.Context, req *sdk.CallToolRequest, args RunExpandInput) (_ *sdk.CallToolResult, _ RunExpandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolRunExpand, sanitize.StudyName(args.Study), start, retErr,
			sanitizeToolParams(map[string]any{
				"study":       args.Study,
				"run":         args.Run,
				"seq":         args.Seq,
				"skip_server": args.SkipServer,
			}))
	}()

	if err := s.toolLimiters.Check(ratelimit.ToolRunExpand); err != nil {
		return nil, RunExpandOutput{}, err
	}
	if args.Seq < 0 {
		return nil, RunExpandOutput{}, fmt.Errorf("seq must be non-negative, got %d", args.Seq)
	}

	runReq, err := expand.ParseRequest(args.Run)
	if err != nil {
		return nil, RunExpandOutput{}, err
	}
	runReq.Seq = args.Seq
	runReq.SkipServer = args.SkipServer

	h, err := s.inspect(ctx, args.Study)
	if err != nil {
		return nil, RunExpandOutput{}, err
	}
	defer h.Close()

	res, err := expand.Preview(h.Config, nil, runReq)
	if err != nil {
		return nil, RunExpandOutput{}, err
	}

	out := RunExpandOutput{Run: runReq.String(), Empty: res.IsEmpty()}
	if res.IsEmpty() {
		out.Reason = string(res.Reason)
		out.Detail = res.Detail
		return nil, out, nil
	}
	out.MarketID = res.Config.Market.ID
	out.Port = res.Config.Server.Port
	out.Processes = res.Processes
	return nil, out, nil
}

// handleBatchLaunch implements the batch_launch tool.
func (s *Server) handleBatchLaunch(ctx context.Context, req *sdk.CallToolRequest, args BatchLaunchInput) (_ *sdk.CallToolResult, _ BatchLaunchOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolBatchLaunch, sanitize.StudyName(args.Study), start, retErr,
			sanitizeToolParams(map[string]any{
				"study":        args.Study,
				"runs":         args.Runs,
				"resume":       args.Resume,
				"skip_servers": args.SkipServers,
				"dry_run":      args.DryRun,
			}))
	}()

	if err := s.toolLimiters.Check(ratelimit.ToolBatchLaunch); err != nil {
		return nil, BatchLaunchOutput{}, err
	}
	if args.Study == "" {
		return nil, BatchLaunchOutput{}, fmt.Errorf("study is required")
	}

	runs, err := expand.ParseRequests(args.Runs)
	if err != nil {
		return nil, BatchLaunchOutput{}, err
	}

	opts := s.studyOptions(args.Study)
	opts.Resume = args.Resume
	rep, err := batch.Run(ctx, batch.Options{
		Study:        opts,
		Runs:         runs,
		SkipServers:  args.SkipServers,
		DryRun:       args.DryRun,
		Runner:       s.runner,
		Interpreters: launcher.Interpreters(s.settings.Launch.Interpreters),
		MaxParallel:  s.settings.Launch.MaxParallel,
	})
	if err != nil {
		return nil, BatchLaunchOutput{}, fmt.Errorf("launch failed: %w", err)
	}

	out := BatchLaunchOutput{
		BatchID:    rep.BatchID,
		Compatible: rep.Compatible,
		Runs:       rep.Runs,
		Processes:  len(rep.Processes),
		Failed:     rep.Failed(),
	}
	switch {
	case !rep.Compatible:
		out.Message = "Study config is not compatible; nothing was launched"
	case args.DryRun:
		out.Message = fmt.Sprintf("Planned %d runs, %d processes (dry run)", len(rep.Runs), out.Processes)
	default:
		out.Message = fmt.Sprintf("Batch %s finished: %d processes, %d failed", rep.BatchID, out.Processes, out.Failed)
	}
	return nil, out, nil
}
