package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simbatch/internal/batch"
	"github.com/nvandessel/simbatch/internal/expand"
	"github.com/nvandessel/simbatch/internal/launcher"
	"github.com/nvandessel/simbatch/internal/launchlist"
	"github.com/nvandessel/simbatch/internal/sanitize"
	"github.com/nvandessel/simbatch/internal/studystate"
)

func newExpandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand <config>",
		Short: "Show the settings and processes of one run without launching it",
		Long: `Derive one run variant from a study and print its process list.
Nothing is written: the study store and directory are left untouched.

Runs are given as type[:target]:
  baseline          every trader replaced by the baseline agent
  training          every learning participant trains
  training:P1       only P1 trains, other learners are frozen
  validation        every trader frozen`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			run, _ := cmd.Flags().GetString("run")
			seq, _ := cmd.Flags().GetInt("seq")
			skipServer, _ := cmd.Flags().GetBool("skip-server")
			if seq < 0 {
				return fmt.Errorf("--seq must be non-negative, got %d", seq)
			}

			req, err := expand.ParseRequest(run)
			if err != nil {
				return err
			}
			req.Seq = seq
			req.SkipServer = skipServer

			h, err := studystate.Inspect(cmd.Context(), e.studyOptions(args[0]))
			if err != nil {
				return err
			}
			defer h.Close()

			res, err := expand.Preview(h.Config, nil, req)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			if res.IsEmpty() {
				fmt.Fprintf(out, "Run %s is empty: %s (%s)\n", req, res.Reason, res.Detail)
				return nil
			}
			fmt.Fprintf(out, "Run %s: market %s on port %d\n", req, res.Config.Market.ID, res.Config.Server.Port)
			for _, id := range res.Config.ParticipantIDs() {
				tr := res.Config.Participants[id].Trader
				fmt.Fprintf(out, "  %-12s trader=%s learning=%v\n", id, tr.Type, tr.Learning)
			}
			printProcesses(out, res.Processes)
			return nil
		},
	}
	cmd.Flags().String("run", "", "Run as type[:target] (required)")
	cmd.Flags().Int("seq", 0, "Position in the batch; the server port is the base port plus seq")
	cmd.Flags().Bool("skip-server", false, "Leave the server process out")
	cmd.MarkFlagRequired("run")
	return cmd
}

func newLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch <config>",
		Short: "Launch a batch of runs and wait for every process to exit",
		Long: `Open the study, expand each requested run and launch every process.

Without --run the batch is baseline, training and validation. Run i of the
batch gets server port base+i. All runs share the study's generation time
windows, seeded once and reused on --resume.

Interrupting stops processes that have not started yet; running processes
are left to finish.

Examples:
  simbatch launch my_study
  simbatch launch my_study --run training:P1 --run training:P2 --skip-servers
  simbatch launch my_study --resume --max-parallel 8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			runSpecs, _ := cmd.Flags().GetStringArray("run")
			resume, _ := cmd.Flags().GetBool("resume")
			skipServers, _ := cmd.Flags().GetBool("skip-servers")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			maxParallel := e.settings.Launch.MaxParallel
			if cmd.Flags().Changed("max-parallel") {
				maxParallel, _ = cmd.Flags().GetInt("max-parallel")
			}
			if maxParallel < 0 {
				return fmt.Errorf("--max-parallel must be non-negative, got %d", maxParallel)
			}

			runs, err := expand.ParseRequests(runSpecs)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			opts := e.studyOptions(args[0])
			opts.Resume = resume
			rep, err := batch.Run(ctx, batch.Options{
				Study:        opts,
				Runs:         runs,
				SkipServers:  skipServers,
				DryRun:       dryRun,
				Runner:       runnerFor(cmd, e),
				Interpreters: launcher.Interpreters(e.settings.Launch.Interpreters),
				MaxParallel:  maxParallel,
			})
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), rep, dryRun)
			}
			if n := rep.Failed(); n > 0 && !dryRun {
				return fmt.Errorf("%d of %d processes failed", n, len(rep.Results))
			}
			return nil
		},
	}
	cmd.Flags().StringArray("run", nil, "Run as type[:target]; repeat for more runs")
	cmd.Flags().Bool("resume", false, "Reuse the stored study config and generations")
	cmd.Flags().Bool("skip-servers", false, "Leave server processes out of every run")
	cmd.Flags().Int("max-parallel", 0, "Max concurrently running processes (0 = no limit, default from config)")
	cmd.Flags().Bool("dry-run", false, "Plan the batch without touching the study or starting processes")
	return cmd
}

// runnerFor returns the process runner for cmd. Tests swap testRunner in.
func runnerFor(cmd *cobra.Command, e *env) launcher.Runner {
	if testRunner != nil {
		return testRunner
	}
	return launcher.ExecRunner{
		Dir:    e.settings.WorkDir(e.root),
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}
}

var testRunner launcher.Runner

func printProcesses(w io.Writer, specs []launchlist.ProcessSpec) {
	for i, p := range specs {
		delay := ""
		if p.Delay > 0 {
			delay = fmt.Sprintf(" (after %s)", p.Delay)
		}
		fmt.Fprintf(w, "  %2d. %-11s %s %s%s\n", i+1, p.Role, p.Path,
			strings.Join(sanitize.LogArgs(p.Args), " "), delay)
	}
}

func printReport(w io.Writer, rep batch.Report, dryRun bool) {
	if !rep.Compatible {
		fmt.Fprintln(w, "Study config is not compatible; nothing was launched.")
		return
	}
	fmt.Fprintf(w, "Batch %s\n", rep.BatchID)
	for _, r := range rep.Runs {
		if r.Reason != "" {
			fmt.Fprintf(w, "  %-16s skipped: %s %s\n", r.Request, r.Reason, r.Detail)
			continue
		}
		fmt.Fprintf(w, "  %-16s market %-14s port %-6d %d processes\n", r.Request, r.MarketID, r.Port, r.Processes)
	}
	if dryRun {
		printProcesses(w, rep.Processes)
		return
	}
	fmt.Fprintf(w, "%d processes, %d failed\n", len(rep.Results), rep.Failed())
	for _, r := range rep.Results {
		if r.OK() {
			continue
		}
		reason := fmt.Sprintf("exit code %d", r.ExitCode)
		if r.Err != nil {
			reason = r.Err.Error()
		}
		fmt.Fprintf(w, "  FAILED %s %s: %s\n", r.Spec.Run, r.Spec.Path, reason)
	}
}
