package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simbatch/internal/archive"
	"github.com/nvandessel/simbatch/internal/constants"
	"github.com/nvandessel/simbatch/internal/pathutil"
	"github.com/nvandessel/simbatch/internal/store"
	"github.com/nvandessel/simbatch/internal/study"
	"github.com/nvandessel/simbatch/internal/studystate"
	"github.com/nvandessel/simbatch/internal/timewindow"
)

func newStudyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "study",
		Short: "Create, inspect and move study state",
		Long: `Manage a study's output store and directory.

A study is named by its config file under _simulations/_configs (or
paths.config_dir), without extension.

Examples:
  simbatch study init my_study              # Fresh store, seeded generations
  simbatch study show my_study              # Config summary
  simbatch study generations my_study       # Stored time windows
  simbatch study export my_study            # Archive for another machine
  simbatch study import archive.simbatch.gz # Restore an archive`,
	}

	cmd.AddCommand(
		newStudyInitCmd(),
		newStudyShowCmd(),
		newStudyGenerationsCmd(),
		newStudyExportCmd(),
		newStudyImportCmd(),
		newStudyArchivesCmd(),
	)
	return cmd
}

func newStudyInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <config>",
		Short: "Create the study store and seed every generation's time window",
		Long: `Create the study store and directory and seed the time window of every
generation.

Without --resume any existing store and study directory are replaced.
With --resume a stored study is reopened and only missing generations
are seeded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			resume, _ := cmd.Flags().GetBool("resume")

			opts := e.studyOptions(args[0])
			opts.Resume = resume
			h, err := studystate.Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.EnsureGenerations(cmd.Context(), nil); err != nil {
				return err
			}
			windows, err := h.Generations(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"study":       h.Config.Study.Name,
					"resumed":     h.Resumed,
					"dir":         h.Dir,
					"store":       h.Config.Study.StoreDSN(),
					"generations": len(windows),
				})
			}
			verb := "Created"
			if h.Resumed {
				verb = "Resumed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s study %s: %d generations\n", verb, h.Config.Study.Name, len(windows))
			fmt.Fprintf(cmd.OutOrStdout(), "  dir:   %s\n", h.Dir)
			fmt.Fprintf(cmd.OutOrStdout(), "  store: %s\n", h.Config.Study.StoreDSN())
			return nil
		},
	}
	cmd.Flags().Bool("resume", false, "Reuse the stored study config and generations")
	return cmd
}

func newStudyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <config>",
		Short: "Show a study config",
		Long: `Show a study config. Once a study has been created, the stored config
is shown instead of the file, since that is what a resumed launch uses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			h, err := studystate.Inspect(cmd.Context(), e.studyOptions(args[0]))
			if err != nil {
				return err
			}
			defer h.Close()

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), h.Config)
			}

			cfg := h.Config
			out := cmd.OutOrStdout()
			source := "config file"
			if h.Resumed {
				source = "study store"
			}
			fmt.Fprintf(out, "Study %s (from %s)\n", cfg.Study.Name, source)
			compat := "yes"
			if err := cfg.CheckVersion(); err != nil {
				compat = "no: " + err.Error()
			}
			fmt.Fprintf(out, "  version:      %s (compatible: %s)\n", cfg.Version, compat)
			fmt.Fprintf(out, "  generations:  %d x %g days\n", cfg.Study.Generations, cfg.Study.Days)
			fmt.Fprintf(out, "  start:        %s (%s)\n", strings.Join(cfg.Study.StartDatetime.Values(), " .. "), startMode(cfg))
			fmt.Fprintf(out, "  timezone:     %s\n", cfg.Study.Timezone)
			fmt.Fprintf(out, "  participants: %s\n", strings.Join(cfg.ParticipantIDs(), ", "))
			fmt.Fprintf(out, "  learning:     %s\n", valueOrDefault(strings.Join(cfg.LearningParticipants(), ", "), "(none)"))
			fmt.Fprintf(out, "  server:       %s:%d\n", cfg.Server.HostOrDefault(), cfg.Server.BasePort())
			fmt.Fprintf(out, "  store:        %s\n", valueOrDefault(cfg.Study.StoreDSN(), "(not set)"))
			fmt.Fprintf(out, "  dir:          %s\n", h.Dir)
			return nil
		},
	}
}

func startMode(cfg *study.Config) string {
	s := cfg.Study.StartDatetime
	switch {
	case s.IsSingle():
		return "single"
	case cfg.Study.Sequential():
		return "sequential"
	default:
		return "random"
	}
}

func newStudyGenerationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generations <config>",
		Short: "List the stored time window of every generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			h, err := studystate.Inspect(cmd.Context(), e.studyOptions(args[0]))
			if err != nil {
				return err
			}
			defer h.Close()

			if h.Store == nil {
				return fmt.Errorf("study %s has no store yet; run 'simbatch study init %s' first", h.Config.Study.Name, args[0])
			}
			windows, err := h.Generations(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				if windows == nil {
					windows = []timewindow.Window{}
				}
				return writeJSON(cmd.OutOrStdout(), windows)
			}
			loc, _ := time.LoadLocation(h.Config.Study.Timezone)
			if loc == nil {
				loc = time.UTC
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s  %-25s  %-25s\n", "GENERATION", "START", "END")
			for _, w := range windows {
				fmt.Fprintf(out, "%-10d  %-25s  %-25s\n", w.Generation,
					time.Unix(w.Start, 0).In(loc).Format(time.RFC3339),
					time.Unix(w.End, 0).In(loc).Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newStudyExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <config>",
		Short: "Write the study store to a compressed archive",
		Long: `Write every stored config and generation row to a checksummed archive.

Archives go to _simulations/_archives by default. An explicit --output
must also be inside _simulations/_archives or ~/.simbatch/archives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			keep, _ := cmd.Flags().GetInt("keep")

			h, err := studystate.Inspect(cmd.Context(), e.studyOptions(args[0]))
			if err != nil {
				return err
			}
			defer h.Close()
			if h.Store == nil {
				return fmt.Errorf("study %s has no store to export", h.Config.Study.Name)
			}

			if output == "" {
				output = archive.Path(archive.DefaultDir(h.Config.Study.SimulationsRoot()), h.Config.Study.Name, time.Now())
			} else {
				simRoot := h.Config.Study.SimRoot
				if simRoot == "" {
					simRoot = "."
				}
				allowed, err := pathutil.DefaultArchiveDirs(simRoot)
				if err != nil {
					return err
				}
				if err := pathutil.ValidatePath(output, allowed); err != nil {
					return fmt.Errorf("export path rejected: %w", err)
				}
			}

			a, err := archive.Export(cmd.Context(), h.Store, h.Config.Study.Name)
			if err != nil {
				return err
			}
			header, err := archive.Write(output, a)
			if err != nil {
				return fmt.Errorf("writing archive: %w", err)
			}
			rotated, err := archive.Rotate(filepath.Dir(output), h.Config.Study.Name, keep)
			if err != nil {
				e.logger.Warn("archive rotation failed", "error", err)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":    output,
					"header":  header,
					"rotated": rotated,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s: %d config rows, %d generations -> %s\n",
				h.Config.Study.Name, header.ConfigRows, header.GenerationRows, output)
			for _, p := range rotated {
				fmt.Fprintf(cmd.OutOrStdout(), "  removed old archive %s\n", filepath.Base(p))
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Archive path")
	cmd.Flags().Int("keep", 0, "Keep only the newest N archives of this study (0 keeps all)")
	return cmd
}

func newStudyImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Restore a study store from an archive",
		Long: `Restore a study store from an archive written by 'study export'.

The store is created at --dsn, or at the location recorded in the archived
config. An existing store is only written to with --merge, which adds the
archived rows that are missing and never overwrites.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, _ := cmd.Flags().GetString("dsn")
			merge, _ := cmd.Flags().GetBool("merge")

			_, a, err := archive.Read(args[0])
			if err != nil {
				return err
			}
			if len(a.Configs) == 0 {
				return fmt.Errorf("archive has no study config")
			}
			var cfg study.Config
			if err := json.Unmarshal(a.Configs[0].Data, &cfg); err != nil {
				return fmt.Errorf("decoding archived config: %w", err)
			}
			if dsn == "" {
				dsn = cfg.Study.StoreDSN()
			}
			if dsn == "" {
				return errors.New("archived config has no store location; pass --dsn")
			}
			if store.Exists(dsn) && !merge {
				return fmt.Errorf("store %s already exists; pass --merge to add missing rows", dsn)
			}

			st, err := store.OpenSQLite(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := archive.Import(cmd.Context(), st, a)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"study":  a.Study,
					"store":  dsn,
					"result": res,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s: %d config rows, %d generations (%d skipped)\n",
				a.Study, dsn, res.ConfigsImported, res.GenerationsImported, res.ConfigsSkipped+res.GenerationsSkipped)
			fmt.Fprintf(cmd.OutOrStdout(), "Resume with: simbatch launch <config> --resume\n")
			return nil
		},
	}
	cmd.Flags().String("dsn", "", "Store location (defaults to the archived config's)")
	cmd.Flags().Bool("merge", false, "Write into an existing store, skipping rows it already has")
	return cmd
}

func newStudyArchivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archives [study]",
		Short: "List archives in <root>/_simulations/_archives, optionally for one study",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootDir(cmd)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			infos, err := archive.List(archive.DefaultDir(filepath.Join(root, constants.SimulationsDir)), name)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				if infos == nil {
					infos = []archive.Info{}
				}
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archives found.")
				return nil
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s  %8d  %s\n",
					info.CreatedAt.Format(time.RFC3339), info.Study, info.Size, filepath.Base(info.Path))
			}
			return nil
		},
	}
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
