package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simbatch/internal/config"
	"github.com/nvandessel/simbatch/internal/logging"
	"github.com/nvandessel/simbatch/internal/retry"
	"github.com/nvandessel/simbatch/internal/studystate"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simbatch",
		Short: "Batch launcher for market simulation studies",
		Long: `simbatch turns a study config into batches of simulation runs.

Each batch expands baseline, training and validation variants of the study,
shares one set of per-generation time windows across them, and launches
every run's server, market, controller and participant processes.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("root", ".", "Simbatch root directory (holds _simulations)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newStudyCmd(),
		newExpandCmd(),
		newLaunchCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput(cmd) {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "simbatch version %s\n", version)
			}
		},
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// rootDir returns the absolute --root.
func rootDir(cmd *cobra.Command) (string, error) {
	root, _ := cmd.Flags().GetString("root")
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}
	return abs, nil
}

// loadSettings loads the tool config and applies --log-level.
func loadSettings(cmd *cobra.Command) (*config.SimbatchConfig, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if err := settings.Set("logging.level", level); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

func newLogger(cmd *cobra.Command, settings *config.SimbatchConfig) *slog.Logger {
	return logging.NewLogger(settings.LogLevel(), cmd.ErrOrStderr())
}

// env bundles what every study command needs.
type env struct {
	root     string
	settings *config.SimbatchConfig
	logger   *slog.Logger
}

func newEnv(cmd *cobra.Command) (*env, error) {
	root, err := rootDir(cmd)
	if err != nil {
		return nil, err
	}
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return &env{root: root, settings: settings, logger: newLogger(cmd, settings)}, nil
}

func (e *env) studyOptions(name string) studystate.Options {
	return studystate.Options{
		ConfigDir:  e.settings.ConfigDir(e.root),
		ConfigName: name,
		Retry:      retry.Fixed(e.settings.Store.RetryAttempts, e.settings.Store.RetryWait),
		Logger:     e.logger,
		LogLevel:   e.settings.LogLevel(),
	}
}

// signalContext returns a context cancelled on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
