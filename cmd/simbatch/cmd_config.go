package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simbatch/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage simbatch configuration",
		Long: `View and modify simbatch settings.

Configuration is stored in ~/.simbatch/config.yaml. SIMBATCH_* environment
variables override it.

Examples:
  simbatch config list                          # Show all settings
  simbatch config get launch.max_parallel       # Get a specific setting
  simbatch config set launch.max_parallel 8     # Set a setting
  simbatch config set store.retry_wait 500ms`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)
	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration (~/.simbatch/config.yaml):")
			fmt.Fprintln(out)
			for _, key := range config.Keys() {
				v, _ := cfg.Get(key)
				s := fmt.Sprintf("%v", v)
				if s == "" {
					s = "(default)"
				}
				fmt.Fprintf(out, "  %-24s %s\n", key+":", s)
			}
			if len(cfg.Launch.Interpreters) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Interpreters:")
				for ext, candidates := range cfg.Launch.Interpreters {
					fmt.Fprintf(out, "  %-6s %v\n", ext, candidates)
				}
			}
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			value, ok := cfg.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"key": args[0], "value": value})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v\n", value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			// Start from the file alone so environment overrides are not saved.
			cfg := config.Default()
			path, err := config.Path()
			if err != nil {
				return err
			}
			if fileCfg, err := config.LoadFromFile(path); err == nil {
				cfg = fileCfg
			}

			if err := cfg.Set(key, value); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"key": key, "value": value, "status": "saved"})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}
