package main

import (
	"github.com/spf13/cobra"

	"github.com/nvandessel/simbatch/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve study tools over MCP on stdio",
		Long: `Run an MCP server on stdin/stdout exposing the tools
study_show, study_generations, run_expand and batch_launch.

Logs and launched process output go to stderr; stdout carries the protocol.
Tool calls are recorded in ~/.simbatch/audit.jsonl.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			server, err := mcp.NewServer(&mcp.Config{
				Name:     "simbatch",
				Version:  version,
				Root:     e.root,
				Settings: e.settings,
				Logger:   e.logger,
			})
			if err != nil {
				return err
			}
			defer server.Close()
			return server.Run(cmd.Context())
		},
	}
}
