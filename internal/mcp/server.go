// Package mcp serves simbatch studies over the Model Context Protocol: an
// agent can inspect a study, preview run variants and launch batches.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/simbatch/internal/config"
	"github.com/nvandessel/simbatch/internal/constants"
	"github.com/nvandessel/simbatch/internal/launcher"
	"github.com/nvandessel/simbatch/internal/logging"
	"github.com/nvandessel/simbatch/internal/ratelimit"
)

// Server wraps the MCP SDK server with simbatch's tools.
type Server struct {
	server       *sdk.Server
	root         string
	settings     *config.SimbatchConfig
	runner       launcher.Runner
	logger       *slog.Logger
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
}

// Config holds server configuration.
type Config struct {
	Name    string
	Version string

	// Root is the simbatch root: the directory holding _simulations.
	Root string

	// Settings are the tool settings. Nil uses config.Default.
	Settings *config.SimbatchConfig

	// Runner starts launched processes. Nil uses an ExecRunner in the
	// configured work dir with process output sent to stderr, since stdout
	// carries the protocol.
	Runner launcher.Runner

	Logger *slog.Logger

	// AuditDir holds audit.jsonl. Empty means ~/.simbatch; "-" disables
	// auditing.
	AuditDir string
}

// NewServer creates an MCP server with the simbatch tools registered.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}

	runner := cfg.Runner
	if runner == nil {
		runner = launcher.ExecRunner{Dir: settings.WorkDir(cfg.Root), Stdout: os.Stderr, Stderr: os.Stderr}
	}

	auditDir := cfg.AuditDir
	if auditDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		auditDir = filepath.Join(home, constants.ToolDir)
	}
	var audit *AuditLogger
	if auditDir != "-" {
		audit = NewAuditLogger(auditDir)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{})

	s := &Server{
		server:       mcpServer,
		root:         cfg.Root,
		settings:     settings,
		runner:       runner,
		logger:       logging.OrDiscard(cfg.Logger),
		toolLimiters: ratelimit.NewToolLimiters(settings.MCP.LaunchesPerMinute),
		auditLogger:  audit,
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects, ctx is cancelled, or
// the process receives an interrupt.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("mcp server started", "root", s.root)
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.auditLogger.Close()
	return err
}

// Close releases the audit log.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
