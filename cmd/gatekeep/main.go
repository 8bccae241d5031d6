package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m4xw311/gatekeep/agent"
	"github.com/m4xw311/gatekeep/agent/terminal"
	"github.com/m4xw311/gatekeep/approval"
	"github.com/m4xw311/gatekeep/config"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/llm"
	"github.com/m4xw311/gatekeep/logging"
	"github.com/m4xw311/gatekeep/session"
	"github.com/m4xw311/gatekeep/tools"
	"github.com/m4xw311/gatekeep/tools/mcp"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "gatekeep",
		Short: "A terminal coding assistant that asks before it acts",
		Long: `gatekeep is a conversational coding assistant for the terminal.

The model can read, write and edit files, list directories and run shell
commands. Every tool call outside the configured exempt list is shown to you
first; press y or Enter to run the whole batch, n or Esc to refuse it.

Configuration is read from ~/.gatekeep/config.yaml and ./.gatekeep/config.yaml,
the project file taking precedence.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show a debug panel with recent log events")
	return cmd
}

func run(ctx context.Context, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, ring := logging.Debug(verbose, cfg.DebugLogLines)

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	renderer, err := terminal.NewRenderer(0)
	if err != nil {
		logger.Warn("markdown rendering disabled", "err", err)
	}
	p := tea.NewProgram(terminal.New(ctx, app.session, ring, renderer))
	app.session.WithObserver(func() { p.Send(terminal.RefreshMsg{}) })
	if _, err := p.Run(); err != nil {
		return errors.Wrapf(err, "terminal program failed")
	}
	return nil
}

type app struct {
	session *session.Session
	gate    *approval.Gate
	tools   []tools.Tool
	clients []*mcp.MCPClient
}

func (a *app) close() { mcp.StopAll(a.clients) }

// build wires the configured model, tools and approval policy into a session.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	client, err := llm.NewClient(ctx, cfg.LLMClient, cfg.Model)
	if err != nil {
		return nil, err
	}

	registry := tools.NewToolRegistry(cfg, logger)
	clients, err := mcp.RegisterServers(ctx, cfg.AdditionalMCPServers, registry, logger)
	if err != nil {
		return nil, err
	}
	toolset, err := cfg.GetToolset("default")
	if err != nil {
		mcp.StopAll(clients)
		return nil, err
	}
	active, err := registry.Subset(toolset)
	if err != nil {
		mcp.StopAll(clients)
		return nil, err
	}

	available := active.List()
	gen := llm.NewStepGenerator(client, cfg.LLMClient, available, logger)
	gate := approval.New(active, approval.NewPolicy(cfg.Approval.Exempt), logger)
	loop := agent.New(gen, gate, cfg.MaxSteps, logger)
	logger.Info("gatekeep ready",
		"llm", cfg.LLMClient,
		"model", cfg.Model,
		"tools", len(available),
		"exempt", gate.Policy().Exempt(),
	)
	return &app{
		session: session.New(loop, gate, logger),
		gate:    gate,
		tools:   available,
		clients: clients,
	}, nil
}
