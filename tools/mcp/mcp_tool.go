// Package mcp exposes the tools of external MCP servers as gatekeep tools.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/m4xw311/gatekeep/config"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/logging"
	"github.com/m4xw311/gatekeep/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// caller is the part of an MCP client session a tool needs.
type caller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  map[string]*MCPTool
	logger *slog.Logger
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, server config.MCPServer, logger *slog.Logger) (*MCPClient, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	cmd := exec.Command(server.Command, server.Args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "gatekeep", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", server.Name)
	}
	client := &MCPClient{
		Name:   server.Name,
		cmd:    cmd,
		conn:   conn,
		tools:  make(map[string]*MCPTool),
		logger: logger,
	}
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			_ = client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", server.Name)
		}
		for _, t := range list.Tools {
			client.tools[t.Name] = newMCPTool(t, conn)
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	logger.Info("mcp server ready", "server", server.Name, "tools", len(client.tools))
	return client, nil
}

func newMCPTool(t *mcpsdk.Tool, conn caller) *MCPTool {
	var schema *tools.Schema
	if raw, err := json.Marshal(t.InputSchema); err == nil {
		schema = tools.SchemaFromJSON(raw)
	} else {
		schema = &tools.Schema{Type: "object", Properties: map[string]tools.Property{}}
	}
	return &MCPTool{
		toolName:    t.Name,
		description: t.Description,
		schema:      schema,
		conn:        conn,
	}
}

// GetTool returns a specific tool provided by this MCP server by its name.
func (c *MCPClient) GetTool(toolName string) (*MCPTool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Tools returns the server's tools sorted by name.
func (c *MCPClient) Tools() []tools.Tool {
	out := make([]tools.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating mcp server", "server", c.Name)
		return c.cmd.Process.Kill()
	}
	return nil
}

// MCPTool represents a tool available from an external MCP server.
type MCPTool struct {
	toolName    string
	description string
	schema      *tools.Schema
	conn        caller
}

// Name returns the tool name as reported by the server. Provider APIs reject
// ':' in names, so no server prefix is added.
func (t *MCPTool) Name() string { return t.toolName }

func (t *MCPTool) Description() string { return t.description }

func (t *MCPTool) Schema() *tools.Schema { return t.schema }

// Execute calls the tool on the server and concatenates its text content.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	var b strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' reported an error: %s", t.Name(), b.String())
	}
	return b.String(), nil
}

// RegisterServers starts every configured server and registers its tools.
// The returned clients must be stopped by the caller.
func RegisterServers(ctx context.Context, servers []config.MCPServer, registry *tools.ToolRegistry, logger *slog.Logger) ([]*MCPClient, error) {
	var clients []*MCPClient
	for _, server := range servers {
		client, err := NewMCPClient(ctx, server, logger)
		if err != nil {
			StopAll(clients)
			return nil, err
		}
		clients = append(clients, client)
		for _, t := range client.Tools() {
			if err := registry.Register(t); err != nil {
				StopAll(clients)
				return nil, errors.Wrapf(err, "registering tools of MCP server '%s'", server.Name)
			}
		}
	}
	return clients, nil
}

// StopAll stops every client, ignoring errors.
func StopAll(clients []*MCPClient) {
	for _, c := range clients {
		_ = c.Stop()
	}
}
