package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/logging"
)

const (
	defaultCommandTimeout = 10 * time.Second
	maxCommandOutput      = 16 * 1024
	// commandWaitDelay bounds how long output is still collected after the
	// process group has been killed.
	commandWaitDelay = 500 * time.Millisecond
)

// ExecuteCommandTool implements the tool for running OS commands.
type ExecuteCommandTool struct {
	allowedCommands []string
	logger          *slog.Logger
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command with sh -c and returns its combined output."
	}

	var b strings.Builder
	b.WriteString("Executes a shell command with sh -c and returns its combined output.\nAllowed command patterns:\n")
	for _, cmd := range t.allowedCommands {
		fmt.Fprintf(&b, "- %s\n", cmd)
	}
	return b.String()
}

func (t *ExecuteCommandTool) Schema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]Property{
			"command": {Type: "string", Description: "Shell command line to run."},
			"timeout": {
				Type:        "integer",
				Description: "Timeout in milliseconds.",
				Minimum:     ptr(1000),
				Maximum:     ptr(60000),
				Default:     int(defaultCommandTimeout / time.Millisecond),
			},
		},
		Required: []string{"command"},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, ok := args["command"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'command' argument")
	}

	logger := t.logger
	if logger == nil {
		logger = logging.Nop()
	}
	allowed, err := isCommandAllowed(command, t.allowedCommands, logger)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	timeout := time.Duration(intArg(args, "timeout", int(defaultCommandTimeout/time.Millisecond))) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	killProcessGroup(cmd)
	cmd.WaitDelay = commandWaitDelay
	start := time.Now()
	output, err := cmd.CombinedOutput()
	logger.Debug("command finished", "command", command, "duration", time.Since(start), "err", err)
	out := truncateOutput(string(output))
	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.New("command timed out after %s. Output:\n%s", timeout, out)
	}
	if err != nil {
		return "", errors.Wrapf(err, "command execution failed. Output:\n%s", out)
	}

	return fmt.Sprintf("Command executed successfully. Output:\n%s", out), nil
}

func truncateOutput(s string) string {
	if len(s) <= maxCommandOutput {
		return s
	}
	cut := maxCommandOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-cut)
}
