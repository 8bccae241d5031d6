package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/logging"
	"github.com/m4xw311/gatekeep/tools"
)

// DefaultMaxSteps bounds the chat round trips of one Generate call.
const DefaultMaxSteps = 5

// ErrStepBudgetExhausted is returned when every step ended in tool calls.
var ErrStepBudgetExhausted = errors.Sentinel("step budget exhausted before a final answer")

// DefaultSystemPrompt is sent as the system message of every generation.
const DefaultSystemPrompt = `You are gatekeep, a coding assistant running in the user's terminal.
The conversation so far is given as "role: content" lines; answer the last "user:" line.
Use the available tools when you need to inspect or change files or run commands.
Tool paths must be absolute. Be concise.`

// Step is one model round trip that requested tools.
type Step struct {
	Index     int
	Text      string
	ToolCalls []ToolCall
	// Last is set on the final step the budget allows.
	Last bool
}

// ToolResult is the output of one tool call, keyed by the model's call id.
type ToolResult struct {
	CallID string
	Name   string
	Output string
}

// StepOutcome tells the generator how to continue after a step. Results are
// fed back to the model; Halt stops generation and hands the step's tool
// calls to the caller.
type StepOutcome struct {
	Results []ToolResult
	Halt    bool
}

// Options configure a single Generate call.
type Options struct {
	// Context is the conversation the prompt was built from. The prompt
	// already renders it, so generators treat it as read-only metadata.
	Context      []Message
	MaxSteps     int
	OnStepFinish func(ctx context.Context, step Step) (StepOutcome, error)
	// WithoutTools hides every tool from the model.
	WithoutTools bool
}

// Result is the end state of a Generate call. ToolCalls is non-empty when
// generation stopped on a step that requested tools.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Steps     int
}

// Generator turns a prompt into a final answer, possibly over several steps.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Result, error)
}

// StepGenerator drives an LLMClient step by step.
type StepGenerator struct {
	client       LLMClient
	provider     string
	tools        []tools.Tool
	systemPrompt string
	logger       *slog.Logger
}

// NewStepGenerator returns a generator offering the given tools to client.
// provider names the backend in errors.
func NewStepGenerator(client LLMClient, provider string, available []tools.Tool, logger *slog.Logger) *StepGenerator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &StepGenerator{
		client:       client,
		provider:     provider,
		tools:        available,
		systemPrompt: DefaultSystemPrompt,
		logger:       logger,
	}
}

// Generate sends the prompt and loops while the model asks for tools and
// OnStepFinish supplies their results. Provider failures are wrapped in
// *errors.GenerationError; errors from OnStepFinish are returned as is.
func (g *StepGenerator) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	available := g.tools
	if opts.WithoutTools {
		available = nil
	}

	messages := []Message{
		{Role: RoleSystem, Content: g.systemPrompt},
		{Role: RoleUser, Content: prompt},
	}
	g.logger.Debug("generate", "provider", g.provider, "context_messages", len(opts.Context), "max_steps", maxSteps, "tools", len(available))

	for step := 1; step <= maxSteps; step++ {
		reply, err := g.client.Chat(ctx, messages, available)
		if err != nil {
			return nil, &errors.GenerationError{Provider: g.provider, Err: err}
		}
		if reply == nil {
			return nil, &errors.GenerationError{Provider: g.provider, Err: fmt.Errorf("empty reply")}
		}
		calls := assignCallIDs(step, reply.ToolCalls)
		g.logger.Debug("step finished", "step", step, "tool_calls", len(calls), "text_len", len(reply.Content))

		if len(calls) == 0 {
			return &Result{Text: reply.Content, Steps: step}, nil
		}
		if opts.OnStepFinish == nil {
			return &Result{Text: reply.Content, ToolCalls: calls, Steps: step}, nil
		}

		outcome, err := opts.OnStepFinish(ctx, Step{
			Index:     step,
			Text:      reply.Content,
			ToolCalls: calls,
			Last:      step == maxSteps,
		})
		if err != nil {
			return nil, err
		}
		if outcome.Halt {
			return &Result{Text: reply.Content, ToolCalls: calls, Steps: step}, nil
		}

		messages = append(messages, Message{Role: RoleAssistant, Content: reply.Content, ToolCalls: calls})
		for _, r := range outcome.Results {
			messages = append(messages, Message{
				Role:       RoleTool,
				Content:    r.Output,
				ToolCallID: r.CallID,
				ToolName:   r.Name,
			})
		}
	}
	return nil, ErrStepBudgetExhausted
}

// assignCallIDs fills in ids for providers that omit them.
func assignCallIDs(step int, calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if strings.TrimSpace(c.ID) == "" {
			c.ID = fmt.Sprintf("call_%d_%d_%s", step, i, c.Name)
		}
		out[i] = c
	}
	return out
}
