package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/m4xw311/gatekeep/approval"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/llm"
	"github.com/m4xw311/gatekeep/logging"
)

// DeflectionMessage is the final answer of a turn whose tool calls were rejected.
const DeflectionMessage = "Okay, I won't run that. Is there anything else I can help you with?"

// EmptyResponseMessage replaces a blank final answer.
const EmptyResponseMessage = "The model returned an empty response."

var errStepBudget = errors.Sentinel("step budget reached")

// Turn is one user submission in flight. History is the conversation as it
// was when the input was submitted and is reused unchanged after approval.
type Turn struct {
	ID        string
	UserInput string
	History   []llm.Message
	StepCount int
	Pending   []approval.Request
}

// NewTurn copies history so later appends to the live conversation cannot
// leak into the turn.
func NewTurn(input string, history []llm.Message) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		UserInput: input,
		History:   append([]llm.Message(nil), history...),
	}
}

// Reply is the single message a turn ends with.
type Reply struct {
	IsError bool
	Text    string
}

// Outcome of Start or Resume. When Awaiting is set the turn is suspended on
// the gate and Reply is empty.
type Outcome struct {
	Awaiting bool
	Reply    Reply
}

// Loop drives turns through the generator and the approval gate.
type Loop struct {
	generator llm.Generator
	gate      *approval.Gate
	maxSteps  int
	logger    *slog.Logger
}

func New(generator llm.Generator, gate *approval.Gate, maxSteps int, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = logging.Nop()
	}
	if maxSteps <= 0 {
		maxSteps = llm.DefaultMaxSteps
	}
	return &Loop{
		generator: generator,
		gate:      gate,
		maxSteps:  maxSteps,
		logger:    logger,
	}
}

// Start generates an answer for the turn. Steps whose calls are all exempt
// run unattended and generation continues; the first step needing approval
// opens the gate and suspends the turn.
func (l *Loop) Start(ctx context.Context, turn *Turn) Outcome {
	logger := l.logger.With("turn", turn.ID)
	prompt := BuildPrompt(turn.History, turn.UserInput)
	logger.Debug("turn started", "history", len(turn.History), "prompt_len", len(prompt))

	res, err := l.generator.Generate(ctx, prompt, llm.Options{
		Context:  turn.History,
		MaxSteps: l.maxSteps,
		OnStepFinish: func(ctx context.Context, step llm.Step) (llm.StepOutcome, error) {
			turn.StepCount = step.Index
			if !l.gate.Policy().AnyRequiresApproval(step.ToolCalls) {
				if step.Last {
					return llm.StepOutcome{}, errStepBudget
				}
				results, err := l.gate.RunUnattended(ctx, step.ToolCalls)
				if err != nil {
					return llm.StepOutcome{}, err
				}
				return llm.StepOutcome{Results: toolResults(results)}, nil
			}
			reqs, err := l.gate.Open(step.ToolCalls)
			if err != nil {
				return llm.StepOutcome{}, err
			}
			turn.Pending = reqs
			return llm.StepOutcome{Halt: true}, nil
		},
	})
	if err != nil {
		turn.Pending = nil
		logger.Warn("turn failed", "step", turn.StepCount, "err", err)
		return Outcome{Reply: l.errorReply(err)}
	}
	if len(turn.Pending) > 0 {
		logger.Debug("turn suspended", "step", turn.StepCount, "pending", len(turn.Pending))
		return Outcome{Awaiting: true}
	}
	logger.Debug("turn finished", "steps", res.Steps)
	return Outcome{Reply: answer(res.Text)}
}

// Resume finishes a suspended turn with the decided batch. A rejected batch
// is released and answered with DeflectionMessage without calling the model.
// An approved batch is executed; on success the model is asked once more,
// without tools, to answer from the results.
func (l *Loop) Resume(ctx context.Context, turn *Turn, batch *approval.Batch) Outcome {
	logger := l.logger.With("turn", turn.ID)
	turn.Pending = nil

	if !batch.Approved() {
		if err := batch.Release(); err != nil {
			logger.Warn("release failed", "err", err)
		}
		logger.Debug("turn rejected")
		return Outcome{Reply: Reply{Text: DeflectionMessage}}
	}

	results, err := batch.Execute(ctx)
	if err != nil {
		logger.Warn("batch failed", "err", err)
		return Outcome{Reply: l.errorReply(err)}
	}

	prompt := BuildPrompt(turn.History, FollowUpPrompt(turn.UserInput, results))
	res, err := l.generator.Generate(ctx, prompt, llm.Options{
		Context:      turn.History,
		MaxSteps:     1,
		WithoutTools: true,
	})
	if err != nil {
		logger.Warn("follow-up failed", "err", err)
		return Outcome{Reply: l.errorReply(err)}
	}
	if len(res.ToolCalls) > 0 {
		// A second round of tool calls is not supported.
		logger.Info("discarding tool calls from follow-up", "calls", len(res.ToolCalls))
	}
	return Outcome{Reply: answer(res.Text)}
}

// BuildPrompt renders history as "role: content" lines followed by the new
// input as a final "user:" line.
func BuildPrompt(history []llm.Message, input string) string {
	lines := make([]string, 0, len(history)+1)
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	lines = append(lines, "user: "+input)
	return strings.Join(lines, "\n")
}

// FollowUpPrompt folds tool results into a single request for the final answer.
func FollowUpPrompt(input string, results []approval.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user asked: %s\n", input)
	for _, r := range results {
		fmt.Fprintf(&b, "Tool %s produced:\n%s\n", r.Request.ToolName, strings.TrimRight(r.Output, "\n"))
	}
	b.WriteString("Respond to the user using these results.")
	return b.String()
}

func toolResults(results []approval.Result) []llm.ToolResult {
	out := make([]llm.ToolResult, len(results))
	for i, r := range results {
		out[i] = llm.ToolResult{
			CallID: r.Request.ModelCallID,
			Name:   r.Request.ToolName,
			Output: r.Output,
		}
	}
	return out
}

func answer(text string) Reply {
	if strings.TrimSpace(text) == "" {
		text = EmptyResponseMessage
	}
	return Reply{Text: text}
}

// errorReply turns any failure into the error message that ends the turn.
func (l *Loop) errorReply(err error) Reply {
	var (
		batchErr      *approval.BatchError
		execErr       *errors.ExecutionError
		lookupErr     *errors.LookupError
		validationErr *errors.ValidationError
		genErr        *errors.GenerationError
	)
	switch {
	case errors.As(err, &batchErr):
		return Reply{IsError: true, Text: "Tool execution failed: " + batchErr.Error()}
	case errors.As(err, &validationErr):
		return Reply{IsError: true, Text: fmt.Sprintf(
			"The model sent invalid arguments for %s (%v). Please rephrase your request and try again.",
			validationErr.Tool, validationErr.Err)}
	case errors.As(err, &execErr), errors.As(err, &lookupErr):
		return Reply{IsError: true, Text: "Tool execution failed: " + err.Error()}
	case errors.As(err, &genErr):
		return Reply{IsError: true, Text: "Generation failed: " + genErr.Err.Error()}
	case errors.Is(err, errStepBudget), errors.Is(err, llm.ErrStepBudgetExhausted):
		return Reply{IsError: true, Text: fmt.Sprintf("Stopped after %d steps without a final answer.", l.maxSteps)}
	}
	return Reply{IsError: true, Text: "Error: " + err.Error()}
}
