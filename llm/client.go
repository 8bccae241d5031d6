package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/m4xw311/gatekeep/tools"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is one entry of a provider conversation. Assistant messages may
// carry ToolCalls; tool messages carry the result for ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error)
}

// MockLLMClient answers without a network connection. When the latest user
// message asks to "read /some/absolute/path" and read_file is available, it
// requests that tool. Tool results are repeated back; anything else is echoed.
type MockLLMClient struct{}

var (
	mockReadPattern   = regexp.MustCompile(`(?i)\bread\s+(/\S+)`)
	mockResultPattern = regexp.MustCompile(`(?s)Tool (\S+) produced:\n(.*)\nRespond to the user`)
)

func (m *MockLLMClient) Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var last Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser || messages[i].Role == RoleTool {
			last = messages[i]
			break
		}
	}
	if last.Role == RoleTool {
		return &Message{Role: RoleAssistant, Content: fmt.Sprintf("The %s tool returned:\n\n%s", last.ToolName, last.Content)}, nil
	}

	if match := mockResultPattern.FindStringSubmatch(last.Content); match != nil {
		return &Message{Role: RoleAssistant, Content: fmt.Sprintf("The %s tool returned:\n\n%s", match[1], match[2])}, nil
	}
	input := lastPromptLine(last.Content)
	if match := mockReadPattern.FindStringSubmatch(input); match != nil && hasTool(availableTools, "read_file") {
		return &Message{
			Role:    RoleAssistant,
			Content: "Let me read that file.",
			ToolCalls: []ToolCall{{
				ID:   "mock_read_file",
				Name: "read_file",
				Args: map[string]any{"absolutePath": match[1]},
			}},
		}, nil
	}
	return &Message{
		Role:    RoleAssistant,
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", input),
	}, nil
}

// lastPromptLine picks the final "user: " line of a flattened prompt, or the
// whole content when there is none.
func lastPromptLine(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if rest, ok := strings.CutPrefix(lines[i], "user: "); ok {
			return rest
		}
	}
	return strings.TrimSpace(content)
}

func hasTool(ts []tools.Tool, name string) bool {
	for _, t := range ts {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// NewClient returns the client for a configured provider name. An empty or
// unrecognised name selects the MockLLMClient.
func NewClient(ctx context.Context, provider, model string) (LLMClient, error) {
	switch provider {
	case "gemini":
		return NewGeminiLLMClient(ctx, model)
	case "openai":
		return NewOpenAILLMClient(ctx, model)
	case "bedrock":
		return NewBedrockLLMClient(ctx, model)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model)
	default:
		return &MockLLMClient{}, nil
	}
}
