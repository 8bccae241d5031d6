package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/m4xw311/gatekeep/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockTool is a simple mock tool for testing
type MockTool struct {
	name        string
	description string
}

func (m *MockTool) Name() string        { return m.name }
func (m *MockTool) Description() string { return m.description }
func (m *MockTool) Schema() *tools.Schema {
	return &tools.Schema{
		Type:       "object",
		Properties: map[string]tools.Property{"param1": {Type: "string"}},
		Required:   []string{"param1"},
	}
}

func (m *MockTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return "mock result", nil
}

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "Hello, world!"},
		{Role: RoleAssistant, Content: "Checking.", ToolCalls: []ToolCall{
			{ID: "call_1", Name: "test_tool", Args: map[string]any{"param1": "value1"}},
			{ID: "call_2", Name: "test_tool"},
		}},
		{Role: RoleTool, Content: "first", ToolCallID: "call_1", ToolName: "test_tool"},
		{Role: RoleTool, Content: "second", ToolCallID: "call_2", ToolName: "test_tool"},
	}

	result, system := convertMessagesToAnthropicFormat(messages)
	assert.Equal(t, "be brief", system)
	require.Len(t, result, 3)

	assert.Equal(t, "user", result[0]["role"])
	assistant := result[1]["content"].([]map[string]any)
	require.Len(t, assistant, 3)
	assert.Equal(t, "tool_use", assistant[1]["type"])
	assert.Equal(t, map[string]any{}, assistant[2]["input"], "nil args are sent as an empty object")

	results := result[2]["content"].([]map[string]any)
	require.Len(t, results, 2, "tool results of one step share a message")
	assert.Equal(t, "call_2", results[1]["tool_use_id"])
}

func TestCreateAnthropicRequest(t *testing.T) {
	messages, _ := convertMessagesToAnthropicFormat([]Message{{Role: RoleUser, Content: "Hello!"}})

	body, err := createAnthropicRequest(messages, "", nil)
	require.NoError(t, err)
	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.NotContains(t, req, "tools")
	assert.NotContains(t, req, "system")

	body, err = createAnthropicRequest(messages, "sys", []tools.Tool{&MockTool{name: "test_tool", description: "A test tool"}})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "sys", req["system"])
	toolDefs := req["tools"].([]any)
	require.Len(t, toolDefs, 1)
	schema := toolDefs[0].(map[string]any)["input_schema"].(map[string]any)
	assert.Equal(t, []any{"param1"}, schema["required"])
}

func TestProcessBedrockResponse(t *testing.T) {
	msg, err := processBedrockResponse([]byte(`{"content":[
		{"type":"text","text":"Reading."},
		{"type":"tool_use","id":"toolu_1","name":"read_file","input":{"absolutePath":"/tmp/x.txt"}},
		{"type":"tool_use","name":"list_directory","input":{}}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, "Reading.", msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "toolu_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "/tmp/x.txt", msg.ToolCalls[0].Args["absolutePath"])
	assert.Equal(t, "call_2_list_directory", msg.ToolCalls[1].ID)

	_, err = processBedrockResponse([]byte(`{"error":"throttled"}`))
	assert.Error(t, err)
}
