package llm

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/gatekeep/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessagesToGeminiContent(t *testing.T) {
	contents, system := convertMessagesToGeminiContent([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "read two files"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Name: "read_file", Args: map[string]any{"absolutePath": "/a"}},
			{ID: "b", Name: "read_file", Args: map[string]any{"absolutePath": "/b"}},
		}},
		{Role: RoleTool, Content: "A", ToolCallID: "a", ToolName: "read_file"},
		{Role: RoleTool, Content: "B", ToolCallID: "b", ToolName: "read_file"},
	})

	require.NotNil(t, system)
	assert.Equal(t, []genai.Part{genai.Text("be brief")}, system.Parts)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "user", contents[2].Role)
	require.Len(t, contents[2].Parts, 2, "tool results fold into one turn")
	assert.Equal(t, genai.FunctionResponse{Name: "read_file", Response: map[string]any{"output": "B"}}, contents[2].Parts[1])
}

func TestGeminiSchema(t *testing.T) {
	s := geminiSchema((&MockTool{name: "t"}).Schema())
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, genai.TypeString, s.Properties["param1"].Type)
	assert.Equal(t, []string{"param1"}, s.Required)

	assert.Equal(t, genai.TypeObject, geminiSchema(nil).Type)
	assert.Equal(t, genai.TypeString, geminiType("unknown"))
}

func TestProcessGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{
			genai.Text("Reading."),
			genai.FunctionCall{Name: "read_file", Args: map[string]any{"absolutePath": "/a"}},
		}},
	}}}
	msg, err := processGeminiResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "Reading.", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1_read_file", msg.ToolCalls[0].ID)

	_, err = processGeminiResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}

func TestGeminiSchemaArrayItems(t *testing.T) {
	s := tools.SchemaFromJSON([]byte(`{"properties": {
		"ids": {"type": "array", "items": {"type": "integer"}},
		"mode": {"type": "string", "enum": ["a", "b"]}
	}}`))
	out := geminiSchema(s)
	assert.Equal(t, genai.TypeInteger, out.Properties["ids"].Items.Type)
	assert.Equal(t, []string{"a", "b"}, out.Properties["mode"].Enum)
}
