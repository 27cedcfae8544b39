package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/m4xw311/panelrelay/session"
	"github.com/m4xw311/panelrelay/tools"
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
func (m *MockTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":  map[string]interface{}{"type": "string", "description": "target"},
			"count": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"path"},
	}
}

func (m *MockTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "mock result", nil
}

func TestNewBedrockRequestMessages(t *testing.T) {
	req := newBedrockRequest([]session.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "Hello, world!"},
		{Role: "assistant", Content: "Hello! How can I help you?"},
		{
			Role:    "assistant",
			Content: "checking",
			ToolCalls: []session.ToolCall{
				{ToolCallID: "call_1", Name: "test_tool", Args: map[string]interface{}{"param1": "value1"}},
			},
		},
		{Role: "tool", Content: "Tool result", ToolCalls: []session.ToolCall{{ToolCallID: "call_1", Name: "test_tool"}}},
		{Role: "tool", Content: "orphan"},
	}, nil)

	assert.Equal(t, "be brief", req.System)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "assistant", req.Messages[1].Role)

	blocks := req.Messages[2].Content
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "tool_use", blocks[1].Type)
	assert.Equal(t, "call_1", blocks[1].ID)

	assert.Equal(t, "user", req.Messages[3].Role)
	assert.Equal(t, "tool_result", req.Messages[3].Content[0].Type)
	assert.Equal(t, "call_1", req.Messages[3].Content[0].ToolUseID)
}

func TestBedrockRequestBody(t *testing.T) {
	msgs := []session.Message{{Role: "user", Content: "Hello!"}}

	body, err := newBedrockRequest(msgs, nil).marshal()
	require.NoError(t, err)
	var plain map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &plain))
	assert.Equal(t, bedrockAnthropicVersion, plain["anthropic_version"])
	assert.NotContains(t, plain, "tools")
	assert.NotContains(t, plain, "system")

	msgs = append([]session.Message{{Role: "system", Content: "sys"}}, msgs...)
	body, err = newBedrockRequest(msgs, []tools.Tool{&MockTool{name: "test_tool", description: "A test tool"}}).marshal()
	require.NoError(t, err)
	var withTools struct {
		System string `json:"system"`
		Tools  []struct {
			Name        string                 `json:"name"`
			InputSchema map[string]interface{} `json:"input_schema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(body, &withTools))
	assert.Equal(t, "sys", withTools.System)
	require.Len(t, withTools.Tools, 1)
	assert.Equal(t, "test_tool", withTools.Tools[0].Name)
	assert.Contains(t, withTools.Tools[0].InputSchema["properties"], "path")
}

func TestToolUseWithoutArgsSendsEmptyInput(t *testing.T) {
	body, err := newBedrockRequest([]session.Message{
		{Role: "assistant", ToolCalls: []session.ToolCall{{ToolCallID: "c", Name: "read_dir"}}},
	}, nil).marshal()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"input":{}`)
}

func TestProcessBedrockResponse(t *testing.T) {
	body := []byte(`{"content":[{"type":"text","text":"Let me look."},{"type":"tool_use","id":"tu_1","name":"read_file","input":{"path":"a.txt"}},{"type":"tool_use","name":"read_dir","input":{}}]}`)
	msg, err := processBedrockResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "Let me look.", msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "tu_1", msg.ToolCalls[0].ToolCallID)
	assert.Equal(t, "a.txt", msg.ToolCalls[0].Args["path"])
	assert.Equal(t, "call_2_read_dir", msg.ToolCalls[1].ToolCallID)

	_, err = processBedrockResponse([]byte(`{"error":"throttled"}`))
	assert.Error(t, err)

	_, err = processBedrockResponse([]byte(`not json`))
	assert.Error(t, err)

	msg, err = processBedrockResponse([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty())
}
