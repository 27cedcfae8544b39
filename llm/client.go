package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/session"
	"github.com/m4xw311/panelrelay/tools"
	"go.uber.org/zap"
)

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error)
}

// New creates the client named in the agent configuration.
func New(ctx context.Context, name, model string, logger *zap.Logger) (LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model, logger)
	case "openai":
		return NewOpenAILLMClient(ctx, model, logger)
	case "gemini":
		return NewGeminiLLMClient(ctx, model)
	case "bedrock":
		return NewBedrockLLMClient(ctx, model)
	case "mock", "":
		return &MockLLMClient{}, nil
	default:
		return nil, errors.New("unknown llm client '%s'", name)
	}
}

// MockToolPrefix makes the mock client request a tool call:
// "/tool read_file {"path":"go.mod"}".
const MockToolPrefix = "/tool "

// MockLLMClient answers without any network access. It echoes the last user
// message, requests a tool call when the message starts with MockToolPrefix,
// and reports tool results it is given. It never writes to stdout.
type MockLLMClient struct{}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages to answer")
	}
	last := messages[len(messages)-1]

	if last.Role == "tool" {
		name := "tool"
		if len(last.ToolCalls) > 0 {
			name = last.ToolCalls[0].Name
		}
		return &session.Message{
			Role:    "assistant",
			Content: fmt.Sprintf("Tool %s returned: %s", name, last.Content),
		}, nil
	}

	if rest, ok := strings.CutPrefix(last.Content, MockToolPrefix); ok {
		name, rawArgs, _ := strings.Cut(strings.TrimSpace(rest), " ")
		args := map[string]interface{}{}
		if strings.TrimSpace(rawArgs) != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, errors.Wrapf(err, "invalid mock tool arguments")
			}
		}
		return &session.Message{
			Role:      "assistant",
			ToolCalls: []session.ToolCall{{ToolCallID: fmt.Sprintf("mock_%d", len(messages)), Name: name, Args: args}},
		}, nil
	}

	return &session.Message{
		Role:    "assistant",
		Content: fmt.Sprintf("I am a mock LLM with %d tools. You said: '%s'", len(availableTools), last.Content),
	}, nil
}

// requiredFields reads the "required" list of a JSON schema.
func requiredFields(schema map[string]interface{}) []string {
	switch r := schema["required"].(type) {
	case []string:
		return r
	case []interface{}:
		var out []string
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// schemaProperties returns the "properties" object of a JSON schema, never nil.
func schemaProperties(schema map[string]interface{}) map[string]interface{} {
	if p, ok := schema["properties"].(map[string]interface{}); ok {
		return p
	}
	return map[string]interface{}{}
}
