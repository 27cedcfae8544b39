package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/session"
	"github.com/m4xw311/panelrelay/tools"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
// BEDROCK_ENDPOINT_URL overrides the service endpoint.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = firstNonEmpty(os.Getenv("AWS_DEFAULT_REGION"), os.Getenv("AWS_REGION"), "us-east-1")
	}

	endpoint := os.Getenv("BEDROCK_ENDPOINT_URL")
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &BedrockLLMClient{client: client, modelID: modelID}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	body, err := newBedrockRequest(messages, availableTools).marshal()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

// Bedrock's Anthropic messages body.
type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

// bedrockBlock is one content block; which fields are set depends on Type.
type bedrockBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type bedrockTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type bedrockResponse struct {
	Content []bedrockBlock `json:"content"`
	Error   any            `json:"error,omitempty"`
}

// newBedrockRequest converts our messages and tools into a request body. The
// last system message becomes the system prompt; tool results are sent as
// user turns, as the Anthropic API requires.
func newBedrockRequest(messages []session.Message, availableTools []tools.Tool) *bedrockRequest {
	req := &bedrockRequest{AnthropicVersion: bedrockAnthropicVersion, MaxTokens: 4096}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			req.System = msg.Content
		case "user":
			req.Messages = append(req.Messages, bedrockMessage{
				Role:    "user",
				Content: []bedrockBlock{{Type: "text", Text: msg.Content}},
			})
		case "assistant":
			var blocks []bedrockBlock
			if msg.Content != "" {
				blocks = append(blocks, bedrockBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, bedrockBlock{Type: "tool_use", ID: tc.ToolCallID, Name: tc.Name, Input: input})
			}
			if len(blocks) > 0 {
				req.Messages = append(req.Messages, bedrockMessage{Role: "assistant", Content: blocks})
			}
		case "tool":
			if len(msg.ToolCalls) == 0 {
				continue
			}
			req.Messages = append(req.Messages, bedrockMessage{
				Role:    "user",
				Content: []bedrockBlock{{Type: "tool_result", ToolUseID: msg.ToolCalls[0].ToolCallID, Content: msg.Content}},
			})
		}
	}

	for _, t := range availableTools {
		req.Tools = append(req.Tools, bedrockTool{Name: t.Name(), Description: t.Description(), InputSchema: t.Schema()})
	}
	return req
}

func (r *bedrockRequest) marshal() ([]byte, error) {
	return json.Marshal(r)
}

// processBedrockResponse converts a Bedrock API response into our internal session.Message format.
func processBedrockResponse(body []byte) (*session.Message, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if resp.Error != nil {
		return nil, errors.New("Bedrock API error: %v", resp.Error)
	}

	msg := &session.Message{Role: "assistant"}
	for i, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			id := block.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, block.Name)
			}
			args, _ := block.Input.(map[string]interface{})
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{ToolCallID: id, Name: block.Name, Args: args})
		}
	}
	return msg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
