package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/llm"
	"github.com/m4xw311/panelrelay/session"
	"github.com/m4xw311/panelrelay/tools"
	"go.uber.org/zap"
)

// DefaultMaxTurns bounds the LLM round trips of one user input.
const DefaultMaxTurns = 8

// ProcessCallbacks receive the events of one ProcessUserInput call. Nil
// callbacks are skipped.
type ProcessCallbacks struct {
	OnAssistantMessage func(message string)
	OnToolCall         func(toolCall session.ToolCall)
	OnToolResult       func(toolCall session.ToolCall, result string)
	OnWarning          func(warning string)
}

type Agent struct {
	Config         *config.Agent
	Session        *session.Session
	LLMClient      llm.LLMClient
	AvailableTools []tools.Tool
	logger         *zap.Logger
}

// New builds an agent over an already loaded session, activating the
// configured toolset from registry.
func New(cfg *config.Agent, sess *session.Session, registry *tools.ToolRegistry, client llm.LLMClient, logger *zap.Logger) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ts, err := cfg.GetToolset(cfg.Toolset)
	if err != nil {
		return nil, err
	}
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		return nil, err
	}

	return &Agent{
		Config:         cfg,
		Session:        sess,
		LLMClient:      client,
		AvailableTools: activeTools,
		logger:         logger.With(zap.String("session", sess.Name)),
	}, nil
}

// ProcessUserInput runs one user turn: the LLM is asked for a response, any
// tool calls it makes are executed and fed back, until it answers without
// tool calls or MaxTurns is reached. The session is saved after every message.
func (a *Agent) ProcessUserInput(ctx context.Context, input string, cb ProcessCallbacks) error {
	a.addAndSave(session.Message{Role: "user", Content: input}, cb)

	maxTurns := a.Config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled(err)
		}

		resp, err := a.LLMClient.Chat(ctx, a.contextWindow(), a.AvailableTools)
		if err != nil {
			return errors.Wrapf(err, "LLM chat failed")
		}
		a.addAndSave(*resp, cb)

		if resp.Content != "" && cb.OnAssistantMessage != nil {
			cb.OnAssistantMessage(resp.Content)
		}
		if len(resp.ToolCalls) == 0 {
			return nil
		}

		for _, tc := range resp.ToolCalls {
			if cb.OnToolCall != nil {
				cb.OnToolCall(tc)
			}
			result := a.executeTool(ctx, tc)
			if cb.OnToolResult != nil {
				cb.OnToolResult(tc, result)
			}
			a.addAndSave(session.Message{
				Role:      "tool",
				Content:   result,
				ToolCalls: []session.ToolCall{tc},
			}, cb)
		}
	}

	return errors.New("no final answer after %d turns", maxTurns)
}

// executeTool runs one tool call. Failures are returned to the model as the
// tool result so it can recover.
func (a *Agent) executeTool(ctx context.Context, tc session.ToolCall) string {
	var tool tools.Tool
	for _, t := range a.AvailableTools {
		if t.Name() == tc.Name {
			tool = t
			break
		}
	}
	if tool == nil {
		a.logger.Warn("model requested unavailable tool", zap.String("tool", tc.Name))
		return fmt.Sprintf("Error: tool '%s' is not available", tc.Name)
	}

	args, _ := json.Marshal(tc.Args)
	a.logger.Debug("executing tool", zap.String("tool", tc.Name), zap.ByteString("args", args))
	result, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		a.logger.Warn("tool failed", zap.String("tool", tc.Name), zap.Error(err))
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

// contextWindow is the system prompt followed by the recent messages.
func (a *Agent) contextWindow() []session.Message {
	recent := a.Session.Recent(a.Config.MaxHistory)
	if a.Config.SystemPrompt == "" {
		return recent
	}
	window := make([]session.Message, 0, len(recent)+1)
	window = append(window, session.Message{Role: "system", Content: a.Config.SystemPrompt})
	return append(window, recent...)
}

func (a *Agent) addAndSave(msg session.Message, cb ProcessCallbacks) {
	a.Session.AddMessage(msg)
	if err := a.Session.Save(); err != nil {
		a.logger.Warn("failed to save session", zap.Error(err))
		if cb.OnWarning != nil {
			cb.OnWarning(fmt.Sprintf("failed to save session: %v", err))
		}
	}
}
