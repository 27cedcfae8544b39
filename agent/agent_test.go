package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/llm"
	"github.com/m4xw311/panelrelay/session"
	"github.com/m4xw311/panelrelay/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type events struct {
	messages []string
	calls    []string
	results  []string
	warnings []string
}

func (e *events) callbacks() ProcessCallbacks {
	return ProcessCallbacks{
		OnAssistantMessage: func(m string) { e.messages = append(e.messages, m) },
		OnToolCall:         func(tc session.ToolCall) { e.calls = append(e.calls, tc.Name) },
		OnToolResult:       func(tc session.ToolCall, r string) { e.results = append(e.results, r) },
		OnWarning:          func(w string) { e.warnings = append(e.warnings, w) },
	}
}

func newAgent(t *testing.T, cfg *config.Agent, client llm.LLMClient) (*Agent, string) {
	t.Helper()
	dir := t.TempDir()
	sess, err := session.LoadOrNew(dir, "s1")
	require.NoError(t, err)
	a, err := New(cfg, sess, tools.NewToolRegistry(cfg, zap.NewNop()), client, zap.NewNop())
	require.NoError(t, err)
	return a, dir
}

func testConfig(toolNames ...string) *config.Agent {
	return &config.Agent{
		MaxHistory: 10,
		MaxTurns:   4,
		Toolsets:   []config.Toolset{{Name: "default", Tools: toolNames}},
	}
}

func TestProcessUserInputPlainAnswer(t *testing.T) {
	a, dir := newAgent(t, testConfig(), &llm.MockLLMClient{})
	var ev events

	require.NoError(t, a.ProcessUserInput(context.Background(), "hello", ev.callbacks()))
	assert.Equal(t, []string{"I am a mock LLM with 0 tools. You said: 'hello'"}, ev.messages)
	assert.Empty(t, ev.calls)

	reloaded, err := session.Load(dir, "s1")
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, 2)
	assert.Equal(t, "user", reloaded.Messages[0].Role)
	assert.Equal(t, "assistant", reloaded.Messages[1].Role)
}

func TestProcessUserInputRunsTools(t *testing.T) {
	file := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(file, []byte("remember"), 0644))

	a, _ := newAgent(t, testConfig("read_file"), &llm.MockLLMClient{})
	var ev events

	prompt := llm.MockToolPrefix + `read_file {"path":"` + file + `"}`
	require.NoError(t, a.ProcessUserInput(context.Background(), prompt, ev.callbacks()))
	assert.Equal(t, []string{"read_file"}, ev.calls)
	assert.Equal(t, []string{"remember"}, ev.results)
	assert.Equal(t, []string{"Tool read_file returned: remember"}, ev.messages)

	roles := []string{}
	for _, m := range a.Session.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles)
}

func TestUnavailableToolIsReportedToModel(t *testing.T) {
	a, _ := newAgent(t, testConfig(), &llm.MockLLMClient{})
	var ev events

	require.NoError(t, a.ProcessUserInput(context.Background(), llm.MockToolPrefix+"write_file {}", ev.callbacks()))
	require.Len(t, ev.results, 1)
	assert.Contains(t, ev.results[0], "not available")
}

type loopingClient struct{ calls int }

func (l *loopingClient) Chat(ctx context.Context, messages []session.Message, available []tools.Tool) (*session.Message, error) {
	l.calls++
	return &session.Message{Role: "assistant", ToolCalls: []session.ToolCall{{ToolCallID: "x", Name: "read_dir"}}}, nil
}

func TestMaxTurnsBoundsLoop(t *testing.T) {
	client := &loopingClient{}
	a, _ := newAgent(t, testConfig("read_dir"), client)

	err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{})
	require.Error(t, err)
	assert.Equal(t, 4, client.calls)
}

type capturingClient struct{ seen []session.Message }

func (c *capturingClient) Chat(ctx context.Context, messages []session.Message, available []tools.Tool) (*session.Message, error) {
	c.seen = messages
	return &session.Message{Role: "assistant", Content: "ok"}, nil
}

func TestContextWindowHasSystemPromptAndRecentMessages(t *testing.T) {
	cfg := testConfig()
	cfg.SystemPrompt = "be terse"
	cfg.MaxHistory = 3
	client := &capturingClient{}
	a, _ := newAgent(t, cfg, client)

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, a.ProcessUserInput(context.Background(), p, ProcessCallbacks{}))
	}
	require.Len(t, client.seen, 4)
	assert.Equal(t, "system", client.seen[0].Role)
	assert.Equal(t, "be terse", client.seen[0].Content)
	assert.Equal(t, "three", client.seen[3].Content)
}

func TestCancelledContext(t *testing.T) {
	a, _ := newAgent(t, testConfig(), &llm.MockLLMClient{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.ProcessUserInput(ctx, "hi", ProcessCallbacks{})
	assert.ErrorIs(t, err, errors.ErrCancelled)
}

func TestNewRejectsUnknownTool(t *testing.T) {
	cfg := testConfig("no_such_tool")
	sess, err := session.New(t.TempDir(), "s1")
	require.NoError(t, err)
	_, err = New(cfg, sess, tools.NewToolRegistry(cfg, nil), &llm.MockLLMClient{}, nil)
	assert.Error(t, err)
}
