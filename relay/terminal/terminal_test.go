package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/m4xw311/panelrelay/conversation"
	"github.com/m4xw311/panelrelay/relay"
	"github.com/m4xw311/panelrelay/relay/agenttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) { agenttest.Main(m) }

func run(t *testing.T, scenario, input, initial string) (*relay.Orchestrator, string) {
	t.Helper()
	orch := relay.New(agenttest.Backend(t, scenario), conversation.NewRegistry(), zap.NewNop())
	var out bytes.Buffer
	term := New(orch, strings.NewReader(input), &out)
	require.NoError(t, term.Run(context.Background(), initial))
	return orch, out.String()
}

func TestPromptIsStreamed(t *testing.T) {
	orch, out := run(t, agenttest.Stream, "hi\nquit\nnever sent\n", "")

	assert.Contains(t, out, "Agent: Hello world\n")
	assert.Contains(t, out, "Goodbye!")
	assert.Len(t, orch.Registry().Log(conversation.DefaultSessionID), 2)
}

func TestInitialPrompt(t *testing.T) {
	orch, out := run(t, agenttest.Stream, "", "first")

	assert.Contains(t, out, "Agent: Hello world")
	log := orch.Registry().Log(conversation.DefaultSessionID)
	require.Len(t, log, 2)
	assert.Equal(t, "first", log[0].Content)
}

func TestSwitchAndSessions(t *testing.T) {
	orch, out := run(t, agenttest.Stream, "switch work\nhi\nsessions\nswitch\nbye\n", "")

	assert.Contains(t, out, "Switched to session: work")
	assert.Contains(t, out, "> work")
	assert.Contains(t, out, "Usage: switch <session_id>")
	assert.Equal(t, "work", orch.GetCurrentSession())
	assert.Len(t, orch.Registry().Log("work"), 2)
}

func TestHistoryAndClear(t *testing.T) {
	orch, out := run(t, agenttest.Stream, "history\nhi\nhistory\nclear\nexit\n", "")

	assert.Contains(t, out, "No conversation history yet.")
	assert.Contains(t, out, "You: hi")
	assert.Contains(t, out, "Agent: Hello world")
	assert.Contains(t, out, "Conversation history cleared.")
	assert.Empty(t, orch.Registry().Log(conversation.DefaultSessionID))
}

func TestErrorsArePrinted(t *testing.T) {
	_, out := run(t, agenttest.Fail, "hi\n", "")

	assert.Contains(t, out, "Agent: x\nError: boom")
}

func TestHelp(t *testing.T) {
	_, out := run(t, agenttest.Stream, "help\n", "")
	assert.Contains(t, out, "switch <session_id>")
}
