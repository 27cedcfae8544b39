package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/panelrelay/conversation"
	"github.com/m4xw311/panelrelay/relay"
	"github.com/m4xw311/panelrelay/relay/agenttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) { agenttest.Main(m) }

type rpcMessage struct {
	ID     *int            `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
}

func dial(t *testing.T, orch *relay.Orchestrator) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handleWS(context.Background(), orch, zap.NewNop()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readUntilID(t *testing.T, ws *websocket.Conn, id int) ([]rpcMessage, rpcMessage) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(10*time.Second)))
	var notes []rpcMessage
	for {
		kind, data, err := ws.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, kind)
		var m rpcMessage
		require.NoError(t, json.Unmarshal(data, &m))
		if m.ID != nil && *m.ID == id {
			return notes, m
		}
		notes = append(notes, m)
	}
}

func TestPromptOverWebSocket(t *testing.T) {
	orch := relay.New(agenttest.Backend(t, agenttest.Stream), conversation.NewRegistry(), zap.NewNop())
	ws := dial(t, orch)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"session/prompt","params":{"sessionId":"w1","prompt":[{"type":"text","text":"hi"}]}}`)))

	notes, resp := readUntilID(t, ws, 1)
	var text strings.Builder
	for _, n := range notes {
		assert.Equal(t, "session/update", n.Method)
		var p struct {
			Update struct {
				Content struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"update"`
		}
		require.NoError(t, json.Unmarshal(n.Params, &p))
		text.WriteString(p.Update.Content.Text)
	}
	assert.Equal(t, "Hello world", text.String())
	assert.JSONEq(t, `{"stopReason":"end_turn"}`, string(resp.Result))
}

func TestConnectionsShareSessions(t *testing.T) {
	orch := relay.New(agenttest.Backend(t, agenttest.Stream), conversation.NewRegistry(), zap.NewNop())

	first := dial(t, orch)
	require.NoError(t, first.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"session/prompt","params":{"sessionId":"shared","prompt":[{"type":"text","text":"hi"}]}}`)))
	readUntilID(t, first, 1)
	require.NoError(t, first.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	second := dial(t, orch)
	require.NoError(t, second.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":2,"method":"session/list"}`)))
	_, resp := readUntilID(t, second, 2)
	var list struct {
		Sessions []string `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	assert.Contains(t, list.Sessions, "shared")
}
