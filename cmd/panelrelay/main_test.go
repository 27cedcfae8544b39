package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/relay/agenttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) { agenttest.Main(m) }

func testConfig(t *testing.T, scenario string) *config.Config {
	t.Helper()
	cfg := config.Default()
	b := agenttest.Backend(t, scenario)
	cfg.Backends = []config.Backend{b}
	cfg.Backend = b.Name
	return cfg
}

func TestServeTerminal(t *testing.T) {
	cfg := testConfig(t, agenttest.Stream)
	var out bytes.Buffer

	err := serve(context.Background(), cfg, options{mode: modeTerminal, session: "s1"}, strings.NewReader("hi\nsessions\nquit\n"), &out, zap.NewNop())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Relaying to session s1")
	assert.Contains(t, out.String(), "Agent: Hello world\n")
	assert.Contains(t, out.String(), "> s1")
}

func TestServePanel(t *testing.T) {
	cfg := testConfig(t, agenttest.Stream)
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":1}}`,
		`{"jsonrpc":"2.0","id":2,"method":"session/prompt","params":{"sessionId":"p1","prompt":[{"type":"text","text":"hi"}]}}`,
	}, "\n") + "\n"
	var out bytes.Buffer

	err := serve(context.Background(), cfg, options{mode: modePanel}, strings.NewReader(in), &out, zap.NewNop())
	require.NoError(t, err)

	var chunks []string
	var stopReason string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var m struct {
			ID     *int            `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			Result json.RawMessage `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		switch {
		case m.Method == "session/update":
			var p struct {
				Update struct {
					Content struct {
						Text string `json:"text"`
					} `json:"content"`
				} `json:"update"`
			}
			require.NoError(t, json.Unmarshal(m.Params, &p))
			chunks = append(chunks, p.Update.Content.Text)
		case m.ID != nil && *m.ID == 2:
			var r struct {
				StopReason string `json:"stopReason"`
			}
			require.NoError(t, json.Unmarshal(m.Result, &r))
			stopReason = r.StopReason
		}
	}
	assert.Equal(t, "Hello world", strings.Join(chunks, ""))
	assert.Equal(t, "end_turn", stopReason)
}

func TestServeRejectsUnknownBackendAndMode(t *testing.T) {
	cfg := testConfig(t, agenttest.Stream)

	err := serve(context.Background(), cfg, options{backend: "missing", mode: modeTerminal}, strings.NewReader(""), &bytes.Buffer{}, zap.NewNop())
	assert.Error(t, err)

	err = serve(context.Background(), cfg, options{mode: "gui"}, strings.NewReader(""), &bytes.Buffer{}, zap.NewNop())
	assert.ErrorContains(t, err, "invalid mode")
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "backend: nowhere\nlog_file: " + filepath.Join(dir, "relay.log") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"-unknown"}, strings.NewReader(""), &stdout, &stderr))
	assert.Equal(t, 1, run(context.Background(), []string{"-c", filepath.Join(dir, "absent.yaml")}, strings.NewReader(""), &stdout, &stderr))
	assert.Equal(t, 1, run(context.Background(), []string{"-c", path}, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "backend 'nowhere' not found")
	assert.Empty(t, stdout.String())
}
