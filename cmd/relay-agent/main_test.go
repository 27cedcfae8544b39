package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/panelrelay/frame"
	"github.com/m4xw311/panelrelay/llm"
	"github.com/m4xw311/panelrelay/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	sessions := filepath.Join(dir, "sessions")
	cfg := "log_level: error\nlog_file: " + filepath.Join(dir, "agent.log") + "\n" +
		"agent:\n  llm: mock\n  sessions_dir: " + sessions + "\n" +
		"  toolsets:\n    - name: default\n      tools: [read_file]\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path, sessions
}

func frames(t *testing.T, out string) []frame.Frame {
	t.Helper()
	var fs []frame.Frame
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		f, ok := frame.Decode(line)
		require.True(t, ok, "unexpected line %q", line)
		fs = append(fs, f)
	}
	return fs
}

func invoke(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestAnswerStreamsFrames(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, _ := invoke(t, "", "-config", cfg, "-session", "s1", "-prompt", "hello")
	require.Equal(t, 0, code)

	fs := frames(t, out)
	require.Len(t, fs, 2)
	assert.Equal(t, frame.KindChunk, fs[0].Kind)
	assert.Equal(t, "I am a mock LLM with 1 tools. You said: 'hello'\n", frame.Unescape(fs[0].Text))
	assert.Equal(t, frame.End(), fs[1])
}

func TestStdinDelivery(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, _ := invoke(t, `{"session_id":"s2","prompt":"via stdin"}`, "-config", cfg, "-stdin")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "via stdin")
	assert.True(t, strings.HasSuffix(out, frame.EndMarker+"\n"))
}

func TestToolCallsAreAnnounced(t *testing.T) {
	cfg, _ := writeConfig(t)
	target := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0644))

	prompt := llm.MockToolPrefix + `read_file {"path":"` + target + `"}`
	code, out, _ := invoke(t, "", "-config", cfg, "-session", "s3", "-prompt", prompt)
	require.Equal(t, 0, code)

	fs := frames(t, out)
	require.Len(t, fs, 3)
	assert.Equal(t, "[Calling tool: read_file]\n", frame.Unescape(fs[0].Text))
	assert.Equal(t, "Tool read_file returned: data\n", frame.Unescape(fs[1].Text))
}

func TestFailureWritesErrorFrame(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, _ := invoke(t, "", "-config", cfg, "-session", "s4", "-prompt", llm.MockToolPrefix+"x {broken")
	assert.Equal(t, 1, code)
	fs := frames(t, out)
	require.Len(t, fs, 1)
	assert.Equal(t, frame.KindError, fs[0].Kind)
	assert.NotContains(t, out, frame.EndMarker)

	code, out, _ = invoke(t, "", "-config", cfg, "-session", "s4", "-prompt", "  ")
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(out, frame.ErrorPrefix))
}

func TestHistoryAndClear(t *testing.T) {
	cfg, sessions := writeConfig(t)

	code, _, _ := invoke(t, "", "-config", cfg, "-session", "s5", "-prompt", "first")
	require.Equal(t, 0, code)

	code, out, _ := invoke(t, "", "-config", cfg, "-history", "-session", "s5")
	require.Equal(t, 0, code)
	var history []session.HistoryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "human", history[0].Type)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "ai", history[1].Type)

	code, _, _ = invoke(t, "", "-config", cfg, "-clear", "-session", "s5")
	require.Equal(t, 0, code)
	_, err := os.Stat(filepath.Join(sessions, "s5.json"))
	assert.True(t, os.IsNotExist(err))

	code, out, _ = invoke(t, "", "-config", cfg, "-history", "-session", "s5")
	require.Equal(t, 0, code)
	assert.Equal(t, "[]\n", out)
}

func TestMissingSession(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, errOut := invoke(t, "", "-config", cfg, "-prompt", "x")
	assert.Equal(t, 2, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "-session")
}
