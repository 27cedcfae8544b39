package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Serialize())

	b, err := cfg.GetBackend("")
	require.NoError(t, err)
	assert.Equal(t, "relay-agent", b.Executable)
	assert.Equal(t, DeliveryArgs, b.Delivery)
	assert.Equal(t, DefaultExitGrace, b.ExitGrace)
	assert.Equal(t, []string{"-session", PlaceholderSessionID, "-prompt", PlaceholderPrompt}, b.Args)
	assert.Contains(t, cfg.Agent.FilesystemAccess.Hidden, DirName)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
backend: py
serialize_sessions: false
backends:
  - name: py
    executable: python3
    delivery: script
    script: "import sys\nprint('CHUNK:' + sys.argv[4])\nprint('END_STREAM')\n"
    script_extension: .py
    working_directory: /tmp
    environment:
      PYTHONUNBUFFERED: "1"
    environment_passthrough: ["PATH", "HOME"]
    exit_grace: 250ms
agent:
  llm: openai
  model: gpt-4o
  max_history: 4
  toolsets:
    - name: default
      tools: [read_file]
    - name: tight
      tools: []
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.False(t, cfg.Serialize())

	b, err := cfg.GetBackend("")
	require.NoError(t, err)
	assert.Equal(t, "python3", b.Executable)
	assert.Equal(t, DeliveryScript, b.Delivery)
	assert.Equal(t, 250*time.Millisecond, b.ExitGrace)
	assert.Equal(t, "1", b.Environment["PYTHONUNBUFFERED"])
	assert.Len(t, b.Args, 4)

	assert.Equal(t, "openai", cfg.Agent.LLMClient)
	assert.Equal(t, 4, cfg.Agent.MaxHistory)
	assert.Equal(t, 8, cfg.Agent.MaxTurns, "unset fields keep their defaults")

	_, err = cfg.GetBackend("default")
	assert.Error(t, err, "backends in the file replace the default list")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PANELRELAY_BACKEND", "other")
	t.Setenv("PANELRELAY_LOG_LEVEL", "debug")
	t.Setenv("PANELRELAY_SESSIONS_DIR", "/var/sessions")
	path := writeFile(t, `
backends:
  - name: other
    executable: cat
    delivery: stdin
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "other", cfg.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/sessions", cfg.Agent.SessionsDir)

	b, err := cfg.GetBackend("")
	require.NoError(t, err)
	assert.Empty(t, b.Args, "stdin delivery gets no default args")
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"no name":          "backends: [{executable: x}]",
		"duplicate":        "backends: [{name: a, executable: x}, {name: a, executable: y}]",
		"no executable":    "backends: [{name: a}]",
		"script missing":   "backends: [{name: a, executable: sh, delivery: script}]",
		"unknown delivery": "backends: [{name: a, executable: sh, delivery: pigeon}]",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "backends: [unclosed"))
	assert.Error(t, err)
}

func TestLoadConfigProjectOverridesUser(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, DirName), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(project, DirName), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, DirName, "config.yaml"), []byte("log_level: warn\nlog_file: user.log\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(project, DirName, "config.yaml"), []byte("log_level: error\n"), 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(project))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "user.log", cfg.LogFile)
}

func TestGetToolset(t *testing.T) {
	a := Default().Agent
	a.Toolsets = append(a.Toolsets, Toolset{Name: "files", Tools: []string{"read_file"}})

	ts, err := a.GetToolset("files")
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file"}, ts.Tools)

	ts, err = a.GetToolset("unknown")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)

	_, err = (&Agent{}).GetToolset("")
	assert.Error(t, err)
}
