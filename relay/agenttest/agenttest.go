// Package agenttest provides fake agent processes for tests.
//
// The fake agent is the test binary itself. A package that wants fake agents
// calls Main from its TestMain; Backend then returns a backend that re-runs the
// test binary with a scenario selected through the backend's environment.
//
//	func TestMain(m *testing.M) { agenttest.Main(m) }
package agenttest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/frame"
)

const (
	// EnvScenario selects the scenario the fake agent runs.
	EnvScenario = "PANELRELAY_FAKE_AGENT"
	// EnvDir is a scratch directory shared between a test and its fake agents.
	EnvDir = "PANELRELAY_FAKE_AGENT_DIR"
	// EnvValue is echoed by the "env" scenario.
	EnvValue = "PANELRELAY_FAKE_AGENT_VALUE"
)

// Scenarios understood by the fake agent.
const (
	// Stream writes "Hello" and " world" in fragments split mid-line, then ends.
	Stream = "stream"
	// Echo reports the session id and prompt it received, then ends.
	Echo = "echo"
	// Fail writes a chunk, an error frame and a chunk that must be ignored, then exits 1.
	Fail = "error"
	// EndThenCrash ends the stream and exits 3.
	EndThenCrash = "end-then-crash"
	// ExitNonZero writes a chunk and exits 2 without a terminal frame.
	ExitNonZero = "exit-nonzero"
	// ExitZero writes a chunk and exits 0 without a terminal frame.
	ExitZero = "exit-zero"
	// NoNewline writes "CHUNK:partial" without a line break and exits 0.
	NoNewline = "no-newline"
	// Numbered writes chunks 0 to 499 in order, then ends.
	Numbered = "numbered"
	// Hang writes a chunk and never finishes.
	Hang = "hang"
	// HangAfterEnd ends the stream and keeps running.
	HangAfterEnd = "hang-after-end"
	// Noise surrounds its frames with lines that are not protocol frames.
	Noise = "noise"
	// Env reports the value of EnvValue and whether EnvDir is visible.
	Env = "env"
	// Stderr writes diagnostics to stderr and ends normally.
	Stderr = "stderr"
	// Serial fails when another Serial agent for the same session is running.
	Serial = "serial"
	// History answers history queries with two entries.
	History = "history"
	// BadHistory answers history queries with malformed output.
	BadHistory = "bad-history"
	// Orphan starts a background child that inherits stdout and stderr, ends
	// the stream and exits while the child keeps both open.
	Orphan = "orphan"
	// OrphanCrash is Orphan without a terminal frame, exiting 2.
	OrphanCrash = "orphan-crash"

	orphanChild = "orphan-child"
)

// OrphanLifetime is how long the background child of Orphan keeps running.
const OrphanLifetime = 20 * time.Second

// HelloWorld is the output of the Stream scenario split as it is written.
var HelloWorld = []string{"CHU", "NK:Hel", "lo\nCHUNK: wor", "ld\nEND_", "STREAM\n"}

// Main runs the fake agent when the scenario variable is set and the tests otherwise.
func Main(m *testing.M) {
	if scenario := os.Getenv(EnvScenario); scenario != "" {
		os.Exit(run(scenario, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

// Backend returns an args-delivery backend running scenario. The scratch
// directory is the test's temp dir.
func Backend(t testing.TB, scenario string) config.Backend {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("could not locate test binary: %v", err)
	}
	return config.Backend{
		Name:       scenario,
		Executable: exe,
		Delivery:   config.DeliveryArgs,
		Environment: map[string]string{
			EnvScenario: scenario,
			EnvDir:      t.TempDir(),
		},
		ExitGrace:      500 * time.Millisecond,
		UnescapeChunks: true,
		HistoryArgs:    []string{"-history", "-session", config.PlaceholderSessionID},
		ClearArgs:      []string{"-clear", "-session", config.PlaceholderSessionID},
	}.WithDefaults()
}

type invocation struct {
	sessionID string
	prompt    string
	script    string
	history   bool
	clear     bool
	stdin     bool
}

func parseArgs(args []string) invocation {
	var inv invocation
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-session":
			if i+1 < len(args) {
				i++
				inv.sessionID = args[i]
			}
		case "-prompt":
			if i+1 < len(args) {
				i++
				inv.prompt = args[i]
			}
		case "-history":
			inv.history = true
		case "-clear":
			inv.clear = true
		case "-stdin":
			inv.stdin = true
		default:
			if inv.script == "" && !strings.HasPrefix(args[i], "-") {
				inv.script = args[i]
			}
		}
	}
	return inv
}

func run(scenario string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	inv := parseArgs(args)
	if inv.stdin || (inv.sessionID == "" && inv.prompt == "" && !inv.history && !inv.clear) {
		var req struct {
			SessionID string `json:"session_id"`
			Prompt    string `json:"prompt"`
		}
		if err := json.NewDecoder(stdin).Decode(&req); err == nil {
			inv.sessionID, inv.prompt = req.SessionID, req.Prompt
		}
	}

	if inv.history {
		return history(scenario, inv, stdout)
	}
	if inv.clear {
		return 0
	}

	enc := frame.NewEncoder(stdout, frame.EscapeNewlines)
	raw := func(s string) {
		_, _ = io.WriteString(stdout, s)
		if f, ok := stdout.(*os.File); ok {
			_ = f.Sync()
		}
	}

	switch scenario {
	case Stream:
		for _, part := range HelloWorld {
			raw(part)
			time.Sleep(5 * time.Millisecond)
		}
		return 0
	case Echo:
		_ = enc.Chunk("session=" + inv.sessionID)
		_ = enc.Chunk("prompt=" + inv.prompt)
		if inv.script != "" {
			body, err := os.ReadFile(inv.script)
			if err != nil {
				_ = enc.Error(fmt.Sprintf("could not read script: %v", err))
				return 1
			}
			_ = enc.Chunk("script=" + string(body))
		}
		_ = enc.End()
		return 0
	case Fail:
		raw("CHUNK:x\nERROR:boom\nCHUNK:late\n")
		return 1
	case EndThenCrash:
		raw("CHUNK:ok\nEND_STREAM\n")
		return 3
	case ExitNonZero:
		raw("CHUNK:partial\n")
		return 2
	case ExitZero:
		raw("CHUNK:partial\n")
		return 0
	case NoNewline:
		raw("CHUNK:partial")
		return 0
	case Numbered:
		for i := 0; i < 500; i++ {
			_ = enc.Chunk(fmt.Sprint(i))
		}
		_ = enc.End()
		return 0
	case Hang:
		_ = enc.Chunk("started")
		time.Sleep(time.Hour)
		return 0
	case HangAfterEnd:
		_ = enc.Chunk("done")
		_ = enc.End()
		time.Sleep(time.Hour)
		return 0
	case Noise:
		raw("starting up\nCHUNK:a\n[debug] thinking\nCHUNK:b\nEND_STREAM\nCHUNK:after\n")
		return 0
	case Env:
		_, dirSet := os.LookupEnv(EnvDir)
		_ = enc.Chunk("value=" + os.Getenv(EnvValue))
		_ = enc.Chunk(fmt.Sprintf("dir=%t", dirSet))
		_ = enc.End()
		return 0
	case Stderr:
		_, _ = fmt.Fprintln(stderr, "warming up")
		_, _ = fmt.Fprintln(stderr, "ready")
		_ = enc.Chunk("ok")
		_ = enc.End()
		return 0
	case Serial:
		return serial(inv, enc)
	case Orphan, OrphanCrash:
		if err := startOrphan(stdout, stderr); err != nil {
			_ = enc.Error(err.Error())
			return 1
		}
		_ = enc.Chunk("detached")
		if scenario == OrphanCrash {
			return 2
		}
		_ = enc.End()
		return 0
	case orphanChild:
		time.Sleep(OrphanLifetime)
		return 0
	default:
		_ = enc.Error("unknown scenario " + scenario)
		return 1
	}
}

func startOrphan(stdout, stderr io.Writer) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), EnvScenario+"="+orphanChild)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func serial(inv invocation, enc *frame.Encoder) int {
	lock := filepath.Join(os.Getenv(EnvDir), inv.sessionID+".lock")
	f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		_ = enc.Error("overlapping request for " + inv.sessionID)
		return 1
	}
	_ = f.Close()
	time.Sleep(30 * time.Millisecond)
	_ = os.Remove(lock)
	_ = enc.Chunk(inv.prompt)
	_ = enc.End()
	return 0
}

func history(scenario string, inv invocation, stdout io.Writer) int {
	if scenario == BadHistory {
		_, _ = io.WriteString(stdout, "this is not json\n")
		return 0
	}
	entries := []map[string]string{
		{"type": "human", "content": "hi from " + inv.sessionID, "timestamp": "2026-01-02T03:04:05Z"},
		{"type": "ai", "content": "hello", "timestamp": "2026-01-02T03:04:06Z"},
	}
	if err := json.NewEncoder(stdout).Encode(entries); err != nil {
		return 1
	}
	return 0
}
