// Command relay-agent is the reference agent driven by panelrelay. Each
// invocation answers one prompt for one session and writes the answer as
// CHUNK frames on stdout, ending with END_STREAM or ERROR:.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/m4xw311/panelrelay/agent"
	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/frame"
	"github.com/m4xw311/panelrelay/llm"
	"github.com/m4xw311/panelrelay/logging"
	"github.com/m4xw311/panelrelay/session"
	"github.com/m4xw311/panelrelay/tools"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// stdinRequest is the object written by the relay in stdin delivery mode.
type stdinRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("relay-agent", flag.ContinueOnError)
	flags.SetOutput(stderr)
	sessionFlag := flags.String("session", "", "Session id")
	promptFlag := flags.String("prompt", "", "Prompt to answer")
	stdinFlag := flags.Bool("stdin", false, "Read {\"session_id\", \"prompt\"} as JSON from stdin")
	historyFlag := flags.Bool("history", false, "Print the session history as JSON and exit")
	clearFlag := flags.Bool("clear", false, "Delete the session and exit")
	configFlag := flags.String("config", "", "Configuration file (defaults to ~/.panelrelay and ./.panelrelay)")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	// Provider keys may live in .env; a missing file is fine.
	_ = godotenv.Load()

	var cfg *config.Config
	var err error
	if *configFlag != "" {
		cfg, err = config.LoadFile(*configFlag)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %+v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating logger: %+v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	sessionID := *sessionFlag
	prompt := *promptFlag
	if prompt == "" {
		prompt = strings.Join(flags.Args(), " ")
	}
	if *stdinFlag {
		var req stdinRequest
		if err := json.NewDecoder(stdin).Decode(&req); err != nil {
			return fail(frame.NewEncoder(stdout, frame.EscapeNewlines), logger, errors.Parse(err, "invalid request on stdin"))
		}
		sessionID, prompt = req.SessionID, req.Prompt
	}
	if sessionID == "" {
		fmt.Fprintln(stderr, "Error: -session is required")
		return 2
	}
	logger = logger.With(zap.String("session", sessionID))

	switch {
	case *historyFlag:
		return printHistory(cfg, sessionID, stdout, stderr)
	case *clearFlag:
		if err := session.Remove(cfg.Agent.SessionsDir, sessionID); err != nil {
			fmt.Fprintf(stderr, "Error clearing session: %+v\n", err)
			return 1
		}
		logger.Info("session cleared")
		return 0
	}

	enc := frame.NewEncoder(stdout, frame.EscapeNewlines)
	if strings.TrimSpace(prompt) == "" {
		return fail(enc, logger, errors.New("empty prompt"))
	}
	if err := answer(ctx, cfg, sessionID, prompt, enc, logger); err != nil {
		return fail(enc, logger, err)
	}
	if err := enc.End(); err != nil {
		logger.Error("could not write end frame", zap.Error(err))
		return 1
	}
	return 0
}

// answer runs one agent turn, streaming its output through enc.
func answer(ctx context.Context, cfg *config.Config, sessionID, prompt string, enc *frame.Encoder, logger *zap.Logger) error {
	sess, err := session.LoadOrNew(cfg.Agent.SessionsDir, sessionID)
	if err != nil {
		return err
	}

	client, err := llm.New(ctx, cfg.Agent.LLMClient, cfg.Agent.Model, logger)
	if err != nil {
		return err
	}

	ts, err := cfg.Agent.GetToolset(cfg.Agent.Toolset)
	if err != nil {
		return err
	}
	registry := tools.NewToolRegistry(&cfg.Agent, logger)
	registry.StartMCPServers(ctx, cfg.Agent.AdditionalMCPServers, ts)
	defer registry.Close()

	a, err := agent.New(&cfg.Agent, sess, registry, client, logger)
	if err != nil {
		return err
	}

	var writeErr error
	chunk := func(text string) {
		if writeErr == nil {
			writeErr = enc.Chunk(text)
		}
	}
	err = a.ProcessUserInput(ctx, prompt, agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) { chunk(message + "\n") },
		OnToolCall:         func(tc session.ToolCall) { chunk(fmt.Sprintf("[Calling tool: %s]\n", tc.Name)) },
		OnToolResult: func(tc session.ToolCall, result string) {
			if strings.HasPrefix(result, "Error:") {
				chunk(fmt.Sprintf("[Tool %s failed]\n", tc.Name))
			}
		},
		OnWarning: func(warning string) { logger.Warn(warning) },
	})
	if err != nil {
		return err
	}
	return writeErr
}

func printHistory(cfg *config.Config, sessionID string, stdout, stderr io.Writer) int {
	sess, err := session.LoadOrNew(cfg.Agent.SessionsDir, sessionID)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading session: %+v\n", err)
		return 1
	}
	if err := json.NewEncoder(stdout).Encode(sess.History()); err != nil {
		fmt.Fprintf(stderr, "Error writing history: %+v\n", err)
		return 1
	}
	return 0
}

func fail(enc *frame.Encoder, logger *zap.Logger, err error) int {
	logger.Error("request failed", zap.Error(err))
	if werr := enc.Error(err.Error()); werr != nil {
		logger.Error("could not write error frame", zap.Error(werr))
	}
	return 1
}
