// Command panelrelay relays chat between a panel host and an agent process.
// In panel mode it speaks newline-delimited JSON-RPC on stdin/stdout; in
// terminal mode it runs an interactive prompt.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/conversation"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/logging"
	"github.com/m4xw311/panelrelay/relay"
	"github.com/m4xw311/panelrelay/relay/panel"
	"github.com/m4xw311/panelrelay/relay/terminal"
	"go.uber.org/zap"
)

const (
	modePanel    = "panel"
	modeTerminal = "terminal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	backend string
	mode    string
	session string
	prompt  string
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("panelrelay", flag.ContinueOnError)
	flags.SetOutput(stderr)
	backendFlag := flags.String("b", "", "Backend to relay to (defaults to the configured backend)")
	modeFlag := flags.String("m", modeTerminal, "Mode: 'panel' (JSON-RPC on stdio) or 'terminal'")
	sessionFlag := flags.String("s", "", "Session to start in (terminal mode)")
	configFlag := flags.String("c", "", "Configuration file (defaults to ~/.panelrelay and ./.panelrelay)")
	if err := flags.Parse(args); err != nil {
		return 2
	}

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

	// Stdout is the protocol channel in panel mode and the chat in terminal
	// mode, so logs default to a file.
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(config.DirName, "relay.log")
	}
	logger, err := logging.New(cfg.LogLevel, logFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating logger: %+v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	opts := options{
		backend: *backendFlag,
		mode:    *modeFlag,
		session: *sessionFlag,
		prompt:  strings.Join(flags.Args(), " "),
	}
	if err := serve(ctx, cfg, opts, stdin, stdout, logger); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		fmt.Fprintf(stderr, "panelrelay stopped with an error: %+v\n", err)
		return 1
	}
	return 0
}

// serve builds the orchestrator for the selected backend and runs the
// requested front end until its input ends or ctx is done.
func serve(ctx context.Context, cfg *config.Config, opts options, stdin io.Reader, stdout io.Writer, logger *zap.Logger) error {
	backend, err := cfg.GetBackend(opts.backend)
	if err != nil {
		return err
	}
	orch := relay.New(backend, conversation.NewRegistry(), logger, relay.WithSerialization(cfg.Serialize()))
	logger.Info("relay ready",
		zap.String("mode", opts.mode),
		zap.String("backend", backend.Name),
		zap.String("executable", backend.Executable),
		zap.String("delivery", string(backend.Delivery)))

	switch opts.mode {
	case modePanel:
		return panel.Run(ctx, orch, panel.NewStdioConn(stdin, stdout), logger)
	case modeTerminal:
		if opts.session != "" {
			orch.SetCurrentSession(opts.session)
		}
		return terminal.New(orch, stdin, stdout).Run(ctx, opts.prompt)
	default:
		return errors.New("invalid mode '%s'. Must be '%s' or '%s'", opts.mode, modePanel, modeTerminal)
	}
}
