package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m4xw311/panelrelay/conversation"
	"github.com/m4xw311/panelrelay/relay"
)

// Terminal handles the terminal/CLI interaction mode for the relay
type Terminal struct {
	orch *relay.Orchestrator
	in   io.Reader
	out  io.Writer
}

// New creates a new Terminal instance
func New(orch *relay.Orchestrator, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		orch: orch,
		in:   in,
		out:  out,
	}
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	t.printWelcome()

	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		t.processTurn(ctx, initialPrompt)
	}

	scanner := bufio.NewScanner(t.in)
	for {
		fmt.Fprint(t.out, "You: ")
		if !scanner.Scan() {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(scanner.Text())
		if userInput == "" {
			continue
		}
		if !t.handleCommand(ctx, userInput) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Fprintln(t.out, "\nGoodbye!")

	return scanner.Err()
}

// handleCommand runs a command or relays the input as a prompt. It returns
// false when the session should end.
func (t *Terminal) handleCommand(ctx context.Context, userInput string) bool {
	command := strings.ToLower(userInput)
	switch {
	case command == "quit", command == "exit", command == "bye", command == "/quit", command == "/exit":
		return false
	case command == "help":
		t.printHelp()
	case command == "history":
		t.printHistory(ctx)
	case command == "clear":
		if err := t.orch.Clear(ctx, t.orch.GetCurrentSession()); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n\n", err)
			break
		}
		fmt.Fprint(t.out, "Conversation history cleared.\n\n")
	case command == "sessions":
		t.listSessions()
	case command == "switch" || strings.HasPrefix(command, "switch "):
		id := strings.TrimSpace(userInput[len("switch"):])
		if id == "" {
			fmt.Fprint(t.out, "Please provide a session ID. Usage: switch <session_id>\n\n")
			break
		}
		t.orch.SetCurrentSession(id)
		fmt.Fprintf(t.out, "Switched to session: %s\n\n", id)
	default:
		t.processTurn(ctx, userInput)
	}
	return true
}

// processTurn relays a single prompt and prints the streamed reply
func (t *Terminal) processTurn(ctx context.Context, userInput string) {
	fmt.Fprint(t.out, "Agent: ")
	err := t.orch.Send(ctx, t.orch.GetCurrentSession(), userInput, func(chunk string) {
		fmt.Fprint(t.out, chunk)
	})
	if err != nil {
		fmt.Fprintf(t.out, "\nError: %v\n\n", err)
		return
	}
	fmt.Fprint(t.out, "\n\n")
}

func (t *Terminal) printWelcome() {
	fmt.Fprintf(t.out, "Relaying to session %s. Type 'help' for commands, 'quit' to leave.\n\n", t.orch.GetCurrentSession())
}

func (t *Terminal) printHelp() {
	fmt.Fprint(t.out, `
Available Commands:
  - quit/exit/bye - Exit the chat
  - history - Show conversation history
  - clear - Clear conversation history
  - help - Show this help message
  - sessions - List all sessions
  - switch <session_id> - Switch to a different session

`)
}

func (t *Terminal) printHistory(ctx context.Context) {
	id := t.orch.GetCurrentSession()
	log, err := t.orch.GetHistory(ctx, id)
	if err != nil {
		fmt.Fprintf(t.out, "Error: %v\n\n", err)
		return
	}
	if len(log) == 0 {
		fmt.Fprint(t.out, "No conversation history yet.\n\n")
		return
	}

	fmt.Fprintf(t.out, "\nConversation History (Session: %s):\n", id)
	fmt.Fprintln(t.out, strings.Repeat("-", 50))
	for _, msg := range log {
		who := "Agent"
		if msg.Role == conversation.RoleUser {
			who = "You"
		}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), who, msg.Content)
	}
	fmt.Fprintln(t.out, strings.Repeat("-", 50))
	fmt.Fprintln(t.out)
}

func (t *Terminal) listSessions() {
	ids := t.orch.Sessions()
	if len(ids) == 0 {
		fmt.Fprint(t.out, "No sessions.\n\n")
		return
	}
	current := t.orch.GetCurrentSession()
	fmt.Fprintln(t.out, "\nSessions:")
	for _, id := range ids {
		marker := " "
		if id == current {
			marker = ">"
		}
		fmt.Fprintf(t.out, "%s %s\n", marker, id)
	}
	fmt.Fprintln(t.out)
}
