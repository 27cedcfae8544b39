// Package terminal implements the interactive command-line front end of the
// relay.
//
// Each line typed by the user is relayed as a prompt to the current session
// and the agent's chunks are printed as they arrive. A few words are commands
// instead of prompts:
//
//   - quit, exit, bye (or /quit, /exit) end the session
//   - help lists the commands
//   - history prints the current session's log
//   - clear empties the current session's log
//   - sessions lists known sessions, marking the current one
//   - switch <session_id> changes the current session
//
// # Usage
//
//	orch := relay.New(backend, conversation.NewRegistry(), logger)
//	term := terminal.New(orch, os.Stdin, os.Stdout)
//	err := term.Run(ctx, initialPrompt)
package terminal
