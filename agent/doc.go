// Package agent provides the reference agent driven by the relay.
//
// An Agent owns one on-disk conversation (session.Session) and a set of
// active tools. Each invocation of the relay-agent binary loads the session
// named by -session, runs one user turn and exits, so successive invocations
// with the same session id share one context window.
//
// # Usage
//
//	sess, _ := session.LoadOrNew(cfg.Agent.SessionsDir, id)
//	a, err := agent.New(&cfg.Agent, sess, registry, client, logger)
//	if err != nil {
//	    // handle error
//	}
//	err = a.ProcessUserInput(ctx, prompt, agent.ProcessCallbacks{
//	    OnAssistantMessage: func(message string) { /* stream it */ },
//	    OnToolCall:         func(tc session.ToolCall) { /* note the call */ },
//	})
//
// # Turns
//
// ProcessUserInput asks the LLM for a response and executes any tool calls it
// makes, feeding the results back, until the model answers without tool
// calls. Config.MaxTurns bounds the round trips and Config.MaxHistory bounds
// the messages sent to the model. A tool failure is reported to the model as
// the tool result instead of aborting the turn.
//
// # Callbacks
//
// ProcessCallbacks let the caller decide how events are surfaced. The
// relay-agent binary turns them into CHUNK frames on stdout.
package agent
