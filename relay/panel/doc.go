// Package panel serves the relay to a chat panel over newline-delimited
// JSON-RPC 2.0.
//
// The server speaks a small dialect of the Agent Client Protocol:
//
//   - initialize
//   - session/new, session/load
//   - session/prompt (emits session/update notifications with agent_message_chunk)
//   - session/cancel
//   - session/history, session/clear, session/list
//   - session/setCurrent, session/current
//   - session/agentHistory
//
// Nothing but JSON-RPC messages is ever written to the connection; logs go to
// the logger. A prompt finishes with stopReason "end_turn" or "cancelled";
// other failures are JSON-RPC errors whose data holds the failure kind and
// message.
//
// Run works over any Conn. NewStdioConn adapts stdin and stdout; cmd/ws_bridge
// adapts a WebSocket.
package panel
