package panel

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/m4xw311/panelrelay/conversation"
	"github.com/m4xw311/panelrelay/errors"
	"go.uber.org/zap"
)

func (s *server) dispatch(req *jsonrpcRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "session/new":
		s.handleSessionNew(req)
	case "session/load":
		s.handleSessionLoad(req)
	case "session/prompt":
		s.prompts.Add(1)
		go func() {
			defer s.prompts.Done()
			s.handleSessionPrompt(req)
		}()
	case "session/cancel":
		s.handleSessionCancel(req)
	case "session/history":
		s.handleSessionHistory(req)
	case "session/clear":
		s.handleSessionClear(req)
	case "session/list":
		s.handleSessionList(req)
	case "session/setCurrent":
		s.handleSessionSetCurrent(req)
	case "session/current":
		_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": s.orch.GetCurrentSession()})
	case "session/agentHistory":
		s.handleAgentHistory(req)
	default:
		if req.ID != nil {
			_ = s.writeResponseError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

// sessionID decodes params and falls back to the current session when the
// request names none.
func (s *server) sessionID(req *jsonrpcRequest, params any) (string, bool) {
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, params); err != nil {
			_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
			return "", false
		}
	}
	var id string
	switch p := params.(type) {
	case *sessionParams:
		id = p.SessionID
	case *promptParams:
		id = p.SessionID
	}
	if id == "" {
		id = s.orch.GetCurrentSession()
	}
	return id, true
}

// handleInitialize returns the protocol version and the server's capabilities.
func (s *server) handleInitialize(req *jsonrpcRequest) {
	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

// handleSessionNew creates a session and makes it current.
func (s *server) handleSessionNew(req *jsonrpcRequest) {
	sid := "sess_" + uuid.NewString()
	s.orch.SetCurrentSession(sid)
	s.logger.Debug("created session", zap.String("session_id", sid))
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad makes a session current and replays its log as
// session/update notifications before answering.
func (s *server) handleSessionLoad(req *jsonrpcRequest) {
	var p sessionParams
	sid, ok := s.sessionID(req, &p)
	if !ok {
		return
	}
	s.orch.SetCurrentSession(sid)

	log, err := s.orch.GetHistory(s.ctx, sid)
	if err != nil {
		_ = s.writeFailure(req.ID, err)
		return
	}
	for _, msg := range log {
		update := "agent_message_chunk"
		if msg.Role == conversation.RoleUser {
			update = "user_message_chunk"
		}
		_ = s.sendUpdate(sid, update, msg.Content)
	}
	_ = s.writeResponseOK(req.ID, nil)
}

type promptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []contentBlock `json:"prompt"`
}

// handleSessionPrompt relays a prompt to the agent, streaming each chunk as an
// agent_message_chunk notification before the final response.
func (s *server) handleSessionPrompt(req *jsonrpcRequest) {
	var p promptParams
	sid, ok := s.sessionID(req, &p)
	if !ok {
		return
	}
	text := extractUserText(p.Prompt)
	if text == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "empty prompt")
		return
	}

	logger := s.logger.With(zap.String("session_id", sid))
	logger.Debug("relaying prompt", zap.Int("blocks", len(p.Prompt)))

	err := s.orch.Send(s.ctx, sid, text, func(chunk string) {
		_ = s.sendUpdate(sid, "agent_message_chunk", chunk)
	})
	switch {
	case err == nil:
		_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "end_turn"})
	case errors.Is(err, errors.ErrCancelled):
		_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "cancelled"})
	default:
		_ = s.writeFailure(req.ID, err)
	}
}

func (s *server) handleSessionCancel(req *jsonrpcRequest) {
	var p sessionParams
	sid, ok := s.sessionID(req, &p)
	if !ok {
		return
	}
	cancelled := s.orch.Cancel(sid)
	s.logger.Debug("cancel requested", zap.String("session_id", sid), zap.Bool("running", cancelled))
	// session/cancel is usually sent as a notification.
	if req.ID != nil {
		_ = s.writeResponseOK(req.ID, map[string]any{"cancelled": cancelled})
	}
}

func (s *server) handleSessionHistory(req *jsonrpcRequest) {
	var p sessionParams
	sid, ok := s.sessionID(req, &p)
	if !ok {
		return
	}
	log, err := s.orch.GetHistory(s.ctx, sid)
	if err != nil {
		_ = s.writeFailure(req.ID, err)
		return
	}
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid, "messages": log})
}

func (s *server) handleSessionClear(req *jsonrpcRequest) {
	var p sessionParams
	sid, ok := s.sessionID(req, &p)
	if !ok {
		return
	}
	if err := s.orch.Clear(s.ctx, sid); err != nil {
		_ = s.writeFailure(req.ID, err)
		return
	}
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid})
}

func (s *server) handleSessionList(req *jsonrpcRequest) {
	_ = s.writeResponseOK(req.ID, map[string]any{
		"sessions": s.orch.Sessions(),
		"current":  s.orch.GetCurrentSession(),
	})
}

func (s *server) handleSessionSetCurrent(req *jsonrpcRequest) {
	var p sessionParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
			return
		}
	}
	if p.SessionID == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "sessionId is required")
		return
	}
	s.orch.SetCurrentSession(p.SessionID)
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": p.SessionID})
}

func (s *server) handleAgentHistory(req *jsonrpcRequest) {
	var p sessionParams
	sid, ok := s.sessionID(req, &p)
	if !ok {
		return
	}
	entries, err := s.orch.QueryAgentHistory(s.ctx, sid)
	if err != nil {
		_ = s.writeFailure(req.ID, err)
		return
	}
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid, "entries": entries})
}

// sendUpdate emits a session/update notification carrying text content.
func (s *server) sendUpdate(sessionID, kind, text string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": kind,
			"content": map[string]any{
				"type": "text",
				"text": text,
			},
		},
	})
}
