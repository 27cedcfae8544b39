// Package relay drives agent processes on behalf of a panel: one process per
// prompt, streamed chunk by chunk to the caller, with the finished exchange
// recorded in the conversation registry.
package relay

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/conversation"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/frame"
	"github.com/m4xw311/panelrelay/process"
	"github.com/m4xw311/panelrelay/session"
	"go.uber.org/zap"
)

type Option func(*Orchestrator)

// WithStateObserver registers fn to be called synchronously on every state transition.
func WithStateObserver(fn func(Transition)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithSerialization turns the per-session request queue on or off. It is on by default.
func WithSerialization(on bool) Option {
	return func(o *Orchestrator) { o.serialize = on }
}

// Orchestrator runs prompts against one backend. Safe for concurrent use.
type Orchestrator struct {
	backend   config.Backend
	registry  *conversation.Registry
	logger    *zap.Logger
	observer  func(Transition)
	serialize bool
	queue     *sessionQueue

	mu       sync.Mutex
	inflight map[string]map[string]context.CancelFunc
}

func New(backend config.Backend, registry *conversation.Registry, logger *zap.Logger, opts ...Option) *Orchestrator {
	if registry == nil {
		registry = conversation.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		backend:   backend.WithDefaults(),
		registry:  registry,
		logger:    logger,
		serialize: true,
		queue:     newSessionQueue(),
		inflight:  make(map[string]map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the conversation registry the orchestrator records into.
func (o *Orchestrator) Registry() *conversation.Registry { return o.registry }

// request is the state of one Send call.
type request struct {
	id        string
	sessionID string
	prompt    string
	sentAt    time.Time
	state     State
	response  strings.Builder
}

// Send runs prompt for sessionID in a new agent process. onChunk is called on
// the calling goroutine for every chunk, in the order the agent wrote them.
// Send returns nil once the agent ends the stream; the prompt and the full
// response are then appended to the session's log. On failure nothing is
// recorded and the returned error carries its kind (see errors.KindOf).
func (o *Orchestrator) Send(ctx context.Context, sessionID, prompt string, onChunk func(string)) error {
	req := &request{
		id:        uuid.NewString(),
		sessionID: sessionID,
		prompt:    prompt,
		sentAt:    time.Now(),
		state:     StateIdle,
	}
	logger := o.logger.With(zap.String("session_id", sessionID), zap.String("request_id", req.id))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.track(req, cancel)
	defer o.untrack(req)

	if o.serialize {
		release, err := o.queue.acquire(ctx, sessionID)
		if err != nil {
			return o.fail(req, logger, errors.Cancelled(err))
		}
		defer release()
	}

	o.transition(req, logger, StateSpawning, nil)
	p, err := process.Start(ctx, o.backend, process.Request{ID: req.id, SessionID: sessionID, Prompt: prompt}, o.logger)
	if err != nil {
		return o.fail(req, logger, err)
	}
	defer p.Close()
	o.transition(req, logger, StateStreaming, nil)

	if err := o.stream(ctx, req, p, onChunk); err != nil {
		if errors.Is(err, errors.ErrCancelled) {
			p.Terminate()
		}
		if stderr := p.Stderr(); stderr != "" {
			logger.Debug("agent stderr tail", zap.String("stderr", stderr))
		}
		return o.fail(req, logger, err)
	}

	o.registry.Append(sessionID,
		conversation.Message{Role: conversation.RoleUser, Content: prompt, Timestamp: req.sentAt},
		conversation.Message{Role: conversation.RoleAssistant, Content: req.response.String(), Timestamp: time.Now()},
	)
	o.transition(req, logger, StateCompleted, nil)
	return nil
}

// stream consumes frames until the first terminal frame or the process exit.
func (o *Orchestrator) stream(ctx context.Context, req *request, p *process.Process, onChunk func(string)) error {
	frames := p.Frames()
	for {
		select {
		case <-ctx.Done():
			return errors.Cancelled(ctx.Err())
		case f, ok := <-frames:
			if !ok {
				return o.exited(ctx, p)
			}
			switch f.Kind {
			case frame.KindChunk:
				text := f.Text
				if o.backend.UnescapeChunks {
					text = frame.Unescape(text)
				}
				req.response.WriteString(text)
				if onChunk != nil {
					onChunk(text)
				}
			case frame.KindEnd:
				return nil
			case frame.KindError:
				return errors.Protocol(f.Text)
			}
		}
	}
}

// exited waits for the exit status of a process whose output ended without a
// terminal frame. Any exit, including code 0, is a failure then.
func (o *Orchestrator) exited(ctx context.Context, p *process.Process) error {
	select {
	case <-ctx.Done():
		return errors.Cancelled(ctx.Err())
	case status := <-p.Exit():
		return status.AsError()
	}
}

func (o *Orchestrator) fail(req *request, logger *zap.Logger, err error) error {
	logger.Warn("request failed", zap.String("kind", errors.KindOf(err).String()), zap.Error(err))
	o.transition(req, logger, StateFailed, err)
	return err
}

func (o *Orchestrator) transition(req *request, logger *zap.Logger, to State, err error) {
	if req.state.Terminal() {
		return
	}
	from := req.state
	req.state = to
	logger.Debug("request state", zap.Stringer("from", from), zap.Stringer("to", to))
	if o.observer != nil {
		o.observer(Transition{RequestID: req.id, SessionID: req.sessionID, From: from, To: to, Err: err})
	}
}

func (o *Orchestrator) track(req *request, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[req.sessionID] == nil {
		o.inflight[req.sessionID] = make(map[string]context.CancelFunc)
	}
	o.inflight[req.sessionID][req.id] = cancel
}

func (o *Orchestrator) untrack(req *request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight[req.sessionID], req.id)
	if len(o.inflight[req.sessionID]) == 0 {
		delete(o.inflight, req.sessionID)
	}
}

// Cancel cancels every request of sessionID, the running one and those still
// waiting for their turn. Waiting requests never spawn. It reports whether
// there was any.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancels := o.inflight[sessionID]
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels) > 0
}

// GetHistory returns the relay-side log of sessionID.
func (o *Orchestrator) GetHistory(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	return o.registry.Log(sessionID), nil
}

// Clear empties the log of sessionID and, when the backend has a clear
// command, asks the agent to drop its own context too. A failing clear
// command is logged, not returned.
func (o *Orchestrator) Clear(ctx context.Context, sessionID string) error {
	o.registry.Clear(sessionID)
	if len(o.backend.ClearArgs) == 0 {
		return nil
	}
	req := process.Request{ID: uuid.NewString(), SessionID: sessionID}
	if _, err := process.Output(ctx, o.backend, req, o.backend.ClearArgs, o.logger); err != nil {
		o.logger.Warn("agent clear command failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) SetCurrentSession(id string) { o.registry.SetCurrent(id) }

func (o *Orchestrator) GetCurrentSession() string { return o.registry.Current() }

// Sessions lists the session ids known to the registry.
func (o *Orchestrator) Sessions() []string { return o.registry.IDs() }

// QueryAgentHistory asks the agent for its own record of sessionID.
func (o *Orchestrator) QueryAgentHistory(ctx context.Context, sessionID string) ([]session.HistoryEntry, error) {
	if len(o.backend.HistoryArgs) == 0 {
		return nil, errors.New("backend '%s' has no history command", o.backend.Name)
	}
	req := process.Request{ID: uuid.NewString(), SessionID: sessionID}
	out, err := process.Output(ctx, o.backend, req, o.backend.HistoryArgs, o.logger)
	if err != nil {
		return nil, err
	}
	var entries []session.HistoryEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, errors.Parse(err, "failed to parse agent history")
	}
	return entries, nil
}
