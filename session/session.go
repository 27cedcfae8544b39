package session

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/m4xw311/panelrelay/errors"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

type Message struct {
	Role      string     `json:"role"` // "system", "user", "assistant", "tool"
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Session is the agent-side context of one conversation. Each agent
// invocation loads it, adds the new turn and saves it again, so separate
// processes with the same session id share one context window.
type Session struct {
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	path      string
}

// HistoryEntry is the structured form printed by the agent's history query.
type HistoryEntry struct {
	Type      string    `json:"type"` // "human" or "ai"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// New creates a new, unsaved session in dir.
func New(dir, name string) (*Session, error) {
	path, err := getSessionPath(dir, name)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		Name:      name,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		path:      path,
	}, nil
}

// Load loads an existing session from disk. A file that exists but cannot be
// decoded yields a parse error.
func Load(dir, name string) (*Session, error) {
	path, err := getSessionPath(dir, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Parse(err, "could not parse session file %s", path)
	}
	s.path = path
	return &s, nil
}

// LoadOrNew loads the named session, or creates it when no file exists yet.
func LoadOrNew(dir, name string) (*Session, error) {
	s, err := Load(dir, name)
	if err == nil {
		return s, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return New(dir, name)
	}
	return nil, err
}

// Remove deletes the named session file. Removing a missing session is not an error.
func Remove(dir, name string) error {
	path, err := getSessionPath(dir, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "could not remove session file %s", path)
	}
	return nil
}

// Save writes the current session state to disk atomically.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write session file")
	}
	return os.Rename(tmp, s.path)
}

// AddMessage appends a message to the session history, stamping it if needed.
func (s *Session) AddMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = msg.Timestamp
}

// Recent returns the last limit messages, or all of them when limit <= 0.
// The window never starts on a tool result whose call was cut off.
func (s *Session) Recent(limit int) []Message {
	if limit <= 0 || len(s.Messages) <= limit {
		return s.Messages
	}
	start := len(s.Messages) - limit
	for start < len(s.Messages) && s.Messages[start].Role == "tool" {
		start++
	}
	return s.Messages[start:]
}

// History returns the user and assistant text turns in order.
func (s *Session) History() []HistoryEntry {
	history := []HistoryEntry{}
	for _, msg := range s.Messages {
		switch msg.Role {
		case "user":
			history = append(history, HistoryEntry{Type: "human", Content: msg.Content, Timestamp: msg.Timestamp})
		case "assistant":
			if msg.Content == "" {
				continue
			}
			history = append(history, HistoryEntry{Type: "ai", Content: msg.Content, Timestamp: msg.Timestamp})
		}
	}
	return history
}

func getSessionPath(dir, name string) (string, error) {
	if !validName.MatchString(name) {
		return "", errors.New("invalid session name '%s'", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "could not create session directory")
	}
	return filepath.Join(dir, fmt.Sprintf("%s.json", name)), nil
}
