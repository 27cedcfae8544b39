// Package conversation keeps the relay-side message log of every conversation,
// keyed by session id, and the id of the conversation the panel is showing.
package conversation

import (
	"slices"
	"sort"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSessionID is the current session before any switch.
const DefaultSessionID = "default"

// Message is one immutable entry of a conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps a message with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// Registry maps session ids to their ordered logs. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	logs    map[string][]Message
	current string
}

func NewRegistry() *Registry {
	return &Registry{
		logs:    make(map[string][]Message),
		current: DefaultSessionID,
	}
}

// Log returns a copy of the log for id, creating an empty one if needed.
func (r *Registry) Log(id string) []Message {
	r.mu.RLock()
	log, ok := r.logs[id]
	r.mu.RUnlock()
	if ok {
		return slices.Clone(log)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.logs[id]; !ok {
		r.logs[id] = []Message{}
	}
	return slices.Clone(r.logs[id])
}

// Append adds messages to the end of id's log.
func (r *Registry) Append(id string, msgs ...Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[id] = append(r.logs[id], msgs...)
}

// Clear discards every entry for id. Other sessions are untouched.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.logs[id]; ok {
		r.logs[id] = []Message{}
	}
}

// IDs lists known session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.logs))
	for id := range r.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetCurrent switches the externally visible session and makes sure it has a log.
func (r *Registry) SetCurrent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
	if _, ok := r.logs[id]; !ok {
		r.logs[id] = []Message{}
	}
}

func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
