package process

import (
	"strings"
	"sync"
)

// tail keeps the last lines written to it, bounded by a byte budget.
type tail struct {
	mu    sync.Mutex
	max   int
	size  int
	lines []string
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) Write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(line) > t.max {
		line = line[len(line)-t.max:]
	}
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > t.max && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
