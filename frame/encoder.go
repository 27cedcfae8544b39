package frame

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/m4xw311/panelrelay/errors"
)

// NewlinePolicy decides how the Encoder keeps raw newlines out of chunk frames.
type NewlinePolicy int

const (
	// SplitLines writes each line segment as its own chunk. Line breaks are
	// dropped; a blank line becomes an empty chunk. A final line break adds none.
	SplitLines NewlinePolicy = iota
	// EscapeNewlines writes `\` as `\\`, LF as `\n` and CR as `\r`. Undo with Unescape.
	EscapeNewlines
)

var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	flattener = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// Encoder writes frames for the producer side of the protocol. It flushes after
// every frame so that the reading side sees output as soon as it is produced.
// Safe for concurrent use.
type Encoder struct {
	mu     sync.Mutex
	w      *bufio.Writer
	policy NewlinePolicy
	closed bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, policy NewlinePolicy) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), policy: policy}
}

// Chunk writes text as one or more chunk frames. Empty text writes one empty chunk.
func (e *Encoder) Chunk(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("chunk written after terminal frame")
	}

	switch e.policy {
	case EscapeNewlines:
		e.writeLine(ChunkPrefix + escaper.Replace(text))
	default:
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.TrimSuffix(text, "\n")
		for _, segment := range strings.Split(text, "\n") {
			e.writeLine(ChunkPrefix + strings.ReplaceAll(segment, "\r", ""))
		}
	}
	return e.flush()
}

// End writes the end marker. No frames can be written afterwards.
func (e *Encoder) End() error {
	return e.terminal(EndMarker)
}

// Error writes an error frame. Line breaks in message become spaces. No frames
// can be written afterwards.
func (e *Encoder) Error(message string) error {
	return e.terminal(ErrorPrefix + flattener.Replace(message))
}

func (e *Encoder) terminal(line string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("terminal frame already written")
	}
	e.closed = true
	e.writeLine(line)
	return e.flush()
}

func (e *Encoder) writeLine(line string) {
	// bufio.Writer keeps the first error and reports it on Flush.
	_, _ = e.w.WriteString(line)
	_ = e.w.WriteByte('\n')
}

func (e *Encoder) flush() error {
	if err := e.w.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write frame")
	}
	return nil
}

// Unescape reverses the EscapeNewlines policy. Unknown escapes are kept as written.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(c)
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}
