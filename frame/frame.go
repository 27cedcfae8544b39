// Package frame implements the line-oriented wire protocol spoken by agent
// processes on their standard output.
//
// Every protocol line is one of:
//
//	CHUNK:<text>     one unit of streamed output, <text> may be empty
//	END_STREAM       successful completion
//	ERROR:<message>  failure
//
// Any other line is diagnostic output and is skipped by Decode. Lines are
// recovered from an arbitrarily split byte stream with a Reassembler.
package frame

import (
	"fmt"
	"strings"
)

const (
	ChunkPrefix = "CHUNK:"
	EndMarker   = "END_STREAM"
	ErrorPrefix = "ERROR:"
)

// Kind is the tag of a Frame.
type Kind int

const (
	KindChunk Kind = iota + 1
	KindEnd
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindEnd:
		return "end"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Frame is one classified unit of an agent's output stream.
type Frame struct {
	Kind Kind
	// Text is the chunk content or the error message. Empty for End.
	Text string
}

func Chunk(text string) Frame { return Frame{Kind: KindChunk, Text: text} }
func End() Frame { return Frame{Kind: KindEnd} }
func Error(message string) Frame { return Frame{Kind: KindError, Text: message} }

// IsTerminal reports whether no further frames may follow f.
func (f Frame) IsTerminal() bool {
	return f.Kind == KindEnd || f.Kind == KindError
}

func (f Frame) String() string {
	switch f.Kind {
	case KindChunk:
		return fmt.Sprintf("Chunk(%q)", f.Text)
	case KindEnd:
		return "End"
	case KindError:
		return fmt.Sprintf("Error(%q)", f.Text)
	default:
		return f.Kind.String()
	}
}

// Decode classifies one complete line, without its trailing newline. ok is
// false for diagnostic lines, which callers must skip rather than fail on.
// Chunk content is returned exactly as written; it is never unescaped here.
func Decode(line string) (f Frame, ok bool) {
	switch {
	case strings.HasPrefix(line, ChunkPrefix):
		return Chunk(line[len(ChunkPrefix):]), true
	case line == EndMarker || line == EndMarker+"\r":
		return End(), true
	case strings.HasPrefix(line, ErrorPrefix):
		return Error(line[len(ErrorPrefix):]), true
	default:
		return Frame{}, false
	}
}
