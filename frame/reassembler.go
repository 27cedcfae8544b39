package frame

import (
	"bytes"
	"iter"
	"slices"
)

// Reassembler joins arbitrarily split fragments into complete lines. The zero
// value is ready to use. It is not safe for concurrent use; use one per request.
type Reassembler struct {
	buf []byte
}

// Lines appends p to the pending buffer and yields every complete line, without
// its newline. The trailing incomplete fragment stays buffered. If the consumer
// stops early, the lines it did not take remain buffered for the next call.
func (r *Reassembler) Lines(p []byte) iter.Seq[string] {
	r.buf = append(r.buf, p...)
	return func(yield func(string) bool) {
		for {
			i := bytes.IndexByte(r.buf, '\n')
			if i < 0 {
				return
			}
			line := string(r.buf[:i])
			r.buf = r.buf[i+1:]
			if !yield(line) {
				return
			}
		}
	}
}

// Feed is Lines collected into a slice.
func (r *Reassembler) Feed(p []byte) []string {
	return slices.Collect(r.Lines(p))
}

// Flush returns the held fragment as a final line, for streams that close
// without a trailing newline. ok is false when nothing was held.
func (r *Reassembler) Flush() (line string, ok bool) {
	if len(r.buf) == 0 {
		return "", false
	}
	line = string(r.buf)
	r.buf = nil
	return line, true
}

// Pending reports the number of buffered bytes not yet returned as a line.
func (r *Reassembler) Pending() int { return len(r.buf) }

// Reset discards any buffered fragment.
func (r *Reassembler) Reset() { r.buf = nil }
