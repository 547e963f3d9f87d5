// Package logbuf keeps the most recent output lines of a server.
package logbuf

import (
	"bytes"
	"strings"
	"sync"
)

// MaxLineLength caps a stored line; longer lines are truncated.
const MaxLineLength = 4096

// Ring holds the last N complete lines written to it. It is an io.Writer
// so it can capture a server's stdout and stderr.
type Ring struct {
	mu      sync.Mutex
	lines   []string
	start   int
	count   int
	partial []byte
	total   uint64
}

// New creates a ring that keeps n lines. n < 1 is treated as 1.
func New(n int) *Ring {
	if n < 1 {
		n = 1
	}
	return &Ring{lines: make([]string, n)}
}

// Write splits p into lines. A trailing fragment is held until its newline
// arrives or Flush is called.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := p
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			r.partial = append(r.partial, data...)
			if len(r.partial) > MaxLineLength {
				r.partial = r.partial[:MaxLineLength]
			}
			break
		}
		r.partial = append(r.partial, data[:i]...)
		r.push(string(r.partial))
		r.partial = r.partial[:0]
		data = data[i+1:]
	}
	return len(p), nil
}

// Flush stores any pending partial line.
func (r *Ring) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.partial) > 0 {
		r.push(string(r.partial))
		r.partial = r.partial[:0]
	}
}

func (r *Ring) push(line string) {
	line = strings.TrimSuffix(line, "\r")
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength]
	}
	size := len(r.lines)
	if r.count < size {
		r.lines[(r.start+r.count)%size] = line
		r.count++
	} else {
		r.lines[r.start] = line
		r.start = (r.start + 1) % size
	}
	r.total++
}

// Lines returns the stored lines, oldest first.
func (r *Ring) Lines() []string {
	return r.Last(-1)
}

// Last returns up to n of the newest lines, oldest first. n < 0 means all.
func (r *Ring) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n < 0 || n > r.count {
		n = r.count
	}
	out := make([]string, n)
	size := len(r.lines)
	first := r.start + r.count - n
	for i := range out {
		out[i] = r.lines[(first+i)%size]
	}
	return out
}

// LastLine returns the newest line, or "" if nothing has been written.
func (r *Ring) LastLine() string {
	if l := r.Last(1); len(l) == 1 {
		return l[0]
	}
	return ""
}

// Total returns how many lines have been written, including evicted ones.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// String joins the stored lines with newlines.
func (r *Ring) String() string {
	return strings.Join(r.Lines(), "\n")
}
