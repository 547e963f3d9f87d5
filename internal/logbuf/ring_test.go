package logbuf

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestRingKeepsNewestLines(t *testing.T) {
	r := New(3)
	r.Write([]byte("a\nb\nc\nd\ne\n"))

	lines := r.Lines()
	if strings.Join(lines, ",") != "c,d,e" {
		t.Errorf("expected [c d e], got %v", lines)
	}
	if r.Total() != 5 {
		t.Errorf("expected total 5, got %d", r.Total())
	}
}

func TestRingHoldsPartialLine(t *testing.T) {
	r := New(5)
	r.Write([]byte("GET /index"))
	if len(r.Lines()) != 0 {
		t.Fatal("expected partial line to be held back")
	}
	r.Write([]byte(".html 200\r\n"))

	if got := r.LastLine(); got != "GET /index.html 200" {
		t.Errorf("expected joined line without CR, got %q", got)
	}
}

func TestRingFlush(t *testing.T) {
	r := New(5)
	r.Write([]byte("server exiting"))
	r.Flush()
	r.Flush()

	if lines := r.Lines(); len(lines) != 1 || lines[0] != "server exiting" {
		t.Errorf("expected flushed partial, got %v", lines)
	}
}

func TestRingLast(t *testing.T) {
	r := New(10)
	r.Write([]byte("a\nb\nc\nd\ne\n"))

	if got := strings.Join(r.Last(2), ","); got != "d,e" {
		t.Errorf("expected [d e], got %s", got)
	}
	if got := len(r.Last(100)); got != 5 {
		t.Errorf("expected all 5 lines, got %d", got)
	}
	if got := len(r.Last(0)); got != 0 {
		t.Errorf("expected none, got %d", got)
	}
}

func TestRingTruncatesLongLines(t *testing.T) {
	r := New(2)
	r.Write([]byte(strings.Repeat("x", MaxLineLength+100) + "\n"))

	if got := len(r.LastLine()); got != MaxLineLength {
		t.Errorf("expected line truncated to %d, got %d", MaxLineLength, got)
	}
}

func TestRingEmpty(t *testing.T) {
	r := New(0)
	if r.LastLine() != "" || r.String() != "" {
		t.Error("expected empty ring")
	}
	r.Write([]byte("one\ntwo\n"))
	if r.String() != "two" {
		t.Errorf("expected single-slot ring to keep newest, got %q", r.String())
	}
}

func TestRingConcurrentWriters(t *testing.T) {
	r := New(1000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				fmt.Fprintf(r, "writer %d line %d\n", i, j)
			}
		}(i)
	}
	wg.Wait()

	if r.Total() != 500 {
		t.Errorf("expected 500 lines, got %d", r.Total())
	}
}
