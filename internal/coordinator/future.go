package coordinator

import (
	"context"
	"sync"
)

// OutcomeKind says which request an Outcome settles.
type OutcomeKind string

const (
	OutcomeStart OutcomeKind = "start"
	OutcomeStop  OutcomeKind = "stop"
)

// Outcome is the success value of a settled request.
type Outcome struct {
	Kind          OutcomeKind
	CorrelationID string
	// Detail describes how the request settled, e.g. "launched" or
	// "already stopped".
	Detail string
}

// Future is the caller's handle on a start or stop request. It is settled
// exactly once.
type Future struct {
	once    sync.Once
	done    chan struct{}
	outcome Outcome
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func settled(o Outcome, err error) *Future {
	f := newFuture()
	f.settle(o, err)
	return f
}

// settle records the result. It reports false if the future was already
// settled.
func (f *Future) settle(o Outcome, err error) bool {
	first := false
	f.once.Do(func() {
		first = true
		f.outcome = o
		f.err = err
		close(f.done)
	})
	return first
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome. It must only be called after Done is closed.
func (f *Future) Result() (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, f.err
	default:
		return Outcome{}, newError(ErrInternal, "", "result read before settlement")
	}
}

// Wait blocks until the future settles or ctx ends. A ctx error does not
// cancel the underlying request.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, f.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
