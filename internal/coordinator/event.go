package coordinator

import (
	"time"

	"github.com/benaskins/staticd/internal/worker"
)

// Event is a worker signal that arrived with no request pending, tagged with
// the correlation id the worker was started with.
type Event struct {
	CorrelationID string      `json:"correlation_id"`
	Signal        worker.Kind `json:"event"`
	Detail        string      `json:"details,omitempty"`
	Time          time.Time   `json:"time"`
}

// EventSink receives asynchronous lifecycle events. Emit must not block.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Emit(Event) {}
