package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benaskins/staticd/internal/coordinator"
)

// Journal appends events to a file as newline-delimited JSON.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger *slog.Logger
}

// OpenJournal creates or opens a journal file for appending.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening event journal: %w", err)
	}
	return &Journal{file: f, path: path, logger: slog.With("component", "journal")}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes one event.
func (j *Journal) Append(e coordinator.Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Time = e.Time.UTC()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Emit implements coordinator.EventSink. Write failures are logged.
func (j *Journal) Emit(e coordinator.Event) {
	if err := j.Append(e); err != nil {
		j.logger.Error("journal write failed", "path", j.path, "error", err)
	}
}

// Close closes the journal file.
func (j *Journal) Close() error {
	return j.file.Close()
}

// Tee returns a sink that emits to every non-nil sink in order.
func Tee(sinks ...coordinator.EventSink) coordinator.EventSink {
	var out []coordinator.EventSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return coordinator.SinkFunc(func(e coordinator.Event) {
		for _, s := range out {
			s.Emit(e)
		}
	})
}
