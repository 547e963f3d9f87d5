package worker

import "sync"

// ProcessSlot is shared by workers whose launcher must never run more than
// once per process.
var ProcessSlot = NewSlot()

// Slot records the single active worker among those sharing it.
type Slot struct {
	mu     sync.Mutex
	active *Worker
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Active returns the worker holding the slot, or nil.
func (s *Slot) Active() *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Slot) claim(w *Worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active != w {
		return false
	}
	s.active = w
	return true
}

func (s *Slot) release(w *Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == w {
		s.active = nil
	}
}
