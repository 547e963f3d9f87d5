package worker

const (
	// StatusNotStarted indicates Run has not been called.
	StatusNotStarted Status = iota
	// StatusRunning indicates the blocking launch call is in progress.
	StatusRunning
	// StatusTerminated is terminal: the server shut down cleanly.
	StatusTerminated
	// StatusCrashed is terminal: the server failed or never launched.
	StatusCrashed
)

// Status is the execution status of a worker.
type Status int32

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not-started"
	case StatusRunning:
		return "running"
	case StatusTerminated:
		return "terminated"
	case StatusCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Terminated and Crashed.
func (s Status) IsTerminal() bool {
	return s == StatusTerminated || s == StatusCrashed
}
