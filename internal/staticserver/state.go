package staticserver

// State is the caller-visible lifecycle state of a Server.
type State string

const (
	StateInactive State = "inactive"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// Stable reports whether no start or stop is in progress.
func (s State) Stable() bool {
	return s == StateInactive || s == StateActive || s == StateCrashed
}

// Listener is notified of every state change with its details. Listeners
// run on the goroutine that changed the state and must not call Start or
// Stop synchronously.
type Listener func(State, string)

type listenerEntry struct {
	id int
	fn Listener
}
