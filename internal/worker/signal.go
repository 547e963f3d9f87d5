package worker

import "fmt"

// Kind identifies a lifecycle signal emitted by a worker.
type Kind string

const (
	// KindLaunched is emitted once the server accepts connections.
	KindLaunched Kind = "launched"
	// KindTerminated is emitted when the server shut down cleanly.
	KindTerminated Kind = "terminated"
	// KindCrashed is emitted when the server failed or could not launch.
	KindCrashed Kind = "crashed"
)

// IsTerminal reports whether k ends a worker's execution.
func (k Kind) IsTerminal() bool {
	return k == KindTerminated || k == KindCrashed
}

// Signal is one lifecycle event from a worker. Detail is set only for crashes.
type Signal struct {
	Kind   Kind
	Detail string
}

func (s Signal) String() string {
	if s.Detail == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s: %s", s.Kind, s.Detail)
}

// Launched returns the readiness milestone signal.
func Launched() Signal { return Signal{Kind: KindLaunched} }

// Terminated returns the clean-shutdown signal.
func Terminated() Signal { return Signal{Kind: KindTerminated} }

// Crashed returns a failure signal carrying detail.
func Crashed(detail string) Signal { return Signal{Kind: KindCrashed, Detail: detail} }
