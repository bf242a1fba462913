package pump

import (
	"fmt"
)

// State is the pump's lifecycle phase.
type State int

const (
	StateUndefined = State(iota)

	// StateFeeding: surfaces are acquired and fed with new input frames.
	StateFeeding

	// StateDraining: the source is exhausted; in-flight work is flushed
	// without new input.
	StateDraining

	// StateReconfiguring: a live parameter reset is being applied; entered
	// only from StateFeeding right after a successful synchronization.
	StateReconfiguring

	// StateDone: terminal, the stream is fully flushed.
	StateDone

	// StateFailed: terminal, the loop hit a session-ending error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUndefined:
		return "undefined"
	case StateFeeding:
		return "feeding"
	case StateDraining:
		return "draining"
	case StateReconfiguring:
		return "reconfiguring"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown_state_%d", int(s))
	}
}

// IsTerminal reports whether the pump's loop has ended.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed:
		return true
	default:
		return false
	}
}
