// Turn-continuation state machine.
//
// Information Hiding:
// - Legal transitions live in one table
// - Terminal states are plain states; the engine parks in them until the
//   next SendMessage or Reset

package agent

import "fmt"

// State is the engine's position in the turn-continuation loop.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateToolsPending
	StateCheckingNextSpeaker
	StateMaxTurnsReached
	StateMaxSessionTurnsReached
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateToolsPending:
		return "tools_pending"
	case StateCheckingNextSpeaker:
		return "checking_next_speaker"
	case StateMaxTurnsReached:
		return "max_turns_reached"
	case StateMaxSessionTurnsReached:
		return "max_session_turns_reached"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a SendMessage run.
func (s State) Terminal() bool {
	switch s {
	case StateIdle, StateMaxTurnsReached, StateMaxSessionTurnsReached:
		return true
	}
	return false
}

// transitions lists the states reachable from each state. Streaming to
// Streaming is the single retry after a model fallback.
var transitions = map[State][]State{
	StateIdle:                   {StateStreaming, StateMaxSessionTurnsReached},
	StateMaxTurnsReached:        {StateStreaming, StateMaxSessionTurnsReached, StateIdle},
	StateMaxSessionTurnsReached: {StateMaxSessionTurnsReached, StateIdle},
	StateStreaming:              {StateStreaming, StateToolsPending, StateCheckingNextSpeaker, StateIdle, StateMaxTurnsReached},
	StateToolsPending:           {StateStreaming, StateIdle, StateMaxTurnsReached, StateMaxSessionTurnsReached},
	StateCheckingNextSpeaker:    {StateStreaming, StateIdle, StateMaxTurnsReached, StateMaxSessionTurnsReached},
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
