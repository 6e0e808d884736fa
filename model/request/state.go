package request

// State represents the lifecycle state of a coordination request. Exactly one
// state holds at a time; the adjacency table below is the single source of
// truth for which transitions are legal.
type State string

const (
	StateSubmitted       State = "SUBMITTED"
	StateRouting         State = "ROUTING"
	StatePendingResponse State = "PENDING_RESPONSE"
	StateResponded       State = "RESPONDED"
	StateDelivered       State = "DELIVERED"
	StateEscalated       State = "ESCALATED"
	StateTimedOut        State = "TIMED_OUT"
	StateCancelled       State = "CANCELLED"
)

var transitions = map[State][]State{
	StateSubmitted:       {StateRouting, StateCancelled},
	StateRouting:         {StatePendingResponse, StateEscalated, StateCancelled},
	StatePendingResponse: {StateResponded, StateEscalated, StateTimedOut, StateCancelled},
	StateResponded:       {StateDelivered},
	StateDelivered:       {},
	StateEscalated:       {StateRouting, StateTimedOut, StateCancelled},
	StateTimedOut:        {},
	StateCancelled:       {},
}

// CanTransitionTo reports whether the edge from s to the supplied state
// exists in the adjacency table.
func (s State) CanTransitionTo(to State) bool {
	for _, candidate := range transitions[s] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no outgoing transitions.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsCancellable reports whether a request in this state may still be
// cancelled by its owner.
func (s State) IsCancellable() bool {
	switch s {
	case StateSubmitted, StateRouting, StatePendingResponse, StateEscalated:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known lifecycle states.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// States returns all known lifecycle states.
func States() []State {
	return []State{
		StateSubmitted, StateRouting, StatePendingResponse, StateResponded,
		StateDelivered, StateEscalated, StateTimedOut, StateCancelled,
	}
}
