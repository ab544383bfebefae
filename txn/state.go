package txn

// State is the lifecycle state of a payment transaction.
type State string

const (
	StatePending         State = "pending"
	StateProcessing      State = "processing"
	StateAuthorized      State = "authorized"
	StateCaptured        State = "captured"
	StateFailed          State = "failed"
	StateRefunded        State = "refunded"
	StatePartialRefunded State = "partial_refunded"
	StateCancelled       State = "cancelled"
)

// transitions is the allowed state graph. Every state mutation goes
// through CanTransition; there is no other path between states.
var transitions = map[State][]State{
	StatePending:         {StateProcessing},
	StateProcessing:      {StateAuthorized, StateFailed},
	StateAuthorized:      {StateCaptured},
	StateCaptured:        {StateRefunded, StatePartialRefunded, StateCancelled},
	StatePartialRefunded: {StatePartialRefunded, StateRefunded},
}

// CanTransition reports whether moving from one state to another is
// allowed by the lifecycle graph.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Refundable reports whether a refund may be attempted in this state.
func (s State) Refundable() bool {
	return s == StateCaptured || s == StatePartialRefunded
}
