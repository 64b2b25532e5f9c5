package order

import "fmt"

// StateTransition is one legal lifecycle step.
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine validates order lifecycle transitions.
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine builds the transition table.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{transitions: make(map[StateTransition]bool)}
	legal := []StateTransition{
		{StatusPending, StatusResting},
		{StatusPending, StatusPartial}, // fill can race the ack
		{StatusPending, StatusFilled},
		{StatusPending, StatusCancelRequested},
		{StatusPending, StatusCanceled}, // unsolicited, e.g. session end
		{StatusPending, StatusRejected},

		{StatusResting, StatusPartial},
		{StatusResting, StatusFilled},
		{StatusResting, StatusCancelRequested},
		{StatusResting, StatusCanceled},
		{StatusResting, StatusExpired},

		{StatusPartial, StatusPartial}, // repeated partial fills
		{StatusPartial, StatusFilled},
		{StatusPartial, StatusCancelRequested},
		{StatusPartial, StatusCanceled},
		{StatusPartial, StatusExpired},

		// A fill can race the cancel request; the fill wins.
		{StatusCancelRequested, StatusFilled},
		{StatusCancelRequested, StatusCanceled},
	}
	for _, t := range legal {
		sm.transitions[t] = true
	}
	return sm
}

// Validate reports whether from -> to is legal. Identical states are allowed
// for idempotent event replay.
func (sm *StateMachine) Validate(from, to Status) error {
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal order transition: %s -> %s", from, to)
	}
	return nil
}

// IsTerminal reports whether the lifecycle has ended.
func (sm *StateMachine) IsTerminal(status Status) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// IsActive reports whether the order may still produce fills. A
// cancel-requested order is active: the exchange has not confirmed the
// cancel, so its quantity is still committed exposure.
func (sm *StateMachine) IsActive(status Status) bool {
	switch status {
	case StatusPending, StatusResting, StatusPartial, StatusCancelRequested:
		return true
	default:
		return false
	}
}
