package bundle

import (
	"fmt"

	"github.com/gofhir/bundlevalidator/pkg/logger"
)

// State is a step in the lifecycle of one bundle validation request.
type State int

// Request lifecycle. Transitions only move forward; Rejected is reachable
// from Received alone and Failed from any non-terminal state.
const (
	StateReceived State = iota
	StateParsed
	StateDispatched
	StateAwaitingCompletion
	StateSealed
	StateAssembled
	StateReturned
	StateRejected
	StateFailed
)

var stateNames = [...]string{
	StateReceived:           "received",
	StateParsed:             "parsed",
	StateDispatched:         "dispatched",
	StateAwaitingCompletion: "awaiting_completion",
	StateSealed:             "sealed",
	StateAssembled:          "assembled",
	StateReturned:           "returned",
	StateRejected:           "rejected",
	StateFailed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReturned || s == StateRejected || s == StateFailed
}

// canTransition reports whether from -> to is a legal lifecycle step.
func canTransition(from, to State) bool {
	switch to {
	case StateRejected:
		return from == StateReceived
	case StateFailed:
		return !from.Terminal()
	default:
		return !from.Terminal() && to == from+1
	}
}

// request tracks the lifecycle of one call. It is owned by the calling
// goroutine and never shared with entry jobs.
type request struct {
	id      string
	state   State
	log     *logger.Logger
	history []State
}

func newRequest(id string, log *logger.Logger) *request {
	r := &request{id: id, state: StateReceived, log: log, history: []State{StateReceived}}
	log.Debug("bundle request state", "request_id", id, "state", StateReceived.String())
	return r
}

// to moves the request to next. An illegal transition is a programming
// error and panics.
func (r *request) to(next State) {
	if !canTransition(r.state, next) {
		panic(fmt.Sprintf("bundle: illegal state transition %s -> %s", r.state, next))
	}
	r.log.Debug("bundle request state", "request_id", r.id, "from", r.state.String(), "state", next.String())
	r.state = next
	r.history = append(r.history, next)
}
