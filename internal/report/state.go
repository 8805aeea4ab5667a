package report

import "fmt"

// State is a report lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateReady     State = "ready"
	StatePlanning  State = "planning"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCombining State = "combining"
	StateFinished  State = "finished"
	StateFailed    State = "failed"
	StateKilled    State = "killed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateKilled
}

// transitions is the allowed state graph. Failed and Killed are
// reachable from every non-terminal state.
var transitions = map[State][]State{
	StateCreated:   {StateReady},
	StateReady:     {StatePlanning},
	StatePlanning:  {StateQueued},
	StateQueued:    {StateRunning},
	StateRunning:   {StateCombining},
	StateCombining: {StateFinished},
}

func validTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed || to == StateKilled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// setState moves the report to a new state, enforcing the transition
// graph. Callers must not hold r.mu.
func (r *Report) setState(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !validTransition(r.state, to) {
		return fmt.Errorf("report %s: invalid state transition %s -> %s", r.id, r.state, to)
	}
	r.state = to
	return nil
}

// State returns the report's current state.
func (r *Report) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
