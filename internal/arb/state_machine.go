package arb

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateIdle}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

// SetState overrides the current state, used when restoring a persisted
// cycle after restart.
func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func nextState(current State, event Event) State {
	switch current {
	case StateIdle:
		if event == EventQuote {
			return StateQuoted
		}
	case StateQuoted:
		if event == EventFill {
			return StateFilled
		}
		if event == EventCancel {
			return StateIdle
		}
	case StateFilled:
		if event == EventHedgeStart {
			return StateHedging
		}
		if event == EventSettle {
			return StateSettled
		}
	case StateHedging:
		if event == EventSettle {
			return StateSettled
		}
		if event == EventHedgeFail {
			return StateUnhedgedFatal
		}
	case StateSettled:
		if event == EventReset {
			return StateIdle
		}
	case StateUnhedgedFatal:
		// Terminal. Manual intervention required.
	}
	return current
}
