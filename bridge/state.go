package bridge

import "sync/atomic"

// State is the lifecycle state of a Bridge. States only move forward.
type State uint32

const (
	CreatedState State = iota
	StartingState
	RunningState
	StoppingState
	StoppedState
)

func (s State) String() string {
	switch s {
	case CreatedState:
		return "Created"
	case StartingState:
		return "Starting"
	case RunningState:
		return "Running"
	case StoppingState:
		return "Stopping"
	case StoppedState:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// AtomicState is a State with compare-and-swap transitions.
type AtomicState struct {
	state atomic.Uint32
}

func (st *AtomicState) String() string {
	return st.Get().String()
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

func (st *AtomicState) ToStarting() bool {
	return st.state.CompareAndSwap(uint32(CreatedState), uint32(StartingState))
}

func (st *AtomicState) ToRunning() bool {
	return st.state.CompareAndSwap(uint32(StartingState), uint32(RunningState))
}

// ToStopping moves a running or starting bridge to Stopping.
func (st *AtomicState) ToStopping() bool {
	if st.state.CompareAndSwap(uint32(RunningState), uint32(StoppingState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(StartingState), uint32(StoppingState))
}

// ToStopped moves the bridge to its final state from any state.
func (st *AtomicState) ToStopped() {
	st.state.Store(uint32(StoppedState))
}
