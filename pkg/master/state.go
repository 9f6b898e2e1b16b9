package master

// State is the lifecycle state of a run.
type State int32

const (
	StateIdle State = iota
	StateSplitting
	StateDispatching
	StateCollecting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateSplitting:   "splitting",
	StateDispatching: "dispatching",
	StateCollecting:  "collecting",
	StateDone:        "done",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
