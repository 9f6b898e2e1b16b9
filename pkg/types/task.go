package types

import "fmt"

// TaskState is the lifecycle state of one remote invocation.
type TaskState int32

const (
	// TaskStateSubmitted means the task was handed to the backend.
	TaskStateSubmitted TaskState = iota
	// TaskStateRunning means the endpoint started executing the task.
	TaskStateRunning
	// TaskStateCompleted means the task produced a value.
	TaskStateCompleted
	// TaskStateFailed means the task produced an error.
	TaskStateFailed
)

var taskStateNames = map[TaskState]string{
	TaskStateSubmitted: "submitted",
	TaskStateRunning:   "running",
	TaskStateCompleted: "completed",
	TaskStateFailed:    "failed",
}

// String returns the lowercase state name.
func (s TaskState) String() string {
	if name, ok := taskStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// ParseTaskState parses the output of TaskState.String.
func ParseTaskState(name string) (TaskState, error) {
	for state, n := range taskStateNames {
		if n == name {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown task state %q", name)
}
