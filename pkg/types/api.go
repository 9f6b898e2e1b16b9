package types

import "encoding/json"

// API paths served by worker endpoints.
const (
	PathHealth    = "/health"
	PathAPIHealth = "/api/v1/health"
	PathAuth      = "/api/v1/auth"
	PathTasks     = "/api/v1/tasks"
	PathFunctions = "/api/v1/functions"

	// HeaderAPIKey carries the worker API key.
	HeaderAPIKey = "X-API-Key"
)

// TaskSubmitResponse is returned when a worker accepts a task.
type TaskSubmitResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// TaskStatusResponse reports the state of a task on a worker. Result holds
// the codec-encoded outcome once the task is terminal.
type TaskStatusResponse struct {
	TaskID   string          `json:"task_id"`
	Position int             `json:"position"`
	State    string          `json:"state"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// HealthResponse is returned by the worker health endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Worker   string `json:"worker"`
	Running  int    `json:"running"`
	Capacity int    `json:"capacity"`
	Tasks    int    `json:"tasks"`
}

// FunctionsResponse lists what a worker can resolve by name.
type FunctionsResponse struct {
	Functions []string `json:"functions"`
	Reducers  []string `json:"reducers"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
