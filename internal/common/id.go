package common

import "github.com/google/uuid"

// NewRunID generates a unique identifier for one ticker run.
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewToolUseID generates a unique identifier for one tool invocation within
// a run, used to correlate a tool_use block with its tool_result.
func NewToolUseID() string {
	return "tool_" + uuid.New().String()
}
