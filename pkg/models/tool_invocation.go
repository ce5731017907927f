package models

import "time"

// ToolInvocationOutcome classifies the result of a single tool call attempt.
type ToolInvocationOutcome string

const (
	ToolOutcomeSuccess   ToolInvocationOutcome = "success"
	ToolOutcomeTransient ToolInvocationOutcome = "transient_error"
	ToolOutcomeNotFound  ToolInvocationOutcome = "tool_not_found"
	ToolOutcomeToolError ToolInvocationOutcome = "tool_error"
)

// ToolInvocation describes one attempt of a named remote tool call.
// It is transient: reported to observers and never persisted.
type ToolInvocation struct {
	ToolName  string
	Arguments map[string]any
	Attempt   int
	Outcome   ToolInvocationOutcome
	Err       error
	Duration  time.Duration
}
