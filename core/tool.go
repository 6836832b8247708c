package core

import "encoding/json"

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of exactly one ToolCall. Every call that enters
// the tool loop terminates with one result, success or failure, before the
// loop advances.
type ToolResult struct {
	ID      string       `json:"id"`
	Success bool         `json:"success"`
	Content string       `json:"content"`
	Images  []Attachment `json:"images,omitempty"`
}

// FailedToolResult builds a failure result for a call, used for rejected
// confirmations, timeouts and handler errors.
func FailedToolResult(callID, reason string) ToolResult {
	return ToolResult{ID: callID, Success: false, Content: reason}
}
