package core

// Priority classifies an event's urgency relative to other pipeline runs.
// It affects ordering at the transport boundary only; execution is never
// preempted.
type Priority int

const (
	// PriorityLow is background traffic that may be suppressed entirely.
	PriorityLow Priority = iota
	// PriorityNormal is the default class for conversational events.
	PriorityNormal
	// PriorityHigh is user-facing traffic that should jump the queue.
	PriorityHigh
	// PriorityInterrupt supersedes lower priority output at the boundary.
	PriorityInterrupt
)

// String returns the lowercase name of the priority class.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}
