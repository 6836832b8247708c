package core

import (
	"sync"
	"sync/atomic"
)

// SendFunc delivers a message to the transport boundary immediately,
// bypassing the reply buffer.
type SendFunc func(OutgoingMessage) error

// PipelineContext is the mutable state of a single pipeline run. One
// instance exists per Event and is owned exclusively by the run that created
// it; it is destroyed when the run completes and is never persisted.
//
// The reply buffer is append-only via AddReply and flushed in FIFO order by
// the respond stage. Scratch is a key/value space shared across stages.
// Tool handlers belonging to the same round may touch the context
// concurrently, so mutating accessors are synchronized.
type PipelineContext struct {
	Event    Event
	Priority Priority

	mu      sync.Mutex
	replies []OutgoingMessage
	scratch map[string]any
	aborted atomic.Bool
	sendNow SendFunc
}

// NewPipelineContext creates the context for one run of the pipeline.
// sendNow may be nil when no immediate-send path exists (tests).
func NewPipelineContext(event Event, sendNow SendFunc) *PipelineContext {
	return &PipelineContext{
		Event:    event,
		Priority: PriorityNormal,
		scratch:  make(map[string]any),
		sendNow:  sendNow,
	}
}

// AddReply appends a message to the reply buffer.
func (pc *PipelineContext) AddReply(msg OutgoingMessage) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.replies = append(pc.replies, msg)
}

// Replies returns a copy of the buffered replies in insertion order.
func (pc *PipelineContext) Replies() []OutgoingMessage {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	out := make([]OutgoingMessage, len(pc.replies))
	copy(out, pc.replies)
	return out
}

// FlushReplies returns the buffered replies in insertion order and clears
// the buffer. Used by the respond stage.
func (pc *PipelineContext) FlushReplies() []OutgoingMessage {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	out := pc.replies
	pc.replies = nil
	return out
}

// Set stores a scratch value shared across stages.
func (pc *PipelineContext) Set(key string, value any) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.scratch[key] = value
}

// Get returns a scratch value and whether it was present.
func (pc *PipelineContext) Get(key string) (any, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	v, ok := pc.scratch[key]
	return v, ok
}

// Abort flags the run for cooperative cancellation. The respond stage is
// skipped entirely for aborted runs; in-flight provider calls are not
// forcibly terminated.
func (pc *PipelineContext) Abort() { pc.aborted.Store(true) }

// Aborted reports whether the run was aborted.
func (pc *PipelineContext) Aborted() bool { return pc.aborted.Load() }

// SendNow delivers a message immediately, bypassing the reply buffer. Used
// for stream framing and confirmation requests that must not wait for the
// respond stage.
func (pc *PipelineContext) SendNow(msg OutgoingMessage) error {
	if pc.sendNow == nil {
		return nil
	}
	return pc.sendNow(msg)
}
