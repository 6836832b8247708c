package core

import (
	"encoding/json"
	"time"
)

// OutgoingKind discriminates the outbound message union.
type OutgoingKind string

const (
	// OutDialogue is plain spoken/written reply text.
	OutDialogue OutgoingKind = "dialogue"
	// OutControl is a structured command for the presentation layer.
	OutControl OutgoingKind = "control"
	// OutBundle groups messages that must be applied together.
	OutBundle OutgoingKind = "bundle"
	// OutStreamBegin opens an incremental text stream.
	OutStreamBegin OutgoingKind = "stream_begin"
	// OutStreamChunk carries one text delta of an open stream.
	OutStreamChunk OutgoingKind = "stream_chunk"
	// OutStreamEnd closes an incremental text stream.
	OutStreamEnd OutgoingKind = "stream_end"
	// OutConfirmRequest asks the user to approve an externally sourced tool call.
	OutConfirmRequest OutgoingKind = "confirm_request"
)

// ControlCommand is a structured instruction to the presentation layer
// (expression change, motion trigger, volume, ...). The core does not
// interpret it.
type ControlCommand struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ConfirmRequest is the payload of an OutConfirmRequest. A request not
// answered within Timeout is treated as rejected.
type ConfirmRequest struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Timeout   time.Duration   `json:"timeout"`
}

// OutgoingMessage is the outbound unit emitted over the transport boundary.
// Only the field group matching Kind is populated.
type OutgoingMessage struct {
	Kind OutgoingKind `json:"kind"`

	Text    string            `json:"text,omitempty"`      // OutDialogue, OutStreamChunk
	Control *ControlCommand   `json:"control,omitempty"`   // OutControl
	Bundle  []OutgoingMessage `json:"bundle,omitempty"`    // OutBundle
	StreamID string           `json:"stream_id,omitempty"` // stream framing correlation
	Confirm *ConfirmRequest   `json:"confirm,omitempty"`   // OutConfirmRequest
}

// NewDialogue creates a plain dialogue reply.
func NewDialogue(text string) OutgoingMessage {
	return OutgoingMessage{Kind: OutDialogue, Text: text}
}

// NewControl creates a control command message.
func NewControl(name string, params map[string]any) OutgoingMessage {
	return OutgoingMessage{Kind: OutControl, Control: &ControlCommand{Name: name, Params: params}}
}

// NewBundle groups messages to be applied together by the presentation layer.
func NewBundle(msgs ...OutgoingMessage) OutgoingMessage {
	return OutgoingMessage{Kind: OutBundle, Bundle: msgs}
}

// NewStreamBegin opens a text stream identified by streamID.
func NewStreamBegin(streamID string) OutgoingMessage {
	return OutgoingMessage{Kind: OutStreamBegin, StreamID: streamID}
}

// NewStreamChunk carries one delta of the stream identified by streamID.
func NewStreamChunk(streamID, text string) OutgoingMessage {
	return OutgoingMessage{Kind: OutStreamChunk, StreamID: streamID, Text: text}
}

// NewStreamEnd closes the stream identified by streamID.
func NewStreamEnd(streamID string) OutgoingMessage {
	return OutgoingMessage{Kind: OutStreamEnd, StreamID: streamID}
}

// NewConfirmRequest asks for approval of the given tool call.
func NewConfirmRequest(call ToolCall, timeout time.Duration) OutgoingMessage {
	return OutgoingMessage{Kind: OutConfirmRequest, Confirm: &ConfirmRequest{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Timeout:   timeout,
	}}
}
