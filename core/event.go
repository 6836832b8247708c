package core

import (
	"encoding/json"
	"time"
)

// EventKind discriminates the inbound event union.
type EventKind string

const (
	// EventTextInput is typed or transcribed user text.
	EventTextInput EventKind = "text_input"
	// EventTap is a pointer/touch gesture on the presentation surface.
	EventTap EventKind = "tap"
	// EventFileUpload carries a user supplied file.
	EventFileUpload EventKind = "file_upload"
	// EventPluginMessage is a message originated by a plugin rather than the user.
	EventPluginMessage EventKind = "plugin_message"
	// EventModelInfo announces a model/avatar metadata update.
	EventModelInfo EventKind = "model_info"
	// EventCharacterInfo announces a character/persona metadata update.
	EventCharacterInfo EventKind = "character_info"
	// EventToolConfirm is the user's reply to a pending tool confirmation request.
	EventToolConfirm EventKind = "tool_confirm"
	// EventCommand invokes a registered command directly, bypassing the pipeline.
	EventCommand EventKind = "command"
)

// FileUpload describes the payload of an EventFileUpload.
type FileUpload struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data []byte `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// ConfirmReply is the payload of an EventToolConfirm, answering a previously
// emitted confirmation request by call id.
type ConfirmReply struct {
	CallID   string `json:"call_id"`
	Approved bool   `json:"approved"`
}

// Event is the inbound unit of work processed by the pipeline. Events are
// immutable once created; use the New*Event constructors. Only the field
// group matching Kind is populated.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Text       string          `json:"text,omitempty"`        // EventTextInput
	HitArea    string          `json:"hit_area,omitempty"`    // EventTap
	File       *FileUpload     `json:"file,omitempty"`        // EventFileUpload
	PluginName string          `json:"plugin_name,omitempty"` // EventPluginMessage
	Payload    json.RawMessage `json:"payload,omitempty"`     // EventPluginMessage
	Info       map[string]any  `json:"info,omitempty"`        // EventModelInfo / EventCharacterInfo
	Confirm    *ConfirmReply   `json:"confirm,omitempty"`     // EventToolConfirm
	Command    string          `json:"command,omitempty"`     // EventCommand
	Args       map[string]any  `json:"args,omitempty"`        // EventCommand
}

func newEvent(kind EventKind, sessionID string) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// NewTextInputEvent creates a user text input event.
func NewTextInputEvent(sessionID, text string) Event {
	e := newEvent(EventTextInput, sessionID)
	e.Text = text
	return e
}

// NewTapEvent creates a gesture event for the named hit area.
func NewTapEvent(sessionID, hitArea string) Event {
	e := newEvent(EventTap, sessionID)
	e.HitArea = hitArea
	return e
}

// NewFileUploadEvent creates a file upload event.
func NewFileUploadEvent(sessionID string, file FileUpload) Event {
	e := newEvent(EventFileUpload, sessionID)
	e.File = &file
	return e
}

// NewPluginMessageEvent creates an event authored by the named plugin.
func NewPluginMessageEvent(sessionID, pluginName string, payload json.RawMessage) Event {
	e := newEvent(EventPluginMessage, sessionID)
	e.PluginName = pluginName
	e.Payload = payload
	return e
}

// NewModelInfoEvent announces model/avatar metadata.
func NewModelInfoEvent(sessionID string, info map[string]any) Event {
	e := newEvent(EventModelInfo, sessionID)
	e.Info = info
	return e
}

// NewCharacterInfoEvent announces character/persona metadata.
func NewCharacterInfoEvent(sessionID string, info map[string]any) Event {
	e := newEvent(EventCharacterInfo, sessionID)
	e.Info = info
	return e
}

// NewToolConfirmEvent creates the reply to a pending tool confirmation.
func NewToolConfirmEvent(sessionID, callID string, approved bool) Event {
	e := newEvent(EventToolConfirm, sessionID)
	e.Confirm = &ConfirmReply{CallID: callID, Approved: approved}
	return e
}

// NewCommandEvent creates a direct command invocation event.
func NewCommandEvent(sessionID, command string, args map[string]any) Event {
	e := newEvent(EventCommand, sessionID)
	e.Command = command
	e.Args = args
	return e
}
