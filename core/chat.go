package core

import "time"

// Role identifies the author of a ChatMessage.
type Role string

const (
	// RoleSystem is instruction content injected ahead of the conversation.
	RoleSystem Role = "system"
	// RoleUser is end-user authored content.
	RoleUser Role = "user"
	// RoleAssistant is model authored content, possibly carrying tool calls.
	RoleAssistant Role = "assistant"
	// RoleTool is the result of a tool call, correlated by ToolCallID.
	RoleTool Role = "tool"
)

// AttachmentKind discriminates attachment payloads.
type AttachmentKind string

const (
	// AttachmentImage is an image attachment.
	AttachmentImage AttachmentKind = "image"
	// AttachmentFile is a generic file attachment.
	AttachmentFile AttachmentKind = "file"
)

// Attachment references binary content carried alongside a ChatMessage,
// either inline (Data) or by URL. Exactly one of Data/URL should be set.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	MIME string         `json:"mime,omitempty"`
	Data []byte         `json:"data,omitempty"`
	URL  string         `json:"url,omitempty"`
}

// ChatMessage is one entry of a conversation history. Ordering within a
// session is append-only; it is the unit persisted by the session store.
type ChatMessage struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`   // RoleAssistant only
	ToolCallID string      `json:"tool_call_id,omitempty"` // RoleTool only
	Timestamp  time.Time   `json:"timestamp"`
}

// NewChatMessage creates a message with the current UTC timestamp.
func NewChatMessage(role Role, content string) ChatMessage {
	return ChatMessage{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// NewToolMessage creates the RoleTool message recording a tool result so the
// model can observe the outcome of its call.
func NewToolMessage(result ToolResult) ChatMessage {
	content := result.Content
	if !result.Success && content == "" {
		content = "tool call failed"
	}
	m := NewChatMessage(RoleTool, content)
	m.ToolCallID = result.ID
	if len(result.Images) > 0 {
		img := result.Images[0]
		m.Attachment = &img
	}
	return m
}
