package core

import (
	"maps"
	"slices"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is the assistant side of a tool exchange as recorded in history.
// Arguments holds the raw JSON object text the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of a conversation. Once appended to a history it is
// treated as immutable; History hands out copies.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a message stamped with the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message { return NewMessage(RoleSystem, content) }

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message { return NewMessage(RoleUser, content) }

// NewAssistantMessage creates an assistant message, optionally carrying tool calls.
func NewAssistantMessage(content string, calls ...ToolCall) Message {
	m := NewMessage(RoleAssistant, content)
	if len(calls) > 0 {
		m.ToolCalls = slices.Clone(calls)
	}
	return m
}

// NewToolMessage creates the tool-role response to the call identified by callID.
func NewToolMessage(callID, name, content string) Message {
	m := NewMessage(RoleTool, content)
	m.ToolCallID = callID
	m.Name = name
	return m
}

// HasToolCalls reports whether the message requests tool executions.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a deep copy so callers cannot alias stored slices or maps.
func (m Message) Clone() Message {
	c := m
	c.ToolCalls = slices.Clone(m.ToolCalls)
	if m.Metadata != nil {
		c.Metadata = maps.Clone(m.Metadata)
	}
	return c
}

// WithMetadata returns a copy with key set to value.
func (m Message) WithMetadata(key, value string) Message {
	c := m.Clone()
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	c.Metadata[key] = value
	return c
}
