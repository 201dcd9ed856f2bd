package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AssistantRecord represents a configured assistant persona.
type AssistantRecord struct {
	ID           string
	Name         string
	Model        string  // Provider is selected from this name by prefix
	Temperature  float64 // Default sampling temperature
	SystemPrompt string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// ConversationRecord represents a conversation owned by a user.
// Messages and documents belong to the conversation and are removed with it.
type ConversationRecord struct {
	ID          string
	UserID      string
	AssistantID string
	Title       string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MessageRecord represents a single message in a conversation.
// Messages are append-only: once created they are never mutated.
type MessageRecord struct {
	ID             string
	ConversationID string
	AssistantID    string // Empty for user/system messages
	Role           string // user, assistant, system or tool
	Content        string
	Sources        []SourceRecord
	ToolCalls      []ToolCallRecord
	ToolResults    []ToolResultRecord
	Metadata       map[string]any
	CreatedAt      time.Time
}

// SourceRecord is a retrieval source attached to a persisted message.
type SourceRecord struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Provider string         `json:"provider"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolCallRecord is a tool invocation requested by the model.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResultRecord is the outcome of executing a tool call.
type ToolResultRecord struct {
	ToolCallID string  `json:"tool_call_id"`
	Name       string  `json:"name"`
	Success    bool    `json:"success"`
	Output     any     `json:"output,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// DocumentRecord represents an uploaded document with extracted text.
// VectorIDs is the set of vector ids produced by the last successful
// indexing run; it is the only field updated after creation.
type DocumentRecord struct {
	ID             string
	ConversationID string
	Filename       string
	MimeType       string
	Content        string
	SizeBytes      int64
	Metadata       map[string]any
	VectorIDs      []string
	CreatedAt      time.Time
}
