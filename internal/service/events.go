package service

import "ragchat/internal/rag"

// EventType identifies a streaming event.
type EventType string

const (
	// EventToken carries one generated text fragment.
	EventToken EventType = "token"
	// EventSources carries the retrieved sources, sent once before tokens.
	EventSources EventType = "sources"
	// EventDone terminates a successful stream with the persisted message ID.
	EventDone EventType = "done"
	// EventError terminates a failed stream. No assistant message was
	// persisted when this event is sent.
	EventError EventType = "error"
)

// Event is one element of a message stream. A stream carries zero or more
// sources/token events followed by exactly one terminal event (done or
// error), unless the consumer goes away first.
type Event struct {
	Type      EventType    `json:"type"`
	Content   string       `json:"content,omitempty"`
	Sources   []rag.Source `json:"sources,omitempty"`
	MessageID string       `json:"message_id,omitempty"`
	Error     string       `json:"error,omitempty"`
}
