package service

import (
	"context"
	"errors"
	"fmt"

	"ragchat/internal/llm"
	"ragchat/internal/storage"
)

// ContextBuilder assembles the message window sent to the model: the
// assistant's system prompt followed by the most recent turns in ascending
// order. It only reads; nothing is persisted here.
type ContextBuilder struct {
	conversations storage.ConversationStore
	messages      storage.MessageStore
	historyLimit  int
}

// NewContextBuilder creates a builder with the given history window size.
func NewContextBuilder(conversations storage.ConversationStore, messages storage.MessageStore, historyLimit int) *ContextBuilder {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &ContextBuilder{conversations: conversations, messages: messages, historyLimit: historyLimit}
}

// Build returns the model context for a conversation. Only user and
// assistant turns are included; tool bookkeeping messages are skipped.
// Returns ErrNotFound when the conversation does not exist.
func (b *ContextBuilder) Build(ctx context.Context, conversationID, systemPrompt string) ([]llm.Message, error) {
	if _, err := b.conversations.GetByID(ctx, conversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return nil, WrapError(err, "failed to get conversation")
	}

	history, err := b.messages.ListRecent(ctx, conversationID, b.historyLimit)
	if err != nil {
		return nil, WrapError(err, "failed to load conversation history")
	}

	messages := make([]llm.Message, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, record := range history {
		if record.Role != "user" && record.Role != "assistant" {
			continue
		}
		messages = append(messages, llm.Message{Role: record.Role, Content: record.Content})
	}
	return messages, nil
}
