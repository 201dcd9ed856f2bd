package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/contextutil"
	"ragchat/internal/storage"
	"ragchat/internal/vectorstore"
)

// CreateConversationRequest describes a new conversation.
type CreateConversationRequest struct {
	UserID      string         `json:"user_id"`
	AssistantID string         `json:"assistant_id"`
	Title       string         `json:"title,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ConversationService manages conversation lifecycle and history.
type ConversationService interface {
	// Create starts a new conversation with an existing assistant.
	Create(ctx context.Context, req CreateConversationRequest) (*storage.ConversationRecord, error)
	// Get returns a conversation by ID.
	Get(ctx context.Context, id string) (*storage.ConversationRecord, error)
	// ListByUser returns a user's conversations, most recently updated first.
	ListByUser(ctx context.Context, userID string) ([]*storage.ConversationRecord, error)
	// UpdateTitle renames a conversation.
	UpdateTitle(ctx context.Context, id, title string) error
	// UpdateMetadata replaces a conversation's metadata map.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	// History returns messages in ascending creation order.
	History(ctx context.Context, id string, limit, offset int) ([]*storage.MessageRecord, error)
	// Delete removes a conversation, its messages, its documents, and its
	// vector collection.
	Delete(ctx context.Context, id string) error
}

// conversationService implements ConversationService.
type conversationService struct {
	conversations storage.ConversationStore
	messages      storage.MessageStore
	assistants    storage.AssistantStore
	vectors       vectorstore.VectorStore
}

// NewConversationService creates a new ConversationService.
func NewConversationService(
	conversations storage.ConversationStore,
	messages storage.MessageStore,
	assistants storage.AssistantStore,
	vectors vectorstore.VectorStore,
) ConversationService {
	return &conversationService{
		conversations: conversations,
		messages:      messages,
		assistants:    assistants,
		vectors:       vectors,
	}
}

// Create starts a new conversation with an existing assistant.
func (s *conversationService) Create(ctx context.Context, req CreateConversationRequest) (*storage.ConversationRecord, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "cannot be empty"}
	}
	if req.AssistantID == "" {
		return nil, &ValidationError{Field: "assistant_id", Message: "cannot be empty"}
	}

	assistant, err := s.assistants.GetByID(ctx, req.AssistantID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("assistant %s: %w", req.AssistantID, ErrNotFound)
	}
	if err != nil {
		return nil, WrapError(err, "failed to get assistant")
	}

	title := req.Title
	if title == "" {
		title = "Conversation with " + assistant.Name
	}

	now := time.Now()
	record := &storage.ConversationRecord{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		AssistantID: req.AssistantID,
		Title:       title,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.conversations.Insert(ctx, record); err != nil {
		return nil, WrapError(err, "failed to create conversation")
	}

	logger.InfoContext(ctx, "conversation created", "conversation_id", record.ID, "assistant_id", req.AssistantID)
	return record, nil
}

// Get returns a conversation by ID.
func (s *conversationService) Get(ctx context.Context, id string) (*storage.ConversationRecord, error) {
	record, err := s.conversations.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, WrapError(err, "failed to get conversation")
	}
	return record, nil
}

// ListByUser returns a user's conversations, most recently updated first.
func (s *conversationService) ListByUser(ctx context.Context, userID string) ([]*storage.ConversationRecord, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "cannot be empty"}
	}
	records, err := s.conversations.ListByUser(ctx, userID)
	if err != nil {
		return nil, WrapError(err, "failed to list conversations")
	}
	return records, nil
}

// UpdateTitle renames a conversation.
func (s *conversationService) UpdateTitle(ctx context.Context, id, title string) error {
	if title == "" {
		return &ValidationError{Field: "title", Message: "cannot be empty"}
	}
	err := s.conversations.UpdateTitle(ctx, id, title)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return WrapError(err, "failed to update title")
	}
	return nil
}

// UpdateMetadata replaces a conversation's metadata map.
func (s *conversationService) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if metadata == nil {
		return &ValidationError{Field: "metadata", Message: "cannot be null"}
	}
	err := s.conversations.UpdateMetadata(ctx, id, metadata)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return WrapError(err, "failed to update metadata")
	}
	return nil
}

// History returns messages in ascending creation order.
func (s *conversationService) History(ctx context.Context, id string, limit, offset int) ([]*storage.MessageRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.messages.ListByConversation(ctx, id, limit, offset)
	if err != nil {
		return nil, WrapError(err, "failed to load history")
	}
	return records, nil
}

// Delete removes a conversation and everything hanging off it. Row deletion
// cascades to messages and documents; the vector collection goes first so a
// failed row delete can be retried.
func (s *conversationService) Delete(ctx context.Context, id string) error {
	logger := contextutil.LoggerFromContext(ctx)

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if err := s.vectors.DeleteCollection(ctx, vectorstore.CollectionName(id)); err != nil {
		logger.WarnContext(ctx, "failed to delete vector collection", "conversation_id", id, "error", err)
	}

	err := s.conversations.Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return WrapError(err, "failed to delete conversation")
	}

	logger.InfoContext(ctx, "conversation deleted", "conversation_id", id)
	return nil
}
