package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/contextutil"
	"ragchat/internal/storage"
)

// CreateAssistantRequest describes a new assistant profile.
type CreateAssistantRequest struct {
	Name         string         `json:"name"`
	Model        string         `json:"model"`
	Temperature  float64        `json:"temperature"`
	SystemPrompt string         `json:"system_prompt"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AssistantService manages assistant profiles.
type AssistantService interface {
	// Create registers a new assistant profile.
	Create(ctx context.Context, req CreateAssistantRequest) (*storage.AssistantRecord, error)
	// Get returns an assistant by ID.
	Get(ctx context.Context, id string) (*storage.AssistantRecord, error)
	// List returns all assistants.
	List(ctx context.Context) ([]*storage.AssistantRecord, error)
}

// assistantService implements AssistantService.
type assistantService struct {
	assistants storage.AssistantStore
}

// NewAssistantService creates a new AssistantService.
func NewAssistantService(assistants storage.AssistantStore) AssistantService {
	return &assistantService{assistants: assistants}
}

// Create registers a new assistant profile.
func (s *assistantService) Create(ctx context.Context, req CreateAssistantRequest) (*storage.AssistantRecord, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	if req.Model == "" {
		return nil, &ValidationError{Field: "model", Message: "cannot be empty"}
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return nil, &ValidationError{Field: "temperature", Message: "must be between 0 and 2"}
	}

	record := &storage.AssistantRecord{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Model:        req.Model,
		Temperature:  req.Temperature,
		SystemPrompt: req.SystemPrompt,
		Metadata:     req.Metadata,
		CreatedAt:    time.Now(),
	}
	if err := s.assistants.Insert(ctx, record); err != nil {
		return nil, WrapError(err, "failed to create assistant")
	}

	logger.InfoContext(ctx, "assistant created", "assistant_id", record.ID, "model", record.Model)
	return record, nil
}

// Get returns an assistant by ID.
func (s *assistantService) Get(ctx context.Context, id string) (*storage.AssistantRecord, error) {
	record, err := s.assistants.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, WrapError(err, "failed to get assistant")
	}
	return record, nil
}

// List returns all assistants.
func (s *assistantService) List(ctx context.Context) ([]*storage.AssistantRecord, error) {
	records, err := s.assistants.List(ctx)
	if err != nil {
		return nil, WrapError(err, "failed to list assistants")
	}
	return records, nil
}
