package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ragchat/internal/contextutil"
	"ragchat/internal/service"
	"ragchat/internal/storage"
)

// ConversationsHandler handles HTTP requests for conversation lifecycle.
type ConversationsHandler struct {
	conversations service.ConversationService
}

// NewConversationsHandler creates a new ConversationsHandler.
func NewConversationsHandler(conversations service.ConversationService) *ConversationsHandler {
	return &ConversationsHandler{conversations: conversations}
}

// ConversationResponse represents a conversation in HTTP responses.
type ConversationResponse struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	AssistantID string         `json:"assistant_id"`
	Title       string         `json:"title"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// MessageResponse represents a persisted message in HTTP responses.
type MessageResponse struct {
	ID             string                     `json:"id"`
	ConversationID string                     `json:"conversation_id"`
	AssistantID    string                     `json:"assistant_id,omitempty"`
	Role           string                     `json:"role"`
	Content        string                     `json:"content"`
	Sources        []storage.SourceRecord     `json:"sources,omitempty"`
	ToolCalls      []storage.ToolCallRecord   `json:"tool_calls,omitempty"`
	ToolResults    []storage.ToolResultRecord `json:"tool_results,omitempty"`
	CreatedAt      string                     `json:"created_at"`
}

// UpdateConversationRequest is the payload for mutating a conversation.
// Title and metadata update independently; either may be omitted.
type UpdateConversationRequest struct {
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

func toConversationResponse(record *storage.ConversationRecord) ConversationResponse {
	return ConversationResponse{
		ID:          record.ID,
		UserID:      record.UserID,
		AssistantID: record.AssistantID,
		Title:       record.Title,
		Metadata:    record.Metadata,
		CreatedAt:   record.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:   record.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toMessageResponse(record *storage.MessageRecord) MessageResponse {
	return MessageResponse{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		AssistantID:    record.AssistantID,
		Role:           record.Role,
		Content:        record.Content,
		Sources:        record.Sources,
		ToolCalls:      record.ToolCalls,
		ToolResults:    record.ToolResults,
		CreatedAt:      record.CreatedAt.UTC().Format(timeFormat),
	}
}

// Create handles POST /api/conversations.
func (h *ConversationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req service.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.conversations.Create(ctx, req)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, toConversationResponse(record))
}

// Get handles GET /api/conversations/{id}.
func (h *ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := h.conversations.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, toConversationResponse(record))
}

// List handles GET /api/conversations?user_id=...
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.conversations.ListByUser(ctx, r.URL.Query().Get("user_id"))
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to list conversations")
		return
	}

	responses := make([]ConversationResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toConversationResponse(record))
	}
	writeJSON(w, http.StatusOK, responses)
}

// Update handles PATCH /api/conversations/{id}.
func (h *ConversationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" && req.Metadata == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	id := chi.URLParam(r, "id")
	if req.Title != "" {
		if err := h.conversations.UpdateTitle(ctx, id, req.Title); err != nil {
			handleServiceError(w, ctx, err, "Failed to update conversation")
			return
		}
	}
	if req.Metadata != nil {
		if err := h.conversations.UpdateMetadata(ctx, id, req.Metadata); err != nil {
			handleServiceError(w, ctx, err, "Failed to update conversation")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/conversations/{id}/messages.
// Supports optional limit and offset query parameters.
func (h *ConversationsHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	records, err := h.conversations.History(ctx, chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to load history")
		return
	}

	responses := make([]MessageResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toMessageResponse(record))
	}
	writeJSON(w, http.StatusOK, responses)
}

// Delete handles DELETE /api/conversations/{id}.
func (h *ConversationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.conversations.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, ctx, err, "Failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// queryInt parses a non-negative integer query parameter, writing a 400
// response and returning false when the value is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return 0, false
	}
	return parsed, true
}
