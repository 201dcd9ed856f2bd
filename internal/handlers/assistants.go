package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ragchat/internal/contextutil"
	"ragchat/internal/service"
	"ragchat/internal/storage"
)

// AssistantsHandler handles HTTP requests for assistant profiles.
type AssistantsHandler struct {
	assistants service.AssistantService
}

// NewAssistantsHandler creates a new AssistantsHandler.
func NewAssistantsHandler(assistants service.AssistantService) *AssistantsHandler {
	return &AssistantsHandler{assistants: assistants}
}

// AssistantResponse represents an assistant in HTTP responses.
type AssistantResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Model        string         `json:"model"`
	Temperature  float64        `json:"temperature"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

func toAssistantResponse(record *storage.AssistantRecord) AssistantResponse {
	return AssistantResponse{
		ID:           record.ID,
		Name:         record.Name,
		Model:        record.Model,
		Temperature:  record.Temperature,
		SystemPrompt: record.SystemPrompt,
		Metadata:     record.Metadata,
		CreatedAt:    record.CreatedAt.UTC().Format(timeFormat),
	}
}

// Create handles POST /api/assistants.
func (h *AssistantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req service.CreateAssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.assistants.Create(ctx, req)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to create assistant")
		return
	}

	writeJSON(w, http.StatusCreated, toAssistantResponse(record))
}

// Get handles GET /api/assistants/{id}.
func (h *AssistantsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := h.assistants.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to get assistant")
		return
	}

	writeJSON(w, http.StatusOK, toAssistantResponse(record))
}

// List handles GET /api/assistants.
func (h *AssistantsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.assistants.List(ctx)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to list assistants")
		return
	}

	responses := make([]AssistantResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toAssistantResponse(record))
	}
	writeJSON(w, http.StatusOK, responses)
}
