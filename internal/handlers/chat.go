package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ragchat/internal/contextutil"
	"ragchat/internal/llm"
	"ragchat/internal/service"
	"ragchat/internal/storage"
)

// ChatHandler handles HTTP requests for chat turns.
type ChatHandler struct {
	chat service.ChatService
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chat service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// SendMessageRequest represents the HTTP request payload for a chat turn.
// The conversation ID comes from the URL, not the body.
type SendMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	UseRAG  bool   `json:"use_rag,omitempty"`
}

// ToolTurnRequest represents the payload for a tool-enabled chat turn.
type ToolTurnRequest struct {
	Content string     `json:"content"`
	Model   string     `json:"model,omitempty"`
	Tools   []llm.Tool `json:"tools"`
}

// ToolResultsRequest represents the payload for submitting tool outcomes.
type ToolResultsRequest struct {
	Results []storage.ToolResultRecord `json:"results"`
}

// MessageIDResponse carries the ID of a newly persisted message.
type MessageIDResponse struct {
	MessageID string `json:"message_id"`
}

// Send handles POST /api/conversations/{id}/messages.
// With ?stream=true the reply is delivered as Server-Sent Events; otherwise
// the handler blocks and returns the completed turn as JSON.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	svcReq := service.SendMessageRequest{
		ConversationID: chi.URLParam(r, "id"),
		Content:        req.Content,
		Model:          req.Model,
		UseRAG:         req.UseRAG,
	}

	if r.URL.Query().Get("stream") == "true" {
		h.stream(w, r, svcReq)
		return
	}

	resp, err := h.chat.SendMessage(ctx, svcReq)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to process chat turn")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// stream delivers a chat turn as Server-Sent Events, one JSON-encoded event
// per data line. Response headers are written lazily on the first event so
// failures before generation starts can still produce a proper error status.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, req service.SendMessageRequest) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	started := false
	emit := func(event service.Event) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.chat.StreamMessage(ctx, req, emit)
	if err != nil && !started {
		handleServiceError(w, ctx, err, "Failed to process chat turn")
		return
	}
	if err != nil {
		// The stream is already underway; nothing useful can be sent.
		logger.WarnContext(ctx, "stream aborted", "conversation_id", req.ConversationID, "error", err)
	}
}

// SendTools handles POST /api/conversations/{id}/tools. The model may answer
// directly or request tool calls, which the client executes and reports back
// through ToolResults.
func (h *ChatHandler) SendTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req ToolTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	svcReq := service.SendMessageRequest{
		ConversationID: chi.URLParam(r, "id"),
		Content:        req.Content,
		Model:          req.Model,
	}

	turn, err := h.chat.SendWithTools(ctx, svcReq, req.Tools)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to process chat turn")
		return
	}

	writeJSON(w, http.StatusOK, turn)
}

// ToolResults handles POST /api/conversations/{id}/tool-results.
func (h *ChatHandler) ToolResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req ToolResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	messageID, err := h.chat.SubmitToolResults(ctx, chi.URLParam(r, "id"), req.Results)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to record tool results")
		return
	}

	writeJSON(w, http.StatusCreated, MessageIDResponse{MessageID: messageID})
}
