package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ragchat/internal/contextutil"
	"ragchat/internal/rag"
	"ragchat/internal/service"
	"ragchat/internal/storage"
)

// maxUploadBytes caps document uploads at 10 MiB.
const maxUploadBytes = 10 << 20

// DocumentsHandler handles HTTP requests for documents and retrieval.
type DocumentsHandler struct {
	documents service.DocumentService
}

// NewDocumentsHandler creates a new DocumentsHandler.
func NewDocumentsHandler(documents service.DocumentService) *DocumentsHandler {
	return &DocumentsHandler{documents: documents}
}

// UploadRequest is the JSON upload payload for clients that already hold the
// document text. Multipart uploads carry the same data as a form file.
type UploadRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Content  string `json:"content"`
}

// DocumentResponse represents a document in HTTP responses. The extracted
// text is omitted from listings to keep responses small.
type DocumentResponse struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Filename       string         `json:"filename"`
	MimeType       string         `json:"mime_type,omitempty"`
	SizeBytes      int64          `json:"size_bytes"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ChunkCount     int            `json:"chunk_count"`
	CreatedAt      string         `json:"created_at"`
}

func toDocumentResponse(record *storage.DocumentRecord) DocumentResponse {
	return DocumentResponse{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		Filename:       record.Filename,
		MimeType:       record.MimeType,
		SizeBytes:      record.SizeBytes,
		Metadata:       record.Metadata,
		ChunkCount:     len(record.VectorIDs),
		CreatedAt:      record.CreatedAt.UTC().Format(timeFormat),
	}
}

// Upload handles POST /api/conversations/{id}/documents. Accepts either a
// multipart form with a "file" field or a JSON body with the text inline.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	req := service.UploadDocumentRequest{ConversationID: chi.URLParam(r, "id")}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			logger.WarnContext(ctx, "invalid multipart form", "error", err)
			writeError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			logger.WarnContext(ctx, "missing file field", "error", err)
			writeError(w, http.StatusBadRequest, "Missing file field")
			return
		}
		defer func() {
			_ = file.Close()
		}()

		content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			logger.ErrorContext(ctx, "failed to read upload", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to read upload")
			return
		}
		if len(content) > maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "Document too large")
			return
		}

		req.Filename = header.Filename
		req.MimeType = header.Header.Get("Content-Type")
		req.Content = content
	} else {
		var body UploadRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&body); err != nil {
			logger.WarnContext(ctx, "invalid request body", "error", err)
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Filename = body.Filename
		req.MimeType = body.MimeType
		req.Content = []byte(body.Content)
	}

	record, err := h.documents.Upload(ctx, req)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to upload document")
		return
	}

	writeJSON(w, http.StatusCreated, toDocumentResponse(record))
}

// Get handles GET /api/documents/{id}. Unlike listings, the single-document
// response includes the extracted text.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := h.documents.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to get document")
		return
	}

	resp := struct {
		DocumentResponse
		Content string `json:"content"`
	}{toDocumentResponse(record), record.Content}
	writeJSON(w, http.StatusOK, resp)
}

// List handles GET /api/conversations/{id}/documents.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.documents.ListByConversation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to list documents")
		return
	}

	responses := make([]DocumentResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toDocumentResponse(record))
	}
	writeJSON(w, http.StatusOK, responses)
}

// Delete handles DELETE /api/documents/{id}.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.documents.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, ctx, err, "Failed to delete document")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /api/conversations/{id}/search, running a retrieval
// query over the conversation's documents without generating an answer.
func (h *DocumentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req service.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ConversationID = chi.URLParam(r, "id")

	sources, err := h.documents.Search(ctx, req)
	if err != nil {
		handleServiceError(w, ctx, err, "Failed to search documents")
		return
	}
	if sources == nil {
		sources = []rag.Source{}
	}

	writeJSON(w, http.StatusOK, sources)
}
