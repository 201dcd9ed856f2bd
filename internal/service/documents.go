package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/contextutil"
	"ragchat/internal/ingest"
	"ragchat/internal/rag"
	"ragchat/internal/storage"
)

// UploadDocumentRequest describes a document upload into a conversation.
type UploadDocumentRequest struct {
	ConversationID string
	Filename       string
	MimeType       string
	Content        []byte
	Metadata       map[string]any
}

// SearchRequest describes a retrieval query over a conversation's documents.
type SearchRequest struct {
	ConversationID string  `json:"conversation_id"`
	Query          string  `json:"query"`
	TopK           int     `json:"top_k,omitempty"`
	Rerank         bool    `json:"rerank,omitempty"`
	MinScore       float32 `json:"min_score,omitempty"`
}

// DocumentService manages per-conversation documents and retrieval over them.
type DocumentService interface {
	// Upload stores a document and indexes its content into the
	// conversation's vector collection. Content carrying an extraction
	// error marker is stored but never indexed.
	Upload(ctx context.Context, req UploadDocumentRequest) (*storage.DocumentRecord, error)
	// Get returns a document by ID.
	Get(ctx context.Context, id string) (*storage.DocumentRecord, error)
	// ListByConversation returns a conversation's documents.
	ListByConversation(ctx context.Context, conversationID string) ([]*storage.DocumentRecord, error)
	// Delete removes a document and its vectors.
	Delete(ctx context.Context, id string) error
	// Search retrieves sources for a query from the conversation's
	// documents, optionally re-ranked.
	Search(ctx context.Context, req SearchRequest) ([]rag.Source, error)
}

// documentService implements DocumentService.
type documentService struct {
	documents     storage.DocumentStore
	conversations storage.ConversationStore
	engine        rag.Engine
	normalizer    *ingest.Normalizer
	topK          int
	rerankTopK    int
	minScore      float32
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(
	documents storage.DocumentStore,
	conversations storage.ConversationStore,
	engine rag.Engine,
	topK, rerankTopK int,
	minScore float32,
) DocumentService {
	return &documentService{
		documents:     documents,
		conversations: conversations,
		engine:        engine,
		normalizer:    ingest.NewNormalizer(),
		topK:          topK,
		rerankTopK:    rerankTopK,
		minScore:      minScore,
	}
}

// Upload stores a document and indexes its content.
func (s *documentService) Upload(ctx context.Context, req UploadDocumentRequest) (*storage.DocumentRecord, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.ConversationID == "" {
		return nil, &ValidationError{Field: "conversation_id", Message: "cannot be empty"}
	}
	if req.Filename == "" {
		return nil, &ValidationError{Field: "filename", Message: "cannot be empty"}
	}

	if _, err := s.conversations.GetByID(ctx, req.ConversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, ErrNotFound)
		}
		return nil, WrapError(err, "failed to get conversation")
	}

	text := s.normalizer.Normalize(req.Content, req.Filename, req.MimeType)

	record := &storage.DocumentRecord{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Filename:       req.Filename,
		MimeType:       req.MimeType,
		Content:        text,
		SizeBytes:      int64(len(req.Content)),
		Metadata:       req.Metadata,
		CreatedAt:      time.Now(),
	}
	if err := s.documents.Insert(ctx, record); err != nil {
		return nil, WrapError(err, "failed to store document")
	}

	if text == "" || ingest.IsExtractionError(text) {
		logger.WarnContext(ctx, "document not indexable, skipping",
			"document_id", record.ID, "filename", req.Filename)
		return record, nil
	}

	vectorIDs, err := s.engine.Index(ctx, req.ConversationID, record.ID, text, req.Metadata)
	if err != nil {
		return nil, WrapError(err, "failed to index document")
	}
	if err := s.documents.SetVectorIDs(ctx, record.ID, vectorIDs); err != nil {
		return nil, WrapError(err, "failed to record vector ids")
	}
	record.VectorIDs = vectorIDs

	logger.InfoContext(ctx, "document uploaded",
		"document_id", record.ID, "filename", req.Filename, "vectors", len(vectorIDs))
	return record, nil
}

// Get returns a document by ID.
func (s *documentService) Get(ctx context.Context, id string) (*storage.DocumentRecord, error) {
	record, err := s.documents.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, WrapError(err, "failed to get document")
	}
	return record, nil
}

// ListByConversation returns a conversation's documents.
func (s *documentService) ListByConversation(ctx context.Context, conversationID string) ([]*storage.DocumentRecord, error) {
	records, err := s.documents.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, WrapError(err, "failed to list documents")
	}
	return records, nil
}

// Delete removes a document and its vectors. Vector deletion is
// best-effort: a dangling vector only wastes space, while a dangling row
// confuses users.
func (s *documentService) Delete(ctx context.Context, id string) error {
	logger := contextutil.LoggerFromContext(ctx)

	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if len(record.VectorIDs) > 0 {
		if _, err := s.engine.DeleteVectors(ctx, record.ConversationID, record.VectorIDs); err != nil {
			logger.WarnContext(ctx, "failed to delete document vectors",
				"document_id", id, "error", err)
		}
	}

	err = s.documents.Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return WrapError(err, "failed to delete document")
	}

	logger.InfoContext(ctx, "document deleted", "document_id", id)
	return nil
}

// Search retrieves sources for a query from the conversation's documents.
// Retrieval failures degrade to an empty result rather than failing the
// request; chat quality drops but the caller keeps working.
func (s *documentService) Search(ctx context.Context, req SearchRequest) ([]rag.Source, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.ConversationID == "" {
		return nil, &ValidationError{Field: "conversation_id", Message: "cannot be empty"}
	}
	if req.Query == "" {
		return nil, &ValidationError{Field: "query", Message: "cannot be empty"}
	}

	if _, err := s.conversations.GetByID(ctx, req.ConversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, ErrNotFound)
		}
		return nil, WrapError(err, "failed to get conversation")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.topK
	}
	minScore := req.MinScore
	if minScore == 0 {
		minScore = s.minScore
	}

	sources, err := s.engine.Search(ctx, req.ConversationID, req.Query, topK, minScore)
	if err != nil {
		logger.WarnContext(ctx, "retrieval failed, returning no sources",
			"conversation_id", req.ConversationID, "error", err)
		return []rag.Source{}, nil
	}
	if req.Rerank && len(sources) > 0 {
		sources = s.engine.Rerank(ctx, req.Query, sources, s.rerankTopK)
	}
	return sources, nil
}
