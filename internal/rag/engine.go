package rag

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks ragchat/internal/rag Engine,Embedder

import (
	"context"
	"fmt"
	"sort"

	"ragchat/internal/contextutil"
	"ragchat/internal/embeddings"
	"ragchat/internal/vectorstore"
)

const (
	// sourceProvider tags sources produced by the vector retrieval backend.
	sourceProvider = "documents"
	// maxExcerptRunes bounds source content sent over the wire.
	maxExcerptRunes = 500
)

// Embedder maps text to vectors. Satisfied by embeddings.Client and
// embeddings.Cache.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimension(ctx context.Context) (int, error)
}

// Engine provides retrieval functionality over per-conversation document
// collections.
type Engine interface {
	// Index chunks and embeds a document's content into the conversation's
	// collection, returning the vector IDs it wrote. Caller metadata is
	// attached to every chunk's payload alongside the chunk bookkeeping
	// fields. Indexing the same document again overwrites the previous
	// vectors.
	Index(ctx context.Context, conversationID, documentID, content string, metadata map[string]any) ([]string, error)

	// Search embeds the query once and returns up to topK sources with
	// score >= minScore, ordered by descending score.
	Search(ctx context.Context, conversationID, query string, topK int, minScore float32) ([]Source, error)

	// Rerank re-scores sources against the query by embedding cosine
	// similarity and returns the top topK. If re-scoring fails for any
	// reason the input order and scores are preserved.
	Rerank(ctx context.Context, query string, sources []Source, topK int) []Source

	// DeleteVectors removes the given vector IDs from the conversation's
	// collection. It reports whether the collection existed.
	DeleteVectors(ctx context.Context, conversationID string, vectorIDs []string) (bool, error)
}

// engine implements Engine on top of an Embedder and a VectorStore.
type engine struct {
	embedder     Embedder
	store        vectorstore.VectorStore
	chunkSize    int
	chunkOverlap int
}

// NewEngine creates a retrieval engine with the given chunking parameters.
func NewEngine(embedder Embedder, store vectorstore.VectorStore, chunkSize, chunkOverlap int) Engine {
	return &engine{
		embedder:     embedder,
		store:        store,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Index chunks and embeds a document into the conversation's collection.
func (e *engine) Index(ctx context.Context, conversationID, documentID, content string, metadata map[string]any) ([]string, error) {
	logger := contextutil.LoggerFromContext(ctx)

	chunks := SplitText(content, e.chunkSize, e.chunkOverlap)
	if len(chunks) == 0 {
		logger.InfoContext(ctx, "document produced no chunks, skipping index", "document_id", documentID)
		return []string{}, nil
	}

	dimension, err := e.embedder.Dimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedding dimension: %w", err)
	}

	collection := vectorstore.CollectionName(conversationID)
	if err := e.store.EnsureCollection(ctx, collection, dimension); err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	vectors, err := e.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(vectors))
	}

	ids := make([]string, len(chunks))
	points := make([]vectorstore.Point, len(chunks))
	for i, chunk := range chunks {
		// Caller metadata first; the bookkeeping keys win on collision.
		meta := make(map[string]any, len(metadata)+5)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["text"] = chunk
		meta["document_id"] = documentID
		meta["conversation_id"] = conversationID
		meta["chunk_index"] = i
		meta["chunk_total"] = len(chunks)

		ids[i] = fmt.Sprintf("%s_%d", documentID, i)
		points[i] = vectorstore.Point{
			ID:   ids[i],
			Vec:  vectors[i],
			Meta: meta,
		}
	}

	if err := e.store.Upsert(ctx, collection, points); err != nil {
		return nil, fmt.Errorf("failed to upsert chunks: %w", err)
	}

	logger.InfoContext(ctx, "document indexed", "document_id", documentID, "chunks", len(chunks))
	return ids, nil
}

// Search embeds the query once and returns matching sources.
func (e *engine) Search(ctx context.Context, conversationID, query string, topK int, minScore float32) ([]Source, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if topK <= 0 {
		topK = 5
	}

	queryVector, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	collection := vectorstore.CollectionName(conversationID)
	results, err := e.store.Query(ctx, collection, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	sources := make([]Source, 0, len(results))
	for _, result := range results {
		if result.Score < minScore {
			continue
		}

		text, _ := result.Meta["text"].(string)
		chunkIndex := metaInt(result.Meta, "chunk_index")
		chunkTotal := metaInt(result.Meta, "chunk_total")

		meta := make(map[string]any, len(result.Meta))
		for k, v := range result.Meta {
			if k == "text" {
				continue
			}
			meta[k] = v
		}

		sources = append(sources, Source{
			ID:       result.PointID,
			Title:    fmt.Sprintf("Chunk %d/%d", chunkIndex+1, chunkTotal),
			Content:  excerpt(text, maxExcerptRunes),
			Score:    result.Score,
			Provider: sourceProvider,
			Metadata: meta,
		})
	}

	logger.InfoContext(ctx, "search completed", "conversation_id", conversationID, "results", len(sources), "k", topK)
	return sources, nil
}

// Rerank re-scores sources by embedding cosine similarity to the query.
// Any failure leaves the input ordering and scores untouched.
func (e *engine) Rerank(ctx context.Context, query string, sources []Source, topK int) []Source {
	logger := contextutil.LoggerFromContext(ctx)

	if topK <= 0 || topK > len(sources) {
		topK = len(sources)
	}
	if len(sources) == 0 {
		return sources
	}

	texts := make([]string, 0, len(sources)+1)
	texts = append(texts, query)
	for _, source := range sources {
		texts = append(texts, source.Content)
	}

	vectors, err := e.embedder.EmbedTexts(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		logger.WarnContext(ctx, "rerank failed, keeping retrieval order", "error", err)
		return sources[:topK]
	}

	queryVector := vectors[0]
	reranked := make([]Source, len(sources))
	copy(reranked, sources)
	for i := range reranked {
		reranked[i].Score = embeddings.CosineSimilarity(queryVector, vectors[i+1])
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	return reranked[:topK]
}

// DeleteVectors removes vector IDs from the conversation's collection.
func (e *engine) DeleteVectors(ctx context.Context, conversationID string, vectorIDs []string) (bool, error) {
	collection := vectorstore.CollectionName(conversationID)

	exists, err := e.store.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return false, nil
	}

	if err := e.store.Delete(ctx, collection, vectorIDs); err != nil {
		return true, fmt.Errorf("failed to delete vectors: %w", err)
	}
	return true, nil
}

// excerpt truncates text to at most n runes.
func excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// metaInt reads an integer metadata value regardless of how the store
// round-tripped it (Qdrant returns int64, JSON decoding returns float64).
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
