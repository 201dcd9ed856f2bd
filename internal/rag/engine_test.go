package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"ragchat/internal/vectorstore"
)

// vocabEmbedder is a deterministic bag-of-words embedder for tests. Each
// distinct word gets a dedicated dimension.
type vocabEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	fail  bool
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{vocab: make(map[string]int)}
}

const vocabDim = 64

func (e *vocabEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("encoder offline")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, vocabDim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,!?\"'")
			if word == "" {
				continue
			}
			idx, ok := e.vocab[word]
			if !ok {
				idx = len(e.vocab) % vocabDim
				e.vocab[word] = idx
			}
			vec[idx]++
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *vocabEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *vocabEmbedder) Dimension(context.Context) (int, error) {
	if e.fail {
		return 0, errors.New("encoder offline")
	}
	return vocabDim, nil
}

func newTestEngine(chunkSize, overlap int) (Engine, *vocabEmbedder, *vectorstore.MemoryStore) {
	embedder := newVocabEmbedder()
	store := vectorstore.NewMemoryStore()
	return NewEngine(embedder, store, chunkSize, overlap), embedder, store
}

func TestEngineIndexAndSearch(t *testing.T) {
	ctx := context.Background()
	eng, _, store := newTestEngine(20, 5)

	ids, err := eng.Index(ctx, "conv-1", "doc-1", "The sky is blue. The grass is green.", nil)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if len(ids) < 2 {
		t.Fatalf("Index() ids = %v, want at least 2", ids)
	}
	for i, id := range ids {
		if !strings.HasPrefix(id, "doc-1_") {
			t.Errorf("ids[%d] = %q, want doc-1_<index>", i, id)
		}
	}

	sources, err := eng.Search(ctx, "conv-1", "what color is grass", 5, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(sources) == 0 {
		t.Fatal("Search() returned no sources")
	}
	if !strings.Contains(sources[0].Content, "grass") {
		t.Errorf("top source = %q, want the grass chunk", sources[0].Content)
	}
	if sources[0].Provider != "documents" {
		t.Errorf("Provider = %q", sources[0].Provider)
	}
	if !strings.HasPrefix(sources[0].Title, "Chunk ") {
		t.Errorf("Title = %q", sources[0].Title)
	}
	for i := 1; i < len(sources); i++ {
		if sources[i-1].Score < sources[i].Score {
			t.Error("sources not ordered by descending score")
		}
	}

	// Collection name derives from the conversation ID
	count, _ := store.Count(ctx, vectorstore.CollectionName("conv-1"))
	if count != len(ids) {
		t.Errorf("stored points = %d, want %d", count, len(ids))
	}
}

func TestEngineIndexCarriesMetadata(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(200, 20)

	metadata := map[string]any{"origin": "upload", "chunk_index": "caller value loses"}
	if _, err := eng.Index(ctx, "conv-1", "doc-1", "The grass is green.", metadata); err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	sources, err := eng.Search(ctx, "conv-1", "grass", 5, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(sources) == 0 {
		t.Fatal("Search() returned no sources")
	}

	meta := sources[0].Metadata
	if meta["origin"] != "upload" {
		t.Errorf("metadata origin = %v, want upload", meta["origin"])
	}
	if meta["conversation_id"] != "conv-1" {
		t.Errorf("metadata conversation_id = %v, want conv-1", meta["conversation_id"])
	}
	if meta["document_id"] != "doc-1" {
		t.Errorf("metadata document_id = %v, want doc-1", meta["document_id"])
	}
	// Bookkeeping keys cannot be overridden by caller metadata
	if _, ok := meta["chunk_index"].(string); ok {
		t.Errorf("metadata chunk_index = %v, want the numeric chunk index", meta["chunk_index"])
	}
	// Chunk text never rides in metadata
	if _, ok := meta["text"]; ok {
		t.Error("metadata must not contain the raw chunk text")
	}
}

func TestEngineIndexIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, _, store := newTestEngine(20, 5)

	first, err := eng.Index(ctx, "conv-1", "doc-1", "The sky is blue. The grass is green.", nil)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	second, err := eng.Index(ctx, "conv-1", "doc-1", "The sky is blue. The grass is green.", nil)
	if err != nil {
		t.Fatalf("Index() repeat error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("id counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("ids[%d] differ: %q vs %q", i, first[i], second[i])
		}
	}

	count, _ := store.Count(ctx, vectorstore.CollectionName("conv-1"))
	if count != len(first) {
		t.Errorf("stored points = %d after re-index, want %d", count, len(first))
	}
}

func TestEngineIndexEmptyDocument(t *testing.T) {
	ctx := context.Background()
	eng, _, store := newTestEngine(20, 5)

	ids, err := eng.Index(ctx, "conv-1", "doc-1", "   \n ", nil)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Index() ids = %v, want none", ids)
	}
	exists, _ := store.CollectionExists(ctx, vectorstore.CollectionName("conv-1"))
	if exists {
		t.Error("empty document must not create a collection")
	}
}

func TestEngineSearchMinScore(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(200, 20)

	if _, err := eng.Index(ctx, "conv-1", "doc-1", "cats purr loudly", nil); err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	// A query sharing no vocabulary scores 0 and is filtered out
	sources, err := eng.Search(ctx, "conv-1", "submarine engine torque", 5, 0.5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("Search() = %v, want everything below min score filtered", sources)
	}
}

func TestEngineSearchUnindexedConversation(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(100, 10)

	sources, err := eng.Search(ctx, "conv-never-indexed", "anything", 5, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("Search() = %v, want empty for unindexed conversation", sources)
	}
}

func TestEngineRerank(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(100, 10)

	sources := []Source{
		{ID: "a", Content: "bananas are yellow", Score: 0.9},
		{ID: "b", Content: "grass is green", Score: 0.8},
		{ID: "c", Content: "the stock market fell", Score: 0.7},
	}

	reranked := eng.Rerank(ctx, "what color is grass", sources, 2)
	if len(reranked) != 2 {
		t.Fatalf("Rerank() = %d sources, want 2", len(reranked))
	}
	if reranked[0].ID != "b" {
		t.Errorf("Rerank() top = %s, want the grass source", reranked[0].ID)
	}
	if reranked[0].Score < reranked[1].Score {
		t.Error("reranked sources not ordered by descending score")
	}
	// Input must not be mutated
	if sources[0].ID != "a" || sources[0].Score != 0.9 {
		t.Errorf("input sources mutated: %+v", sources[0])
	}
}

func TestEngineRerankFallback(t *testing.T) {
	ctx := context.Background()
	embedder := newVocabEmbedder()
	eng := NewEngine(embedder, vectorstore.NewMemoryStore(), 100, 10)

	sources := []Source{
		{ID: "a", Content: "first", Score: 0.9},
		{ID: "b", Content: "second", Score: 0.8},
		{ID: "c", Content: "third", Score: 0.7},
	}

	embedder.fail = true
	reranked := eng.Rerank(ctx, "query", sources, 2)
	if len(reranked) != 2 {
		t.Fatalf("Rerank() fallback = %d sources, want 2", len(reranked))
	}
	// Retrieval order and scores survive the failed re-score
	if reranked[0].ID != "a" || reranked[0].Score != 0.9 || reranked[1].ID != "b" {
		t.Errorf("Rerank() fallback = %+v, want original order", reranked)
	}
}

func TestEngineRerankEmpty(t *testing.T) {
	eng, _, _ := newTestEngine(100, 10)
	if got := eng.Rerank(context.Background(), "query", nil, 3); len(got) != 0 {
		t.Errorf("Rerank(nil) = %v", got)
	}
}

func TestEngineDeleteVectors(t *testing.T) {
	ctx := context.Background()
	eng, _, store := newTestEngine(200, 20)

	ids, err := eng.Index(ctx, "conv-1", "doc-1", "some indexed content here", nil)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	existed, err := eng.DeleteVectors(ctx, "conv-1", ids)
	if err != nil {
		t.Fatalf("DeleteVectors() error = %v", err)
	}
	if !existed {
		t.Error("DeleteVectors() existed = false, want true")
	}
	count, _ := store.Count(ctx, vectorstore.CollectionName("conv-1"))
	if count != 0 {
		t.Errorf("points remaining after delete = %d", count)
	}

	existed, err = eng.DeleteVectors(ctx, "conv-none", []string{"x_0"})
	if err != nil {
		t.Fatalf("DeleteVectors() on missing collection error = %v", err)
	}
	if existed {
		t.Error("DeleteVectors() on missing collection existed = true, want false")
	}
}
