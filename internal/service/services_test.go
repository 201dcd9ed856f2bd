package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"ragchat/internal/rag"
	ragmocks "ragchat/internal/rag/mocks"
	"ragchat/internal/storage"
	"ragchat/internal/vectorstore"
)

// stubEmbedder is a deterministic bag-of-words embedder for service tests.
type stubEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
}

const stubDim = 64

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vocab: make(map[string]int)}
}

func (e *stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, stubDim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,!?\"'")
			if word == "" {
				continue
			}
			idx, ok := e.vocab[word]
			if !ok {
				idx = len(e.vocab) % stubDim
				e.vocab[word] = idx
			}
			vec[idx]++
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *stubEmbedder) Dimension(context.Context) (int, error) {
	return stubDim, nil
}

type serviceFixture struct {
	assistants    AssistantService
	conversations ConversationService
	documents     DocumentService
	vectors       *vectorstore.MemoryStore

	conversationRepo storage.ConversationStore
	documentRepo     storage.DocumentStore

	assistantID    string
	conversationID string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	assistantRepo := storage.NewAssistantRepo(db)
	conversationRepo := storage.NewConversationRepo(db)
	messageRepo := storage.NewMessageRepo(db)
	documentRepo := storage.NewDocumentRepo(db)

	vectors := vectorstore.NewMemoryStore()
	engine := rag.NewEngine(newStubEmbedder(), vectors, 500, 50)

	f := &serviceFixture{
		assistants:       NewAssistantService(assistantRepo),
		conversations:    NewConversationService(conversationRepo, messageRepo, assistantRepo, vectors),
		documents:        NewDocumentService(documentRepo, conversationRepo, engine, 5, 3, 0),
		vectors:          vectors,
		conversationRepo: conversationRepo,
		documentRepo:     documentRepo,
	}

	assistant, err := f.assistants.Create(ctx, CreateAssistantRequest{
		Name:  "Helper",
		Model: "gpt-4",
	})
	if err != nil {
		t.Fatalf("failed to create assistant: %v", err)
	}
	f.assistantID = assistant.ID

	conversation, err := f.conversations.Create(ctx, CreateConversationRequest{
		UserID:      "user-1",
		AssistantID: assistant.ID,
	})
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	f.conversationID = conversation.ID
	return f
}

func TestAssistantService(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var validationErr *ValidationError
	if _, err := f.assistants.Create(ctx, CreateAssistantRequest{Model: "gpt-4"}); !errors.As(err, &validationErr) {
		t.Errorf("Create() without name error = %v, want ValidationError", err)
	}
	if _, err := f.assistants.Create(ctx, CreateAssistantRequest{Name: "X", Model: "gpt-4", Temperature: 3}); !errors.As(err, &validationErr) {
		t.Errorf("Create() with temperature 3 error = %v, want ValidationError", err)
	}
	if _, err := f.assistants.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	list, err := f.assistants.List(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("List() = %d assistants, %v", len(list), err)
	}
}

func TestConversationServiceDefaults(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	conversation, err := f.conversations.Get(ctx, f.conversationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if conversation.Title != "Conversation with Helper" {
		t.Errorf("default title = %q", conversation.Title)
	}

	if _, err := f.conversations.Create(ctx, CreateConversationRequest{
		UserID:      "user-1",
		AssistantID: "missing",
	}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Create() with unknown assistant error = %v, want ErrNotFound", err)
	}
}

func TestConversationServiceUpdateMetadata(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if err := f.conversations.UpdateMetadata(ctx, f.conversationID, map[string]any{"pinned": true}); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	conversation, err := f.conversations.Get(ctx, f.conversationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if conversation.Metadata["pinned"] != true {
		t.Errorf("metadata after update = %+v, want pinned", conversation.Metadata)
	}

	var validationErr *ValidationError
	if err := f.conversations.UpdateMetadata(ctx, f.conversationID, nil); !errors.As(err, &validationErr) {
		t.Errorf("UpdateMetadata(nil) error = %v, want ValidationError", err)
	}
	if err := f.conversations.UpdateMetadata(ctx, "missing", map[string]any{"a": "b"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateMetadata(missing) error = %v, want ErrNotFound", err)
	}
}

func TestConversationServiceDeleteCascadesVectors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc, err := f.documents.Upload(ctx, UploadDocumentRequest{
		ConversationID: f.conversationID,
		Filename:       "notes.txt",
		MimeType:       "text/plain",
		Content:        []byte("the grass is green and the sky is blue"),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(doc.VectorIDs) == 0 {
		t.Fatal("Upload() produced no vectors")
	}

	collection := vectorstore.CollectionName(f.conversationID)
	if exists, _ := f.vectors.CollectionExists(ctx, collection); !exists {
		t.Fatal("collection missing after upload")
	}

	if err := f.conversations.Delete(ctx, f.conversationID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if exists, _ := f.vectors.CollectionExists(ctx, collection); exists {
		t.Error("collection still present after conversation delete")
	}
	if _, err := f.conversations.Get(ctx, f.conversationID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := f.documents.Get(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("document Get() after cascade error = %v, want ErrNotFound", err)
	}
}

func TestDocumentServiceUploadAndSearch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.documents.Upload(ctx, UploadDocumentRequest{
		ConversationID: f.conversationID,
		Filename:       "facts.md",
		MimeType:       "text/markdown",
		Content:        []byte("# Colors\n\nThe grass is green. The sky is blue.\n"),
		Metadata:       map[string]any{"origin": "upload"},
	}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	sources, err := f.documents.Search(ctx, SearchRequest{
		ConversationID: f.conversationID,
		Query:          "what color is grass",
		Rerank:         true,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(sources) == 0 {
		t.Fatal("Search() returned no sources")
	}
	if !strings.Contains(sources[0].Content, "grass") {
		t.Errorf("top source = %q", sources[0].Content)
	}
	// Upload metadata rides on every chunk and comes back with the source
	if sources[0].Metadata["origin"] != "upload" {
		t.Errorf("source metadata = %+v, want origin carried through", sources[0].Metadata)
	}
	if sources[0].Metadata["conversation_id"] != f.conversationID {
		t.Errorf("source metadata conversation_id = %v", sources[0].Metadata["conversation_id"])
	}
}

func TestDocumentServiceSearchDegradesOnRetrievalFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	engine := ragmocks.NewMockEngine(ctrl)
	engine.EXPECT().
		Search(gomock.Any(), f.conversationID, "anything", gomock.Any(), gomock.Any()).
		Return(nil, errors.New("vector store unreachable"))

	documents := NewDocumentService(f.documentRepo, f.conversationRepo, engine, 5, 3, 0)
	sources, err := documents.Search(ctx, SearchRequest{
		ConversationID: f.conversationID,
		Query:          "anything",
	})
	if err != nil {
		t.Fatalf("Search() error = %v, want retrieval failure swallowed", err)
	}
	if sources == nil || len(sources) != 0 {
		t.Errorf("Search() = %v, want empty result", sources)
	}
}

func TestDocumentServiceSkipsExtractionErrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc, err := f.documents.Upload(ctx, UploadDocumentRequest{
		ConversationID: f.conversationID,
		Filename:       "broken.pdf",
		MimeType:       "application/pdf",
		Content:        []byte("[Error extracting file: encrypted]"),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(doc.VectorIDs) != 0 {
		t.Errorf("extraction error content was indexed: %v", doc.VectorIDs)
	}

	collection := vectorstore.CollectionName(f.conversationID)
	if exists, _ := f.vectors.CollectionExists(ctx, collection); exists {
		t.Error("collection created for unindexable document")
	}
}

func TestDocumentServiceDelete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc, err := f.documents.Upload(ctx, UploadDocumentRequest{
		ConversationID: f.conversationID,
		Filename:       "notes.txt",
		MimeType:       "text/plain",
		Content:        []byte("cats purr loudly when content"),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if err := f.documents.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	count, _ := f.vectors.Count(ctx, vectorstore.CollectionName(f.conversationID))
	if count != 0 {
		t.Errorf("vectors remaining after document delete = %d", count)
	}
	if err := f.documents.Delete(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrNotFound", err)
	}
}

func TestConversationHistoryOrdering(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// History of an unknown conversation is a not-found error
	if _, err := f.conversations.History(ctx, "missing", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("History(missing) error = %v, want ErrNotFound", err)
	}

	history, err := f.conversations.History(ctx, f.conversationID, 0, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("fresh conversation history = %d messages", len(history))
	}
}

func TestKeyedMutexSerializes(t *testing.T) {
	locks := newKeyedMutex()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("conv-1")
			defer locks.Unlock("conv-1")

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
}
