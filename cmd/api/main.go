package main

import (
	"log"
	"log/slog"
	nethttp "net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"ragchat/internal/config"
	"ragchat/internal/embeddings"
	"ragchat/internal/http"
	"ragchat/internal/llm"
	"ragchat/internal/rag"
	"ragchat/internal/service"
	"ragchat/internal/storage"
	"ragchat/internal/vectorstore"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	assistantRepo := storage.NewAssistantRepo(db)
	conversationRepo := storage.NewConversationRepo(db)
	messageRepo := storage.NewMessageRepo(db)
	documentRepo := storage.NewDocumentRepo(db)

	// Initialize Qdrant vector store
	vectorStore, err := vectorstore.NewQdrantStore(cfg.QdrantURL)
	if err != nil {
		log.Fatalf("Failed to create Qdrant client: %v", err)
	}
	slog.Info("Qdrant client ready", "url", cfg.QdrantURL)

	// Embeddings client, optionally wrapped with a Redis cache. The embedding
	// dimension is probed lazily on first use, so an unreachable embedding
	// service delays startup failures to the first indexing request.
	embeddingClient := embeddings.NewClient(
		cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingBatchSize)
	var embedder rag.Embedder = embeddingClient
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		embedder = embeddings.NewCache(embeddingClient, rdb, cfg.EmbeddingModel, cfg.CacheTTL)
		slog.Info("Embedding cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	// Create RAG engine
	ragEngine := rag.NewEngine(embedder, vectorStore, cfg.ChunkSize, cfg.ChunkOverlap)
	slog.Info("RAG engine initialized", "chunk_size", cfg.ChunkSize, "chunk_overlap", cfg.ChunkOverlap)

	// LLM provider factory
	factory := &llm.Factory{
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
	}

	// Service layer
	contextBuilder := service.NewContextBuilder(conversationRepo, messageRepo, cfg.HistoryLimit)
	chatService := service.NewChatService(
		conversationRepo, messageRepo, assistantRepo,
		contextBuilder, ragEngine, factory,
		cfg.RAGTopK, cfg.RerankTopK, float32(cfg.RAGMinScore),
	)
	conversationService := service.NewConversationService(
		conversationRepo, messageRepo, assistantRepo, vectorStore)
	assistantService := service.NewAssistantService(assistantRepo)
	documentService := service.NewDocumentService(
		documentRepo, conversationRepo, ragEngine,
		cfg.RAGTopK, cfg.RerankTopK, float32(cfg.RAGMinScore),
	)

	// Create router with dependencies
	router := http.NewRouter(&http.Deps{
		ChatService:         chatService,
		ConversationService: conversationService,
		AssistantService:    assistantService,
		DocumentService:     documentService,
		DB:                  db,
		VectorStore:         vectorStore,
	})

	// Start API server
	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}
