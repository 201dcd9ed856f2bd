package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ragchat/internal/handlers"
	"ragchat/internal/service"
	"ragchat/internal/vectorstore"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	ChatService         service.ChatService
	ConversationService service.ConversationService
	AssistantService    service.AssistantService
	DocumentService     service.DocumentService
	DB                  *sql.DB
	VectorStore         vectorstore.VectorStore
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	chat := handlers.NewChatHandler(deps.ChatService)
	conversations := handlers.NewConversationsHandler(deps.ConversationService)
	assistants := handlers.NewAssistantsHandler(deps.AssistantService)
	documents := handlers.NewDocumentsHandler(deps.DocumentService)
	health := handlers.NewHealthHandler(deps.DB, deps.VectorStore)

	r.Route("/api", func(r chi.Router) {
		r.Route("/assistants", func(r chi.Router) {
			r.Post("/", assistants.Create)
			r.Get("/", assistants.List)
			r.Get("/{id}", assistants.Get)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversations.Create)
			r.Get("/", conversations.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversations.Get)
				r.Patch("/", conversations.Update)
				r.Delete("/", conversations.Delete)

				r.Get("/messages", conversations.History)
				r.Post("/messages", chat.Send)
				r.Post("/tools", chat.SendTools)
				r.Post("/tool-results", chat.ToolResults)

				r.Post("/documents", documents.Upload)
				r.Get("/documents", documents.List)
				r.Post("/search", documents.Search)
			})
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/{id}", documents.Get)
			r.Delete("/{id}", documents.Delete)
		})
	})

	r.Method(http.MethodGet, "/health", health)

	return r
}
