package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_llm_factory.go -package=mocks ragchat/internal/service LLMFactory
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_services.go -package=mocks ragchat/internal/service ChatService,ConversationService,AssistantService,DocumentService

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/contextutil"
	"ragchat/internal/llm"
	"ragchat/internal/rag"
	"ragchat/internal/storage"
)

// LLMFactory resolves a model name to a provider client. This interface is
// defined from the service layer's perspective (consumer-first);
// llm.Factory satisfies it.
type LLMFactory interface {
	ClientFor(model string) (llm.Client, error)
}

// SendMessageRequest represents one user turn in a conversation.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	// Model optionally overrides the assistant's configured model.
	Model string `json:"model,omitempty"`
	// UseRAG attaches retrieved document context to this turn.
	UseRAG bool `json:"use_rag,omitempty"`
}

// SendMessageResponse is the completed assistant turn.
type SendMessageResponse struct {
	MessageID string       `json:"message_id"`
	Content   string       `json:"content"`
	Sources   []rag.Source `json:"sources,omitempty"`
}

// ToolTurn is the result of a tool-enabled turn: the model either answered
// directly or requested tool invocations, which the caller executes.
type ToolTurn struct {
	MessageID string         `json:"message_id"`
	Content   string         `json:"content"`
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
}

// ChatService orchestrates conversation turns: persisting the user message,
// assembling context, generating a reply, and persisting the result.
// Turns within one conversation are serialized; concurrent requests queue.
type ChatService interface {
	// SendMessage runs a turn and blocks until the full reply is ready.
	SendMessage(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error)

	// StreamMessage runs a turn, emitting events as generation proceeds.
	// On any outcome except cancellation or emit failure the stream ends
	// with exactly one terminal event: done on success, error otherwise.
	// A failed or cancelled stream persists no assistant message. A non-nil
	// return means the consumer went away (no terminal event was sent).
	StreamMessage(ctx context.Context, req SendMessageRequest, emit func(Event) error) error

	// SendWithTools runs a turn with tools offered to the model. The
	// persisted assistant message records any requested tool calls.
	SendWithTools(ctx context.Context, req SendMessageRequest, tools []llm.Tool) (ToolTurn, error)

	// SubmitToolResults persists the outcome of executed tool calls as a
	// tool-role message so the conversation records the full exchange.
	SubmitToolResults(ctx context.Context, conversationID string, results []storage.ToolResultRecord) (string, error)
}

// chatService implements ChatService.
type chatService struct {
	conversations storage.ConversationStore
	messages      storage.MessageStore
	assistants    storage.AssistantStore
	contextBld    *ContextBuilder
	engine        rag.Engine
	factory       LLMFactory
	locks         *keyedMutex

	ragTopK    int
	rerankTopK int
	ragMin     float32
}

// NewChatService creates a new ChatService.
func NewChatService(
	conversations storage.ConversationStore,
	messages storage.MessageStore,
	assistants storage.AssistantStore,
	contextBld *ContextBuilder,
	engine rag.Engine,
	factory LLMFactory,
	ragTopK, rerankTopK int,
	ragMin float32,
) ChatService {
	return &chatService{
		conversations: conversations,
		messages:      messages,
		assistants:    assistants,
		contextBld:    contextBld,
		engine:        engine,
		factory:       factory,
		locks:         newKeyedMutex(),
		ragTopK:       ragTopK,
		rerankTopK:    rerankTopK,
		ragMin:        ragMin,
	}
}

// errEmit marks callback failures so they are never converted into terminal
// error events: if the consumer is gone there is nobody to send one to.
var errEmit = errors.New("emit failed")

// turn carries the loaded state of one conversation turn.
type turn struct {
	conversation *storage.ConversationRecord
	assistant    *storage.AssistantRecord
	model        string
	params       llm.ChatParams
}

// beginTurn validates the request, loads the conversation and assistant,
// and persists the user message. The caller must hold the conversation lock.
func (s *chatService) beginTurn(ctx context.Context, req SendMessageRequest) (*turn, error) {
	if req.ConversationID == "" {
		return nil, &ValidationError{Field: "conversation_id", Message: "cannot be empty"}
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, &ValidationError{Field: "content", Message: "cannot be empty"}
	}

	conversation, err := s.conversations.GetByID(ctx, req.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, ErrNotFound)
	}
	if err != nil {
		return nil, WrapError(err, "failed to get conversation")
	}

	assistant, err := s.assistants.GetByID(ctx, conversation.AssistantID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("assistant %s: %w", conversation.AssistantID, ErrNotFound)
	}
	if err != nil {
		return nil, WrapError(err, "failed to get assistant")
	}

	userMessage := &storage.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Role:           "user",
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	if err := s.messages.Insert(ctx, userMessage); err != nil {
		return nil, WrapError(err, "failed to persist user message")
	}

	model := req.Model
	if model == "" {
		model = assistant.Model
	}

	return &turn{
		conversation: conversation,
		assistant:    assistant,
		model:        model,
		params:       llm.ChatParams{Temperature: assistant.Temperature},
	}, nil
}

// retrieve fetches and re-ranks document context for the turn. Retrieval
// failures degrade to an answer without sources rather than failing the turn.
func (s *chatService) retrieve(ctx context.Context, conversationID, query string) []rag.Source {
	logger := contextutil.LoggerFromContext(ctx)

	sources, err := s.engine.Search(ctx, conversationID, query, s.ragTopK, s.ragMin)
	if err != nil {
		logger.WarnContext(ctx, "retrieval failed, answering without sources", "error", err)
		return nil
	}
	if len(sources) == 0 {
		return nil
	}
	return s.engine.Rerank(ctx, query, sources, s.rerankTopK)
}

// augment appends retrieved context to the final user message.
func augment(messages []llm.Message, sources []rag.Source) []llm.Message {
	if len(sources) == 0 || len(messages) == 0 {
		return messages
	}

	var b strings.Builder
	b.WriteString(messages[len(messages)-1].Content)
	b.WriteString("\n\n--- Context from documents ---\n")
	for _, source := range sources {
		b.WriteString(fmt.Sprintf("\n[%s]\n%s\n", source.Title, source.Content))
	}
	b.WriteString("\n--- End context ---")

	out := make([]llm.Message, len(messages))
	copy(out, messages)
	out[len(out)-1].Content = b.String()
	return out
}

// finishTurn persists the assistant reply and bumps the conversation's
// updated_at so listings sort by activity.
func (s *chatService) finishTurn(ctx context.Context, t *turn, conversationID, content string, sources []rag.Source, toolCalls []storage.ToolCallRecord) (string, error) {
	logger := contextutil.LoggerFromContext(ctx)

	sourceRecords := make([]storage.SourceRecord, 0, len(sources))
	for _, source := range sources {
		sourceRecords = append(sourceRecords, storage.SourceRecord{
			ID:       source.ID,
			Title:    source.Title,
			Content:  source.Content,
			Score:    float64(source.Score),
			Provider: source.Provider,
			Metadata: source.Metadata,
		})
	}

	now := time.Now()
	record := &storage.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		AssistantID:    t.assistant.ID,
		Role:           "assistant",
		Content:        content,
		Sources:        sourceRecords,
		ToolCalls:      toolCalls,
		CreatedAt:      now,
	}
	if err := s.messages.Insert(ctx, record); err != nil {
		return "", WrapError(err, "failed to persist assistant message")
	}

	if err := s.conversations.Touch(ctx, conversationID, now); err != nil {
		logger.WarnContext(ctx, "failed to touch conversation", "conversation_id", conversationID, "error", err)
	}
	return record.ID, nil
}

// SendMessage runs a turn and blocks until the full reply is ready.
func (s *chatService) SendMessage(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	s.locks.Lock(req.ConversationID)
	defer s.locks.Unlock(req.ConversationID)

	t, err := s.beginTurn(ctx, req)
	if err != nil {
		return SendMessageResponse{}, err
	}

	messages, err := s.contextBld.Build(ctx, req.ConversationID, t.assistant.SystemPrompt)
	if err != nil {
		return SendMessageResponse{}, err
	}

	var sources []rag.Source
	if req.UseRAG {
		sources = s.retrieve(ctx, req.ConversationID, req.Content)
		messages = augment(messages, sources)
	}

	client, err := s.factory.ClientFor(t.model)
	if err != nil {
		return SendMessageResponse{}, s.mapProviderErr(err)
	}

	reply, err := client.Chat(ctx, messages, t.params)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get LLM response", "error", err)
		return SendMessageResponse{}, WrapError(err, "failed to get LLM response")
	}

	messageID, err := s.finishTurn(ctx, t, req.ConversationID, reply, sources, nil)
	if err != nil {
		return SendMessageResponse{}, err
	}

	logger.InfoContext(ctx, "chat turn completed", "conversation_id", req.ConversationID, "message_id", messageID)
	return SendMessageResponse{MessageID: messageID, Content: reply, Sources: sources}, nil
}

// StreamMessage runs a turn, emitting events as generation proceeds.
func (s *chatService) StreamMessage(ctx context.Context, req SendMessageRequest, emit func(Event) error) error {
	logger := contextutil.LoggerFromContext(ctx)

	s.locks.Lock(req.ConversationID)
	defer s.locks.Unlock(req.ConversationID)

	// Failures before anything is emitted surface as plain errors so the
	// transport can report them directly.
	t, err := s.beginTurn(ctx, req)
	if err != nil {
		return err
	}

	fail := func(err error) error {
		logger.ErrorContext(ctx, "stream turn failed", "conversation_id", req.ConversationID, "error", err)
		if emitErr := emit(Event{Type: EventError, Error: err.Error()}); emitErr != nil {
			return fmt.Errorf("%w: %v", errEmit, emitErr)
		}
		return nil
	}

	messages, err := s.contextBld.Build(ctx, req.ConversationID, t.assistant.SystemPrompt)
	if err != nil {
		return fail(err)
	}

	var sources []rag.Source
	if req.UseRAG {
		sources = s.retrieve(ctx, req.ConversationID, req.Content)
		if len(sources) > 0 {
			if err := emit(Event{Type: EventSources, Sources: sources}); err != nil {
				return fmt.Errorf("%w: %v", errEmit, err)
			}
			messages = augment(messages, sources)
		}
	}

	client, err := s.factory.ClientFor(t.model)
	if err != nil {
		return fail(s.mapProviderErr(err))
	}

	var reply strings.Builder
	err = client.StreamChat(ctx, messages, t.params, func(chunk string) error {
		if err := emit(Event{Type: EventToken, Content: chunk}); err != nil {
			return fmt.Errorf("%w: %v", errEmit, err)
		}
		reply.WriteString(chunk)
		return nil
	})
	if err != nil {
		// Consumer gone or cancelled: discard the partial reply silently.
		// Everything else becomes the stream's terminal error event.
		if errors.Is(err, errEmit) {
			return err
		}
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "stream cancelled, discarding partial reply",
				"conversation_id", req.ConversationID, "partial_runes", reply.Len())
			return ctx.Err()
		}
		return fail(WrapError(err, "failed to stream LLM response"))
	}

	messageID, err := s.finishTurn(ctx, t, req.ConversationID, reply.String(), sources, nil)
	if err != nil {
		return fail(err)
	}

	if err := emit(Event{Type: EventDone, MessageID: messageID}); err != nil {
		return fmt.Errorf("%w: %v", errEmit, err)
	}
	logger.InfoContext(ctx, "stream turn completed", "conversation_id", req.ConversationID, "message_id", messageID)
	return nil
}

// SendWithTools runs a turn with tools offered to the model.
func (s *chatService) SendWithTools(ctx context.Context, req SendMessageRequest, tools []llm.Tool) (ToolTurn, error) {
	logger := contextutil.LoggerFromContext(ctx)

	s.locks.Lock(req.ConversationID)
	defer s.locks.Unlock(req.ConversationID)

	t, err := s.beginTurn(ctx, req)
	if err != nil {
		return ToolTurn{}, err
	}

	messages, err := s.contextBld.Build(ctx, req.ConversationID, t.assistant.SystemPrompt)
	if err != nil {
		return ToolTurn{}, err
	}

	client, err := s.factory.ClientFor(t.model)
	if err != nil {
		return ToolTurn{}, s.mapProviderErr(err)
	}

	resp, err := client.ChatWithTools(ctx, messages, tools, t.params)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get LLM response", "error", err)
		return ToolTurn{}, WrapError(err, "failed to get LLM response")
	}

	toolCallRecords := make([]storage.ToolCallRecord, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		toolCallRecords = append(toolCallRecords, storage.ToolCallRecord{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}

	messageID, err := s.finishTurn(ctx, t, req.ConversationID, resp.Content, nil, toolCallRecords)
	if err != nil {
		return ToolTurn{}, err
	}

	return ToolTurn{MessageID: messageID, Content: resp.Content, ToolCalls: resp.ToolCalls}, nil
}

// SubmitToolResults persists executed tool outcomes as a tool-role message.
func (s *chatService) SubmitToolResults(ctx context.Context, conversationID string, results []storage.ToolResultRecord) (string, error) {
	if conversationID == "" {
		return "", &ValidationError{Field: "conversation_id", Message: "cannot be empty"}
	}
	if len(results) == 0 {
		return "", &ValidationError{Field: "results", Message: "cannot be empty"}
	}

	if _, err := s.conversations.GetByID(ctx, conversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return "", WrapError(err, "failed to get conversation")
	}

	record := &storage.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "tool",
		ToolResults:    results,
		CreatedAt:      time.Now(),
	}
	if err := s.messages.Insert(ctx, record); err != nil {
		return "", WrapError(err, "failed to persist tool results")
	}
	return record.ID, nil
}

// mapProviderErr translates model resolution failures into service errors.
func (s *chatService) mapProviderErr(err error) error {
	switch {
	case errors.Is(err, llm.ErrUnsupportedModel):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, llm.ErrMissingCredential):
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	default:
		return WrapError(err, "failed to resolve model")
	}
}
