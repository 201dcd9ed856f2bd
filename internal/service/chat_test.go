package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"ragchat/internal/llm"
	llmmocks "ragchat/internal/llm/mocks"
	"ragchat/internal/rag"
	ragmocks "ragchat/internal/rag/mocks"
	"ragchat/internal/storage"
)

type chatFixture struct {
	svc           ChatService
	client        *llmmocks.MockClient
	engine        *ragmocks.MockEngine
	messages      *storage.MessageRepo
	conversations *storage.ConversationRepo
	assistants    *storage.AssistantRepo

	assistantID    string
	conversationID string
}

// fixedFactory returns the same client for every model.
type fixedFactory struct {
	client llm.Client
	err    error
}

func (f *fixedFactory) ClientFor(string) (llm.Client, error) {
	return f.client, f.err
}

func newChatFixture(t *testing.T, ctrl *gomock.Controller) *chatFixture {
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

	assistants := storage.NewAssistantRepo(db)
	conversations := storage.NewConversationRepo(db)
	messages := storage.NewMessageRepo(db)

	assistant := &storage.AssistantRecord{
		ID:           "asst-1",
		Name:         "Helper",
		Model:        "gpt-4",
		Temperature:  0.7,
		SystemPrompt: "You are helpful.",
		CreatedAt:    time.Now(),
	}
	if err := assistants.Insert(ctx, assistant); err != nil {
		t.Fatalf("failed to seed assistant: %v", err)
	}
	conversation := &storage.ConversationRecord{
		ID:          "conv-1",
		UserID:      "user-1",
		AssistantID: assistant.ID,
		Title:       "Test",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := conversations.Insert(ctx, conversation); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}

	client := llmmocks.NewMockClient(ctrl)
	engine := ragmocks.NewMockEngine(ctrl)

	svc := NewChatService(
		conversations, messages, assistants,
		NewContextBuilder(conversations, messages, 50),
		engine,
		&fixedFactory{client: client},
		5, 3, 0,
	)

	return &chatFixture{
		svc:            svc,
		client:         client,
		engine:         engine,
		messages:       messages,
		conversations:  conversations,
		assistants:     assistants,
		assistantID:    assistant.ID,
		conversationID: conversation.ID,
	}
}

func (f *chatFixture) history(t *testing.T) []*storage.MessageRecord {
	t.Helper()
	records, err := f.messages.ListByConversation(context.Background(), f.conversationID, 0, 0)
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	return records
}

func TestSendMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	f.client.EXPECT().
		Chat(gomock.Any(), gomock.Any(), llm.ChatParams{Temperature: 0.7}).
		DoAndReturn(func(_ context.Context, messages []llm.Message, _ llm.ChatParams) (string, error) {
			// System prompt leads, user turn closes the window
			if messages[0].Role != "system" || messages[0].Content != "You are helpful." {
				t.Errorf("messages[0] = %+v", messages[0])
			}
			if last := messages[len(messages)-1]; last.Role != "user" || last.Content != "hello" {
				t.Errorf("last message = %+v", last)
			}
			return "hi there", nil
		})

	resp, err := f.svc.SendMessage(context.Background(), SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.Content != "hi there" || resp.MessageID == "" {
		t.Errorf("SendMessage() = %+v", resp)
	}

	history := f.history(t)
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want user and assistant", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("history order = %s, %s", history[0].Role, history[1].Role)
	}
	if history[1].AssistantID != f.assistantID {
		t.Errorf("assistant message AssistantID = %q", history[1].AssistantID)
	}
	if !history[1].CreatedAt.After(history[0].CreatedAt) && !history[1].CreatedAt.Equal(history[0].CreatedAt) {
		t.Error("assistant message predates user message")
	}
}

func TestSendMessageValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	var validationErr *ValidationError
	_, err := f.svc.SendMessage(context.Background(), SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "   ",
	})
	if !errors.As(err, &validationErr) {
		t.Errorf("SendMessage() blank content error = %v, want ValidationError", err)
	}

	_, err = f.svc.SendMessage(context.Background(), SendMessageRequest{
		ConversationID: "missing",
		Content:        "hello",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SendMessage() unknown conversation error = %v, want ErrNotFound", err)
	}
	if len(f.history(t)) != 0 {
		t.Error("failed validations must not persist messages")
	}
}

func TestStreamMessageSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	f.client.EXPECT().
		StreamChat(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ llm.ChatParams, cb func(string) error) error {
			for _, chunk := range []string{"To", "ken", "s"} {
				if err := cb(chunk); err != nil {
					return err
				}
			}
			return nil
		})

	var events []Event
	err := f.svc.StreamMessage(context.Background(), SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "hello",
	}, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamMessage() error = %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("events = %d, want 3 tokens and done", len(events))
	}
	var terminals int
	for _, e := range events {
		if e.Type == EventDone || e.Type == EventError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want exactly 1", terminals)
	}
	last := events[len(events)-1]
	if last.Type != EventDone || last.MessageID == "" {
		t.Errorf("last event = %+v, want done with message id", last)
	}

	history := f.history(t)
	if len(history) != 2 {
		t.Fatalf("history = %d messages", len(history))
	}
	if history[1].Content != "Tokens" {
		t.Errorf("persisted reply = %q, want accumulated tokens", history[1].Content)
	}
	if history[1].ID != last.MessageID {
		t.Error("done event message id does not match persisted message")
	}
}

func TestStreamMessageProviderFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	f.client.EXPECT().
		StreamChat(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ llm.ChatParams, cb func(string) error) error {
			if err := cb("par"); err != nil {
				return err
			}
			return fmt.Errorf("provider overloaded")
		})

	var events []Event
	err := f.svc.StreamMessage(context.Background(), SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "hello",
	}, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamMessage() error = %v, failure must surface as terminal event", err)
	}

	last := events[len(events)-1]
	if last.Type != EventError || last.Error == "" {
		t.Errorf("last event = %+v, want error terminal", last)
	}
	var terminals int
	for _, e := range events {
		if e.Type == EventDone || e.Type == EventError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want exactly 1", terminals)
	}

	// The user message stays; the partial reply is discarded
	history := f.history(t)
	if len(history) != 1 || history[0].Role != "user" {
		t.Errorf("history after failed stream = %+v, want only the user message", history)
	}
}

func TestStreamMessageCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	ctx, cancel := context.WithCancel(context.Background())

	f.client.EXPECT().
		StreamChat(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(streamCtx context.Context, _ []llm.Message, _ llm.ChatParams, cb func(string) error) error {
			if err := cb("par"); err != nil {
				return err
			}
			cancel()
			return streamCtx.Err()
		})

	var events []Event
	err := f.svc.StreamMessage(ctx, SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "hello",
	}, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("StreamMessage() error = %v, want context.Canceled", err)
	}

	for _, e := range events {
		if e.Type == EventDone || e.Type == EventError {
			t.Errorf("cancelled stream emitted terminal event %+v", e)
		}
	}
	history := f.history(t)
	if len(history) != 1 || history[0].Role != "user" {
		t.Errorf("history after cancel = %d messages, want only the user message", len(history))
	}
}

func TestStreamMessageConsumerGone(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	f.client.EXPECT().
		StreamChat(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ llm.ChatParams, cb func(string) error) error {
			return cb("tok")
		})

	calls := 0
	err := f.svc.StreamMessage(context.Background(), SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "hello",
	}, func(Event) error {
		calls++
		return errors.New("client disconnected")
	})
	if err == nil {
		t.Fatal("StreamMessage() error = nil, want emit failure")
	}
	if calls != 1 {
		t.Errorf("emit called %d times after failure, want 1", calls)
	}
	history := f.history(t)
	if len(history) != 1 {
		t.Errorf("history = %d messages, want only the user message", len(history))
	}
}

func TestStreamMessageWithSources(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	sources := []rag.Source{
		{ID: "doc_0", Title: "Chunk 1/1", Content: "grass is green", Score: 0.9, Provider: "documents"},
	}
	f.engine.EXPECT().
		Search(gomock.Any(), f.conversationID, "what color is grass", 5, float32(0)).
		Return(sources, nil)
	f.engine.EXPECT().
		Rerank(gomock.Any(), "what color is grass", sources, 3).
		Return(sources)

	f.client.EXPECT().
		StreamChat(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, messages []llm.Message, _ llm.ChatParams, cb func(string) error) error {
			// Retrieved context is appended to the user turn
			last := messages[len(messages)-1]
			if last.Role != "user" {
				t.Errorf("last message role = %q", last.Role)
			}
			if want := "grass is green"; !strings.Contains(last.Content, want) {
				t.Errorf("augmented message %q missing %q", last.Content, want)
			}
			return cb("Green.")
		})

	var events []Event
	err := f.svc.StreamMessage(context.Background(), SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "what color is grass",
		UseRAG:         true,
	}, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamMessage() error = %v", err)
	}

	if events[0].Type != EventSources || len(events[0].Sources) != 1 {
		t.Errorf("events[0] = %+v, want sources first", events[0])
	}
	if events[len(events)-1].Type != EventDone {
		t.Errorf("last event = %+v", events[len(events)-1])
	}

	history := f.history(t)
	assistant := history[len(history)-1]
	if len(assistant.Sources) != 1 || assistant.Sources[0].ID != "doc_0" {
		t.Errorf("persisted sources = %+v", assistant.Sources)
	}
}

func TestSendMessageMissingCredential(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	// Factory failure surfaces as a configuration error
	broken := NewChatService(
		f.conversations, f.messages, f.assistants,
		NewContextBuilder(f.conversations, f.messages, 50),
		f.engine,
		&fixedFactory{err: fmt.Errorf("openai: %w", llm.ErrMissingCredential)},
		5, 3, 0,
	)
	_, err := broken.SendMessage(context.Background(), SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "hello",
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("SendMessage() error = %v, want ErrConfiguration", err)
	}
}

func TestContextBuilderMissingConversation(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	builder := NewContextBuilder(f.conversations, f.messages, 50)
	if _, err := builder.Build(context.Background(), "missing", "prompt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Build() error = %v, want ErrNotFound", err)
	}
}

func TestSendWithToolsAndResults(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newChatFixture(t, ctrl)

	tools := []llm.Tool{{Name: "lookup", Description: "Key lookup", Parameters: map[string]any{"type": "object"}}}
	f.client.EXPECT().
		ChatWithTools(gomock.Any(), gomock.Any(), tools, gomock.Any()).
		Return(llm.ToolResponse{
			Content:   "Checking.",
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "lookup", Arguments: map[string]any{"key": "grass"}}},
		}, nil)

	turn, err := f.svc.SendWithTools(context.Background(), SendMessageRequest{
		ConversationID: f.conversationID,
		Content:        "look up grass",
	}, tools)
	if err != nil {
		t.Fatalf("SendWithTools() error = %v", err)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].Name != "lookup" {
		t.Errorf("ToolCalls = %+v", turn.ToolCalls)
	}

	persisted, err := f.messages.GetByID(context.Background(), turn.MessageID)
	if err != nil {
		t.Fatalf("failed to load persisted message: %v", err)
	}
	if len(persisted.ToolCalls) != 1 || persisted.ToolCalls[0].ID != "call_1" {
		t.Errorf("persisted tool calls = %+v", persisted.ToolCalls)
	}

	resultID, err := f.svc.SubmitToolResults(context.Background(), f.conversationID, []storage.ToolResultRecord{
		{ToolCallID: "call_1", Name: "lookup", Success: true, Output: "green", DurationMS: 12},
	})
	if err != nil {
		t.Fatalf("SubmitToolResults() error = %v", err)
	}
	resultMsg, err := f.messages.GetByID(context.Background(), resultID)
	if err != nil {
		t.Fatalf("failed to load tool result message: %v", err)
	}
	if resultMsg.Role != "tool" || len(resultMsg.ToolResults) != 1 || resultMsg.ToolResults[0].Output != "green" {
		t.Errorf("tool result message = %+v", resultMsg)
	}
}

