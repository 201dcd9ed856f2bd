package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func seedAssistant(t *testing.T, repo *AssistantRepo) *AssistantRecord {
	t.Helper()
	assistant := &AssistantRecord{
		ID:           uuid.NewString(),
		Name:         "Helper",
		Model:        "gpt-4",
		Temperature:  0.7,
		SystemPrompt: "You are helpful.",
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.Insert(context.Background(), assistant); err != nil {
		t.Fatalf("failed to insert assistant: %v", err)
	}
	return assistant
}

func seedConversation(t *testing.T, repo *ConversationRepo, assistantID string) *ConversationRecord {
	t.Helper()
	now := time.Now().UTC()
	conversation := &ConversationRecord{
		ID:          uuid.NewString(),
		UserID:      "user-1",
		AssistantID: assistantID,
		Title:       "Test conversation",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Insert(context.Background(), conversation); err != nil {
		t.Fatalf("failed to insert conversation: %v", err)
	}
	return conversation
}

func TestAssistantRepo(t *testing.T) {
	db := newTestDB(t)
	repo := NewAssistantRepo(db)
	ctx := context.Background()

	assistant := seedAssistant(t, repo)

	got, err := repo.GetByID(ctx, assistant.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Model != "gpt-4" || got.SystemPrompt != "You are helpful." {
		t.Errorf("GetByID() = %+v, want inserted record", got)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List() returned %d assistants, want 1", len(all))
	}
}

func TestConversationRepoLifecycle(t *testing.T) {
	db := newTestDB(t)
	assistants := NewAssistantRepo(db)
	conversations := NewConversationRepo(db)
	ctx := context.Background()

	assistant := seedAssistant(t, assistants)
	conversation := seedConversation(t, conversations, assistant.ID)

	if err := conversations.UpdateTitle(ctx, conversation.ID, "Renamed"); err != nil {
		t.Fatalf("UpdateTitle() error = %v", err)
	}

	later := conversation.UpdatedAt.Add(time.Second)
	if err := conversations.Touch(ctx, conversation.ID, later); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	got, err := conversations.GetByID(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("Title = %q, want Renamed", got.Title)
	}
	if !got.UpdatedAt.After(conversation.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, conversation.UpdatedAt)
	}

	listed, err := conversations.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("ListByUser() returned %d conversations, want 1", len(listed))
	}

	if err := conversations.Delete(ctx, conversation.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := conversations.Delete(ctx, conversation.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() second call error = %v, want ErrNotFound", err)
	}
}

func TestMessageRepoOrderingAndRoundTrip(t *testing.T) {
	db := newTestDB(t)
	assistants := NewAssistantRepo(db)
	conversations := NewConversationRepo(db)
	messages := NewMessageRepo(db)
	ctx := context.Background()

	assistant := seedAssistant(t, assistants)
	conversation := seedConversation(t, conversations, assistant.ID)

	base := time.Now().UTC()
	for i, content := range []string{"first", "second", "third"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msg := &MessageRecord{
			ID:             uuid.NewString(),
			ConversationID: conversation.ID,
			Role:           role,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Millisecond),
		}
		if role == "assistant" {
			msg.AssistantID = assistant.ID
			msg.Sources = []SourceRecord{{
				ID: "doc_0", Title: "Chunk 1/2", Content: "excerpt", Score: 0.9, Provider: "qdrant",
			}}
		}
		if err := messages.Insert(ctx, msg); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	listed, err := messages.ListByConversation(ctx, conversation.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListByConversation() error = %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("ListByConversation() returned %d messages, want 3", len(listed))
	}
	for i, want := range []string{"first", "second", "third"} {
		if listed[i].Content != want {
			t.Errorf("message %d content = %q, want %q", i, listed[i].Content, want)
		}
	}
	for i := 1; i < len(listed); i++ {
		if !listed[i].CreatedAt.After(listed[i-1].CreatedAt) {
			t.Errorf("message %d created_at not strictly increasing", i)
		}
	}

	if listed[1].AssistantID != assistant.ID {
		t.Errorf("assistant message AssistantID = %q, want %q", listed[1].AssistantID, assistant.ID)
	}
	if len(listed[1].Sources) != 1 || listed[1].Sources[0].Score != 0.9 {
		t.Errorf("sources did not round-trip: %+v", listed[1].Sources)
	}
	if listed[0].AssistantID != "" {
		t.Errorf("user message AssistantID = %q, want empty", listed[0].AssistantID)
	}

	limited, err := messages.ListByConversation(ctx, conversation.ID, 2, 1)
	if err != nil {
		t.Fatalf("ListByConversation() with limit error = %v", err)
	}
	if len(limited) != 2 || limited[0].Content != "second" {
		t.Errorf("limit/offset query returned %+v", limited)
	}
}

func TestMessageCascadeDelete(t *testing.T) {
	db := newTestDB(t)
	assistants := NewAssistantRepo(db)
	conversations := NewConversationRepo(db)
	messages := NewMessageRepo(db)
	ctx := context.Background()

	assistant := seedAssistant(t, assistants)
	conversation := seedConversation(t, conversations, assistant.ID)

	msg := &MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Role:           "user",
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	}
	if err := messages.Insert(ctx, msg); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := conversations.Delete(ctx, conversation.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := messages.GetByID(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after cascade error = %v, want ErrNotFound", err)
	}
}

func TestDocumentRepo(t *testing.T) {
	db := newTestDB(t)
	assistants := NewAssistantRepo(db)
	conversations := NewConversationRepo(db)
	documents := NewDocumentRepo(db)
	ctx := context.Background()

	assistant := seedAssistant(t, assistants)
	conversation := seedConversation(t, conversations, assistant.ID)

	document := &DocumentRecord{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Filename:       "notes.md",
		MimeType:       "text/markdown",
		Content:        "The sky is blue.",
		SizeBytes:      16,
		Metadata:       map[string]any{"origin": "upload"},
		CreatedAt:      time.Now().UTC(),
	}
	if err := documents.Insert(ctx, document); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	vectorIDs := []string{document.ID + "_0", document.ID + "_1"}
	if err := documents.SetVectorIDs(ctx, document.ID, vectorIDs); err != nil {
		t.Fatalf("SetVectorIDs() error = %v", err)
	}

	got, err := documents.GetByID(ctx, document.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.VectorIDs) != 2 || got.VectorIDs[0] != vectorIDs[0] {
		t.Errorf("VectorIDs = %v, want %v", got.VectorIDs, vectorIDs)
	}
	if got.Metadata["origin"] != "upload" {
		t.Errorf("Metadata = %v, want origin=upload", got.Metadata)
	}

	listed, err := documents.ListByConversation(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("ListByConversation() error = %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("ListByConversation() returned %d documents, want 1", len(listed))
	}

	if err := documents.Delete(ctx, document.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := documents.SetVectorIDs(ctx, document.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetVectorIDs() after delete error = %v, want ErrNotFound", err)
	}
}
