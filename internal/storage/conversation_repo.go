package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ConversationStore defines the interface for conversation storage operations.
type ConversationStore interface {
	// Insert inserts a conversation. The record's ID must be set.
	Insert(ctx context.Context, conversation *ConversationRecord) error
	// GetByID gets a conversation by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*ConversationRecord, error)
	// ListByUser returns the user's conversations, most recently updated first.
	ListByUser(ctx context.Context, userID string) ([]*ConversationRecord, error)
	// UpdateTitle replaces the conversation title.
	UpdateTitle(ctx context.Context, id, title string) error
	// UpdateMetadata replaces the conversation metadata map.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	// Touch advances the conversation's updated_at timestamp.
	Touch(ctx context.Context, id string, at time.Time) error
	// Delete removes a conversation. Messages and documents cascade.
	Delete(ctx context.Context, id string) error
}

// ConversationRepo provides methods for conversation operations.
// It implements the ConversationStore interface.
type ConversationRepo struct {
	db *sql.DB
}

// NewConversationRepo creates a new ConversationRepo.
func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Insert inserts a conversation. The record's ID must be set.
func (r *ConversationRepo) Insert(ctx context.Context, conversation *ConversationRecord) error {
	metadata, err := encodeJSON(conversation.Metadata, "{}")
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, assistant_id, title, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversation.ID, conversation.UserID, conversation.AssistantID, conversation.Title,
		metadata, conversation.CreatedAt.UnixNano(), conversation.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetByID gets a conversation by ID. Returns ErrNotFound if absent.
func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*ConversationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, assistant_id, title, metadata, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)

	conversation, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conversation, nil
}

// ListByUser returns the user's conversations, most recently updated first.
func (r *ConversationRepo) ListByUser(ctx context.Context, userID string) ([]*ConversationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, assistant_id, title, metadata, created_at, updated_at
		 FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var conversations []*ConversationRecord
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return conversations, nil
}

// UpdateTitle replaces the conversation title.
func (r *ConversationRepo) UpdateTitle(ctx context.Context, id, title string) error {
	return r.update(ctx, id, "UPDATE conversations SET title = ? WHERE id = ?", title, id)
}

// UpdateMetadata replaces the conversation metadata map.
func (r *ConversationRepo) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	encoded, err := encodeJSON(metadata, "{}")
	if err != nil {
		return err
	}
	return r.update(ctx, id, "UPDATE conversations SET metadata = ? WHERE id = ?", encoded, id)
}

// Touch advances the conversation's updated_at timestamp.
func (r *ConversationRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, "UPDATE conversations SET updated_at = ? WHERE id = ?", at.UnixNano(), id)
}

// Delete removes a conversation. Messages and documents cascade.
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) update(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row rowScanner) (*ConversationRecord, error) {
	var (
		conversation ConversationRecord
		metadata     string
		createdAt    int64
		updatedAt    int64
	)
	if err := row.Scan(&conversation.ID, &conversation.UserID, &conversation.AssistantID,
		&conversation.Title, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &conversation.Metadata); err != nil {
		return nil, err
	}
	conversation.CreatedAt = fromUnixNano(createdAt)
	conversation.UpdatedAt = fromUnixNano(updatedAt)
	return &conversation, nil
}
