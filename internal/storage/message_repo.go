package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MessageStore defines the interface for message storage operations.
// Messages are append-only; there is deliberately no update method.
type MessageStore interface {
	// Insert inserts a message. The record's ID and CreatedAt must be set.
	Insert(ctx context.Context, message *MessageRecord) error
	// GetByID gets a message by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*MessageRecord, error)
	// ListByConversation returns messages in ascending creation order.
	// A limit of 0 means no limit.
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*MessageRecord, error)
	// ListRecent returns the newest n messages in ascending creation order.
	ListRecent(ctx context.Context, conversationID string, n int) ([]*MessageRecord, error)
}

// MessageRepo provides methods for message operations.
// It implements the MessageStore interface.
type MessageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo.
func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert inserts a message. The record's ID and CreatedAt must be set.
func (r *MessageRepo) Insert(ctx context.Context, message *MessageRecord) error {
	sources, err := encodeJSON(message.Sources, "[]")
	if err != nil {
		return err
	}
	toolCalls, err := encodeJSON(message.ToolCalls, "[]")
	if err != nil {
		return err
	}
	toolResults, err := encodeJSON(message.ToolResults, "[]")
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(message.Metadata, "{}")
	if err != nil {
		return err
	}

	var assistantID any
	if message.AssistantID != "" {
		assistantID = message.AssistantID
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, assistant_id, role, content,
			sources, tool_calls, tool_results, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.ConversationID, assistantID, message.Role, message.Content,
		sources, toolCalls, toolResults, metadata, message.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetByID gets a message by ID. Returns ErrNotFound if absent.
func (r *MessageRepo) GetByID(ctx context.Context, id string) (*MessageRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, assistant_id, role, content,
			sources, tool_calls, tool_results, metadata, created_at
		 FROM messages WHERE id = ?`, id)

	message, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return message, nil
}

// ListByConversation returns messages in ascending creation order.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*MessageRecord, error) {
	query := `SELECT id, conversation_id, assistant_id, role, content,
			sources, tool_calls, tool_results, metadata, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, id`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var messages []*MessageRecord
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return messages, nil
}

// ListRecent returns the newest n messages in ascending creation order.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, n int) ([]*MessageRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, assistant_id, role, content,
			sources, tool_calls, tool_results, metadata, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var messages []*MessageRecord
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	// Flip newest-first into ascending order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessage(row rowScanner) (*MessageRecord, error) {
	var (
		message     MessageRecord
		assistantID sql.NullString
		sources     string
		toolCalls   string
		toolResults string
		metadata    string
		createdAt   int64
	)
	if err := row.Scan(&message.ID, &message.ConversationID, &assistantID,
		&message.Role, &message.Content, &sources, &toolCalls, &toolResults,
		&metadata, &createdAt); err != nil {
		return nil, err
	}
	message.AssistantID = assistantID.String
	if err := decodeJSON(sources, &message.Sources); err != nil {
		return nil, err
	}
	if err := decodeJSON(toolCalls, &message.ToolCalls); err != nil {
		return nil, err
	}
	if err := decodeJSON(toolResults, &message.ToolResults); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &message.Metadata); err != nil {
		return nil, err
	}
	message.CreatedAt = fromUnixNano(createdAt)
	return &message, nil
}
