package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_stores.go -package=mocks ragchat/internal/storage AssistantStore,ConversationStore,MessageStore,DocumentStore

import (
	"context"
	"database/sql"
	"fmt"
)

// AssistantStore defines the interface for assistant storage operations.
type AssistantStore interface {
	// Insert inserts an assistant. The record's ID must be set.
	Insert(ctx context.Context, assistant *AssistantRecord) error
	// GetByID gets an assistant by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*AssistantRecord, error)
	// List returns all assistants ordered by creation time.
	List(ctx context.Context) ([]*AssistantRecord, error)
}

// AssistantRepo provides methods for assistant operations.
// It implements the AssistantStore interface.
type AssistantRepo struct {
	db *sql.DB
}

// NewAssistantRepo creates a new AssistantRepo.
func NewAssistantRepo(db *sql.DB) *AssistantRepo {
	return &AssistantRepo{db: db}
}

// Insert inserts an assistant. The record's ID must be set.
func (r *AssistantRepo) Insert(ctx context.Context, assistant *AssistantRecord) error {
	metadata, err := encodeJSON(assistant.Metadata, "{}")
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO assistants (id, name, model, temperature, system_prompt, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		assistant.ID, assistant.Name, assistant.Model, assistant.Temperature,
		assistant.SystemPrompt, metadata, assistant.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assistant: %w", err)
	}
	return nil
}

// GetByID gets an assistant by ID. Returns ErrNotFound if absent.
func (r *AssistantRepo) GetByID(ctx context.Context, id string) (*AssistantRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, model, temperature, system_prompt, metadata, created_at
		 FROM assistants WHERE id = ?`, id)

	assistant, err := scanAssistant(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assistant: %w", err)
	}
	return assistant, nil
}

// List returns all assistants ordered by creation time.
func (r *AssistantRepo) List(ctx context.Context) ([]*AssistantRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, model, temperature, system_prompt, metadata, created_at
		 FROM assistants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assistants: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var assistants []*AssistantRecord
	for rows.Next() {
		assistant, err := scanAssistant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assistant: %w", err)
		}
		assistants = append(assistants, assistant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return assistants, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssistant(row rowScanner) (*AssistantRecord, error) {
	var (
		assistant AssistantRecord
		metadata  string
		createdAt int64
	)
	if err := row.Scan(&assistant.ID, &assistant.Name, &assistant.Model,
		&assistant.Temperature, &assistant.SystemPrompt, &metadata, &createdAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &assistant.Metadata); err != nil {
		return nil, err
	}
	assistant.CreatedAt = fromUnixNano(createdAt)
	return &assistant, nil
}
