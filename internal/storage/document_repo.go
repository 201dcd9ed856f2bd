package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// DocumentStore defines the interface for document storage operations.
type DocumentStore interface {
	// Insert inserts a document. The record's ID must be set.
	Insert(ctx context.Context, document *DocumentRecord) error
	// GetByID gets a document by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*DocumentRecord, error)
	// ListByConversation returns a conversation's documents in creation order.
	ListByConversation(ctx context.Context, conversationID string) ([]*DocumentRecord, error)
	// SetVectorIDs replaces the document's vector id list after indexing.
	SetVectorIDs(ctx context.Context, id string, vectorIDs []string) error
	// Delete removes a document row. Vector cleanup is the caller's job.
	Delete(ctx context.Context, id string) error
}

// DocumentRepo provides methods for document operations.
// It implements the DocumentStore interface.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Insert inserts a document. The record's ID must be set.
func (r *DocumentRepo) Insert(ctx context.Context, document *DocumentRecord) error {
	metadata, err := encodeJSON(document.Metadata, "{}")
	if err != nil {
		return err
	}
	vectorIDs, err := encodeJSON(document.VectorIDs, "[]")
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO documents (id, conversation_id, filename, mime_type, content,
			size_bytes, metadata, vector_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		document.ID, document.ConversationID, document.Filename, document.MimeType,
		document.Content, document.SizeBytes, metadata, vectorIDs, document.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetByID gets a document by ID. Returns ErrNotFound if absent.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, filename, mime_type, content,
			size_bytes, metadata, vector_ids, created_at
		 FROM documents WHERE id = ?`, id)

	document, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return document, nil
}

// ListByConversation returns a conversation's documents in creation order.
func (r *DocumentRepo) ListByConversation(ctx context.Context, conversationID string) ([]*DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, filename, mime_type, content,
			size_bytes, metadata, vector_ids, created_at
		 FROM documents WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var documents []*DocumentRecord
	for rows.Next() {
		document, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		documents = append(documents, document)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return documents, nil
}

// SetVectorIDs replaces the document's vector id list after indexing.
func (r *DocumentRepo) SetVectorIDs(ctx context.Context, id string, vectorIDs []string) error {
	encoded, err := encodeJSON(vectorIDs, "[]")
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE documents SET vector_ids = ? WHERE id = ?", encoded, id)
	if err != nil {
		return fmt.Errorf("failed to update document vector ids: %w", err)
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

// Delete removes a document row. Vector cleanup is the caller's job.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
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

func scanDocument(row rowScanner) (*DocumentRecord, error) {
	var (
		document  DocumentRecord
		metadata  string
		vectorIDs string
		createdAt int64
	)
	if err := row.Scan(&document.ID, &document.ConversationID, &document.Filename,
		&document.MimeType, &document.Content, &document.SizeBytes,
		&metadata, &vectorIDs, &createdAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &document.Metadata); err != nil {
		return nil, err
	}
	if err := decodeJSON(vectorIDs, &document.VectorIDs); err != nil {
		return nil, err
	}
	document.CreatedAt = fromUnixNano(createdAt)
	return &document, nil
}
