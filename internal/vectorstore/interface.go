package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks ragchat/internal/vectorstore VectorStore

import (
	"context"
	"strings"
)

// Point represents a vector point with metadata.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// QueryResult represents a single similarity search hit. Score is a
// similarity in [0, 1], higher is more similar.
type QueryResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// VectorStore defines the interface for vector storage operations.
// Collections isolate conversations from each other; querying a collection
// that does not exist returns no results rather than an error.
type VectorStore interface {
	// EnsureCollection creates the collection with the given vector size if
	// it does not exist, and validates the size if it does.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error

	// CollectionExists checks if a collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// Upsert inserts or updates points in the collection. Re-upserting an
	// existing point ID replaces it.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Query performs a similarity search returning up to k hits ordered by
	// descending score.
	Query(ctx context.Context, collection string, query []float32, k int) ([]QueryResult, error)

	// Delete removes points by their IDs.
	Delete(ctx context.Context, collection string, ids []string) error

	// DeleteCollection removes the whole collection. Deleting a missing
	// collection is not an error.
	DeleteCollection(ctx context.Context, collection string) error

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (int, error)
}

// CollectionName derives the per-conversation collection name. Any character
// outside [a-zA-Z0-9] is replaced with '_' so conversation UUIDs produce
// valid collection names.
func CollectionName(conversationID string) string {
	var b strings.Builder
	b.Grow(len(conversationID) + 5)
	b.WriteString("conv_")
	for _, r := range conversationID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
