package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ragchat/internal/embeddings"
)

// MemoryStore is an in-memory VectorStore with brute-force cosine search.
// It backs local development and tests; Qdrant is the production store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	vectorSize int
	points     map[string]Point
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

// EnsureCollection creates the collection if missing and validates the
// vector size if it already exists.
func (s *MemoryStore) EnsureCollection(_ context.Context, collection string, vectorSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[collection]; ok {
		if existing.vectorSize != vectorSize {
			return fmt.Errorf("collection vector size mismatch: expected %d, got %d", vectorSize, existing.vectorSize)
		}
		return nil
	}
	s.collections[collection] = &memoryCollection{
		vectorSize: vectorSize,
		points:     make(map[string]Point),
	}
	return nil
}

// CollectionExists checks if a collection exists.
func (s *MemoryStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection]
	return ok, nil
}

// Upsert inserts or updates points in the collection.
func (s *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	for _, point := range points {
		if len(point.Vec) != coll.vectorSize {
			return fmt.Errorf("point %s has vector size %d, expected %d", point.ID, len(point.Vec), coll.vectorSize)
		}
		coll.points[point.ID] = point
	}
	return nil
}

// Query performs a brute-force cosine similarity search. A missing
// collection yields no hits.
func (s *MemoryStore) Query(_ context.Context, collection string, query []float32, k int) ([]QueryResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return []QueryResult{}, nil
	}

	results := make([]QueryResult, 0, len(coll.points))
	for _, point := range coll.points {
		meta := make(map[string]any, len(point.Meta))
		for key, value := range point.Meta {
			meta[key] = value
		}
		results = append(results, QueryResult{
			PointID: point.ID,
			Score:   clampScore(embeddings.CosineSimilarity(query, point.Vec)),
			Meta:    meta,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes points by their IDs. Missing IDs are ignored.
func (s *MemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(coll.points, id)
	}
	return nil
}

// DeleteCollection removes the whole collection.
func (s *MemoryStore) DeleteCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return nil
}

// Count returns the number of points in the collection.
func (s *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	return len(coll.points), nil
}
