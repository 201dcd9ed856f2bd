package rag

// Source represents a retrieved chunk attached to an answer.
type Source struct {
	// ID is the stable vector ID of the chunk ("<document>_<index>").
	ID string `json:"id"`
	// Title is a short human-readable label (e.g., "Chunk 2/5").
	Title string `json:"title"`
	// Content is the chunk text, truncated for transport.
	Content string `json:"content"`
	// Score is the similarity score in [0, 1], higher is more relevant.
	Score float32 `json:"score"`
	// Provider names the retrieval backend that produced this source.
	Provider string `json:"provider"`
	// Metadata carries chunk metadata such as the owning document ID.
	Metadata map[string]any `json:"metadata,omitempty"`
}
