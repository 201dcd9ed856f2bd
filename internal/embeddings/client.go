package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
)

// ErrModelUnavailable is returned by every call when the embedding model
// could not be loaded. There is no silent fallback.
var ErrModelUnavailable = errors.New("embedding model unavailable")

const defaultBatchSize = 32

// Encoder maps text to fixed-dimension vectors. Implemented by Client and
// by the Redis-backed Cache decorator.
type Encoder interface {
	// EmbedTexts returns one vector per input text, in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedText returns the vector for a single text.
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the model's output vector size, loading the model
	// on first use.
	Dimension(ctx context.Context) (int, error)
}

// Client is a client for an OpenAI-compatible embeddings API.
// The model is resolved lazily: the first call probes the endpoint once to
// learn the vector dimension, and that outcome is sticky — if the probe
// fails, every subsequent call reports ErrModelUnavailable.
type Client struct {
	BaseURL   string
	APIKey    string
	Model     string
	BatchSize int

	client    *http.Client
	loadOnce  sync.Once
	dimension int
	loadErr   error
}

// NewClient creates a new embeddings client. batchSize bounds how many
// texts are sent per request; values below 1 fall back to the default.
func NewClient(baseURL, apiKey, model string, batchSize int) *Client {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &Client{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		Model:     model,
		BatchSize: batchSize,
		client:    http.DefaultClient,
	}
}

// load performs the one-time dimension probe.
func (c *Client) load(ctx context.Context) error {
	c.loadOnce.Do(func() {
		vectors, err := c.embedBatch(ctx, []string{"dimension probe"})
		if err != nil {
			c.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			return
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			c.loadErr = fmt.Errorf("%w: probe returned no vector", ErrModelUnavailable)
			return
		}
		c.dimension = len(vectors[0])
	})
	return c.loadErr
}

// Dimension returns the model's output vector size, loading the model on first use.
func (c *Client) Dimension(ctx context.Context) (int, error) {
	if err := c.load(ctx); err != nil {
		return 0, err
	}
	return c.dimension, nil
}

// EmbedTexts returns one vector per input text, in input order.
// Inputs are sent in batches of at most BatchSize texts.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := c.load(ctx); err != nil {
		return nil, err
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.BatchSize {
		end := start + c.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			if len(vec) != c.dimension {
				return nil, fmt.Errorf("embedding %d has size %d, expected %d", start+i, len(vec), c.dimension)
			}
		}
		result = append(result, vectors...)
	}
	return result, nil
}

// EmbedText returns the vector for a single text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// embedBatch performs one embeddings API call.
func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: c.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var embeddingsResp embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingsResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embeddingsResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embeddingsResp.Data))
	}

	result := make([][]float32, len(embeddingsResp.Data))
	for i, data := range embeddingsResp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		result[i] = vec
	}
	return result, nil
}

// CosineSimilarity computes the cosine similarity of two vectors, in [-1, 1].
// It is a pure function: no model call is involved.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
