package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ragchat/internal/contextutil"
)

// Cache wraps an Encoder with a Redis-backed vector cache keyed by model and
// text. Cache failures are never fatal: on any Redis error the call degrades
// to the inner encoder.
type Cache struct {
	inner Encoder
	rdb   *redis.Client
	model string
	ttl   time.Duration
}

// NewCache creates a caching decorator around inner. A ttl of zero means
// entries never expire.
func NewCache(inner Encoder, rdb *redis.Client, model string, ttl time.Duration) *Cache {
	return &Cache{inner: inner, rdb: rdb, model: model, ttl: ttl}
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "|" + text))
	return fmt.Sprintf("emb:%x", sum)
}

// EmbedTexts returns one vector per input text, serving hits from Redis and
// encoding only the misses.
func (c *Cache) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	logger := contextutil.LoggerFromContext(ctx)

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("embedding cache read failed, encoding directly", "error", err)
		return c.inner.EmbedTexts(ctx, texts)
	}

	result := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, raw := range cached {
		s, ok := raw.(string)
		if !ok {
			missTexts = append(missTexts, texts[i])
			missIdx = append(missIdx, i)
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			missTexts = append(missTexts, texts[i])
			missIdx = append(missIdx, i)
			continue
		}
		result[i] = vec
	}

	if len(missTexts) > 0 {
		vectors, err := c.inner.EmbedTexts(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		pipe := c.rdb.Pipeline()
		for j, vec := range vectors {
			result[missIdx[j]] = vec
			encoded, err := json.Marshal(vec)
			if err != nil {
				continue
			}
			pipe.Set(ctx, keys[missIdx[j]], encoded, c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return result, nil
}

// EmbedText returns the vector for a single text.
func (c *Cache) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension delegates to the inner encoder.
func (c *Cache) Dimension(ctx context.Context) (int, error) {
	return c.inner.Dimension(ctx)
}
